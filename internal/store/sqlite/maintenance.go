package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bibliored/bibliored-server/internal/domain"
)

// DeleteExpired deletes all books whose expires_at is before now.
// Returns the number of books deleted.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM cached_books WHERE expires_at < ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired books: %w", err)
	}
	return result.RowsAffected()
}

// DeleteStale deletes all books not accessed since cutoff, expired or not.
// Returns the number of books deleted.
func (s *Store) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM cached_books WHERE last_accessed < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete stale books: %w", err)
	}
	return result.RowsAffected()
}

// Stats summarizes the cache contents at now. MaxSize and OverCapacity are
// left for the caller, which owns the configured limit.
func (s *Store) Stats(ctx context.Context, now time.Time) (domain.CacheStats, error) {
	var (
		stats  domain.CacheStats
		oldest sql.NullString
		newest sql.NullString
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN expires_at >= ? THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT search_term),
			MIN(cached_at),
			MAX(cached_at)
		FROM cached_books`, formatTime(now)).
		Scan(&stats.TotalBooks, &stats.ActiveBooks, &stats.DistinctTerms, &oldest, &newest)
	if err != nil {
		return stats, fmt.Errorf("book stats: %w", err)
	}
	stats.ExpiredBooks = stats.TotalBooks - stats.ActiveBooks

	if stats.OldestCached, err = parseNullableTime(oldest); err != nil {
		return stats, fmt.Errorf("parse oldest cached_at: %w", err)
	}
	if stats.NewestCached, err = parseNullableTime(newest); err != nil {
		return stats, fmt.Errorf("parse newest cached_at: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM search_query_stats`).Scan(&stats.TrackedQueries); err != nil {
		return stats, fmt.Errorf("query stats count: %w", err)
	}

	return stats, nil
}
