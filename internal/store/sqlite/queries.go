package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bibliored/bibliored-server/internal/domain"
)

// recordQuery upserts the stat row for query: search_count is incremented,
// result_count and last_searched are overwritten.
func recordQuery(ctx context.Context, tx *sql.Tx, query string, resultCount int, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO search_query_stats (query, result_count, search_count, last_searched)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(query) DO UPDATE SET
			result_count = excluded.result_count,
			search_count = search_query_stats.search_count + 1,
			last_searched = excluded.last_searched`,
		query, resultCount, formatTime(at))
	if err != nil {
		return fmt.Errorf("record query stat: %w", err)
	}
	return nil
}

// GetQueryStat returns the stat row for a normalized query, or sql.ErrNoRows.
func (s *Store) GetQueryStat(ctx context.Context, query string) (domain.SearchQueryStat, error) {
	var (
		stat         domain.SearchQueryStat
		lastSearched string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT query, result_count, search_count, last_searched
		FROM search_query_stats WHERE query = ?`, query).
		Scan(&stat.Query, &stat.ResultCount, &stat.SearchCount, &lastSearched)
	if err != nil {
		return stat, err
	}
	if stat.LastSearched, err = parseTime(lastSearched); err != nil {
		return stat, fmt.Errorf("parse last_searched: %w", err)
	}
	return stat, nil
}

// TopQueries returns the most searched queries, ties broken by recency.
func (s *Store) TopQueries(ctx context.Context, limit int) ([]domain.SearchQueryStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT query, result_count, search_count, last_searched
		FROM search_query_stats
		ORDER BY search_count DESC, last_searched DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("top queries: %w", err)
	}
	defer rows.Close()

	stats := make([]domain.SearchQueryStat, 0, limit)
	for rows.Next() {
		var (
			stat         domain.SearchQueryStat
			lastSearched string
		)
		if err := rows.Scan(&stat.Query, &stat.ResultCount, &stat.SearchCount, &lastSearched); err != nil {
			return nil, err
		}
		if stat.LastSearched, err = parseTime(lastSearched); err != nil {
			return nil, fmt.Errorf("parse last_searched: %w", err)
		}
		stats = append(stats, stat)
	}
	return stats, rows.Err()
}
