package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/bibliored/bibliored-server/internal/domain"
)

// bookColumns is the ordered list of columns selected in book queries.
// Must match the scan order in scanBook.
const bookColumns = `id, title, author, availability, library, detail_url, doc_number,
	search_term, source_url, cached_at, last_accessed, expires_at`

// touchChunkSize keeps UPDATE ... IN (...) below SQLite's variable limit.
const touchChunkSize = 500

// scanBook scans a sql.Row (or sql.Rows via its Scan method) into a domain.CachedBook.
func scanBook(scanner interface{ Scan(dest ...any) error }) (domain.CachedBook, error) {
	var (
		b            domain.CachedBook
		detailURL    sql.NullString
		docNumber    sql.NullString
		cachedAt     string
		lastAccessed string
		expiresAt    string
	)

	err := scanner.Scan(
		&b.ID,
		&b.Title,
		&b.Author,
		&b.Availability,
		&b.Library,
		&detailURL,
		&docNumber,
		&b.SearchTerm,
		&b.SourceURL,
		&cachedAt,
		&lastAccessed,
		&expiresAt,
	)
	if err != nil {
		return b, err
	}

	b.DetailURL = detailURL.String
	b.DocNumber = docNumber.String

	if b.CachedAt, err = parseTime(cachedAt); err != nil {
		return b, fmt.Errorf("parse cached_at: %w", err)
	}
	if b.LastAccessed, err = parseTime(lastAccessed); err != nil {
		return b, fmt.Errorf("parse last_accessed: %w", err)
	}
	if b.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return b, fmt.Errorf("parse expires_at: %w", err)
	}

	return b, nil
}

func (s *Store) queryBooks(ctx context.Context, query string, args ...any) ([]domain.CachedBook, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []domain.CachedBook
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// FindByTerm returns non-expired books cached under the exact normalized term,
// most recently cached first. Rows from the same insert keep their insertion order.
// limit <= 0 means no limit.
func (s *Store) FindByTerm(ctx context.Context, term string, now time.Time, limit int) ([]domain.CachedBook, error) {
	if limit <= 0 {
		limit = -1
	}

	books, err := s.queryBooks(ctx,
		`SELECT `+bookColumns+` FROM cached_books
		WHERE search_term = ? AND expires_at >= ?
		ORDER BY cached_at DESC, rowid ASC
		LIMIT ?`,
		term, formatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("find books by term: %w", err)
	}
	return books, nil
}

// ListActive returns every non-expired book, most recently cached first.
func (s *Store) ListActive(ctx context.Context, now time.Time) ([]domain.CachedBook, error) {
	books, err := s.queryBooks(ctx,
		`SELECT `+bookColumns+` FROM cached_books
		WHERE expires_at >= ?
		ORDER BY cached_at DESC, rowid ASC`,
		formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("list active books: %w", err)
	}
	return books, nil
}

// GetBook returns a single cached book by ID, or sql.ErrNoRows.
func (s *Store) GetBook(ctx context.Context, id string) (domain.CachedBook, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM cached_books WHERE id = ?`, id)
	return scanBook(row)
}

// TouchAccessed sets last_accessed for the given book IDs.
func (s *Store) TouchAccessed(ctx context.Context, ids []string, at time.Time) error {
	ts := formatTime(at)

	for start := 0; start < len(ids); start += touchChunkSize {
		end := min(start+touchChunkSize, len(ids))
		chunk := ids[start:end]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, ts)
		for _, id := range chunk {
			args = append(args, id)
		}

		query := `UPDATE cached_books SET last_accessed = ? WHERE id IN (` +
			strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",") + `)`
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("touch books: %w", err)
		}
	}
	return nil
}

// InsertBooks stores books and bumps the query stat for term in one transaction.
// Rows whose ID already exists are skipped. Returns the number of rows inserted.
func (s *Store) InsertBooks(ctx context.Context, term string, books []domain.CachedBook, at time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO cached_books (`+bookColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, b := range books {
		res, err := stmt.ExecContext(ctx,
			b.ID,
			b.Title,
			b.Author,
			b.Availability,
			b.Library,
			nullString(b.DetailURL),
			nullString(b.DocNumber),
			b.SearchTerm,
			b.SourceURL,
			formatTime(b.CachedAt),
			formatTime(b.LastAccessed),
			formatTime(b.ExpiresAt),
		)
		if err != nil {
			return 0, fmt.Errorf("insert book %s: %w", b.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += n
	}

	if err := recordQuery(ctx, tx, term, len(books), at); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	if skipped := int64(len(books)) - inserted; skipped > 0 {
		s.logger.Debug("Skipped duplicate cached books", "term", term, "skipped", skipped)
	}

	return inserted, nil
}
