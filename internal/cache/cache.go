// Package cache implements the persisted, TTL-bounded book cache consulted
// before every upstream catalog search.
//
// The cache is fail-open: storage problems are logged and reported through the
// Status of each result, and the caller proceeds as if the cache were empty.
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/bibliored/bibliored-server/internal/config"
	"github.com/bibliored/bibliored-server/internal/domain"
	"github.com/bibliored/bibliored-server/internal/id"
	"github.com/bibliored/bibliored-server/internal/metrics"
	"github.com/bibliored/bibliored-server/internal/normalize"
	"github.com/bibliored/bibliored-server/internal/relevance"
)

const (
	// MaxResults caps the books returned by a lookup.
	MaxResults = 40

	// StaleRetention is how long a book may go unread before eviction.
	StaleRetention = 30 * 24 * time.Hour
)

// Backend is the persistence the cache runs on. *sqlite.Store implements it.
type Backend interface {
	FindByTerm(ctx context.Context, term string, now time.Time, limit int) ([]domain.CachedBook, error)
	ListActive(ctx context.Context, now time.Time) ([]domain.CachedBook, error)
	TouchAccessed(ctx context.Context, ids []string, at time.Time) error
	InsertBooks(ctx context.Context, term string, books []domain.CachedBook, at time.Time) (int64, error)
}

// Status tells the caller whether the cache was consulted successfully.
type Status string

// Result statuses.
const (
	StatusOK          Status = "ok"
	StatusUnavailable Status = "unavailable"
	StatusError       Status = "error"
)

// Match describes which lookup pass produced the books.
type Match string

// Lookup match kinds.
const (
	MatchExact     Match = "exact"
	MatchRelevance Match = "relevance"
	MatchNone      Match = "none"
)

// LookupResult is the outcome of a cache lookup.
type LookupResult struct {
	Books  []domain.CachedBook
	Match  Match
	Status Status
	Err    error
}

// Hit reports whether the lookup returned any books.
func (r LookupResult) Hit() bool {
	return len(r.Books) > 0
}

// InsertResult is the outcome of a cache insert. Books holds the converted
// rows even when they could not be stored.
type InsertResult struct {
	Books    []domain.CachedBook
	Inserted int64
	Status   Status
	Err      error
}

// Store is the cache used by the search pipeline.
type Store struct {
	backend Backend
	ttl     time.Duration
	logger  *slog.Logger

	now   func() time.Time
	newID func() (string, error)
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides book ID generation.
func WithIDGenerator(gen func() (string, error)) Option {
	return func(s *Store) { s.newID = gen }
}

// New creates a cache over backend. A nil backend yields a cache that reports
// StatusUnavailable for every operation.
func New(backend Backend, cfg config.CacheConfig, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		ttl:     cfg.TTL(),
		logger:  logger,
		now:     time.Now,
		newID:   id.Book,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available reports whether a backend is configured.
func (s *Store) Available() bool {
	return s.backend != nil
}

// Now returns the cache's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// Lookup returns cached books for rawTerm, most recently cached first.
//
// An exact match on the normalized term is tried first. If it finds nothing,
// every non-expired book is scored against the term and the admitted ones are
// returned. Returned books have their last access bumped on a best-effort basis.
func (s *Store) Lookup(ctx context.Context, rawTerm string) LookupResult {
	res := s.lookup(ctx, rawTerm)
	metrics.ObserveCacheLookup(string(res.Match), string(res.Status))
	return res
}

func (s *Store) lookup(ctx context.Context, rawTerm string) LookupResult {
	if s.backend == nil {
		return LookupResult{Match: MatchNone, Status: StatusUnavailable}
	}

	term := normalize.Text(rawTerm)
	if term == "" {
		return LookupResult{Match: MatchNone, Status: StatusOK}
	}

	now := s.now()

	books, err := s.backend.FindByTerm(ctx, term, now, MaxResults)
	if err != nil {
		s.logger.Error("Cache lookup failed", "term", term, "pass", MatchExact, "error", err)
		return LookupResult{Match: MatchNone, Status: StatusError, Err: err}
	}

	match := MatchExact
	if len(books) == 0 {
		active, err := s.backend.ListActive(ctx, now)
		if err != nil {
			s.logger.Error("Cache lookup failed", "term", term, "pass", MatchRelevance, "error", err)
			return LookupResult{Match: MatchNone, Status: StatusError, Err: err}
		}
		books = relevance.Items(relevance.Filter(term, active, bookFields, MaxResults))
		match = MatchRelevance
	}

	if len(books) == 0 {
		return LookupResult{Match: MatchNone, Status: StatusOK}
	}

	s.touch(ctx, books, now)

	s.logger.Debug("Cache hit", "term", term, "match", match, "books", len(books))
	return LookupResult{Books: books, Match: match, Status: StatusOK}
}

// touch bumps LastAccessed in storage and on the returned books.
// A failure is logged and does not affect the lookup.
func (s *Store) touch(ctx context.Context, books []domain.CachedBook, now time.Time) {
	ids := make([]string, len(books))
	for i := range books {
		ids[i] = books[i].ID
	}

	if err := s.backend.TouchAccessed(ctx, ids, now); err != nil {
		s.logger.Warn("Failed to update last access", "books", len(ids), "error", err)
		return
	}

	for i := range books {
		books[i].LastAccessed = now
	}
}

// Insert caches books under rawTerm and bumps the query's search stats.
// An empty list is a no-op. Storage errors are logged and reported in the
// result; the converted books are returned either way.
func (s *Store) Insert(ctx context.Context, rawTerm string, books []domain.CandidateBook, sourceURL string) InsertResult {
	if len(books) == 0 {
		return InsertResult{Status: StatusOK}
	}

	term := normalize.Text(rawTerm)
	now := s.now()

	rows := make([]domain.CachedBook, 0, len(books))
	var idErr error
	for _, c := range books {
		bookID, err := s.newID()
		if err != nil && idErr == nil {
			idErr = err
		}
		rows = append(rows, domain.NewCachedBook(c, bookID, term, sourceURL, now, s.ttl))
	}

	// Rows without an ID cannot be stored but are still returned to the caller.
	if idErr != nil {
		s.logger.Error("Failed to generate book id", "term", term, "error", idErr)
		metrics.ObserveCacheInsert(string(StatusError), len(rows))
		return InsertResult{Books: rows, Status: StatusError, Err: idErr}
	}

	if s.backend == nil {
		metrics.ObserveCacheInsert(string(StatusUnavailable), len(rows))
		return InsertResult{Books: rows, Status: StatusUnavailable}
	}

	inserted, err := s.backend.InsertBooks(ctx, term, rows, now)
	if err != nil {
		s.logger.Error("Cache insert failed", "term", term, "books", len(rows), "error", err)
		metrics.ObserveCacheInsert(string(StatusError), len(rows))
		return InsertResult{Books: rows, Status: StatusError, Err: err}
	}

	s.logger.Debug("Cached search results", "term", term, "inserted", inserted, "expires_at", now.Add(s.ttl))
	metrics.ObserveCacheInsert(string(StatusOK), int(inserted))
	return InsertResult{Books: rows, Inserted: inserted, Status: StatusOK}
}

func bookFields(b domain.CachedBook) (title, author string) {
	return b.Title, b.Author
}
