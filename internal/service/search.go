package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/bibliored/bibliored-server/internal/cache"
	"github.com/bibliored/bibliored-server/internal/catalog"
	"github.com/bibliored/bibliored-server/internal/domain"
	domainerrors "github.com/bibliored/bibliored-server/internal/errors"
	"github.com/bibliored/bibliored-server/internal/metrics"
	"github.com/bibliored/bibliored-server/internal/normalize"
	"github.com/bibliored/bibliored-server/internal/relevance"
	"github.com/bibliored/bibliored-server/internal/validation"
)

// maxSearchResults caps the books returned for a catalog search.
const maxSearchResults = 40

// flightAttempts bounds how often a caller joins a flight whose leader gave up.
const flightAttempts = 2

// Source tells where the books of a search came from.
type Source string

// Search sources.
const (
	SourceCache   Source = "cache"
	SourceCatalog Source = "catalog"
)

// Retriever fetches raw candidate rows from the upstream catalog.
// *catalog.Client implements it.
type Retriever interface {
	FetchAndParse(ctx context.Context, term string) (*catalog.Result, error)
}

// SearchInput is the validated search request.
type SearchInput struct {
	Term string `json:"term" validate:"required,notblank,max=200"`
}

// SearchOutcome is the result of a successful search.
type SearchOutcome struct {
	SearchID        string
	Query           string
	NormalizedQuery string
	Books           []domain.CachedBook
	Source          Source
	CacheHit        bool
	// Match is the cache pass that produced the books; empty for catalog results.
	Match cache.Match
	// Row counts and SourceURL describe the catalog page; zero for cache hits.
	RowsSeen     int
	RowsAdmitted int
	RowsSkipped  int
	SourceURL    string
	Took         time.Duration
	// Shared is set when another caller's in-flight catalog fetch answered this search.
	Shared bool
}

// fetchResult is what a catalog flight hands to every caller waiting on it.
type fetchResult struct {
	books        []domain.CachedBook
	rowsSeen     int
	rowsAdmitted int
	rowsSkipped  int
	sourceURL    string
}

// SearchService runs the search pipeline: cache lookup, then on a miss a
// catalog fetch that is scored, truncated, and written back to the cache.
type SearchService struct {
	cache     *cache.Store
	catalog   Retriever
	validator *validation.Validator
	logger    *slog.Logger

	flight singleflight.Group
}

// NewSearchService creates a new search service.
func NewSearchService(
	cacheStore *cache.Store,
	retriever Retriever,
	validator *validation.Validator,
	logger *slog.Logger,
) *SearchService {
	return &SearchService{
		cache:     cacheStore,
		catalog:   retriever,
		validator: validator,
		logger:    logger,
	}
}

// Search answers a search for rawTerm.
//
// Errors: validation (400) for input problems, not found (404) when the
// catalog answered but nothing was relevant, unavailable (503) when the
// catalog could not be reached. Cache problems never fail a search.
func (s *SearchService) Search(ctx context.Context, rawTerm string) (*SearchOutcome, error) {
	start := time.Now()

	if err := s.validator.Validate(SearchInput{Term: rawTerm}); err != nil {
		metrics.ObserveSearch("none", "invalid", time.Since(start), false)
		return nil, err
	}

	normalized := normalize.Text(rawTerm)
	if normalized == "" {
		metrics.ObserveSearch("none", "invalid", time.Since(start), false)
		return nil, domainerrors.ValidationWithDetails(
			"term must contain at least one letter or digit",
			map[string]string{"term": "must contain at least one letter or digit"},
		)
	}

	outcome := &SearchOutcome{
		SearchID:        uuid.NewString(),
		Query:           rawTerm,
		NormalizedQuery: normalized,
	}

	lookup := s.cache.Lookup(ctx, rawTerm)
	if lookup.Hit() {
		outcome.Books = lookup.Books
		outcome.Source = SourceCache
		outcome.CacheHit = true
		outcome.Match = lookup.Match
		outcome.Took = time.Since(start)

		metrics.ObserveSearch(string(SourceCache), "ok", outcome.Took, false)
		s.logger.Info("Search served from cache",
			"search_id", outcome.SearchID,
			"term", normalized,
			"match", lookup.Match,
			"books", len(outcome.Books),
			"took", outcome.Took,
		)
		return outcome, nil
	}

	res, shared, err := s.fetchShared(ctx, rawTerm, normalized)
	took := time.Since(start)
	if err != nil {
		metrics.ObserveSearch(string(SourceCatalog), searchErrorOutcome(err), took, shared)
		return nil, err
	}

	outcome.Books = res.books
	outcome.Source = SourceCatalog
	outcome.RowsSeen = res.rowsSeen
	outcome.RowsAdmitted = res.rowsAdmitted
	outcome.RowsSkipped = res.rowsSkipped
	outcome.SourceURL = res.sourceURL
	outcome.Shared = shared
	outcome.Took = took

	metrics.ObserveSearch(string(SourceCatalog), "ok", took, shared)
	s.logger.Info("Search served from catalog",
		"search_id", outcome.SearchID,
		"term", normalized,
		"books", len(outcome.Books),
		"rows_seen", res.rowsSeen,
		"shared", shared,
		"took", took,
	)
	return outcome, nil
}

// fetchShared runs at most one catalog fetch per normalized term at a time.
// Every caller waits on its own ctx. When the leader of a flight gave up and
// this caller is still waiting, it starts a new flight once.
func (s *SearchService) fetchShared(ctx context.Context, rawTerm, normalized string) (*fetchResult, bool, error) {
	var lastErr error

	for range flightAttempts {
		led := false
		ch := s.flight.DoChan(normalized, func() (any, error) {
			led = true
			return s.fetch(ctx, rawTerm, normalized)
		})

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case r := <-ch:
			shared := !led
			if r.Err == nil {
				return r.Val.(*fetchResult), shared, nil
			}
			lastErr = r.Err
			if shared && catalog.IsCanceled(r.Err) && ctx.Err() == nil {
				s.logger.Debug("Catalog flight abandoned by its leader, retrying", "term", normalized)
				continue
			}
			return nil, shared, r.Err
		}
	}

	return nil, true, lastErr
}

// fetch queries the catalog, ranks the candidates, and caches the admitted ones.
func (s *SearchService) fetch(ctx context.Context, rawTerm, normalized string) (*fetchResult, error) {
	res, err := s.catalog.FetchAndParse(ctx, strings.TrimSpace(rawTerm))
	if err != nil {
		if catalog.IsCanceled(err) {
			return nil, err
		}
		s.logger.Error("Catalog retrieval failed", "term", normalized, "error", err)
		return nil, domainerrors.Unavailable("search temporarily unavailable").WithCause(err)
	}

	candidates := make([]domain.CandidateBook, len(res.Candidates))
	for i, raw := range res.Candidates {
		candidates[i] = raw.Candidate()
	}

	ranked := relevance.Rank(normalized, candidates, candidateFields, 0)
	admitted := len(ranked)
	if admitted > maxSearchResults {
		ranked = ranked[:maxSearchResults]
	}

	if admitted == 0 {
		s.logger.Info("No relevant catalog results",
			"term", normalized,
			"rows_seen", res.RowsSeen(),
			"rows_skipped", res.Skipped,
		)
		return nil, domainerrors.NotFound("no results for this term").WithDetails(map[string]int{
			"rows_seen":     res.RowsSeen(),
			"rows_admitted": 0,
			"rows_skipped":  res.Skipped,
		})
	}

	// The fetch already happened; persist it even if the caller has gone.
	ins := s.cache.Insert(context.WithoutCancel(ctx), rawTerm, relevance.Items(ranked), res.SourceURL)
	if ins.Status != cache.StatusOK {
		s.logger.Warn("Search results not cached", "term", normalized, "status", ins.Status)
	}

	return &fetchResult{
		books:        ins.Books,
		rowsSeen:     res.RowsSeen(),
		rowsAdmitted: admitted,
		rowsSkipped:  res.Skipped,
		sourceURL:    res.SourceURL,
	}, nil
}

func candidateFields(c domain.CandidateBook) (title, author string) {
	return c.Title, c.Author
}

func searchErrorOutcome(err error) string {
	switch {
	case errors.Is(err, domainerrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, domainerrors.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
