package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/bibliored/bibliored-server/internal/domain"
	"github.com/bibliored/bibliored-server/internal/service"
)

func (s *Server) registerSearchRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "search",
		Method:      http.MethodGet,
		Path:        "/api/v1/search",
		Summary:     "Search the catalog",
		Description: "Searches the public library catalog, answering from the cache when possible",
		Tags:        []string{"Search"},
		Middlewares: huma.Middlewares{s.rateLimitSearch},
	}, s.handleSearch)

	huma.Register(s.api, huma.Operation{
		OperationID: "searchPost",
		Method:      http.MethodPost,
		Path:        "/api/v1/search",
		Summary:     "Search the catalog",
		Description: "Same as GET /api/v1/search, with the term in a JSON body",
		Tags:        []string{"Search"},
		Middlewares: huma.Middlewares{s.rateLimitSearch},
	}, s.handleSearchPost)

	huma.Register(s.api, huma.Operation{
		OperationID: "popularQueries",
		Method:      http.MethodGet,
		Path:        "/api/v1/search/popular",
		Summary:     "Popular searches",
		Description: "Returns the most searched terms that reached the catalog",
		Tags:        []string{"Search"},
	}, s.handlePopularQueries)
}

// === DTOs ===

// SearchInput contains the query-string form of a search.
type SearchInput struct {
	Query string `query:"q" maxLength:"200" doc:"Search term"`
}

// SearchPostInput contains the body form of a search.
type SearchPostInput struct {
	Body struct {
		Term string `json:"term,omitempty" maxLength:"200" doc:"Search term"`
	}
}

// BookResponse is a cached catalog record in API responses.
type BookResponse struct {
	ID           string    `json:"id" doc:"Book ID"`
	Title        string    `json:"title" doc:"Title as shown by the catalog"`
	Author       string    `json:"author" doc:"Author as shown by the catalog"`
	Availability string    `json:"availability,omitempty" doc:"Availability text"`
	Library      string    `json:"library,omitempty" doc:"Holding library"`
	DetailURL    string    `json:"detail_url,omitempty" doc:"Catalog deep link, when the record has a document number"`
	DocNumber    string    `json:"doc_number,omitempty" doc:"9-digit catalog document number"`
	CachedAt     time.Time `json:"cached_at" doc:"When the record was cached"`
	ExpiresAt    time.Time `json:"expires_at" doc:"When the cached record expires"`
}

// SearchResponse contains search results.
type SearchResponse struct {
	SearchID        string         `json:"search_id" doc:"Unique ID of this search"`
	Query           string         `json:"query" doc:"Search term as received"`
	NormalizedQuery string         `json:"normalized_query" doc:"Search term after normalization"`
	Books           []BookResponse `json:"books" doc:"Matching books, most relevant first"`
	Count           int            `json:"count" doc:"Number of books returned"`
	CacheHit        bool           `json:"cache_hit" doc:"Whether the books came from the cache"`
	Source          string         `json:"source" doc:"cache or catalog"`
	Match           string         `json:"match,omitempty" doc:"Cache pass that matched: exact or relevance"`
	SourceURL       string         `json:"source_url,omitempty" doc:"Catalog URL queried"`
	TookMs          int64          `json:"took_ms" doc:"Search duration in milliseconds"`
	Shared          bool           `json:"shared" doc:"Whether a concurrent identical search answered this one"`
}

// SearchOutput wraps the search response for Huma.
type SearchOutput struct {
	Body SearchResponse
}

// PopularQueriesInput contains parameters for listing popular searches.
type PopularQueriesInput struct {
	Limit int `query:"limit" doc:"Number of terms to return, 1-100 (default 10)"`
}

// PopularQuery is one entry of the popular searches list.
type PopularQuery struct {
	Query        string    `json:"query" doc:"Normalized search term"`
	SearchCount  int       `json:"search_count" doc:"Times the term reached the catalog"`
	ResultCount  int       `json:"result_count" doc:"Books cached by the latest search"`
	LastSearched time.Time `json:"last_searched" doc:"Latest search time"`
}

// PopularQueriesResponse contains the popular searches list.
type PopularQueriesResponse struct {
	Queries []PopularQuery `json:"queries" doc:"Most searched terms first"`
}

// PopularQueriesOutput wraps the popular searches response for Huma.
type PopularQueriesOutput struct {
	Body PopularQueriesResponse
}

// === Handlers ===

func (s *Server) handleSearch(ctx context.Context, input *SearchInput) (*SearchOutput, error) {
	return s.search(ctx, input.Query)
}

func (s *Server) handleSearchPost(ctx context.Context, input *SearchPostInput) (*SearchOutput, error) {
	return s.search(ctx, input.Body.Term)
}

func (s *Server) search(ctx context.Context, term string) (*SearchOutput, error) {
	out, err := s.services.Search.Search(ctx, term)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &SearchOutput{Body: toSearchResponse(out)}, nil
}

func (s *Server) handlePopularQueries(ctx context.Context, input *PopularQueriesInput) (*PopularQueriesOutput, error) {
	stats, err := s.services.Maintenance.PopularQueries(ctx, input.Limit)
	if err != nil {
		return nil, toAPIError(err)
	}

	queries := make([]PopularQuery, len(stats))
	for i, st := range stats {
		queries[i] = PopularQuery{
			Query:        st.Query,
			SearchCount:  st.SearchCount,
			ResultCount:  st.ResultCount,
			LastSearched: st.LastSearched,
		}
	}

	return &PopularQueriesOutput{Body: PopularQueriesResponse{Queries: queries}}, nil
}

// === Mappers ===

func toSearchResponse(out *service.SearchOutcome) SearchResponse {
	books := make([]BookResponse, len(out.Books))
	for i, b := range out.Books {
		books[i] = toBookResponse(b)
	}

	return SearchResponse{
		SearchID:        out.SearchID,
		Query:           out.Query,
		NormalizedQuery: out.NormalizedQuery,
		Books:           books,
		Count:           len(books),
		CacheHit:        out.CacheHit,
		Source:          string(out.Source),
		Match:           string(out.Match),
		SourceURL:       out.SourceURL,
		TookMs:          out.Took.Milliseconds(),
		Shared:          out.Shared,
	}
}

func toBookResponse(b domain.CachedBook) BookResponse {
	return BookResponse{
		ID:           b.ID,
		Title:        b.Title,
		Author:       b.Author,
		Availability: b.Availability,
		Library:      b.Library,
		DetailURL:    b.DetailURL,
		DocNumber:    b.DocNumber,
		CachedAt:     b.CachedAt,
		ExpiresAt:    b.ExpiresAt,
	}
}
