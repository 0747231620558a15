package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibliored/bibliored-server/internal/cache"
	"github.com/bibliored/bibliored-server/internal/catalog"
	"github.com/bibliored/bibliored-server/internal/config"
	"github.com/bibliored/bibliored-server/internal/logger"
	"github.com/bibliored/bibliored-server/internal/service"
	"github.com/bibliored/bibliored-server/internal/store/sqlite"
	"github.com/bibliored/bibliored-server/internal/validation"
)

const testAdminToken = "s3cret-admin-token"

var testCacheConfig = config.CacheConfig{TTLHours: 24, MaxSize: 10000, SearchSimilarity: 0.8}

// stubCatalog serves canned rows per term.
type stubCatalog struct {
	calls atomic.Int32

	mu   sync.Mutex
	rows map[string][]catalog.RawCandidate
	err  error
}

func (c *stubCatalog) FetchAndParse(_ context.Context, term string) (*catalog.Result, error) {
	c.calls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return &catalog.Result{
		Candidates: c.rows[strings.ToLower(term)],
		SourceURL:  "http://catalog.example/F/?request=" + term,
		Attempts:   1,
	}, nil
}

type testServer struct {
	server  *Server
	store   *sqlite.Store
	catalog *stubCatalog
}

type serverOption func(*Options)

func withAdminToken(token string) serverOption {
	return func(o *Options) { o.AdminToken = token }
}

func withSearchLimit(rps float64, burst int) serverOption {
	return func(o *Options) {
		o.SearchRPS = rps
		o.SearchBurst = burst
	}
}

// setupTestServer wires a server over a temp sqlite cache and a stub catalog.
func setupTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	log := logger.Discard().Logger

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "cache.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	stub := &stubCatalog{rows: map[string][]catalog.RawCandidate{
		"neruda": {
			{Title: "Canto General", Author: "Pablo Neruda", Library: "Biblioteca Nacional",
				AvailabilityHref: "/F/ABC?func=item-global&doc_number=12345"},
			{Title: "Veinte poemas de amor", Author: "Pablo Neruda"},
		},
		"xyzxyz": {
			{Title: "Desolación", Author: "Gabriela Mistral"},
		},
	}}

	services := &Services{
		Search: service.NewSearchService(
			cache.New(store, testCacheConfig, log),
			stub,
			validation.New(),
			log,
		),
		Maintenance: service.NewMaintenanceService(store, testCacheConfig, log),
	}

	options := Options{
		SearchRPS:   1000,
		SearchBurst: 1000,
		CatalogURL:  "http://catalog.example",
	}
	for _, opt := range opts {
		opt(&options)
	}

	s := NewServer(store, services, options, log)
	t.Cleanup(s.Close)

	return &testServer{server: s, store: store, catalog: stub}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)
	return rec
}

// envelope is the decoded response wrapper.
type envelope struct {
	Version int             `json:"v"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details map[string]any  `json:"details"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	assert.Equal(t, EnvelopeVersion, env.Version)
	return env
}

func decodeSearch(t *testing.T, rec *httptest.ResponseRecorder) SearchResponse {
	t.Helper()
	env := decodeEnvelope(t, rec)
	require.True(t, env.Success, "body: %s", rec.Body.String())
	var resp SearchResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	return resp
}

func TestSearch_GetFetchesFromCatalog(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/search?q=Neruda", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeSearch(t, rec)
	assert.Equal(t, "Neruda", resp.Query)
	assert.Equal(t, "neruda", resp.NormalizedQuery)
	assert.Equal(t, "catalog", resp.Source)
	assert.False(t, resp.CacheHit)
	assert.NotEmpty(t, resp.SearchID)
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Books, 2)
	assert.Equal(t, "http://catalog.example/F/?request=Neruda", resp.SourceURL)

	var withDoc *BookResponse
	for i := range resp.Books {
		if resp.Books[i].DocNumber != "" {
			withDoc = &resp.Books[i]
		}
	}
	require.NotNil(t, withDoc)
	assert.Equal(t, "000012345", withDoc.DocNumber)
	assert.NotEmpty(t, withDoc.DetailURL)
}

func TestSearch_PostUsesBodyTerm(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/search", map[string]string{"term": "neruda"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeSearch(t, rec)
	assert.Equal(t, "neruda", resp.NormalizedQuery)
	assert.Equal(t, 2, resp.Count)
}

func TestSearch_RepeatIsCacheHit(t *testing.T) {
	ts := setupTestServer(t)

	first := ts.do(t, http.MethodGet, "/api/v1/search?q=neruda", nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := ts.do(t, http.MethodGet, "/api/v1/search?q=%20%20NERUDA%20", nil)
	require.Equal(t, http.StatusOK, second.Code)

	resp := decodeSearch(t, second)
	assert.True(t, resp.CacheHit)
	assert.Equal(t, "cache", resp.Source)
	assert.Equal(t, "exact", resp.Match)
	assert.Equal(t, int32(1), ts.catalog.calls.Load())
}

func TestSearch_InvalidTermIs400(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name string
		path string
	}{
		{"missing", "/api/v1/search"},
		{"blank", "/api/v1/search?q=%20%20%20"},
		{"punctuation only", "/api/v1/search?q=%C2%A1%C2%BF%3F%21"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			env := decodeEnvelope(t, rec)
			assert.False(t, env.Success)
			assert.Equal(t, "VALIDATION", env.Code)
			assert.NotEmpty(t, env.Message)
		})
	}

	assert.Zero(t, ts.catalog.calls.Load(), "invalid input must not reach the catalog")
}

func TestSearch_TooLongTermIsRejected(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/search", map[string]string{"term": strings.Repeat("a", 201)})
	assert.GreaterOrEqual(t, rec.Code, http.StatusBadRequest)
	assert.Less(t, rec.Code, http.StatusInternalServerError)

	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, "VALIDATION", env.Code)
	assert.Zero(t, ts.catalog.calls.Load())
}

func TestSearch_NoRelevantRowsIs404WithDetails(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/search?q=xyzxyz", nil)
	require.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())

	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, "NOT_FOUND", env.Code)
	assert.Equal(t, float64(1), env.Details["rows_seen"])
	assert.Equal(t, float64(0), env.Details["rows_admitted"])
}

func TestSearch_CatalogFailureIs503(t *testing.T) {
	ts := setupTestServer(t)
	ts.catalog.err = errors.New("connection refused")

	rec := ts.do(t, http.MethodGet, "/api/v1/search?q=neruda", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())

	env := decodeEnvelope(t, rec)
	assert.Equal(t, "UNAVAILABLE", env.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused", "upstream error text must not leak")
}

func TestSearch_RateLimited(t *testing.T) {
	ts := setupTestServer(t, withSearchLimit(0.001, 1))

	first := ts.do(t, http.MethodGet, "/api/v1/search?q=neruda", nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := ts.do(t, http.MethodGet, "/api/v1/search?q=neruda", nil)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	env := decodeEnvelope(t, second)
	assert.Equal(t, "RATE_LIMITED", env.Code)

	other := ts.do(t, http.MethodGet, "/api/v1/search?q=neruda", nil, "X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, http.StatusOK, other.Code, "limits are per client")
}

func TestPopularQueries(t *testing.T) {
	ts := setupTestServer(t)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/search?q=neruda", nil).Code)

	rec := ts.do(t, http.MethodGet, "/api/v1/search/popular", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	env := decodeEnvelope(t, rec)
	var resp PopularQueriesResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	require.Len(t, resp.Queries, 1)
	assert.Equal(t, "neruda", resp.Queries[0].Query)
	assert.Equal(t, 1, resp.Queries[0].SearchCount)
	assert.Equal(t, 2, resp.Queries[0].ResultCount)

	bad := ts.do(t, http.MethodGet, "/api/v1/search/popular?limit=500", nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
	assert.Equal(t, "VALIDATION", decodeEnvelope(t, bad).Code)
}

func TestAdminRoutes_AbsentWithoutToken(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/admin/cache/stats", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRoutes_RequireToken(t *testing.T) {
	ts := setupTestServer(t, withAdminToken(testAdminToken))

	tests := []struct {
		name   string
		header []string
	}{
		{"missing", nil},
		{"wrong scheme", []string{"Authorization", "Basic " + testAdminToken}},
		{"wrong token", []string{"Authorization", "Bearer nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/v1/admin/cache/expire", nil, tt.header...)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			env := decodeEnvelope(t, rec)
			assert.Equal(t, "UNAUTHORIZED", env.Code)
		})
	}
}

func TestAdminRoutes_MaintenanceAndStats(t *testing.T) {
	ts := setupTestServer(t, withAdminToken(testAdminToken))
	auth := []string{"Authorization", "Bearer " + testAdminToken}

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/search?q=neruda", nil).Code)

	for _, path := range []string{"/api/v1/admin/cache/expire", "/api/v1/admin/cache/evict"} {
		rec := ts.do(t, http.MethodPost, path, nil, auth...)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp DeletedResponse
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &resp))
		assert.Zero(t, resp.Deleted, "fresh books are neither expired nor stale")
	}

	rec := ts.do(t, http.MethodPost, "/api/v1/admin/cache/maintenance", nil, auth...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report service.MaintenanceReport
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &report))
	assert.Equal(t, 2, report.TotalBooks)
	assert.False(t, report.OverCapacity)

	rec = ts.do(t, http.MethodGet, "/api/v1/admin/cache/stats", nil, auth...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var stats map[string]any
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &stats))
	assert.Equal(t, float64(2), stats["total_books"])
	assert.Equal(t, float64(testCacheConfig.MaxSize), stats["max_size"])
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(t, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &resp))
		assert.Equal(t, statusHealthy, resp.Status)
		assert.Equal(t, statusHealthy, resp.Components["database"].Status)
		assert.Equal(t, statusHealthy, resp.Components["catalog"].Status)
	})

	t.Run("degraded without cache", func(t *testing.T) {
		log := logger.Discard().Logger
		services := &Services{
			Search:      service.NewSearchService(cache.New(nil, testCacheConfig, log), &stubCatalog{}, validation.New(), log),
			Maintenance: service.NewMaintenanceService(nil, testCacheConfig, log),
		}
		s := NewServer(nil, services, Options{SearchRPS: 10, SearchBurst: 10, CatalogURL: "http://catalog.example"}, log)
		t.Cleanup(s.Close)

		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &resp))
		assert.Equal(t, statusDegraded, resp.Status)
		assert.Equal(t, statusDegraded, resp.Components["database"].Status)
	})

	t.Run("unhealthy without catalog", func(t *testing.T) {
		ts := setupTestServer(t, func(o *Options) { o.CatalogURL = "" })

		rec := ts.do(t, http.MethodGet, "/health", nil)
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &resp))
		assert.Equal(t, statusUnhealthy, resp.Status)
	})
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, "NOT_FOUND", env.Code)

	rec = ts.do(t, http.MethodDelete, "/api/v1/search", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPanicBecomesInternalEnvelope(t *testing.T) {
	ts := setupTestServer(t)
	ts.server.router.Get("/api/v1/explode", func(http.ResponseWriter, *http.Request) {
		panic("catalog row index out of range")
	})

	rec := ts.do(t, http.MethodGet, "/api/v1/explode", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, "INTERNAL", env.Code)
	assert.Equal(t, "internal server error", env.Message)
	assert.NotContains(t, rec.Body.String(), "out of range")
}

func TestAbortHandlerPanicIsNotSwallowed(t *testing.T) {
	ts := setupTestServer(t)
	ts.server.router.Get("/api/v1/abort", func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	})

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		ts.do(t, http.MethodGet, "/api/v1/abort", nil)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/v1/search?q=neruda", nil).Code)

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "bibliored_searches_total")
	assert.Contains(t, body, `bibliored_http_requests_total{method="GET",path="/api/v1/search"`)
}

func TestOpenAPIDocument(t *testing.T) {
	ts := setupTestServer(t, withAdminToken(testAdminToken))
	testAPI := humatest.Wrap(t, ts.server.api)

	resp := testAPI.Get("/openapi.json")
	require.Equal(t, http.StatusOK, resp.Code)

	var doc struct {
		Paths      map[string]any `json:"paths"`
		Components struct {
			SecuritySchemes map[string]any `json:"securitySchemes"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &doc))

	assert.Contains(t, doc.Paths, "/api/v1/search")
	assert.Contains(t, doc.Paths, "/api/v1/search/popular")
	assert.Contains(t, doc.Paths, "/api/v1/admin/cache/stats")
	assert.Contains(t, doc.Components.SecuritySchemes, "bearer")
}
