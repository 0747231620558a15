package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/bibliored/bibliored-server/internal/domain"
	"github.com/bibliored/bibliored-server/internal/service"
)

func (s *Server) registerAdminCacheRoutes() {
	security := []map[string][]string{{"bearer": {}}}
	admin := huma.Middlewares{s.requireAdmin}

	huma.Register(s.api, huma.Operation{
		OperationID: "expireCache",
		Method:      http.MethodPost,
		Path:        "/api/v1/admin/cache/expire",
		Summary:     "Expire cached books",
		Description: "Deletes cached books past their expiry. Requires the admin token.",
		Tags:        []string{"Admin"},
		Security:    security,
		Middlewares: admin,
	}, s.handleExpireCache)

	huma.Register(s.api, huma.Operation{
		OperationID: "evictStaleCache",
		Method:      http.MethodPost,
		Path:        "/api/v1/admin/cache/evict",
		Summary:     "Evict stale cached books",
		Description: "Deletes cached books not accessed within the retention window. Requires the admin token.",
		Tags:        []string{"Admin"},
		Security:    security,
		Middlewares: admin,
	}, s.handleEvictStaleCache)

	huma.Register(s.api, huma.Operation{
		OperationID: "runCacheMaintenance",
		Method:      http.MethodPost,
		Path:        "/api/v1/admin/cache/maintenance",
		Summary:     "Run cache maintenance",
		Description: "Expires, evicts, and reports on the cache in one pass. Requires the admin token.",
		Tags:        []string{"Admin"},
		Security:    security,
		Middlewares: admin,
	}, s.handleRunCacheMaintenance)

	huma.Register(s.api, huma.Operation{
		OperationID: "getCacheStats",
		Method:      http.MethodGet,
		Path:        "/api/v1/admin/cache/stats",
		Summary:     "Get cache statistics",
		Description: "Returns counts and age bounds of cached books. Requires the admin token.",
		Tags:        []string{"Admin"},
		Security:    security,
		Middlewares: admin,
	}, s.handleGetCacheStats)
}

// DeletedResponse reports how many cached books an operation removed.
type DeletedResponse struct {
	Deleted int64 `json:"deleted" doc:"Number of cached books deleted"`
}

// DeletedOutput wraps the deleted response for Huma.
type DeletedOutput struct {
	Body DeletedResponse
}

// MaintenanceOutput wraps the maintenance report for Huma.
type MaintenanceOutput struct {
	Body service.MaintenanceReport
}

// CacheStatsOutput wraps cache statistics for Huma.
type CacheStatsOutput struct {
	Body domain.CacheStats
}

func (s *Server) handleExpireCache(ctx context.Context, _ *struct{}) (*DeletedOutput, error) {
	n, err := s.services.Maintenance.Expire(ctx)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &DeletedOutput{Body: DeletedResponse{Deleted: n}}, nil
}

func (s *Server) handleEvictStaleCache(ctx context.Context, _ *struct{}) (*DeletedOutput, error) {
	n, err := s.services.Maintenance.EvictStale(ctx)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &DeletedOutput{Body: DeletedResponse{Deleted: n}}, nil
}

func (s *Server) handleRunCacheMaintenance(ctx context.Context, _ *struct{}) (*MaintenanceOutput, error) {
	report, err := s.services.Maintenance.RunOnce(ctx)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &MaintenanceOutput{Body: report}, nil
}

func (s *Server) handleGetCacheStats(ctx context.Context, _ *struct{}) (*CacheStatsOutput, error) {
	stats, err := s.services.Maintenance.Stats(ctx)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &CacheStatsOutput{Body: stats}, nil
}
