package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/bibliored/bibliored-server/internal/cache"
	"github.com/bibliored/bibliored-server/internal/config"
	"github.com/bibliored/bibliored-server/internal/domain"
	domainerrors "github.com/bibliored/bibliored-server/internal/errors"
	"github.com/bibliored/bibliored-server/internal/metrics"
)

const (
	defaultPopularLimit = 10
	maxPopularLimit     = 100
)

// MaintenanceBackend is the storage surface used by cache maintenance.
// *sqlite.Store implements it.
type MaintenanceBackend interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context, now time.Time) (domain.CacheStats, error)
	TopQueries(ctx context.Context, limit int) ([]domain.SearchQueryStat, error)
}

// MaintenanceReport summarizes one maintenance pass.
type MaintenanceReport struct {
	Expired      int64         `json:"expired"`
	Evicted      int64         `json:"evicted"`
	TotalBooks   int           `json:"total_books"`
	MaxSize      int           `json:"max_size"`
	OverCapacity bool          `json:"over_capacity"`
	Took         time.Duration `json:"took"`
	RanAt        time.Time     `json:"ran_at"`
}

// MaintenanceService expires, evicts, and reports on cached books.
type MaintenanceService struct {
	backend MaintenanceBackend
	maxSize int
	logger  *slog.Logger

	now func() time.Time
}

// NewMaintenanceService creates a new maintenance service. A nil backend
// makes every operation fail with an unavailable error.
func NewMaintenanceService(backend MaintenanceBackend, cfg config.CacheConfig, logger *slog.Logger) *MaintenanceService {
	return &MaintenanceService{
		backend: backend,
		maxSize: cfg.MaxSize,
		logger:  logger,
		now:     time.Now,
	}
}

// Available reports whether a backend is configured.
func (s *MaintenanceService) Available() bool {
	return s.backend != nil
}

// Expire deletes every book past its expiry.
func (s *MaintenanceService) Expire(ctx context.Context) (int64, error) {
	if s.backend == nil {
		return 0, errCacheUnavailable()
	}

	deleted, err := s.backend.DeleteExpired(ctx, s.now())
	if err != nil {
		s.logger.Error("Failed to expire cached books", "error", err)
		return 0, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to expire cached books")
	}

	metrics.ObserveMaintenance("expire", deleted)
	if deleted > 0 {
		s.logger.Info("Expired cached books", "deleted", deleted)
	}
	return deleted, nil
}

// EvictStale deletes every book not read within cache.StaleRetention,
// whether or not it has expired.
func (s *MaintenanceService) EvictStale(ctx context.Context) (int64, error) {
	if s.backend == nil {
		return 0, errCacheUnavailable()
	}

	cutoff := s.now().Add(-cache.StaleRetention)
	deleted, err := s.backend.DeleteStale(ctx, cutoff)
	if err != nil {
		s.logger.Error("Failed to evict stale books", "error", err)
		return 0, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to evict stale books")
	}

	metrics.ObserveMaintenance("evict", deleted)
	if deleted > 0 {
		s.logger.Info("Evicted stale books", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}

// RunOnce expires, then evicts, then checks the cache size against MaxSize.
func (s *MaintenanceService) RunOnce(ctx context.Context) (MaintenanceReport, error) {
	start := time.Now()
	report := MaintenanceReport{RanAt: s.now(), MaxSize: s.maxSize}

	expired, err := s.Expire(ctx)
	if err != nil {
		return report, err
	}
	report.Expired = expired

	evicted, err := s.EvictStale(ctx)
	if err != nil {
		return report, err
	}
	report.Evicted = evicted

	stats, err := s.Stats(ctx)
	if err != nil {
		return report, err
	}
	report.TotalBooks = stats.TotalBooks
	report.OverCapacity = stats.OverCapacity
	report.Took = time.Since(start)

	s.logger.Debug("Cache maintenance completed",
		"expired", report.Expired,
		"evicted", report.Evicted,
		"total_books", report.TotalBooks,
		"took", report.Took,
	)
	return report, nil
}

// Stats summarizes the cache. OverCapacity is advisory and never triggers deletion.
func (s *MaintenanceService) Stats(ctx context.Context) (domain.CacheStats, error) {
	if s.backend == nil {
		return domain.CacheStats{}, errCacheUnavailable()
	}

	stats, err := s.backend.Stats(ctx, s.now())
	if err != nil {
		s.logger.Error("Failed to read cache stats", "error", err)
		return domain.CacheStats{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to read cache stats")
	}

	stats.MaxSize = s.maxSize
	stats.OverCapacity = s.maxSize > 0 && stats.TotalBooks > s.maxSize
	if stats.OverCapacity {
		s.logger.Warn("Cache is over its advisory size",
			"total_books", stats.TotalBooks,
			"max_size", s.maxSize,
		)
	}
	return stats, nil
}

// PopularQueries returns the most searched terms. A zero limit means the
// default of 10; limits outside 1..100 are rejected.
func (s *MaintenanceService) PopularQueries(ctx context.Context, limit int) ([]domain.SearchQueryStat, error) {
	if limit == 0 {
		limit = defaultPopularLimit
	}
	if limit < 0 || limit > maxPopularLimit {
		return nil, domainerrors.ValidationWithDetails(
			"limit must be between 1 and 100",
			map[string]string{"limit": "must be between 1 and 100"},
		)
	}

	if s.backend == nil {
		return nil, errCacheUnavailable()
	}

	queries, err := s.backend.TopQueries(ctx, limit)
	if err != nil {
		s.logger.Error("Failed to read popular queries", "error", err)
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to read popular queries")
	}
	return queries, nil
}

func errCacheUnavailable() error {
	return domainerrors.Unavailable("cache store unavailable")
}
