package providers

import (
	"context"
	"time"

	"github.com/samber/do/v2"

	"github.com/bibliored/bibliored-server/internal/config"
	"github.com/bibliored/bibliored-server/internal/logger"
	"github.com/bibliored/bibliored-server/internal/service"
)

// CacheMaintenanceJob runs periodic cache expiry and eviction.
type CacheMaintenanceJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Shutdown implements do.Shutdownable.
func (j *CacheMaintenanceJob) Shutdown() error {
	j.cancel()
	<-j.done
	return nil
}

// ProvideCacheMaintenanceJob provides the periodic cache maintenance job.
func ProvideCacheMaintenanceJob(i do.Injector) (*CacheMaintenanceJob, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	maintenance := do.MustInvoke[*service.MaintenanceService](i)

	ctx, cancel := context.WithCancel(context.Background())
	job := &CacheMaintenanceJob{cancel: cancel, done: make(chan struct{})}

	if !cfg.Cache.MaintenanceEnabled || !maintenance.Available() {
		log.Info("Cache maintenance job disabled",
			"enabled", cfg.Cache.MaintenanceEnabled,
			"cache_available", maintenance.Available(),
		)
		close(job.done)
		return job, nil
	}

	interval := cfg.Cache.MaintenanceInterval
	if interval <= 0 {
		interval = time.Hour
	}

	go func() {
		defer close(job.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// Initial pass on startup
		runMaintenance(ctx, maintenance, log, "Initial cache maintenance")

		for {
			select {
			case <-ticker.C:
				runMaintenance(ctx, maintenance, log, "Cache maintenance")
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info("Cache maintenance job started", "interval", interval)

	return job, nil
}

func runMaintenance(ctx context.Context, maintenance *service.MaintenanceService, log *logger.Logger, label string) {
	report, err := maintenance.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn(label+" failed", "error", err)
		}
		return
	}
	if report.Expired > 0 || report.Evicted > 0 {
		log.Info(label+" completed",
			"expired", report.Expired,
			"evicted", report.Evicted,
			"total_books", report.TotalBooks,
		)
	}
}
