package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/bibliored/bibliored-server/internal/config"
	"github.com/bibliored/bibliored-server/internal/logger"
	"github.com/bibliored/bibliored-server/internal/store/sqlite"
)

// StoreHandle wraps the cache database with shutdown capability.
// Store is nil when the database could not be opened.
type StoreHandle struct {
	*sqlite.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	if h.Store == nil {
		return nil
	}
	return h.Close()
}

// Available reports whether the cache database is open.
func (h *StoreHandle) Available() bool {
	return h.Store != nil
}

// ProvideStore opens the cache database. A failure to open it is not fatal:
// the server keeps answering searches from the catalog without caching.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	db, err := sqlite.Open(cfg.Database.Path, log.Component("sqlite"))
	if err != nil {
		log.Warn("Cache database unavailable, serving without cache",
			"path", cfg.Database.Path,
			"error", err,
		)
		return &StoreHandle{}, nil
	}

	if err := db.Ping(context.Background()); err != nil {
		log.Warn("Cache database ping failed", "path", cfg.Database.Path, "error", err)
	}

	log.Info("Cache database initialized", "path", cfg.Database.Path)

	return &StoreHandle{Store: db}, nil
}
