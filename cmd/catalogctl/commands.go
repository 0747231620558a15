package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/bibliored/bibliored-server/internal/cache"
	"github.com/bibliored/bibliored-server/internal/catalog"
	"github.com/bibliored/bibliored-server/internal/config"
	"github.com/bibliored/bibliored-server/internal/logger"
	"github.com/bibliored/bibliored-server/internal/service"
	"github.com/bibliored/bibliored-server/internal/store/sqlite"
	"github.com/bibliored/bibliored-server/internal/validation"
)

// SearchCmd runs one search through the cache and the catalog.
type SearchCmd struct {
	Term string `arg:"" help:"Search term"`
}

// ExpireCmd deletes expired books.
type ExpireCmd struct{}

// EvictCmd deletes stale books.
type EvictCmd struct{}

// MaintainCmd expires, evicts, and reports.
type MaintainCmd struct{}

// StatsCmd prints cache statistics.
type StatsCmd struct{}

// PopularCmd prints popular search terms.
type PopularCmd struct {
	Limit int `help:"Number of terms to print (1-100)" default:"10"`
}

// env is what every command needs: resolved config, a logger, and the open store.
type env struct {
	cfg   *config.Config
	log   *logger.Logger
	store *sqlite.Store
}

func (g *Globals) open() (*env, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	log := g.logger(cfg)

	store, err := sqlite.Open(cfg.Database.Path, log.Component("sqlite"))
	if err != nil {
		return nil, fmt.Errorf("open cache database %s: %w", cfg.Database.Path, err)
	}
	return &env{cfg: cfg, log: log, store: store}, nil
}

func (e *env) close() {
	if err := e.store.Close(); err != nil {
		e.log.Warn("Failed to close cache database", "error", err)
	}
}

func (e *env) maintenance() *service.MaintenanceService {
	return service.NewMaintenanceService(e.store, e.cfg.Cache, e.log.Component("maintenance"))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// Run executes the search command.
func (c *SearchCmd) Run(g *Globals) error {
	e, err := g.open()
	if err != nil {
		return err
	}
	defer e.close()

	client, err := catalog.New(e.cfg.Catalog, e.log.Component("catalog"))
	if err != nil {
		return err
	}
	defer client.Close()

	svc := service.NewSearchService(
		cache.New(e.store, e.cfg.Cache, e.log.Component("cache")),
		client,
		validation.New(),
		e.log.Component("search"),
	)

	ctx, cancel := signalContext()
	defer cancel()

	out, err := svc.Search(ctx, c.Term)
	if err != nil {
		return err
	}
	return writeJSON(g, out)
}

// Run executes the expire command.
func (c *ExpireCmd) Run(g *Globals) error {
	e, err := g.open()
	if err != nil {
		return err
	}
	defer e.close()

	deleted, err := e.maintenance().Expire(context.Background())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(g.stdout(), "expired: %d\n", deleted)
	return err
}

// Run executes the evict command.
func (c *EvictCmd) Run(g *Globals) error {
	e, err := g.open()
	if err != nil {
		return err
	}
	defer e.close()

	deleted, err := e.maintenance().EvictStale(context.Background())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(g.stdout(), "evicted: %d\n", deleted)
	return err
}

// Run executes the maintain command.
func (c *MaintainCmd) Run(g *Globals) error {
	e, err := g.open()
	if err != nil {
		return err
	}
	defer e.close()

	report, err := e.maintenance().RunOnce(context.Background())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(g.stdout(), "expired: %d\nevicted: %d\ntotal_books: %d\nover_capacity: %t\n",
		report.Expired, report.Evicted, report.TotalBooks, report.OverCapacity)
	return err
}

// Run executes the stats command.
func (c *StatsCmd) Run(g *Globals) error {
	e, err := g.open()
	if err != nil {
		return err
	}
	defer e.close()

	stats, err := e.maintenance().Stats(context.Background())
	if err != nil {
		return err
	}
	return writeJSON(g, stats)
}

// Run executes the popular command.
func (c *PopularCmd) Run(g *Globals) error {
	e, err := g.open()
	if err != nil {
		return err
	}
	defer e.close()

	queries, err := e.maintenance().PopularQueries(context.Background(), c.Limit)
	if err != nil {
		return err
	}
	return writeJSON(g, queries)
}

func writeJSON(g *Globals, v any) error {
	enc := json.NewEncoder(g.stdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
