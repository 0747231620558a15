// Package di provides dependency injection configuration for the BiblioRed server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/bibliored/bibliored-server/internal/cache"
	"github.com/bibliored/bibliored-server/internal/config"
	"github.com/bibliored/bibliored-server/internal/di/providers"
	"github.com/bibliored/bibliored-server/internal/logger"
	"github.com/bibliored/bibliored-server/internal/service"
	"github.com/bibliored/bibliored-server/internal/validation"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideValidator)

	// Storage layer
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideCache)

	// Upstream
	do.Provide(injector, providers.ProvideCatalogClient)

	// Business services
	do.Provide(injector, providers.ProvideSearchService)
	do.Provide(injector, providers.ProvideMaintenanceService)

	// Workers
	do.Provide(injector, providers.ProvideCacheMaintenanceJob)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services and returns handles for lifecycle management.
// This triggers lazy initialization of all core services.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*validation.Validator](injector)
	_ = do.MustInvoke[*providers.StoreHandle](injector)
	_ = do.MustInvoke[*cache.Store](injector)

	if _, err := do.Invoke[*providers.CatalogClientHandle](injector); err != nil {
		return err
	}

	_ = do.MustInvoke[*service.SearchService](injector)
	_ = do.MustInvoke[*service.MaintenanceService](injector)

	// Workers
	_ = do.MustInvoke[*providers.CacheMaintenanceJob](injector)

	// Server
	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)

	return nil
}
