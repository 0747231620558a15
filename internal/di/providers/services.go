package providers

import (
	"github.com/samber/do/v2"

	"github.com/bibliored/bibliored-server/internal/cache"
	"github.com/bibliored/bibliored-server/internal/config"
	"github.com/bibliored/bibliored-server/internal/logger"
	"github.com/bibliored/bibliored-server/internal/service"
	"github.com/bibliored/bibliored-server/internal/validation"
)

// ProvideValidator provides the request validator.
func ProvideValidator(i do.Injector) (*validation.Validator, error) {
	return validation.New(), nil
}

// ProvideCache provides the book cache over the database, if one is open.
func ProvideCache(i do.Injector) (*cache.Store, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)

	// A nil *sqlite.Store must not reach the Backend interface as a typed nil.
	var backend cache.Backend
	if storeHandle.Available() {
		backend = storeHandle.Store
	}

	return cache.New(backend, cfg.Cache, log.Component("cache")), nil
}

// ProvideSearchService provides the search orchestration service.
func ProvideSearchService(i do.Injector) (*service.SearchService, error) {
	log := do.MustInvoke[*logger.Logger](i)
	cacheStore := do.MustInvoke[*cache.Store](i)
	catalogHandle := do.MustInvoke[*CatalogClientHandle](i)
	validator := do.MustInvoke[*validation.Validator](i)

	return service.NewSearchService(cacheStore, catalogHandle.Client, validator, log.Component("search")), nil
}

// ProvideMaintenanceService provides the cache maintenance service.
func ProvideMaintenanceService(i do.Injector) (*service.MaintenanceService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)

	var backend service.MaintenanceBackend
	if storeHandle.Available() {
		backend = storeHandle.Store
	}

	return service.NewMaintenanceService(backend, cfg.Cache, log.Component("maintenance")), nil
}
