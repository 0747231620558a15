package providers

import (
	"github.com/samber/do/v2"

	"github.com/bibliored/bibliored-server/internal/catalog"
	"github.com/bibliored/bibliored-server/internal/config"
	"github.com/bibliored/bibliored-server/internal/logger"
)

// CatalogClientHandle wraps the catalog client with Shutdownable.
type CatalogClientHandle struct {
	*catalog.Client
}

// Shutdown implements do.Shutdownable.
func (h *CatalogClientHandle) Shutdown() error {
	h.Close()
	return nil
}

// ProvideCatalogClient provides the upstream catalog client.
func ProvideCatalogClient(i do.Injector) (*CatalogClientHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	client, err := catalog.New(cfg.Catalog, log.Component("catalog"))
	if err != nil {
		return nil, err
	}

	log.Info("Catalog client initialized",
		"base_url", client.BaseURL(),
		"attempts", cfg.Catalog.Attempts,
		"timeout", cfg.Catalog.Timeout,
	)

	return &CatalogClientHandle{Client: client}, nil
}
