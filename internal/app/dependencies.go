package app

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartstore/internal/auth"
	"github.com/vladislavdragonenkov/cartstore/internal/catalog"
	"github.com/vladislavdragonenkov/cartstore/internal/domain"
	"github.com/vladislavdragonenkov/cartstore/internal/identity"
	"github.com/vladislavdragonenkov/cartstore/internal/metrics"
	"github.com/vladislavdragonenkov/cartstore/internal/service/cart"
	"github.com/vladislavdragonenkov/cartstore/internal/service/cartsync"
	"github.com/vladislavdragonenkov/cartstore/internal/version"
)

// Dependencies содержит ядро корзины поверх выбранного хранилища.
type Dependencies struct {
	KV       domain.Storage
	Hub      *cartsync.Hub
	Metrics  *metrics.CartMetrics
	Resolver *identity.Resolver
	Store    *cart.Store
	Merge    *cart.MergeEngine
	Bridge   *cartsync.StorageBridge
	Catalog  domain.CatalogService
	Session  *auth.Session
	Logger   *log.Entry
}

// NewDependencies собирает корзину, шину и мост сигналов хранилища.
// Клиенты каталога и аутентификации создаются только при заданных адресах.
func NewDependencies(kv domain.Storage, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	if kv == nil {
		return nil, fmt.Errorf("%w: nil key-value storage", domain.ErrStorageUnavailable)
	}

	hub := cartsync.NewHub()
	cartMetrics := metrics.NewCartMetrics()
	resolver := identity.NewResolver(kv, logger.WithField("component", "identity-resolver"))
	store := cart.NewStore(kv, resolver, hub,
		cart.WithLogger(logger.WithField("component", "cart-store")),
		cart.WithMetrics(cartMetrics),
	)
	merge := cart.NewMergeEngine(store)
	bridge := cartsync.NewStorageBridge(kv, store, hub,
		cartsync.WithBridgeLogger(logger.WithField("component", "cart-storage-bridge")),
	)

	deps := &Dependencies{
		KV:       kv,
		Hub:      hub,
		Metrics:  cartMetrics,
		Resolver: resolver,
		Store:    store,
		Merge:    merge,
		Bridge:   bridge,
		Logger:   logger,
	}

	if url := strings.TrimSpace(cfg.CatalogURL); url != "" {
		client, err := catalog.NewClient(url,
			catalog.WithLogger(logger.WithField("component", "catalog-client")),
			catalog.WithUserAgent(version.UserAgent()),
		)
		if err != nil {
			return nil, err
		}
		deps.Catalog = client
	}

	if url := strings.TrimSpace(cfg.AuthURL); url != "" {
		client, err := auth.NewClient(url,
			auth.WithLogger(logger.WithField("component", "auth-client")),
			auth.WithUserAgent(version.UserAgent()),
		)
		if err != nil {
			return nil, err
		}
		deps.Session = auth.NewSession(client, kv, store, merge, logger.WithField("component", "auth-session"))
	}

	return deps, nil
}
