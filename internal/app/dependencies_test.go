package app

import (
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cartstore/internal/domain"
	"github.com/vladislavdragonenkov/cartstore/internal/storage/memory"
)

func TestNewDependencies(t *testing.T) {
	logger := log.WithField("test", "dependencies")
	deps, err := NewDependencies(memory.NewKeyValueStore(), DefaultConfig(), logger)
	if err != nil {
		t.Fatalf("NewDependencies failed: %v", err)
	}

	if deps.KV == nil || deps.Hub == nil || deps.Metrics == nil {
		t.Fatal("storage, hub and metrics must be initialized")
	}
	if deps.Resolver == nil || deps.Store == nil || deps.Merge == nil || deps.Bridge == nil {
		t.Fatal("cart core must be initialized")
	}
	if deps.Catalog != nil {
		t.Error("catalog client should not be created without CatalogURL")
	}
	if deps.Session != nil {
		t.Error("auth session should not be created without AuthURL")
	}
	if deps.Logger == nil {
		t.Error("Logger should not be nil")
	}
}

func TestNewDependencies_WithNilLogger(t *testing.T) {
	deps, err := NewDependencies(memory.NewKeyValueStore(), Config{}, nil)
	if err != nil {
		t.Fatalf("NewDependencies failed: %v", err)
	}
	if deps.Logger == nil {
		t.Error("Logger should be initialized even when nil is passed")
	}
}

func TestNewDependencies_NilStorage(t *testing.T) {
	_, err := NewDependencies(nil, Config{}, nil)
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestNewDependencies_ExternalClients(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CatalogURL = "http://catalog.local"
	cfg.AuthURL = "http://auth.local"

	deps, err := NewDependencies(memory.NewKeyValueStore(), cfg, nil)
	if err != nil {
		t.Fatalf("NewDependencies failed: %v", err)
	}
	if deps.Catalog == nil {
		t.Error("catalog client should be created when CatalogURL is set")
	}
	if deps.Session == nil {
		t.Error("auth session should be created when AuthURL is set")
	}
}

func TestNewDependencies_InvalidServiceURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CatalogURL = "://broken"

	if _, err := NewDependencies(memory.NewKeyValueStore(), cfg, nil); err == nil {
		t.Fatal("expected error for invalid catalog url")
	}
}

func TestNewDependencies_StoreWorks(t *testing.T) {
	deps, err := NewDependencies(memory.NewKeyValueStore(), Config{}, nil)
	if err != nil {
		t.Fatalf("NewDependencies failed: %v", err)
	}

	var events []domain.ChangeEvent
	unsubscribe := deps.Hub.Subscribe(func(event domain.ChangeEvent) {
		events = append(events, event)
	})
	defer unsubscribe()

	lines, err := deps.Store.Upsert(domain.Product{ID: "p1", Name: "Milk", Price: 40}, 2)
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if len(lines) != 1 || lines[0].Qty != 2 {
		t.Fatalf("unexpected cart %+v", lines)
	}
	if len(events) != 1 {
		t.Fatalf("expected one cartUpdated event, got %d", len(events))
	}
}
