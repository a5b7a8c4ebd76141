package app

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/cartstore/internal/messaging/kafka"
)

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("expected HTTPAddr :8080, got %s", cfg.HTTPAddr)
	}
	if cfg.GRPCAddr != ":50051" {
		t.Errorf("expected GRPCAddr :50051, got %s", cfg.GRPCAddr)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("expected MetricsAddr :9090, got %s", cfg.MetricsAddr)
	}
	if cfg.StorageDriver != StorageDriverMemory {
		t.Errorf("expected StorageDriver %s, got %s", StorageDriverMemory, cfg.StorageDriver)
	}
	if cfg.StorageDir == "" {
		t.Error("expected StorageDir to be set")
	}
	if !cfg.PostgresAutoMigrate {
		t.Error("expected PostgresAutoMigrate to be true")
	}
	if cfg.PostgresPollInterval <= 0 {
		t.Error("expected PostgresPollInterval to be > 0")
	}
	if cfg.PostgresPollBatch <= 0 {
		t.Error("expected PostgresPollBatch to be > 0")
	}
	if cfg.TombstoneTTL <= cfg.PostgresPollInterval {
		t.Errorf("expected TombstoneTTL %s to exceed poll interval %s", cfg.TombstoneTTL, cfg.PostgresPollInterval)
	}
	if cfg.TombstonePurgeEvery <= 0 {
		t.Error("expected TombstonePurgeEvery to be > 0")
	}
	if cfg.KafkaBrokers != "" {
		t.Errorf("expected kafka to be disabled by default, got brokers %q", cfg.KafkaBrokers)
	}
	if cfg.KafkaTopic != kafka.TopicCartEvents {
		t.Errorf("expected KafkaTopic %s, got %s", kafka.TopicCartEvents, cfg.KafkaTopic)
	}
	if cfg.KafkaGroup == "" {
		t.Error("expected KafkaGroup to be set")
	}
	if cfg.CatalogURL != "" || cfg.AuthURL != "" {
		t.Error("expected external services to be disabled by default")
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://localhost:3000" {
		t.Errorf("unexpected CORSOrigins %v", cfg.CORSOrigins)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("expected ShutdownTimeout 5s, got %s", cfg.ShutdownTimeout)
	}
}

func TestConfig_Copy(t *testing.T) {
	original := DefaultConfig()
	copied := original

	copied.HTTPAddr = ":8081"
	copied.StorageDriver = StorageDriverFile

	if original.HTTPAddr != ":8080" {
		t.Error("original config was modified")
	}
	if original.StorageDriver != StorageDriverMemory {
		t.Error("original storage driver was modified")
	}
}

func TestConfig_ZeroValue(t *testing.T) {
	var cfg Config

	if cfg.HTTPAddr != "" || cfg.GRPCAddr != "" || cfg.MetricsAddr != "" {
		t.Error("zero value addresses should be empty")
	}
	if cfg.PostgresAutoMigrate {
		t.Error("expected PostgresAutoMigrate to be false for zero value")
	}
	if cfg.CORSOrigins != nil {
		t.Error("zero value CORSOrigins should be nil")
	}
}
