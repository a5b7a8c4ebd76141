package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/cartstore/internal/app"
)

const (
	envHTTPAddr             = "CART_HTTP_ADDR"
	envGRPCAddr             = "CART_GRPC_ADDR"
	envMetricsAddr          = "CART_METRICS_ADDR"
	envStorageDriver        = "CART_STORAGE_DRIVER"
	envStorageDir           = "CART_STORAGE_DIR"
	envPostgresDSN          = "CART_POSTGRES_DSN"
	envPostgresAutoMigrate  = "CART_POSTGRES_AUTO_MIGRATE"
	envPostgresPollInterval = "CART_POSTGRES_POLL_INTERVAL"
	envPostgresPollBatch    = "CART_POSTGRES_POLL_BATCH"
	envPostgresPollLookback = "CART_POSTGRES_POLL_LOOKBACK"
	envTombstoneTTL         = "CART_TOMBSTONE_TTL"
	envTombstonePurgeEvery  = "CART_TOMBSTONE_PURGE_INTERVAL"
	envKafkaBrokers         = "CART_KAFKA_BROKERS"
	envKafkaTopic           = "CART_KAFKA_TOPIC"
	envKafkaGroup           = "CART_KAFKA_GROUP"
	envKafkaMaxRetries      = "CART_KAFKA_MAX_RETRIES"
	envCatalogURL           = "CART_CATALOG_URL"
	envAuthURL              = "CART_AUTH_URL"
	envCORSOrigins          = "CART_CORS_ORIGINS"
	envShutdownTimeout      = "CART_SHUTDOWN_TIMEOUT"
	envLogLevel             = "CART_LOG_LEVEL"
)

// envLookup совпадает по сигнатуре с os.LookupEnv.
type envLookup func(key string) (string, bool)

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректные значения не применяются и возвращаются как предупреждения.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Sprintf("ignore %s=%q: %v", key, raw, err))
	}

	setString := func(key string, target *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*target = strings.TrimSpace(v)
		}
	}
	setBool := func(key string, target *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warn(key, v, err)
			return
		}
		*target = parsed
	}
	setInt := func(key string, target *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warn(key, v, err)
			return
		}
		*target = parsed
	}
	setDuration := func(key string, target *time.Duration) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, func(d time.Duration) bool { return d > 0 }, "must be > 0")
		if err != nil {
			warn(key, v, err)
			return
		}
		*target = parsed
	}

	setString(envHTTPAddr, &cfg.HTTPAddr)
	setString(envGRPCAddr, &cfg.GRPCAddr)
	setString(envMetricsAddr, &cfg.MetricsAddr)
	setString(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	setString(envStorageDir, &cfg.StorageDir)

	setString(envPostgresDSN, &cfg.PostgresDSN)
	setBool(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	setDuration(envPostgresPollInterval, &cfg.PostgresPollInterval)
	setInt(envPostgresPollBatch, &cfg.PostgresPollBatch, func(v int) bool { return v > 0 }, "must be > 0")
	setInt(envPostgresPollLookback, &cfg.PostgresPollLookback, func(v int) bool { return v > 0 }, "must be > 0")
	setDuration(envTombstoneTTL, &cfg.TombstoneTTL)
	setDuration(envTombstonePurgeEvery, &cfg.TombstonePurgeEvery)

	setString(envKafkaBrokers, &cfg.KafkaBrokers)
	setString(envKafkaTopic, &cfg.KafkaTopic)
	setString(envKafkaGroup, &cfg.KafkaGroup)
	setInt(envKafkaMaxRetries, &cfg.KafkaMaxRetries, func(v int) bool { return v >= 0 }, "must be >= 0")

	setString(envCatalogURL, &cfg.CatalogURL)
	setString(envAuthURL, &cfg.AuthURL)
	if v, ok := lookup(envCORSOrigins); ok {
		cfg.CORSOrigins = splitList(v)
	}
	setDuration(envShutdownTimeout, &cfg.ShutdownTimeout)

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value")
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("%s", rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("%s", rule)
	}
	return value, nil
}

// splitList разбирает список через запятую. Пустая строка отключает список.
func splitList(raw string) []string {
	out := []string{}
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
