package app

import (
	"time"

	"github.com/vladislavdragonenkov/cartstore/internal/messaging/kafka"
)

const (
	// StorageDriverMemory — хранилище в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverFile — каталог с файлами, общий для нескольких процессов (fsnotify).
	StorageDriverFile = "file"
	// StorageDriverPostgres — таблица cart_kv в PostgreSQL.
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver string
	StorageDir    string

	PostgresDSN          string
	PostgresAutoMigrate  bool
	PostgresPollInterval time.Duration
	PostgresPollBatch    int
	PostgresPollLookback int
	TombstoneTTL         time.Duration
	TombstonePurgeEvery  time.Duration

	KafkaBrokers    string
	KafkaTopic      string
	KafkaGroup      string
	KafkaMaxRetries int

	CatalogURL  string
	AuthURL     string
	CORSOrigins []string

	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает конфигурацию для локального запуска: память, без Kafka и внешних сервисов.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:             ":8080",
		GRPCAddr:             ":50051",
		MetricsAddr:          ":9090",
		StorageDriver:        StorageDriverMemory,
		StorageDir:           "./data/cart",
		PostgresAutoMigrate:  true,
		PostgresPollInterval: 500 * time.Millisecond,
		PostgresPollBatch:    100,
		PostgresPollLookback: 256,
		TombstoneTTL:         time.Hour,
		TombstonePurgeEvery:  10 * time.Minute,
		KafkaTopic:           kafka.TopicCartEvents,
		KafkaGroup:           "storefront-cart",
		KafkaMaxRetries:      3,
		CORSOrigins:          []string{"http://localhost:3000"},
		ShutdownTimeout:      5 * time.Second,
	}
}
