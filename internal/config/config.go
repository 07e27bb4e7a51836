package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/BarkinBalci/interaction-metrics-engine/internal/batcher"
)

// Service holds host service settings
type Service struct {
	Environment string `envconfig:"SERVICE_ENVIRONMENT" default:"development"`
	APIPort     string `envconfig:"SERVICE_API_PORT" default:"8080"`
}

// Engine holds the telemetry engine settings
type Engine struct {
	DataDir          string `envconfig:"ENGINE_DATA_DIR" default:"./data/eventlog"`
	BatchingEnabled  bool   `envconfig:"ENGINE_BATCHING_ENABLED" default:"true"`
	MaxBatchSize     int    `envconfig:"ENGINE_MAX_BATCH_SIZE" default:"10"`
	FlushIntervalMs  int    `envconfig:"ENGINE_FLUSH_INTERVAL_MS" default:"30000"`
	MaxWaitTimeMs    int    `envconfig:"ENGINE_MAX_WAIT_TIME_MS" default:"0"`
	CacheCapacity    int    `envconfig:"ENGINE_CACHE_CAPACITY" default:"100"`
	Dispatcher       string `envconfig:"ENGINE_DISPATCHER" default:"clickhouse"`
}

// SQS holds the SQS dispatcher settings
type SQS struct {
	Endpoint string `envconfig:"SQS_ENDPOINT"`
	QueueURL string `envconfig:"SQS_QUEUE_URL"`
	Region   string `envconfig:"SQS_REGION" default:"eu-central-1"`
}

// ClickHouse holds the ClickHouse dispatcher settings
type ClickHouse struct {
	Host            string `envconfig:"CLICKHOUSE_HOST" default:"localhost"`
	Port            string `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	Database        string `envconfig:"CLICKHOUSE_DB" default:"default"`
	User            string `envconfig:"CLICKHOUSE_USER" default:""`
	Password        string `envconfig:"CLICKHOUSE_PASSWORD" default:""`
	UseTLS          bool   `envconfig:"CLICKHOUSE_USE_TLS" default:"false"`
	MaxOpenConns    int    `envconfig:"CLICKHOUSE_MAX_OPEN_CONNS" default:"5"`
	MaxIdleConns    int    `envconfig:"CLICKHOUSE_MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime int    `envconfig:"CLICKHOUSE_CONN_MAX_LIFETIME_SEC" default:"3600"`
}

// Config is the root configuration for the host service
type Config struct {
	Service    Service
	Engine     Engine
	SQS        SQS
	ClickHouse ClickHouse
}

// Load reads configuration from the environment
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

// BatchConfig converts the engine settings into a normalized batcher config.
func (e Engine) BatchConfig() batcher.Config {
	return batcher.Config{
		Enabled:       e.BatchingEnabled,
		MaxBatchSize:  e.MaxBatchSize,
		FlushInterval: time.Duration(e.FlushIntervalMs) * time.Millisecond,
		MaxWaitTime:   time.Duration(e.MaxWaitTimeMs) * time.Millisecond,
	}.Normalize()
}
