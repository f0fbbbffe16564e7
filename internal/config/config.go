package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"

	"github.com/dvloznov/medallion-pipeline/internal/logger"
)

// EnvPrefix prefixes every variable read by Load.
const EnvPrefix = "MEDALLION"

// Config is the full runtime configuration shared by the CLI, API and worker.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Pipeline  PipelineConfig
	GCS       GCSConfig
	BigQuery  BigQueryConfig
	Generator GeneratorConfig
	API       APIConfig
	Worker    WorkerConfig
	Metrics   MetricsConfig
}

type AppConfig struct {
	Env       string `envconfig:"MEDALLION_APP_ENV" default:"dev"`
	LogLevel  string `envconfig:"MEDALLION_LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"MEDALLION_LOG_FORMAT" default:"console"`
}

type DBConfig struct {
	Path string `envconfig:"MEDALLION_DB_PATH" default:"database/medallion.db"`
}

type PipelineConfig struct {
	InputPath     string `envconfig:"MEDALLION_INPUT_PATH"`
	ExportDir     string `envconfig:"MEDALLION_EXPORT_DIR" default:"data/s3_upload"`
	ExportEnabled bool   `envconfig:"MEDALLION_EXPORT_ENABLED" default:"true"`
}

type GCSConfig struct {
	Enabled        bool          `envconfig:"MEDALLION_GCS_ENABLED" default:"false"`
	ProjectID      string        `envconfig:"MEDALLION_GCS_PROJECT_ID"`
	BucketPrefix   string        `envconfig:"MEDALLION_GCS_BUCKET_PREFIX" default:"data-engineering-exam"`
	Location       string        `envconfig:"MEDALLION_GCS_LOCATION" default:"US"`
	MaxAttempts    int           `envconfig:"MEDALLION_GCS_MAX_ATTEMPTS" default:"3"`
	InitialBackoff time.Duration `envconfig:"MEDALLION_GCS_INITIAL_BACKOFF" default:"2s"`
	Verify         bool          `envconfig:"MEDALLION_GCS_VERIFY" default:"true"`
	Timeout        time.Duration `envconfig:"MEDALLION_GCS_TIMEOUT" default:"2m"`
}

type BigQueryConfig struct {
	Enabled   bool   `envconfig:"MEDALLION_BQ_ENABLED" default:"false"`
	ProjectID string `envconfig:"MEDALLION_BQ_PROJECT_ID"`
	Dataset   string `envconfig:"MEDALLION_BQ_DATASET" default:"medallion"`
	Table     string `envconfig:"MEDALLION_BQ_TABLE" default:"gold_daily_summary"`
}

type GeneratorConfig struct {
	Records   int   `envconfig:"MEDALLION_GEN_RECORDS" default:"25000"`
	Customers int   `envconfig:"MEDALLION_GEN_CUSTOMERS" default:"1000"`
	Merchants int   `envconfig:"MEDALLION_GEN_MERCHANTS" default:"200"`
	Days      int   `envconfig:"MEDALLION_GEN_DAYS" default:"30"`
	Seed      int64 `envconfig:"MEDALLION_GEN_SEED" default:"0"`
}

type APIConfig struct {
	Port string `envconfig:"MEDALLION_API_PORT" default:"8080"`
}

type WorkerConfig struct {
	Schedule     string        `envconfig:"MEDALLION_WORKER_SCHEDULE" default:"@every 1h"`
	Workers      int           `envconfig:"MEDALLION_WORKER_CONCURRENCY" default:"1"`
	QueueSize    int           `envconfig:"MEDALLION_WORKER_QUEUE_SIZE" default:"100"`
	MaxRetries   int           `envconfig:"MEDALLION_WORKER_MAX_RETRIES" default:"3"`
	RetryBackoff time.Duration `envconfig:"MEDALLION_WORKER_RETRY_BACKOFF" default:"1s"`
}

type MetricsConfig struct {
	Textfile string `envconfig:"MEDALLION_METRICS_TEXTFILE"`
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot check on its own.
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.App.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.App.LogFormat) {
	case logger.FormatConsole, logger.FormatJSON:
	default:
		return fmt.Errorf("invalid log format %q", c.App.LogFormat)
	}
	if strings.TrimSpace(c.DB.Path) == "" {
		return errors.New("db path is required")
	}
	if c.GCS.Enabled {
		if c.GCS.ProjectID == "" {
			return errors.New("gcs project id is required when gcs upload is enabled")
		}
		if c.GCS.MaxAttempts < 1 {
			return fmt.Errorf("gcs max attempts must be positive, got %d", c.GCS.MaxAttempts)
		}
	}
	if c.BigQuery.Enabled && c.BigQuery.ProjectID == "" {
		return errors.New("bigquery project id is required when publishing is enabled")
	}
	if c.Worker.Workers < 1 {
		return fmt.Errorf("worker concurrency must be positive, got %d", c.Worker.Workers)
	}
	if _, err := cron.ParseStandard(c.Worker.Schedule); err != nil {
		return fmt.Errorf("invalid worker schedule %q: %w", c.Worker.Schedule, err)
	}
	return nil
}

// IsDev reports whether the app runs in the dev environment.
func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, "dev")
}
