package config

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN          string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL          string `env:"RABBITMQ_URL,required=true"`
	RedisURL             string `env:"REDIS_URL,required=true"`
	EncryptionKey        string `env:"ENCRYPTION_KEY,required=true"`
	S3Bucket             string `env:"S3_BUCKET,default=docflow-uploads"`
	AWSRegion            string `env:"AWS_REGION,default=eu-central-1"`
	S3Endpoint           string `env:"S3_ENDPOINT"`
	DocumentProcessorURL string `env:"DOCUMENT_PROCESSOR_URL,default=http://localhost:8090"`
	RateLimitPerSec      int    `env:"RATE_LIMIT_PER_SEC,default=20"`
	WorkerConcurrency    int    `env:"WORKER_CONCURRENCY,default=16"`
	APIPort              int    `env:"API_PORT,default=8080"`
	MetricsPort          int    `env:"METRICS_PORT,default=9090"`
	LogLevel             string `env:"LOG_LEVEL,default=info"`
	MaxBatchFiles        int    `env:"MAX_BATCH_FILES,default=500"`

	RetrySweepInterval time.Duration `env:"RETRY_SWEEP_INTERVAL,default=5s"`
	RetrySweepLimit    int           `env:"RETRY_SWEEP_LIMIT,default=100"`
	RetryBaseDelay     time.Duration `env:"RETRY_BASE_DELAY,default=30s"`
	RetryMaxDelay      time.Duration `env:"RETRY_MAX_DELAY,default=1h"`
	DeliveryLease      time.Duration `env:"DELIVERY_LEASE,default=2m"`
	RequeueAfter       time.Duration `env:"REQUEUE_AFTER,default=10m"`

	RecordResultsAfterCancel bool `env:"RECORD_RESULTS_AFTER_CANCEL,default=true"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	key, err := base64.StdEncoding.DecodeString(c.EncryptionKey)
	if err != nil {
		return fmt.Errorf("ENCRYPTION_KEY must be base64: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("RETRY_MAX_DELAY must be >= RETRY_BASE_DELAY > 0")
	}
	if c.MaxBatchFiles < 1 {
		return fmt.Errorf("MAX_BATCH_FILES must be >= 1")
	}
	return nil
}
