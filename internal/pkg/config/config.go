package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	IngestServerAddr string `env:"INGEST_SERVER_ADDR" envDefault:":8080"`
	AdminServerAddr  string `env:"ADMIN_SERVER_ADDR" envDefault:":9091"`

	MaxEventSize          int64 `env:"MAX_EVENT_SIZE_BYTES" envDefault:"1048576"` // 1MB
	MaxBulkSize           int64 `env:"MAX_BULK_SIZE_BYTES" envDefault:"16777216"` // 16MB
	MaxBulkRecords        int   `env:"MAX_BULK_RECORDS" envDefault:"1000"`
	BulkEnrichConcurrency int   `env:"BULK_ENRICH_CONCURRENCY" envDefault:"32"`

	PostgresURL string   `env:"POSTGRES_URL,required,notEmpty"`
	RedisAddr   string   `env:"REDIS_ADDR,required,notEmpty"`
	NATSURL     string   `env:"NATS_URL"`
	APIKeys     []string `env:"API_KEYS" envSeparator:"," envDefault:"123123123"`

	APIKeyDBLookup bool          `env:"API_KEY_DB_LOOKUP" envDefault:"false"`
	APIKeyCacheTTL time.Duration `env:"API_KEY_CACHE_TTL" envDefault:"5m"`

	EventDescriptionsKey string `env:"EVENT_DESCRIPTIONS_KEY" envDefault:"scanalyzer:event_descriptions"`

	ClassifierVocabPath string        `env:"CLASSIFIER_VOCAB_PATH"`
	ClassifierURL       string        `env:"CLASSIFIER_URL"`
	ClassifierTimeout   time.Duration `env:"CLASSIFIER_TIMEOUT" envDefault:"2s"`
	ClassifierRPS       float64       `env:"CLASSIFIER_RPS" envDefault:"50"`

	AlertLabels       []string `env:"ALERT_LABELS" envSeparator:"," envDefault:"anomaly"`
	TriggerLevelCodes []int    `env:"TRIGGER_LEVEL_CODES" envSeparator:"," envDefault:"1,2"`

	WALPath            string        `env:"WAL_PATH" envDefault:"./data/wal"`
	WALSegmentSize     int64         `env:"WAL_SEGMENT_SIZE_BYTES" envDefault:"104857600"`   // 100MB
	WALMaxDiskSize     int64         `env:"WAL_MAX_DISK_SIZE_BYTES" envDefault:"1073741824"` // 1GB
	AlertFeedStream    string        `env:"ALERT_FEED_STREAM" envDefault:"scanalyzer:alerts"`
	AlertFeedDLQStream string        `env:"ALERT_FEED_DLQ_STREAM" envDefault:"scanalyzer:alerts:dlq"`
	DispatchGroup      string        `env:"DISPATCH_GROUP" envDefault:"alert-dispatchers"`
	DispatchConsumer   string        `env:"DISPATCH_CONSUMER"`
	DispatchNotifier   string        `env:"DISPATCH_NOTIFIER" envDefault:"stdout"`
	DispatchSubject    string        `env:"DISPATCH_SUBJECT_PREFIX" envDefault:"scanalyzer.alert"`
	DispatchBatchSize  int           `env:"DISPATCH_BATCH_SIZE" envDefault:"100"`
	DispatchRetries    int           `env:"DISPATCH_RETRIES" envDefault:"3"`
	DispatchBackoff    time.Duration `env:"DISPATCH_BACKOFF" envDefault:"1s"`

	StreamWriteTimeout time.Duration `env:"STREAM_WRITE_TIMEOUT" envDefault:"5s"`
	StreamPongWait     time.Duration `env:"STREAM_PONG_WAIT" envDefault:"60s"`
	PauseScope         string        `env:"PAUSE_SCOPE" envDefault:"hub"`
	SSEBufferSize      int           `env:"SSE_BUFFER_SIZE" envDefault:"64"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
