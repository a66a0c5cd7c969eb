// Package catalog implements the product sync pipeline: input batches
// are recorded in a sqlite ledger and every product walks a persisted
// state machine from scrape through image fetch to catalog upload. All
// work is derived from persisted status so a crashed or cancelled run
// resumes where it stopped.
package catalog

import (
	"database/sql"
	"sync"
	"time"

	"catalogsync-backend/lib/retrier"
	"catalogsync-backend/services/catalog/db"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("services/catalog")

type Config struct {
	// InputDir is swept for new html snapshots and csv batches.
	InputDir string `json:"input_dir"`
	// ImageDir receives raw downloads, OptimizedDir the re-encoded
	// copies handed to the uploader.
	ImageDir     string `json:"image_dir"`
	OptimizedDir string `json:"optimized_dir"`

	// MaxRetries is the total number of attempts per adapter call.
	MaxRetries       int `json:"max_retries"`
	RetryBaseDelayMs int `json:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `json:"retry_max_delay_ms"`
	// AdapterTimeoutSeconds bounds one in-flight adapter call.
	AdapterTimeoutSeconds int `json:"adapter_timeout_seconds"`

	// concurrency caps, one per resource class
	ScrapeWorkers int `json:"scrape_workers"`
	ImageWorkers  int `json:"image_workers"`
	UploadWorkers int `json:"upload_workers"`
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelayMs <= 0 {
		c.RetryBaseDelayMs = 500
	}
	if c.RetryMaxDelayMs <= 0 {
		c.RetryMaxDelayMs = 15000
	}
	if c.AdapterTimeoutSeconds <= 0 {
		c.AdapterTimeoutSeconds = 120
	}
	if c.ScrapeWorkers <= 0 {
		c.ScrapeWorkers = 2
	}
	if c.ImageWorkers <= 0 {
		c.ImageWorkers = 4
	}
	if c.UploadWorkers <= 0 {
		c.UploadWorkers = 2
	}
	return c
}

func (c Config) retryPolicy() retrier.Policy {
	return retrier.Policy{
		MaxAttempts:    c.MaxRetries,
		BaseDelay:      time.Duration(c.RetryBaseDelayMs) * time.Millisecond,
		MaxDelay:       time.Duration(c.RetryMaxDelayMs) * time.Millisecond,
		AttemptTimeout: time.Duration(c.AdapterTimeoutSeconds) * time.Second,
	}
}

// Adapters are the external collaborators the pipeline drives. Any of
// them may be nil in restricted runs (extract-only needs no uploader).
type Adapters struct {
	Extractor Extractor
	Fetcher   ImageFetcher
	Optimizer ImageOptimizer
	Uploader  Uploader
}

type Service struct {
	database *sql.DB
	qry      *db.Queries
	adapters Adapters
	config   Config
	retry    retrier.Policy

	// commitMu serializes ledger commits that touch the per-file
	// aggregate counters so concurrent workers never lose an update.
	commitMu sync.Mutex
}

func NewService(database *sql.DB, adapters Adapters, config Config) *Service {
	config = config.withDefaults()
	return &Service{
		database: database,
		qry:      db.New(database),
		adapters: adapters,
		config:   config,
		retry:    config.retryPolicy(),
	}
}

func now() int64 {
	return time.Now().Unix()
}
