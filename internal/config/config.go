/**
 * Configuration for the OCR Diff Worker
 *
 * Loads configuration from environment variables, optionally layered over a
 * YAML file named by CONFIG_PATH. Environment always wins over the file.
 */

package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/adverant/nexus/ocrdiff-worker/internal/diff"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL string `yaml:"redis_url" env:"REDIS_URL" env-default:"redis://nexus-redis:6379"`

	// PostgreSQL configuration
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL" env-required:"true"`

	// Qdrant change index configuration
	QdrantURL            string `yaml:"qdrant_url" env:"QDRANT_URL" env-default:"nexus-qdrant:6334"`
	QdrantCollection     string `yaml:"qdrant_collection" env:"QDRANT_COLLECTION" env-default:"ocrdiff_changes"`
	ChangeIndexEnabled   bool   `yaml:"change_index_enabled" env:"CHANGE_INDEX_ENABLED" env-default:"true"`
	FingerprintDimension int    `yaml:"fingerprint_dimensions" env:"FINGERPRINT_DIMENSIONS" env-default:"256"`

	// Queue configuration
	QueueBackend string `yaml:"queue_backend" env:"QUEUE_BACKEND" env-default:"redis"`
	QueueName    string `yaml:"queue_name" env:"QUEUE_NAME" env-default:"ocrdiff:jobs"`

	// Worker configuration
	WorkerConcurrency int   `yaml:"worker_concurrency" env:"WORKER_CONCURRENCY" env-default:"10"`
	PageWorkers       int   `yaml:"page_workers" env:"PAGE_WORKERS" env-default:"4"`
	ProcessingTimeout int   `yaml:"processing_timeout" env:"PROCESSING_TIMEOUT" env-default:"300000"` // ms
	MaxPageImageSize  int64 `yaml:"max_page_image_size" env:"MAX_PAGE_IMAGE_SIZE" env-default:"52428800"`

	// Rasterization and line grouping
	RasterDPI          int     `yaml:"raster_dpi" env:"RASTER_DPI" env-default:"300"`
	LineToleranceRatio float64 `yaml:"line_tolerance_ratio" env:"LINE_TOLERANCE_RATIO" env-default:"0.5"`
	LineTolerancePx    int     `yaml:"line_tolerance_px" env:"LINE_TOLERANCE_PX" env-default:"0"`
	MaxWordGapPx       int     `yaml:"max_word_gap_px" env:"MAX_WORD_GAP_PX" env-default:"0"`
	CharCleanup        bool    `yaml:"char_cleanup" env:"CHAR_CLEANUP" env-default:"true"`

	// Tesseract configuration
	TesseractLanguages string `yaml:"tesseract_languages" env:"TESSERACT_LANGUAGES" env-default:"eng"`

	// Logging
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`

	// Node environment
	NodeEnv string `yaml:"node_env" env:"NODE_ENV" env-default:"development"`
}

// LoadConfig loads configuration from CONFIG_PATH (if set) and the environment
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(os.Getenv("CONFIG_PATH"))
}

// LoadConfigFrom loads configuration from the given YAML file overlaid with
// environment variables. An empty path reads the environment only.
func LoadConfigFrom(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("cannot read config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("cannot read environment: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.ChangeIndexEnabled && c.QdrantURL == "" {
		return fmt.Errorf("QDRANT_URL is required when CHANGE_INDEX_ENABLED is set")
	}

	if c.FingerprintDimension < 16 || c.FingerprintDimension > 4096 {
		return fmt.Errorf("FINGERPRINT_DIMENSIONS must be between 16 and 4096, got %d", c.FingerprintDimension)
	}

	switch c.QueueBackend {
	case "redis", "asynq":
	default:
		return fmt.Errorf("QUEUE_BACKEND must be redis or asynq, got %q", c.QueueBackend)
	}

	if c.QueueName == "" {
		return fmt.Errorf("QUEUE_NAME is required")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.PageWorkers < 1 || c.PageWorkers > 64 {
		return fmt.Errorf("PAGE_WORKERS must be between 1 and 64, got %d", c.PageWorkers)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	if c.MaxPageImageSize < 1024 || c.MaxPageImageSize > 1073741824 { // 1KB to 1GB
		return fmt.Errorf("MAX_PAGE_IMAGE_SIZE must be between 1KB and 1GB, got %d", c.MaxPageImageSize)
	}

	if c.RasterDPI < 72 || c.RasterDPI > 600 {
		return fmt.Errorf("RASTER_DPI must be between 72 and 600, got %d", c.RasterDPI)
	}

	if c.LineToleranceRatio <= 0 || c.LineToleranceRatio > 5 {
		return fmt.Errorf("LINE_TOLERANCE_RATIO must be in (0, 5], got %g", c.LineToleranceRatio)
	}

	if c.LineTolerancePx < 0 {
		return fmt.Errorf("LINE_TOLERANCE_PX must not be negative, got %d", c.LineTolerancePx)
	}

	if c.MaxWordGapPx < 0 {
		return fmt.Errorf("MAX_WORD_GAP_PX must not be negative, got %d", c.MaxWordGapPx)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel)
	}

	return nil
}

// DiffOptions maps the configuration onto comparison options
func (c *Config) DiffOptions() diff.Options {
	opts := diff.DefaultOptions()
	opts.Grouping = diff.GroupOptions{
		ToleranceRatio: c.LineToleranceRatio,
		TolerancePx:    c.LineTolerancePx,
		MaxWordGap:     c.MaxWordGapPx,
	}
	opts.CharCleanup = c.CharCleanup
	opts.PageWorkers = c.PageWorkers
	return opts
}

// Languages splits TESSERACT_LANGUAGES on '+' or ','
func (c *Config) Languages() []string {
	fields := strings.FieldsFunc(c.TesseractLanguages, func(r rune) bool {
		return r == '+' || r == ','
	})
	langs := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			langs = append(langs, f)
		}
	}
	return langs
}

// IsProduction reports whether NODE_ENV is production
func (c *Config) IsProduction() bool {
	return c.NodeEnv == "production"
}

// Endpoints describes the backends with any URL password masked
func (c *Config) Endpoints() string {
	return fmt.Sprintf("Redis=%s, Database=%s, Qdrant=%s",
		redactURL(c.RedisURL), redactURL(c.DatabaseURL), c.QdrantURL)
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}
