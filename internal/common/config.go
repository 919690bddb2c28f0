package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Storage     StorageConfig    `toml:"storage"`
	Queue       QueueConfig      `toml:"queue"`
	Workers     WorkersConfig    `toml:"workers"`
	Scheduler   SchedulerConfig  `toml:"scheduler"`
	Download    DownloadConfig   `toml:"download"`
	OCR         OCRConfig        `toml:"ocr"`
	LLM         LLMConfig        `toml:"llm"`
	Extraction  ExtractionConfig `toml:"extraction"`
	Logging     LoggingConfig    `toml:"logging"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path     string `toml:"path" validate:"required"`
	InMemory bool   `toml:"in_memory"` // In-memory store for tests
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // How often idle workers poll for messages
	VisibilityTimeout string `toml:"visibility_timeout"` // Message redelivery window
	MaxAttempts       int    `toml:"max_attempts" validate:"min=1"`
	BackoffInitial    string `toml:"backoff_initial"`
	BackoffFactor     float64 `toml:"backoff_factor"`
	BackoffMax        string `toml:"backoff_max"`
}

// WorkersConfig bounds per-queue concurrency. The effective limit is
// computed from free system memory at worker start:
// min(max, max(min, freeMemory*0.8/per_job_memory_mb)).
type WorkersConfig struct {
	MinConcurrency int `toml:"min_concurrency" validate:"min=1"`
	MaxConcurrency int `toml:"max_concurrency" validate:"min=1"`
	PerJobMemoryMB int `toml:"per_job_memory_mb" validate:"min=1"`
}

type SchedulerConfig struct {
	CaseTick        string `toml:"case_tick"`         // Cron spec for "process next pending case"
	OCRPollInterval string `toml:"ocr_poll_interval"` // Re-check interval for cloud OCR jobs
	OCRMaxAttempts  int    `toml:"ocr_max_attempts" validate:"min=1"`
	StaleThreshold  string `toml:"stale_threshold"` // Heartbeat age before a job counts as stalled
}

type DownloadConfig struct {
	Timeout      string `toml:"timeout"`
	MaxSizeMB    int    `toml:"max_size_mb" validate:"min=1"`
	MaxRetries   int    `toml:"max_retries"`
	RetryBackoff string `toml:"retry_backoff"`
}

// OCRConfig configures the local and cloud OCR collaborators.
type OCRConfig struct {
	LocalEnabled  bool   `toml:"local_enabled"`
	LocalBinary   string `toml:"local_binary"`   // tesseract binary path
	LocalLanguage string `toml:"local_language"` // e.g. "eng"
	CloudEndpoint string `toml:"cloud_endpoint"`
	CloudAPIKey   string `toml:"cloud_api_key"`
}

type LLMConfig struct {
	Provider       string  `toml:"provider" validate:"oneof=gemini claude"`
	GeminiAPIKey   string  `toml:"gemini_api_key"`
	ClaudeAPIKey   string  `toml:"claude_api_key"`
	Model          string  `toml:"model"`
	EmbeddingModel string  `toml:"embedding_model"`
	EmbedDimension int     `toml:"embed_dimension" validate:"min=1"`
	Temperature    float64 `toml:"temperature"`
	Timeout        string  `toml:"timeout"`
	RequestsPerMin int     `toml:"requests_per_min" validate:"min=1"`
}

type ExtractionConfig struct {
	ContextPages      int `toml:"context_pages" validate:"min=1"` // Top-K nearest pages for context
	StageDenominator  int `toml:"stage_denominator" validate:"min=1"`
	CompletionCeiling int `toml:"completion_ceiling" validate:"min=1,max=99"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// DefaultConfig returns configuration defaults applied before any file or
// environment override.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Badger: BadgerConfig{Path: "./data/caseflow"},
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			VisibilityTimeout: "5m",
			MaxAttempts:       3,
			BackoffInitial:    "2s",
			BackoffFactor:     2.0,
			BackoffMax:        "2m",
		},
		Workers: WorkersConfig{
			MinConcurrency: 2,
			MaxConcurrency: 16,
			PerJobMemoryMB: 256,
		},
		Scheduler: SchedulerConfig{
			CaseTick:        "0 * * * * *", // every minute, seconds-resolution cron
			OCRPollInterval: "2m",
			OCRMaxAttempts:  10,
			StaleThreshold:  "10m",
		},
		Download: DownloadConfig{
			Timeout:      "60s",
			MaxSizeMB:    100,
			MaxRetries:   3,
			RetryBackoff: "2s",
		},
		OCR: OCRConfig{
			LocalEnabled:  true,
			LocalBinary:   "tesseract",
			LocalLanguage: "eng",
		},
		LLM: LLMConfig{
			Provider:       "gemini",
			Model:          "gemini-2.0-flash",
			EmbeddingModel: "text-embedding-004",
			EmbedDimension: 768,
			Temperature:    0.1,
			Timeout:        "60s",
			RequestsPerMin: 60,
		},
		Extraction: ExtractionConfig{
			ContextPages:      3,
			StageDenominator:  2,
			CompletionCeiling: 95,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadConfig loads configuration in priority order:
// defaults -> config files (later overrides earlier) -> environment.
func LoadConfig(paths ...string) (*Config, error) {
	cfg := DefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CASEFLOW_ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("CASEFLOW_BADGER_PATH"); v != "" {
		cfg.Storage.Badger.Path = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.LLM.GeminiAPIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.ClaudeAPIKey = v
	}
	if v := os.Getenv("CASEFLOW_OCR_CLOUD_ENDPOINT"); v != "" {
		cfg.OCR.CloudEndpoint = v
	}
	if v := os.Getenv("CASEFLOW_OCR_CLOUD_API_KEY"); v != "" {
		cfg.OCR.CloudAPIKey = v
	}
	if v := os.Getenv("CASEFLOW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CASEFLOW_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers.MaxConcurrency = n
		}
	}
}

// ParseDuration parses a duration string with a fallback default. Invalid
// values fall back silently; config validation catches required fields.
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
