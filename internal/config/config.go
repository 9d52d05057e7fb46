// Package config loads service settings from the environment, with an
// optional .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/deusflow/dailynews/internal/news"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	// HTTP settings
	Port      string
	StaticDir string
	GinMode   string

	// Gemini settings
	GeminiAPIKey      string
	GeminiModel       string
	MaxGeminiRequests int // per 24h window (0 = unlimited)
	SummaryLanguage   string

	// OpenAI fallback, used when Gemini fails
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	// Sources
	SourcesConfigPath string // optional YAML override of the embedded registry

	// Selection settings
	MinImportanceScore     float64
	MaxArticlesPerCategory int
	OnlyYesterday          bool
	Location               *time.Location

	// Fetch settings
	FetchConcurrency    int
	FetchTimeout        time.Duration
	HostRequestInterval time.Duration
	RetryAttempts       int
	RetryDelay          time.Duration

	// Cache settings
	CacheTTL time.Duration

	// Analysis store: Postgres when DatabaseURL is set, else the JSON file
	DatabaseURL       string
	AnalysisCacheFile string
	AnalysisCacheTTL  time.Duration

	// Telegram digest
	TelegramToken  string
	TelegramChatID string

	// App settings
	LogLevel string
	Debug    bool
}

// Load reads .env (when present) and the environment, then validates.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the config from environment variables only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:      getEnvOrDefault("PORT", "3000"),
		StaticDir: getEnvOrDefault("STATIC_DIR", "public"),
		GinMode:   os.Getenv("GIN_MODE"),

		GeminiAPIKey:      strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:       getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		MaxGeminiRequests: getEnvIntOrDefault("MAX_GEMINI_REQUESTS", 200),
		SummaryLanguage:   getEnvOrDefault("SUMMARY_LANGUAGE", "French"),

		OpenAIAPIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIModel:   os.Getenv("OPENAI_MODEL"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),

		SourcesConfigPath: os.Getenv("SOURCES_CONFIG_PATH"),

		MinImportanceScore:     getEnvFloatOrDefault("MIN_IMPORTANCE_SCORE", news.DefaultMinImportanceScore),
		MaxArticlesPerCategory: getEnvIntOrDefault("MAX_ARTICLES_PER_CATEGORY", news.DefaultMaxArticlesPerCategory),
		OnlyYesterday:          getEnvBoolOrDefault("ONLY_YESTERDAY", true),

		FetchConcurrency:    getEnvIntOrDefault("FETCH_CONCURRENCY", 8),
		FetchTimeout:        time.Duration(getEnvIntOrDefault("FETCH_TIMEOUT_SECONDS", 10)) * time.Second,
		HostRequestInterval: time.Duration(getEnvIntOrDefault("HOST_REQUEST_INTERVAL_MS", 250)) * time.Millisecond,
		RetryAttempts:       getEnvIntOrDefault("RETRY_ATTEMPTS", 2),
		RetryDelay:          time.Duration(getEnvIntOrDefault("RETRY_DELAY_MS", 500)) * time.Millisecond,

		CacheTTL: time.Duration(getEnvIntOrDefault("CACHE_TTL_MINUTES", 30)) * time.Minute,

		DatabaseURL:       os.Getenv("DATABASE_URL"),
		AnalysisCacheFile: os.Getenv("ANALYSIS_CACHE_FILE"),
		AnalysisCacheTTL:  time.Duration(getEnvIntOrDefault("ANALYSIS_CACHE_TTL_HOURS", 72)) * time.Hour,

		TelegramToken:  strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")),
		TelegramChatID: strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")),

		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		Debug:    os.Getenv("DEBUG") == "true",
	}

	loc, err := loadLocation(os.Getenv("TIMEZONE"))
	if err != nil {
		return nil, err
	}
	cfg.Location = loc

	return cfg, cfg.Validate()
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: TIMEZONE %q: %v", ErrInvalidConfig, name, err)
	}
	return loc, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func (c *Config) Validate() error {
	if p, err := strconv.Atoi(c.Port); err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("%w: PORT must be a valid port, got %q", ErrInvalidConfig, c.Port)
	}
	if c.MinImportanceScore < news.MinScore || c.MinImportanceScore > news.MaxScore {
		return fmt.Errorf("%w: MIN_IMPORTANCE_SCORE must be within [0,10]", ErrInvalidConfig)
	}
	if c.MaxArticlesPerCategory < 0 {
		return fmt.Errorf("%w: MAX_ARTICLES_PER_CATEGORY must be >= 0", ErrInvalidConfig)
	}
	if c.MaxGeminiRequests < 0 {
		return fmt.Errorf("%w: MAX_GEMINI_REQUESTS must be >= 0", ErrInvalidConfig)
	}
	if c.FetchConcurrency <= 0 {
		return fmt.Errorf("%w: FETCH_CONCURRENCY must be > 0", ErrInvalidConfig)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("%w: FETCH_TIMEOUT_SECONDS must be > 0", ErrInvalidConfig)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("%w: CACHE_TTL_MINUTES must be > 0", ErrInvalidConfig)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("%w: RETRY_ATTEMPTS must be >= 1", ErrInvalidConfig)
	}
	if c.AnalysisCacheTTL < 0 {
		return fmt.Errorf("%w: ANALYSIS_CACHE_TTL_HOURS must be >= 0", ErrInvalidConfig)
	}
	if (c.TelegramToken == "") != (c.TelegramChatID == "") {
		return fmt.Errorf("%w: TELEGRAM_TOKEN and TELEGRAM_CHAT_ID must be set together", ErrInvalidConfig)
	}
	return nil
}

// AIEnabled reports whether a Gemini key is configured.
func (c *Config) AIEnabled() bool {
	return c.GeminiAPIKey != ""
}

// FallbackEnabled reports whether an OpenAI key is configured.
func (c *Config) FallbackEnabled() bool {
	return c.OpenAIAPIKey != ""
}

// TelegramEnabled reports whether the digest can be published.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != ""
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// PipelineOptions maps the selection settings onto news.Options.
func (c *Config) PipelineOptions() news.Options {
	opts := news.DefaultOptions()
	opts.MinImportanceScore = c.MinImportanceScore
	opts.MaxArticlesPerCategory = c.MaxArticlesPerCategory
	opts.OnlyYesterday = c.OnlyYesterday
	opts.Location = c.Location
	return opts
}
