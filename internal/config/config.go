package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"

	"github.com/MimeLyc/regional-stats-etl/internal/genesis"
	"github.com/MimeLyc/regional-stats-etl/pkg/log"
)

// Config holds all application configuration.
//
// Environment Variables:
// Sources:
// - REGIO_API_URL, REGIO_USERNAME, REGIO_PASSWORD: Regionaldatenbank Deutschland
// - LDB_API_URL, LDB_USERNAME, LDB_PASSWORD: Landesdatenbank NRW
//
// GENESIS client:
// - GENESIS_LANGUAGE: response language (default: de)
// - GENESIS_TIMEOUT: per-request timeout, Go duration or seconds (default: 120s)
// - GENESIS_REQUESTS_PER_MINUTE: client-side rate limit, 0 disables (default: 30)
// - GENESIS_MAX_ATTEMPTS: result polls per job (default: 10)
// - GENESIS_POLL_INTERVAL: wait between polls (default: 30s)
// - GENESIS_MAX_RETRIES: transport retries per request (default: 5)
//
// System:
// - DATA_DIR: cache files, database and raw dumps (default: /app/data)
// - JOB_CACHE_BACKEND: json or sqlite (default: json)
// - PIPELINES_FILE: pipeline definitions (default: $DATA_DIR/pipelines.yaml)
// - SETTINGS_FILE: runtime settings overrides (default: /app/config/settings.json)
// - LOG_LEVEL, LOG_FILE
//
// Schedule and HTTP:
// - CRON_EXPR: nightly run schedule (default: 0 3 * * *)
// - HTTP_ADDR: diagnostics API listen address (default: :8080)
type Config struct {
	Sources  map[string]SourceConfig `json:"sources"`
	Genesis  GenesisConfig           `json:"genesis"`
	System   SystemConfig            `json:"system"`
	Schedule ScheduleConfig          `json:"schedule"`
	HTTP     HTTPConfig              `json:"http"`
}

// SourceConfig holds endpoint and credentials of one GENESIS deployment.
type SourceConfig struct {
	APIURL   string `json:"api_url"`
	Username string `json:"username"`
	Password string `json:"-"`
}

// GenesisConfig holds client tuning shared by all sources.
type GenesisConfig struct {
	Language          string        `json:"language"`
	Timeout           time.Duration `json:"timeout"`
	RequestsPerMinute int           `json:"requests_per_minute"`
	MaxAttempts       int           `json:"max_attempts"`
	PollInterval      time.Duration `json:"poll_interval"`
	MaxRetries        int           `json:"max_retries"`
}

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

type SystemConfig struct {
	DataDir       string `json:"data_dir"`
	CacheBackend  string `json:"cache_backend"`
	PipelinesFile string `json:"pipelines_file"`
	SettingsFile  string `json:"settings_file"`
	LogLevel      string `json:"log_level"`
	LogFile       string `json:"log_file"`
}

type ScheduleConfig struct {
	CronExpr string `json:"cron_expr"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

// Option is a function type for configuring Config
type Option func(*Config)

func WithDataDir(dir string) Option {
	return func(c *Config) {
		c.System.DataDir = dir
	}
}

func WithCacheBackend(backend string) Option {
	return func(c *Config) {
		c.System.CacheBackend = backend
	}
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	dataDir := getEnvString("DATA_DIR", "/app/data")
	config := &Config{
		Sources: map[string]SourceConfig{
			genesis.SourceRegionalstatistik: {
				APIURL:   getEnvString("REGIO_API_URL", genesis.Presets[genesis.SourceRegionalstatistik].APIURL),
				Username: getEnvString("REGIO_USERNAME", ""),
				Password: getEnvString("REGIO_PASSWORD", ""),
			},
			genesis.SourceLandesdatenbank: {
				APIURL:   getEnvString("LDB_API_URL", genesis.Presets[genesis.SourceLandesdatenbank].APIURL),
				Username: getEnvString("LDB_USERNAME", ""),
				Password: getEnvString("LDB_PASSWORD", ""),
			},
		},
		Genesis: GenesisConfig{
			Language:          getEnvString("GENESIS_LANGUAGE", "de"),
			Timeout:           getEnvDuration("GENESIS_TIMEOUT", 120*time.Second),
			RequestsPerMinute: getEnvInt("GENESIS_REQUESTS_PER_MINUTE", 30),
			MaxAttempts:       getEnvInt("GENESIS_MAX_ATTEMPTS", 10),
			PollInterval:      getEnvDuration("GENESIS_POLL_INTERVAL", genesis.DefaultPollInterval),
			MaxRetries:        getEnvInt("GENESIS_MAX_RETRIES", genesis.DefaultMaxRetries),
		},
		System: SystemConfig{
			DataDir:       dataDir,
			CacheBackend:  strings.ToLower(getEnvString("JOB_CACHE_BACKEND", BackendJSON)),
			PipelinesFile: getEnvString("PIPELINES_FILE", ""),
			SettingsFile:  getEnvString("SETTINGS_FILE", DefaultRuntimeSettingsFile),
			LogLevel:      getEnvString("LOG_LEVEL", "info"),
			LogFile:       getEnvString("LOG_FILE", ""),
		},
		Schedule: ScheduleConfig{
			CronExpr: getEnvString("CRON_EXPR", "0 3 * * *"),
		},
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":8080"),
		},
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: data_dir=%s backend=%s rpm=%d attempts=%d poll=%s",
		config.System.DataDir, config.System.CacheBackend, config.Genesis.RequestsPerMinute,
		config.Genesis.MaxAttempts, config.Genesis.PollInterval)

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if strings.TrimSpace(c.System.DataDir) == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	switch c.System.CacheBackend {
	case BackendJSON, BackendSQLite:
	default:
		return fmt.Errorf("JOB_CACHE_BACKEND must be %q or %q, got %q", BackendJSON, BackendSQLite, c.System.CacheBackend)
	}
	if _, err := language.Parse(c.Genesis.Language); err != nil {
		return fmt.Errorf("invalid GENESIS_LANGUAGE %q: %w", c.Genesis.Language, err)
	}
	if c.Genesis.Timeout <= 0 {
		return fmt.Errorf("GENESIS_TIMEOUT must be greater than 0")
	}
	if c.Genesis.RequestsPerMinute < 0 {
		return fmt.Errorf("GENESIS_REQUESTS_PER_MINUTE must not be negative")
	}
	if c.Genesis.MaxAttempts < 1 {
		return fmt.Errorf("GENESIS_MAX_ATTEMPTS must be at least 1")
	}
	if c.Genesis.PollInterval < 0 {
		return fmt.Errorf("GENESIS_POLL_INTERVAL must not be negative")
	}
	if c.Genesis.MaxRetries < 0 {
		return fmt.Errorf("GENESIS_MAX_RETRIES must not be negative")
	}
	if _, err := cron.ParseStandard(c.Schedule.CronExpr); err != nil {
		return fmt.Errorf("invalid CRON_EXPR: %w", err)
	}
	return nil
}

// SourceNames returns the configured sources in a stable order.
func (c *Config) SourceNames() []string {
	return []string{genesis.SourceRegionalstatistik, genesis.SourceLandesdatenbank}
}

// GenesisConfig returns the client configuration of one source.
func (c *Config) GenesisConfig(source string) (genesis.Config, error) {
	preset, ok := genesis.Presets[source]
	if !ok {
		return genesis.Config{}, fmt.Errorf("unknown source %q", source)
	}
	src := c.Sources[source]
	preset.APIURL = src.APIURL
	preset.Username = src.Username
	preset.Password = src.Password
	preset.Language = c.Genesis.Language
	preset.Timeout = c.Genesis.Timeout
	preset.RequestsPerMinute = c.Genesis.RequestsPerMinute
	preset.MaxAttempts = c.Genesis.MaxAttempts
	preset.PollInterval = c.Genesis.PollInterval
	preset.MaxRetries = c.Genesis.MaxRetries
	return preset, nil
}

// DBPath is the SQLite database holding the warehouse and, with the sqlite
// backend, the job cache.
func (c *Config) DBPath() string {
	return filepath.Join(c.System.DataDir, "regiostat.db")
}

// CacheFilePath is the JSON job cache of one source.
func (c *Config) CacheFilePath(source string) string {
	return filepath.Join(c.System.DataDir, source+"_jobs.json")
}

func (c *Config) RawDir() string {
	return filepath.Join(c.System.DataDir, "raw")
}

func (c *Config) PipelinesPath() string {
	if c.System.PipelinesFile != "" {
		return c.System.PipelinesFile
	}
	return filepath.Join(c.System.DataDir, "pipelines.yaml")
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "2m") and plain seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	log.Warn("Ignoring invalid %s=%q", key, value)
	return defaultValue
}
