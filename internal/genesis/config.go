package genesis

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	SourceRegionalstatistik = "regionalstatistik"
	SourceLandesdatenbank   = "landesdatenbank"
)

const (
	DefaultPollInterval = 30 * time.Second
	DefaultMaxRetries   = 5
)

// Source presets for the two GENESIS deployments this project reads from.
var Presets = map[string]Config{
	SourceRegionalstatistik: {
		Name:         SourceRegionalstatistik,
		Description:  "Regionaldatenbank Deutschland (regionalstatistik.de)",
		APIURL:       "https://www.regionalstatistik.de/genesisws/rest/2020",
		PollInterval: DefaultPollInterval,
		MaxRetries:   DefaultMaxRetries,
	},
	SourceLandesdatenbank: {
		Name:         SourceLandesdatenbank,
		Description:  "Landesdatenbank NRW (landesdatenbank.nrw.de)",
		APIURL:       "https://www.landesdatenbank.nrw.de/ldbnrwws/rest/2020",
		PollInterval: DefaultPollInterval,
		MaxRetries:   DefaultMaxRetries,
	},
}

// Config holds the settings of one GENESIS source.
//
// RequestsPerMinute <= 0 disables the client-side rate limit.
// MaxRetries applies to the transport layer only; MaxAttempts bounds result polling.
type Config struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	APIURL      string `json:"api_url"`
	Username    string `json:"-"`
	Password    string `json:"-"`
	Language    string `json:"language"`

	Timeout           time.Duration `json:"timeout"`
	RequestsPerMinute int           `json:"requests_per_minute"`
	MaxAttempts       int           `json:"max_attempts"`
	PollInterval      time.Duration `json:"poll_interval"`
	MaxRetries        int           `json:"max_retries"`
	RetryBaseDelay    time.Duration `json:"retry_base_delay"`
}

// WithDefaults fills tuning fields whose zero value is invalid.
// PollInterval and MaxRetries may legitimately be zero and are left as given;
// Presets carry their defaults.
func (c Config) WithDefaults() Config {
	if c.Language == "" {
		c.Language = "de"
	}
	if c.Timeout == 0 {
		c.Timeout = 120 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 10
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = 2 * time.Second
	}
	return c
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("source name is required")
	}
	if strings.TrimSpace(c.APIURL) == "" {
		return fmt.Errorf("API URL is required")
	}
	if _, err := url.ParseRequestURI(c.APIURL); err != nil {
		return fmt.Errorf("invalid API URL: %w", err)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1")
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("poll interval must not be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	return nil
}

// GetHeaders returns the request headers. GENESIS authenticates with custom
// username/password headers instead of HTTP basic auth.
func (c *Config) GetHeaders() map[string]string {
	headers := map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
		"Accept":       "application/json",
	}
	if c.Username != "" {
		headers["username"] = c.Username
	}
	if c.Password != "" {
		headers["password"] = c.Password
	}
	return headers
}

func (c *Config) endpoint(path string) string {
	return strings.TrimRight(c.APIURL, "/") + path
}
