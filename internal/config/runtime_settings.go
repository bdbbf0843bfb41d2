package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"

	"github.com/MimeLyc/regional-stats-etl/pkg/file"
)

const DefaultRuntimeSettingsFile = "/app/config/settings.json"

// RuntimeSettings are the operator-tunable values that can be changed through
// the diagnostics API without editing the environment.
type RuntimeSettings struct {
	CronExpr          string `json:"cron_expr"`
	Language          string `json:"language"`
	RequestsPerMinute int    `json:"requests_per_minute"`
	MaxAttempts       int    `json:"max_attempts"`
	PollInterval      string `json:"poll_interval"`
}

func (s RuntimeSettings) Validate() error {
	if strings.TrimSpace(s.CronExpr) == "" {
		return fmt.Errorf("cron_expr is required")
	}
	if _, err := cron.ParseStandard(s.CronExpr); err != nil {
		return fmt.Errorf("invalid cron_expr: %w", err)
	}
	if strings.TrimSpace(s.Language) == "" {
		return fmt.Errorf("language is required")
	}
	if _, err := language.Parse(s.Language); err != nil {
		return fmt.Errorf("invalid language: %w", err)
	}
	if s.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must not be negative")
	}
	if s.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	d, err := time.ParseDuration(s.PollInterval)
	if err != nil {
		return fmt.Errorf("invalid poll_interval: %w", err)
	}
	if d < 0 {
		return fmt.Errorf("poll_interval must not be negative")
	}
	return nil
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		CronExpr:          c.Schedule.CronExpr,
		Language:          c.Genesis.Language,
		RequestsPerMinute: c.Genesis.RequestsPerMinute,
		MaxAttempts:       c.Genesis.MaxAttempts,
		PollInterval:      c.Genesis.PollInterval.String(),
	}
}

// WithRuntimeSettings overrides the environment with non-empty settings.
func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if strings.TrimSpace(settings.CronExpr) != "" {
			c.Schedule.CronExpr = settings.CronExpr
		}
		if tag, err := language.Parse(settings.Language); err == nil {
			c.Genesis.Language = tag.String()
		}
		if settings.RequestsPerMinute > 0 {
			c.Genesis.RequestsPerMinute = settings.RequestsPerMinute
		}
		if settings.MaxAttempts > 0 {
			c.Genesis.MaxAttempts = settings.MaxAttempts
		}
		if d, err := time.ParseDuration(settings.PollInterval); err == nil && d > 0 {
			c.Genesis.PollInterval = d
		}
	}
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')
	return file.WriteAtomic(path, content, 0o600)
}

type RuntimeSettingsStore struct {
	path string

	mu      sync.RWMutex
	current RuntimeSettings
}

func NewRuntimeSettingsStore(path string, initial RuntimeSettings) (*RuntimeSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeSettingsStore{
		path:    path,
		current: initial,
	}, nil
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() (RuntimeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	if err := next.Validate(); err != nil {
		return RuntimeSettings{}, err
	}
	if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
		return RuntimeSettings{}, err
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return next, nil
}
