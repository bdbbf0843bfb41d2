package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/regional-stats-etl/internal/genesis"
)

func TestNewFromEnv_DataDirDefault(t *testing.T) {
	t.Setenv("DATA_DIR", "")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "/app/data", cfg.System.DataDir)
	assert.Equal(t, filepath.Join("/app/data", "regiostat.db"), cfg.DBPath())
	assert.Equal(t, filepath.Join("/app/data", "regionalstatistik_jobs.json"), cfg.CacheFilePath("regionalstatistik"))
	assert.Equal(t, filepath.Join("/app/data", "pipelines.yaml"), cfg.PipelinesPath())
	assert.Equal(t, filepath.Join("/app/data", "raw"), cfg.RawDir())
}

func TestNewFromEnv_DataDirFromEnv(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/regio-data")
	t.Setenv("PIPELINES_FILE", "/etc/regio/pipelines.yaml")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/regio-data", cfg.System.DataDir)
	assert.Equal(t, filepath.Join("/tmp/regio-data", "regiostat.db"), cfg.DBPath())
	assert.Equal(t, "/etc/regio/pipelines.yaml", cfg.PipelinesPath())
}

func TestNewFromEnv_Defaults(t *testing.T) {
	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "0 3 * * *", cfg.Schedule.CronExpr)
	assert.Equal(t, BackendJSON, cfg.System.CacheBackend)
	assert.Equal(t, "de", cfg.Genesis.Language)
	assert.Equal(t, 120*time.Second, cfg.Genesis.Timeout)
	assert.Equal(t, 30, cfg.Genesis.RequestsPerMinute)
	assert.Equal(t, 10, cfg.Genesis.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Genesis.PollInterval)
	assert.Equal(t, 5, cfg.Genesis.MaxRetries)
}

func TestNewFromEnv_GenesisTuning(t *testing.T) {
	t.Setenv("GENESIS_TIMEOUT", "45")
	t.Setenv("GENESIS_POLL_INTERVAL", "1m30s")
	t.Setenv("GENESIS_REQUESTS_PER_MINUTE", "0")
	t.Setenv("GENESIS_MAX_ATTEMPTS", "not-a-number")
	t.Setenv("JOB_CACHE_BACKEND", "SQLite")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Genesis.Timeout)
	assert.Equal(t, 90*time.Second, cfg.Genesis.PollInterval)
	assert.Zero(t, cfg.Genesis.RequestsPerMinute)
	assert.Equal(t, 10, cfg.Genesis.MaxAttempts, "invalid values fall back to the default")
	assert.Equal(t, BackendSQLite, cfg.System.CacheBackend)
}

func TestNewFromEnv_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"backend", map[string]string{"JOB_CACHE_BACKEND": "redis"}},
		{"language", map[string]string{"GENESIS_LANGUAGE": "not a language"}},
		{"cron", map[string]string{"CRON_EXPR": "every night"}},
		{"rpm", map[string]string{"GENESIS_REQUESTS_PER_MINUTE": "-1"}},
		{"attempts", map[string]string{"GENESIS_MAX_ATTEMPTS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := NewFromEnv()
			assert.Error(t, err)
		})
	}
}

func TestConfig_GenesisConfig(t *testing.T) {
	t.Setenv("REGIO_USERNAME", "user")
	t.Setenv("REGIO_PASSWORD", "secret")
	t.Setenv("LDB_API_URL", "https://ldb.example/rest/2020")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	regio, err := cfg.GenesisConfig(genesis.SourceRegionalstatistik)
	require.NoError(t, err)
	assert.Equal(t, "https://www.regionalstatistik.de/genesisws/rest/2020", regio.APIURL)
	assert.Equal(t, "user", regio.Username)
	assert.Equal(t, "secret", regio.Password)
	assert.Equal(t, 30, regio.RequestsPerMinute)
	assert.NoError(t, regio.Validate())

	ldb, err := cfg.GenesisConfig(genesis.SourceLandesdatenbank)
	require.NoError(t, err)
	assert.Equal(t, "https://ldb.example/rest/2020", ldb.APIURL)
	assert.Empty(t, ldb.Username)

	_, err = cfg.GenesisConfig("destatis")
	assert.Error(t, err)
}
