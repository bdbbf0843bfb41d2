package main

import (
	"fmt"
	"os"

	"github.com/MimeLyc/regional-stats-etl/internal/config"
	"github.com/MimeLyc/regional-stats-etl/internal/genesis"
	"github.com/MimeLyc/regional-stats-etl/internal/jobs"
	"github.com/MimeLyc/regional-stats-etl/internal/persistence"
	"github.com/MimeLyc/regional-stats-etl/internal/pipeline"
	"github.com/MimeLyc/regional-stats-etl/pkg/log"
)

// app wires the configured stores and clients for one command invocation.
type app struct {
	cfg    *config.Config
	db     *persistence.SQLiteStore
	caches map[string]jobs.Store
}

func openApp(cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.System.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:    cfg,
		db:     db,
		caches: make(map[string]jobs.Store),
	}
	for _, source := range cfg.SourceNames() {
		a.caches[source] = a.newCache(source)
	}
	log.Debug("Opened %s with %s job cache", cfg.DBPath(), cfg.System.CacheBackend)
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func (a *app) newCache(source string) jobs.Store {
	if a.cfg.System.CacheBackend == config.BackendSQLite {
		return a.db.JobCache(source)
	}
	return jobs.NewFileStore(a.cfg.CacheFilePath(source), source, genesis.Presets[source].Description)
}

func (a *app) cache(source string) (jobs.Store, error) {
	cache, ok := a.caches[source]
	if !ok {
		return nil, fmt.Errorf("unknown source %q (known: %v)", source, a.cfg.SourceNames())
	}
	return cache, nil
}

func (a *app) client(source string) (*genesis.Client, error) {
	cache, err := a.cache(source)
	if err != nil {
		return nil, err
	}
	gcfg, err := a.cfg.GenesisConfig(source)
	if err != nil {
		return nil, err
	}
	if gcfg.Username == "" || gcfg.Password == "" {
		log.Warn("No credentials configured for %s, requests will be anonymous", source)
	}
	return genesis.NewClient(gcfg, cache)
}

func (a *app) runner() (*pipeline.Runner, error) {
	pipelines, err := config.LoadPipelines(a.cfg.PipelinesPath())
	if err != nil {
		return nil, err
	}
	fetchers := make([]pipeline.Fetcher, 0, len(a.caches))
	for _, source := range a.cfg.SourceNames() {
		c, err := a.client(source)
		if err != nil {
			return nil, err
		}
		fetchers = append(fetchers, c)
	}
	return pipeline.NewRunner(fetchers, a.db, pipelines, a.cfg.RawDir()), nil
}
