package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/regional-stats-etl/internal/config"
	"github.com/MimeLyc/regional-stats-etl/pkg/log"
)

var (
	envFile      string
	outputFmt    string
	dataDir      string
	cacheBackend string

	cfg        *config.Config
	fileLogger *log.FileLogger
)

var rootCmd = &cobra.Command{
	Use:   "regiostat",
	Short: "Load GENESIS regional statistics into the local warehouse",
	Long: `regiostat fetches tables from the GENESIS databases of the German statistical
offices (Regionaldatenbank Deutschland, Landesdatenbank NRW) and loads them into
a local SQLite warehouse.

Large tables are produced asynchronously by GENESIS. Their job handles are kept
in a job cache so that a later run picks up the result instead of submitting
the same table again.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load before reading configuration")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override DATA_DIR")
	rootCmd.PersistentFlags().StringVar(&cacheBackend, "backend", "", "Override JOB_CACHE_BACKEND (json or sqlite)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(serveCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	// A missing .env file is fine; the environment may already be set.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	var opts []config.Option
	if dataDir != "" {
		opts = append(opts, config.WithDataDir(dataDir))
	}
	if cacheBackend != "" {
		opts = append(opts, config.WithCacheBackend(cacheBackend))
	}
	if settings, err := config.LoadRuntimeSettingsFile(settingsPath()); err == nil {
		opts = append(opts, config.WithRuntimeSettings(settings))
	}

	loaded, err := config.NewFromEnv(opts...)
	if err != nil {
		return err
	}
	cfg = loaded

	level := log.ParseLevel(cfg.System.LogLevel)
	if cfg.System.LogFile != "" {
		fl, err := log.NewFileLogger(cfg.System.LogFile, level)
		if err != nil {
			return err
		}
		fileLogger = fl
		log.SetLogger(fl.Logger)
	} else {
		log.SetLogger(log.NewWriterLogger(os.Stderr, level))
	}
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if fileLogger != nil {
		return fileLogger.Close()
	}
	return nil
}

// settingsPath resolves SETTINGS_FILE before the config is loaded, since the
// settings file itself feeds into the config.
func settingsPath() string {
	if p := os.Getenv("SETTINGS_FILE"); p != "" {
		return p
	}
	return config.DefaultRuntimeSettingsFile
}
