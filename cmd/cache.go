package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/regional-stats-etl/internal/genesis"
	"github.com/MimeLyc/regional-stats-etl/internal/jobs"
)

var (
	cacheSource    string
	cacheStatus    string
	cacheAddStatus string
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and repair the job cache",
	Long: `Inspect and repair the job cache of one source.

A cached handle that can no longer be retrieved is never resubmitted
automatically. Use "cache clear" to drop it so the next run submits the table
again, or "cache add" to register a handle obtained elsewhere.`,
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached job handles",
	Args:  cobra.NoArgs,
	RunE:  runCacheList,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear <table> <period>",
	Short: "Remove a cached job handle",
	Args:  cobra.ExactArgs(2),
	RunE:  runCacheClear,
}

var cacheAddCmd = &cobra.Command{
	Use:     "add <table> <period> <job-id>",
	Short:   "Register an existing job handle",
	Example: `  regiostat cache add 71517-01i 2009-2024 71517-01i_123456789 --source regionalstatistik`,
	Args:    cobra.ExactArgs(3),
	RunE:    runCacheAdd,
}

var cacheMarkCmd = &cobra.Command{
	Use:   "mark <table> <period> <status>",
	Short: "Move a cached entry to another status",
	Args:  cobra.ExactArgs(3),
	RunE:  runCacheMark,
}

var cacheImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Copy entries of a JSON cache file into the configured backend",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheImport,
}

func init() {
	cacheCmd.PersistentFlags().StringVar(&cacheSource, "source", genesis.SourceRegionalstatistik, "GENESIS source")
	cacheListCmd.Flags().StringVar(&cacheStatus, "status", "", "Only show entries with this status")
	cacheAddCmd.Flags().StringVar(&cacheAddStatus, "status", string(jobs.StatusReady), "Initial status")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheAddCmd)
	cacheCmd.AddCommand(cacheMarkCmd)
	cacheCmd.AddCommand(cacheImportCmd)
}

func withCache(fn func(cache jobs.Store) error) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	cache, err := a.cache(cacheSource)
	if err != nil {
		return err
	}
	return fn(cache)
}

func runCacheList(cmd *cobra.Command, args []string) error {
	return withCache(func(cache jobs.Store) error {
		entries, err := cache.List(cmd.Context())
		if err != nil {
			return err
		}

		keys := make([]string, 0, len(entries))
		for key, entry := range entries {
			if cacheStatus != "" && string(entry.Status) != cacheStatus {
				continue
			}
			keys = append(keys, key)
		}
		sort.Strings(keys)

		if structuredOutput() {
			filtered := make(map[string]jobs.Entry, len(keys))
			for _, key := range keys {
				filtered[key] = entries[key]
			}
			return printOutput(filtered)
		}

		headers := []string{"Key", "Job ID", "Status", "Created", "Updated", "Note"}
		rows := make([][]string, 0, len(keys))
		for _, key := range keys {
			entry := entries[key]
			updated := ""
			if entry.StatusUpdatedAt != nil {
				updated = entry.StatusUpdatedAt.Format("2006-01-02 15:04")
			}
			rows = append(rows, []string{
				key,
				entry.JobID,
				string(entry.Status),
				entry.CreatedAt.Format("2006-01-02 15:04"),
				updated,
				truncate(entry.Note, 40),
			})
		}
		printTable(headers, rows)
		return nil
	})
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	return withCache(func(cache jobs.Store) error {
		key := jobs.NewKey(args[0], args[1])
		removed, err := cache.Clear(cmd.Context(), key)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("no cache entry for %s", key)
		}
		fmt.Printf("Removed %s\n", key)
		return nil
	})
}

func runCacheAdd(cmd *cobra.Command, args []string) error {
	status, err := jobs.ParseStatus(cacheAddStatus)
	if err != nil {
		return err
	}
	return withCache(func(cache jobs.Store) error {
		key := jobs.NewKey(args[0], args[1])
		if err := cache.AddExisting(cmd.Context(), key, args[2], status); err != nil {
			return err
		}
		fmt.Printf("Registered %s as %s (%s)\n", args[2], key, status)
		return nil
	})
}

func runCacheMark(cmd *cobra.Command, args []string) error {
	status, err := jobs.ParseStatus(args[2])
	if err != nil {
		return err
	}
	return withCache(func(cache jobs.Store) error {
		key := jobs.NewKey(args[0], args[1])
		entries, err := cache.List(cmd.Context())
		if err != nil {
			return err
		}
		if _, ok := entries[key.String()]; !ok {
			return fmt.Errorf("no cache entry for %s", key)
		}
		if err := cache.UpdateStatus(cmd.Context(), key, status); err != nil {
			return err
		}
		fmt.Printf("Marked %s as %s\n", key, status)
		return nil
	})
}

func runCacheImport(cmd *cobra.Command, args []string) error {
	return withCache(func(cache jobs.Store) error {
		n, err := jobs.ImportFile(cmd.Context(), args[0], cache)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d entries into the %s cache of %s\n", n, cfg.System.CacheBackend, cacheSource)
		return nil
	})
}
