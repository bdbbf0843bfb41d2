package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/regional-stats-etl/internal/pipeline"
)

var runForce bool

var runCmd = &cobra.Command{
	Use:   "run [pipeline...]",
	Short: "Fetch and load pipelines",
	Long: `Run the named pipelines, or every enabled pipeline when none is named.

Pipelines run one after another. A failing pipeline is reported and the run
continues with the next one; the command exits non-zero if any failed.`,
	RunE: runPipelines,
}

func init() {
	runCmd.Flags().BoolVar(&runForce, "force", false, "Drop cached job handles and submit the tables again")
}

func runPipelines(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	runner, err := a.runner()
	if err != nil {
		return err
	}

	summary, runErr := runner.RunAll(ctx, pipeline.RunOptions{Names: args, Force: runForce})
	if summary == nil {
		return runErr
	}

	if structuredOutput() {
		if err := printOutput(summary); err != nil {
			return err
		}
		return runErr
	}

	headers := []string{"Pipeline", "Source", "Table", "Period", "Rows", "Cached", "Duration", "Error"}
	rows := make([][]string, 0, len(summary.Results))
	for _, r := range summary.Results {
		rows = append(rows, []string{
			r.Pipeline,
			r.Source,
			r.TableID,
			r.Period,
			strconv.Itoa(r.Rows),
			strconv.FormatBool(r.FromCache),
			r.Duration.Round(time.Millisecond).String(),
			truncate(r.Error, 60),
		})
	}
	printTable(headers, rows)
	return runErr
}
