package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/llmer/cli/reader"
	"github.com/justapithecus/llmer/cli/render"
	"github.com/justapithecus/llmer/lode"
	"github.com/justapithecus/llmer/types"
)

// readTimeout bounds one read-only storage query.
const readTimeout = 30 * time.Second

// StatsCommand returns the stats command. Without a subcommand it
// summarizes every recorded cycle.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Summarize recorded cycles (tokens, latency, classification codes)",
		Flags: statsFlags(),
		Subcommands: []*cli.Command{
			statsSessionsCommand(),
			statsMetricsCommand(),
		},
		Action: statsCyclesAction,
	}
}

func statsFlags() []cli.Flag {
	return append(ReadOnlyFlags(), StorageReadFlags()...)
}

func statsCyclesAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	records, err := readCycles(c, "")
	if err != nil {
		return err
	}
	stats := reader.SummarizeCycles(records)

	if c.Bool("tui") {
		return r.RenderTUI("stats_cycles", stats)
	}
	return r.Render(stats)
}

func statsSessionsCommand() *cli.Command {
	return &cli.Command{
		Name:   "sessions",
		Usage:  "Show per-session cycle counts, tokens and latency",
		Flags:  statsFlags(),
		Action: statsSessionsAction,
	}
}

func statsSessionsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	records, err := readCycles(c, "")
	if err != nil {
		return err
	}
	rows := reader.SummarizeSessions(records)

	if c.Bool("tui") {
		return r.RenderTUI("stats_sessions", rows)
	}
	return r.Render(rows)
}

func statsMetricsCommand() *cli.Command {
	return &cli.Command{
		Name:   "metrics",
		Usage:  "Show the latest process metrics record",
		Flags:  statsFlags(),
		Action: statsMetricsAction,
	}
}

func statsMetricsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	sc, err := readStorageConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, readTimeout)
	defer cancel()

	ds, err := openReadDataset(ctx, sc)
	if err != nil {
		return fmt.Errorf("failed to initialize storage reader: %w", err)
	}

	record, err := lode.QueryLatestMetrics(ctx, ds)
	if errors.Is(err, lode.ErrNoMetricsFound) {
		return cli.Exit("no metrics records found; metrics are written when serve shuts down", 1)
	}
	if err != nil {
		return fmt.Errorf("failed to read metrics: %w", err)
	}

	snapshot, err := reader.ParseMetricsRecord(record)
	if err != nil {
		return fmt.Errorf("failed to parse metrics record: %w", err)
	}

	if c.Bool("tui") {
		return r.RenderTUI("stats_metrics", snapshot)
	}
	return r.Render(snapshot)
}

// readCycles loads cycle records, optionally for one session.
func readCycles(c *cli.Context, sessionID string) ([]types.CycleRecord, error) {
	sc, err := readStorageConfig(c)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(c.Context, readTimeout)
	defer cancel()

	ds, err := openReadDataset(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage reader: %w", err)
	}

	records, err := lode.ReadCycles(ctx, ds, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read cycles: %w", err)
	}
	return records, nil
}
