package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/rs/zerolog/log"

	"github.com/kjannette/stock-data-pipeline/internal/snapshot"
)

type snapshotCmd struct {
	sectors string
}

func (*snapshotCmd) Name() string     { return "snapshot" }
func (*snapshotCmd) Synopsis() string { return "export sector tables as CSV to the blob store" }
func (*snapshotCmd) Usage() string {
	return `snapshot [-sectors xlk,xle]

  Exports each sector's shares and history tables and the shares
  outstanding table, and uploads them as <table>.csv.
`
}

func (c *snapshotCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.sectors, "sectors", "", "comma separated sectors (overrides SECTORS)")
}

func (c *snapshotCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withSnapshots(ctx, c.sectors, "save", (*snapshot.Snapshotter).Save)
}

type restoreCmd struct {
	sectors string
}

func (*restoreCmd) Name() string { return "restore" }
func (*restoreCmd) Synopsis() string {
	return "recreate missing sector tables from blob store snapshots"
}
func (*restoreCmd) Usage() string {
	return `restore [-sectors xlk,xle]

  Downloads the snapshot of every sector table that does not exist and
  loads it. Existing tables are left untouched.
`
}

func (c *restoreCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.sectors, "sectors", "", "comma separated sectors (overrides SECTORS)")
}

func (c *restoreCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withSnapshots(ctx, c.sectors, "restore", (*snapshot.Snapshotter).Restore)
}

func withSnapshots(ctx context.Context, sectors, op string, do func(*snapshot.Snapshotter, context.Context, []string) *snapshot.Result) subcommands.ExitStatus {
	a, err := setup(ctx, sectors)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	defer a.close()

	if a.snapshots == nil {
		fmt.Fprintln(os.Stderr, "Error: BLOB_BACKEND is none, snapshots are disabled")
		return subcommands.ExitUsageError
	}

	res := do(a.snapshots, ctx, snapshot.Tables(a.cfg.Sectors))
	a.metrics.SnapshotsTotal.WithLabelValues(op).Add(float64(len(res.Tables)))
	log.Info().Str("op", op).Strs("tables", res.Tables).Strs("skipped", res.Skipped).Int("failed", len(res.Failed)).Msg("snapshots done")
	if err := res.Err(); err != nil {
		log.Error().Err(err).Str("op", op).Msg("snapshot failures")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
