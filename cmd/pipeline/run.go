package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/rs/zerolog/log"

	"github.com/kjannette/stock-data-pipeline/internal/models"
	"github.com/kjannette/stock-data-pipeline/internal/repository"
)

// exitPartial is returned when a run finished with entity failures.
const exitPartial subcommands.ExitStatus = 3

type runCmd struct {
	sectors string
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run one full pass: compositions, prices, sector index" }
func (*runCmd) Usage() string {
	return `run [-sectors xlk,xle]

  Restores missing sector tables from snapshots, reconciles each sector's
  composition, syncs every constituent and listed ticker, recomputes the
  sector indexes and saves snapshots. Exits 3 when some entities failed.
`
}

func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.sectors, "sectors", "", "comma separated sectors (overrides SECTORS)")
}

func (c *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := setup(ctx, c.sectors)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	defer a.close()

	runner := lockedRunner{pool: a.pool, run: a.pipeline.Run}
	sum, err := runner.Run(ctx)
	a.pushMetrics(context.WithoutCancel(ctx), "stock_pipeline")
	return exitStatus(sum, err)
}

func exitStatus(sum *models.RunSummary, err error) subcommands.ExitStatus {
	if errors.Is(err, repository.ErrRunInProgress) {
		log.Error().Err(err).Msg("run skipped")
		return subcommands.ExitFailure
	}
	if err != nil || sum == nil {
		log.Error().Err(err).Msg("run failed")
		return subcommands.ExitFailure
	}
	switch sum.Status {
	case models.RunOK:
		return subcommands.ExitSuccess
	case models.RunPartial:
		return exitPartial
	}
	return subcommands.ExitFailure
}
