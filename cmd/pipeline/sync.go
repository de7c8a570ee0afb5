package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/kjannette/stock-data-pipeline/internal/models"
)

type syncCmd struct{}

func (*syncCmd) Name() string     { return "sync" }
func (*syncCmd) Synopsis() string { return "sync price history of the given tickers only" }
func (*syncCmd) Usage() string {
	return `sync [ticker ...]

  Brings each ticker's daily price table up to date. Without arguments the
  tickers of TICKERS_FILE are synced. Sector tables are not touched.
`
}

func (*syncCmd) SetFlags(*flag.FlagSet) {}

func (*syncCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := setup(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	defer a.close()

	symbols := f.Args()
	if len(symbols) == 0 {
		if symbols, err = loadTickers(a.cfg.TickersFile); err != nil || len(symbols) == 0 {
			fmt.Fprintln(os.Stderr, "Error: no tickers given and TICKERS_FILE is empty")
			return subcommands.ExitUsageError
		}
	}

	runner := lockedRunner{pool: a.pool, run: func(ctx context.Context) (*models.RunSummary, error) {
		return a.pipeline.SyncInstruments(ctx, symbols)
	}}
	sum, err := runner.Run(ctx)
	a.pushMetrics(context.WithoutCancel(ctx), "stock_pipeline_sync")
	return exitStatus(sum, err)
}
