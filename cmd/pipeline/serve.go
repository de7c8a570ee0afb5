package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/subcommands"
	"github.com/rs/zerolog/log"

	"github.com/kjannette/stock-data-pipeline/internal/api"
	"github.com/kjannette/stock-data-pipeline/internal/repository"
	"github.com/kjannette/stock-data-pipeline/internal/scheduler"
)

type serveCmd struct {
	noSchedule bool
}

func (*serveCmd) Name() string { return "serve" }
func (*serveCmd) Synopsis() string {
	return "serve the REST API and run the pipeline every RUN_INTERVAL"
}
func (*serveCmd) Usage() string {
	return `serve [-no-schedule]

  Starts the read-only REST API on API_PORT and, unless -no-schedule is
  given, a scheduler that runs a full pass every RUN_INTERVAL.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.noSchedule, "no-schedule", false, "only serve the API")
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := setup(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	defer a.close()

	srv := api.NewServer(api.Deps{
		DB:      a.pool,
		Prices:  repository.NewPriceRepo(a.pool),
		Index:   repository.NewSectorHistoryRepo(a.pool),
		Shares:  repository.NewSharesRepo(a.pool),
		Runs:    a.runs,
		Metrics: a.metrics.Handler(),
	}, a.cfg.APIPort, a.cfg.APIKey, a.cfg.CORSAllowOrigin)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var sched *scheduler.RunScheduler
	if !c.noSchedule {
		sched = scheduler.New(lockedRunner{pool: a.pool, run: a.pipeline.Run}, scheduler.Config{
			Interval:   a.cfg.RunInterval,
			RunTimeout: a.cfg.RunInterval,
			RunOnStart: a.cfg.RunOnStart,
		})
		sched.Start()
	}

	status := subcommands.ExitSuccess
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("API server failed")
		status = subcommands.ExitFailure
	}

	if sched != nil {
		sched.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("API shutdown")
	}
	log.Info().Msg("shutdown complete")
	return status
}
