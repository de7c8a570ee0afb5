package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/kjannette/stock-data-pipeline/internal/blob"
	"github.com/kjannette/stock-data-pipeline/internal/config"
	"github.com/kjannette/stock-data-pipeline/internal/db"
	"github.com/kjannette/stock-data-pipeline/internal/external"
	"github.com/kjannette/stock-data-pipeline/internal/logger"
	"github.com/kjannette/stock-data-pipeline/internal/metrics"
	"github.com/kjannette/stock-data-pipeline/internal/models"
	"github.com/kjannette/stock-data-pipeline/internal/notifications"
	"github.com/kjannette/stock-data-pipeline/internal/pipeline"
	"github.com/kjannette/stock-data-pipeline/internal/repository"
	"github.com/kjannette/stock-data-pipeline/internal/snapshot"
	"github.com/kjannette/stock-data-pipeline/internal/ticker"
)

const serviceName = "stock-data-pipeline"

// app is the wiring shared by every subcommand.
type app struct {
	cfg       *config.Config
	pool      *pgxpool.Pool
	metrics   *metrics.Metrics
	runs      *repository.RunRepo
	snapshots *snapshot.Snapshotter // nil when BLOB_BACKEND=none
	pipeline  *pipeline.Pipeline
}

// setup loads configuration, connects to Postgres and builds the pipeline.
// sectors, when non-empty, overrides SECTORS.
func setup(ctx context.Context, sectors string) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	logger.Init(serviceName, cfg.LogLevel, cfg.LogFormat)
	if sectors != "" {
		cfg.Sectors = splitArgs(sectors)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Print()

	pool, err := db.Connect(ctx, cfg.DSN(), cfg.SyncWorkers)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	a := &app{
		cfg:     cfg,
		pool:    pool,
		metrics: metrics.New(),
		runs:    repository.NewRunRepo(pool),
	}

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if blobs != nil {
		a.snapshots, err = snapshot.New(repository.NewTableIO(pool), blobs, cfg.SnapshotDir)
		if err != nil {
			pool.Close()
			return nil, err
		}
	}

	tickers, err := loadTickers(cfg.TickersFile)
	if err != nil {
		pool.Close()
		return nil, err
	}

	spdr := external.NewSPDRClient(cfg.SPDRBaseURL, "")
	deps := pipeline.Deps{
		Prices:            repository.NewPriceRepo(pool),
		Shares:            repository.NewSharesRepo(pool),
		History:           repository.NewSectorHistoryRepo(pool),
		Outstanding:       repository.NewOutstandingRepo(pool),
		Market:            newMarketSource(cfg),
		Holdings:          newHoldingsSource(cfg),
		SharesOutstanding: spdr,
		Runs:              a.runs,
		Notifier:          notifications.NewSender(cfg.WebhookURL, serviceName),
		Metrics:           a.metrics,
	}
	if a.snapshots != nil {
		deps.Snapshots = a.snapshots
	}
	a.pipeline = pipeline.New(deps, pipeline.Options{
		Sectors:      cfg.Sectors,
		Tickers:      tickers,
		Workers:      cfg.SyncWorkers,
		FetchTimeout: cfg.FetchTimeout,
	})
	return a, nil
}

func (a *app) close() {
	a.pool.Close()
	log.Info().Msg("database pool closed")
}

// pushMetrics sends the run metrics to the Pushgateway when one is configured.
func (a *app) pushMetrics(ctx context.Context, job string) {
	if a.cfg.PushgatewayURL == "" {
		return
	}
	if err := a.metrics.Push(ctx, a.cfg.PushgatewayURL, job); err != nil {
		log.Warn().Err(err).Msg("metrics push failed")
	}
}

func newMarketSource(cfg *config.Config) ticker.Source {
	if cfg.MarketDataProvider == config.ProviderEODHD {
		return external.NewEODHDClient("", cfg.EODHDAPIKey)
	}
	return external.NewYahooClient("")
}

func newHoldingsSource(cfg *config.Config) pipeline.HoldingsSource {
	switch cfg.HoldingsSource {
	case config.HoldingsDir:
		return external.NewDirHoldings(cfg.HoldingsDir)
	case config.HoldingsSPDRCSV:
		return external.NewSPDRClient(cfg.SPDRBaseURL, cfg.HoldingsURLTemplate)
	}
	return external.NewSSGAClient(cfg.HoldingsURLTemplate)
}

// newBlobStore returns nil when snapshots are disabled.
func newBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	switch cfg.BlobBackend {
	case config.BlobS3:
		return blob.NewS3Store(ctx, blob.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.AWSRegion,
			AccessKey: cfg.AWSAccessKey,
			SecretKey: cfg.AWSSecretKey,
			Endpoint:  cfg.S3Endpoint,
		})
	case config.BlobDir:
		return blob.NewDirStore(cfg.BlobDir)
	}
	return nil, nil
}

func loadTickers(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	lines, err := config.ReadLines(path)
	if err != nil {
		return nil, fmt.Errorf("tickers file: %w", err)
	}
	return lines, nil
}

func splitArgs(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// lockedRunner serializes pipeline passes across processes with the
// Postgres advisory lock.
type lockedRunner struct {
	pool *pgxpool.Pool
	run  func(ctx context.Context) (*models.RunSummary, error)
}

func (l lockedRunner) Run(ctx context.Context) (*models.RunSummary, error) {
	lock, err := repository.AcquireRunLock(ctx, l.pool)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("run lock release failed")
		}
	}()
	return l.run(ctx)
}
