// Package pipeline runs one batch pass: sector compositions, then every
// instrument's price history, then each sector's calculated price.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/kjannette/stock-data-pipeline/internal/calendar"
	"github.com/kjannette/stock-data-pipeline/internal/metrics"
	"github.com/kjannette/stock-data-pipeline/internal/models"
	"github.com/kjannette/stock-data-pipeline/internal/schema"
	"github.com/kjannette/stock-data-pipeline/internal/sector"
	"github.com/kjannette/stock-data-pipeline/internal/snapshot"
	"github.com/kjannette/stock-data-pipeline/internal/ticker"
)

// HoldingsSource returns a sector fund's current holdings.
type HoldingsSource interface {
	Holdings(ctx context.Context, sector string) ([]models.Holding, error)
}

// OutstandingSource returns a sector fund's current shares outstanding.
type OutstandingSource interface {
	SharesOutstanding(ctx context.Context, sector string) (int64, error)
}

// Snapshots is implemented by snapshot.Snapshotter.
type Snapshots interface {
	Save(ctx context.Context, tables []string) *snapshot.Result
	Restore(ctx context.Context, tables []string) *snapshot.Result
}

// RunRecorder is implemented by repository.RunRepo.
type RunRecorder interface {
	Record(ctx context.Context, sum *models.RunSummary) error
}

// Notifier is implemented by notifications.Sender.
type Notifier interface {
	NotifyRun(ctx context.Context, sum *models.RunSummary)
}

// Deps are the stores and collaborators of a Pipeline. Snapshots, Runs,
// Notifier and Metrics are optional.
type Deps struct {
	Prices      ticker.Store
	Shares      sector.SharesStore
	History     sector.HistoryStore
	Outstanding sector.OutstandingStore

	Market            ticker.Source
	Holdings          HoldingsSource
	SharesOutstanding OutstandingSource

	Snapshots Snapshots
	Runs      RunRecorder
	Notifier  Notifier
	Metrics   *metrics.Metrics
}

type Options struct {
	Sectors []string
	// Tickers are synced every run in addition to sector constituents.
	Tickers []string
	Workers int
	// FetchTimeout bounds each external call. Zero means no extra deadline.
	FetchTimeout time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type Pipeline struct {
	deps        Deps
	opts        Options
	composition *sector.Composition
	calculator  *sector.Calculator

	mu   sync.Mutex
	last *models.RunSummary
}

func New(deps Deps, opts Options) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Pipeline{
		deps:        deps,
		opts:        opts,
		composition: sector.NewComposition(deps.Shares, deps.History, deps.Prices),
		calculator:  sector.NewCalculator(deps.Shares, deps.History, deps.Outstanding),
	}
}

// LastRun returns the summary of the most recent pass in this process.
func (p *Pipeline) LastRun() *models.RunSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// run carries the state of one pass.
type run struct {
	sum   *models.RunSummary
	fails failures
	log   zerolog.Logger
	mu    sync.Mutex

	// held are the tables whose restore failed. Their snapshot is the only
	// good copy, so the pass neither writes nor saves them.
	held map[string]error
}

// heldErr reports the first held table among tables.
func (r *run) heldErr(tables ...string) error {
	for _, t := range tables {
		if err, ok := r.held[t]; ok {
			return fmt.Errorf("%s not restored: %w", t, err)
		}
	}
	return nil
}

func (p *Pipeline) newRun() *run {
	now := p.opts.Clock()
	id := uuid.New()
	return &run{
		sum: &models.RunSummary{
			RunID:     id,
			AsOf:      calendar.LastTradingDay(now),
			StartedAt: now.UTC(),
		},
		log: log.With().Str("component", "pipeline").Str("run_id", id.String()).Logger(),
	}
}

// Run executes a full pass. Entity failures are collected in the summary;
// the returned error is non-nil only when ctx ends the run early.
func (p *Pipeline) Run(ctx context.Context) (*models.RunSummary, error) {
	r := p.newRun()
	r.log.Info().Str("as_of", models.FormatDate(r.sum.AsOf)).Strs("sectors", p.opts.Sectors).Msg("run started")

	tables := snapshot.Tables(p.opts.Sectors)
	if p.deps.Snapshots != nil {
		res := p.deps.Snapshots.Restore(ctx, tables)
		r.sum.Restored = len(res.Tables)
		p.snapshotFailures(r, "restore", res)
		r.held = res.Failed
	}

	composed, instruments := p.sectorsPass(ctx, r)
	for _, raw := range p.opts.Tickers {
		inst, err := models.NewInstrument(raw)
		if err != nil {
			r.fails.add(instrumentEntity(raw), "tickers", err)
			continue
		}
		instruments[inst.Symbol] = inst
	}

	p.instrumentsPass(ctx, r, instruments)
	p.indexPass(ctx, r, composed)

	if p.deps.Snapshots != nil {
		res := p.deps.Snapshots.Save(ctx, unheld(tables, r.held))
		r.sum.Saved = len(res.Tables)
		p.snapshotFailures(r, "save", res)
	}

	return p.finish(ctx, r, len(composed))
}

// SyncInstruments runs only the instrument pass for symbols.
func (p *Pipeline) SyncInstruments(ctx context.Context, symbols []string) (*models.RunSummary, error) {
	r := p.newRun()
	instruments := make(map[string]models.Instrument, len(symbols))
	for _, raw := range symbols {
		inst, err := models.NewInstrument(raw)
		if err != nil {
			r.fails.add(instrumentEntity(raw), "tickers", err)
			continue
		}
		instruments[inst.Symbol] = inst
	}
	p.instrumentsPass(ctx, r, instruments)
	return p.finish(ctx, r, 0)
}

// sectorsPass reconciles each sector's composition and records its shares
// outstanding. It returns the sectors whose composition is current and the
// union of their constituents.
func (p *Pipeline) sectorsPass(ctx context.Context, r *run) ([]string, map[string]models.Instrument) {
	var composed []string
	instruments := make(map[string]models.Instrument)

	for _, s := range p.opts.Sectors {
		if ctx.Err() != nil {
			break
		}
		r.sum.Sectors++
		lg := r.log.With().Str("sector", s).Logger()

		if err := r.heldErr(schema.SharesTable(s), schema.SectorHistoryTable(s)); err != nil {
			f := r.fails.add(sectorEntity(s), "restore", err)
			lg.Warn().Err(err).Str("kind", f.Kind).Msg("sector skipped")
			continue
		}
		constituents, stage, err := p.reconcileSector(ctx, s, r.sum.AsOf)
		if err != nil {
			f := r.fails.add(sectorEntity(s), stage, err)
			lg.Warn().Err(err).Str("stage", stage).Str("kind", f.Kind).Msg("sector skipped")
			continue
		}
		composed = append(composed, s)
		for _, sym := range constituents {
			inst, err := models.NewInstrument(sym)
			if err != nil {
				r.fails.add(instrumentEntity(sym), "composition", err)
				continue
			}
			instruments[inst.Symbol] = inst
		}

		if err := r.heldErr(schema.OutstandingTable); err != nil {
			f := r.fails.add(sectorEntity(s), "outstanding", err)
			lg.Warn().Err(err).Str("kind", f.Kind).Msg("shares outstanding not recorded")
		} else if err := p.recordOutstanding(ctx, s, r.sum.AsOf); err != nil {
			f := r.fails.add(sectorEntity(s), "outstanding", err)
			lg.Warn().Err(err).Str("kind", f.Kind).Msg("shares outstanding not recorded")
		}
	}
	return composed, instruments
}

func (p *Pipeline) reconcileSector(ctx context.Context, s string, asOf time.Time) ([]string, string, error) {
	fctx, cancel := p.withTimeout(ctx)
	holdings, err := p.deps.Holdings.Holdings(fctx, s)
	cancel()
	if err != nil {
		return nil, "holdings", fmt.Errorf("holdings %s: %w", s, err)
	}

	snap := models.NewCompositionSnapshot(s, asOf, holdings)
	res, err := p.composition.Reconcile(ctx, snap, asOf)
	if err != nil {
		return nil, "composition", fmt.Errorf("reconcile %s: %w", s, err)
	}
	return res.Constituents, "", nil
}

func (p *Pipeline) recordOutstanding(ctx context.Context, s string, asOf time.Time) error {
	fctx, cancel := p.withTimeout(ctx)
	n, err := p.deps.SharesOutstanding.SharesOutstanding(fctx, s)
	cancel()
	if err != nil {
		return fmt.Errorf("shares outstanding %s: %w", s, err)
	}
	if n <= 0 {
		return fmt.Errorf("%w: shares outstanding %s is %d", models.ErrMalformedInput, s, n)
	}
	if err := p.deps.Outstanding.EnsureSector(ctx, s); err != nil {
		return err
	}
	if _, err := p.deps.Outstanding.Record(ctx, s, asOf, n); err != nil {
		return err
	}
	return nil
}

// instrumentsPass syncs every instrument on a bounded worker pool. Each
// instrument's table is written by exactly one worker.
func (p *Pipeline) instrumentsPass(ctx context.Context, r *run, instruments map[string]models.Instrument) {
	symbols := make([]string, 0, len(instruments))
	for sym := range instruments {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	r.sum.Instruments = len(symbols)
	if p.deps.Metrics != nil {
		p.deps.Metrics.InstrumentsSeen.Set(float64(len(symbols)))
	}

	var g errgroup.Group
	g.SetLimit(p.opts.Workers)
	for _, sym := range symbols {
		if ctx.Err() != nil {
			break
		}
		inst := instruments[sym]
		g.Go(func() error {
			p.syncOne(ctx, r, inst)
			return nil
		})
	}
	_ = g.Wait()

	r.log.Info().Int("instruments", len(symbols)).Int64("rows_appended", r.sum.RowsAppended).Msg("instrument pass done")
}

func (p *Pipeline) syncOne(ctx context.Context, r *run, inst models.Instrument) {
	start := time.Now()
	m := ticker.NewManager(inst, p.deps.Prices, p.deps.Market, ticker.Options{
		Timeout: p.opts.FetchTimeout,
		Clock:   p.opts.Clock,
	})
	res, err := m.Sync(ctx)
	if err != nil {
		f := r.fails.add(instrumentEntity(inst.Symbol), "sync", err)
		r.log.Warn().Err(err).Str("symbol", inst.Symbol).Str("kind", f.Kind).Stringer("state", m.State()).Msg("sync failed")
		return
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveSync(time.Since(start), res.Appended)
	}
	r.mu.Lock()
	r.sum.RowsAppended += res.Appended
	r.mu.Unlock()
}

// indexPass computes sector prices after every constituent sync finished.
// Without a restored shares outstanding table no price is computed.
func (p *Pipeline) indexPass(ctx context.Context, r *run, sectors []string) {
	for _, s := range sectors {
		if ctx.Err() != nil {
			return
		}
		err := r.heldErr(schema.OutstandingTable)
		var res *sector.ComputeResult
		if err == nil {
			res, err = p.calculator.Compute(ctx, s)
		}
		if err != nil {
			f := r.fails.add(sectorEntity(s), "index", err)
			r.log.Warn().Err(err).Str("sector", s).Str("kind", f.Kind).Msg("index not computed")
			continue
		}
		r.sum.IndexPoints += res.Written
		if p.deps.Metrics != nil {
			p.deps.Metrics.IndexPoints.WithLabelValues(s).Add(float64(res.Written))
		}
		r.log.Info().Str("sector", s).
			Int("candidates", res.Candidates).
			Int64("written", res.Written).
			Msg("sector index computed")
	}
}

func (p *Pipeline) snapshotFailures(r *run, op string, res *snapshot.Result) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.SnapshotsTotal.WithLabelValues(op).Add(float64(len(res.Tables)))
	}
	for table, err := range res.Failed {
		r.fails.add(snapshotEntity(table), op, err)
	}
}

func unheld(tables []string, held map[string]error) []string {
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		if _, ok := held[t]; !ok {
			out = append(out, t)
		}
	}
	return out
}

func (p *Pipeline) finish(ctx context.Context, r *run, composed int) (*models.RunSummary, error) {
	sum := r.sum
	sum.FinishedAt = p.opts.Clock().UTC()
	sum.Failures = r.fails.sorted()
	sum.Status = status(ctx, sum, composed)

	if m := p.deps.Metrics; m != nil {
		m.RunsTotal.WithLabelValues(sum.Status).Inc()
		m.RunDuration.Observe(sum.Duration().Seconds())
		for kind, n := range sum.FailuresByKind() {
			m.FailuresTotal.WithLabelValues(kind).Add(float64(n))
		}
		if sum.Status == models.RunOK {
			m.LastSuccess.Set(float64(sum.FinishedAt.Unix()))
		}
	}

	// Reporting uses its own context so a cancelled run is still recorded.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if p.deps.Runs != nil {
		if err := p.deps.Runs.Record(rctx, sum); err != nil {
			r.log.Error().Err(err).Msg("run not recorded")
		}
	}
	if p.deps.Notifier != nil {
		p.deps.Notifier.NotifyRun(rctx, sum)
	}

	p.mu.Lock()
	p.last = sum
	p.mu.Unlock()

	ev := r.log.Info()
	if sum.Status != models.RunOK {
		ev = r.log.Error()
	}
	ev.Str("status", sum.Status).
		Dur("duration", sum.Duration()).
		Int("failures", len(sum.Failures)).
		Interface("by_kind", sum.FailuresByKind()).
		Msg("run finished")

	if err := ctx.Err(); err != nil {
		return sum, fmt.Errorf("run %s interrupted: %w", sum.RunID, err)
	}
	return sum, nil
}

// status is failed when the run was interrupted or nothing succeeded,
// partial when some entities failed, ok otherwise.
func status(ctx context.Context, sum *models.RunSummary, composed int) string {
	if ctx.Err() != nil {
		return models.RunFailed
	}
	if len(sum.Failures) == 0 {
		return models.RunOK
	}
	synced := sum.Instruments - countStage(sum.Failures, "sync")
	if composed == 0 && synced <= 0 {
		return models.RunFailed
	}
	return models.RunPartial
}

func countStage(fs []models.RunFailure, stage string) int {
	n := 0
	for _, f := range fs {
		if f.Stage == stage {
			n++
		}
	}
	return n
}

func (p *Pipeline) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.opts.FetchTimeout > 0 {
		return context.WithTimeout(ctx, p.opts.FetchTimeout)
	}
	return context.WithCancel(ctx)
}
