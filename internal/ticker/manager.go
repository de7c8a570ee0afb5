// Package ticker keeps one instrument's daily OHLCV table in step with its
// market data source.
package ticker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kjannette/stock-data-pipeline/internal/calendar"
	"github.com/kjannette/stock-data-pipeline/internal/models"
	"github.com/kjannette/stock-data-pipeline/internal/planner"
)

// Store is the persistence a Manager needs. Implemented by repository.PriceRepo.
type Store interface {
	EnsureTable(ctx context.Context, symbol string) error
	LatestDate(ctx context.Context, symbol string) (*time.Time, error)
	AppendRows(ctx context.Context, symbol string, rows []models.PricePoint) (int64, error)
}

// Source returns daily bars for a source symbol over an inclusive date
// range. An empty result or models.ErrNoData means nothing to add.
type Source interface {
	Fetch(ctx context.Context, symbol string, start, end time.Time) ([]models.Bar, error)
}

// State of a Manager.
type State int

const (
	Uninitialized State = iota
	TableEnsured
	Synced
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case TableEnsured:
		return "table_ensured"
	case Synced:
		return "synced"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Options struct {
	// Timeout bounds the source fetch. Zero means no extra deadline.
	Timeout time.Duration
	// Clock returns "today". Defaults to time.Now.
	Clock func() time.Time
}

// SyncResult describes one Sync call.
type SyncResult struct {
	Symbol   string
	Window   planner.Window
	Fetched  int
	Appended int64
	Latest   *time.Time
}

// Manager owns the lifecycle of one instrument's price series.
type Manager struct {
	inst   models.Instrument
	store  Store
	source Source
	opts   Options
	state  State
}

func NewManager(inst models.Instrument, store Store, source Source, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Manager{inst: inst, store: store, source: source, opts: opts}
}

func (m *Manager) State() State { return m.state }

// Sync ensures the table, fetches what is missing since the latest
// persisted date, and appends it. Bars after the last completed session are
// not stored, since an appended row is never revised. A constraint violation on append is
// returned wrapped in models.ErrConstraintViolation.
func (m *Manager) Sync(ctx context.Context) (*SyncResult, error) {
	sym := m.inst.Symbol
	if err := m.store.EnsureTable(ctx, sym); err != nil {
		return nil, fmt.Errorf("ensure table %s: %w", sym, err)
	}
	m.state = TableEnsured

	latest, err := m.store.LatestDate(ctx, sym)
	if err != nil {
		return nil, fmt.Errorf("latest date %s: %w", sym, err)
	}
	now := m.opts.Clock()
	res := &SyncResult{Symbol: sym, Latest: latest}
	res.Window = planner.PlanFetch(latest, now)
	if res.Window.Empty() {
		m.state = Synced
		return res, nil
	}

	bars, err := m.fetch(ctx, res.Window)
	if errors.Is(err, models.ErrNoData) {
		log.Debug().Str("symbol", sym).Stringer("window", res.Window).Msg("no data from source")
		m.state = Synced
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", m.inst.SourceSymbol, res.Window, err)
	}
	res.Fetched = len(bars)

	rows, err := Normalize(bars)
	if err != nil {
		return nil, fmt.Errorf("normalize %s: %w", sym, err)
	}
	rows = completed(planner.FilterOverlap(latest, rows), calendar.LastTradingDay(now))
	if len(rows) == 0 {
		m.state = Synced
		return res, nil
	}

	n, err := m.store.AppendRows(ctx, sym, rows)
	if err != nil {
		return nil, fmt.Errorf("append %s: %w", sym, err)
	}
	res.Appended = n
	last := rows[len(rows)-1].Date
	res.Latest = &last
	m.state = Synced

	log.Info().Str("symbol", sym).Int64("appended", n).Str("latest", models.FormatDate(last)).Msg("synced")
	return res, nil
}

// completed drops rows dated after cutoff.
func completed(rows []models.PricePoint, cutoff time.Time) []models.PricePoint {
	out := rows[:0]
	for _, r := range rows {
		if !r.Date.After(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

func (m *Manager) fetch(ctx context.Context, w planner.Window) ([]models.Bar, error) {
	if m.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.Timeout)
		defer cancel()
	}
	return m.source.Fetch(ctx, m.inst.SourceSymbol, w.Start, w.End)
}
