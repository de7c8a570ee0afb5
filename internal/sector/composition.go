package sector

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kjannette/stock-data-pipeline/internal/models"
	"github.com/kjannette/stock-data-pipeline/internal/schema"
)

// Composition reconciles a sector's persisted tables with a new holdings
// snapshot.
type Composition struct {
	shares  SharesStore
	history HistoryStore
	tickers TickerTables
}

func NewComposition(shares SharesStore, history HistoryStore, tickers TickerTables) *Composition {
	return &Composition{shares: shares, history: history, tickers: tickers}
}

// ReconcileResult describes one Reconcile call. Symbol lists are sorted.
type ReconcileResult struct {
	Sector       string
	Constituents []string
	Entered      []string
	// OldTickers have a shares column but are not in the snapshot. Their
	// columns are kept.
	OldTickers  []string
	RowAppended bool
}

// Reconcile adds columns for constituents that entered the sector, records
// the ones that left, and appends the shares row for today unless one
// exists. Re-running it with the same inputs changes nothing.
func (c *Composition) Reconcile(ctx context.Context, snap models.CompositionSnapshot, today time.Time) (*ReconcileResult, error) {
	sector := snap.Sector
	constituents := snap.Constituents()
	if len(constituents) == 0 {
		return nil, fmt.Errorf("%w: sector %s snapshot has no constituents", models.ErrMalformedInput, sector)
	}
	for _, sym := range constituents {
		if !schema.ValidIdentifier(schema.StockHistoryTable(sym)) {
			return nil, fmt.Errorf("%w: sector %s: unusable symbol %q", models.ErrMalformedInput, sector, sym)
		}
	}

	if err := c.shares.EnsureTable(ctx, sector); err != nil {
		return nil, err
	}
	if err := c.history.EnsureTable(ctx, sector); err != nil {
		return nil, err
	}
	prior, err := c.shares.Symbols(ctx, sector)
	if err != nil {
		return nil, fmt.Errorf("prior constituents %s: %w", sector, err)
	}
	priced, err := c.history.Symbols(ctx, sector)
	if err != nil {
		return nil, fmt.Errorf("history columns %s: %w", sector, err)
	}

	res := &ReconcileResult{
		Sector:       sector,
		Constituents: constituents,
		Entered:      difference(constituents, prior),
		OldTickers:   difference(prior, constituents),
	}

	for _, sym := range res.Entered {
		if err := c.tickers.EnsureTable(ctx, sym); err != nil {
			return nil, fmt.Errorf("ticker table %s: %w", sym, err)
		}
		if err := c.shares.AddSymbol(ctx, sector, sym); err != nil {
			return nil, err
		}
	}
	for _, sym := range difference(constituents, priced) {
		if !contains(res.Entered, sym) {
			log.Warn().Str("sector", sector).Str("symbol", sym).Err(models.ErrSchemaDrift).Msg("price column missing, adding")
		}
		if err := c.history.AddSymbol(ctx, sector, sym); err != nil {
			return nil, err
		}
	}

	day := models.DateOf(today)
	exists, err := c.shares.HasRow(ctx, sector, day)
	if err != nil {
		return nil, err
	}
	if !exists {
		res.RowAppended, err = c.shares.InsertRow(ctx, sector, day, snap.Shares)
		if err != nil {
			return nil, err
		}
	}

	log.Info().Str("sector", sector).
		Int("constituents", len(constituents)).
		Strs("entered", res.Entered).
		Strs("old_tickers", res.OldTickers).
		Bool("row_appended", res.RowAppended).
		Msg("composition reconciled")
	return res, nil
}

// difference returns the members of a not in b, keeping a's order.
func difference(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, s := range b {
		set[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := set[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
