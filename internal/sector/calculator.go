package sector

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/kjannette/stock-data-pipeline/internal/models"
)

// Calculator fills a sector's calculated price column.
type Calculator struct {
	shares      SharesStore
	history     HistoryStore
	outstanding OutstandingStore
}

func NewCalculator(shares SharesStore, history HistoryStore, outstanding OutstandingStore) *Calculator {
	return &Calculator{shares: shares, history: history, outstanding: outstanding}
}

// ComputeResult describes one Compute call.
type ComputeResult struct {
	Sector     string
	Populated  int64 // price cells filled from instrument tables
	Candidates int   // rows with a NULL calculated price
	Computed   int
	Written    int64
}

// Compute populates constituent price columns and sets the calculated price
// for every date where it is NULL and all inputs are present. Values already
// calculated are never changed.
func (c *Calculator) Compute(ctx context.Context, sector string) (*ComputeResult, error) {
	res := &ComputeResult{Sector: sector}

	symbols, err := c.shares.Symbols(ctx, sector)
	if err != nil {
		return nil, fmt.Errorf("constituents %s: %w", sector, err)
	}
	priced, err := c.history.Symbols(ctx, sector)
	if err != nil {
		return nil, fmt.Errorf("history columns %s: %w", sector, err)
	}
	for _, sym := range difference(symbols, priced) {
		log.Warn().Str("sector", sector).Str("symbol", sym).Err(models.ErrSchemaDrift).Msg("price column missing, adding")
		if err := c.history.AddSymbol(ctx, sector, sym); err != nil {
			return nil, err
		}
	}
	for _, sym := range symbols {
		n, err := c.history.Populate(ctx, sector, sym)
		if err != nil {
			return nil, err
		}
		res.Populated += n
	}

	sharesRows, err := c.shares.Rows(ctx, sector)
	if err != nil {
		return nil, fmt.Errorf("shares rows %s: %w", sector, err)
	}
	if len(sharesRows) == 0 {
		return res, nil
	}
	outstanding, err := c.outstanding.Series(ctx, sector)
	if err != nil {
		return nil, fmt.Errorf("shares outstanding %s: %w", sector, err)
	}

	since := sharesRows[0].Date
	for _, r := range sharesRows[1:] {
		if r.Date.Before(since) {
			since = r.Date
		}
	}
	rows, err := c.history.Uncalculated(ctx, sector, symbols, since)
	if err != nil {
		return nil, err
	}
	res.Candidates = len(rows)

	points := Calculate(rows, sharesRows, outstanding)
	res.Computed = len(points)
	res.Written, err = c.history.SetCalculated(ctx, sector, points)
	if err != nil {
		return nil, err
	}

	log.Info().Str("sector", sector).
		Int64("populated", res.Populated).
		Int("candidates", res.Candidates).
		Int64("written", res.Written).
		Msg("sector price calculated")
	return res, nil
}

// Calculate computes, for each history row, the sum over that date's
// constituents of price times shares held, divided by shares outstanding,
// rounded to cents. A date's constituents are the symbols with shares in
// its shares row. A date is skipped when its shares row or a positive
// shares outstanding is missing, or when any constituent has no price.
func Calculate(rows []models.HistoryRow, shares []models.SharesRow, outstanding map[time.Time]int64) []models.IndexPoint {
	byDate := make(map[time.Time]models.SharesRow, len(shares))
	for _, s := range shares {
		byDate[models.DateOf(s.Date)] = s
	}

	var out []models.IndexPoint
	for _, row := range rows {
		d := models.DateOf(row.Date)
		sr, ok := byDate[d]
		if !ok || len(sr.Shares) == 0 {
			continue
		}
		total, ok := outstanding[d]
		if !ok || total <= 0 {
			continue
		}
		sum, ok := weightedSum(row.Prices, sr.Shares)
		if !ok {
			continue
		}
		out = append(out, models.IndexPoint{Date: d, Price: sum.DivRound(decimal.NewFromInt(total), 2)})
	}
	return out
}

func weightedSum(prices map[string]decimal.Decimal, shares map[string]int64) (decimal.Decimal, bool) {
	sum := decimal.Zero
	for sym, n := range shares {
		p, ok := prices[sym]
		if !ok {
			return decimal.Decimal{}, false
		}
		sum = sum.Add(p.Mul(decimal.NewFromInt(n)))
	}
	return sum, true
}
