package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Holding is one constituent line of a sector fund's holdings file.
type Holding struct {
	Symbol     string          `json:"symbol"` // as published
	Weight     decimal.Decimal `json:"weight"` // fraction of the fund, 0..1
	SharesHeld int64           `json:"sharesHeld"`
}

// CompositionSnapshot is a sector's constituents and held shares on one date.
// Keys of Shares are canonical symbols.
type CompositionSnapshot struct {
	Sector  string
	Date    time.Time
	Shares  map[string]int64
	Weights map[string]decimal.Decimal
}

// NewCompositionSnapshot folds holdings into a snapshot. Holdings that map
// to the same canonical symbol are summed.
func NewCompositionSnapshot(sector string, date time.Time, holdings []Holding) CompositionSnapshot {
	snap := CompositionSnapshot{
		Sector:  sector,
		Date:    date,
		Shares:  make(map[string]int64, len(holdings)),
		Weights: make(map[string]decimal.Decimal, len(holdings)),
	}
	for _, h := range holdings {
		sym := CanonicalSymbol(h.Symbol)
		snap.Shares[sym] += h.SharesHeld
		snap.Weights[sym] = snap.Weights[sym].Add(h.Weight)
	}
	return snap
}

// Constituents returns the snapshot's symbols in sorted order.
func (s CompositionSnapshot) Constituents() []string {
	out := make([]string, 0, len(s.Shares))
	for sym := range s.Shares {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// SharesRow is one dated row of a sector's shares table. Constituents with a
// NULL cell are absent from Shares.
type SharesRow struct {
	Date   time.Time        `json:"date"`
	Shares map[string]int64 `json:"shares"`
}

// HistoryRow is one dated row of a sector history table. Constituents with a
// NULL price cell are absent from Prices.
type HistoryRow struct {
	Date   time.Time
	Prices map[string]decimal.Decimal
}

// IndexPoint is a calculated sector price for one date.
type IndexPoint struct {
	Date  time.Time       `json:"date"`
	Price decimal.Decimal `json:"price"`
}
