package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kjannette/stock-data-pipeline/internal/models"
)

var errNoTable = errors.New("table does not exist")

// MemDB is an in-memory stand-in for the Postgres tables. Its views
// (Prices, Shares, History, Outstanding) satisfy the store interfaces of
// the ticker and sector packages.
type MemDB struct {
	mu          sync.Mutex
	prices      map[string]map[time.Time]models.PricePoint
	shares      map[string]*memWide[int64]
	history     map[string]*memWide[decimal.Decimal]
	calculated  map[string]map[time.Time]decimal.Decimal
	outstanding map[string]map[time.Time]int64

	// AppendErr makes AppendRows fail for a symbol.
	AppendErr map[string]error
}

type memWide[V any] struct {
	cols []string
	rows map[time.Time]map[string]V
}

func NewMemDB() *MemDB {
	return &MemDB{
		prices:      make(map[string]map[time.Time]models.PricePoint),
		shares:      make(map[string]*memWide[int64]),
		history:     make(map[string]*memWide[decimal.Decimal]),
		calculated:  make(map[string]map[time.Time]decimal.Decimal),
		outstanding: make(map[string]map[time.Time]int64),
		AppendErr:   make(map[string]error),
	}
}

func (db *MemDB) Prices() *MemPrices           { return &MemPrices{db} }
func (db *MemDB) Shares() *MemShares           { return &MemShares{db} }
func (db *MemDB) History() *MemHistory         { return &MemHistory{db} }
func (db *MemDB) Outstanding() *MemOutstanding { return &MemOutstanding{db} }

// ---------- prices ----------

type MemPrices struct{ db *MemDB }

func (p *MemPrices) EnsureTable(_ context.Context, symbol string) error {
	p.db.mu.Lock()
	defer p.db.mu.Unlock()
	if _, ok := p.db.prices[symbol]; !ok {
		p.db.prices[symbol] = make(map[time.Time]models.PricePoint)
	}
	return nil
}

func (p *MemPrices) LatestDate(_ context.Context, symbol string) (*time.Time, error) {
	p.db.mu.Lock()
	defer p.db.mu.Unlock()
	var latest *time.Time
	for d := range p.db.prices[symbol] {
		if latest == nil || d.After(*latest) {
			d := d
			latest = &d
		}
	}
	return latest, nil
}

func (p *MemPrices) AppendRows(_ context.Context, symbol string, rows []models.PricePoint) (int64, error) {
	p.db.mu.Lock()
	defer p.db.mu.Unlock()
	if err := p.db.AppendErr[symbol]; err != nil {
		return 0, err
	}
	table, ok := p.db.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%s_stock_history: %w", symbol, errNoTable)
	}
	for _, r := range rows {
		if _, dup := table[models.DateOf(r.Date)]; dup {
			return 0, fmt.Errorf("%w: %s %s", models.ErrConstraintViolation, symbol, models.FormatDate(r.Date))
		}
	}
	for _, r := range rows {
		r.Date = models.DateOf(r.Date)
		table[r.Date] = r
	}
	return int64(len(rows)), nil
}

// Rows returns an instrument's rows oldest first.
func (p *MemPrices) Rows(symbol string) []models.PricePoint {
	p.db.mu.Lock()
	defer p.db.mu.Unlock()
	var out []models.PricePoint
	for _, r := range p.db.prices[symbol] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// HasTable reports whether the instrument table was created.
func (p *MemPrices) HasTable(symbol string) bool {
	p.db.mu.Lock()
	defer p.db.mu.Unlock()
	_, ok := p.db.prices[symbol]
	return ok
}

// ---------- shares ----------

type MemShares struct{ db *MemDB }

func (s *MemShares) EnsureTable(_ context.Context, sector string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.shares[sector]; !ok {
		s.db.shares[sector] = &memWide[int64]{rows: make(map[time.Time]map[string]int64)}
	}
	return nil
}

func (s *MemShares) Symbols(_ context.Context, sector string) ([]string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, ok := s.db.shares[sector]
	if !ok {
		return nil, nil
	}
	return sortedCopy(t.cols), nil
}

func (s *MemShares) AddSymbol(_ context.Context, sector, symbol string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, ok := s.db.shares[sector]
	if !ok {
		return fmt.Errorf("%s_shares: %w", sector, errNoTable)
	}
	t.cols = addCol(t.cols, symbol)
	return nil
}

// DropSymbol removes a column, to simulate drift.
func (s *MemShares) DropSymbol(sector, symbol string) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if t, ok := s.db.shares[sector]; ok {
		t.cols = removeCol(t.cols, symbol)
		for _, row := range t.rows {
			delete(row, symbol)
		}
	}
}

func (s *MemShares) HasRow(_ context.Context, sector string, date time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, ok := s.db.shares[sector]
	if !ok {
		return false, nil
	}
	_, ok = t.rows[models.DateOf(date)]
	return ok, nil
}

func (s *MemShares) InsertRow(_ context.Context, sector string, date time.Time, shares map[string]int64) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, ok := s.db.shares[sector]
	if !ok {
		return false, fmt.Errorf("%s_shares: %w", sector, errNoTable)
	}
	d := models.DateOf(date)
	if _, ok := t.rows[d]; ok {
		return false, nil
	}
	row := make(map[string]int64, len(shares))
	for sym, n := range shares {
		if !containsCol(t.cols, sym) {
			return false, fmt.Errorf("column %s_shares does not exist", sym)
		}
		row[sym] = n
	}
	t.rows[d] = row
	return true, nil
}

func (s *MemShares) Rows(_ context.Context, sector string) ([]models.SharesRow, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, ok := s.db.shares[sector]
	if !ok {
		return nil, nil
	}
	out := make([]models.SharesRow, 0, len(t.rows))
	for d, row := range t.rows {
		cp := make(map[string]int64, len(row))
		for sym, n := range row {
			if containsCol(t.cols, sym) {
				cp[sym] = n
			}
		}
		out = append(out, models.SharesRow{Date: d, Shares: cp})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// SetCell overwrites one shares cell, to simulate a historical correction.
func (s *MemShares) SetCell(sector string, date time.Time, symbol string, n int64) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if t, ok := s.db.shares[sector]; ok {
		if row, ok := t.rows[models.DateOf(date)]; ok {
			row[symbol] = n
		}
	}
}

// ---------- sector history ----------

type MemHistory struct{ db *MemDB }

func (h *MemHistory) EnsureTable(_ context.Context, sector string) error {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	if _, ok := h.db.history[sector]; !ok {
		h.db.history[sector] = &memWide[decimal.Decimal]{rows: make(map[time.Time]map[string]decimal.Decimal)}
		h.db.calculated[sector] = make(map[time.Time]decimal.Decimal)
	}
	return nil
}

func (h *MemHistory) Symbols(_ context.Context, sector string) ([]string, error) {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	t, ok := h.db.history[sector]
	if !ok {
		return nil, nil
	}
	return sortedCopy(t.cols), nil
}

func (h *MemHistory) AddSymbol(_ context.Context, sector, symbol string) error {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	t, ok := h.db.history[sector]
	if !ok {
		return fmt.Errorf("%s_sector_history: %w", sector, errNoTable)
	}
	t.cols = addCol(t.cols, symbol)
	return nil
}

// DropSymbol removes a column, to simulate drift.
func (h *MemHistory) DropSymbol(sector, symbol string) {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	if t, ok := h.db.history[sector]; ok {
		t.cols = removeCol(t.cols, symbol)
		for _, row := range t.rows {
			delete(row, symbol)
		}
	}
}

func (h *MemHistory) Populate(_ context.Context, sector, symbol string) (int64, error) {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	t, ok := h.db.history[sector]
	if !ok {
		return 0, fmt.Errorf("%s_sector_history: %w", sector, errNoTable)
	}
	if !containsCol(t.cols, symbol) {
		return 0, fmt.Errorf("column %s_price does not exist", symbol)
	}
	var filled int64
	for d, p := range h.db.prices[symbol] {
		row, ok := t.rows[d]
		if !ok {
			row = make(map[string]decimal.Decimal)
			t.rows[d] = row
		}
		if _, set := row[symbol]; !set {
			row[symbol] = p.Close
			filled++
		}
	}
	return filled, nil
}

func (h *MemHistory) Uncalculated(_ context.Context, sector string, symbols []string, since time.Time) ([]models.HistoryRow, error) {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	t, ok := h.db.history[sector]
	if !ok {
		return nil, fmt.Errorf("%s_sector_history: %w", sector, errNoTable)
	}
	var out []models.HistoryRow
	for d, row := range t.rows {
		if d.Before(models.DateOf(since)) {
			continue
		}
		if _, done := h.db.calculated[sector][d]; done {
			continue
		}
		hr := models.HistoryRow{Date: d, Prices: make(map[string]decimal.Decimal)}
		for _, sym := range symbols {
			if v, ok := row[sym]; ok {
				hr.Prices[sym] = v
			}
		}
		out = append(out, hr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (h *MemHistory) SetCalculated(_ context.Context, sector string, points []models.IndexPoint) (int64, error) {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	calc, ok := h.db.calculated[sector]
	if !ok {
		return 0, fmt.Errorf("%s_sector_history: %w", sector, errNoTable)
	}
	var n int64
	for _, p := range points {
		d := models.DateOf(p.Date)
		if _, set := calc[d]; set {
			continue
		}
		if _, exists := h.db.history[sector].rows[d]; !exists {
			continue
		}
		calc[d] = p.Price
		n++
	}
	return n, nil
}

// Calculated returns the sector's calculated prices oldest first.
func (h *MemHistory) Calculated(sector string) []models.IndexPoint {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	var out []models.IndexPoint
	for d, v := range h.db.calculated[sector] {
		out = append(out, models.IndexPoint{Date: d, Price: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// ---------- shares outstanding ----------

type MemOutstanding struct{ db *MemDB }

func (o *MemOutstanding) EnsureSector(_ context.Context, sector string) error {
	o.db.mu.Lock()
	defer o.db.mu.Unlock()
	if _, ok := o.db.outstanding[sector]; !ok {
		o.db.outstanding[sector] = make(map[time.Time]int64)
	}
	return nil
}

func (o *MemOutstanding) Record(_ context.Context, sector string, date time.Time, shares int64) (bool, error) {
	o.db.mu.Lock()
	defer o.db.mu.Unlock()
	col, ok := o.db.outstanding[sector]
	if !ok {
		return false, fmt.Errorf("column %s does not exist", sector)
	}
	d := models.DateOf(date)
	if _, set := col[d]; set {
		return false, nil
	}
	col[d] = shares
	return true, nil
}

func (o *MemOutstanding) Series(_ context.Context, sector string) (map[time.Time]int64, error) {
	o.db.mu.Lock()
	defer o.db.mu.Unlock()
	out := make(map[time.Time]int64, len(o.db.outstanding[sector]))
	for d, v := range o.db.outstanding[sector] {
		out[d] = v
	}
	return out, nil
}

// ---------- helpers ----------

func addCol(cols []string, c string) []string {
	if containsCol(cols, c) {
		return cols
	}
	return append(cols, c)
}

func removeCol(cols []string, c string) []string {
	out := cols[:0]
	for _, v := range cols {
		if v != c {
			out = append(out, v)
		}
	}
	return out
}

func containsCol(cols []string, c string) bool {
	for _, v := range cols {
		if v == c {
			return true
		}
	}
	return false
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}
