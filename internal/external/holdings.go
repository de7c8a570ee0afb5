package external

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kjannette/stock-data-pipeline/internal/models"
)

var (
	hundred = decimal.NewFromInt(100)

	magnitudeRegexp = regexp.MustCompile(`^([0-9][0-9,]*(?:\.[0-9]+)?)\s*([A-Za-z]*)$`)
	magnitudes      = map[string]decimal.Decimal{
		"M": decimal.New(1, 6),
		"B": decimal.New(1, 9),
	}

	// Equity tickers: letters, optionally split by one class separator
	// (BRK.B, BF-B). Cash, futures and swap lines carry digits or
	// underscores and are not constituents.
	equityRegexp = regexp.MustCompile(`^[A-Za-z]+(?:[.\-/][A-Za-z]+)*$`)
)

// ParseWeight converts a percentage such as "14.56%" or "14.56" into the
// fraction 0.1456.
func ParseWeight(s string) (decimal.Decimal, error) {
	v := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	d, err := decimal.NewFromString(strings.ReplaceAll(v, ",", ""))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: weight %q", models.ErrMalformedInput, s)
	}
	return d.Div(hundred), nil
}

// ParseSharesHeld converts a comma formatted count such as "1,234" into 1234.
func ParseSharesHeld(s string) (int64, error) {
	v := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	d, err := decimal.NewFromString(v)
	if err != nil || !d.Equal(d.Truncate(0)) || d.IsNegative() {
		return 0, fmt.Errorf("%w: shares held %q", models.ErrMalformedInput, s)
	}
	return d.IntPart(), nil
}

// ParseMagnitude converts a count with a magnitude suffix, "750.5 M" or
// "1.2 B", into an integer. Any other suffix, or none, is malformed input.
func ParseMagnitude(s string) (int64, error) {
	m := magnitudeRegexp.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("%w: magnitude %q", models.ErrMalformedInput, s)
	}
	mult, ok := magnitudes[strings.ToUpper(m[2])]
	if !ok {
		return 0, fmt.Errorf("%w: unsupported magnitude suffix %q in %q", models.ErrMalformedInput, m[2], s)
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return 0, fmt.Errorf("%w: magnitude %q", models.ErrMalformedInput, s)
	}
	return d.Mul(mult).Round(0).IntPart(), nil
}

// ParseHoldingsCSV reads a holdings export: preamble lines, a header line
// naming Symbol (or Ticker), Weight and Shares Held, then one line per
// holding.
func ParseHoldingsCSV(r io.Reader) ([]models.Holding, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: holdings csv: %v", models.ErrMalformedInput, err)
	}
	return holdingsFromRecords(records)
}

type holdingsHeader struct {
	row, symbol, weight, shares int
}

func findHoldingsHeader(records [][]string) (holdingsHeader, bool) {
	for i, rec := range records {
		h := holdingsHeader{row: i, symbol: -1, weight: -1, shares: -1}
		for j, cell := range rec {
			switch strings.ToLower(strings.TrimSpace(cell)) {
			case "symbol", "ticker":
				h.symbol = j
			case "weight", "weight (%)", "% weight":
				h.weight = j
			case "shares held", "shares":
				h.shares = j
			}
		}
		if h.symbol >= 0 && h.weight >= 0 && h.shares >= 0 {
			return h, true
		}
	}
	return holdingsHeader{}, false
}

// holdingsFromRecords is shared by the CSV and XLSX parsers.
func holdingsFromRecords(records [][]string) ([]models.Holding, error) {
	h, ok := findHoldingsHeader(records)
	if !ok {
		return nil, fmt.Errorf("%w: no Symbol/Weight/Shares Held header", models.ErrMalformedInput)
	}

	var out []models.Holding
	for _, rec := range records[h.row+1:] {
		sym := cell(rec, h.symbol)
		if !equityRegexp.MatchString(sym) {
			continue
		}
		sharesCell := cell(rec, h.shares)
		if sharesCell == "" {
			continue
		}
		shares, err := ParseSharesHeld(sharesCell)
		if err != nil {
			return nil, fmt.Errorf("holding %s: %w", sym, err)
		}
		var weight decimal.Decimal
		if w := cell(rec, h.weight); w != "" {
			if weight, err = ParseWeight(w); err != nil {
				return nil, fmt.Errorf("holding %s: %w", sym, err)
			}
		}
		out = append(out, models.Holding{Symbol: sym, Weight: weight, SharesHeld: shares})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: holdings file lists no equities", models.ErrMalformedInput)
	}
	return out, nil
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
