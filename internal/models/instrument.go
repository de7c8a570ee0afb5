package models

import (
	"fmt"
	"regexp"
	"strings"
)

var symbolRegexp = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Instrument identifies a tradable ticker by its storage-safe symbol and
// the symbol the upstream market data provider expects.
type Instrument struct {
	Symbol       string `json:"symbol"`
	SourceSymbol string `json:"sourceSymbol"`
}

// CanonicalSymbol maps a raw ticker to its storage form: trimmed, lower
// case, with '.', '-' and '/' replaced by '_'. Applying it twice is a no-op.
func CanonicalSymbol(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	return strings.NewReplacer(".", "_", "-", "_", "/", "_").Replace(s)
}

// SourceSymbol maps a raw or canonical ticker to the hyphenated upper case
// convention used by Yahoo and EODHD (BRK.B, brk_b -> BRK-B).
func SourceSymbol(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	return strings.NewReplacer(".", "-", "_", "-").Replace(s)
}

// NewInstrument builds an Instrument from a raw ticker, rejecting symbols
// that cannot be used to name a table.
func NewInstrument(raw string) (Instrument, error) {
	sym := CanonicalSymbol(raw)
	if !symbolRegexp.MatchString(sym) {
		return Instrument{}, fmt.Errorf("%w: invalid symbol %q", ErrMalformedInput, raw)
	}
	return Instrument{Symbol: sym, SourceSymbol: SourceSymbol(raw)}, nil
}
