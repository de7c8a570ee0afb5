package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is one persisted OHLCV row of an instrument's daily history.
// Date carries no time of day (UTC midnight).
type PricePoint struct {
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// Bar is a daily observation as returned by a market data source, before
// normalization. Time may carry a time of day and an exchange location.
type Bar struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
}

// DateOf returns the calendar day of t, as seen in t's own location, at UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

const DateLayout = "2006-01-02"
