// Package sector maintains a sector fund's constituent tables and derives
// its calculated price from constituent prices, held shares and the fund's
// shares outstanding.
package sector

import (
	"context"
	"time"

	"github.com/kjannette/stock-data-pipeline/internal/models"
)

// SharesStore is implemented by repository.SharesRepo.
type SharesStore interface {
	EnsureTable(ctx context.Context, sector string) error
	Symbols(ctx context.Context, sector string) ([]string, error)
	AddSymbol(ctx context.Context, sector, symbol string) error
	HasRow(ctx context.Context, sector string, date time.Time) (bool, error)
	InsertRow(ctx context.Context, sector string, date time.Time, shares map[string]int64) (bool, error)
	Rows(ctx context.Context, sector string) ([]models.SharesRow, error)
}

// HistoryStore is implemented by repository.SectorHistoryRepo.
type HistoryStore interface {
	EnsureTable(ctx context.Context, sector string) error
	Symbols(ctx context.Context, sector string) ([]string, error)
	AddSymbol(ctx context.Context, sector, symbol string) error
	Populate(ctx context.Context, sector, symbol string) (int64, error)
	Uncalculated(ctx context.Context, sector string, symbols []string, since time.Time) ([]models.HistoryRow, error)
	SetCalculated(ctx context.Context, sector string, points []models.IndexPoint) (int64, error)
}

// OutstandingStore is implemented by repository.OutstandingRepo.
type OutstandingStore interface {
	EnsureSector(ctx context.Context, sector string) error
	Record(ctx context.Context, sector string, date time.Time, shares int64) (bool, error)
	Series(ctx context.Context, sector string) (map[time.Time]int64, error)
}

// TickerTables creates an instrument's price table. Implemented by
// repository.PriceRepo.
type TickerTables interface {
	EnsureTable(ctx context.Context, symbol string) error
}
