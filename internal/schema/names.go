package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

const (
	// OutstandingTable holds one BIGINT column per sector, keyed by date.
	OutstandingTable = "sector_shares_outstanding"

	DateColumn = "date"

	stockHistorySuffix  = "_stock_history"
	sharesSuffix        = "_shares"
	sectorHistorySuffix = "_sector_history"
	priceSuffix         = "_price"
	calculatedSuffix    = "_calculated_price"

	maxIdentifierLen = 63
)

var identRegexp = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidIdentifier reports whether name is allowed as a table or column name.
func ValidIdentifier(name string) bool {
	return len(name) <= maxIdentifierLen && identRegexp.MatchString(name)
}

// Quote validates name and returns it quoted for SQL text.
func Quote(name string) (string, error) {
	if !ValidIdentifier(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

// QuoteAll quotes each name, failing on the first invalid one.
func QuoteAll(names []string) ([]string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		q, err := Quote(n)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

func StockHistoryTable(symbol string) string     { return symbol + stockHistorySuffix }
func SharesTable(sector string) string           { return sector + sharesSuffix }
func SectorHistoryTable(sector string) string    { return sector + sectorHistorySuffix }
func PriceColumn(symbol string) string           { return symbol + priceSuffix }
func SharesColumn(symbol string) string          { return symbol + sharesSuffix }
func CalculatedPriceColumn(sector string) string { return sector + calculatedSuffix }

// SymbolFromSharesColumn strips the shares suffix. ok is false for the date
// column and for columns not following the convention.
func SymbolFromSharesColumn(col string) (string, bool) {
	if col == DateColumn || !strings.HasSuffix(col, sharesSuffix) {
		return "", false
	}
	sym := strings.TrimSuffix(col, sharesSuffix)
	return sym, sym != ""
}

// SymbolFromPriceColumn strips the price suffix, skipping the calculated column.
func SymbolFromPriceColumn(col string) (string, bool) {
	if col == DateColumn || strings.HasSuffix(col, calculatedSuffix) || !strings.HasSuffix(col, priceSuffix) {
		return "", false
	}
	sym := strings.TrimSuffix(col, priceSuffix)
	return sym, sym != ""
}

// StockHistory is the fixed OHLCV schema of an instrument table.
func StockHistory(symbol string) Table {
	return Table{
		Name: StockHistoryTable(symbol),
		Columns: []Column{
			{Name: DateColumn, Type: Date, PrimaryKey: true},
			{Name: "open", Type: Price},
			{Name: "high", Type: Price},
			{Name: "low", Type: Price},
			{Name: "close", Type: Price},
			{Name: "volume", Type: BigInt},
		},
	}
}

// Shares is the initial schema of a sector shares table; constituent columns
// are added as they appear.
func Shares(sector string) Table {
	return Table{
		Name:    SharesTable(sector),
		Columns: []Column{{Name: DateColumn, Type: Date, PrimaryKey: true}},
	}
}

// SectorHistory is the initial schema of a sector history table.
func SectorHistory(sector string) Table {
	return Table{
		Name: SectorHistoryTable(sector),
		Columns: []Column{
			{Name: DateColumn, Type: Date, PrimaryKey: true},
			{Name: CalculatedPriceColumn(sector), Type: Price},
		},
	}
}

// Outstanding is the initial schema of the shares outstanding table.
func Outstanding() Table {
	return Table{
		Name:    OutstandingTable,
		Columns: []Column{{Name: DateColumn, Type: Date, PrimaryKey: true}},
	}
}

// InferColumnType returns the type a column of table has under the naming
// convention. It is used to recreate tables from CSV snapshots.
func InferColumnType(table, column string) (ColumnType, error) {
	if column == DateColumn {
		return Date, nil
	}
	switch {
	case table == OutstandingTable:
		return BigInt, nil
	case strings.HasSuffix(table, stockHistorySuffix):
		switch column {
		case "open", "high", "low", "close":
			return Price, nil
		case "volume":
			return BigInt, nil
		}
	case strings.HasSuffix(table, sectorHistorySuffix):
		if strings.HasSuffix(column, priceSuffix) {
			return Price, nil
		}
	case strings.HasSuffix(table, sharesSuffix):
		if strings.HasSuffix(column, sharesSuffix) {
			return BigInt, nil
		}
	}
	return ColumnType{}, fmt.Errorf("no type convention for %s.%s", table, column)
}
