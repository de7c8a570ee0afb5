package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/stock-data-pipeline/internal/models"
	"github.com/kjannette/stock-data-pipeline/internal/schema"
)

var priceColumns = []string{"date", "open", "high", "low", "close", "volume"}

// PriceRepo reads and appends <symbol>_stock_history tables.
type PriceRepo struct {
	pool  *pgxpool.Pool
	store *Store
}

func NewPriceRepo(pool *pgxpool.Pool) *PriceRepo {
	return &PriceRepo{pool: pool, store: NewStore(pool)}
}

func (r *PriceRepo) EnsureTable(ctx context.Context, symbol string) error {
	return r.store.EnsureTable(ctx, schema.StockHistory(symbol))
}

// LatestDate returns the newest persisted date, or nil when the table is
// empty or does not exist.
func (r *PriceRepo) LatestDate(ctx context.Context, symbol string) (*time.Time, error) {
	table, err := schema.Quote(schema.StockHistoryTable(symbol))
	if err != nil {
		return nil, err
	}
	var d pgtype.Date
	err = r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT MAX("date") FROM %s`, table)).Scan(&d)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest date %s: %w", symbol, err)
	}
	if !d.Valid {
		return nil, nil
	}
	t := models.DateOf(d.Time)
	return &t, nil
}

// AppendRows bulk inserts rows with COPY. Any date already present fails the
// whole batch with models.ErrConstraintViolation.
func (r *PriceRepo) AppendRows(ctx context.Context, symbol string, rows []models.PricePoint) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	table := schema.StockHistoryTable(symbol)
	if !schema.ValidIdentifier(table) {
		return 0, fmt.Errorf("invalid identifier %q", table)
	}
	n, err := r.pool.CopyFrom(ctx, pgx.Identifier{table}, priceColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			p := rows[i]
			return []any{
				models.DateOf(p.Date),
				toNumeric(p.Open), toNumeric(p.High), toNumeric(p.Low), toNumeric(p.Close),
				p.Volume,
			}, nil
		}),
	)
	if err != nil {
		return n, fmt.Errorf("append %s: %w", symbol, mapWriteErr(err))
	}
	return n, nil
}

// History returns rows on or after from (all rows when from is nil), oldest
// first, capped at limit.
func (r *PriceRepo) History(ctx context.Context, symbol string, from *time.Time, limit int) ([]models.PricePoint, error) {
	table, err := schema.Quote(schema.StockHistoryTable(symbol))
	if err != nil {
		return nil, err
	}
	var since any
	if from != nil {
		since = models.DateOf(*from)
	}
	rows, err := r.pool.Query(ctx,
		fmt.Sprintf(`SELECT "date", open, high, low, close, volume FROM %s
		 WHERE $1::date IS NULL OR "date" >= $1::date
		 ORDER BY "date" ASC LIMIT $2`, table),
		since, limit,
	)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("history %s: %w", symbol, err)
	}
	defer rows.Close()
	out, err := collectPrices(rows)
	if err != nil && !isUndefinedTable(err) {
		return nil, fmt.Errorf("history %s: %w", symbol, err)
	}
	return out, nil
}

// Latest returns the newest row, or nil when there is none.
func (r *PriceRepo) Latest(ctx context.Context, symbol string) (*models.PricePoint, error) {
	table, err := schema.Quote(schema.StockHistoryTable(symbol))
	if err != nil {
		return nil, err
	}
	row := r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT "date", open, high, low, close, volume FROM %s ORDER BY "date" DESC LIMIT 1`, table),
	)
	p, err := scanPrice(row)
	if err != nil {
		if noRows(err) || isUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest %s: %w", symbol, err)
	}
	return p, nil
}

func scanPrice(row scannable) (*models.PricePoint, error) {
	var (
		d                    pgtype.Date
		open, high, low, cls pgtype.Numeric
		vol                  pgtype.Int8
	)
	if err := row.Scan(&d, &open, &high, &low, &cls, &vol); err != nil {
		return nil, err
	}
	p := models.PricePoint{Date: models.DateOf(d.Time), Volume: vol.Int64}
	p.Open, _ = fromNumeric(open)
	p.High, _ = fromNumeric(high)
	p.Low, _ = fromNumeric(low)
	p.Close, _ = fromNumeric(cls)
	return &p, nil
}

func collectPrices(rows rowsIter) ([]models.PricePoint, error) {
	var out []models.PricePoint
	for rows.Next() {
		p, err := scanPrice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
