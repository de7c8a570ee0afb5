package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/stock-data-pipeline/internal/models"
	"github.com/kjannette/stock-data-pipeline/internal/schema"
	"github.com/shopspring/decimal"
)

// SectorHistoryRepo manages <sector>_sector_history: one NUMERIC price
// column per constituent plus the calculated sector price.
type SectorHistoryRepo struct {
	pool  *pgxpool.Pool
	store *Store
}

func NewSectorHistoryRepo(pool *pgxpool.Pool) *SectorHistoryRepo {
	return &SectorHistoryRepo{pool: pool, store: NewStore(pool)}
}

func (r *SectorHistoryRepo) EnsureTable(ctx context.Context, sector string) error {
	return r.store.EnsureTable(ctx, schema.SectorHistory(sector))
}

// Symbols returns the constituents that have a price column.
func (r *SectorHistoryRepo) Symbols(ctx context.Context, sector string) ([]string, error) {
	return r.store.symbolColumns(ctx, schema.SectorHistoryTable(sector), schema.SymbolFromPriceColumn)
}

func (r *SectorHistoryRepo) AddSymbol(ctx context.Context, sector, symbol string) error {
	return r.store.AddColumn(ctx, schema.SectorHistoryTable(sector), schema.PriceColumn(symbol), schema.Price)
}

// Populate copies the constituent's closes into its price column. Dates the
// history table lacks are inserted; only NULL cells are filled. A missing
// <symbol>_stock_history table populates nothing.
func (r *SectorHistoryRepo) Populate(ctx context.Context, sector, symbol string) (int64, error) {
	hist, err := schema.Quote(schema.SectorHistoryTable(sector))
	if err != nil {
		return 0, err
	}
	src, err := schema.Quote(schema.StockHistoryTable(symbol))
	if err != nil {
		return 0, err
	}
	col, err := schema.Quote(schema.PriceColumn(symbol))
	if err != nil {
		return 0, err
	}

	var filled int64
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s ("date") SELECT "date" FROM %s ON CONFLICT ("date") DO NOTHING`, hist, src)); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, fmt.Sprintf(
			`UPDATE %[1]s AS h SET %[3]s = s.close FROM %[2]s AS s
			 WHERE h."date" = s."date" AND h.%[3]s IS NULL`, hist, src, col))
		if err != nil {
			return err
		}
		filled = tag.RowsAffected()
		return nil
	})
	if err != nil {
		if isUndefinedTable(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("populate %s.%s: %w", sector, symbol, err)
	}
	return filled, nil
}

// Uncalculated returns rows on or after since whose calculated price is NULL,
// with the given constituents' prices, oldest first.
func (r *SectorHistoryRepo) Uncalculated(ctx context.Context, sector string, symbols []string, since time.Time) ([]models.HistoryRow, error) {
	table, err := schema.Quote(schema.SectorHistoryTable(sector))
	if err != nil {
		return nil, err
	}
	calc, err := schema.Quote(schema.CalculatedPriceColumn(sector))
	if err != nil {
		return nil, err
	}
	cols := []string{`"date"`}
	for _, sym := range symbols {
		c, err := schema.Quote(schema.PriceColumn(sym))
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}

	rows, err := r.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE %s IS NULL AND "date" >= $1 ORDER BY "date" ASC`,
			strings.Join(cols, ", "), table, calc),
		models.DateOf(since),
	)
	if err != nil {
		return nil, fmt.Errorf("uncalculated %s: %w", sector, err)
	}
	defer rows.Close()

	var out []models.HistoryRow
	for rows.Next() {
		var d pgtype.Date
		cells := make([]pgtype.Numeric, len(symbols))
		dest := make([]any, 0, len(symbols)+1)
		dest = append(dest, &d)
		for i := range cells {
			dest = append(dest, &cells[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := models.HistoryRow{Date: models.DateOf(d.Time), Prices: make(map[string]decimal.Decimal, len(symbols))}
		for i, c := range cells {
			if v, ok := fromNumeric(c); ok {
				row.Prices[symbols[i]] = v
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// SetCalculated writes calculated prices in one batch. A cell that already
// holds a value is left alone. It returns the number of cells written.
func (r *SectorHistoryRepo) SetCalculated(ctx context.Context, sector string, points []models.IndexPoint) (int64, error) {
	if len(points) == 0 {
		return 0, nil
	}
	table, err := schema.Quote(schema.SectorHistoryTable(sector))
	if err != nil {
		return 0, err
	}
	calc, err := schema.Quote(schema.CalculatedPriceColumn(sector))
	if err != nil {
		return 0, err
	}
	sql := fmt.Sprintf(`UPDATE %[1]s SET %[2]s = $1 WHERE "date" = $2 AND %[2]s IS NULL`, table, calc)

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(sql, toNumeric(p.Price), models.DateOf(p.Date))
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	var written int64
	for range points {
		tag, err := br.Exec()
		if err != nil {
			return written, fmt.Errorf("set calculated %s: %w", sector, err)
		}
		written += tag.RowsAffected()
	}
	return written, nil
}

// Calculated returns the newest limit calculated prices, oldest first.
func (r *SectorHistoryRepo) Calculated(ctx context.Context, sector string, limit int) ([]models.IndexPoint, error) {
	table, err := schema.Quote(schema.SectorHistoryTable(sector))
	if err != nil {
		return nil, err
	}
	calc, err := schema.Quote(schema.CalculatedPriceColumn(sector))
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx,
		fmt.Sprintf(`SELECT "date", %[2]s FROM (
			SELECT "date", %[2]s FROM %[1]s WHERE %[2]s IS NOT NULL ORDER BY "date" DESC LIMIT $1
		 ) t ORDER BY "date" ASC`, table, calc),
		limit,
	)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("calculated %s: %w", sector, err)
	}
	defer rows.Close()

	var out []models.IndexPoint
	for rows.Next() {
		var d pgtype.Date
		var n pgtype.Numeric
		if err := rows.Scan(&d, &n); err != nil {
			return nil, err
		}
		v, _ := fromNumeric(n)
		out = append(out, models.IndexPoint{Date: models.DateOf(d.Time), Price: v})
	}
	return out, rows.Err()
}
