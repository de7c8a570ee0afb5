package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/stock-data-pipeline/internal/models"
	"github.com/kjannette/stock-data-pipeline/internal/schema"
)

// SharesRepo manages <sector>_shares: one row per as-of date, one BIGINT
// column per current or former constituent.
type SharesRepo struct {
	pool  *pgxpool.Pool
	store *Store
}

func NewSharesRepo(pool *pgxpool.Pool) *SharesRepo {
	return &SharesRepo{pool: pool, store: NewStore(pool)}
}

func (r *SharesRepo) EnsureTable(ctx context.Context, sector string) error {
	return r.store.EnsureTable(ctx, schema.Shares(sector))
}

// Symbols returns the constituents that have a shares column.
func (r *SharesRepo) Symbols(ctx context.Context, sector string) ([]string, error) {
	return r.store.symbolColumns(ctx, schema.SharesTable(sector), schema.SymbolFromSharesColumn)
}

func (r *SharesRepo) AddSymbol(ctx context.Context, sector, symbol string) error {
	return r.store.AddColumn(ctx, schema.SharesTable(sector), schema.SharesColumn(symbol), schema.BigInt)
}

func (r *SharesRepo) HasRow(ctx context.Context, sector string, date time.Time) (bool, error) {
	table, err := schema.Quote(schema.SharesTable(sector))
	if err != nil {
		return false, err
	}
	var ok bool
	err = r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE "date" = $1)`, table),
		models.DateOf(date),
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("shares row %s: %w", sector, err)
	}
	return ok, nil
}

// InsertRow writes the shares held on date. Columns not in shares stay NULL.
// It reports false when a row for date already exists.
func (r *SharesRepo) InsertRow(ctx context.Context, sector string, date time.Time, shares map[string]int64) (bool, error) {
	table, err := schema.Quote(schema.SharesTable(sector))
	if err != nil {
		return false, err
	}
	cols := []string{`"date"`}
	args := []any{models.DateOf(date)}
	for _, sym := range sortedKeys(shares) {
		c, err := schema.Quote(schema.SharesColumn(sym))
		if err != nil {
			return false, err
		}
		cols = append(cols, c)
		args = append(args, shares[sym])
	}
	sql := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT ("date") DO NOTHING`,
		table, strings.Join(cols, ", "), placeholders(len(args)))
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("insert shares row %s: %w", sector, mapWriteErr(err))
	}
	return tag.RowsAffected() == 1, nil
}

// Rows returns every shares row, oldest first.
func (r *SharesRepo) Rows(ctx context.Context, sector string) ([]models.SharesRow, error) {
	return r.query(ctx, sector, `ORDER BY "date" ASC`)
}

// Latest returns the newest shares row, or nil when the table is empty.
func (r *SharesRepo) Latest(ctx context.Context, sector string) (*models.SharesRow, error) {
	rows, err := r.query(ctx, sector, `ORDER BY "date" DESC LIMIT 1`)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

func (r *SharesRepo) query(ctx context.Context, sector, tail string) ([]models.SharesRow, error) {
	syms, err := r.Symbols(ctx, sector)
	if err != nil {
		return nil, err
	}
	table, err := schema.Quote(schema.SharesTable(sector))
	if err != nil {
		return nil, err
	}
	cols := []string{`"date"`}
	for _, sym := range syms {
		c, err := schema.Quote(schema.SharesColumn(sym))
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM %s %s`, strings.Join(cols, ", "), table, tail))
	if err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("shares rows %s: %w", sector, err)
	}
	defer rows.Close()

	var out []models.SharesRow
	for rows.Next() {
		var d pgtype.Date
		cells := make([]pgtype.Int8, len(syms))
		dest := make([]any, 0, len(syms)+1)
		dest = append(dest, &d)
		for i := range cells {
			dest = append(dest, &cells[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := models.SharesRow{Date: models.DateOf(d.Time), Shares: make(map[string]int64, len(syms))}
		for i, c := range cells {
			if c.Valid {
				row.Shares[syms[i]] = c.Int64
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
