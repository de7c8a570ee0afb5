package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/stock-data-pipeline/internal/models"
	"github.com/kjannette/stock-data-pipeline/internal/schema"
)

// OutstandingRepo manages the singleton sector_shares_outstanding table,
// keyed by date with one column per sector.
type OutstandingRepo struct {
	pool  *pgxpool.Pool
	store *Store
}

func NewOutstandingRepo(pool *pgxpool.Pool) *OutstandingRepo {
	return &OutstandingRepo{pool: pool, store: NewStore(pool)}
}

// EnsureSector creates the table if needed and adds the sector's column.
func (r *OutstandingRepo) EnsureSector(ctx context.Context, sector string) error {
	if err := r.store.EnsureTable(ctx, schema.Outstanding()); err != nil {
		return err
	}
	return r.store.AddColumn(ctx, schema.OutstandingTable, sector, schema.BigInt)
}

// Record stores the sector's shares outstanding on date unless a value is
// already there. It reports whether the cell was written.
func (r *OutstandingRepo) Record(ctx context.Context, sector string, date time.Time, shares int64) (bool, error) {
	table, err := schema.Quote(schema.OutstandingTable)
	if err != nil {
		return false, err
	}
	col, err := schema.Quote(sector)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %[1]s AS t ("date", %[2]s) VALUES ($1, $2)
		 ON CONFLICT ("date") DO UPDATE SET %[2]s = EXCLUDED.%[2]s WHERE t.%[2]s IS NULL`, table, col),
		models.DateOf(date), shares,
	)
	if err != nil {
		return false, fmt.Errorf("record outstanding %s: %w", sector, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Series returns the sector's non-NULL shares outstanding by date.
func (r *OutstandingRepo) Series(ctx context.Context, sector string) (map[time.Time]int64, error) {
	table, err := schema.Quote(schema.OutstandingTable)
	if err != nil {
		return nil, err
	}
	col, err := schema.Quote(sector)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx,
		fmt.Sprintf(`SELECT "date", %s FROM %s WHERE %s IS NOT NULL`, col, table, col))
	if err != nil {
		if isUndefinedTable(err) || isUndefinedColumn(err) {
			return map[time.Time]int64{}, nil
		}
		return nil, fmt.Errorf("outstanding series %s: %w", sector, err)
	}
	defer rows.Close()

	out := make(map[time.Time]int64)
	for rows.Next() {
		var d pgtype.Date
		var v int64
		if err := rows.Scan(&d, &v); err != nil {
			return nil, err
		}
		out[models.DateOf(d.Time)] = v
	}
	return out, rows.Err()
}
