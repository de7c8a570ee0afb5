package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/stock-data-pipeline/internal/models"
	"github.com/kjannette/stock-data-pipeline/internal/schema"
	"github.com/shopspring/decimal"
)

// Postgres SQLSTATE codes the repos react to.
const (
	codeUniqueViolation = "23505"
	codeUndefinedTable  = "42P01"
	codeUndefinedColumn = "42703"
)

// Store holds the schema operations shared by the table repos.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureTable creates t if it does not exist. An existing table is never altered.
func (s *Store) EnsureTable(ctx context.Context, t schema.Table) error {
	sql, err := t.CreateSQL()
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("create table %s: %w", t.Name, err)
	}
	return nil
}

// TableExists reports whether table exists in the current schema.
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1)`,
		table,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("table exists %s: %w", table, err)
	}
	return ok, nil
}

// Columns lists table's column names in ordinal order. A missing table has none.
func (s *Store) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT column_name FROM information_schema.columns
		 WHERE table_schema = current_schema() AND table_name = $1
		 ORDER BY ordinal_position`,
		table,
	)
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// AddColumn adds a nullable column. It is a no-op when the column exists.
func (s *Store) AddColumn(ctx context.Context, table, column string, typ schema.ColumnType) error {
	qt, err := schema.Quote(table)
	if err != nil {
		return err
	}
	qc, err := schema.Quote(column)
	if err != nil {
		return err
	}
	ts, err := typ.SQL()
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", qt, qc, ts)); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

// symbolColumns maps table columns back to symbols with extract, sorted.
func (s *Store) symbolColumns(ctx context.Context, table string, extract func(string) (string, bool)) ([]string, error) {
	cols, err := s.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	var syms []string
	for _, c := range cols {
		if sym, ok := extract(c); ok {
			syms = append(syms, sym)
		}
	}
	sort.Strings(syms)
	return syms, nil
}

// --- error mapping ---

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUndefinedTable(err error) bool {
	return pgCode(err) == codeUndefinedTable
}

func isUndefinedColumn(err error) bool {
	return pgCode(err) == codeUndefinedColumn
}

// mapWriteErr turns a unique violation into models.ErrConstraintViolation.
func mapWriteErr(err error) error {
	if pgCode(err) == codeUniqueViolation {
		return fmt.Errorf("%w: %v", models.ErrConstraintViolation, err)
	}
	return err
}

// --- value conversion ---

func toNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) (decimal.Decimal, bool) {
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite {
		return decimal.Decimal{}, false
	}
	if n.Int == nil {
		return decimal.Zero, true
	}
	return decimal.NewFromBigInt(n.Int, n.Exp), true
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func noRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func placeholders(n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(ps, ", ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
