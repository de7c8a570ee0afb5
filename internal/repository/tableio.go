package repository

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/stock-data-pipeline/internal/schema"
)

// TableIO moves whole tables in and out of Postgres as CSV with a header
// line, using COPY.
type TableIO struct {
	pool  *pgxpool.Pool
	store *Store
}

func NewTableIO(pool *pgxpool.Pool) *TableIO {
	return &TableIO{pool: pool, store: NewStore(pool)}
}

func (t *TableIO) Exists(ctx context.Context, table string) (bool, error) {
	return t.store.TableExists(ctx, table)
}

// ExportCSV writes table to w and returns the number of rows written.
func (t *TableIO) ExportCSV(ctx context.Context, table string, w io.Writer) (int64, error) {
	q, err := schema.Quote(table)
	if err != nil {
		return 0, err
	}
	conn, err := t.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Conn().PgConn().CopyTo(ctx, w,
		fmt.Sprintf(`COPY %s TO STDOUT WITH (FORMAT csv, HEADER true)`, q))
	if err != nil {
		return 0, fmt.Errorf("export %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// ImportCSV creates table from the CSV header, with column types inferred
// from the naming convention, and loads the remaining lines into it. The
// table is created only if every line loads.
func (t *TableIO) ImportCSV(ctx context.Context, table string, r io.Reader) (int64, error) {
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return 0, fmt.Errorf("read header of %s: %w", table, err)
	}
	header, err := csv.NewReader(strings.NewReader(line)).Read()
	if err != nil {
		return 0, fmt.Errorf("parse header of %s: %w", table, err)
	}

	def := schema.Table{Name: table}
	quoted := make([]string, 0, len(header))
	for _, name := range header {
		name = strings.TrimSpace(name)
		typ, err := schema.InferColumnType(table, name)
		if err != nil {
			return 0, err
		}
		def.Columns = append(def.Columns, schema.Column{Name: name, Type: typ, PrimaryKey: name == schema.DateColumn})
		q, err := schema.Quote(name)
		if err != nil {
			return 0, err
		}
		quoted = append(quoted, q)
	}
	create, err := def.CreateSQL()
	if err != nil {
		return 0, err
	}
	q, err := schema.Quote(table)
	if err != nil {
		return 0, err
	}

	// A failed COPY rolls back the CREATE, so a half-imported table never
	// looks restored.
	var n int64
	err = pgx.BeginFunc(ctx, t.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, create); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
		tag, err := tx.Conn().PgConn().CopyFrom(ctx, br,
			fmt.Sprintf(`COPY %s (%s) FROM STDIN WITH (FORMAT csv)`, q, strings.Join(quoted, ", ")))
		if err != nil {
			return fmt.Errorf("import %s: %w", table, mapWriteErr(err))
		}
		n = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
