// Package snapshot saves sector tables as CSV blobs and recreates missing
// tables from them.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/kjannette/stock-data-pipeline/internal/blob"
	"github.com/kjannette/stock-data-pipeline/internal/schema"
)

// TableIO is implemented by repository.TableIO.
type TableIO interface {
	Exists(ctx context.Context, table string) (bool, error)
	ExportCSV(ctx context.Context, table string, w io.Writer) (int64, error)
	ImportCSV(ctx context.Context, table string, r io.Reader) (int64, error)
}

// Tables lists the snapshotted tables of sectors: each sector's shares and
// history tables, then the shares outstanding table.
func Tables(sectors []string) []string {
	out := make([]string, 0, 2*len(sectors)+1)
	for _, s := range sectors {
		out = append(out, schema.SharesTable(s), schema.SectorHistoryTable(s))
	}
	return append(out, schema.OutstandingTable)
}

// BlobName is the blob a table is stored under.
func BlobName(table string) string {
	return table + ".csv"
}

// Snapshotter moves tables between the database and a blob store through
// CSV files in a working directory.
type Snapshotter struct {
	io    TableIO
	blobs blob.Store
	dir   string
}

func New(tio TableIO, blobs blob.Store, dir string) (*Snapshotter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot dir %s: %w", dir, err)
	}
	return &Snapshotter{io: tio, blobs: blobs, dir: dir}, nil
}

// Result counts the tables a Save or Restore touched.
type Result struct {
	Tables  []string
	Skipped []string
	Failed  map[string]error
}

func (r *Result) fail(table string, err error) {
	if r.Failed == nil {
		r.Failed = make(map[string]error)
	}
	r.Failed[table] = err
}

// Err joins the per-table failures.
func (r *Result) Err() error {
	var errs []error
	for t, err := range r.Failed {
		errs = append(errs, fmt.Errorf("%s: %w", t, err))
	}
	return errors.Join(errs...)
}

// Save exports each existing table and uploads it. Tables that do not exist
// are skipped.
func (s *Snapshotter) Save(ctx context.Context, tables []string) *Result {
	res := &Result{}
	for _, t := range tables {
		ok, err := s.io.Exists(ctx, t)
		if err != nil {
			res.fail(t, err)
			continue
		}
		if !ok {
			res.Skipped = append(res.Skipped, t)
			continue
		}
		if err := s.save(ctx, t); err != nil {
			log.Warn().Err(err).Str("table", t).Msg("snapshot save failed")
			res.fail(t, err)
			continue
		}
		res.Tables = append(res.Tables, t)
	}
	return res
}

func (s *Snapshotter) save(ctx context.Context, table string) error {
	path := filepath.Join(s.dir, BlobName(table))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := s.io.ExportCSV(ctx, table, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if err := s.blobs.Upload(ctx, BlobName(table), path); err != nil {
		return err
	}
	log.Info().Str("table", table).Int64("rows", n).Msg("snapshot saved")
	return nil
}

// Restore recreates each missing table from its blob. Existing tables are
// never touched; a table with no blob is skipped.
func (s *Snapshotter) Restore(ctx context.Context, tables []string) *Result {
	res := &Result{}
	for _, t := range tables {
		ok, err := s.io.Exists(ctx, t)
		if err != nil {
			res.fail(t, err)
			continue
		}
		if ok {
			res.Skipped = append(res.Skipped, t)
			continue
		}
		err = s.restore(ctx, t)
		if errors.Is(err, blob.ErrNotFound) {
			res.Skipped = append(res.Skipped, t)
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("table", t).Msg("snapshot restore failed")
			res.fail(t, err)
			continue
		}
		res.Tables = append(res.Tables, t)
	}
	return res
}

func (s *Snapshotter) restore(ctx context.Context, table string) error {
	path := filepath.Join(s.dir, BlobName(table))
	if err := s.blobs.Download(ctx, BlobName(table), path); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := s.io.ImportCSV(ctx, table, f)
	if err != nil {
		return err
	}
	log.Info().Str("table", table).Int64("rows", n).Msg("table restored from snapshot")
	return nil
}
