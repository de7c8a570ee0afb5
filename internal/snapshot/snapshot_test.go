package snapshot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/kjannette/stock-data-pipeline/internal/blob"
)

// memTables holds tables as CSV text.
type memTables struct {
	tables map[string]string
}

func (m *memTables) Exists(_ context.Context, table string) (bool, error) {
	_, ok := m.tables[table]
	return ok, nil
}

func (m *memTables) ExportCSV(_ context.Context, table string, w io.Writer) (int64, error) {
	n, err := io.WriteString(w, m.tables[table])
	return int64(n), err
}

func (m *memTables) ImportCSV(_ context.Context, table string, r io.Reader) (int64, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return 0, err
	}
	m.tables[table] = buf.String()
	return 1, nil
}

func TestTables(t *testing.T) {
	got := Tables([]string{"xlk", "xle"})
	want := []string{"xlk_shares", "xlk_sector_history", "xle_shares", "xle_sector_history", "sector_shares_outstanding"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Tables = %v", got)
	}
}

func TestSaveThenRestoreMissingTable(t *testing.T) {
	ctx := context.Background()
	blobs, err := blob.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	db := &memTables{tables: map[string]string{"xlk_shares": "date,aapl_shares\n2024-06-14,100\n"}}
	snap, err := New(db, blobs, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	res := snap.Save(ctx, []string{"xlk_shares", "xlk_sector_history"})
	if res.Err() != nil {
		t.Fatalf("Save: %v", res.Err())
	}
	if !reflect.DeepEqual(res.Tables, []string{"xlk_shares"}) || !reflect.DeepEqual(res.Skipped, []string{"xlk_sector_history"}) {
		t.Fatalf("unexpected save result %+v", res)
	}

	// Fresh database: the shares table comes back, the never-saved one is skipped.
	fresh := &memTables{tables: map[string]string{}}
	snap, _ = New(fresh, blobs, t.TempDir())
	res = snap.Restore(ctx, []string{"xlk_shares", "xlk_sector_history"})
	if res.Err() != nil {
		t.Fatalf("Restore: %v", res.Err())
	}
	if fresh.tables["xlk_shares"] != "date,aapl_shares\n2024-06-14,100\n" {
		t.Fatalf("restored content = %q", fresh.tables["xlk_shares"])
	}
	if !reflect.DeepEqual(res.Skipped, []string{"xlk_sector_history"}) {
		t.Fatalf("skipped = %v", res.Skipped)
	}
}

func TestRestoreLeavesExistingTables(t *testing.T) {
	ctx := context.Background()
	blobs, _ := blob.NewDirStore(t.TempDir())
	db := &memTables{tables: map[string]string{"xlk_shares": "live"}}
	snap, _ := New(db, blobs, t.TempDir())

	res := snap.Restore(ctx, []string{"xlk_shares"})
	if len(res.Tables) != 0 || db.tables["xlk_shares"] != "live" {
		t.Fatalf("existing table touched: %+v", res)
	}
}

type failingBlobs struct{}

func (failingBlobs) Upload(context.Context, string, string) error   { return errors.New("denied") }
func (failingBlobs) Download(context.Context, string, string) error { return errors.New("denied") }

func TestFailuresAreCollectedPerTable(t *testing.T) {
	ctx := context.Background()
	db := &memTables{tables: map[string]string{"a_shares": "x"}}
	snap, _ := New(db, failingBlobs{}, t.TempDir())

	if res := snap.Save(ctx, []string{"a_shares"}); res.Err() == nil || len(res.Failed) != 1 {
		t.Fatalf("expected one failure, got %+v", res)
	}
	if res := snap.Restore(ctx, []string{"b_shares"}); res.Err() == nil {
		t.Fatal("restore with failing blobs should report the failure")
	}
}
