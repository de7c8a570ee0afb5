package ticker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kjannette/stock-data-pipeline/internal/calendar"
	"github.com/kjannette/stock-data-pipeline/internal/models"
	"github.com/kjannette/stock-data-pipeline/internal/testutil"
)

// fakeSource serves fixed bars, filtered to the requested range.
type fakeSource struct {
	bars  []models.Bar
	err   error
	calls int
	start time.Time
	end   time.Time
}

func (f *fakeSource) Fetch(_ context.Context, _ string, start, end time.Time) ([]models.Bar, error) {
	f.calls++
	f.start, f.end = start, end
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Bar
	for _, b := range f.bars {
		d := models.DateOf(b.Time)
		if d.Before(start) || d.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func nyBar(y int, m time.Month, d int, price string) models.Bar {
	c := decimal.RequireFromString(price)
	return models.Bar{Time: time.Date(y, m, d, 9, 30, 0, 0, calendar.NewYork), Open: c, High: c, Low: c, Close: c, Volume: 1000}
}

func clock(y int, m time.Month, d int) func() time.Time {
	return func() time.Time { return time.Date(y, m, d, 18, 0, 0, 0, time.UTC) }
}

func mustInstrument(t *testing.T, raw string) models.Instrument {
	t.Helper()
	inst, err := models.NewInstrument(raw)
	if err != nil {
		t.Fatal(err)
	}
	return inst
}

func TestSync_FirstRunFetchesFullHistory(t *testing.T) {
	db := testutil.NewMemDB()
	src := &fakeSource{bars: []models.Bar{nyBar(2024, 6, 12, "10.005"), nyBar(2024, 6, 13, "11")}}
	m := NewManager(mustInstrument(t, "BRK.B"), db.Prices(), src, Options{Clock: clock(2024, 6, 14)})

	if m.State() != Uninitialized {
		t.Fatalf("initial state = %s", m.State())
	}
	res, err := m.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if m.State() != Synced {
		t.Fatalf("state = %s, want synced", m.State())
	}
	if src.start.Year() != 1974 {
		t.Fatalf("expected 50-year lookback, start = %s", src.start)
	}
	if res.Appended != 2 || res.Symbol != "brk_b" {
		t.Fatalf("unexpected result: %+v", res)
	}
	rows := db.Prices().Rows("brk_b")
	if !rows[0].Close.Equal(decimal.RequireFromString("10.01")) {
		t.Fatalf("close not rounded to cents: %s", rows[0].Close)
	}
	if !rows[0].Date.Equal(time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date not normalized: %s", rows[0].Date)
	}
}

func TestSync_IdempotentWithoutNewData(t *testing.T) {
	db := testutil.NewMemDB()
	src := &fakeSource{bars: []models.Bar{nyBar(2024, 6, 12, "10"), nyBar(2024, 6, 13, "11")}}
	inst := mustInstrument(t, "aapl")
	opts := Options{Clock: clock(2024, 6, 14)}

	if _, err := NewManager(inst, db.Prices(), src, opts).Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := db.Prices().Rows("aapl")

	res, err := NewManager(inst, db.Prices(), src, opts).Sync(context.Background())
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if res.Appended != 0 {
		t.Fatalf("second sync appended %d rows", res.Appended)
	}
	after := db.Prices().Rows("aapl")
	if len(after) != len(before) {
		t.Fatalf("row count changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if !before[i].Date.Equal(after[i].Date) || !before[i].Close.Equal(after[i].Close) {
			t.Fatalf("row %d changed", i)
		}
	}
}

func TestSync_BoundaryRowFromSourceIsDropped(t *testing.T) {
	db := testutil.NewMemDB()
	inst := mustInstrument(t, "msft")
	ctx := context.Background()
	_ = db.Prices().EnsureTable(ctx, "msft")
	if _, err := db.Prices().AppendRows(ctx, "msft", []models.PricePoint{{Date: time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC)}}); err != nil {
		t.Fatal(err)
	}

	// The source ignores the requested start and returns the boundary day too.
	src := &overlappingSource{bars: []models.Bar{nyBar(2024, 6, 12, "1"), nyBar(2024, 6, 13, "2")}}
	res, err := NewManager(inst, db.Prices(), src, Options{Clock: clock(2024, 6, 14)}).Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Fetched != 2 || res.Appended != 1 {
		t.Fatalf("expected 2 fetched and 1 appended, got %+v", res)
	}
}

func TestSync_UnfinishedSessionIsNotStored(t *testing.T) {
	db := testutil.NewMemDB()
	src := &fakeSource{bars: []models.Bar{nyBar(2024, 6, 13, "10"), nyBar(2024, 6, 14, "11")}}
	inst := mustInstrument(t, "qqq")

	// 14:00 in New York on the 14th: that day's bar is still moving.
	res, err := NewManager(inst, db.Prices(), src, Options{Clock: clock(2024, 6, 14)}).Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Fetched != 2 || res.Appended != 1 {
		t.Fatalf("expected 2 fetched and 1 appended, got %+v", res)
	}
	if !res.Latest.Equal(time.Date(2024, 6, 13, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("latest = %s", res.Latest)
	}

	// Next trading day the 14th is complete and gets stored.
	res, err = NewManager(inst, db.Prices(), src, Options{Clock: clock(2024, 6, 17)}).Sync(context.Background())
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	rows := db.Prices().Rows("qqq")
	if res.Appended != 1 || len(rows) != 2 || !rows[1].Close.Equal(decimal.RequireFromString("11")) {
		t.Fatalf("after next session: %+v rows=%d", res, len(rows))
	}
}

type overlappingSource struct{ bars []models.Bar }

func (o *overlappingSource) Fetch(context.Context, string, time.Time, time.Time) ([]models.Bar, error) {
	return o.bars, nil
}

func TestSync_NoDataIsNoOp(t *testing.T) {
	db := testutil.NewMemDB()
	src := &fakeSource{err: models.ErrNoData}
	m := NewManager(mustInstrument(t, "gone"), db.Prices(), src, Options{Clock: clock(2024, 6, 14)})
	res, err := m.Sync(context.Background())
	if err != nil {
		t.Fatalf("ErrNoData should be a no-op, got %v", err)
	}
	if res.Appended != 0 || m.State() != Synced {
		t.Fatalf("unexpected result %+v state %s", res, m.State())
	}
	if !db.Prices().HasTable("gone") {
		t.Fatal("table should still be created")
	}
}

func TestSync_UpToDateSkipsFetch(t *testing.T) {
	db := testutil.NewMemDB()
	ctx := context.Background()
	_ = db.Prices().EnsureTable(ctx, "spy")
	_, _ = db.Prices().AppendRows(ctx, "spy", []models.PricePoint{{Date: time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)}})

	src := &fakeSource{}
	if _, err := NewManager(mustInstrument(t, "spy"), db.Prices(), src, Options{Clock: clock(2024, 6, 14)}).Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if src.calls != 0 {
		t.Fatalf("expected no fetch, got %d calls", src.calls)
	}
}

func TestSync_ConstraintViolationSurfaces(t *testing.T) {
	db := testutil.NewMemDB()
	db.AppendErr["bad"] = models.ErrConstraintViolation
	src := &fakeSource{bars: []models.Bar{nyBar(2024, 6, 13, "1")}}
	m := NewManager(mustInstrument(t, "bad"), db.Prices(), src, Options{Clock: clock(2024, 6, 14)})

	_, err := m.Sync(context.Background())
	if !errors.Is(err, models.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation, got %v", err)
	}
	if m.State() != TableEnsured {
		t.Fatalf("state = %s, want table_ensured", m.State())
	}
}

func TestSync_FetchTimeout(t *testing.T) {
	db := testutil.NewMemDB()
	m := NewManager(mustInstrument(t, "slow"), db.Prices(), blockingSource{}, Options{
		Clock:   clock(2024, 6, 14),
		Timeout: 20 * time.Millisecond,
	})
	_, err := m.Sync(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

type blockingSource struct{}

func (blockingSource) Fetch(ctx context.Context, _ string, _, _ time.Time) ([]models.Bar, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestNormalize_RejectsNegativeVolume(t *testing.T) {
	_, err := Normalize([]models.Bar{{Time: time.Now(), Volume: -1}})
	if !errors.Is(err, models.ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
}
