package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kjannette/stock-data-pipeline/internal/models"
)

func day(d int) time.Time { return time.Date(2024, 6, d, 0, 0, 0, 0, time.UTC) }

type fakePrices struct {
	rows       map[string][]models.PricePoint
	gotFrom    *time.Time
	gotLimit   int
	failLatest bool
}

func (f *fakePrices) History(_ context.Context, symbol string, from *time.Time, limit int) ([]models.PricePoint, error) {
	f.gotFrom, f.gotLimit = from, limit
	return f.rows[symbol], nil
}

func (f *fakePrices) Latest(_ context.Context, symbol string) (*models.PricePoint, error) {
	if f.failLatest {
		return nil, errors.New("db down")
	}
	rows := f.rows[symbol]
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[len(rows)-1], nil
}

type fakeIndex map[string][]models.IndexPoint

func (f fakeIndex) Calculated(_ context.Context, sector string, limit int) ([]models.IndexPoint, error) {
	pts := f[sector]
	if len(pts) > limit {
		pts = pts[len(pts)-limit:]
	}
	return pts, nil
}

type fakeShares map[string]*models.SharesRow

func (f fakeShares) Latest(_ context.Context, sector string) (*models.SharesRow, error) {
	return f[sector], nil
}

type fakeRuns struct{ last *models.RunSummary }

func (f fakeRuns) Latest(context.Context) (*models.RunSummary, error) { return f.last, nil }

type fakeDB struct{ err error }

func (f fakeDB) Ping(context.Context) error { return f.err }

func newTestServer(runs *models.RunSummary) (*Server, *fakePrices) {
	c := decimal.RequireFromString("187.25")
	prices := &fakePrices{rows: map[string][]models.PricePoint{
		"brk_b": {
			{Date: day(13), Open: c, High: c, Low: c, Close: c, Volume: 10},
			{Date: day(14), Open: c, High: c, Low: c, Close: c, Volume: 20},
		},
	}}
	deps := Deps{
		DB:     fakeDB{},
		Prices: prices,
		Index: fakeIndex{"xlk": {
			{Date: day(13), Price: decimal.RequireFromString("2.01")},
			{Date: day(14), Price: decimal.RequireFromString("2.05")},
		}},
		Shares: fakeShares{"xlk": {Date: day(14), Shares: map[string]int64{"msft": 50, "aapl": 100}}},
		Runs:   fakeRuns{last: runs},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("pipeline_runs_total 1\n"))
		}),
	}
	return NewServer(deps, 0, "key", "*"), prices
}

func get(t *testing.T, s *Server, path string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth {
		req.Header.Set("Authorization", "Bearer key")
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestTickerHistory(t *testing.T) {
	s, prices := newTestServer(nil)

	rr := get(t, s, "/v1/tickers/BRK.B/history?from=2024-06-01&limit=10", true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body)
	}
	var got []models.PricePoint
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || !got[1].Close.Equal(decimal.RequireFromString("187.25")) {
		t.Fatalf("history = %+v", got)
	}
	if prices.gotFrom == nil || !prices.gotFrom.Equal(day(1)) || prices.gotLimit != 10 {
		t.Fatalf("from=%v limit=%d", prices.gotFrom, prices.gotLimit)
	}

	if rr := get(t, s, "/v1/tickers/BRK.B/history?from=June", true); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad from: status %d", rr.Code)
	}
	if rr := get(t, s, "/v1/tickers/9x/history", true); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad symbol: status %d", rr.Code)
	}
	rr = get(t, s, "/v1/tickers/zzz/history", true)
	if rr.Code != http.StatusOK || rr.Body.String() != "[]\n" {
		t.Fatalf("unknown ticker: %d %q", rr.Code, rr.Body)
	}
}

func TestTickerLatest(t *testing.T) {
	s, prices := newTestServer(nil)

	if rr := get(t, s, "/v1/tickers/brk-b/latest", true); rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	if rr := get(t, s, "/v1/tickers/zzz/latest", true); rr.Code != http.StatusNotFound {
		t.Fatalf("missing: status %d", rr.Code)
	}
	prices.failLatest = true
	if rr := get(t, s, "/v1/tickers/brk_b/latest", true); rr.Code != http.StatusInternalServerError {
		t.Fatalf("db error: status %d", rr.Code)
	}
}

func TestSectorRoutes(t *testing.T) {
	s, _ := newTestServer(nil)

	rr := get(t, s, "/v1/sectors/XLK/index?limit=1", true)
	var pts []models.IndexPoint
	json.Unmarshal(rr.Body.Bytes(), &pts)
	if rr.Code != http.StatusOK || len(pts) != 1 || !pts[0].Date.Equal(day(14)) {
		t.Fatalf("index: %d %+v", rr.Code, pts)
	}

	rr = get(t, s, "/v1/sectors/xlk/constituents", true)
	var cons constituentsResponse
	json.Unmarshal(rr.Body.Bytes(), &cons)
	if rr.Code != http.StatusOK || len(cons.Constituents) != 2 || cons.Constituents[0].Symbol != "aapl" {
		t.Fatalf("constituents: %d %+v", rr.Code, cons)
	}

	if rr := get(t, s, "/v1/sectors/xle/constituents", true); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown sector: status %d", rr.Code)
	}
	if rr := get(t, s, "/v1/sectors/x;drop/index", true); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad sector: status %d", rr.Code)
	}
}

func TestLatestRun(t *testing.T) {
	s, _ := newTestServer(nil)
	if rr := get(t, s, "/v1/runs/latest", true); rr.Code != http.StatusNotFound {
		t.Fatalf("no runs: status %d", rr.Code)
	}

	sum := &models.RunSummary{RunID: uuid.New(), Status: models.RunOK, AsOf: day(14)}
	s, _ = newTestServer(sum)
	rr := get(t, s, "/v1/runs/latest", true)
	var got models.RunSummary
	json.Unmarshal(rr.Body.Bytes(), &got)
	if rr.Code != http.StatusOK || got.RunID != sum.RunID {
		t.Fatalf("latest run: %d %+v", rr.Code, got)
	}
	if rr := get(t, s, "/v1/runs/latest", false); rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated: status %d", rr.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(nil)
	rr := get(t, s, "/health", false)
	var h healthResponse
	json.Unmarshal(rr.Body.Bytes(), &h)
	if rr.Code != http.StatusOK || h.Services.Database != "connected" {
		t.Fatalf("health: %d %+v", rr.Code, h)
	}

	rr = get(t, s, "/metrics", false)
	if rr.Code != http.StatusOK || rr.Body.String() != "pipeline_runs_total 1\n" {
		t.Fatalf("metrics: %d %q", rr.Code, rr.Body)
	}
}
