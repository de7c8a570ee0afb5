package external_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joho/godotenv"

	"github.com/kjannette/stock-data-pipeline/internal/external"
	"github.com/kjannette/stock-data-pipeline/internal/models"
)

func init() {
	_ = godotenv.Load("../../.env")
}

const chartJSON = `{"chart":{"result":[{
 "meta":{"symbol":"BRK-B","exchangeTimezoneName":"America/New_York"},
 "timestamp":[1718199000,1718285400,1718371800],
 "indicators":{"quote":[{
   "open":[410.1,null,412.0],
   "high":[412.5,null,413.25],
   "low":[409.0,null,410.75],
   "close":[411.875,null,412.5],
   "volume":[3200000,null,2900000]}]}}],"error":null}}`

func TestYahooFetch(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		w.Write([]byte(chartJSON))
	}))
	defer srv.Close()

	c := external.NewYahooClient(srv.URL)
	start := time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)
	bars, err := c.Fetch(context.Background(), "BRK-B", start, end)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotPath != "/v8/finance/chart/BRK-B" {
		t.Fatalf("path = %s", gotPath)
	}
	if !strings.Contains(gotQuery, "period2=1718409600") {
		t.Fatalf("end must be inclusive, query = %s", gotQuery)
	}
	if len(bars) != 2 {
		t.Fatalf("null entries must be skipped, got %d bars", len(bars))
	}
	if d := models.DateOf(bars[0].Time); !d.Equal(start) {
		t.Fatalf("first bar date = %s", d)
	}
	if bars[1].Volume != 2900000 {
		t.Fatalf("volume = %d", bars[1].Volume)
	}
}

func TestYahooFetch_UnknownSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`))
	}))
	defer srv.Close()

	_, err := external.NewYahooClient(srv.URL).Fetch(context.Background(), "GONE", time.Now(), time.Now())
	if !errors.Is(err, models.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestEODHDFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/eod/AAPL.US" || r.URL.Query().Get("api_token") != "k" {
			t.Errorf("unexpected request %s", r.URL)
		}
		if r.URL.Query().Get("from") != "2024-06-12" || r.URL.Query().Get("to") != "2024-06-14" {
			t.Errorf("unexpected range %s", r.URL.RawQuery)
		}
		w.Write([]byte(`[{"date":"2024-06-13","open":214.74,"high":216.75,"low":211.6,"close":214.24,"adjusted_close":214.24,"volume":97862700}]`))
	}))
	defer srv.Close()

	c := external.NewEODHDClient(srv.URL, "k")
	bars, err := c.Fetch(context.Background(), "AAPL",
		time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(bars) != 1 || bars[0].Volume != 97862700 || bars[0].Close.String() != "214.24" {
		t.Fatalf("unexpected bars %+v", bars)
	}
}

const fundPage = `<html><body><dl class="fund-data">
<dt>Net Asset Value</dt><dd>$225.10</dd>
<dt>Shares Outstanding</dt>
<dd class="value">750.5 M</dd>
</dl></body></html>`

func TestSPDRSharesOutstanding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mainfund/xlk" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(fundPage))
	}))
	defer srv.Close()

	n, err := external.NewSPDRClient(srv.URL, "").SharesOutstanding(context.Background(), "XLK")
	if err != nil {
		t.Fatalf("SharesOutstanding: %v", err)
	}
	if n != 750_500_000 {
		t.Fatalf("got %d", n)
	}
}

func TestSPDRSharesOutstanding_BadSuffix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Replace(fundPage, "750.5 M", "750.5 K", 1)))
	}))
	defer srv.Close()

	_, err := external.NewSPDRClient(srv.URL, "").SharesOutstanding(context.Background(), "xlk")
	if !errors.Is(err, models.ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
}

func TestSPDRHoldings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/holdings/XLE.csv" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("Fund Name:,Energy\nSymbol,Company Name,Weight,Shares Held\nXOM,Exxon Mobil,23.00%,\"30,000,000\"\n"))
	}))
	defer srv.Close()

	c := external.NewSPDRClient(srv.URL, srv.URL+"/holdings/{SECTOR}.csv")
	h, err := c.Holdings(context.Background(), "xle")
	if err != nil {
		t.Fatalf("Holdings: %v", err)
	}
	if len(h) != 1 || h[0].Symbol != "XOM" || h[0].SharesHeld != 30_000_000 {
		t.Fatalf("unexpected holdings %+v", h)
	}

	if _, err := external.NewSPDRClient(srv.URL, srv.URL+"/missing/{sector}.csv").Holdings(context.Background(), "xle"); !errors.Is(err, models.ErrNoData) {
		t.Fatalf("missing export should be ErrNoData, got %v", err)
	}
}

func TestDirHoldings(t *testing.T) {
	dir := t.TempDir()
	csv := "Fund Name:,Utilities\nSymbol,Weight,Shares Held\nNEE,14.00%,\"1,000\"\n"
	if err := os.WriteFile(filepath.Join(dir, "portfolio-holdings-xlu.csv"), []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}
	src := external.NewDirHoldings(dir)
	h, err := src.Holdings(context.Background(), "XLU")
	if err != nil || len(h) != 1 || h[0].SharesHeld != 1000 {
		t.Fatalf("Holdings: %+v, %v", h, err)
	}
	if _, err := src.Holdings(context.Background(), "xlb"); !errors.Is(err, models.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestYahooLive(t *testing.T) {
	if os.Getenv("LIVE_EXTERNAL_TESTS") == "" {
		t.Skip("LIVE_EXTERNAL_TESTS not set, skipping")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	end := time.Now().UTC()
	bars, err := external.NewYahooClient("").Fetch(ctx, "SPY", end.AddDate(0, 0, -10), end)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(bars) == 0 {
		t.Fatal("expected recent SPY bars")
	}
	t.Logf("SPY: %d bars, last close %s", len(bars), bars[len(bars)-1].Close)
}
