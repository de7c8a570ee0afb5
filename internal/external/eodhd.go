package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kjannette/stock-data-pipeline/internal/httputil"
	"github.com/kjannette/stock-data-pipeline/internal/models"
)

const eodhdBaseURL = "https://eodhd.com/api"

// EODHDClient reads end-of-day bars from EOD Historical Data. Symbols are
// looked up on the US exchange.
type EODHDClient struct {
	httpClient *http.Client
	retry      httputil.RetryConfig
	baseURL    string
	apiKey     string
}

func NewEODHDClient(baseURL, apiKey string) *EODHDClient {
	if baseURL == "" {
		baseURL = eodhdBaseURL
	}
	return &EODHDClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      httputil.DefaultRetry,
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

type eodhdBar struct {
	Date   string          `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume json.Number     `json:"volume"`
}

func (c *EODHDClient) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]models.Bar, error) {
	q := url.Values{}
	q.Set("api_token", c.apiKey)
	q.Set("fmt", "json")
	q.Set("period", "d")
	q.Set("from", models.FormatDate(start))
	q.Set("to", models.FormatDate(end))
	u := fmt.Sprintf("%s/eod/%s.US?%s", c.baseURL, url.PathEscape(symbol), q.Encode())

	resp, err := httputil.Do(ctx, c.httpClient, c.retry, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("eodhd fetch %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("eodhd %s: %w", symbol, models.ErrNoData)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("eodhd %s returned status %d", symbol, resp.StatusCode)
	}

	var rows []eodhdBar
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: eodhd %s: %v", models.ErrMalformedInput, symbol, err)
	}

	bars := make([]models.Bar, 0, len(rows))
	for _, r := range rows {
		d, err := time.Parse(models.DateLayout, r.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: eodhd %s date %q", models.ErrMalformedInput, symbol, r.Date)
		}
		vol, err := parseVolume(r.Volume)
		if err != nil {
			return nil, fmt.Errorf("%w: eodhd %s volume %q", models.ErrMalformedInput, symbol, r.Volume)
		}
		bars = append(bars, models.Bar{Time: d, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: vol})
	}
	return bars, nil
}

func parseVolume(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return 0, err
	}
	return d.IntPart(), nil
}
