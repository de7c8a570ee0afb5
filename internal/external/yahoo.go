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

const yahooBaseURL = "https://query1.finance.yahoo.com"

// YahooClient reads daily bars from the Yahoo Finance chart API.
type YahooClient struct {
	httpClient *http.Client
	retry      httputil.RetryConfig
	baseURL    string
}

func NewYahooClient(baseURL string) *YahooClient {
	if baseURL == "" {
		baseURL = yahooBaseURL
	}
	return &YahooClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			MaxDelay:    10 * time.Second,
		},
		baseURL: baseURL,
	}
}

type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				ExchangeTimezoneName string `json:"exchangeTimezoneName"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Fetch returns daily bars for symbol between start and end, both inclusive.
// Bar times are in the exchange's time zone. An unknown or delisted symbol
// yields models.ErrNoData.
func (c *YahooClient) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]models.Bar, error) {
	q := url.Values{}
	q.Set("period1", fmt.Sprint(start.Unix()))
	q.Set("period2", fmt.Sprint(end.AddDate(0, 0, 1).Unix()))
	q.Set("interval", "1d")
	q.Set("events", "history")
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), q.Encode())

	resp, err := httputil.Do(ctx, c.httpClient, c.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (stock-data-pipeline)")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("yahoo fetch %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("yahoo %s: %w", symbol, models.ErrNoData)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo %s returned status %d", symbol, resp.StatusCode)
	}

	var data yahooChart
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: yahoo %s: %v", models.ErrMalformedInput, symbol, err)
	}
	if data.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo %s: %s: %w", symbol, data.Chart.Error.Description, models.ErrNoData)
	}
	if len(data.Chart.Result) == 0 || len(data.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("yahoo %s: %w", symbol, models.ErrNoData)
	}

	res := data.Chart.Result[0]
	loc := time.UTC
	if tz := res.Meta.ExchangeTimezoneName; tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	quote := res.Indicators.Quote[0]

	bars := make([]models.Bar, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		o, h, l, cl := at(quote.Open, i), at(quote.High, i), at(quote.Low, i), at(quote.Close, i)
		if o == nil || h == nil || l == nil || cl == nil {
			continue
		}
		var vol int64
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			vol = *quote.Volume[i]
		}
		bars = append(bars, models.Bar{
			Time:   time.Unix(ts, 0).In(loc),
			Open:   decimal.NewFromFloat(*o),
			High:   decimal.NewFromFloat(*h),
			Low:    decimal.NewFromFloat(*l),
			Close:  decimal.NewFromFloat(*cl),
			Volume: vol,
		})
	}
	return bars, nil
}

func at(vals []*float64, i int) *float64 {
	if i >= len(vals) {
		return nil
	}
	return vals[i]
}
