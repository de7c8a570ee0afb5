package external

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kjannette/stock-data-pipeline/internal/models"
)

const (
	spdrBaseURL = "https://www.sectorspdrs.com"

	// DefaultSPDRHoldingsURL is the portfolio holdings CSV export of a Select
	// Sector SPDR fund. {sector} is replaced by the lower case sector symbol.
	DefaultSPDRHoldingsURL = spdrBaseURL + "/mainfund/{sector}/holdings/csv"
)

var sharesOutstandingRegexp = regexp.MustCompile(`(?is)Shares\s+Outstanding\s*</dt>\s*<dd[^>]*>\s*([^<]+?)\s*</dd>`)

// SPDRClient scrapes a Select Sector SPDR fund page for its shares
// outstanding and downloads its holdings export.
type SPDRClient struct {
	client      *resty.Client
	baseURL     string
	holdingsURL string
}

func NewSPDRClient(baseURL, holdingsURL string) *SPDRClient {
	if baseURL == "" {
		baseURL = spdrBaseURL
	}
	if holdingsURL == "" {
		holdingsURL = DefaultSPDRHoldingsURL
	}
	return &SPDRClient{client: newRestyClient(), baseURL: strings.TrimRight(baseURL, "/"), holdingsURL: holdingsURL}
}

// newRestyClient retries transport errors and 5xx responses with backoff.
func newRestyClient() *resty.Client {
	c := resty.New()
	c.SetTimeout(30 * time.Second)
	c.SetHeader("User-Agent", "Mozilla/5.0 (stock-data-pipeline)")
	c.SetRetryCount(2)
	c.SetRetryWaitTime(2 * time.Second)
	c.SetRetryMaxWaitTime(10 * time.Second)
	c.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() >= http.StatusInternalServerError
	})
	return c
}

// SharesOutstanding returns the fund's shares outstanding as published on
// its page, e.g. "750.5 M".
func (c *SPDRClient) SharesOutstanding(ctx context.Context, sector string) (int64, error) {
	resp, err := c.client.R().SetContext(ctx).Get(fmt.Sprintf("%s/mainfund/%s", c.baseURL, strings.ToLower(sector)))
	if err != nil {
		return 0, fmt.Errorf("spdr page %s: %w", sector, err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("spdr page %s returned status %d", sector, resp.StatusCode())
	}
	m := sharesOutstandingRegexp.FindSubmatch(resp.Body())
	if m == nil {
		return 0, fmt.Errorf("%w: spdr page %s has no shares outstanding", models.ErrMalformedInput, sector)
	}
	n, err := ParseMagnitude(string(m[1]))
	if err != nil {
		return 0, fmt.Errorf("spdr %s: %w", sector, err)
	}
	return n, nil
}

// Holdings downloads and parses the fund's portfolio holdings CSV.
func (c *SPDRClient) Holdings(ctx context.Context, sector string) ([]models.Holding, error) {
	body, err := download(ctx, c.client, holdingsURL(c.holdingsURL, sector))
	if err != nil {
		return nil, fmt.Errorf("spdr holdings %s: %w", sector, err)
	}
	h, err := ParseHoldingsCSV(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("spdr holdings %s: %w", sector, err)
	}
	return h, nil
}

func holdingsURL(template, sector string) string {
	s := strings.ReplaceAll(template, "{sector}", strings.ToLower(sector))
	return strings.ReplaceAll(s, "{SECTOR}", strings.ToUpper(sector))
}

func download(ctx context.Context, client *resty.Client, url string) ([]byte, error) {
	resp, err := client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, models.ErrNoData
	}
	if resp.IsError() {
		return nil, fmt.Errorf("GET %s returned status %d", url, resp.StatusCode())
	}
	return resp.Body(), nil
}
