package external

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/go-resty/resty/v2"
	"github.com/xuri/excelize/v2"

	"github.com/kjannette/stock-data-pipeline/internal/models"
)

// DefaultSSGAHoldingsURL is State Street's daily holdings workbook.
const DefaultSSGAHoldingsURL = "https://www.ssga.com/us/en/intermediary/library-content/products/fund-data/etfs/us/holdings-daily-us-en-{sector}.xlsx"

// SSGAClient downloads a fund's daily holdings workbook.
type SSGAClient struct {
	client      *resty.Client
	holdingsURL string
}

func NewSSGAClient(holdingsURL string) *SSGAClient {
	if holdingsURL == "" {
		holdingsURL = DefaultSSGAHoldingsURL
	}
	return &SSGAClient{client: newRestyClient(), holdingsURL: holdingsURL}
}

func (c *SSGAClient) Holdings(ctx context.Context, sector string) ([]models.Holding, error) {
	body, err := download(ctx, c.client, holdingsURL(c.holdingsURL, sector))
	if err != nil {
		return nil, fmt.Errorf("ssga holdings %s: %w", sector, err)
	}
	h, err := ParseHoldingsXLSX(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ssga holdings %s: %w", sector, err)
	}
	return h, nil
}

// ParseHoldingsXLSX reads the first sheet of a holdings workbook.
func ParseHoldingsXLSX(r io.Reader) ([]models.Holding, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: holdings workbook: %v", models.ErrMalformedInput, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: holdings workbook has no sheets", models.ErrMalformedInput)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: holdings sheet %s: %v", models.ErrMalformedInput, sheets[0], err)
	}
	return holdingsFromRecords(rows)
}
