package ticker

import (
	"fmt"

	"github.com/kjannette/stock-data-pipeline/internal/models"
)

// Normalize turns source bars into storable rows: the date keeps only the
// calendar day of the bar's own location, prices are rounded half away
// from zero to cents. A negative volume is malformed input.
func Normalize(bars []models.Bar) ([]models.PricePoint, error) {
	out := make([]models.PricePoint, 0, len(bars))
	for _, b := range bars {
		if b.Volume < 0 {
			return nil, fmt.Errorf("%w: negative volume %d on %s", models.ErrMalformedInput, b.Volume, models.FormatDate(b.Time))
		}
		out = append(out, models.PricePoint{
			Date:   models.DateOf(b.Time),
			Open:   b.Open.Round(2),
			High:   b.High.Round(2),
			Low:    b.Low.Round(2),
			Close:  b.Close.Round(2),
			Volume: b.Volume,
		})
	}
	return out, nil
}
