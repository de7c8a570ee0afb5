package external

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kjannette/stock-data-pipeline/internal/models"
)

// DirHoldings reads holdings files that were downloaded ahead of the run:
// portfolio-holdings-<sector>.csv or holdings-daily-us-en-<sector>.xlsx.
type DirHoldings struct {
	dir string
}

func NewDirHoldings(dir string) *DirHoldings {
	return &DirHoldings{dir: dir}
}

func (d *DirHoldings) Holdings(_ context.Context, sector string) ([]models.Holding, error) {
	s := strings.ToLower(sector)
	csvPath := filepath.Join(d.dir, fmt.Sprintf("portfolio-holdings-%s.csv", s))
	if f, err := os.Open(csvPath); err == nil {
		defer f.Close()
		return ParseHoldingsCSV(f)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	xlsxPath := filepath.Join(d.dir, fmt.Sprintf("holdings-daily-us-en-%s.xlsx", s))
	f, err := os.Open(xlsxPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no holdings file for %s in %s: %w", sector, d.dir, models.ErrNoData)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseHoldingsXLSX(f)
}
