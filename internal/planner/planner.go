// Package planner decides which dates an instrument is missing and guards
// appends against re-ingesting dates that are already persisted. It does no
// I/O.
package planner

import (
	"fmt"
	"sort"
	"time"

	"github.com/kjannette/stock-data-pipeline/internal/models"
)

// FullHistoryYears is how far back a first fetch reaches.
const FullHistoryYears = 50

// Window is an inclusive range of calendar dates to request from a source.
type Window struct {
	Start time.Time
	End   time.Time
}

// Empty reports whether the window contains no dates (already up to date).
func (w Window) Empty() bool {
	return w.Start.After(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s]", models.FormatDate(w.Start), models.FormatDate(w.End))
}

// PlanFetch returns the window to fetch given the latest persisted date.
// With nothing persisted the window reaches FullHistoryYears back.
func PlanFetch(latest *time.Time, today time.Time) Window {
	end := models.DateOf(today)
	if latest == nil {
		return Window{Start: end.AddDate(-FullHistoryYears, 0, 0), End: end}
	}
	return Window{Start: models.DateOf(*latest).AddDate(0, 0, 1), End: end}
}

// FilterOverlap drops every row dated on or before latest, including a
// boundary row equal to latest. The result is sorted by date with at most
// one row per date (the first one seen wins).
func FilterOverlap(latest *time.Time, rows []models.PricePoint) []models.PricePoint {
	out := make([]models.PricePoint, 0, len(rows))
	seen := make(map[time.Time]struct{}, len(rows))
	for _, r := range rows {
		d := models.DateOf(r.Date)
		if latest != nil && !d.After(models.DateOf(*latest)) {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		r.Date = d
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
