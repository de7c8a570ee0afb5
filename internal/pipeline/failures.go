package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/kjannette/stock-data-pipeline/internal/models"
)

// Classify maps an entity error to a failure kind.
func Classify(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.KindTimeout
	case errors.Is(err, models.ErrNoData):
		return models.KindTransient
	case errors.Is(err, models.ErrMalformedInput):
		return models.KindMalformed
	case errors.Is(err, models.ErrConstraintViolation), errors.Is(err, models.ErrSchemaDrift):
		return models.KindDefect
	}
	return models.KindError
}

// failures collects per-entity errors from concurrent workers.
type failures struct {
	mu   sync.Mutex
	list []models.RunFailure
}

func (f *failures) add(entity, stage string, err error) models.RunFailure {
	rf := models.RunFailure{Entity: entity, Stage: stage, Kind: Classify(err), Error: err.Error()}
	f.mu.Lock()
	f.list = append(f.list, rf)
	f.mu.Unlock()
	return rf
}

// sorted returns the failures ordered by entity then stage, so summaries of
// concurrent passes are stable.
func (f *failures) sorted() []models.RunFailure {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]models.RunFailure(nil), f.list...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity < out[j].Entity
		}
		return out[i].Stage < out[j].Stage
	})
	return out
}

func sectorEntity(s string) string     { return "sector:" + s }
func instrumentEntity(s string) string { return "instrument:" + s }
func snapshotEntity(t string) string   { return "snapshot:" + t }
