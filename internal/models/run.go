package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	RunOK      = "ok"
	RunPartial = "partial"
	RunFailed  = "failed"
)

// Failure kinds a run summary groups errors by.
const (
	KindTransient = "transient"
	KindMalformed = "malformed"
	KindDefect    = "defect"
	KindTimeout   = "timeout"
	KindError     = "error"
)

// RunFailure is one entity that failed during a run.
type RunFailure struct {
	Entity string `json:"entity"` // "sector:xlk", "instrument:aapl", "snapshot:xlk_shares"
	Stage  string `json:"stage"`
	Kind   string `json:"kind"`
	Error  string `json:"error"`
}

// RunSummary is the outcome of one pipeline pass.
type RunSummary struct {
	RunID        uuid.UUID    `json:"runId"`
	AsOf         time.Time    `json:"asOf"`
	StartedAt    time.Time    `json:"startedAt"`
	FinishedAt   time.Time    `json:"finishedAt"`
	Status       string       `json:"status"`
	Sectors      int          `json:"sectors"`
	Instruments  int          `json:"instruments"`
	RowsAppended int64        `json:"rowsAppended"`
	IndexPoints  int64        `json:"indexPoints"`
	Restored     int          `json:"restored"`
	Saved        int          `json:"saved"`
	Failures     []RunFailure `json:"failures"`
}

func (s *RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// FailuresByKind counts failures per kind.
func (s *RunSummary) FailuresByKind() map[string]int {
	out := make(map[string]int)
	for _, f := range s.Failures {
		out[f.Kind]++
	}
	return out
}

// Text renders a short multi-line report suitable for chat webhooks.
func (s *RunSummary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s %s as of %s in %s\n", shortID(s.RunID), strings.ToUpper(s.Status),
		FormatDate(s.AsOf), s.Duration().Round(time.Second))
	fmt.Fprintf(&b, "sectors %d, instruments %d, rows appended %d, index points %d",
		s.Sectors, s.Instruments, s.RowsAppended, s.IndexPoints)
	if len(s.Failures) == 0 {
		return b.String()
	}
	fmt.Fprintf(&b, "\n%d failures:", len(s.Failures))
	const shown = 10
	for i, f := range s.Failures {
		if i == shown {
			fmt.Fprintf(&b, "\n  ... %d more", len(s.Failures)-shown)
			break
		}
		fmt.Fprintf(&b, "\n  %s [%s/%s] %s", f.Entity, f.Stage, f.Kind, f.Error)
	}
	return b.String()
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
