package model

import "time"

// RunStatus represents the current state of a batch run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run tracks one batch invocation and its tallies.
type Run struct {
	ID         string     `json:"id"`
	Status     RunStatus  `json:"status"`
	Source     string     `json:"source,omitempty"` // input file or "api"
	Total      int        `json:"total"`
	Found      int        `json:"found"`
	Skipped    int        `json:"skipped"`
	Failed     int        `json:"failed"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Tally counts a finished contact result against the run.
func (r *Run) Tally(res *ContactResult) {
	switch {
	case res.Error != "":
		r.Failed++
	case res.Skipped:
		r.Skipped++
	case res.Best != nil:
		r.Found++
	}
}

// RunFilter controls ListRuns pagination.
type RunFilter struct {
	Status RunStatus
	Limit  int
	Offset int
}
