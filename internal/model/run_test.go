package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStatusValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status RunStatus
		want   string
	}{
		{RunStatusRunning, "running"},
		{RunStatusComplete, "complete"},
		{RunStatusFailed, "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, string(tt.status))
		})
	}
}

func TestRunTally(t *testing.T) {
	t.Parallel()

	var r Run
	r.Tally(&ContactResult{Error: "boom"})
	r.Tally(&ContactResult{Skipped: true})
	r.Tally(&ContactResult{Best: &Candidate{Address: "a@b.com"}})
	r.Tally(&ContactResult{})

	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 1, r.Skipped)
	assert.Equal(t, 1, r.Found)
}
