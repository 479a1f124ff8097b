package model

import (
	"fmt"
	"sync"
	"time"
)

// MailExchanger is one mail server for a domain.
type MailExchanger struct {
	Priority uint16 `json:"priority"`
	Host     string `json:"host"`
}

// MailExchangeSet lists a domain's mail servers in ascending priority.
type MailExchangeSet struct {
	Domain     string          `json:"domain"`
	Hosts      []MailExchanger `json:"hosts"`
	Fallback   bool            `json:"fallback,omitempty"` // no MX records; domain itself used
	ResolvedAt time.Time       `json:"resolved_at"`
}

// CatchAllVerdict is the per-domain catch-all determination.
type CatchAllVerdict string

const (
	CatchAllUnknown CatchAllVerdict = "unknown"
	CatchAllYes     CatchAllVerdict = "catch_all"
	CatchAllNo      CatchAllVerdict = "not_catch_all"
)

// DomainProbeState is a point-in-time view of the scheduler's bookkeeping
// for one domain.
type DomainProbeState struct {
	Domain    string          `json:"domain"`
	LastProbe time.Time       `json:"last_probe"`
	CatchAll  CatchAllVerdict `json:"catch_all"`
	InFlight  int             `json:"in_flight"`
}

// VerificationLog is an append-only, goroutine-safe transcript of the
// network conversations held for one contact.
type VerificationLog struct {
	mu    sync.Mutex
	lines []string
}

// Add appends one line.
func (l *VerificationLog) Add(line string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.lines = append(l.lines, line)
	l.mu.Unlock()
}

// Addf appends one formatted line.
func (l *VerificationLog) Addf(format string, args ...any) {
	l.Add(fmt.Sprintf(format, args...))
}

// Lines returns a copy of the transcript.
func (l *VerificationLog) Lines() []string {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}
