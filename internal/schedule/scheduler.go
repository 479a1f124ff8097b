// Package schedule paces network probes: a global ceiling on concurrent
// network sessions plus a randomized minimum gap between probes to the same
// domain, and a once-per-domain catch-all verdict cache.
package schedule

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/email-sleuth/internal/model"
)

// Clock abstracts time so pacing can be tested without sleeping.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Config bounds concurrency and per-domain pacing.
type Config struct {
	MaxConcurrency int
	MinDelay       time.Duration
	MaxDelay       time.Duration
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithJitter replaces the random delay source. fn receives the configured
// bounds and must return a value within them.
func WithJitter(fn func(min, max time.Duration) time.Duration) Option {
	return func(s *Scheduler) { s.jitter = fn }
}

type domainState struct {
	mu       sync.Mutex
	last     time.Time
	inFlight int
	verdict  model.CatchAllVerdict
}

// Scheduler is shared by every contact in a run.
type Scheduler struct {
	cfg    Config
	sem    *semaphore.Weighted
	clock  Clock
	jitter func(min, max time.Duration) time.Duration
	flight singleflight.Group

	mu      sync.Mutex
	domains map[string]*domainState
}

// New creates a Scheduler. MaxConcurrency below 1 is treated as 1.
func New(cfg Config, opts ...Option) *Scheduler {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	s := &Scheduler{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		clock:   realClock{},
		jitter:  uniformJitter,
		domains: make(map[string]*domainState),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func uniformJitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)+1))
}

func (s *Scheduler) state(domain string) *domainState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.domains[domain]
	if !ok {
		st = &domainState{verdict: model.CatchAllUnknown}
		s.domains[domain] = st
	}
	return st
}

// Lease is permission to open one SMTP session to a domain. Release must be
// called exactly once the session ends; extra calls are no-ops.
type Lease struct {
	s      *Scheduler
	st     *domainState
	issued time.Time
	once   sync.Once
}

// IssuedAt returns the reserved issue time of the probe.
func (l *Lease) IssuedAt() time.Time { return l.issued }

// Release returns the global permit and decrements the domain's in-flight count.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		l.st.mu.Lock()
		l.st.inFlight--
		l.st.mu.Unlock()
		l.s.sem.Release(1)
	})
}

// Acquire blocks until a global permit is free and the domain's politeness
// gap has elapsed. Issue times for one domain are reserved under the domain
// lock, so concurrent callers are spaced at least MinDelay apart. On error
// nothing is held.
func (s *Scheduler) Acquire(ctx context.Context, domain string) (*Lease, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrapf(err, "schedule: acquire permit for %s", domain)
	}

	st := s.state(domain)
	st.mu.Lock()
	now := s.clock.Now()
	issue := now
	if !st.last.IsZero() {
		if next := st.last.Add(s.jitter(s.cfg.MinDelay, s.cfg.MaxDelay)); next.After(issue) {
			issue = next
		}
	}
	st.last = issue
	st.inFlight++
	st.mu.Unlock()

	lease := &Lease{s: s, st: st, issued: issue}
	if wait := issue.Sub(now); wait > 0 {
		if err := s.clock.Sleep(ctx, wait); err != nil {
			lease.Release()
			return nil, eris.Wrapf(err, "schedule: wait for %s", domain)
		}
	}
	return lease, nil
}

// Admit takes a global permit for contact-level network work (scraping, DNS)
// so it shares the ceiling with SMTP sessions. The returned func releases it
// and is safe to call more than once.
func (s *Scheduler) Admit(ctx context.Context) (func(), error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(err, "schedule: admit")
	}
	var once sync.Once
	return func() { once.Do(func() { s.sem.Release(1) }) }, nil
}

// ProbeFunc performs one catch-all probe against a domain.
type ProbeFunc func(ctx context.Context) (model.CatchAllVerdict, error)

// CatchAll returns the domain's catch-all verdict, running probe at most
// once per domain even under concurrent callers. A failed probe yields
// NotCatchAll. A probe interrupted by cancellation is not cached: the
// cancelled caller gets NotCatchAll, and callers that shared its flight
// with a live context probe again under their own context.
// Callers must not hold a Lease for the domain while calling CatchAll.
func (s *Scheduler) CatchAll(ctx context.Context, domain string, probe ProbeFunc) model.CatchAllVerdict {
	st := s.state(domain)
	for {
		if v := st.cachedVerdict(); v != model.CatchAllUnknown {
			return v
		}

		res, _, _ := s.flight.Do(domain, func() (any, error) {
			if v := st.cachedVerdict(); v != model.CatchAllUnknown {
				return v, nil
			}
			verdict, err := probe(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return model.CatchAllUnknown, nil
				}
				zap.L().Debug("schedule: catch-all probe failed, assuming not catch-all",
					zap.String("domain", domain), zap.Error(err))
				verdict = model.CatchAllNo
			}
			if verdict == model.CatchAllUnknown {
				verdict = model.CatchAllNo
			}
			st.mu.Lock()
			if st.verdict == model.CatchAllUnknown {
				st.verdict = verdict
			}
			verdict = st.verdict
			st.mu.Unlock()
			return verdict, nil
		})

		// Unknown means the flight's owner was cancelled mid-probe.
		if v := res.(model.CatchAllVerdict); v != model.CatchAllUnknown {
			return v
		}
		if ctx.Err() != nil {
			return model.CatchAllNo
		}
	}
}

func (st *domainState) cachedVerdict() model.CatchAllVerdict {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.verdict
}

// Verdict returns the cached catch-all verdict without probing.
func (s *Scheduler) Verdict(domain string) model.CatchAllVerdict {
	return s.state(domain).cachedVerdict()
}

// State returns a snapshot of one domain's bookkeeping.
func (s *Scheduler) State(domain string) model.DomainProbeState {
	st := s.state(domain)
	st.mu.Lock()
	defer st.mu.Unlock()
	return model.DomainProbeState{
		Domain:    domain,
		LastProbe: st.last,
		CatchAll:  st.verdict,
		InFlight:  st.inFlight,
	}
}

// Snapshot returns every known domain's state, sorted by domain.
func (s *Scheduler) Snapshot() []model.DomainProbeState {
	s.mu.Lock()
	names := make([]string, 0, len(s.domains))
	for d := range s.domains {
		names = append(names, d)
	}
	s.mu.Unlock()

	sort.Strings(names)
	out := make([]model.DomainProbeState, 0, len(names))
	for _, d := range names {
		out = append(out, s.State(d))
	}
	return out
}
