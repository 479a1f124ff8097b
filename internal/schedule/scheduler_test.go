package schedule

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/email-sleuth/internal/model"
)

// frozenClock never advances; Sleep returns immediately unless sleepErr is set.
type frozenClock struct {
	now      time.Time
	sleepErr error
	mu       sync.Mutex
	slept    []time.Duration
}

func (c *frozenClock) Now() time.Time { return c.now }

func (c *frozenClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	c.slept = append(c.slept, d)
	c.mu.Unlock()
	return c.sleepErr
}

func fixedJitter(d time.Duration) func(min, max time.Duration) time.Duration {
	return func(time.Duration, time.Duration) time.Duration { return d }
}

func TestAcquire_PacesSameDomain(t *testing.T) {
	t.Parallel()

	clock := &frozenClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(Config{MaxConcurrency: 32, MinDelay: 100 * time.Millisecond, MaxDelay: 500 * time.Millisecond},
		WithClock(clock))

	var mu sync.Mutex
	var issued []time.Time
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := s.Acquire(context.Background(), "example.com")
			require.NoError(t, err)
			mu.Lock()
			issued = append(issued, lease.IssuedAt())
			mu.Unlock()
			lease.Release()
		}()
	}
	wg.Wait()

	require.Len(t, issued, 20)
	sort.Slice(issued, func(i, j int) bool { return issued[i].Before(issued[j]) })
	for i := 1; i < len(issued); i++ {
		gap := issued[i].Sub(issued[i-1])
		assert.GreaterOrEqual(t, gap, 100*time.Millisecond, "gap %d", i)
		assert.LessOrEqual(t, gap, 500*time.Millisecond, "gap %d", i)
	}
	assert.Equal(t, 0, s.State("example.com").InFlight)
}

func TestAcquire_DomainsIndependent(t *testing.T) {
	t.Parallel()

	clock := &frozenClock{now: time.Unix(1000, 0)}
	s := New(Config{MaxConcurrency: 4, MinDelay: time.Second, MaxDelay: time.Second}, WithClock(clock))

	a, err := s.Acquire(context.Background(), "a.com")
	require.NoError(t, err)
	b, err := s.Acquire(context.Background(), "b.com")
	require.NoError(t, err)

	assert.Equal(t, clock.now, a.IssuedAt())
	assert.Equal(t, clock.now, b.IssuedAt())
	assert.Empty(t, clock.slept)

	a2, err := s.Acquire(context.Background(), "a.com")
	require.NoError(t, err)
	assert.Equal(t, clock.now.Add(time.Second), a2.IssuedAt())
	assert.Equal(t, []time.Duration{time.Second}, clock.slept)

	for _, l := range []*Lease{a, b, a2} {
		l.Release()
	}
}

func TestAcquire_CeilingNeverExceeded(t *testing.T) {
	t.Parallel()

	s := New(Config{MaxConcurrency: 3})

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			domain := []string{"a.com", "b.com", "c.com", "d.com", "e.com"}[i%5]
			var release func()
			if i%2 == 0 {
				lease, err := s.Acquire(context.Background(), domain)
				require.NoError(t, err)
				release = lease.Release
			} else {
				r, err := s.Admit(context.Background())
				require.NoError(t, err)
				release = r
			}
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			release()
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.Greater(t, atomic.LoadInt32(&peak), int32(0))
}

func TestAcquire_CancelledWhileWaitingForPermit(t *testing.T) {
	t.Parallel()

	s := New(Config{MaxConcurrency: 1})
	held, err := s.Acquire(context.Background(), "a.com")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx, "b.com")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	held.Release()
	held.Release() // idempotent

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	lease, err := s.Acquire(ctx2, "b.com")
	require.NoError(t, err)
	lease.Release()
}

func TestAcquire_CancelledDuringPacingReleasesPermit(t *testing.T) {
	t.Parallel()

	clock := &frozenClock{now: time.Unix(0, 0)}
	s := New(Config{MaxConcurrency: 1, MinDelay: time.Second, MaxDelay: time.Second}, WithClock(clock))

	first, err := s.Acquire(context.Background(), "a.com")
	require.NoError(t, err)
	first.Release()

	clock.sleepErr = context.Canceled
	_, err = s.Acquire(context.Background(), "a.com")
	require.Error(t, err)
	assert.Equal(t, 0, s.State("a.com").InFlight)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	release, err := s.Admit(ctx)
	require.NoError(t, err, "permit leaked")
	release()
}

func TestCatchAll_ComputedOnce(t *testing.T) {
	t.Parallel()

	s := New(Config{MaxConcurrency: 4})
	var calls int32
	probe := func(context.Context) (model.CatchAllVerdict, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return model.CatchAllYes, nil
	}

	var wg sync.WaitGroup
	verdicts := make([]model.CatchAllVerdict, 25)
	for i := range verdicts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			verdicts[i] = s.CatchAll(context.Background(), "example.com", probe)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, v := range verdicts {
		assert.Equal(t, model.CatchAllYes, v)
	}

	// Later calls never re-probe or change the verdict.
	v := s.CatchAll(context.Background(), "example.com", func(context.Context) (model.CatchAllVerdict, error) {
		atomic.AddInt32(&calls, 1)
		return model.CatchAllNo, nil
	})
	assert.Equal(t, model.CatchAllYes, v)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, model.CatchAllYes, s.Verdict("example.com"))
}

func TestCatchAll_FailedProbeFailsOpen(t *testing.T) {
	t.Parallel()

	s := New(Config{MaxConcurrency: 1})
	v := s.CatchAll(context.Background(), "example.com", func(context.Context) (model.CatchAllVerdict, error) {
		return model.CatchAllUnknown, errors.New("connection refused")
	})
	assert.Equal(t, model.CatchAllNo, v)
	assert.Equal(t, model.CatchAllNo, s.Verdict("example.com"))
}

func TestCatchAll_CancelledNotCached(t *testing.T) {
	t.Parallel()

	s := New(Config{MaxConcurrency: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := s.CatchAll(ctx, "example.com", func(ctx context.Context) (model.CatchAllVerdict, error) {
		return model.CatchAllUnknown, ctx.Err()
	})
	assert.Equal(t, model.CatchAllNo, v)
	assert.Equal(t, model.CatchAllUnknown, s.Verdict("example.com"))
}

func TestCatchAll_LiveCallerRetriesAfterCancelledOwner(t *testing.T) {
	t.Parallel()

	s := New(Config{MaxConcurrency: 4})
	ownerCtx, cancelOwner := context.WithCancel(context.Background())
	started := make(chan struct{})

	ownerDone := make(chan model.CatchAllVerdict, 1)
	go func() {
		ownerDone <- s.CatchAll(ownerCtx, "example.com", func(ctx context.Context) (model.CatchAllVerdict, error) {
			close(started)
			<-ctx.Done()
			return model.CatchAllUnknown, ctx.Err()
		})
	}()
	<-started

	var calls int32
	otherDone := make(chan model.CatchAllVerdict, 1)
	go func() {
		otherDone <- s.CatchAll(context.Background(), "example.com", func(context.Context) (model.CatchAllVerdict, error) {
			atomic.AddInt32(&calls, 1)
			return model.CatchAllYes, nil
		})
	}()

	// Give the second caller time to join the running flight.
	time.Sleep(20 * time.Millisecond)
	cancelOwner()

	assert.Equal(t, model.CatchAllNo, <-ownerDone)
	assert.Equal(t, model.CatchAllYes, <-otherDone)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, model.CatchAllYes, s.Verdict("example.com"))
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	s := New(Config{MaxConcurrency: 2}, WithJitter(fixedJitter(0)))
	l, err := s.Acquire(context.Background(), "b.com")
	require.NoError(t, err)
	_ = s.Verdict("a.com")

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a.com", snap[0].Domain)
	assert.Equal(t, "b.com", snap[1].Domain)
	assert.Equal(t, 1, snap[1].InFlight)
	assert.Equal(t, model.CatchAllUnknown, snap[0].CatchAll)
	l.Release()
}

func TestUniformJitter(t *testing.T) {
	t.Parallel()

	for i := 0; i < 200; i++ {
		d := uniformJitter(100*time.Millisecond, 500*time.Millisecond)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 500*time.Millisecond)
	}
	assert.Equal(t, time.Second, uniformJitter(time.Second, time.Second))
}
