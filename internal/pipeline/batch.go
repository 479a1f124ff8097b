package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/email-sleuth/internal/model"
	"github.com/sells-group/email-sleuth/internal/resilience"
)

// Processor handles one contact. *Orchestrator satisfies it.
type Processor interface {
	Process(ctx context.Context, c model.Contact) *model.ContactResult
}

// RunStore persists batch runs. store.Store satisfies it.
type RunStore interface {
	CreateRun(ctx context.Context, run *model.Run) error
	SaveResult(ctx context.Context, runID string, res *model.ContactResult) error
	CompleteRun(ctx context.Context, run *model.Run) error
}

// ProgressFunc is called after each contact finishes with the number done
// so far and the total.
type ProgressFunc func(done, total int, res *model.ContactResult)

// Batch runs a Processor over many contacts with bounded concurrency.
type Batch struct {
	proc        Processor
	store       RunStore
	concurrency int
	progress    ProgressFunc
	retry       resilience.RetryConfig
	now         func() time.Time
}

// BatchOption customizes a Batch.
type BatchOption func(*Batch)

// WithStore persists every result and the run summary.
func WithStore(s RunStore) BatchOption {
	return func(b *Batch) { b.store = s }
}

// WithProgress registers a progress callback. It may be called from
// several goroutines, one call at a time.
func WithProgress(fn ProgressFunc) BatchOption {
	return func(b *Batch) { b.progress = fn }
}

// WithStoreRetry replaces the retry policy for transient store write
// failures.
func WithStoreRetry(rc resilience.RetryConfig) BatchOption {
	return func(b *Batch) { b.retry = rc }
}

// NewBatch creates a batch driver. concurrency bounds the contacts in
// flight; network activity is further bounded by the scheduler shared with
// the processor.
func NewBatch(proc Processor, concurrency int, opts ...BatchOption) *Batch {
	b := &Batch{
		proc:        proc,
		concurrency: max(concurrency, 1),
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     time.Second,
			JitterFraction: 0.25,
		},
		now: time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Run processes every contact and returns results in input order. A
// failure on one contact never stops the others; the only error returned
// is a store failure while creating the run.
func (b *Batch) Run(ctx context.Context, source string, contacts []model.Contact) (*model.Run, []*model.ContactResult, error) {
	run := &model.Run{
		ID:        uuid.New().String(),
		Status:    model.RunStatusRunning,
		Source:    source,
		Total:     len(contacts),
		StartedAt: b.now().UTC(),
	}
	log := zap.L().With(zap.String("run_id", run.ID))

	if b.store != nil {
		if err := b.store.CreateRun(ctx, run); err != nil {
			return nil, nil, eris.Wrap(err, "pipeline: create run")
		}
	}
	log.Info("pipeline: batch started", zap.Int("contacts", len(contacts)), zap.Int("concurrency", b.concurrency))

	results := make([]*model.ContactResult, len(contacts))
	var (
		mu   sync.Mutex
		done int
	)

	g := new(errgroup.Group)
	g.SetLimit(b.concurrency)
	for i, c := range contacts {
		g.Go(func() error {
			res := b.processOne(ctx, c)
			res.RunID = run.ID
			res.Index = i
			results[i] = res

			if b.store != nil {
				err := resilience.Do(ctx, b.retry, func(ctx context.Context) error {
					return b.store.SaveResult(ctx, run.ID, res)
				})
				if err != nil {
					log.Warn("pipeline: save result failed", zap.Int("index", i), zap.Error(err))
				}
			}

			mu.Lock()
			defer mu.Unlock()
			run.Tally(res)
			done++
			if b.progress != nil {
				b.progress(done, len(contacts), res)
			}
			return nil
		})
	}
	_ = g.Wait()

	finished := b.now().UTC()
	run.FinishedAt = &finished
	run.Status = model.RunStatusComplete
	if ctx.Err() != nil {
		run.Status = model.RunStatusFailed
	}

	if b.store != nil {
		// The caller's context may be done; the summary is still written.
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		err := resilience.Do(sctx, b.retry, func(ctx context.Context) error {
			return b.store.CompleteRun(ctx, run)
		})
		if err != nil {
			log.Warn("pipeline: complete run failed", zap.Error(err))
		}
	}

	log.Info("pipeline: batch finished",
		zap.Int("total", run.Total),
		zap.Int("found", run.Found),
		zap.Int("skipped", run.Skipped),
		zap.Int("failed", run.Failed),
		zap.Duration("elapsed", finished.Sub(run.StartedAt)),
	)
	return run, results, nil
}

// processOne isolates a processor panic to its contact.
func (b *Batch) processOne(ctx context.Context, c model.Contact) (res *model.ContactResult) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("pipeline: processor panicked", zap.Any("panic", r))
			res = &model.ContactResult{
				Contact:      c,
				Alternatives: []string{},
				MethodsUsed:  []string{},
				Error:        eris.Errorf("internal error: %v", r).Error(),
				ProcessedAt:  b.now().UTC(),
			}
		}
	}()
	res = b.proc.Process(ctx, c)
	if res == nil {
		res = &model.ContactResult{
			Contact:      c,
			Alternatives: []string{},
			MethodsUsed:  []string{},
			Error:        "internal error: no result",
			ProcessedAt:  b.now().UTC(),
		}
	}
	return res
}
