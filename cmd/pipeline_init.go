package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/email-sleuth/internal/model"
	"github.com/sells-group/email-sleuth/internal/mx"
	"github.com/sells-group/email-sleuth/internal/pipeline"
	"github.com/sells-group/email-sleuth/internal/resilience"
	"github.com/sells-group/email-sleuth/internal/schedule"
	"github.com/sells-group/email-sleuth/internal/scorer"
	"github.com/sells-group/email-sleuth/internal/scrape"
	"github.com/sells-group/email-sleuth/internal/smtpprobe"
	"github.com/sells-group/email-sleuth/internal/store"
)

// pipelineEnv holds the shared scheduler, the orchestrator and the optional
// store used by the find/batch/serve commands.
type pipelineEnv struct {
	Store        store.Store // may be nil
	Scheduler    *schedule.Scheduler
	Breakers     *resilience.HostBreakers
	Orchestrator *pipeline.Orchestrator
}

// Close logs the per-domain probe state gathered during the run and releases
// resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Scheduler != nil {
		catchAll := 0
		states := pe.Scheduler.Snapshot()
		for _, st := range states {
			if st.CatchAll == model.CatchAllYes {
				catchAll++
			}
		}
		zap.L().Debug("probe state",
			zap.Int("domains", len(states)),
			zap.Int("catch_all_domains", catchAll),
		)
	}
	if pe.Breakers != nil {
		if open := pe.Breakers.Open(); len(open) > 0 {
			zap.L().Warn("mail hosts left with open circuits", zap.Strings("hosts", open))
		}
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// NewBatch builds a batch driver over the orchestrator that persists to the
// store when one is configured.
func (pe *pipelineEnv) NewBatch(progress pipeline.ProgressFunc) *pipeline.Batch {
	opts := []pipeline.BatchOption{}
	if pe.Store != nil {
		opts = append(opts, pipeline.WithStore(pe.Store))
	}
	if progress != nil {
		opts = append(opts, pipeline.WithProgress(progress))
	}
	return pipeline.NewBatch(pe.Orchestrator, cfg.Verification.MaxConcurrency, opts...)
}

// initPipeline validates config for mode, opens the store and wires the
// resolver, verifier, scraper and scheduler into an Orchestrator. Callers
// should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	if err := scorer.ValidateConfig(cfg.Scoring); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	sched := schedule.New(schedule.Config{
		MaxConcurrency: cfg.Verification.MaxConcurrency,
		MinDelay:       cfg.Politeness.MinDelay(),
		MaxDelay:       cfg.Politeness.MaxDelay(),
	})

	var mxOpts []mx.Option
	if st != nil {
		mxOpts = append(mxOpts, mx.WithCache(st))
	}
	resolver, err := mx.New(mx.ConfigFrom(cfg.DNS), mxOpts...)
	if err != nil {
		if st != nil {
			_ = st.Close()
		}
		return nil, eris.Wrap(err, "init mx resolver")
	}

	breakers := resilience.NewHostBreakers(resilience.FromCircuitConfig(cfg.Circuit))
	verifier := smtpprobe.New(smtpprobe.ConfigFrom(cfg.SMTP), sched, smtpprobe.WithBreakers(breakers))

	var opts []pipeline.Option
	if cfg.Scrape.Enabled {
		opts = append(opts, pipeline.WithScraper(scrape.NewSiteScraper(cfg.Scrape)))
	} else {
		zap.L().Debug("website scraping disabled")
	}

	zap.L().Info("pipeline initialized",
		zap.Strings("dns_servers", resolver.Servers()),
		zap.Int("max_concurrency", cfg.Verification.MaxConcurrency),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("scrape", cfg.Scrape.Enabled),
	)

	return &pipelineEnv{
		Store:        st,
		Scheduler:    sched,
		Breakers:     breakers,
		Orchestrator: pipeline.New(cfg, resolver, verifier, sched, opts...),
	}, nil
}
