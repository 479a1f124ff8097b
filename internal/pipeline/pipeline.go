// Package pipeline drives one contact from names and domain to a selected
// address, and runs that over batches of contacts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/email-sleuth/internal/candidate"
	"github.com/sells-group/email-sleuth/internal/config"
	"github.com/sells-group/email-sleuth/internal/model"
	"github.com/sells-group/email-sleuth/internal/pattern"
	"github.com/sells-group/email-sleuth/internal/scorer"
)

// Scraper finds addresses published on the contact's website.
type Scraper interface {
	Scrape(ctx context.Context, domain string) (model.ScrapedSet, error)
}

// Resolver looks up mail exchangers. *mx.Resolver satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, domain string) (*model.MailExchangeSet, error)
}

// Verifier probes one address. *smtpprobe.Verifier satisfies it.
type Verifier interface {
	Verify(ctx context.Context, address string, set *model.MailExchangeSet, vlog *model.VerificationLog) model.VerificationOutcome
}

// Admitter hands out global permits for contact-level network work.
// *schedule.Scheduler satisfies it.
type Admitter interface {
	Admit(ctx context.Context) (func(), error)
}

// Orchestrator processes single contacts. It is safe for concurrent use;
// all shared pacing state lives in the scheduler behind Admitter and
// Verifier.
type Orchestrator struct {
	resolver Resolver
	verifier Verifier
	admit    Admitter
	scraper  Scraper
	scorer   *scorer.Scorer
	cls      *candidate.Classifier
	policy   Policy

	minPrescore int
	fanOut      int
	now         func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithScraper enables website scraping.
func WithScraper(s Scraper) Option {
	return func(o *Orchestrator) { o.scraper = s }
}

// WithClock overrides the ProcessedAt timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator from validated configuration.
func New(cfg *config.Config, resolver Resolver, verifier Verifier, admit Admitter, opts ...Option) *Orchestrator {
	prefixes := cfg.Candidates.GenericPrefixes
	if len(prefixes) == 0 {
		prefixes = config.DefaultGenericPrefixes
	}
	o := &Orchestrator{
		resolver:    resolver,
		verifier:    verifier,
		admit:       admit,
		scorer:      scorer.New(cfg.Scoring),
		cls:         candidate.NewClassifier(prefixes),
		policy:      PolicyFrom(cfg.Verification),
		minPrescore: cfg.Verification.MinPrescore,
		fanOut:      max(cfg.Verification.MaxConcurrency, 1),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process runs the full pipeline for one contact. It always returns a
// result: invalid input is reported as skipped and internal failures as
// Error, never as a Go error.
func (o *Orchestrator) Process(ctx context.Context, c model.Contact) (res *model.ContactResult) {
	res = &model.ContactResult{
		Contact:      c,
		Alternatives: []string{},
		MethodsUsed:  []string{},
	}
	vlog := &model.VerificationLog{}

	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("pipeline: panic while processing contact",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			res.SetBest(nil)
			res.Alternatives = []string{}
			res.Error = fmt.Sprintf("internal error: %v", r)
		}
		res.VerificationLog = vlog.Lines()
		res.ProcessedAt = o.now().UTC()
	}()

	vc, err := NormalizeContact(c)
	if err != nil {
		var ie *InputError
		if errors.As(err, &ie) {
			res.Skipped = true
			res.SkipReason = ie.Reason
			zap.L().Warn("pipeline: skipping contact", zap.String("reason", ie.Reason))
			return res
		}
		res.Error = err.Error()
		return res
	}
	res.Domain = vc.Domain

	cands, set, err := o.discover(ctx, vc, res, vlog)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	if err := o.verify(ctx, vc, cands, set, res, vlog); err != nil {
		res.Candidates = cands
		res.Error = err.Error()
		return res
	}

	o.scorer.Apply(cands, vc)
	sel := Select(cands, o.policy)
	res.Candidates = cands
	res.SetBest(sel.Best)
	for _, alt := range sel.Alternatives {
		res.Alternatives = append(res.Alternatives, alt.Address)
	}
	res.VerificationFailed = len(cands) > 0 && sel.Best == nil

	zap.L().Info("pipeline: contact processed",
		zap.String("domain", vc.Domain),
		zap.String("email", res.Email),
		zap.Int("confidence", res.Score),
		zap.Int("candidates", len(cands)),
	)
	return res
}

// discover generates, scrapes and merges candidates and resolves the domain
// while holding one global permit. A nil set means resolution failed.
func (o *Orchestrator) discover(ctx context.Context, vc model.ValidatedContact, res *model.ContactResult, vlog *model.VerificationLog) ([]*model.Candidate, *model.MailExchangeSet, error) {
	log := zap.L().With(zap.String("domain", vc.Domain))

	patterns, err := pattern.Generate(vc.FirstName, vc.LastName, vc.Domain)
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: generate patterns")
	}
	res.UseMethod(model.MethodPatternGeneration)

	release, err := o.admit.Admit(ctx)
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: admit")
	}
	defer release()

	var scraped model.ScrapedSet
	if o.scraper != nil {
		res.UseMethod(model.MethodWebsiteScraping)
		s, err := o.scraper.Scrape(ctx, vc.Domain)
		if err != nil {
			log.Warn("pipeline: scrape failed", zap.Error(err))
			vlog.Addf("%s: website scraping failed: %v", vc.Domain, err)
		} else {
			scraped = s
			vlog.Addf("%s: website yielded %d address(es)", vc.Domain, len(s.Addresses))
		}
	}

	cands := candidate.Merge(vc.Domain, patterns, scraped, o.cls)

	res.UseMethod(model.MethodDNSResolution)
	set, err := o.resolver.Resolve(ctx, vc.Domain)
	if err != nil {
		log.Warn("pipeline: mail exchange resolution failed", zap.Error(err))
		vlog.Addf("%s: mail exchange resolution failed: %v", vc.Domain, err)
		return cands, nil, nil
	}
	hosts := make([]string, len(set.Hosts))
	for i, h := range set.Hosts {
		hosts[i] = fmt.Sprintf("%s(%d)", h.Host, h.Priority)
	}
	vlog.Addf("%s: mail exchangers %v", vc.Domain, hosts)
	return cands, set, nil
}

// verify resolves every candidate's outcome. With no mail exchange set all
// candidates are inconclusive; candidates below the prescore gate stay
// unverified. An error means an internal failure while probing.
func (o *Orchestrator) verify(ctx context.Context, vc model.ValidatedContact, cands []*model.Candidate, set *model.MailExchangeSet, res *model.ContactResult, vlog *model.VerificationLog) error {
	if set == nil {
		for _, c := range cands {
			if err := c.Resolve(model.Inconclusive(model.ReasonNoMailServer)); err != nil {
				return eris.Wrap(err, "pipeline: resolve outcome")
			}
		}
		return nil
	}

	var probe []*model.Candidate
	for _, c := range cands {
		if pre := o.scorer.Prescore(c, vc); pre < o.minPrescore {
			vlog.Addf("%s: not verified (%s, prescore %d)", c.Address, model.ReasonLowPrescore, pre)
			continue
		}
		probe = append(probe, c)
	}
	if len(probe) == 0 {
		return nil
	}
	res.UseMethod(model.MethodSMTPVerification)

	g := new(errgroup.Group)
	g.SetLimit(o.fanOut)
	for _, c := range probe {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					zap.L().Error("pipeline: panic while verifying",
						zap.String("address", c.Address),
						zap.Any("panic", r),
						zap.ByteString("stack", debug.Stack()),
					)
					err = eris.Errorf("internal error verifying %s: %v", c.Address, r)
				}
			}()
			out := o.verifier.Verify(ctx, c.Address, set, vlog)
			vlog.Addf("%s: %s", c.Address, describe(out))
			return c.Resolve(out)
		})
	}
	return g.Wait()
}

func describe(o model.VerificationOutcome) string {
	switch {
	case o.Reason != "" && o.Message != "":
		return string(o.Kind) + " (" + o.Reason + ": " + o.Message + ")"
	case o.Reason != "":
		return string(o.Kind) + " (" + o.Reason + ")"
	case o.Message != "":
		return string(o.Kind) + " (" + o.Message + ")"
	default:
		return string(o.Kind)
	}
}
