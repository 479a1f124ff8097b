package scorer

import (
	"math"
	"strings"

	"github.com/sells-group/email-sleuth/internal/config"
	"github.com/sells-group/email-sleuth/internal/model"
	"github.com/sells-group/email-sleuth/internal/pattern"
)

// Score bounds.
const (
	MinScore = 0
	MaxScore = 10
)

// Scorer computes candidate confidence. It is stateless and safe for
// concurrent use.
type Scorer struct {
	cfg config.ScoringConfig
}

// New creates a Scorer from validated weights.
func New(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score returns the candidate's confidence in [0, 10] given its current
// verification outcome. An invalid mailbox always scores 0.
func (s *Scorer) Score(c *model.Candidate, contact model.ValidatedContact) int {
	if c.Outcome.IsInvalid() {
		return MinScore
	}
	raw := s.base(c, contact)
	switch {
	case c.Outcome.IsValid():
		raw += s.cfg.ValidBonus
	case c.Outcome.Inconclusive():
		raw += s.cfg.InconclusiveBonus
	}
	return clamp(raw)
}

// Prescore is the score the candidate would have with no verification; it
// gates whether the candidate is worth probing.
func (s *Scorer) Prescore(c *model.Candidate, contact model.ValidatedContact) int {
	return clamp(s.base(c, contact))
}

// Apply scores every candidate in place.
func (s *Scorer) Apply(cands []*model.Candidate, contact model.ValidatedContact) {
	for _, c := range cands {
		c.Score = s.Score(c, contact)
	}
}

func (s *Scorer) base(c *model.Candidate, contact model.ValidatedContact) float64 {
	var raw float64
	switch c.Source {
	case model.SourcePattern:
		raw = s.cfg.PatternWeightScale * c.Weight
	case model.SourceScraped:
		raw = s.cfg.ScrapedWeight
	}

	switch nameMatch(c.LocalPart, contact) {
	case 2:
		raw += s.cfg.NameFullBonus
	case 1:
		raw += s.cfg.NamePartialBonus
	}

	if c.Corroborated {
		raw += s.cfg.CorroborationBonus
	}
	if c.Generic {
		raw -= s.cfg.GenericPenalty
	}
	return raw
}

// nameMatch counts how many of the contact's names appear in the local part.
func nameMatch(local string, contact model.ValidatedContact) int {
	l := pattern.NormalizeName(local)
	first := pattern.NormalizeName(contact.FirstName)
	last := pattern.NormalizeName(contact.LastName)

	n := 0
	if first != "" && strings.Contains(l, first) {
		n++
	}
	if last != "" && last != first && strings.Contains(l, last) {
		n++
	}
	if last != "" && last == first && n == 1 {
		n = 2
	}
	return n
}

func clamp(v float64) int {
	r := int(math.Round(v))
	if r < MinScore {
		return MinScore
	}
	if r > MaxScore {
		return MaxScore
	}
	return r
}
