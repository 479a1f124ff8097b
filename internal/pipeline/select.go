package pipeline

import (
	"sort"

	"github.com/sells-group/email-sleuth/internal/config"
	"github.com/sells-group/email-sleuth/internal/model"
)

// Policy holds the selection thresholds.
type Policy struct {
	Threshold        int
	GenericThreshold int
	MaxAlternatives  int
}

// PolicyFrom maps verification config to a selection policy.
func PolicyFrom(c config.VerificationConfig) Policy {
	return Policy{
		Threshold:        c.ConfidenceThreshold,
		GenericThreshold: c.GenericConfidenceThreshold,
		MaxAlternatives:  c.MaxAlternatives,
	}
}

// Selection is the selector's output. Best is nil when no candidate clears
// its threshold.
type Selection struct {
	Best         *model.Candidate
	Alternatives []*model.Candidate
}

// Select ranks scored candidates (score desc, personal before generic, then
// merge order), picks the top one if it clears the applicable threshold and
// keeps up to MaxAlternatives others. Invalid candidates are never selected
// or offered as alternatives. cands is not reordered.
func Select(cands []*model.Candidate, p Policy) Selection {
	ranked := make([]*model.Candidate, 0, len(cands))
	for _, c := range cands {
		if !c.Outcome.IsInvalid() {
			ranked = append(ranked, c)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Generic != b.Generic {
			return !a.Generic
		}
		return a.Order < b.Order
	})

	var sel Selection
	rest := ranked
	if len(ranked) > 0 && ranked[0].Score >= p.thresholdFor(ranked[0]) {
		sel.Best = ranked[0]
		rest = ranked[1:]
	}
	n := min(len(rest), max(p.MaxAlternatives, 0))
	if n > 0 {
		sel.Alternatives = append([]*model.Candidate(nil), rest[:n]...)
	}
	return sel
}

func (p Policy) thresholdFor(c *model.Candidate) int {
	if c.Generic {
		return p.GenericThreshold
	}
	return p.Threshold
}
