// Package scorer assigns each email candidate a 0–10 confidence score.
package scorer

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/email-sleuth/internal/config"
)

// DefaultScoringConfig returns the stock scoring weights.
func DefaultScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		PatternWeightScale: 3,
		ScrapedWeight:      4,
		NameFullBonus:      2,
		NamePartialBonus:   1,
		CorroborationBonus: 2,
		GenericPenalty:     3,
		ValidBonus:         5,
		InconclusiveBonus:  1,
	}
}

// ValidateConfig checks that a ScoringConfig is internally consistent.
func ValidateConfig(c config.ScoringConfig) error {
	var errs []string

	weights := map[string]float64{
		"pattern_weight_scale": c.PatternWeightScale,
		"scraped_weight":       c.ScrapedWeight,
		"name_full_bonus":      c.NameFullBonus,
		"name_partial_bonus":   c.NamePartialBonus,
		"corroboration_bonus":  c.CorroborationBonus,
		"generic_penalty":      c.GenericPenalty,
		"valid_bonus":          c.ValidBonus,
		"inconclusive_bonus":   c.InconclusiveBonus,
	}
	for name, w := range weights {
		if w < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", name))
		}
	}

	// A partial name match should never outrank a full one.
	if c.NamePartialBonus > c.NameFullBonus {
		errs = append(errs, "name_partial_bonus must be <= name_full_bonus")
	}
	if c.InconclusiveBonus > c.ValidBonus {
		errs = append(errs, "inconclusive_bonus must be <= valid_bonus")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
