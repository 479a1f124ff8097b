package model

import (
	"github.com/rotisserie/eris"
)

// Source is where a candidate address came from.
type Source string

const (
	SourcePattern Source = "pattern"
	SourceScraped Source = "scraped"
)

// ErrOutcomeAlreadySet is returned when a candidate's outcome is resolved twice.
var ErrOutcomeAlreadySet = eris.New("model: verification outcome already set")

// Candidate is one proposed address for a contact.
type Candidate struct {
	Address      string              `json:"email"`
	LocalPart    string              `json:"local_part"`
	Source       Source              `json:"source"`
	Provenance   []string            `json:"provenance"`
	Pattern      string              `json:"pattern,omitempty"`
	Weight       float64             `json:"weight"`
	Generic      bool                `json:"is_generic"`
	Corroborated bool                `json:"corroborated,omitempty"`
	Outcome      VerificationOutcome `json:"verification"`
	Score        int                 `json:"confidence"`
	Order        int                 `json:"-"`
}

// Resolve records the verification outcome. An outcome moves from
// NotAttempted to a terminal kind once and never changes afterwards.
func (c *Candidate) Resolve(o VerificationOutcome) error {
	if c.Outcome.Attempted() {
		return eris.Wrapf(ErrOutcomeAlreadySet, "candidate %s", c.Address)
	}
	if !o.Attempted() {
		return eris.Errorf("model: %s is not a terminal outcome", o.Kind)
	}
	c.Outcome = o
	return nil
}

// HasProvenance reports whether tag is among the candidate's provenance tags.
func (c *Candidate) HasProvenance(tag string) bool {
	for _, p := range c.Provenance {
		if p == tag {
			return true
		}
	}
	return false
}

// ScrapedSet is the output of the website-scraping collaborator: raw address
// strings and the tag describing where they were found.
type ScrapedSet struct {
	Tag       string   `json:"tag"`
	Addresses []string `json:"addresses"`
}
