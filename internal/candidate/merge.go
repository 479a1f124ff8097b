// Package candidate merges generated and scraped addresses into one
// de-duplicated candidate list.
package candidate

import (
	"strings"

	emailaddress "github.com/mcnijman/go-emailaddress"

	"github.com/sells-group/email-sleuth/internal/model"
	"github.com/sells-group/email-sleuth/internal/pattern"
)

// Classifier flags role-account addresses.
type Classifier struct {
	prefixes map[string]bool
}

// NewClassifier builds a classifier from a list of generic local-part prefixes.
func NewClassifier(prefixes []string) *Classifier {
	c := &Classifier{prefixes: make(map[string]bool, len(prefixes))}
	for _, p := range prefixes {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			c.prefixes[p] = true
		}
	}
	return c
}

// IsGeneric reports whether local is a known role account, either exactly
// or followed by a separator or digits ("sales-team", "info2").
func (c *Classifier) IsGeneric(local string) bool {
	if c == nil {
		return false
	}
	local = strings.ToLower(local)
	if c.prefixes[local] {
		return true
	}
	end := strings.IndexAny(local, ".-_+0123456789")
	if end <= 0 {
		return false
	}
	return c.prefixes[local[:end]]
}

// Normalize cleans one scraped string and parses it. It returns false when
// the string is not an address.
func Normalize(raw string) (*emailaddress.EmailAddress, bool) {
	const junk = " <>\"'.,;:()[]"
	s := strings.Trim(strings.ToLower(strings.TrimSpace(raw)), junk)
	s = strings.TrimPrefix(s, "mailto:")
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, junk)
	if s == "" {
		return nil, false
	}
	addr, err := emailaddress.Parse(s)
	if err != nil {
		return nil, false
	}
	return addr, true
}

// Merge combines patterns and scraped addresses for domain. Pattern
// candidates come first in generator order, then scraped-only candidates in
// input order. An address found both ways stays a pattern candidate, keeps
// its weight and gains the scraped provenance. Scraped addresses on other
// domains are discarded.
func Merge(domain string, patterns []pattern.Pattern, scraped model.ScrapedSet, cls *Classifier) []*model.Candidate {
	domain = strings.ToLower(domain)
	byAddr := make(map[string]*model.Candidate, len(patterns)+len(scraped.Addresses))
	var out []*model.Candidate

	for _, p := range patterns {
		addr := strings.ToLower(p.Address)
		if _, dup := byAddr[addr]; dup {
			continue
		}
		c := &model.Candidate{
			Address:    addr,
			LocalPart:  p.LocalPart,
			Source:     model.SourcePattern,
			Provenance: []string{"pattern:" + p.Name},
			Pattern:    p.Name,
			Weight:     p.Weight,
			Generic:    cls.IsGeneric(p.LocalPart),
			Outcome:    model.NotAttempted(),
		}
		byAddr[addr] = c
		out = append(out, c)
	}

	tag := scraped.Tag
	if tag == "" {
		tag = "website"
	}
	prov := "scraped:" + tag

	for _, raw := range scraped.Addresses {
		addr, ok := Normalize(raw)
		if !ok || addr.Domain != domain {
			continue
		}
		key := addr.String()
		if c, ok := byAddr[key]; ok {
			if !c.HasProvenance(prov) {
				c.Provenance = append(c.Provenance, prov)
			}
			if c.Source == model.SourcePattern {
				c.Corroborated = true
			}
			continue
		}
		c := &model.Candidate{
			Address:    key,
			LocalPart:  addr.LocalPart,
			Source:     model.SourceScraped,
			Provenance: []string{prov},
			Generic:    cls.IsGeneric(addr.LocalPart),
			Outcome:    model.NotAttempted(),
		}
		byAddr[key] = c
		out = append(out, c)
	}

	for i, c := range out {
		c.Order = i
	}
	return out
}
