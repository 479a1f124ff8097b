// Package pattern generates candidate email addresses from a person's name
// using the local-part conventions companies commonly adopt.
package pattern

import (
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrEmptyName is returned when a name normalizes to nothing.
	ErrEmptyName = eris.New("pattern: name is empty after normalization")
	// ErrInvalidDomain is returned for a domain that is not a hostname.
	ErrInvalidDomain = eris.New("pattern: invalid domain")
)

// Pattern is one generated candidate.
type Pattern struct {
	Name      string  // pattern identifier, e.g. "first.last"
	LocalPart string  // rendered local part
	Address   string  // local@domain
	Weight    float64 // prior plausibility in (0, 1]
}

type rule struct {
	name   string
	weight float64
	render func(f, l string) string
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// rules are declared in rough order of how often the convention is seen in
// the wild; weights encode the same ranking.
var rules = []rule{
	{"first.last", 1.00, func(f, l string) string { return f + "." + l }},
	{"flast", 0.85, func(f, l string) string { return f[:1] + l }},
	{"first", 0.75, func(f, l string) string { return f }},
	{"firstlast", 0.70, func(f, l string) string { return f + l }},
	{"f.last", 0.65, func(f, l string) string { return f[:1] + "." + l }},
	{"first_last", 0.55, func(f, l string) string { return f + "_" + l }},
	{"firstl", 0.50, func(f, l string) string { return f + l[:1] }},
	{"first.l", 0.45, func(f, l string) string { return f + "." + l[:1] }},
	{"last", 0.40, func(f, l string) string { return l }},
	{"last.first", 0.40, func(f, l string) string { return l + "." + f }},
	{"first-last", 0.40, func(f, l string) string { return f + "-" + l }},
	{"lastfirst", 0.30, func(f, l string) string { return l + f }},
	{"lastf", 0.30, func(f, l string) string { return l + f[:1] }},
	{"last_first", 0.25, func(f, l string) string { return l + "_" + f }},
	{"fl", 0.20, func(f, l string) string { return f[:1] + l[:1] }},
	{"firlast", 0.20, func(f, l string) string { return prefix(f, 3) + l }},
	{"firstlas", 0.15, func(f, l string) string { return f + prefix(l, 3) }},
	{"last-first", 0.15, func(f, l string) string { return l + "-" + f }},
}

// Generate renders every pattern for the given name and domain. The result
// is ordered by weight descending, ties in declaration order, and contains
// each local part once (the highest-weight rendering wins). Identical input
// always yields identical output.
func Generate(first, last, domain string) ([]Pattern, error) {
	f := NormalizeName(first)
	l := NormalizeName(last)
	if f == "" || l == "" {
		return nil, ErrEmptyName
	}
	d := strings.ToLower(strings.TrimSpace(domain))
	if !ValidDomain(d) {
		return nil, eris.Wrapf(ErrInvalidDomain, "%q", domain)
	}

	type ranked struct {
		Pattern
		order int
	}
	seen := make(map[string]int)
	var out []ranked
	for i, r := range rules {
		local := r.render(f, l)
		if j, ok := seen[local]; ok {
			if r.weight > out[j].Weight {
				out[j].Weight = r.weight
				out[j].Name = r.name
				out[j].order = i
			}
			continue
		}
		seen[local] = len(out)
		out = append(out, ranked{
			Pattern: Pattern{Name: r.name, LocalPart: local, Address: local + "@" + d, Weight: r.weight},
			order:   i,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].order < out[j].order
	})

	patterns := make([]Pattern, len(out))
	for i, r := range out {
		patterns[i] = r.Pattern
	}
	return patterns, nil
}

// NormalizeName lowercases s, folds diacritics to their base letters and
// drops everything outside [a-z0-9].
func NormalizeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}
	var b strings.Builder
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidDomain reports whether d is a syntactic hostname with at least two
// labels.
func ValidDomain(d string) bool {
	if len(d) == 0 || len(d) > 253 {
		return false
	}
	labels := strings.Split(d, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '-' {
				return false
			}
		}
	}
	return true
}
