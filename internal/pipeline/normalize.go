package pipeline

import (
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/net/publicsuffix"

	"github.com/sells-group/email-sleuth/internal/model"
	"github.com/sells-group/email-sleuth/internal/pattern"
)

// InputError marks a contact that cannot be processed. Such contacts are
// skipped, never failed.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string { return "pipeline: invalid contact: " + e.Reason }

// NormalizeContact validates a contact and reduces its domain input to a
// bare lowercase hostname.
func NormalizeContact(c model.Contact) (model.ValidatedContact, error) {
	first, last := c.Names()
	domainInput := strings.TrimSpace(c.Domain)

	var missing []string
	if pattern.NormalizeName(first) == "" {
		missing = append(missing, "first name")
	}
	if pattern.NormalizeName(last) == "" {
		missing = append(missing, "last name")
	}
	if domainInput == "" {
		missing = append(missing, "domain")
	}
	if len(missing) > 0 {
		return model.ValidatedContact{}, &InputError{Reason: "Missing " + strings.Join(missing, ", ")}
	}

	domain, website, err := DomainFromInput(domainInput)
	if err != nil {
		return model.ValidatedContact{}, &InputError{
			Reason: "Cannot extract domain from input '" + domainInput + "': " + err.Error(),
		}
	}

	return model.ValidatedContact{
		FirstName: first,
		LastName:  last,
		Domain:    domain,
		Website:   website,
	}, nil
}

// DomainFromInput accepts a bare domain or a website URL and returns the
// registrable mail domain (scheme, www., port and path removed) together
// with a fetchable website URL.
func DomainFromInput(input string) (domain, website string, err error) {
	raw := strings.TrimSpace(input)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", eris.Wrap(err, "parse url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", eris.Errorf("unsupported scheme %q", u.Scheme)
	}

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	domain = strings.TrimPrefix(host, "www.")
	if !pattern.ValidDomain(domain) {
		return "", "", eris.Errorf("%q is not a hostname", domain)
	}
	if suffix, _ := publicsuffix.PublicSuffix(domain); suffix == domain {
		return "", "", eris.Errorf("%q is a public suffix", domain)
	}

	return domain, u.Scheme + "://" + host, nil
}
