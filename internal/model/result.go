package model

import "time"

// Methods recorded in ContactResult.MethodsUsed.
const (
	MethodPatternGeneration = "pattern_generation"
	MethodWebsiteScraping   = "website_scraping"
	MethodDNSResolution     = "dns_resolution"
	MethodSMTPVerification  = "smtp_verification"
)

// ContactResult is the pipeline output for one contact.
type ContactResult struct {
	RunID              string       `json:"run_id,omitempty"`
	Index              int          `json:"index"`
	Contact            Contact      `json:"contact"`
	Domain             string       `json:"domain,omitempty"`
	Best               *Candidate   `json:"-"`
	Email              string       `json:"email,omitempty"`
	Score              int          `json:"email_confidence"`
	VerificationMethod string       `json:"email_verification_method,omitempty"`
	Alternatives       []string     `json:"email_alternatives"`
	Skipped            bool         `json:"email_finding_skipped"`
	SkipReason         string       `json:"email_finding_reason,omitempty"`
	VerificationFailed bool         `json:"email_verification_failed"`
	Error              string       `json:"email_finding_error,omitempty"`
	Candidates         []*Candidate `json:"found_emails"`
	MethodsUsed        []string     `json:"methods_used"`
	VerificationLog    []string     `json:"verification_log"`
	ProcessedAt        time.Time    `json:"processed_at"`
}

// SetBest records the selected candidate and the fields derived from it.
func (r *ContactResult) SetBest(c *Candidate) {
	r.Best = c
	if c == nil {
		r.Email = ""
		r.Score = 0
		r.VerificationMethod = ""
		return
	}
	r.Email = c.Address
	r.Score = c.Score
	r.VerificationMethod = c.Outcome.Method()
}

// UseMethod appends m to MethodsUsed once.
func (r *ContactResult) UseMethod(m string) {
	for _, have := range r.MethodsUsed {
		if have == m {
			return
		}
	}
	r.MethodsUsed = append(r.MethodsUsed, m)
}
