// Package scrape collects addresses published on a contact's company website.
package scrape

import (
	"context"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/email-sleuth/internal/config"
	"github.com/sells-group/email-sleuth/internal/model"
	"github.com/sells-group/email-sleuth/internal/resilience"
)

// Tag is the provenance tag attached to addresses found on a website.
const Tag = "website"

// maxBody caps how much of a page is read.
const maxBody = 512 * 1024

// SiteScraper fetches a domain's homepage and a list of common contact pages
// and extracts the addresses published on them.
type SiteScraper struct {
	cfg     config.ScrapeConfig
	client  *http.Client
	baseURL func(domain string) string
	retry   resilience.RetryConfig
}

// Option configures a SiteScraper.
type Option func(*SiteScraper)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *SiteScraper) { s.client = c }
}

// WithBaseURL overrides how the site root is derived from a domain.
func WithBaseURL(fn func(domain string) string) Option {
	return func(s *SiteScraper) { s.baseURL = fn }
}

// WithRetry replaces the retry policy applied to transient page failures.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(s *SiteScraper) { s.retry = rc }
}

// NewSiteScraper creates a SiteScraper. Zero-valued limits fall back to
// 10 second page timeouts and 8 pages per site.
func NewSiteScraper(cfg config.ScrapeConfig, opts ...Option) *SiteScraper {
	if cfg.TimeoutSecs <= 0 {
		cfg.TimeoutSecs = 10
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 8
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; email-sleuth/1.0)"
	}

	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	s := &SiteScraper{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: timeout,
				}).DialContext,
				TLSHandshakeTimeout: timeout,
			},
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		baseURL: func(domain string) string { return "https://" + domain },
		retry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			JitterFraction: 0.25,
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Scrape visits the site root and the configured common pages for domain.
// Individual page failures are logged and skipped; an error is returned only
// when no page could be fetched at all.
func (s *SiteScraper) Scrape(ctx context.Context, domain string) (model.ScrapedSet, error) {
	set := model.ScrapedSet{Tag: Tag}
	log := zap.L().With(zap.String("domain", domain))

	pages, err := s.pageURLs(domain)
	if err != nil {
		return set, err
	}

	seen := make(map[string]bool)
	fetched := 0
	var lastErr error
	for _, page := range pages {
		if ctx.Err() != nil {
			return set, eris.Wrap(ctx.Err(), "scrape: cancelled")
		}
		rc := s.retry
		rc.OnRetry = resilience.RetryLogger("scrape", page)
		addrs, err := resilience.DoVal(ctx, rc, func(ctx context.Context) ([]string, error) {
			return s.fetch(ctx, page)
		})
		if err != nil {
			log.Debug("scrape: page skipped",
				zap.String("url", page),
				zap.String("class", resilience.ClassifyError(err)),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		fetched++
		for _, a := range addrs {
			if !seen[a] {
				seen[a] = true
				set.Addresses = append(set.Addresses, a)
			}
		}
	}

	if fetched == 0 {
		return set, eris.Wrapf(lastErr, "scrape: no pages fetched for %s", domain)
	}
	log.Debug("scrape: complete",
		zap.Int("pages", fetched),
		zap.Int("addresses", len(set.Addresses)),
	)
	return set, nil
}

// pageURLs lists the site root followed by the common pages, deduplicated
// and capped at MaxPages.
func (s *SiteScraper) pageURLs(domain string) ([]string, error) {
	base, err := url.Parse(s.baseURL(domain))
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: base url for %s", domain)
	}

	seen := make(map[string]bool)
	var out []string
	add := func(u *url.URL) {
		u.Fragment = ""
		key := strings.TrimSuffix(u.String(), "/")
		if seen[key] || len(out) >= s.cfg.MaxPages {
			return
		}
		seen[key] = true
		out = append(out, u.String())
	}

	add(&url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/"})
	for _, p := range s.cfg.CommonPages {
		ref, err := url.Parse(p)
		if err != nil {
			continue
		}
		u := base.ResolveReference(ref)
		if u.Host != base.Host {
			continue
		}
		add(u)
	}
	return out, nil
}

// fetch downloads one page and returns the addresses on it. Non-HTML pages
// yield no addresses and no error. 5xx and 408 responses come back as
// transient errors so the caller retries them; blocked pages do not.
func (s *SiteScraper) fetch(ctx context.Context, pageURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: create request")
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, eris.Wrap(err, "scrape: read body")
	}

	if bt := DetectBlock(resp, body); bt != BlockNone {
		return nil, eris.Errorf("scrape: blocked (%s)", bt)
	}
	if resp.StatusCode >= 400 {
		err := eris.Errorf("scrape: status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}
	if !isHTML(resp.Header.Get("Content-Type")) {
		zap.L().Debug("scrape: non-html page",
			zap.String("url", pageURL),
			zap.String("content_type", resp.Header.Get("Content-Type")),
		)
		return nil, nil
	}
	return extractAddresses(body), nil
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}
