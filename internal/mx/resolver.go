// Package mx resolves a domain's mail exchangers against explicit DNS
// servers.
package mx

import (
	"context"
	"errors"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/email-sleuth/internal/config"
	"github.com/sells-group/email-sleuth/internal/model"
	"github.com/sells-group/email-sleuth/internal/resilience"
)

// ErrorKind classifies resolution failures.
type ErrorKind string

const (
	KindNXDomain  ErrorKind = "nxdomain"
	KindNullMX    ErrorKind = "null_mx"
	KindNoRecords ErrorKind = "no_records"
	KindTimeout   ErrorKind = "timeout"
	KindFailure   ErrorKind = "failure"
)

// ResolutionError reports that a domain has no usable mail server.
type ResolutionError struct {
	Domain string
	Kind   ErrorKind
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return "mx: resolve " + e.Domain + ": " + string(e.Kind) + ": " + e.Err.Error()
	}
	return "mx: resolve " + e.Domain + ": " + string(e.Kind)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Exchanger sends one DNS message. *dns.Client satisfies it.
type Exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, address string) (*dns.Msg, time.Duration, error)
}

// Cache stores resolved sets across contacts and runs.
type Cache interface {
	GetCachedMX(ctx context.Context, domain string, maxAge time.Duration) (*model.MailExchangeSet, error)
	SetCachedMX(ctx context.Context, set *model.MailExchangeSet) error
}

// Config controls resolution.
type Config struct {
	Servers          []string // host or host:port; empty uses /etc/resolv.conf
	Timeout          time.Duration
	MaxServers       int
	Retry            resilience.RetryConfig
	QueriesPerSecond float64
	CacheTTL         time.Duration
}

// ConfigFrom maps application config to resolver config.
func ConfigFrom(c config.DNSConfig) Config {
	return Config{
		Servers:          c.Servers,
		Timeout:          time.Duration(c.TimeoutSecs) * time.Second,
		MaxServers:       c.MaxServers,
		Retry:            resilience.DNSRetryConfig(c),
		QueriesPerSecond: c.QueriesPerSecond,
		CacheTTL:         time.Duration(c.CacheTTLMinutes) * time.Minute,
	}
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithExchanger replaces the UDP and TCP DNS clients.
func WithExchanger(ex Exchanger) Option {
	return func(r *Resolver) {
		r.udp = ex
		r.tcp = ex
	}
}

// WithCache enables the cross-contact cache.
func WithCache(c Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

// Resolver looks up MX records. It is safe for concurrent use.
type Resolver struct {
	cfg     Config
	servers []string
	udp     Exchanger
	tcp     Exchanger
	limiter *rate.Limiter
	cache   Cache
	now     func() time.Time
}

// New creates a Resolver.
func New(cfg Config, opts ...Option) (*Resolver, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	servers := append([]string(nil), cfg.Servers...)
	if len(servers) == 0 {
		conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return nil, eris.Wrap(err, "mx: no DNS servers configured and resolv.conf unreadable")
		}
		for _, s := range conf.Servers {
			servers = append(servers, net.JoinHostPort(s, conf.Port))
		}
	}
	if cfg.MaxServers > 0 && len(servers) > cfg.MaxServers {
		servers = servers[:cfg.MaxServers]
	}
	for i, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			servers[i] = net.JoinHostPort(s, "53")
		}
	}

	limit := rate.Inf
	if cfg.QueriesPerSecond > 0 {
		limit = rate.Limit(cfg.QueriesPerSecond)
	}
	r := &Resolver{
		cfg:     cfg,
		servers: servers,
		udp:     &dns.Client{Net: "udp", Timeout: cfg.Timeout},
		tcp:     &dns.Client{Net: "tcp", Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Servers returns the DNS servers that will be queried, in order.
func (r *Resolver) Servers() []string {
	out := make([]string, len(r.servers))
	copy(out, r.servers)
	return out
}

// Resolve returns the domain's mail exchangers in ascending priority. A
// domain with no MX records but an address record resolves to itself at
// priority 0. Failures are *ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, domain string) (*model.MailExchangeSet, error) {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	log := zap.L().With(zap.String("domain", domain))

	if r.cache != nil && r.cfg.CacheTTL > 0 {
		if set, err := r.cache.GetCachedMX(ctx, domain, r.cfg.CacheTTL); err == nil && set != nil && len(set.Hosts) > 0 {
			log.Debug("mx: cache hit", zap.Int("hosts", len(set.Hosts)))
			return set, nil
		}
	}

	answers, err := r.query(ctx, domain, dns.TypeMX)
	if err != nil {
		return nil, err
	}

	var hosts []model.MailExchanger
	seen := make(map[string]bool)
	nullMX := false
	for _, rr := range answers {
		mx, ok := rr.(*dns.MX)
		if !ok {
			continue
		}
		host := strings.ToLower(strings.TrimSuffix(mx.Mx, "."))
		if host == "" {
			nullMX = true
			continue
		}
		if seen[host] {
			continue
		}
		seen[host] = true
		hosts = append(hosts, model.MailExchanger{Priority: mx.Preference, Host: host})
	}

	set := &model.MailExchangeSet{Domain: domain, ResolvedAt: r.now().UTC()}
	switch {
	case len(hosts) > 0:
		sort.SliceStable(hosts, func(i, j int) bool {
			if hosts[i].Priority != hosts[j].Priority {
				return hosts[i].Priority < hosts[j].Priority
			}
			return hosts[i].Host < hosts[j].Host
		})
		set.Hosts = hosts
	case nullMX:
		return nil, &ResolutionError{Domain: domain, Kind: KindNullMX}
	default:
		ok, err := r.hasAddress(ctx, domain)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &ResolutionError{Domain: domain, Kind: KindNoRecords}
		}
		set.Hosts = []model.MailExchanger{{Priority: 0, Host: domain}}
		set.Fallback = true
	}

	log.Debug("mx: resolved", zap.Int("hosts", len(set.Hosts)), zap.Bool("fallback", set.Fallback))

	if r.cache != nil && r.cfg.CacheTTL > 0 {
		if err := r.cache.SetCachedMX(ctx, set); err != nil {
			log.Warn("mx: cache write failed", zap.Error(err))
		}
	}
	return set, nil
}

func (r *Resolver) hasAddress(ctx context.Context, domain string) (bool, error) {
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		answers, err := r.query(ctx, domain, qtype)
		if err != nil {
			return false, err
		}
		for _, rr := range answers {
			switch rr.(type) {
			case *dns.A, *dns.AAAA:
				return true, nil
			}
		}
	}
	return false, nil
}

// query asks each server in turn. NXDOMAIN is authoritative and stops the
// walk; SERVFAIL, timeouts and transport errors move on to the next server.
func (r *Resolver) query(ctx context.Context, domain string, qtype uint16) ([]dns.RR, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), qtype)
	m.RecursionDesired = true

	var lastErr error
	timedOut := false
	for _, server := range r.servers {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, &ResolutionError{Domain: domain, Kind: KindTimeout, Err: err}
		}

		retry := r.cfg.Retry
		retry.OnRetry = resilience.RetryLogger("dns_"+dns.TypeToString[qtype], server)
		resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*dns.Msg, error) {
			return r.exchange(ctx, m, server)
		})
		if err != nil {
			lastErr = err
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				timedOut = true
			}
			if ctx.Err() != nil {
				return nil, &ResolutionError{Domain: domain, Kind: KindTimeout, Err: ctx.Err()}
			}
			continue
		}

		switch resp.Rcode {
		case dns.RcodeSuccess:
			return resp.Answer, nil
		case dns.RcodeNameError:
			return nil, &ResolutionError{Domain: domain, Kind: KindNXDomain}
		default:
			lastErr = eris.Errorf("mx: %s answered %s", server, dns.RcodeToString[resp.Rcode])
		}
	}

	kind := KindFailure
	if timedOut {
		kind = KindTimeout
	}
	if lastErr == nil {
		lastErr = eris.New("mx: no DNS servers available")
	}
	return nil, &ResolutionError{Domain: domain, Kind: kind, Err: lastErr}
}

func (r *Resolver) exchange(ctx context.Context, m *dns.Msg, server string) (*dns.Msg, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	resp, _, err := r.udp.ExchangeContext(ctx, m, server)
	if err == nil && resp != nil && resp.Truncated {
		resp, _, err = r.tcp.ExchangeContext(ctx, m, server)
	}
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "mx: query %s", server), 0)
	}
	if resp == nil {
		return nil, resilience.NewTransientError(eris.Errorf("mx: empty response from %s", server), 0)
	}
	if resp.Rcode == dns.RcodeServerFailure {
		return nil, resilience.NewTransientError(eris.Errorf("mx: %s answered SERVFAIL", server), dns.RcodeServerFailure)
	}
	return resp, nil
}
