// Package smtpprobe checks whether a mailbox exists by holding an SMTP
// conversation with the domain's mail servers up to RCPT TO, without ever
// sending a message.
package smtpprobe

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/email-sleuth/internal/config"
	"github.com/sells-group/email-sleuth/internal/model"
	"github.com/sells-group/email-sleuth/internal/resilience"
	"github.com/sells-group/email-sleuth/internal/schedule"
)

// Dialer opens TCP connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Scheduler grants probe leases and caches catch-all verdicts.
// *schedule.Scheduler satisfies it.
type Scheduler interface {
	Acquire(ctx context.Context, domain string) (*schedule.Lease, error)
	CatchAll(ctx context.Context, domain string, probe schedule.ProbeFunc) model.CatchAllVerdict
}

// Config controls the SMTP conversation.
type Config struct {
	Sender         string
	HeloName       string
	Port           int
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	MaxAttempts    int
}

// ConfigFrom maps application config to verifier config.
func ConfigFrom(c config.SMTPConfig) Config {
	return Config{
		Sender:         c.Sender,
		HeloName:       c.HeloName,
		Port:           c.Port,
		ConnectTimeout: c.ConnectTimeout(),
		CommandTimeout: c.CommandTimeout(),
		MaxAttempts:    c.MaxVerificationAttempts,
	}
}

// Option customizes a Verifier.
type Option func(*Verifier)

// WithDialer replaces the network dialer.
func WithDialer(d Dialer) Option {
	return func(v *Verifier) { v.dialer = d }
}

// WithBreakers shares per-host circuit breakers across verifiers.
func WithBreakers(hb *resilience.HostBreakers) Option {
	return func(v *Verifier) { v.breakers = hb }
}

// WithProbeLocalPart replaces the random catch-all probe local-part generator.
func WithProbeLocalPart(fn func() string) Option {
	return func(v *Verifier) { v.probeLocal = fn }
}

// Verifier runs SMTP verification. It is safe for concurrent use.
type Verifier struct {
	cfg        Config
	dialer     Dialer
	sched      Scheduler
	breakers   *resilience.HostBreakers
	probeLocal func() string
}

// New creates a Verifier. sched paces every session it opens.
func New(cfg Config, sched Scheduler, opts ...Option) *Verifier {
	if cfg.Port == 0 {
		cfg.Port = 25
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	v := &Verifier{
		cfg:        cfg,
		dialer:     &net.Dialer{Timeout: cfg.ConnectTimeout},
		sched:      sched,
		breakers:   resilience.NewHostBreakers(resilience.DefaultCircuitBreakerConfig()),
		probeLocal: randomProbeLocalPart,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

const probeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randomProbeLocalPart returns a local part no real mailbox would use.
func randomProbeLocalPart() string {
	b := make([]byte, 12)
	for i := range b {
		b[i] = probeAlphabet[rand.IntN(len(probeAlphabet))]
	}
	return "nx-verify-" + string(b) + "-noreply"
}

// Verify checks one address against the domain's mail exchangers, trying
// hosts in priority order. It never returns an error: every failure mode is
// expressed as an outcome.
func (v *Verifier) Verify(ctx context.Context, address string, set *model.MailExchangeSet, vlog *model.VerificationLog) model.VerificationOutcome {
	domain := set.Domain
	if i := strings.LastIndexByte(address, '@'); i >= 0 {
		domain = address[i+1:]
	}

	res := v.probeHosts(ctx, domain, address, set, vlog)
	if res.step != stepAccepted {
		return res.outcome
	}

	verdict := v.sched.CatchAll(ctx, domain, func(ctx context.Context) (model.CatchAllVerdict, error) {
		return v.probeCatchAll(ctx, domain, set, vlog)
	})
	if ctx.Err() != nil && verdict != model.CatchAllYes {
		return model.Inconclusive(model.ReasonCancelled)
	}
	if verdict == model.CatchAllYes {
		vlog.Addf("%s: %s accepted but domain accepts all recipients", domain, address)
		return model.CatchAll(res.reply)
	}
	return model.Valid(res.reply)
}

// hostResult is the outcome of walking the host list for one recipient.
type hostResult struct {
	step    step
	outcome model.VerificationOutcome
	reply   string
	rcpt    bool // a RCPT reply was received
}

func (v *Verifier) probeHosts(ctx context.Context, domain, rcpt string, set *model.MailExchangeSet, vlog *model.VerificationLog) hostResult {
	log := zap.L().With(zap.String("address", rcpt))

	// connected counts sessions that reached a server; garbled those of
	// them that ended on a malformed reply.
	var connected, garbled int
	for _, mx := range set.Hosts {
		cb := v.breakers.Get(mx.Host)
		if err := cb.Allow(); err != nil {
			vlog.Addf("%s: skipped (circuit open)", mx.Host)
			continue
		}

		for attempt := 1; attempt <= v.cfg.MaxAttempts; attempt++ {
			if ctx.Err() != nil {
				return hostResult{step: stepFinal, outcome: model.Inconclusive(model.ReasonCancelled)}
			}

			lease, err := v.sched.Acquire(ctx, domain)
			if err != nil {
				return hostResult{step: stepFinal, outcome: model.Inconclusive(model.ReasonCancelled)}
			}
			sr := v.session(ctx, mx.Host, rcpt, vlog)
			lease.Release()
			cb.Record(sr.connErr)
			if sr.connErr == nil {
				connected++
				if sr.garbled {
					garbled++
				}
			}

			log.Debug("smtp: session finished",
				zap.String("host", mx.Host),
				zap.Int("attempt", attempt),
				zap.Stringer("step", sr.step),
				zap.Int("code", sr.code),
			)

			switch sr.step {
			case stepAccepted:
				return hostResult{step: stepAccepted, reply: sr.reply(), rcpt: true}
			case stepFinal:
				return hostResult{step: stepFinal, outcome: model.Invalid(sr.reply()), reply: sr.reply(), rcpt: true}
			case stepRetrySameHost:
				if attempt == v.cfg.MaxAttempts {
					out := model.Inconclusive(model.ReasonTemporary)
					out.Message = sr.reply()
					return hostResult{step: stepFinal, outcome: out, reply: sr.reply(), rcpt: sr.rcpt}
				}
				continue
			}
			break // stepNextHost
		}
	}

	if ctx.Err() != nil {
		return hostResult{step: stepFinal, outcome: model.Inconclusive(model.ReasonCancelled)}
	}
	if connected > 0 && garbled == connected {
		return hostResult{step: stepFinal, outcome: model.Inconclusive(model.ReasonProtocolFailure)}
	}
	return hostResult{step: stepFinal, outcome: model.Inconclusive(model.ReasonUnreachable)}
}

// probeCatchAll asks whether the domain accepts a recipient that cannot
// exist. Any reply other than 2xx to that RCPT means not catch-all.
func (v *Verifier) probeCatchAll(ctx context.Context, domain string, set *model.MailExchangeSet, vlog *model.VerificationLog) (model.CatchAllVerdict, error) {
	probe := v.probeLocal() + "@" + domain
	for _, mx := range set.Hosts {
		cb := v.breakers.Get(mx.Host)
		if err := cb.Allow(); err != nil {
			continue
		}
		lease, err := v.sched.Acquire(ctx, domain)
		if err != nil {
			return model.CatchAllUnknown, err
		}
		sr := v.session(ctx, mx.Host, probe, vlog)
		lease.Release()
		cb.Record(sr.connErr)

		if sr.step == stepAccepted {
			return model.CatchAllYes, nil
		}
		if sr.rcpt {
			return model.CatchAllNo, nil
		}
	}
	return model.CatchAllUnknown, eris.Errorf("smtpprobe: no host answered catch-all probe for %s", domain)
}

// sessionResult describes one SMTP conversation.
type sessionResult struct {
	step    step
	code    int
	msg     string
	rcpt    bool
	connErr error
	garbled bool // the server sent a reply that is not SMTP
}

func (r sessionResult) reply() string {
	if r.code == 0 {
		return r.msg
	}
	return strconv.Itoa(r.code) + " " + r.msg
}

// session holds one conversation: connect, greeting, EHLO (HELO fallback),
// MAIL FROM, RCPT TO, QUIT.
func (v *Verifier) session(ctx context.Context, host, rcpt string, vlog *model.VerificationLog) sessionResult {
	addr := net.JoinHostPort(host, strconv.Itoa(v.cfg.Port))

	dctx, cancel := context.WithTimeout(ctx, v.cfg.ConnectTimeout)
	conn, err := v.dialer.DialContext(dctx, "tcp", addr)
	cancel()
	if err != nil {
		vlog.Addf("%s: connect failed: %v", host, err)
		return sessionResult{step: stepNextHost, msg: err.Error(), connErr: err}
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c := &conversation{
		tp:      textproto.NewConn(conn),
		conn:    conn,
		timeout: v.cfg.CommandTimeout,
		host:    host,
		vlog:    vlog,
	}
	defer c.tp.Close()

	code, msg, err := c.read("greeting")
	if err != nil {
		return c.failed(err)
	}
	if classifyGreeting(code) != stepAccepted {
		c.quit()
		return sessionResult{step: stepNextHost, code: code, msg: msg}
	}

	code, msg, err = c.cmd("EHLO %s", v.cfg.HeloName)
	if err == nil && heloFallback(code) {
		code, msg, err = c.cmd("HELO %s", v.cfg.HeloName)
	}
	if err != nil {
		return c.failed(err)
	}
	if s := classifyHello(code); s != stepAccepted {
		c.quit()
		return sessionResult{step: s, code: code, msg: msg}
	}

	code, msg, err = c.cmd("MAIL FROM:<%s>", v.cfg.Sender)
	if err != nil {
		return c.failed(err)
	}
	if s := classifyMailFrom(code); s != stepAccepted {
		c.quit()
		return sessionResult{step: s, code: code, msg: msg}
	}

	code, msg, err = c.cmd("RCPT TO:<%s>", rcpt)
	if err != nil {
		return c.failed(err)
	}
	c.quit()
	return sessionResult{step: classifyRcpt(code, msg), code: code, msg: msg, rcpt: true}
}

// conversation wraps a textproto connection with per-command deadlines and
// transcript logging.
type conversation struct {
	tp      *textproto.Conn
	conn    net.Conn
	timeout time.Duration
	host    string
	vlog    *model.VerificationLog
	garbled bool
}

// failed ends a session whose connection broke or spoke something other
// than SMTP.
func (c *conversation) failed(err error) sessionResult {
	return sessionResult{step: stepNextHost, msg: err.Error(), garbled: c.garbled}
}

func (c *conversation) read(label string) (int, string, error) {
	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, "", eris.Wrap(err, "smtpprobe: set deadline")
	}
	code, msg, err := c.tp.ReadResponse(0)
	msg = strings.ReplaceAll(msg, "\n", " ")
	if err != nil {
		var perr textproto.ProtocolError
		if errors.As(err, &perr) {
			c.garbled = true
		}
		c.vlog.Addf("%s: %s -> error: %v", c.host, label, err)
		return 0, "", eris.Wrapf(err, "smtpprobe: read %s from %s", label, c.host)
	}
	c.vlog.Addf("%s: %s -> %d %s", c.host, label, code, msg)
	return code, msg, nil
}

func (c *conversation) cmd(format string, args ...any) (int, string, error) {
	line := fmt.Sprintf(format, args...)
	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, "", eris.Wrap(err, "smtpprobe: set deadline")
	}
	if err := c.tp.PrintfLine("%s", line); err != nil {
		c.vlog.Addf("%s: %s -> error: %v", c.host, line, err)
		return 0, "", eris.Wrapf(err, "smtpprobe: write to %s", c.host)
	}
	return c.read(line)
}

// quit ends the conversation politely; failures are ignored.
func (c *conversation) quit() {
	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return
	}
	if err := c.tp.PrintfLine("QUIT"); err != nil {
		return
	}
	_, _, _ = c.tp.ReadResponse(0)
}
