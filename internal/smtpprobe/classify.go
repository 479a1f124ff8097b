package smtpprobe

import (
	"regexp"
	"strings"
)

// step is what a session tells the host loop to do next.
type step int

const (
	// stepAccepted: the recipient was accepted; catch-all check follows.
	stepAccepted step = iota
	// stepFinal: a definitive outcome was reached.
	stepFinal
	// stepRetrySameHost: temporary failure, try the same host again.
	stepRetrySameHost
	// stepNextHost: this host cannot answer, move on.
	stepNextHost
)

func (s step) String() string {
	switch s {
	case stepAccepted:
		return "accepted"
	case stepFinal:
		return "final"
	case stepRetrySameHost:
		return "retry"
	case stepNextHost:
		return "next-host"
	default:
		return "unknown"
	}
}

var enhancedStatus = regexp.MustCompile(`\b([245])\.(\d{1,3})\.(\d{1,3})\b`)

// policyPhrases mark a 5xx that rejects the client, not the mailbox.
var policyPhrases = []string{
	"spamhaus", "blocked", "blacklist", "blocklist", "block list",
	"policy", "relay", "access denied", "not permitted", "reputation",
	"rbl", "dnsbl", "client host", "banned", "too many connections",
}

// mailboxPhrases mark a 5xx that rejects the mailbox itself.
var mailboxPhrases = []string{
	"user unknown", "unknown user", "no such user", "no such mailbox",
	"does not exist", "doesn't exist", "recipient not found", "mailbox unavailable",
	"invalid recipient", "invalid address", "address rejected", "disabled",
	"not found",
}

func enhancedClass(msg string) (class, subject string) {
	m := enhancedStatus.FindStringSubmatch(msg)
	if m == nil {
		return "", ""
	}
	return m[1], m[2]
}

// isPolicyRejection reports whether a 5xx reply blames the client (IP
// reputation, relaying, blocklists) instead of the recipient.
func isPolicyRejection(msg string) bool {
	lower := strings.ToLower(msg)
	class, subject := enhancedClass(lower)
	if class == "5" && subject == "1" {
		return false
	}
	for _, p := range mailboxPhrases {
		if strings.Contains(lower, p) {
			return false
		}
	}
	if class == "5" && subject == "7" {
		return true
	}
	for _, p := range policyPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// classifyGreeting maps the server banner.
func classifyGreeting(code int) step {
	if code == 220 {
		return stepAccepted
	}
	return stepNextHost
}

// classifyHello maps the EHLO/HELO reply. A host that refuses the
// handshake, temporarily or not, is skipped.
func classifyHello(code int) step {
	if code/100 == 2 {
		return stepAccepted
	}
	return stepNextHost
}

// heloFallback reports whether an EHLO reply means the server wants HELO.
func heloFallback(code int) bool {
	return code == 500 || code == 502 || code == 504
}

// classifyMailFrom maps the MAIL FROM reply. A rejected sender says nothing
// about the recipient, so any non-2xx moves on to the next host. Only RCPT
// replies are retried on the same host.
func classifyMailFrom(code int) step {
	if code/100 == 2 {
		return stepAccepted
	}
	return stepNextHost
}

// classifyRcpt maps the RCPT TO reply.
func classifyRcpt(code int, msg string) step {
	switch code / 100 {
	case 2:
		return stepAccepted
	case 4:
		return stepRetrySameHost
	case 5:
		if isPolicyRejection(msg) {
			return stepNextHost
		}
		return stepFinal
	default:
		return stepNextHost
	}
}
