package model

// OutcomeKind is the verdict of an SMTP verification attempt.
type OutcomeKind string

const (
	OutcomeNotAttempted OutcomeKind = "not_attempted"
	OutcomeValid        OutcomeKind = "valid"
	OutcomeInvalid      OutcomeKind = "invalid"
	OutcomeInconclusive OutcomeKind = "inconclusive"
	// OutcomeCatchAll is an accepted recipient on a domain that accepts
	// every recipient. It counts as inconclusive.
	OutcomeCatchAll OutcomeKind = "catch_all"
)

// Inconclusive reasons.
const (
	ReasonUnreachable      = "unreachable"
	ReasonTemporary        = "temporary failure"
	ReasonCatchAll         = "catch-all domain"
	ReasonNoMailServer     = "no reachable mail server"
	ReasonCancelled        = "cancelled"
	ReasonLowPrescore      = "low initial confidence"
	ReasonProtocolFailure  = "protocol error"
	ReasonMailboxRejected  = "mailbox rejected"
	ReasonMailboxConfirmed = "mailbox accepted"
)

// VerificationOutcome is the terminal result for one candidate.
type VerificationOutcome struct {
	Kind    OutcomeKind `json:"kind"`
	Reason  string      `json:"reason,omitempty"`
	Message string      `json:"message,omitempty"` // last server response, if any
}

// NotAttempted is the initial outcome of every candidate.
func NotAttempted() VerificationOutcome {
	return VerificationOutcome{Kind: OutcomeNotAttempted}
}

// Valid reports an accepted recipient on a non-catch-all domain.
func Valid(msg string) VerificationOutcome {
	return VerificationOutcome{Kind: OutcomeValid, Reason: ReasonMailboxConfirmed, Message: msg}
}

// Invalid reports a definitive mailbox rejection.
func Invalid(msg string) VerificationOutcome {
	return VerificationOutcome{Kind: OutcomeInvalid, Reason: ReasonMailboxRejected, Message: msg}
}

// Inconclusive reports that no definitive answer was obtained.
func Inconclusive(reason string) VerificationOutcome {
	return VerificationOutcome{Kind: OutcomeInconclusive, Reason: reason}
}

// CatchAll reports an accepted recipient on a catch-all domain.
func CatchAll(msg string) VerificationOutcome {
	return VerificationOutcome{Kind: OutcomeCatchAll, Reason: ReasonCatchAll, Message: msg}
}

// Attempted reports whether the outcome is terminal.
func (o VerificationOutcome) Attempted() bool {
	return o.Kind != "" && o.Kind != OutcomeNotAttempted
}

// IsValid reports a confirmed mailbox.
func (o VerificationOutcome) IsValid() bool { return o.Kind == OutcomeValid }

// IsInvalid reports a rejected mailbox.
func (o VerificationOutcome) IsInvalid() bool { return o.Kind == OutcomeInvalid }

// Inconclusive reports both plain inconclusive and catch-all outcomes.
func (o VerificationOutcome) Inconclusive() bool {
	return o.Kind == OutcomeInconclusive || o.Kind == OutcomeCatchAll
}

// Method names the verification method for result output.
func (o VerificationOutcome) Method() string {
	switch o.Kind {
	case OutcomeValid:
		return "smtp_verified"
	case OutcomeCatchAll:
		return "smtp_catch_all"
	case OutcomeInconclusive:
		return "smtp_inconclusive"
	case OutcomeInvalid:
		return "smtp_rejected"
	default:
		return "unverified"
	}
}
