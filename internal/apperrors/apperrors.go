// Package apperrors classifies daemon errors into the four kinds named by
// the error handling design: Transient (retry locally), Integrity (abort
// and mark FAILED), Policy (business decision, not an exception), and
// Operator (requires attention, raises a CRITICAL outbox event). Callers
// that need to decide how to propagate an error should classify it with
// Classify rather than switching on sentinel values directly.
package apperrors

import "errors"

// Kind is the propagation class an error belongs to.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransient
	KindIntegrity
	KindPolicy
	KindOperator
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindIntegrity:
		return "integrity"
	case KindPolicy:
		return "policy"
	case KindOperator:
		return "operator"
	default:
		return "unknown"
	}
}

// Integrity sentinels. Fatal to the offending operation; never retried
// blindly.
var (
	ErrDuplicateTrace   = errors.New("apperrors: duplicate trace id")
	ErrChainMismatch    = errors.New("apperrors: hash chain mismatch")
	ErrSignatureInvalid = errors.New("apperrors: signature invalid")
	ErrSchemaViolation  = errors.New("apperrors: schema violation")
)

// Policy sentinels. Surfaced as business decisions, not exceptions.
var (
	ErrRedLineViolation = errors.New("apperrors: red line violation")
	ErrBudgetExhausted  = errors.New("apperrors: token budget exhausted")
	ErrCircuitOpen      = errors.New("apperrors: circuit open")
)

// Operator sentinels. Require operator attention; the caller should enqueue
// a CRITICAL outbox event alongside returning these.
var (
	ErrWorkerQuarantined  = errors.New("apperrors: worker quarantined")
	ErrOutboxBacklog      = errors.New("apperrors: outbox backlog")
	ErrChainBreakDetected = errors.New("apperrors: chain break detected")
	ErrSnapshotFailed     = errors.New("apperrors: snapshot failed")
)

// Error wraps an underlying cause with its propagation Kind and, for
// integrity errors, the record that failed.
type Error struct {
	Kind   Kind
	Record string
	Cause  error
}

func (e *Error) Error() string {
	if e.Record != "" {
		return e.Kind.String() + " error on " + e.Record + ": " + e.Cause.Error()
	}
	return e.Kind.String() + " error: " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// New wraps cause as an apperrors.Error of the given kind.
func New(kind Kind, record string, cause error) *Error {
	return &Error{Kind: kind, Record: record, Cause: cause}
}

// Classify returns the Kind err belongs to, based on the sentinel it wraps
// (via errors.Is) or an explicit *Error it already is.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}

	switch {
	case errors.Is(err, ErrDuplicateTrace),
		errors.Is(err, ErrChainMismatch),
		errors.Is(err, ErrSignatureInvalid),
		errors.Is(err, ErrSchemaViolation):
		return KindIntegrity

	case errors.Is(err, ErrRedLineViolation),
		errors.Is(err, ErrBudgetExhausted),
		errors.Is(err, ErrCircuitOpen):
		return KindPolicy

	case errors.Is(err, ErrWorkerQuarantined),
		errors.Is(err, ErrOutboxBacklog),
		errors.Is(err, ErrChainBreakDetected),
		errors.Is(err, ErrSnapshotFailed):
		return KindOperator

	default:
		return KindUnknown
	}
}

// IsTransient reports whether err should be retried locally with backoff.
// Unlike the other three kinds, Transient has no fixed sentinel set — it is
// determined by the caller (e.g. the store layer recognizing SQLITE_BUSY)
// and marked explicitly via New(KindTransient, ...).
func IsTransient(err error) bool {
	return Classify(err) == KindTransient
}
