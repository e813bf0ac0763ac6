package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the processors recover from it, not
// by where it came from.
type Kind int

const (
	// KindValidation: input rejected; nothing to retry.
	KindValidation Kind = iota
	// KindDomain: entity missing or in the wrong state; caller's problem.
	KindDomain
	// KindExternalTransient: retry with backoff; refund on exhaustion.
	KindExternalTransient
	// KindExternalPermanent: no local recovery; escalate to refund.
	KindExternalPermanent
	// KindInfrastructure: our own plumbing failed; retry next cycle.
	KindInfrastructure
	// KindInvariant: a state-machine violation; log at error, abort the item.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDomain:
		return "domain"
	case KindExternalTransient:
		return "external_transient"
	case KindExternalPermanent:
		return "external_permanent"
	case KindInfrastructure:
		return "infrastructure"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// E is the error type carried across package boundaries inside the core.
type E struct {
	Kind Kind
	Code ErrorCode
	Msg  string
	Err  error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *E) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, code ErrorCode, msg string) *E {
	return &E{Kind: kind, Code: code, Msg: msg}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, code ErrorCode, msg string, err error) *E {
	return &E{Kind: kind, Code: code, Msg: msg, Err: err}
}

// KindOf extracts the Kind from an error chain. Unclassified errors are
// treated as infrastructure: retried next cycle, never refunded on.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}

// CodeOf extracts the ErrorCode from an error chain.
func CodeOf(err error) ErrorCode {
	var e *E
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternalError
}

// IsTransient reports whether the error should be retried with backoff.
func IsTransient(err error) bool {
	return KindOf(err) == KindExternalTransient
}
