// Package uniterr implements the error taxonomy a unit's lifecycle can
// produce (spec.md §7). Each kind wraps one github.com/containerd/errdefs
// sentinel so callers elsewhere in the tree can keep using
// errdefs.Is*(err) without knowing about unit-specific kinds.
package uniterr

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// Kind identifies one of the error categories from spec.md §7.
type Kind string

const (
	KindParse             Kind = "parse"
	KindConditionUnmet    Kind = "condition"
	KindAssertFailed      Kind = "assert"
	KindExecSetupFailed   Kind = "exec-setup"
	KindExecFailed        Kind = "exec-failed"
	KindTimeout           Kind = "timeout"
	KindWatchdogExpired   Kind = "watchdog"
	KindStartLimitHit     Kind = "start-limit"
	KindDependencyFailed  Kind = "dependency"
	KindCycle             Kind = "cycle"
	KindNotFound          Kind = "not-found"
	KindPermissionDenied  Kind = "permission-denied"
)

// Error is the concrete type returned for every Kind above. Unit is the
// canonical unit name the error concerns, empty for transaction-wide
// errors (Cycle).
type Error struct {
	Kind   Kind
	Unit   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Unit == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("unit %s: %s: %s", e.Unit, e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// sentinel returns the errdefs sentinel a Kind maps onto, so that
// errdefs.Is*(err) keeps working across package boundaries.
func sentinel(k Kind) error {
	switch k {
	case KindNotFound:
		return errdefs.ErrNotFound
	case KindParse, KindAssertFailed:
		return errdefs.ErrInvalidArgument
	case KindConditionUnmet:
		return errdefs.ErrFailedPrecondition
	case KindCycle:
		return errdefs.ErrFailedPrecondition
	case KindStartLimitHit:
		return errdefs.ErrUnavailable
	case KindPermissionDenied:
		return errdefs.ErrPermissionDenied
	case KindDependencyFailed, KindExecFailed, KindExecSetupFailed:
		return errdefs.ErrUnknown
	case KindTimeout, KindWatchdogExpired:
		return errdefs.ErrDeadlineExceeded
	default:
		return errdefs.ErrUnknown
	}
}

// New builds an *Error for the given kind, unit and reason, wrapping the
// cause (may be nil) and the matching errdefs sentinel so that
// errors.Is(err, errdefs.ErrNotFound) etc. works on the result.
func New(k Kind, unit, reason string, cause error) *Error {
	s := sentinel(k)
	var wrapped error
	if cause != nil {
		wrapped = fmt.Errorf("%w: %w", s, cause)
	} else {
		wrapped = s
	}
	return &Error{Kind: k, Unit: unit, Reason: reason, Err: wrapped}
}

// As extracts a *Error from err, if any is present in the chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind carried by err, or "" if err does not wrap one.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}
