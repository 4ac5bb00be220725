package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an operational failure so callers can pick a
// propagation policy without inspecting error strings.
type Kind int

const (
	// KindNotFound means a referenced router, profile, voucher or
	// account does not exist. Always aborts.
	KindNotFound Kind = iota
	// KindConflict means a uniqueness or state-machine violation
	// (duplicate code, voucher re-activation). Always aborts.
	KindConflict
	// KindExternal means a router or the RADIUS store was unreachable
	// or timed out. Policy depends on the call site.
	KindExternal
	// KindPartial means one or more fan-out targets failed while the
	// authoritative steps succeeded. Not an operation failure.
	KindPartial
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindExternal:
		return "external"
	case KindPartial:
		return "partial"
	default:
		return "unknown"
	}
}

// Error carries the failure category and the identity of the resource
// involved alongside the wrapped cause.
type Error struct {
	Kind     Kind
	Resource string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Resource)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Resource, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound reports a missing resource, e.g. NotFound("profile", id).
func NotFound(resource string, id any) error {
	return &Error{Kind: KindNotFound, Resource: fmt.Sprintf("%s %v", resource, id)}
}

// Conflict reports a uniqueness or state violation.
func Conflict(resource string, cause error) error {
	return &Error{Kind: KindConflict, Resource: resource, Err: cause}
}

// Conflictf reports a state violation with a formatted description.
func Conflictf(format string, args ...any) error {
	return &Error{Kind: KindConflict, Resource: fmt.Sprintf(format, args...)}
}

// External reports an unreachable or failing external system.
func External(resource string, cause error) error {
	return &Error{Kind: KindExternal, Resource: resource, Err: cause}
}

// IsKind reports whether err or anything it wraps is a fault of kind k.
func IsKind(err error, k Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == k
}

func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }
func IsConflict(err error) bool { return IsKind(err, KindConflict) }
func IsExternal(err error) bool { return IsKind(err, KindExternal) }
