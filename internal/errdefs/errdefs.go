// Package errdefs defines the error classes surfaced by the service:
// connection setup failures, mid-command session loss, unknown command IDs,
// permission problems (remote and gate-denied), payload ceilings, and remote
// path errors. Callers classify with the Is* predicates or map to a wire
// code via Code; the underlying error chain is preserved for %w unwrapping.
package errdefs

import (
	"errors"
	"fmt"
)

type connectionError struct{ err error }

func (e *connectionError) Error() string { return e.err.Error() }
func (e *connectionError) Unwrap() error { return e.err }

type sessionLostError struct{ err error }

func (e *sessionLostError) Error() string { return e.err.Error() }
func (e *sessionLostError) Unwrap() error { return e.err }

type notFoundError struct{ err error }

func (e *notFoundError) Error() string { return e.err.Error() }
func (e *notFoundError) Unwrap() error { return e.err }

type permissionError struct{ err error }

func (e *permissionError) Error() string { return e.err.Error() }
func (e *permissionError) Unwrap() error { return e.err }

type permissionByUserError struct{ err error }

func (e *permissionByUserError) Error() string { return e.err.Error() }
func (e *permissionByUserError) Unwrap() error { return e.err }

type tooLargeError struct{ err error }

func (e *tooLargeError) Error() string { return e.err.Error() }
func (e *tooLargeError) Unwrap() error { return e.err }

type pathError struct{ err error }

func (e *pathError) Error() string { return e.err.Error() }
func (e *pathError) Unwrap() error { return e.err }

// Connection marks err as a connection-establishment failure (network or
// authentication). Returns nil if err is nil.
func Connection(err error) error {
	if err == nil {
		return nil
	}
	return &connectionError{err}
}

// Connectionf is shorthand for Connection(fmt.Errorf(...)).
func Connectionf(format string, args ...interface{}) error {
	return &connectionError{fmt.Errorf(format, args...)}
}

// SessionLost marks err as a mid-command channel death.
func SessionLost(err error) error {
	if err == nil {
		return nil
	}
	return &sessionLostError{err}
}

// SessionLostf is shorthand for SessionLost(fmt.Errorf(...)).
func SessionLostf(format string, args ...interface{}) error {
	return &sessionLostError{fmt.Errorf(format, args...)}
}

// NotFound marks err as a lookup miss (unknown command ID or session key).
func NotFound(err error) error {
	if err == nil {
		return nil
	}
	return &notFoundError{err}
}

// NotFoundf is shorthand for NotFound(fmt.Errorf(...)).
func NotFoundf(format string, args ...interface{}) error {
	return &notFoundError{fmt.Errorf(format, args...)}
}

// Permission marks err as a remote permission failure (sudo denial,
// unreadable file).
func Permission(err error) error {
	if err == nil {
		return nil
	}
	return &permissionError{err}
}

// Permissionf is shorthand for Permission(fmt.Errorf(...)).
func Permissionf(format string, args ...interface{}) error {
	return &permissionError{fmt.Errorf(format, args...)}
}

// PermissionByUser marks err as an operation denied by the external
// permission gate. Kept distinct from Permission so callers can tell a
// human denial from a remote one.
func PermissionByUser(err error) error {
	if err == nil {
		return nil
	}
	return &permissionByUserError{err}
}

// PermissionByUserf is shorthand for PermissionByUser(fmt.Errorf(...)).
func PermissionByUserf(format string, args ...interface{}) error {
	return &permissionByUserError{fmt.Errorf(format, args...)}
}

// TooLarge marks err as a payload-size ceiling breach.
func TooLarge(err error) error {
	if err == nil {
		return nil
	}
	return &tooLargeError{err}
}

// TooLargef is shorthand for TooLarge(fmt.Errorf(...)).
func TooLargef(format string, args ...interface{}) error {
	return &tooLargeError{fmt.Errorf(format, args...)}
}

// Path marks err as a remote path problem (missing parent, not a file).
func Path(err error) error {
	if err == nil {
		return nil
	}
	return &pathError{err}
}

// Pathf is shorthand for Path(fmt.Errorf(...)).
func Pathf(format string, args ...interface{}) error {
	return &pathError{fmt.Errorf(format, args...)}
}

// IsConnection reports whether any error in err's chain is a connection error.
func IsConnection(err error) bool {
	var t *connectionError
	return errors.As(err, &t)
}

// IsSessionLost reports whether any error in err's chain is a session loss.
func IsSessionLost(err error) bool {
	var t *sessionLostError
	return errors.As(err, &t)
}

// IsNotFound reports whether any error in err's chain is a lookup miss.
func IsNotFound(err error) bool {
	var t *notFoundError
	return errors.As(err, &t)
}

// IsPermission reports whether any error in err's chain is a remote
// permission failure.
func IsPermission(err error) bool {
	var t *permissionError
	return errors.As(err, &t)
}

// IsPermissionByUser reports whether any error in err's chain is a gate denial.
func IsPermissionByUser(err error) bool {
	var t *permissionByUserError
	return errors.As(err, &t)
}

// IsTooLarge reports whether any error in err's chain is a size ceiling breach.
func IsTooLarge(err error) bool {
	var t *tooLargeError
	return errors.As(err, &t)
}

// IsPath reports whether any error in err's chain is a remote path problem.
func IsPath(err error) bool {
	var t *pathError
	return errors.As(err, &t)
}

// Code returns the stable wire identifier for the outermost error class in
// err's chain, or "internal" when the error carries no class.
func Code(err error) string {
	switch {
	case IsConnection(err):
		return "connection_error"
	case IsSessionLost(err):
		return "session_lost"
	case IsNotFound(err):
		return "not_found"
	case IsPermissionByUser(err):
		return "permission_denied_by_user"
	case IsPermission(err):
		return "permission_denied"
	case IsTooLarge(err):
		return "payload_too_large"
	case IsPath(err):
		return "path_error"
	default:
		return "internal"
	}
}
