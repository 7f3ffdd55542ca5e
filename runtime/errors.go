package runtime

import (
	"errors"
	"fmt"
)

// SessionErrorKind classifies the reason a session ended abnormally.
type SessionErrorKind int

const (
	// SessionErrorProtocol indicates a truncated or malformed inbound frame.
	SessionErrorProtocol SessionErrorKind = iota
	// SessionErrorBackend indicates the backend rejected the request or the
	// stream failed or stalled.
	SessionErrorBackend
	// SessionErrorTransportWrite indicates an outbound frame could not be
	// written.
	SessionErrorTransportWrite
	// SessionErrorCanceled indicates the session context was canceled.
	SessionErrorCanceled
	// SessionErrorUnknownRole indicates an inbound frame with a role digit
	// outside 0..4.
	SessionErrorUnknownRole
)

func (k SessionErrorKind) String() string {
	switch k {
	case SessionErrorProtocol:
		return "protocol"
	case SessionErrorBackend:
		return "backend"
	case SessionErrorTransportWrite:
		return "transport_write"
	case SessionErrorCanceled:
		return "canceled"
	case SessionErrorUnknownRole:
		return "unknown_role"
	default:
		return "unknown"
	}
}

// SessionError is returned by Session.Run when a session ends abnormally.
type SessionError struct {
	Kind SessionErrorKind
	Err  error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s error: %v", e.Kind, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func sessionErrorKind(err error) (SessionErrorKind, bool) {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

func isKind(err error, kind SessionErrorKind) bool {
	k, ok := sessionErrorKind(err)
	return ok && k == kind
}

// IsProtocolError returns true if the session ended on a framing error.
func IsProtocolError(err error) bool {
	return isKind(err, SessionErrorProtocol)
}

// IsBackendError returns true if the session ended on a backend failure.
func IsBackendError(err error) bool {
	return isKind(err, SessionErrorBackend)
}

// IsTransportWriteError returns true if an outbound frame could not be
// written.
func IsTransportWriteError(err error) bool {
	return isKind(err, SessionErrorTransportWrite)
}

// IsCanceledError returns true if the session was canceled.
func IsCanceledError(err error) bool {
	return isKind(err, SessionErrorCanceled)
}

// IsUnknownRoleError returns true if the peer sent an unknown role digit.
func IsUnknownRoleError(err error) bool {
	return isKind(err, SessionErrorUnknownRole)
}
