package dbus

import (
	"fmt"

	"github.com/chronostools/dbus/codec"
	"github.com/chronostools/dbus/signature"
)

// DomainError and ProtocolError are raised by the codec package
// against the values and bytes it's given; they're re-exported here
// under their own names so callers never need to import codec
// directly to type-switch on them.
type (
	DomainError   = codec.DomainError
	ProtocolError = codec.ProtocolError
)

// SignatureError is returned when a DBus type signature string is
// malformed.
type SignatureError = signature.ParseError

// TransportError reports a failure in the underlying byte transport,
// such as dialing the socket or a write to it failing. Calls pending
// when [Conn.Close] runs fail with net.ErrClosed instead.
type TransportError struct {
	// Op names the operation that failed (e.g. "read", "write",
	// "dial").
	Op string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("dbus transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func transportErrorf(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

// AuthError is returned when the SASL authentication handshake with
// the bus fails.
type AuthError struct {
	// Step names the handshake mechanism that failed; the EXTERNAL
	// handshake reports "external".
	Step string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("dbus auth: %s: %v", e.Step, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func authErrorf(step string, format string, args ...any) error {
	return &AuthError{Step: step, Err: fmt.Errorf(format, args...)}
}

// MethodReplyError is the error returned from a method call when the
// peer replies with an ERROR message instead of a METHOD_RETURN.
type MethodReplyError struct {
	// Name is the error name the peer provided (e.g.
	// "org.freedesktop.DBus.Error.UnknownMethod").
	Name string
	// Detail is the human-readable explanation carried in the error
	// reply's body, if any.
	Detail string
}

func (e *MethodReplyError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("dbus call error: %s", e.Name)
	}
	return fmt.Sprintf("dbus call error: %s: %s", e.Name, e.Detail)
}
