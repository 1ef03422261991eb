package codec

import "fmt"

// DomainError reports a value that is well-typed but out of range for
// the DBus type it's being encoded as, such as an integer that
// overflows its target width.
type DomainError struct {
	Msg string
}

func (e *DomainError) Error() string { return e.Msg }

func domainErrorf(format string, args ...any) *DomainError {
	return &DomainError{Msg: fmt.Sprintf(format, args...)}
}

// ProtocolError reports malformed wire data: a value that cannot
// correspond to any legal encoding of its claimed type, such as a
// boolean word that isn't 0 or 1, or an array whose declared length
// doesn't match its contents.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return e.Msg }

func protocolErrorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...)}
}
