package signature

// ParseError is returned by ParseOne and ParseMany when a signature
// string is malformed. It wraps the underlying description so callers
// can match on it with errors.As while still getting a message that
// names the offending signature.
type ParseError struct {
	Signature string
	Err       error
}

// Error returns the exact underlying parse failure message (e.g.
// "empty signature", "unexpected trailing characters 'y'"), without
// decoration, so callers that match on specific wording keep working.
func (e *ParseError) Error() string {
	return e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
