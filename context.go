package dbus

import "context"

// callFlagsContextKey is the context key carrying the HeaderFlags to
// apply to an outgoing method call.
type callFlagsContextKey struct{}

// WithCallFlags returns a context that causes [Conn.Call] to set the
// given flags on the outgoing METHOD_CALL message, for every call made
// with the returned context. It composes with the context's
// deadline/cancellation in the usual way. If the flags include
// FlagNoReplyExpected, Call returns (nil, nil) as soon as the message
// is written, without waiting for a reply.
func WithCallFlags(ctx context.Context, flags HeaderFlags) context.Context {
	return context.WithValue(ctx, callFlagsContextKey{}, flags)
}

func callFlagsFromContext(ctx context.Context) HeaderFlags {
	v := ctx.Value(callFlagsContextKey{})
	if v == nil {
		return 0
	}
	flags, ok := v.(HeaderFlags)
	if !ok {
		return 0
	}
	return flags
}
