package dbus

import "os"

// Config holds the tunable knobs for a [Conn]. Construct one only
// through [Dial]'s Option arguments; the zero Config is not meant to
// be used directly.
type Config struct {
	authUID int

	validateSyntax bool
}

// Option configures a Conn at dial time.
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		authUID: os.Getuid(),
	}
}

// WithAuthUID overrides the Unix uid presented during the EXTERNAL
// authentication handshake. This is mainly useful for tests that
// drive a fake bus under a different identity than the test process's
// own uid.
func WithAuthUID(uid int) Option {
	return func(c *Config) {
		c.authUID = uid
	}
}

// WithSyntaxValidation enables syntax checking of object paths and
// signature strings as they're encoded and decoded. It defaults to
// off: the DBus specification's path and signature grammars are
// fiddly to validate correctly, and most callers only ever handle
// paths and signatures that originated from a compliant peer.
func WithSyntaxValidation(enable bool) Option {
	return func(c *Config) {
		c.validateSyntax = enable
	}
}
