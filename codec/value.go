package codec

import (
	"fmt"

	"github.com/chronostools/dbus/signature"
)

// ObjectPath is a DBus object path value. It is a distinct type from
// string so callers and decoders can tell an 'o' value apart from an
// 's' value that merely looks like a path.
type ObjectPath string

// validateSyntax checks p against the DBus object path grammar: it
// begins with '/', is composed of one or more '/'-separated elements
// each made up of "[A-Za-z0-9_]+", and (unless p is exactly "/") does
// not end in '/'.
func (p ObjectPath) validateSyntax() error {
	s := string(p)
	if s == "" || s[0] != '/' {
		return fmt.Errorf("object path %q must start with '/'", s)
	}
	if s == "/" {
		return nil
	}
	if s[len(s)-1] == '/' {
		return fmt.Errorf("object path %q must not end with '/'", s)
	}
	elemLen := 0
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '/':
			if elemLen == 0 {
				return fmt.Errorf("object path %q has an empty element", s)
			}
			elemLen = 0
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_':
			elemLen++
		default:
			return fmt.Errorf("object path %q contains invalid character %q", s, c)
		}
	}
	return nil
}

// Variant is a DBus variant value: a value paired with the type
// descriptor that describes it, as carried on the wire. Sig.String()
// is what gets written as the variant's embedded signature.
type Variant struct {
	Sig   signature.Descriptor
	Value any
}

// DictEntry is one key/value pair of a DBus dict (a{KV}). Dicts are
// represented as []DictEntry rather than a Go map both because DBus
// dicts are ordered on the wire and because map keys are restricted
// to basic types that aren't always usable as Go map keys (e.g. when
// the key type is a struct-shaped basic type is never the case, but
// float and bool keys are legal DBus and awkward Go map keys).
type DictEntry struct {
	Key   any
	Value any
}
