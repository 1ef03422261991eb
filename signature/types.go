// Package signature parses DBus type signature strings into a tree of
// type descriptors, and exposes the fixed-size and alignment tables
// that the wire codec needs to lay out values correctly.
package signature

import "fmt"

// Code is a single DBus type signature character.
type Code byte

// The primitive and container type codes defined by the DBus
// specification. 'h' (unix fd index) is recognized as a fixed-size
// primitive; actual file-descriptor passing is a transport-level
// concern this package does not implement.
const (
	Byte       Code = 'y'
	Boolean    Code = 'b'
	Int16      Code = 'n'
	Uint16     Code = 'q'
	Int32      Code = 'i'
	Uint32     Code = 'u'
	Int64      Code = 'x'
	Uint64     Code = 't'
	Double     Code = 'd'
	UnixFD     Code = 'h'
	String     Code = 's'
	ObjectPath Code = 'o'
	Signature  Code = 'g'
	Variant    Code = 'v'
	Array      Code = 'a'
	StructOpen Code = '('
	StructClose Code = ')'
	DictOpen    Code = '{'
	DictClose   Code = '}'
)

// fixedSizes holds the wire size, in bytes, of every fixed-width
// primitive type. String-like types (s, o, g) and containers are not
// present here because their size depends on their content.
var fixedSizes = map[Code]int{
	Byte:    1,
	Boolean: 4,
	Int16:   2,
	Uint16:  2,
	Int32:   4,
	Uint32:  4,
	Int64:   8,
	Uint64:  8,
	Double:  8,
	UnixFD:  4,
}

// fixedAlignments holds the natural alignment of every primitive type,
// including the string-like types (whose alignment differs from their
// size, since they have no fixed size).
var fixedAlignments = map[Code]int{
	Byte:       1,
	Boolean:    4,
	Int16:      2,
	Uint16:     2,
	Int32:      4,
	Uint32:     4,
	Int64:      8,
	Uint64:     8,
	Double:     8,
	UnixFD:     4,
	String:     4,
	ObjectPath: 4,
	Signature:  1,
	Variant:    1,
}

// StructAlignment and DictEntryAlignment are the alignment in bytes of
// struct and dict-entry headers, regardless of their contents.
const (
	StructAlignment    = 8
	DictEntryAlignment = 8
)

// IsFixed reports whether c is a fixed-size primitive type, i.e. one
// whose wire size doesn't depend on its value.
func IsFixed(c Code) bool {
	_, ok := fixedSizes[c]
	return ok
}

// IsStringLike reports whether c is one of the length-prefixed string
// types: STRING, OBJECT_PATH or SIGNATURE.
func IsStringLike(c Code) bool {
	return c == String || c == ObjectPath || c == Signature
}

// IsBasic reports whether c is a basic type: a fixed-size primitive or
// a string-like type. Basic types are the only types DBus allows as
// dict-entry keys.
func IsBasic(c Code) bool {
	return IsFixed(c) || IsStringLike(c)
}

// SizeOf returns the fixed wire size of c. It panics if c is not a
// fixed-size type; callers should guard with IsFixed.
func SizeOf(c Code) int {
	sz, ok := fixedSizes[c]
	if !ok {
		panic(fmt.Sprintf("signature: SizeOf called on non-fixed type %q", c))
	}
	return sz
}

// AlignOf returns the wire alignment of c. It panics for codes that
// aren't primitive or string-like; containers compute their own
// alignment (see Descriptor.Align).
func AlignOf(c Code) int {
	a, ok := fixedAlignments[c]
	if !ok {
		panic(fmt.Sprintf("signature: AlignOf called on non-primitive type %q", c))
	}
	return a
}

func (c Code) String() string {
	return string(rune(c))
}
