package signature

import "strings"

// Kind enumerates the shapes a Descriptor can take.
type Kind int

const (
	// KindPrimitive describes one of the fixed-size or string-like
	// basic types.
	KindPrimitive Kind = iota
	// KindVariant describes a DBus variant: a self-describing value
	// carrying its own signature on the wire.
	KindVariant
	// KindArray describes a homogeneous sequence of one element type.
	KindArray
	// KindStruct describes a fixed sequence of heterogeneous fields.
	KindStruct
	// KindDictEntry describes a key/value pair. It only ever appears
	// as the element type of an Array (i.e. Array.Elem.Kind ==
	// KindDictEntry); a bare dict-entry is not a valid standalone
	// type.
	KindDictEntry
)

// A Descriptor is a parsed DBus type signature: a single complete
// type, recursively describing its container structure. Descriptors
// are immutable once constructed and contain no cycles, since DBus
// signatures cannot describe recursive types.
type Descriptor struct {
	Kind Kind

	// Code is the primitive type code. Only meaningful when Kind ==
	// KindPrimitive.
	Code Code

	// Elem is the array element type. Only meaningful when Kind ==
	// KindArray.
	Elem *Descriptor

	// Fields are the struct field types, in declaration order. Only
	// meaningful when Kind == KindStruct.
	Fields []Descriptor

	// Key and Value are the dict-entry key and value types. Only
	// meaningful when Kind == KindDictEntry.
	Key   *Descriptor
	Value *Descriptor
}

// Primitive returns a Descriptor for the given primitive type code.
func Primitive(c Code) Descriptor {
	return Descriptor{Kind: KindPrimitive, Code: c}
}

// VariantType is the Descriptor for the DBus variant type.
var VariantType = Descriptor{Kind: KindVariant}

// ArrayOf returns a Descriptor for an array of elem.
func ArrayOf(elem Descriptor) Descriptor {
	return Descriptor{Kind: KindArray, Elem: &elem}
}

// StructOf returns a Descriptor for a struct with the given fields.
func StructOf(fields ...Descriptor) Descriptor {
	return Descriptor{Kind: KindStruct, Fields: fields}
}

// DictOf returns the element-type Descriptor for a dict a{KV}: an
// array whose element is a dict-entry of (key, value). Wrap the
// result in ArrayOf to get the full dict type.
func DictOf(key, value Descriptor) Descriptor {
	return Descriptor{Kind: KindDictEntry, Key: &key, Value: &value}
}

// Align returns the wire alignment, in bytes, of a value of this
// type.
func (d Descriptor) Align() int {
	switch d.Kind {
	case KindPrimitive:
		return AlignOf(d.Code)
	case KindVariant:
		return 1
	case KindArray:
		return 4
	case KindStruct:
		return StructAlignment
	case KindDictEntry:
		return DictEntryAlignment
	default:
		panic("signature: invalid Descriptor")
	}
}

// IsFixed reports whether every value of this type has the same wire
// size. Fixed primitives and structs/arrays composed only of fixed
// types are fixed; anything containing a string-like type, a
// variant, or an array is not (arrays are length-prefixed even when
// their element is fixed-size).
func (d Descriptor) IsFixed() bool {
	switch d.Kind {
	case KindPrimitive:
		return IsFixed(d.Code)
	case KindStruct:
		for _, f := range d.Fields {
			if !f.IsFixed() {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// String renders the Descriptor back into its canonical DBus
// signature string.
func (d Descriptor) String() string {
	var b strings.Builder
	d.writeTo(&b)
	return b.String()
}

func (d Descriptor) writeTo(b *strings.Builder) {
	switch d.Kind {
	case KindPrimitive:
		b.WriteByte(byte(d.Code))
	case KindVariant:
		b.WriteByte('v')
	case KindArray:
		b.WriteByte('a')
		d.Elem.writeTo(b)
	case KindStruct:
		b.WriteByte('(')
		for _, f := range d.Fields {
			f.writeTo(b)
		}
		b.WriteByte(')')
	case KindDictEntry:
		b.WriteByte('{')
		d.Key.writeTo(b)
		d.Value.writeTo(b)
		b.WriteByte('}')
	}
}

// Join renders a sequence of Descriptors (such as a message
// body's top-level types) into a single concatenated signature
// string.
func Join(ds []Descriptor) string {
	var b strings.Builder
	for _, d := range ds {
		d.writeTo(&b)
	}
	return b.String()
}
