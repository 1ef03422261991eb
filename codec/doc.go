// Package codec is the dynamic marshalling kernel: it encodes and
// decodes DBus values against a parsed [signature.Descriptor], using
// an opaque value representation (Go's any) rather than static Go
// types reflected into a signature.
//
// Values are represented with the following concrete Go types:
//
//	y  byte       n  int16     i  int32     x  int64     d  float64
//	b  bool       q  uint16    u  uint32    t  uint64     h  uint32
//	s  string     o  ObjectPath  g  string (a signature string)
//	v  Variant
//	a<T>  []any, each element matching T
//	(T...) []any, positionally matching the struct fields
//	a{KV} []DictEntry, in wire order
//
// This is the "dynamic path" described by the DBus marshalling
// design: callers who already know their types at compile time
// convert to and from this representation themselves, and the
// wire-level work always happens here, against the descriptor tree.
package codec
