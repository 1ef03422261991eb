// Package dbus implements a client for the D-Bus message bus
// protocol: connecting to a bus, authenticating, sending and
// receiving method calls, and publishing or receiving signals.
//
// # Values
//
// Message bodies are represented with a small set of dynamic Go
// types, rather than reflected from caller-defined struct types. A
// value's DBus type signature and its Go representation correspond
// as follows:
//
//	y  byte         n  int16      i  int32      x  int64     d  float64
//	b  bool         q  uint16     u  uint32      t  uint64     h  uint32
//	s  string       o  ObjectPath  g  string (a signature string)
//	v  Variant
//	a<T>   []any, one element per array member
//	(T...) []any, one element per struct field, in order
//	a{KV}  []DictEntry, in wire order
//
// Encoding and decoding against this representation is done by the
// codec package, which callers reach indirectly through [Conn.Call]
// and the signal dispatch API; [Variant], [ObjectPath] and
// [DictEntry] are re-exported here from codec for convenience.
//
// # Connecting
//
// [Dial] connects to a bus address (see [SessionBus] and [SystemBus]
// for the common cases), authenticates using the SASL EXTERNAL
// mechanism, and performs the Hello call that assigns the connection
// its unique bus name.
package dbus

import "github.com/chronostools/dbus/codec"

// ObjectPath, Variant and DictEntry are the dynamic value types used
// to encode and decode DBus message bodies. See the package doc for
// the full correspondence between DBus types and Go values.
type (
	ObjectPath = codec.ObjectPath
	Variant    = codec.Variant
	DictEntry  = codec.DictEntry
)
