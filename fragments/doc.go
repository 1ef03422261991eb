// Package fragments provides the low-level byte-oriented building
// blocks of the DBus wire format: endianness-aware primitive
// read/write, natural alignment padding, and the length-prefixed
// array/struct framing shapes. It has no notion of DBus type
// signatures or of the codec's value representation; those live in
// the signature and codec packages, which are built on top of
// fragments.
package fragments
