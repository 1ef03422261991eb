package fragments

import "fmt"

// An Encoder accumulates a DBus wire-format byte stream. All
// positions are relative to the start of the buffer the Encoder was
// created for (a message header, or a message body): since DBus pads
// the header to an 8-byte boundary before the body begins, alignment
// computed relative to either start gives the same answer, so a fresh
// Encoder per section is both correct and simpler than tracking a
// whole-message offset.
type Encoder struct {
	// Order is the byte order used for multi-byte values.
	Order ByteOrder
	// Out is the encoded output accumulated so far.
	Out []byte

	pending []*Later
}

// A Later is a one-shot handle to a length (or other fixed-size
// value) reserved earlier in the stream, to be filled in once its
// true value is known. Each Later must be filled exactly once.
type Later struct {
	pos   int
	code  string
	fired bool
}

// Pad appends zero bytes until the buffer length is a multiple of
// align. If the buffer is already aligned, it does nothing.
func (e *Encoder) Pad(align int) {
	extra := len(e.Out) % align
	if extra == 0 {
		return
	}
	var zero [8]byte
	e.Out = append(e.Out, zero[:align-extra]...)
}

// Write appends bs to the output verbatim, with no padding or
// framing.
func (e *Encoder) Write(bs []byte) {
	e.Out = append(e.Out, bs...)
}

// Uint8 writes a single byte.
func (e *Encoder) Uint8(v uint8) {
	e.Out = append(e.Out, v)
}

// Uint16 aligns to 2 bytes and writes v.
func (e *Encoder) Uint16(v uint16) {
	e.Pad(2)
	e.Out = e.Order.AppendUint16(e.Out, v)
}

// Uint32 aligns to 4 bytes and writes v.
func (e *Encoder) Uint32(v uint32) {
	e.Pad(4)
	e.Out = e.Order.AppendUint32(e.Out, v)
}

// Uint64 aligns to 8 bytes and writes v.
func (e *Encoder) Uint64(v uint64) {
	e.Pad(8)
	e.Out = e.Order.AppendUint64(e.Out, v)
}

// ByteOrderFlag writes the DBus byte order flag byte ('l' or 'B')
// matching e.Order.
func (e *Encoder) ByteOrderFlag() {
	e.Out = append(e.Out, e.Order.dbusFlag())
}

// Pos returns the current length of the output buffer, i.e. the
// position the next write will land at.
func (e *Encoder) Pos() int {
	return len(e.Out)
}

// ReserveUint32 pads to a 4-byte boundary, reserves 4 zero bytes, and
// returns a Later token that must eventually be used to fill them in
// with Fill. code names the DBus type being reserved (normally "u"),
// and is only used to build an error message if Fill is called more
// than once.
func (e *Encoder) ReserveUint32(code string) *Later {
	e.Pad(4)
	pos := len(e.Out)
	e.Out = append(e.Out, 0, 0, 0, 0)
	l := &Later{pos: pos, code: code}
	e.pending = append(e.pending, l)
	return l
}

// Fill writes v into the space reserved by a prior ReserveUint32
// call. It is an error to call Fill more than once for the same
// token.
func (e *Encoder) Fill(l *Later, v uint32) error {
	if l.fired {
		return fmt.Errorf("multiple calls to writeLater callback for signature %q at position %d", l.code, l.pos)
	}
	l.fired = true
	e.Order.PutUint32(e.Out[l.pos:], v)
	return nil
}

// Pending reports whether any reserved site has not yet been filled.
// Callers that build whole messages should check this before
// treating the buffer as final.
func (e *Encoder) Pending() bool {
	for _, l := range e.pending {
		if !l.fired {
			return true
		}
	}
	return false
}

// Measure runs f, then returns the number of bytes f appended to the
// output.
func (e *Encoder) Measure(f func() error) (int, error) {
	start := len(e.Out)
	if err := f(); err != nil {
		return len(e.Out) - start, err
	}
	return len(e.Out) - start, nil
}
