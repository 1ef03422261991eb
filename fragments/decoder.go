package fragments

import (
	"fmt"
	"io"
)

// A Decoder reads a DBus wire-format byte stream, tracking the
// alignment position within it. As with Encoder, positions are
// relative to the start of the section (header or body) the Decoder
// was created for.
type Decoder struct {
	// Order is the byte order used for multi-byte values.
	Order ByteOrder
	// In is the input stream.
	In io.Reader

	offset int
}

// Pos returns the number of bytes consumed from In so far.
func (d *Decoder) Pos() int {
	return d.offset
}

// Pad consumes padding bytes until the read position is a multiple
// of align.
func (d *Decoder) Pad(align int) error {
	extra := d.offset % align
	if extra == 0 {
		return nil
	}
	skip := align - extra
	bs, err := d.Read(skip)
	if err != nil {
		return err
	}
	for _, b := range bs {
		if b != 0 {
			return fmt.Errorf("non-zero alignment padding byte at offset %d", d.offset-len(bs))
		}
	}
	return nil
}

// Read reads exactly n bytes verbatim, with no padding or framing. It
// returns io.ErrUnexpectedEOF if the stream ends before n bytes are
// available.
func (d *Decoder) Read(n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	bs := make([]byte, n)
	if _, err := io.ReadFull(d.In, bs); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	d.offset += n
	return bs, nil
}

// Uint8 reads a single byte.
func (d *Decoder) Uint8() (uint8, error) {
	bs, err := d.Read(1)
	if err != nil {
		return 0, err
	}
	return bs[0], nil
}

// Uint16 aligns to 2 bytes and reads a uint16.
func (d *Decoder) Uint16() (uint16, error) {
	if err := d.Pad(2); err != nil {
		return 0, err
	}
	bs, err := d.Read(2)
	if err != nil {
		return 0, err
	}
	return d.Order.Uint16(bs), nil
}

// Uint32 aligns to 4 bytes and reads a uint32.
func (d *Decoder) Uint32() (uint32, error) {
	if err := d.Pad(4); err != nil {
		return 0, err
	}
	bs, err := d.Read(4)
	if err != nil {
		return 0, err
	}
	return d.Order.Uint32(bs), nil
}

// Uint64 aligns to 8 bytes and reads a uint64.
func (d *Decoder) Uint64() (uint64, error) {
	if err := d.Pad(8); err != nil {
		return 0, err
	}
	bs, err := d.Read(8)
	if err != nil {
		return 0, err
	}
	return d.Order.Uint64(bs), nil
}

// ByteOrderFlag reads a DBus byte order flag byte and sets d.Order to
// match it. It fails if the byte isn't 'l' or 'B'.
func (d *Decoder) ByteOrderFlag() error {
	bs, err := d.Read(1)
	if err != nil {
		return err
	}
	order, ok := OrderForFlag(bs[0])
	if !ok {
		return fmt.Errorf("unknown byte order flag %q", bs[0])
	}
	d.Order = order
	return nil
}

// Limit temporarily restricts In to at most n bytes, for decoding a
// length-prefixed container without allowing it to read past its own
// bounds. The returned restore function must be called once decoding
// of the container is done; reads attempted past n bytes return
// io.ErrUnexpectedEOF, which callers should treat as a protocol
// error (an array overrun).
func (d *Decoder) Limit(n int) (remaining func() int64, restore func()) {
	outer := d.In
	lr := &io.LimitedReader{R: outer, N: int64(n)}
	d.In = lr
	return func() int64 { return lr.N }, func() { d.In = outer }
}
