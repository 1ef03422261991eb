package fragments_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/chronostools/dbus/fragments"
)

func TestDecoderPrimitives(t *testing.T) {
	in := []byte{
		0x2a,
		0x00, // pad
		0x00, 0x42,
		0x00, 0x00, 0x00, 0x2a,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x42,
	}
	d := &fragments.Decoder{Order: fragments.BigEndian, In: bytes.NewReader(in)}

	u8, err := d.Uint8()
	if err != nil || u8 != 42 {
		t.Fatalf("Uint8() = %d, %v", u8, err)
	}
	u16, err := d.Uint16()
	if err != nil || u16 != 66 {
		t.Fatalf("Uint16() = %d, %v", u16, err)
	}
	u32, err := d.Uint32()
	if err != nil || u32 != 42 {
		t.Fatalf("Uint32() = %d, %v", u32, err)
	}
	u64, err := d.Uint64()
	if err != nil || u64 != 66 {
		t.Fatalf("Uint64() = %d, %v", u64, err)
	}
}

func TestDecoderUnexpectedEOF(t *testing.T) {
	d := &fragments.Decoder{Order: fragments.LittleEndian, In: bytes.NewReader([]byte{1, 2})}
	_, err := d.Uint32()
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("got %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestByteOrderFlag(t *testing.T) {
	d := &fragments.Decoder{In: bytes.NewReader([]byte{'B'})}
	if err := d.ByteOrderFlag(); err != nil {
		t.Fatal(err)
	}
	if d.Order != fragments.BigEndian {
		t.Fatalf("got order %v, want BigEndian", d.Order)
	}

	d2 := &fragments.Decoder{In: bytes.NewReader([]byte{'z'})}
	if err := d2.ByteOrderFlag(); err == nil {
		t.Fatal("expected error for unknown byte order flag")
	}
}

func TestLimitRestrictsReads(t *testing.T) {
	d := &fragments.Decoder{Order: fragments.LittleEndian, In: bytes.NewReader([]byte{1, 2, 3, 4, 5, 6})}
	remaining, restore := d.Limit(2)
	bs, err := d.Read(2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(bs, []byte{1, 2}) {
		t.Fatalf("got % x", bs)
	}
	if remaining() != 0 {
		t.Fatalf("remaining() = %d, want 0", remaining())
	}
	if _, err := d.Read(1); err == nil {
		t.Fatal("expected overrun error past the limit")
	}
	restore()
	bs, err = d.Read(4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(bs, []byte{3, 4, 5, 6}) {
		t.Fatalf("got % x after restore", bs)
	}
}
