package codec_test

import (
	"bytes"
	"testing"

	"github.com/chronostools/dbus/codec"
	"github.com/chronostools/dbus/fragments"
)

func TestReadPrimitives(t *testing.T) {
	tests := []struct {
		sig  string
		in   []byte
		want any
	}{
		{"y", []byte{42}, byte(42)},
		{"b", []byte{1, 0, 0, 0}, true},
		{"q", []byte{0x34, 0x12}, uint16(0x1234)},
		{"u", []byte{0x44, 0x33, 0x22, 0x11}, uint32(0x11223344)},
		{"s", []byte{2, 0, 0, 0, 'h', 'i', 0}, "hi"},
	}
	for _, tc := range tests {
		t.Run(tc.sig, func(t *testing.T) {
			d := &fragments.Decoder{Order: fragments.LittleEndian, In: bytes.NewReader(tc.in)}
			r := &codec.Reader{Dec: d}
			got, err := r.Read(mustParse(t, tc.sig))
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("got %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestReadRejectsBadBoolean(t *testing.T) {
	d := &fragments.Decoder{Order: fragments.LittleEndian, In: bytes.NewReader([]byte{5, 0, 0, 0})}
	r := &codec.Reader{Dec: d}
	_, err := r.Read(mustParse(t, "b"))
	if err == nil {
		t.Fatal("expected an error for a non-0/1 boolean wire value")
	}
	if _, ok := err.(*codec.ProtocolError); !ok {
		t.Fatalf("got %T, want *codec.ProtocolError", err)
	}
}

func TestReadEmptyArray(t *testing.T) {
	d := &fragments.Decoder{Order: fragments.LittleEndian, In: bytes.NewReader([]byte{0, 0, 0, 0})}
	r := &codec.Reader{Dec: d}
	got, err := r.Read(mustParse(t, "ay"))
	if err != nil {
		t.Fatal(err)
	}
	if len(got.([]any)) != 0 {
		t.Errorf("got %#v, want empty slice", got)
	}
}

func TestReadArrayOverrunIsProtocolError(t *testing.T) {
	// Declares a 4-byte array of uint32 (one element) but provides no
	// element bytes at all.
	d := &fragments.Decoder{Order: fragments.LittleEndian, In: bytes.NewReader([]byte{4, 0, 0, 0})}
	r := &codec.Reader{Dec: d}
	_, err := r.Read(mustParse(t, "au"))
	if err == nil {
		t.Fatal("expected an overrun error")
	}
	if _, ok := err.(*codec.ProtocolError); !ok {
		t.Fatalf("got %T, want *codec.ProtocolError", err)
	}
}

func TestReadRejectsInvalidUTF8String(t *testing.T) {
	// "s" encoding of a single invalid UTF-8 byte (0xFF), length 1.
	d := &fragments.Decoder{Order: fragments.LittleEndian, In: bytes.NewReader([]byte{1, 0, 0, 0, 0xFF, 0})}
	r := &codec.Reader{Dec: d}
	_, err := r.Read(mustParse(t, "s"))
	if err == nil {
		t.Fatal("expected an error for invalid UTF-8")
	}
	if _, ok := err.(*codec.ProtocolError); !ok {
		t.Fatalf("got %T, want *codec.ProtocolError", err)
	}
}

func TestReadRejectsInvalidUTF8ObjectPath(t *testing.T) {
	d := &fragments.Decoder{Order: fragments.LittleEndian, In: bytes.NewReader([]byte{1, 0, 0, 0, 0xFF, 0})}
	r := &codec.Reader{Dec: d}
	_, err := r.Read(mustParse(t, "o"))
	if err == nil {
		t.Fatal("expected an error for invalid UTF-8")
	}
	if _, ok := err.(*codec.ProtocolError); !ok {
		t.Fatalf("got %T, want *codec.ProtocolError", err)
	}
}

func TestReadObjectPathSyntaxValidation(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"/", false},
		{"/org/freedesktop/DBus", false},
		{"not-a-valid-path", true},
		{"/trailing/slash/", true},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			e := &fragments.Encoder{Order: fragments.LittleEndian}
			w := &codec.Writer{Enc: e}
			if err := w.Write(mustParse(t, "o"), codec.ObjectPath(tc.path)); err != nil {
				t.Fatalf("encoding %q: %v", tc.path, err)
			}
			d := &fragments.Decoder{Order: fragments.LittleEndian, In: bytes.NewReader(e.Out)}
			r := &codec.Reader{Dec: d, ValidateSyntax: true}
			_, err := r.Read(mustParse(t, "o"))
			if (err != nil) != tc.wantErr {
				t.Errorf("Read(%q) error = %v, wantErr %v", tc.path, err, tc.wantErr)
			}
		})
	}
}

func TestReadDictRejectsDuplicateKeys(t *testing.T) {
	e := &fragments.Encoder{Order: fragments.LittleEndian}
	w := &codec.Writer{Enc: e}
	entries := []codec.DictEntry{
		{Key: uint32(1), Value: "a"},
		{Key: uint32(1), Value: "b"},
	}
	if err := w.Write(mustParse(t, "a{us}"), entries); err != nil {
		t.Fatal(err)
	}
	d := &fragments.Decoder{Order: fragments.LittleEndian, In: bytes.NewReader(e.Out)}
	r := &codec.Reader{Dec: d}
	_, err := r.Read(mustParse(t, "a{us}"))
	if err == nil {
		t.Fatal("expected a duplicate-key error")
	}
	if _, ok := err.(*codec.ProtocolError); !ok {
		t.Fatalf("got %T, want *codec.ProtocolError", err)
	}
}
