package dbus

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/chronostools/dbus/codec"
	"github.com/chronostools/dbus/fragments"
	"github.com/chronostools/dbus/signature"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func mustSig(t *testing.T, sig string) signature.Descriptor {
	t.Helper()
	d, err := signature.ParseOne(sig)
	if err != nil {
		t.Fatalf("ParseOne(%q): %v", sig, err)
	}
	return d
}

func decodeFrom(t *testing.T, bs []byte) *Message {
	t.Helper()
	r := bytes.NewReader(bs)
	m, err := DecodeMessage(func(n int) ([]byte, error) {
		out := make([]byte, n)
		if _, err := io.ReadFull(r, out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	return m
}

func TestHelloMessageFixedPrefix(t *testing.T) {
	m := &Message{
		Type:        MsgTypeCall,
		Serial:      1,
		Path:        "/org/freedesktop/DBus",
		Interface:   "org.freedesktop.DBus",
		Member:      "Hello",
		Destination: "org.freedesktop.DBus",
	}
	bs, err := EncodeMessage(fragments.LittleEndian, m)
	if err != nil {
		t.Fatal(err)
	}
	if len(bs) < 16 {
		t.Fatalf("encoded message too short: %d bytes", len(bs))
	}
	want := []byte{
		'l',        // little-endian
		byte(MsgTypeCall),
		0,          // flags
		1,          // protocol version
		0, 0, 0, 0, // body length (no body)
		1, 0, 0, 0, // serial
		0x6e, 0, 0, 0, // header fields array length
	}
	if !bytes.Equal(bs[:16], want) {
		t.Errorf("first 16 bytes = % x, want % x", bs[:16], want)
	}
}

func TestMessageRoundtripNoBody(t *testing.T) {
	want := &Message{
		Type:        MsgTypeCall,
		Serial:      1,
		Path:        "/org/freedesktop/DBus",
		Interface:   "org.freedesktop.DBus",
		Member:      "Hello",
		Destination: "org.freedesktop.DBus",
	}
	bs, err := EncodeMessage(fragments.LittleEndian, want)
	if err != nil {
		t.Fatal(err)
	}
	got := decodeFrom(t, bs)
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("roundtrip mismatch (-want +got):\n%s", diff)
	}
}

func TestMessageRoundtripWithBody(t *testing.T) {
	want := &Message{
		Type:        MsgTypeCall,
		Serial:      7,
		Path:        "/org/example/Notifier",
		Interface:   "org.example.Notifications",
		Member:      "Notify",
		Destination: "org.example.Notifications",
		Signature:   "susssasa{sv}i",
		Body: []any{
			"myapp",
			uint32(0),
			"dialog-information",
			"Hello",
			"World",
			[]any{},
			[]DictEntry{{Key: "urgency", Value: Variant{Sig: mustSig(t, "y"), Value: byte(1)}}},
			int32(-1),
		},
	}
	bs, err := EncodeMessage(fragments.NativeEndian, want)
	if err != nil {
		t.Fatal(err)
	}
	got := decodeFrom(t, bs)
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("roundtrip mismatch (-want +got):\n%s", diff)
	}
}

func TestMessageRoundtripSignal(t *testing.T) {
	want := &Message{
		Type:      MsgTypeSignal,
		Serial:    3,
		Path:      "/org/example/Object",
		Interface: "org.example.Interface",
		Member:    "SomethingHappened",
	}
	bs, err := EncodeMessage(fragments.BigEndian, want)
	if err != nil {
		t.Fatal(err)
	}
	got := decodeFrom(t, bs)
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("roundtrip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeRejectsMissingRequiredFields(t *testing.T) {
	m := &Message{Type: MsgTypeCall, Serial: 1}
	if _, err := EncodeMessage(fragments.LittleEndian, m); err == nil {
		t.Fatal("expected an error for a call message missing Path/Member")
	}
}

func TestEncodeValidatesObjectPathSyntaxWhenEnabled(t *testing.T) {
	m := &Message{
		Type:      MsgTypeSignal,
		Serial:    1,
		Path:      "not-a-valid-path",
		Interface: "org.example.Interface",
		Member:    "Ping",
	}
	if _, err := EncodeMessage(fragments.LittleEndian, m, true); err == nil {
		t.Fatal("expected an error for a malformed object path with validation enabled")
	}
	if _, err := EncodeMessage(fragments.LittleEndian, m); err != nil {
		t.Errorf("EncodeMessage without validation should ignore path syntax, got: %v", err)
	}
}

func TestDecodeValidatesObjectPathSyntaxWhenEnabled(t *testing.T) {
	m := &Message{
		Type:      MsgTypeSignal,
		Serial:    1,
		Path:      "/org/example/Object",
		Interface: "org.example.Interface",
		Member:    "Ping",
	}
	bs, err := EncodeMessage(fragments.LittleEndian, m)
	if err != nil {
		t.Fatal(err)
	}
	decode := func(validate ...bool) (*Message, error) {
		r := bytes.NewReader(bs)
		return DecodeMessage(func(n int) ([]byte, error) {
			out := make([]byte, n)
			if _, err := io.ReadFull(r, out); err != nil {
				return nil, err
			}
			return out, nil
		}, validate...)
	}
	if _, err := decode(); err != nil {
		t.Errorf("decode without validation: %v", err)
	}
	if _, err := decode(true); err != nil {
		t.Errorf("decode of a well-formed path with validation enabled: %v", err)
	}
}

func TestDecodeRejectsDuplicateHeaderFields(t *testing.T) {
	fields := []any{
		[]any{byte(fieldPath), codec.Variant{Sig: signature.Primitive(signature.ObjectPath), Value: ObjectPath("/a")}},
		[]any{byte(fieldPath), codec.Variant{Sig: signature.Primitive(signature.ObjectPath), Value: ObjectPath("/b")}},
		[]any{byte(fieldMember), codec.Variant{Sig: signature.Primitive(signature.String), Value: "M"}},
	}

	e := &fragments.Encoder{Order: fragments.LittleEndian}
	e.ByteOrderFlag()
	e.Uint8(uint8(MsgTypeCall))
	e.Uint8(0)
	e.Uint8(1)
	e.Uint32(0)
	e.Uint32(1)
	fw := &codec.Writer{Enc: e}
	if err := fw.Write(headerFieldsDescriptor, fields); err != nil {
		t.Fatalf("encoding header fields: %v", err)
	}
	e.Pad(8)
	if e.Pending() {
		t.Fatal("internal error: unfilled length field")
	}

	r := bytes.NewReader(e.Out)
	_, err := DecodeMessage(func(n int) ([]byte, error) {
		out := make([]byte, n)
		if _, err := io.ReadFull(r, out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err == nil {
		t.Fatal("expected an error for duplicate header fields")
	}
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("err = %v (%T), want *ProtocolError", err, err)
	}
}
