package dbus

import (
	"bytes"
	"fmt"

	"github.com/chronostools/dbus/codec"
	"github.com/chronostools/dbus/fragments"
	"github.com/chronostools/dbus/signature"
)

// MsgType is the type of a DBus message.
type MsgType byte

const (
	MsgTypeCall MsgType = iota + 1
	MsgTypeReturn
	MsgTypeError
	MsgTypeSignal
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeCall:
		return "method_call"
	case MsgTypeReturn:
		return "method_return"
	case MsgTypeError:
		return "error"
	case MsgTypeSignal:
		return "signal"
	default:
		return fmt.Sprintf("msgtype(%d)", t)
	}
}

// HeaderFlags are the per-message flag bits carried in a message's
// fixed header.
type HeaderFlags byte

const (
	FlagNoReplyExpected              HeaderFlags = 0x1
	FlagNoAutoStart                  HeaderFlags = 0x2
	FlagAllowInteractiveAuthorization HeaderFlags = 0x4
)

// headerField is the key byte identifying each optional header field,
// per the DBus specification's header field table.
type headerField byte

const (
	fieldPath        headerField = 1
	fieldInterface   headerField = 2
	fieldMember      headerField = 3
	fieldErrName     headerField = 4
	fieldReplySerial headerField = 5
	fieldDestination headerField = 6
	fieldSender      headerField = 7
	fieldSignature   headerField = 8
	fieldUnixFDs     headerField = 9
)

var headerFieldsDescriptor = signature.ArrayOf(signature.StructOf(
	signature.Primitive(signature.Byte),
	signature.VariantType,
))

// Message is a single complete DBus message: the fixed header, the
// optional header fields, and a decoded body.
type Message struct {
	Type   MsgType
	Flags  HeaderFlags
	Serial uint32

	Path        ObjectPath
	Interface   string
	Member      string
	ErrName     string
	ReplySerial uint32
	Destination string
	Sender      string
	Signature   string
	NumFDs      uint32

	// Body holds one decoded value per top-level type in Signature.
	Body []any
}

// Valid checks that m carries the header fields its Type requires.
func (m *Message) Valid() error {
	if m.Serial == 0 {
		return fmt.Errorf("invalid message with zero serial")
	}
	switch m.Type {
	case MsgTypeCall:
		if m.Path == "" {
			return fmt.Errorf("missing required header field Path")
		}
		if m.Member == "" {
			return fmt.Errorf("missing required header field Member")
		}
	case MsgTypeReturn:
		if m.ReplySerial == 0 {
			return fmt.Errorf("missing required header field ReplySerial")
		}
	case MsgTypeError:
		if m.ReplySerial == 0 {
			return fmt.Errorf("missing required header field ReplySerial")
		}
		if m.ErrName == "" {
			return fmt.Errorf("missing required header field ErrName")
		}
	case MsgTypeSignal:
		if m.Path == "" {
			return fmt.Errorf("missing required header field Path")
		}
		if m.Interface == "" {
			return fmt.Errorf("missing required header field Interface")
		}
		if m.Member == "" {
			return fmt.Errorf("missing required header field Member")
		}
	default:
		return fmt.Errorf("invalid message with unknown Type %d", m.Type)
	}
	return nil
}

// WantReply reports whether m is a method call that expects a
// METHOD_RETURN or ERROR reply.
func (m *Message) WantReply() bool {
	return m.Type == MsgTypeCall && m.Flags&FlagNoReplyExpected == 0
}

// EncodeMessage serializes m to the DBus wire format, using order as
// the message's byte order. The encoding follows the fixed prefix
// (order flag, type, flags, protocol version, body length, serial),
// then the header fields array, padding to an 8-byte boundary, then
// the body.
// validateSyntax is an optional trailing argument accepted by
// EncodeMessage and DecodeMessage so existing call sites that don't
// care about it keep compiling unchanged; at most one value is
// consulted. [Conn] passes its own [Config.validateSyntax] through
// this parameter.
func EncodeMessage(order fragments.ByteOrder, m *Message, validateSyntax ...bool) ([]byte, error) {
	if err := m.Valid(); err != nil {
		return nil, err
	}
	validate := len(validateSyntax) > 0 && validateSyntax[0]

	var bodyDescs []signature.Descriptor
	if m.Signature != "" {
		var err error
		bodyDescs, err = signature.ParseMany(m.Signature)
		if err != nil {
			return nil, fmt.Errorf("encoding message: invalid body signature: %w", err)
		}
	}
	if len(bodyDescs) != len(m.Body) {
		return nil, fmt.Errorf("encoding message: signature %q has %d values, got %d body values", m.Signature, len(bodyDescs), len(m.Body))
	}

	bodyEnc := &fragments.Encoder{Order: order}
	bodyWriter := &codec.Writer{Enc: bodyEnc, ValidateSyntax: validate}
	if err := bodyWriter.WriteMany(bodyDescs, m.Body); err != nil {
		return nil, err
	}

	e := &fragments.Encoder{Order: order}
	e.ByteOrderFlag()
	e.Uint8(uint8(m.Type))
	e.Uint8(uint8(m.Flags))
	e.Uint8(1) // protocol version
	e.Uint32(uint32(len(bodyEnc.Out)))
	e.Uint32(m.Serial)

	fields := m.headerFieldValues()
	fw := &codec.Writer{Enc: e, ValidateSyntax: validate}
	if err := fw.Write(headerFieldsDescriptor, fields); err != nil {
		return nil, fmt.Errorf("encoding message: header fields: %w", err)
	}

	e.Pad(8)
	e.Write(bodyEnc.Out)

	if e.Pending() {
		return nil, fmt.Errorf("encoding message: internal error: unfilled length field")
	}
	return e.Out, nil
}

// headerFieldValues builds the a(yv) header fields array. Field order
// doesn't matter to a reader, which is keyed on the byte code, but the
// order here matches the Hello test vector in message_test.go.
func (m *Message) headerFieldValues() []any {
	var fields []any
	add := func(key headerField, sig signature.Code, value any) {
		fields = append(fields, []any{byte(key), codec.Variant{Sig: signature.Primitive(sig), Value: value}})
	}
	if m.Path != "" {
		add(fieldPath, signature.ObjectPath, m.Path)
	}
	if m.Destination != "" {
		add(fieldDestination, signature.String, m.Destination)
	}
	if m.Interface != "" {
		add(fieldInterface, signature.String, m.Interface)
	}
	if m.Member != "" {
		add(fieldMember, signature.String, m.Member)
	}
	if m.ErrName != "" {
		add(fieldErrName, signature.String, m.ErrName)
	}
	if m.ReplySerial != 0 {
		add(fieldReplySerial, signature.Uint32, m.ReplySerial)
	}
	if m.Sender != "" {
		add(fieldSender, signature.String, m.Sender)
	}
	if m.Signature != "" {
		add(fieldSignature, signature.Signature, m.Signature)
	}
	if m.NumFDs != 0 {
		add(fieldUnixFDs, signature.Uint32, m.NumFDs)
	}
	return fields
}

// DecodeMessage reads one complete message from the fixed 16-byte
// prefix onward, using read to pull exactly as many bytes as each
// step needs. [Conn] supplies a read function that fills each request
// with io.ReadFull from its transport.
func DecodeMessage(read func(n int) ([]byte, error), validateSyntax ...bool) (*Message, error) {
	validate := len(validateSyntax) > 0 && validateSyntax[0]
	d := &fragments.Decoder{In: readerFunc(read)}

	if err := d.ByteOrderFlag(); err != nil {
		return nil, err
	}
	typ, err := d.Uint8()
	if err != nil {
		return nil, err
	}
	flags, err := d.Uint8()
	if err != nil {
		return nil, err
	}
	version, err := d.Uint8()
	if err != nil {
		return nil, err
	}
	if version != 1 {
		return nil, newProtocolError("unsupported protocol version %d", version)
	}
	bodyLen, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	serial, err := d.Uint32()
	if err != nil {
		return nil, err
	}

	r := &codec.Reader{Dec: d, ValidateSyntax: validate}
	rawFields, err := r.Read(headerFieldsDescriptor)
	if err != nil {
		return nil, fmt.Errorf("decoding message: header fields: %w", err)
	}

	if err := d.Pad(8); err != nil {
		return nil, err
	}

	m := &Message{
		Type:   MsgType(typ),
		Flags:  HeaderFlags(flags),
		Serial: serial,
	}
	if err := m.setHeaderFields(rawFields.([]any)); err != nil {
		return nil, err
	}

	bodyBytes, err := d.Read(int(bodyLen))
	if err != nil {
		return nil, err
	}

	if m.Signature != "" {
		bodyDescs, err := signature.ParseMany(m.Signature)
		if err != nil {
			return nil, fmt.Errorf("decoding message: invalid body signature %q: %w", m.Signature, err)
		}
		bodyDec := &fragments.Decoder{Order: d.Order, In: bytes.NewReader(bodyBytes)}
		bodyReader := &codec.Reader{Dec: bodyDec, ValidateSyntax: validate}
		m.Body, err = bodyReader.ReadMany(bodyDescs)
		if err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Message) setHeaderFields(fields []any) error {
	seen := map[headerField]bool{}
	for _, raw := range fields {
		entry := raw.([]any)
		key := headerField(entry[0].(byte))
		if seen[key] {
			return newProtocolError("duplicate header field %d", key)
		}
		seen[key] = true
		v := entry[1].(codec.Variant)
		switch key {
		case fieldPath:
			m.Path, _ = v.Value.(ObjectPath)
		case fieldInterface:
			m.Interface, _ = v.Value.(string)
		case fieldMember:
			m.Member, _ = v.Value.(string)
		case fieldErrName:
			m.ErrName, _ = v.Value.(string)
		case fieldReplySerial:
			m.ReplySerial, _ = v.Value.(uint32)
		case fieldDestination:
			m.Destination, _ = v.Value.(string)
		case fieldSender:
			m.Sender, _ = v.Value.(string)
		case fieldSignature:
			m.Signature, _ = v.Value.(string)
		case fieldUnixFDs:
			m.NumFDs, _ = v.Value.(uint32)
		default:
			// Unknown header fields are ignored, per the DBus
			// specification's forward-compatibility rule.
		}
	}
	return nil
}

func newProtocolError(format string, args ...any) error {
	return &codec.ProtocolError{Msg: fmt.Sprintf(format, args...)}
}

// readerFunc adapts a Read(n) function to an io.Reader, so the
// header's Decoder can be driven by whatever byte source a caller
// provides (a net.Conn, a bytes.Reader in tests, ...) without this
// package depending on io.Reader semantics it doesn't need, like
// short reads.
type readerFunc func(n int) ([]byte, error)

func (f readerFunc) Read(p []byte) (int, error) {
	bs, err := f(len(p))
	if err != nil {
		return 0, err
	}
	return copy(p, bs), nil
}
