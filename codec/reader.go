package codec

import (
	"errors"
	"io"
	"math"
	"unicode/utf8"

	"github.com/chronostools/dbus/fragments"
	"github.com/chronostools/dbus/signature"
)

// Reader decodes opaque values against a signature.Descriptor tree
// from a fragments.Decoder.
type Reader struct {
	Dec *fragments.Decoder

	// ValidateSyntax, when true, checks decoded object paths and
	// signature strings for DBus syntactic validity. Defaults to
	// false; see Writer.ValidateSyntax.
	ValidateSyntax bool
}

// Read decodes a value of type desc from r.Dec.
func (r *Reader) Read(desc signature.Descriptor) (any, error) {
	switch desc.Kind {
	case signature.KindPrimitive:
		return r.readPrimitive(desc.Code)
	case signature.KindVariant:
		return r.readVariant()
	case signature.KindArray:
		return r.readArray(desc)
	case signature.KindStruct:
		return r.readStruct(desc)
	case signature.KindDictEntry:
		return r.readDictEntry(desc)
	default:
		return nil, protocolErrorf("codec: cannot read unknown descriptor kind %v", desc.Kind)
	}
}

// ReadMany decodes one value per entry of descs, in order.
func (r *Reader) ReadMany(descs []signature.Descriptor) ([]any, error) {
	ret := make([]any, 0, len(descs))
	for _, d := range descs {
		v, err := r.Read(d)
		if err != nil {
			return nil, err
		}
		ret = append(ret, v)
	}
	return ret, nil
}

func (r *Reader) readPrimitive(code signature.Code) (any, error) {
	d := r.Dec
	switch code {
	case signature.Byte:
		return d.Uint8()
	case signature.Boolean:
		raw, err := d.Uint32()
		if err != nil {
			return nil, err
		}
		switch raw {
		case 0:
			return false, nil
		case 1:
			return true, nil
		default:
			return nil, protocolErrorf("invalid boolean wire value %d, must be 0 or 1", raw)
		}
	case signature.Int16:
		raw, err := d.Uint16()
		if err != nil {
			return nil, err
		}
		return int16(raw), nil
	case signature.Uint16:
		return d.Uint16()
	case signature.Int32:
		raw, err := d.Uint32()
		if err != nil {
			return nil, err
		}
		return int32(raw), nil
	case signature.Uint32:
		return d.Uint32()
	case signature.UnixFD:
		return d.Uint32()
	case signature.Int64:
		raw, err := d.Uint64()
		if err != nil {
			return nil, err
		}
		return int64(raw), nil
	case signature.Uint64:
		return d.Uint64()
	case signature.Double:
		raw, err := d.Uint64()
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(raw), nil
	case signature.String:
		return r.readString()
	case signature.ObjectPath:
		s, err := r.readString()
		if err != nil {
			return nil, err
		}
		if r.ValidateSyntax {
			if err := ObjectPath(s).validateSyntax(); err != nil {
				return nil, protocolErrorf("invalid object path: %v", err)
			}
		}
		return ObjectPath(s), nil
	case signature.Signature:
		return r.readSignatureString()
	default:
		return nil, protocolErrorf("codec: unknown primitive type code %q", code)
	}
}

func (r *Reader) readString() (string, error) {
	d := r.Dec
	n, err := d.Uint32()
	if err != nil {
		return "", err
	}
	bs, err := d.Read(int(n))
	if err != nil {
		return "", wrapOverrun(err)
	}
	nul, err := d.Read(1)
	if err != nil {
		return "", wrapOverrun(err)
	}
	if nul[0] != 0 {
		return "", protocolErrorf("string value missing NUL terminator")
	}
	if !utf8.Valid(bs) {
		return "", protocolErrorf("string value is not valid UTF-8")
	}
	return string(bs), nil
}

func (r *Reader) readSignatureString() (string, error) {
	d := r.Dec
	n, err := d.Uint8()
	if err != nil {
		return "", err
	}
	bs, err := d.Read(int(n))
	if err != nil {
		return "", wrapOverrun(err)
	}
	nul, err := d.Read(1)
	if err != nil {
		return "", wrapOverrun(err)
	}
	if nul[0] != 0 {
		return "", protocolErrorf("signature value missing NUL terminator")
	}
	s := string(bs)
	if r.ValidateSyntax {
		if _, err := signature.ParseMany(s); err != nil {
			return "", protocolErrorf("invalid signature string %q: %v", s, err)
		}
	}
	return s, nil
}

func (r *Reader) readVariant() (any, error) {
	sig, err := r.readSignatureString()
	if err != nil {
		return nil, err
	}
	desc, err := signature.ParseOne(sig)
	if err != nil {
		return nil, protocolErrorf("variant carries invalid signature %q: %v", sig, err)
	}
	v, err := r.Read(desc)
	if err != nil {
		return nil, err
	}
	return Variant{Sig: desc, Value: v}, nil
}

func (r *Reader) readArray(desc signature.Descriptor) (any, error) {
	d := r.Dec
	n, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	if err := d.Pad(desc.Elem.Align()); err != nil {
		return nil, err
	}

	remaining, restore := d.Limit(int(n))
	defer restore()

	if desc.Elem.Kind == signature.KindDictEntry {
		var entries []DictEntry
		seen := map[any]bool{}
		for remaining() > 0 {
			v, err := r.readDictEntry(*desc.Elem)
			if err != nil {
				return nil, wrapOverrun(err)
			}
			ent := v.(DictEntry)
			if seen[ent.Key] {
				return nil, protocolErrorf("duplicate dict key %v", ent.Key)
			}
			seen[ent.Key] = true
			entries = append(entries, ent)
		}
		return entries, nil
	}

	var elems []any
	for remaining() > 0 {
		v, err := r.Read(*desc.Elem)
		if err != nil {
			return nil, wrapOverrun(err)
		}
		elems = append(elems, v)
	}
	return elems, nil
}

func (r *Reader) readStruct(desc signature.Descriptor) (any, error) {
	if err := r.Dec.Pad(signature.StructAlignment); err != nil {
		return nil, err
	}
	fields := make([]any, 0, len(desc.Fields))
	for _, f := range desc.Fields {
		v, err := r.Read(f)
		if err != nil {
			return nil, err
		}
		fields = append(fields, v)
	}
	return fields, nil
}

func (r *Reader) readDictEntry(desc signature.Descriptor) (any, error) {
	if err := r.Dec.Pad(signature.DictEntryAlignment); err != nil {
		return nil, err
	}
	key, err := r.Read(*desc.Key)
	if err != nil {
		return nil, err
	}
	value, err := r.Read(*desc.Value)
	if err != nil {
		return nil, err
	}
	return DictEntry{Key: key, Value: value}, nil
}

// wrapOverrun turns a truncated read inside an array's length limit
// into a ProtocolError: a length-prefixed container whose declared
// length doesn't match its actual contents is malformed wire data,
// not a transport failure.
func wrapOverrun(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return protocolErrorf("array contents overran its declared length")
	}
	return err
}
