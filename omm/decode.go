package omm

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// Unmarshal decodes b into m, reusing m.Fields. Unknown fields are skipped.
func (m *Msg) Unmarshal(b []byte) error {
	fields := m.Fields[:0]
	*m = Msg{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: tag: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case typ == protowire.VarintType && num <= numFlags:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
			m.setVarint(num, v)
		case typ == protowire.BytesType && (num == numText || num == numKey || num == numPermData || num == numField):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case numText:
				m.Text = string(v)
			case numKey:
				if err := m.Key.unmarshal(v); err != nil {
					return err
				}
			case numPermData:
				m.PermData = v
			case numField:
				var f Field
				if err := f.unmarshal(v); err != nil {
					return err
				}
				fields = append(fields, f)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	m.Fields = fields
	return nil
}

func (m *Msg) setVarint(num protowire.Number, v uint64) {
	switch num {
	case numClass:
		m.Class = MsgClass(v)
	case numDomain:
		m.Domain = uint8(v)
	case numStreamID:
		m.StreamID = int32(protowire.DecodeZigZag(v))
	case numRWFVersion:
		m.RWFVersion = uint16(v)
	case numStreamState:
		m.StreamState = StreamState(v)
	case numDataState:
		m.DataState = DataState(v)
	case numCode:
		m.Code = StatusCode(v)
	case numFlags:
		m.Flags = Flags(v)
	}
}

func (k *Key) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: key: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == numKeyServiceID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: key: %v", ErrMalformed, protowire.ParseError(n))
			}
			k.ServiceID, b = uint16(v), b[n:]
		case num == numKeyNameType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: key: %v", ErrMalformed, protowire.ParseError(n))
			}
			k.NameType, b = uint8(v), b[n:]
		case num == numKeyName && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: key: %v", ErrMalformed, protowire.ParseError(n))
			}
			k.Name, b = v, b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: key: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

func (f *Field) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: field entry: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.VarintType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: field entry: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return fmt.Errorf("%w: field entry: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case numFieldID:
			f.FID = int16(protowire.DecodeZigZag(v))
		case numFieldMantissa:
			f.Value.Mantissa = protowire.DecodeZigZag(v)
		case numFieldExponent:
			f.Value.Exponent = int8(protowire.DecodeZigZag(v))
		case numFieldBlank:
			f.Value.Blank = v != 0
		}
	}
	return nil
}

// Field returns the first field with the given id.
func (m *Msg) Field(fid int16) (Real, bool) {
	for _, f := range m.Fields {
		if f.FID == fid {
			return f.Value, true
		}
	}
	return Real{}, false
}

func (m *Msg) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s streamId=%d state=%s/%s", m.Class, m.StreamID, m.StreamState, m.DataState)
	if m.Code != CodeNone || m.Text != "" {
		fmt.Fprintf(&sb, " code=%s text=%q", m.Code, m.Text)
	}
	if m.Flags&FlagHasKey != 0 {
		fmt.Fprintf(&sb, " name=%q service=%d", m.Key.Name, m.Key.ServiceID)
	}
	if len(m.PermData) != 0 {
		fmt.Fprintf(&sb, " permData=%x", m.PermData)
	}
	for _, f := range m.Fields {
		fmt.Fprintf(&sb, " %s=%s", FieldName(f.FID), f.Value)
	}
	return sb.String()
}
