package sbe

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Type is the primitive encoding of a fixed field.
type Type uint8

const (
	Uint8 Type = iota + 1
	Uint16
	Uint32
	Uint64
	Int32
	Int64
	Float64
)

// Null values and limits shared by all schemas.
const (
	NullUint8  uint8  = math.MaxUint8
	NullUint16 uint16 = math.MaxUint16
	NullUint32 uint32 = math.MaxUint32
	NullUint64 uint64 = math.MaxUint64
	NullInt32  int32  = math.MinInt32
	NullInt64  int64  = math.MinInt64

	MaxUint16 uint16 = math.MaxUint16 - 1
	MinInt32  int32  = math.MinInt32 + 1

	MaxVarDataLength = 254
	MaxGroupCount    = 254

	GroupHeaderSize = 3
)

func (t Type) Size() int {
	switch t {
	case Uint8:
		return 1
	case Uint16:
		return 2
	case Uint32, Int32:
		return 4
	case Uint64, Int64, Float64:
		return 8
	}
	return 0
}

// Null returns the raw bit pattern of the null value of t.
func (t Type) Null() uint64 {
	switch t {
	case Uint8:
		return uint64(NullUint8)
	case Uint16:
		return uint64(NullUint16)
	case Uint32:
		return uint64(NullUint32)
	case Uint64:
		return NullUint64
	case Int32:
		return 1 << 31
	case Int64:
		return 1 << 63
	case Float64:
		return math.Float64bits(math.NaN())
	}
	return 0
}

func (t Type) String() string {
	switch t {
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float64:
		return "double"
	}
	return "unknown"
}

// Field is a fixed-size field at a fixed offset of a block.
type Field struct {
	Name   string
	Type   Type
	Offset int
}

func (f *Field) end() int { return f.Offset + f.Type.Size() }

// Group is a repeating group of fixed blocks.
type Group struct {
	Name        string
	BlockLength int
	Fields      []Field
}

// Schema describes one message template: a root block, then groups, then
// var data fields, each in declaration order.
type Schema struct {
	Name        string
	TemplateID  uint16
	SchemaID    uint16
	Version     uint16
	BlockLength int
	Fields      []Field
	Groups      []*Group
	VarData     []string
}

// Validate checks that every field fits its block.
func (s *Schema) Validate() error {
	if s.BlockLength < 0 || s.BlockLength > math.MaxUint16 {
		return fmt.Errorf("schema %s: invalid block length %d", s.Name, s.BlockLength)
	}
	if err := validateFields(s.Name, s.BlockLength, s.Fields); err != nil {
		return err
	}
	for _, g := range s.Groups {
		if g.BlockLength <= 0 || g.BlockLength > math.MaxUint16 {
			return fmt.Errorf("schema %s: group %s: invalid block length %d", s.Name, g.Name, g.BlockLength)
		}
		if err := validateFields(s.Name+"."+g.Name, g.BlockLength, g.Fields); err != nil {
			return err
		}
	}
	return nil
}

func validateFields(name string, blockLength int, fields []Field) error {
	for i := range fields {
		f := &fields[i]
		if f.Type.Size() == 0 {
			return fmt.Errorf("schema %s: field %s: unknown type %d", name, f.Name, f.Type)
		}
		if f.Offset < 0 || f.end() > blockLength {
			return fmt.Errorf("schema %s: field %s: [%d,%d) outside block of %d bytes", name, f.Name, f.Offset, f.end(), blockLength)
		}
	}
	return nil
}

// MustField returns the named root field. It panics if there is none, so it
// is meant for package-level initialisation.
func (s *Schema) MustField(name string) *Field {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	panic("sbe: schema " + s.Name + " has no field " + name)
}

func (g *Group) MustField(name string) *Field {
	for i := range g.Fields {
		if g.Fields[i].Name == name {
			return &g.Fields[i]
		}
	}
	panic("sbe: group " + g.Name + " has no field " + name)
}

// Length returns the encoded size of a message with no groups whose var data
// fields have the given lengths.
func (s *Schema) Length(varLengths ...int) int {
	n := HeaderSize + s.BlockLength
	for _, l := range varLengths {
		n += 1 + l
	}
	return n
}

// Length returns the encoded size of a group with count elements.
func (g *Group) Length(count int) int {
	return GroupHeaderSize + count*g.BlockLength
}

func putRaw(b []byte, t Type, v uint64) {
	switch t.Size() {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, v)
	}
}

func getRaw(b []byte, t Type) uint64 {
	switch t.Size() {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func signed(t Type, raw uint64) int64 {
	switch t {
	case Int32:
		return int64(int32(uint32(raw)))
	default:
		return int64(raw)
	}
}
