package sbe

import (
	"fmt"
	"math"
)

// Decoder reads one message in place. Returned var data aliases the wrapped
// buffer.
type Decoder struct {
	schema      *Schema
	buf         []byte
	offset      int
	block       int
	blockLength int
	version     uint16
	pos         int
	next        int
}

// Wrap validates the header at offset against s and positions the cursor
// after the root block. The acting block length is taken from the header so
// blocks extended by newer versions are skipped correctly.
func (d *Decoder) Wrap(s *Schema, buf []byte, offset int) error {
	if err := need(offset, HeaderSize, len(buf)); err != nil {
		return err
	}
	h := MessageHeader(buf[offset : offset+HeaderSize])
	if h.TemplateID() != s.TemplateID || h.SchemaID() != s.SchemaID {
		return &TemplateError{Schema: s.Name, TemplateID: h.TemplateID(), SchemaID: h.SchemaID()}
	}
	blockLength := int(h.BlockLength())
	if err := need(offset+HeaderSize, blockLength, len(buf)); err != nil {
		return err
	}
	*d = Decoder{
		schema:      s,
		buf:         buf,
		offset:      offset,
		block:       offset + HeaderSize,
		blockLength: blockLength,
		version:     h.Version(),
		pos:         offset + HeaderSize + blockLength,
	}
	return nil
}

func (d *Decoder) Version() uint16  { return d.version }
func (d *Decoder) BlockLength() int { return d.blockLength }

// Len returns the number of bytes consumed so far, header included.
func (d *Decoder) Len() int { return d.pos - d.offset }

// Uint returns the raw value of f, or its null value when the acting block
// predates f.
func (d *Decoder) Uint(f *Field) uint64 {
	if f.end() > d.blockLength {
		return f.Type.Null()
	}
	return getRaw(d.buf[d.block+f.Offset:], f.Type)
}

func (d *Decoder) Int(f *Field) int64 { return signed(f.Type, d.Uint(f)) }

func (d *Decoder) Float(f *Field) float64 { return math.Float64frombits(d.Uint(f)) }

func (d *Decoder) IsNull(f *Field) bool { return d.Uint(f) == f.Type.Null() }

// VarData returns the next var data field.
func (d *Decoder) VarData() ([]byte, error) {
	groups := len(d.schema.Groups)
	if d.next < groups || d.next >= groups+len(d.schema.VarData) {
		return nil, ErrFieldOrder
	}
	if err := need(d.pos, 1, len(d.buf)); err != nil {
		return nil, err
	}
	n := int(d.buf[d.pos])
	if n > MaxVarDataLength {
		return nil, fmt.Errorf("%w: %s length %d", ErrMalformed, d.schema.VarData[d.next-groups], n)
	}
	if err := need(d.pos+1, n, len(d.buf)); err != nil {
		return nil, err
	}
	start := d.pos + 1
	d.pos = start + n
	d.next++
	return d.buf[start:d.pos:d.pos], nil
}

// Group opens the next group. A null count reads as an empty group.
func (d *Decoder) Group(g *Group) (GroupReader, error) {
	if d.next >= len(d.schema.Groups) || d.schema.Groups[d.next] != g {
		return GroupReader{}, ErrFieldOrder
	}
	if err := need(d.pos, GroupHeaderSize, len(d.buf)); err != nil {
		return GroupReader{}, err
	}
	blockLength := int(getRaw(d.buf[d.pos:], Uint16))
	count := int(d.buf[d.pos+2])
	if count == int(NullUint8) {
		count = 0
	}
	if err := need(d.pos+GroupHeaderSize, count*blockLength, len(d.buf)); err != nil {
		return GroupReader{}, err
	}
	r := GroupReader{
		buf:         d.buf,
		first:       d.pos + GroupHeaderSize,
		blockLength: blockLength,
		count:       count,
		elem:        -1,
	}
	d.pos += GroupHeaderSize + count*blockLength
	d.next++
	return r, nil
}

// GroupReader iterates the elements of a group exactly once, forward only.
type GroupReader struct {
	buf         []byte
	first       int
	blockLength int
	count       int
	index       int
	elem        int
}

func (r *GroupReader) Count() int { return r.count }

// Next advances to the next element and reports whether there is one.
func (r *GroupReader) Next() bool {
	if r.index >= r.count {
		return false
	}
	r.elem = r.first + r.index*r.blockLength
	r.index++
	return true
}

// Consumed returns how many bytes of elements have been iterated.
func (r *GroupReader) Consumed() int { return r.index * r.blockLength }

func (r *GroupReader) Uint(f *Field) uint64 {
	if f.end() > r.blockLength {
		return f.Type.Null()
	}
	return getRaw(r.buf[r.elem+f.Offset:], f.Type)
}

func (r *GroupReader) Int(f *Field) int64 { return signed(f.Type, r.Uint(f)) }

func (r *GroupReader) Float(f *Field) float64 { return math.Float64frombits(r.Uint(f)) }
