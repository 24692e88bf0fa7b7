package sbe

import "math"

// Encoder writes one message into a caller supplied buffer. The zero value
// is ready to Wrap and may be reused for any number of messages.
type Encoder struct {
	schema *Schema
	buf    []byte
	offset int
	block  int
	pos    int
	next   int
}

// Wrap writes the header of s at offset and positions the cursor after the
// root block. Nothing is written when buf cannot hold header and block.
func (e *Encoder) Wrap(s *Schema, buf []byte, offset int) error {
	if err := need(offset, HeaderSize+s.BlockLength, len(buf)); err != nil {
		return err
	}
	MessageHeader(buf[offset:]).Fill(uint16(s.BlockLength), s.TemplateID, s.SchemaID, s.Version)
	*e = Encoder{
		schema: s,
		buf:    buf,
		offset: offset,
		block:  offset + HeaderSize,
		pos:    offset + HeaderSize + s.BlockLength,
	}
	return nil
}

// Len returns the number of bytes written so far, header included.
func (e *Encoder) Len() int { return e.pos - e.offset }

// Bytes returns the encoded message.
func (e *Encoder) Bytes() []byte { return e.buf[e.offset:e.pos] }

func (e *Encoder) PutUint(f *Field, v uint64) {
	putRaw(e.buf[e.block+f.Offset:], f.Type, v)
}

func (e *Encoder) PutInt(f *Field, v int64) {
	putRaw(e.buf[e.block+f.Offset:], f.Type, uint64(v))
}

func (e *Encoder) PutFloat(f *Field, v float64) {
	putRaw(e.buf[e.block+f.Offset:], f.Type, math.Float64bits(v))
}

func (e *Encoder) PutNull(f *Field) {
	putRaw(e.buf[e.block+f.Offset:], f.Type, f.Type.Null())
}

// PutVarData appends the next var data field. Length and space are checked
// before anything is written.
func (e *Encoder) PutVarData(p []byte) error {
	groups := len(e.schema.Groups)
	if e.next < groups || e.next >= groups+len(e.schema.VarData) {
		return ErrFieldOrder
	}
	if len(p) > MaxVarDataLength {
		return ErrVarDataTooLong
	}
	if err := need(e.pos, 1+len(p), len(e.buf)); err != nil {
		return err
	}
	e.buf[e.pos] = byte(len(p))
	copy(e.buf[e.pos+1:], p)
	e.pos += 1 + len(p)
	e.next++
	return nil
}

// PutVarString is PutVarData for strings.
func (e *Encoder) PutVarString(s string) error {
	groups := len(e.schema.Groups)
	if e.next < groups || e.next >= groups+len(e.schema.VarData) {
		return ErrFieldOrder
	}
	if len(s) > MaxVarDataLength {
		return ErrVarDataTooLong
	}
	if err := need(e.pos, 1+len(s), len(e.buf)); err != nil {
		return err
	}
	e.buf[e.pos] = byte(len(s))
	copy(e.buf[e.pos+1:], s)
	e.pos += 1 + len(s)
	e.next++
	return nil
}

// OpenGroup writes the header of g with a fixed count and reserves space for
// all elements. Elements are then filled through the returned writer.
func (e *Encoder) OpenGroup(g *Group, count int) (GroupWriter, error) {
	if e.next >= len(e.schema.Groups) || e.schema.Groups[e.next] != g {
		return GroupWriter{}, ErrFieldOrder
	}
	if count < 0 || count > MaxGroupCount {
		return GroupWriter{}, ErrGroupTooLarge
	}
	size := g.Length(count)
	if err := need(e.pos, size, len(e.buf)); err != nil {
		return GroupWriter{}, err
	}
	start := e.pos
	clear(e.buf[start : start+size])
	putRaw(e.buf[start:], Uint16, uint64(g.BlockLength))
	e.buf[start+2] = byte(count)
	e.pos += size
	e.next++
	return GroupWriter{
		buf:   e.buf,
		group: g,
		first: start + GroupHeaderSize,
		count: count,
		elem:  -1,
	}, nil
}

// GroupWriter fills the elements of an open group in order.
type GroupWriter struct {
	buf   []byte
	group *Group
	first int
	count int
	index int
	elem  int
}

// Next moves the cursor to the next element.
func (w *GroupWriter) Next() error {
	if w.index >= w.count {
		return ErrGroupOverflow
	}
	w.elem = w.first + w.index*w.group.BlockLength
	w.index++
	return nil
}

func (w *GroupWriter) Count() int { return w.count }

func (w *GroupWriter) PutUint(f *Field, v uint64) {
	putRaw(w.buf[w.elem+f.Offset:], f.Type, v)
}

func (w *GroupWriter) PutInt(f *Field, v int64) {
	putRaw(w.buf[w.elem+f.Offset:], f.Type, uint64(v))
}

func (w *GroupWriter) PutFloat(f *Field, v float64) {
	putRaw(w.buf[w.elem+f.Offset:], f.Type, math.Float64bits(v))
}
