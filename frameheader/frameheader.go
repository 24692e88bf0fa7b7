// Package frameheader frames messages on a byte stream: a little-endian u32
// payload length followed by the payload.
package frameheader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
)

const Size = 4

var ErrFrameTooLarge = errors.New("frame too large")

type FrameHeader []byte

func NewFrameHeader() FrameHeader { return make([]byte, Size) }

func (f FrameHeader) Length() int { return int(binary.LittleEndian.Uint32(f)) }

func (f FrameHeader) SetLength(l int) { binary.LittleEndian.PutUint32(f, uint32(l)) }

func (f FrameHeader) String() string { return "length=" + strconv.Itoa(f.Length()) }

// AppendFrame appends the header and payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// WriteFrame writes one frame with a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	_, err := w.Write(AppendFrame(make([]byte, 0, Size+len(payload)), payload))
	return err
}

type Status int

const (
	StatusFrameDone Status = iota
	StatusNeedMore
)

// Framer splits filled chunks of a stream into frames of at most max payload
// bytes. A payload returned by Next is valid until the following Next or
// Fill.
type Framer struct {
	max     int
	header  FrameHeader
	partial []byte
	need    int
	buf     []byte
}

func NewFramer(max int) *Framer {
	return &Framer{max: max, header: make(FrameHeader, 0, Size)}
}

func (p *Framer) Fill(b []byte) { p.buf = b }

// Next returns the next complete frame payload, or StatusNeedMore once the
// filled chunk is consumed.
func (p *Framer) Next() ([]byte, Status, error) {
	if len(p.header) != Size {
		needToFill := Size - len(p.header)
		if len(p.buf) < needToFill {
			p.header = append(p.header, p.buf...)
			p.buf = nil
			return nil, StatusNeedMore, nil
		}
		p.header = append(p.header, p.buf[:needToFill]...)
		p.buf = p.buf[needToFill:]
		p.need = p.header.Length()
		if p.need > p.max {
			return nil, StatusNeedMore, fmt.Errorf("%w: %s, max %d", ErrFrameTooLarge, p.header, p.max)
		}
		p.partial = p.partial[:0]
	}

	// Whole payload inside the chunk: no copy.
	if len(p.partial) == 0 && len(p.buf) >= p.need {
		payload := p.buf[:p.need]
		p.buf = p.buf[p.need:]
		p.header = p.header[:0]
		return payload, StatusFrameDone, nil
	}

	take := min(len(p.buf), p.need-len(p.partial))
	p.partial = append(p.partial, p.buf[:take]...)
	p.buf = p.buf[take:]
	if len(p.partial) < p.need {
		return nil, StatusNeedMore, nil
	}
	p.header = p.header[:0]
	return p.partial, StatusFrameDone, nil
}
