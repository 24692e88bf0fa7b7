package sbe

import (
	"encoding/binary"
	"strconv"
)

// HeaderSize is the encoded size of MessageHeader.
const HeaderSize = 8

// MessageHeader prefixes every message: blockLength, templateId, schemaId
// and version, each an uint16 little-endian.
type MessageHeader []byte

func NewMessageHeader() MessageHeader { return make([]byte, HeaderSize) }

func (h MessageHeader) Fill(blockLength, templateID, schemaID, version uint16) {
	_ = h[7]
	binary.LittleEndian.PutUint16(h[0:], blockLength)
	binary.LittleEndian.PutUint16(h[2:], templateID)
	binary.LittleEndian.PutUint16(h[4:], schemaID)
	binary.LittleEndian.PutUint16(h[6:], version)
}

func (h MessageHeader) BlockLength() uint16 { return binary.LittleEndian.Uint16(h[0:]) }
func (h MessageHeader) SetBlockLength(v uint16) {
	binary.LittleEndian.PutUint16(h[0:], v)
}

func (h MessageHeader) TemplateID() uint16 { return binary.LittleEndian.Uint16(h[2:]) }
func (h MessageHeader) SetTemplateID(v uint16) {
	binary.LittleEndian.PutUint16(h[2:], v)
}

func (h MessageHeader) SchemaID() uint16 { return binary.LittleEndian.Uint16(h[4:]) }
func (h MessageHeader) SetSchemaID(v uint16) {
	binary.LittleEndian.PutUint16(h[4:], v)
}

func (h MessageHeader) Version() uint16 { return binary.LittleEndian.Uint16(h[6:]) }
func (h MessageHeader) SetVersion(v uint16) {
	binary.LittleEndian.PutUint16(h[6:], v)
}

func (h MessageHeader) String() string {
	return "blockLength=" + strconv.FormatUint(uint64(h.BlockLength()), 10) +
		"/ templateId=" + strconv.FormatUint(uint64(h.TemplateID()), 10) +
		"/ schemaId=" + strconv.FormatUint(uint64(h.SchemaID()), 10) +
		"/ version=" + strconv.FormatUint(uint64(h.Version()), 10)
}

// PeekHeader returns the header at the start of b without validating the body.
func PeekHeader(b []byte) (MessageHeader, error) {
	if len(b) < HeaderSize {
		return nil, &BoundsError{Offset: 0, Need: HeaderSize, Len: len(b)}
	}
	return MessageHeader(b[:HeaderSize]), nil
}
