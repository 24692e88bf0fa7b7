package sbe

import (
	"errors"
	"fmt"
)

var (
	ErrBufferTooShort = errors.New("sbe: buffer too short")
	ErrVarDataTooLong = errors.New("sbe: var data longer than 254 bytes")
	ErrGroupTooLarge  = errors.New("sbe: group count larger than 254")
	ErrGroupOverflow  = errors.New("sbe: group element cursor past count")
	ErrFieldOrder     = errors.New("sbe: group or var data accessed out of declaration order")
	ErrMalformed      = errors.New("sbe: malformed message")
)

// BoundsError reports an access of Need bytes at Offset in a buffer of Len
// bytes. It matches ErrBufferTooShort with errors.Is.
type BoundsError struct {
	Offset int
	Need   int
	Len    int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("sbe: buffer too short: need %d bytes at offset %d, have %d", e.Need, e.Offset, e.Len)
}

func (e *BoundsError) Unwrap() error { return ErrBufferTooShort }

// TemplateError is returned when a decoder is wrapped around a message of
// another template or schema.
type TemplateError struct {
	Schema     string
	TemplateID uint16
	SchemaID   uint16
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("sbe: %s: unexpected templateId=%d schemaId=%d", e.Schema, e.TemplateID, e.SchemaID)
}

func (e *TemplateError) Unwrap() error { return ErrMalformed }

func need(offset, n, l int) error {
	if offset < 0 || n < 0 || offset+n > l {
		return &BoundsError{Offset: offset, Need: n, Len: l}
	}
	return nil
}
