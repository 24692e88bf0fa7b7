// Package message holds the wire schemas exchanged between the provider and
// the workers, and the tick chunks of the time-series store.
package message

import (
	"errors"
	"fmt"

	"github.com/steve-o/hitsuji/sbe"
)

const (
	SchemaID      = 1
	SchemaVersion = 0

	RequestTemplateID   = 1
	ReplyTemplateID     = 2
	TickChunkTemplateID = 3
)

var ErrUnknownTemplate = errors.New("message: unknown template")

// TemplateID returns the template of an encoded message of this schema.
func TemplateID(b []byte) (uint16, error) {
	h, err := sbe.PeekHeader(b)
	if err != nil {
		return 0, err
	}
	if h.SchemaID() != SchemaID {
		return 0, fmt.Errorf("%w: schemaId=%d", ErrUnknownTemplate, h.SchemaID())
	}
	return h.TemplateID(), nil
}

func mustValid(s *sbe.Schema) *sbe.Schema {
	if err := s.Validate(); err != nil {
		panic(err)
	}
	return s
}
