package message

import (
	"fmt"

	"github.com/steve-o/hitsuji/sbe"
)

var ReplySchema = mustValid(&sbe.Schema{
	Name:        "Reply",
	TemplateID:  ReplyTemplateID,
	SchemaID:    SchemaID,
	Version:     SchemaVersion,
	BlockLength: 12,
	Fields: []sbe.Field{
		{Name: "handle", Type: sbe.Uint64, Offset: 0},
		{Name: "token", Type: sbe.Int32, Offset: 8},
	},
	VarData: []string{"rsslBuffer"},
})

var (
	repHandle = ReplySchema.MustField("handle")
	repToken  = ReplySchema.MustField("token")
)

// Reply carries an encoded payload back to the connection identified by
// Handle, for the stream identified by Token.
type Reply struct {
	Handle  uint64
	Token   int32
	Payload []byte
}

func (r *Reply) Size() int { return ReplySchema.Length(len(r.Payload)) }

func (r *Reply) MarshalTo(b []byte) (int, error) {
	var e sbe.Encoder
	if err := e.Wrap(ReplySchema, b, 0); err != nil {
		return 0, err
	}
	e.PutUint(repHandle, r.Handle)
	e.PutInt(repToken, int64(r.Token))
	if err := e.PutVarData(r.Payload); err != nil {
		return 0, fmt.Errorf("rsslBuffer: %w", err)
	}
	return e.Len(), nil
}

// Marshal encodes r into a new buffer of exactly Size bytes.
func (r *Reply) Marshal() ([]byte, error) {
	if len(r.Payload) > sbe.MaxVarDataLength {
		return nil, fmt.Errorf("rsslBuffer: %w", sbe.ErrVarDataTooLong)
	}
	b := make([]byte, r.Size())
	n, err := r.MarshalTo(b)
	if err != nil {
		return nil, err
	}
	return b[:n], nil
}

func (r *Reply) Unmarshal(b []byte) error {
	var d sbe.Decoder
	if err := d.Wrap(ReplySchema, b, 0); err != nil {
		return err
	}
	r.Handle = d.Uint(repHandle)
	r.Token = int32(d.Int(repToken))
	payload, err := d.VarData()
	if err != nil {
		return fmt.Errorf("rsslBuffer: %w", err)
	}
	r.Payload = payload
	return nil
}
