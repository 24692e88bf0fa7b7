package message

import (
	"fmt"

	"github.com/steve-o/hitsuji/sbe"
)

// Flags of a Request. Bits other than the named ones are preserved.
type Flags uint8

const (
	FlagAbort                  Flags = 1 << 0
	FlagUseAttribInfoInUpdates Flags = 1 << 1
)

func (f Flags) Abort() bool                  { return f&FlagAbort != 0 }
func (f Flags) UseAttribInfoInUpdates() bool { return f&FlagUseAttribInfoInUpdates != 0 }

func (f Flags) With(flag Flags, on bool) Flags {
	if on {
		return f | flag
	}
	return f &^ flag
}

var RequestSchema = mustValid(&sbe.Schema{
	Name:        "Request",
	TemplateID:  RequestTemplateID,
	SchemaID:    SchemaID,
	Version:     SchemaVersion,
	BlockLength: 17,
	Fields: []sbe.Field{
		{Name: "handle", Type: sbe.Uint64, Offset: 0},
		{Name: "rwfVersion", Type: sbe.Uint16, Offset: 8},
		{Name: "token", Type: sbe.Int32, Offset: 10},
		{Name: "serviceId", Type: sbe.Uint16, Offset: 14},
		{Name: "flags", Type: sbe.Uint8, Offset: 16},
	},
	VarData: []string{"itemName"},
})

var (
	reqHandle     = RequestSchema.MustField("handle")
	reqRWFVersion = RequestSchema.MustField("rwfVersion")
	reqToken      = RequestSchema.MustField("token")
	reqServiceID  = RequestSchema.MustField("serviceId")
	reqFlags      = RequestSchema.MustField("flags")
)

// Request asks a worker for one snapshot. ItemName aliases the decoded
// buffer after Unmarshal.
type Request struct {
	Handle     uint64
	RWFVersion uint16
	Token      int32
	ServiceID  uint16
	Flags      Flags
	ItemName   []byte
}

// NewAbort returns the control request that stops one worker.
func NewAbort() Request {
	return Request{
		Handle:     sbe.NullUint64,
		RWFVersion: sbe.NullUint16,
		Token:      sbe.NullInt32,
		ServiceID:  sbe.NullUint16,
		Flags:      FlagAbort,
	}
}

func (r *Request) Size() int { return RequestSchema.Length(len(r.ItemName)) }

func (r *Request) MarshalTo(b []byte) (int, error) {
	var e sbe.Encoder
	if err := e.Wrap(RequestSchema, b, 0); err != nil {
		return 0, err
	}
	e.PutUint(reqHandle, r.Handle)
	e.PutUint(reqRWFVersion, uint64(r.RWFVersion))
	e.PutInt(reqToken, int64(r.Token))
	e.PutUint(reqServiceID, uint64(r.ServiceID))
	e.PutUint(reqFlags, uint64(r.Flags))
	if err := e.PutVarData(r.ItemName); err != nil {
		return 0, fmt.Errorf("itemName: %w", err)
	}
	return e.Len(), nil
}

// Marshal encodes r into a new buffer of exactly Size bytes.
func (r *Request) Marshal() ([]byte, error) {
	if len(r.ItemName) > sbe.MaxVarDataLength {
		return nil, fmt.Errorf("itemName: %w", sbe.ErrVarDataTooLong)
	}
	b := make([]byte, r.Size())
	n, err := r.MarshalTo(b)
	if err != nil {
		return nil, err
	}
	return b[:n], nil
}

func (r *Request) Unmarshal(b []byte) error {
	var d sbe.Decoder
	if err := d.Wrap(RequestSchema, b, 0); err != nil {
		return err
	}
	r.Handle = d.Uint(reqHandle)
	r.RWFVersion = uint16(d.Uint(reqRWFVersion))
	r.Token = int32(d.Int(reqToken))
	r.ServiceID = uint16(d.Uint(reqServiceID))
	r.Flags = Flags(d.Uint(reqFlags))
	itemName, err := d.VarData()
	if err != nil {
		return fmt.Errorf("itemName: %w", err)
	}
	r.ItemName = itemName
	return nil
}
