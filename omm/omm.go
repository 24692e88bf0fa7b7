// Package omm encodes the snapshot payload carried opaquely inside a Reply:
// a market price refresh or a status close, laid out with protobuf wire
// primitives.
package omm

import (
	"errors"
	"math"
	"strconv"
)

var (
	ErrTooLarge  = errors.New("omm: message larger than output buffer")
	ErrMalformed = errors.New("omm: malformed message")
)

type MsgClass uint8

const (
	ClassRefresh MsgClass = iota + 1
	ClassStatus
)

func (c MsgClass) String() string {
	switch c {
	case ClassRefresh:
		return "REFRESH"
	case ClassStatus:
		return "STATUS"
	}
	return "UNKNOWN(" + strconv.Itoa(int(c)) + ")"
}

const DomainMarketPrice uint8 = 6

const NameTypeRIC uint8 = 1

type StreamState uint8

const (
	StreamUnspecified StreamState = iota
	StreamOpen
	StreamNonStreaming
	StreamClosedRecover
	StreamClosed
	StreamRedirected
)

func (s StreamState) String() string {
	switch s {
	case StreamUnspecified:
		return "UNSPECIFIED"
	case StreamOpen:
		return "OPEN"
	case StreamNonStreaming:
		return "NON_STREAMING"
	case StreamClosedRecover:
		return "CLOSED_RECOVER"
	case StreamClosed:
		return "CLOSED"
	case StreamRedirected:
		return "REDIRECTED"
	}
	return "UNKNOWN(" + strconv.Itoa(int(s)) + ")"
}

type DataState uint8

const (
	DataNoChange DataState = iota
	DataOK
	DataSuspect
)

func (s DataState) String() string {
	switch s {
	case DataNoChange:
		return "NO_CHANGE"
	case DataOK:
		return "OK"
	case DataSuspect:
		return "SUSPECT"
	}
	return "UNKNOWN(" + strconv.Itoa(int(s)) + ")"
}

type StatusCode uint8

const (
	CodeNone StatusCode = iota
	CodeNotFound
	CodeTimeout
	CodeNotAuthorized
	CodeInvalidArgument
	CodeError
)

func (c StatusCode) String() string {
	switch c {
	case CodeNone:
		return "NONE"
	case CodeNotFound:
		return "NOT_FOUND"
	case CodeTimeout:
		return "TIMEOUT"
	case CodeNotAuthorized:
		return "NOT_AUTHORIZED"
	case CodeInvalidArgument:
		return "INVALID_ARGUMENT"
	case CodeError:
		return "ERROR"
	}
	return "UNKNOWN(" + strconv.Itoa(int(c)) + ")"
}

// Status texts of the closes sent to consumers.
const (
	TextMalformed = "Malformed request."
	TextNotFound  = "Not found in SearchEngine."
	TextInternal  = "Internal error."
)

type Flags uint16

const (
	FlagHasKey Flags = 1 << iota
	FlagSolicited
	FlagRefreshComplete
	FlagDoNotCache
	FlagClearCache
)

// Field ids of the snapshot bar.
const (
	FidHigh1    int16 = 12
	FidLow1     int16 = 13
	FidOpenPrc  int16 = 19
	FidHstClose int16 = 21
	FidAcVol1   int16 = 32
	FidNumMoves int16 = 77
)

var fieldNames = map[int16]string{
	FidHigh1:    "HIGH_1",
	FidLow1:     "LOW_1",
	FidOpenPrc:  "OPEN_PRC",
	FidHstClose: "HST_CLOSE",
	FidAcVol1:   "ACVOL_1",
	FidNumMoves: "NUM_MOVES",
}

func FieldName(fid int16) string {
	if name, ok := fieldNames[fid]; ok {
		return name
	}
	return strconv.Itoa(int(fid))
}

// Real is a decimal value mantissa * 10^Exponent.
type Real struct {
	Mantissa int64
	Exponent int8
	Blank    bool
}

func BlankReal() Real { return Real{Blank: true} }

func (r Real) Float() float64 {
	if r.Blank {
		return math.NaN()
	}
	return float64(r.Mantissa) * math.Pow10(int(r.Exponent))
}

func (r Real) String() string {
	if r.Blank {
		return "<blank>"
	}
	return strconv.FormatFloat(r.Float(), 'f', -1, 64)
}

type Field struct {
	FID   int16
	Value Real
}

type Key struct {
	ServiceID uint16
	NameType  uint8
	Name      []byte
}

// Msg is a decoded or to-be-encoded payload. Name, Text and PermData alias
// the decoded buffer.
type Msg struct {
	Class       MsgClass
	Domain      uint8
	StreamID    int32
	RWFVersion  uint16
	StreamState StreamState
	DataState   DataState
	Code        StatusCode
	Text        string
	Flags       Flags
	Key         Key
	PermData    []byte
	Fields      []Field
}
