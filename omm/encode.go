package omm

import (
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	numClass       protowire.Number = 1
	numDomain      protowire.Number = 2
	numStreamID    protowire.Number = 3
	numRWFVersion  protowire.Number = 4
	numStreamState protowire.Number = 5
	numDataState   protowire.Number = 6
	numCode        protowire.Number = 7
	numText        protowire.Number = 8
	numFlags       protowire.Number = 9
	numKey         protowire.Number = 10
	numPermData    protowire.Number = 11
	numField       protowire.Number = 12

	numKeyServiceID protowire.Number = 1
	numKeyNameType  protowire.Number = 2
	numKeyName      protowire.Number = 3

	numFieldID       protowire.Number = 1
	numFieldMantissa protowire.Number = 2
	numFieldExponent protowire.Number = 3
	numFieldBlank    protowire.Number = 4
)

// AppendTo appends the encoded message to b.
func (m *Msg) AppendTo(b []byte) []byte {
	b = appendVarint(b, numClass, uint64(m.Class))
	b = appendVarint(b, numDomain, uint64(m.Domain))
	b = appendVarint(b, numStreamID, protowire.EncodeZigZag(int64(m.StreamID)))
	b = appendVarint(b, numRWFVersion, uint64(m.RWFVersion))
	b = appendVarint(b, numStreamState, uint64(m.StreamState))
	b = appendVarint(b, numDataState, uint64(m.DataState))
	if m.Code != CodeNone {
		b = appendVarint(b, numCode, uint64(m.Code))
	}
	if m.Text != "" {
		b = protowire.AppendTag(b, numText, protowire.BytesType)
		b = protowire.AppendString(b, m.Text)
	}
	b = appendVarint(b, numFlags, uint64(m.Flags))
	if m.Flags&FlagHasKey != 0 {
		b = protowire.AppendTag(b, numKey, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(m.Key.size()))
		b = m.Key.appendTo(b)
	}
	if len(m.PermData) != 0 {
		b = protowire.AppendTag(b, numPermData, protowire.BytesType)
		b = protowire.AppendBytes(b, m.PermData)
	}
	for i := range m.Fields {
		f := &m.Fields[i]
		b = protowire.AppendTag(b, numField, protowire.BytesType)
		b = protowire.AppendVarint(b, uint64(f.size()))
		b = f.appendTo(b)
	}
	return b
}

// EncodeTo encodes m into dst and returns the number of bytes written. It
// fails with ErrTooLarge when m does not fit.
func (m *Msg) EncodeTo(dst []byte) (int, error) {
	b := m.AppendTo(dst[:0:len(dst)])
	if len(b) > len(dst) {
		return 0, ErrTooLarge
	}
	return len(b), nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func sizeVarint(num protowire.Number, v uint64) int {
	return protowire.SizeTag(num) + protowire.SizeVarint(v)
}

func (k *Key) size() int {
	return sizeVarint(numKeyServiceID, uint64(k.ServiceID)) +
		sizeVarint(numKeyNameType, uint64(k.NameType)) +
		protowire.SizeTag(numKeyName) + protowire.SizeBytes(len(k.Name))
}

func (k *Key) appendTo(b []byte) []byte {
	b = appendVarint(b, numKeyServiceID, uint64(k.ServiceID))
	b = appendVarint(b, numKeyNameType, uint64(k.NameType))
	b = protowire.AppendTag(b, numKeyName, protowire.BytesType)
	return protowire.AppendBytes(b, k.Name)
}

func (f *Field) size() int {
	n := sizeVarint(numFieldID, protowire.EncodeZigZag(int64(f.FID)))
	if f.Value.Blank {
		return n + sizeVarint(numFieldBlank, 1)
	}
	return n + sizeVarint(numFieldMantissa, protowire.EncodeZigZag(f.Value.Mantissa)) +
		sizeVarint(numFieldExponent, protowire.EncodeZigZag(int64(f.Value.Exponent)))
}

func (f *Field) appendTo(b []byte) []byte {
	b = appendVarint(b, numFieldID, protowire.EncodeZigZag(int64(f.FID)))
	if f.Value.Blank {
		return appendVarint(b, numFieldBlank, 1)
	}
	b = appendVarint(b, numFieldMantissa, protowire.EncodeZigZag(f.Value.Mantissa))
	return appendVarint(b, numFieldExponent, protowire.EncodeZigZag(int64(f.Value.Exponent)))
}

// WriteClose encodes the status message that closes a snapshot request. The
// message key is only carried when the consumer asked for attribute info in
// updates.
func WriteClose(
	dst []byte,
	rwfVersion uint16,
	token int32,
	serviceID uint16,
	itemName []byte,
	useAttribInfoInUpdates bool,
	state StreamState,
	code StatusCode,
	text string,
) (int, error) {
	m := Msg{
		Class:       ClassStatus,
		Domain:      DomainMarketPrice,
		StreamID:    token,
		RWFVersion:  rwfVersion,
		StreamState: state,
		DataState:   DataSuspect,
		Code:        code,
		Text:        text,
	}
	if useAttribInfoInUpdates {
		m.Flags |= FlagHasKey
		m.Key = Key{ServiceID: serviceID, NameType: NameTypeRIC, Name: itemName}
	}
	return m.EncodeTo(dst)
}

// WriteRefresh encodes a complete, non-streaming, solicited refresh carrying
// fields.
func WriteRefresh(
	dst []byte,
	rwfVersion uint16,
	token int32,
	serviceID uint16,
	itemName []byte,
	permData []byte,
	fields []Field,
) (int, error) {
	m := Msg{
		Class:       ClassRefresh,
		Domain:      DomainMarketPrice,
		StreamID:    token,
		RWFVersion:  rwfVersion,
		StreamState: StreamNonStreaming,
		DataState:   DataOK,
		Flags:       FlagHasKey | FlagSolicited | FlagRefreshComplete | FlagDoNotCache | FlagClearCache,
		Key:         Key{ServiceID: serviceID, NameType: NameTypeRIC, Name: itemName},
		PermData:    permData,
		Fields:      fields,
	}
	return m.EncodeTo(dst)
}
