package omm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefresh(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	fields := []Field{
		{FID: FidHigh1, Value: Real{Mantissa: 312500, Exponent: -4}},
		{FID: FidLow1, Value: Real{Mantissa: 300000, Exponent: -4}},
		{FID: FidOpenPrc, Value: BlankReal()},
		{FID: FidAcVol1, Value: Real{Mantissa: 1200}},
	}
	dst := make([]byte, 254)
	n, err := WriteRefresh(dst, 14, 7, 1, []byte("MSFT.O"), []byte{0x03, 0x01}, fields)
	require.NoError(t, err)

	var m Msg
	require.NoError(t, m.Unmarshal(dst[:n]))
	a.Equal(ClassRefresh, m.Class)
	a.Equal(DomainMarketPrice, m.Domain)
	a.EqualValues(7, m.StreamID)
	a.EqualValues(14, m.RWFVersion)
	a.Equal(StreamNonStreaming, m.StreamState)
	a.Equal(DataOK, m.DataState)
	a.Equal(CodeNone, m.Code)
	a.NotZero(m.Flags & FlagSolicited)
	a.NotZero(m.Flags & FlagRefreshComplete)
	a.NotZero(m.Flags & FlagDoNotCache)
	a.Equal("MSFT.O", string(m.Key.Name))
	a.EqualValues(1, m.Key.ServiceID)
	a.Equal(NameTypeRIC, m.Key.NameType)
	a.Equal([]byte{0x03, 0x01}, m.PermData)
	a.Equal(fields, m.Fields)

	high, ok := m.Field(FidHigh1)
	a.True(ok)
	a.InDelta(31.25, high.Float(), 1e-9)
	open, ok := m.Field(FidOpenPrc)
	a.True(ok)
	a.True(open.Blank)
	_, ok = m.Field(FidNumMoves)
	a.False(ok)

	a.Contains(m.String(), "HIGH_1=31.25")
	a.Contains(m.String(), "OPEN_PRC=<blank>")
}

func TestClose(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		useAttrib  bool
		state      StreamState
		code       StatusCode
		text       string
		expectName string
	}{
		{"malformed", false, StreamClosed, CodeNotFound, "Malformed request.", ""},
		{"not found with key", true, StreamClosed, CodeNotFound, "Not found in SearchEngine.", "VOD.L"},
		{"internal", true, StreamClosedRecover, CodeError, "Internal error.", "VOD.L"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a := assert.New(t)

			dst := make([]byte, 254)
			n, err := WriteClose(dst, 14, -3, 2, []byte("VOD.L"), tc.useAttrib, tc.state, tc.code, tc.text)
			require.NoError(t, err)

			var m Msg
			require.NoError(t, m.Unmarshal(dst[:n]))
			a.Equal(ClassStatus, m.Class)
			a.EqualValues(-3, m.StreamID)
			a.Equal(tc.state, m.StreamState)
			a.Equal(tc.code, m.Code)
			a.Equal(tc.text, m.Text)
			a.Equal(tc.expectName, string(m.Key.Name))
			a.Equal(tc.useAttrib, m.Flags&FlagHasKey != 0)
		})
	}
}

func TestEncodeTooLarge(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	dst := make([]byte, 254)
	for i := range dst {
		dst[i] = 0xEE
	}
	name := []byte(strings.Repeat("x", 250))
	_, err := WriteClose(dst, 14, 1, 1, name, true, StreamClosed, CodeNotFound, "Malformed request.")
	a.ErrorIs(err, ErrTooLarge)

	n, err := WriteClose(dst, 14, 1, 1, name, false, StreamClosed, CodeNotFound, "Malformed request.")
	a.NoError(err)
	a.Less(n, 64)
}

func TestUnmarshalMalformed(t *testing.T) {
	t.Parallel()

	dst := make([]byte, 254)
	n, err := WriteRefresh(dst, 14, 7, 1, []byte("MSFT.O"), nil, []Field{{FID: FidNumMoves, Value: Real{Mantissa: 3}}})
	require.NoError(t, err)

	var m Msg
	assert.ErrorIs(t, m.Unmarshal(dst[:n-1]), ErrMalformed)
	assert.ErrorIs(t, m.Unmarshal([]byte{0xFF}), ErrMalformed)
}

func TestStrings(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	a.Equal("CLOSED_RECOVER", StreamClosedRecover.String())
	a.Equal("NOT_FOUND", CodeNotFound.String())
	a.Equal("OK", DataOK.String())
	a.Equal("STATUS", ClassStatus.String())
	a.Equal("HST_CLOSE", FieldName(FidHstClose))
	a.Equal("999", FieldName(999))
}
