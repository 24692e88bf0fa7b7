package message

import (
	"bytes"
	"strings"
	"testing"

	"github.com/steve-o/hitsuji/sbe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLayout(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	req := Request{
		Handle:     42,
		RWFVersion: 14,
		Token:      7,
		ServiceID:  1,
		Flags:      FlagUseAttribInfoInUpdates,
		ItemName:   []byte("MSFT.O"),
	}
	b, err := req.Marshal()
	require.NoError(t, err)
	a.Len(b, sbe.HeaderSize+17+1+6)

	a.Equal([]byte{
		17, 0, 1, 0, 1, 0, 0, 0, // header
		42, 0, 0, 0, 0, 0, 0, 0, // handle
		14, 0, // rwfVersion
		7, 0, 0, 0, // token
		1, 0, // serviceId
		0x02, // flags
		6, 'M', 'S', 'F', 'T', '.', 'O',
	}, b)
}

func TestRequestRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []Request{
		{Handle: 1, RWFVersion: 14, Token: 1, ServiceID: 1, ItemName: []byte("MSFT.O")},
		{Handle: sbe.NullUint64 - 1, RWFVersion: sbe.MaxUint16, Token: sbe.MinInt32, ServiceID: 0, ItemName: []byte{}},
		{Handle: 7, Token: -1, Flags: 0xF0 | FlagUseAttribInfoInUpdates, ItemName: bytes.Repeat([]byte{'x'}, sbe.MaxVarDataLength)},
		NewAbort(),
	}
	for _, want := range tests {
		want := want
		b, err := want.Marshal()
		require.NoError(t, err)

		var got Request
		require.NoError(t, got.Unmarshal(b))
		if len(want.ItemName) == 0 {
			want.ItemName = got.ItemName[:0]
		}
		assert.Equal(t, want, got)
	}
}

func TestRequestFlags(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	f := Flags(0x80)
	f = f.With(FlagAbort, true)
	a.True(f.Abort())
	a.False(f.UseAttribInfoInUpdates())
	f = f.With(FlagAbort, false).With(FlagUseAttribInfoInUpdates, true)
	a.False(f.Abort())
	a.True(f.UseAttribInfoInUpdates())
	a.Equal(Flags(0x82), f)
}

func TestAbortRequest(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	abort := NewAbort()
	b, err := abort.Marshal()
	require.NoError(t, err)

	var got Request
	require.NoError(t, got.Unmarshal(b))
	a.True(got.Flags.Abort())
	a.Equal(sbe.NullUint64, got.Handle)
	a.Equal(sbe.NullInt32, got.Token)
	a.Empty(got.ItemName)
}

func TestRequestItemNameTooLong(t *testing.T) {
	t.Parallel()

	req := Request{ItemName: []byte(strings.Repeat("x", sbe.MaxVarDataLength+1))}
	_, err := req.Marshal()
	assert.ErrorIs(t, err, sbe.ErrVarDataTooLong)

	buf := make([]byte, 1024)
	_, err = req.MarshalTo(buf)
	assert.ErrorIs(t, err, sbe.ErrVarDataTooLong)
}

func TestRequestTruncated(t *testing.T) {
	t.Parallel()

	req := Request{Handle: 1, Token: 2, ItemName: []byte("VOD.L")}
	b, err := req.Marshal()
	require.NoError(t, err)
	for l := 0; l < len(b); l++ {
		var got Request
		assert.ErrorIs(t, got.Unmarshal(b[:l]), sbe.ErrBufferTooShort)
	}
	_, err = req.MarshalTo(make([]byte, len(b)-1))
	assert.ErrorIs(t, err, sbe.ErrBufferTooShort)
}

func TestReplyRoundTrip(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	want := Reply{Handle: 42, Token: 7, Payload: []byte{1, 2, 3}}
	b, err := want.Marshal()
	require.NoError(t, err)
	a.Equal(sbe.HeaderSize+12+1+3, len(b))

	id, err := TemplateID(b)
	a.NoError(err)
	a.EqualValues(ReplyTemplateID, id)

	var got Reply
	require.NoError(t, got.Unmarshal(b))
	a.Equal(want, got)

	var req Request
	a.ErrorIs(req.Unmarshal(b), sbe.ErrMalformed)
}

func TestReplyPayloadTooLong(t *testing.T) {
	t.Parallel()

	r := Reply{Payload: make([]byte, sbe.MaxVarDataLength+1)}
	_, err := r.Marshal()
	assert.ErrorIs(t, err, sbe.ErrVarDataTooLong)
}

func TestTickChunk(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	want := TickChunk{Symbol: "MSFT.O"}
	for i := 0; i < MaxTicksPerChunk; i++ {
		want.Ticks = append(want.Ticks, Tick{Time: int64(i) * 1e9, Price: 30 + float64(i)/100, Volume: uint64(i)})
	}
	b := make([]byte, want.Size()+10)
	n, err := want.MarshalTo(b)
	require.NoError(t, err)
	a.Equal(want.Size(), n)

	first, last, err := Span(b[:n])
	a.NoError(err)
	a.Equal(int64(0), first)
	a.Equal(int64(MaxTicksPerChunk-1)*1e9, last)

	var got TickChunk
	consumed, err := got.Unmarshal(b)
	require.NoError(t, err)
	a.Equal(n, consumed)
	a.Equal(want, got)

	want.Ticks = append(want.Ticks, Tick{})
	_, err = want.MarshalTo(make([]byte, want.Size()))
	a.ErrorIs(err, sbe.ErrGroupTooLarge)
}

func TestRequestCodecDoesNotAllocate(t *testing.T) {
	req := Request{Handle: 42, RWFVersion: 14, Token: 7, ServiceID: 1, ItemName: []byte("MSFT.O#rollup?open=1383728400")}
	buf := make([]byte, req.Size())
	var got Request

	allocs := testing.AllocsPerRun(100, func() {
		n, err := req.MarshalTo(buf)
		if err != nil || n != len(buf) {
			t.Fatalf("marshal: n=%d err=%v", n, err)
		}
		if err := got.Unmarshal(buf); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
	})
	assert.Zero(t, allocs)
	assert.Equal(t, req, got)
}
