package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/steve-o/hitsuji/analytic"
)

func TestParseItem(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		ok   bool
		want parsedItem
	}{
		{"MSFT.O", true, parsedItem{symbol: "MSFT.O", kind: analytic.KindBar}},
		{"EUR=", true, parsedItem{symbol: "EUR=", kind: analytic.KindBar}},
		{".SPX#close", true, parsedItem{symbol: ".SPX", kind: analytic.KindClose}},
		{"a/b/VOD.L?open=1#rollup", true, parsedItem{symbol: "VOD.L", kind: analytic.KindRollupBar, query: "open=1", hasQuery: true}},
		{"VOD.L?", true, parsedItem{symbol: "VOD.L", kind: analytic.KindBar, hasQuery: true}},
		{"VOD.L#test", true, parsedItem{symbol: "VOD.L", kind: analytic.KindTest}},
		{"", false, parsedItem{}},
		{"VOD.L/", false, parsedItem{}},
		{"VOD L", false, parsedItem{}},
		{"VOD.L#vwap", false, parsedItem{}},
		{"%zz", false, parsedItem{}},
	}
	for _, tc := range tests {
		got, ok := parseItem([]byte(tc.in))
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "computing", Computing.String())
	assert.Equal(t, "terminated", Terminated.String())
	assert.Equal(t, "State(42)", State(42).String())
}
