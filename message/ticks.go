package message

import (
	"fmt"
	"math"

	"github.com/steve-o/hitsuji/sbe"
)

// MaxTicksPerChunk is the largest number of ticks a single chunk can carry.
const MaxTicksPerChunk = sbe.MaxGroupCount

var TicksGroup = &sbe.Group{
	Name:        "ticks",
	BlockLength: 24,
	Fields: []sbe.Field{
		{Name: "time", Type: sbe.Int64, Offset: 0},
		{Name: "price", Type: sbe.Float64, Offset: 8},
		{Name: "volume", Type: sbe.Uint64, Offset: 16},
	},
}

var TickChunkSchema = mustValid(&sbe.Schema{
	Name:        "TickChunk",
	TemplateID:  TickChunkTemplateID,
	SchemaID:    SchemaID,
	Version:     SchemaVersion,
	BlockLength: 16,
	Fields: []sbe.Field{
		{Name: "first", Type: sbe.Int64, Offset: 0},
		{Name: "last", Type: sbe.Int64, Offset: 8},
	},
	Groups:  []*sbe.Group{TicksGroup},
	VarData: []string{"symbol"},
})

var (
	chunkFirst = TickChunkSchema.MustField("first")
	chunkLast  = TickChunkSchema.MustField("last")
	tickTime   = TicksGroup.MustField("time")
	tickPrice  = TicksGroup.MustField("price")
	tickVolume = TicksGroup.MustField("volume")
)

// Tick is a single trade. Time is in unix nanoseconds.
type Tick struct {
	Time   int64
	Price  float64
	Volume uint64
}

// TickChunk is up to MaxTicksPerChunk ticks of one symbol in time order.
type TickChunk struct {
	Symbol string
	Ticks  []Tick
}

func (c *TickChunk) Size() int {
	return TickChunkSchema.Length(len(c.Symbol)) + TicksGroup.Length(len(c.Ticks))
}

func (c *TickChunk) MarshalTo(b []byte) (int, error) {
	var e sbe.Encoder
	if err := e.Wrap(TickChunkSchema, b, 0); err != nil {
		return 0, err
	}
	if len(c.Ticks) == 0 {
		e.PutNull(chunkFirst)
		e.PutNull(chunkLast)
	} else {
		e.PutInt(chunkFirst, c.Ticks[0].Time)
		e.PutInt(chunkLast, c.Ticks[len(c.Ticks)-1].Time)
	}
	g, err := e.OpenGroup(TicksGroup, len(c.Ticks))
	if err != nil {
		return 0, fmt.Errorf("ticks: %w", err)
	}
	for _, t := range c.Ticks {
		if err := g.Next(); err != nil {
			return 0, err
		}
		g.PutInt(tickTime, t.Time)
		g.PutFloat(tickPrice, t.Price)
		g.PutUint(tickVolume, t.Volume)
	}
	if err := e.PutVarString(c.Symbol); err != nil {
		return 0, fmt.Errorf("symbol: %w", err)
	}
	return e.Len(), nil
}

// Unmarshal decodes one chunk from the start of b, reusing c.Ticks, and
// returns the number of bytes consumed.
func (c *TickChunk) Unmarshal(b []byte) (int, error) {
	var d sbe.Decoder
	if err := d.Wrap(TickChunkSchema, b, 0); err != nil {
		return 0, err
	}
	g, err := d.Group(TicksGroup)
	if err != nil {
		return 0, fmt.Errorf("ticks: %w", err)
	}
	c.Ticks = c.Ticks[:0]
	for g.Next() {
		c.Ticks = append(c.Ticks, Tick{
			Time:   g.Int(tickTime),
			Price:  g.Float(tickPrice),
			Volume: g.Uint(tickVolume),
		})
	}
	symbol, err := d.VarData()
	if err != nil {
		return 0, fmt.Errorf("symbol: %w", err)
	}
	c.Symbol = string(symbol)
	return d.Len(), nil
}

// Span returns the time range of an encoded chunk without decoding its ticks.
func Span(b []byte) (first, last int64, err error) {
	var d sbe.Decoder
	if err := d.Wrap(TickChunkSchema, b, 0); err != nil {
		return 0, 0, err
	}
	if d.IsNull(chunkFirst) {
		return math.MaxInt64, math.MinInt64, nil
	}
	return d.Int(chunkFirst), d.Int(chunkLast), nil
}
