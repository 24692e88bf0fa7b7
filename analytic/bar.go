package analytic

import (
	"fmt"
	"math"
	"time"

	"github.com/steve-o/hitsuji/omm"
	"github.com/steve-o/hitsuji/tickstore"
)

// ohlcv accumulates first, last, max, min and count of prices and the sum
// of volumes.
type ohlcv struct {
	open, high, low, close float64
	volume                 uint64
	count                  uint64
}

func (a *ohlcv) reset() {
	*a = ohlcv{high: math.Inf(-1), low: math.Inf(1)}
}

func (a *ohlcv) addTick(t tickstore.Tick) {
	if a.count == 0 {
		a.open = t.Price
	}
	a.high = max(a.high, t.Price)
	a.low = min(a.low, t.Price)
	a.close = t.Price
	a.volume += t.Volume
	a.count++
}

func (a *ohlcv) addBar(b tickstore.Bar) {
	if a.count == 0 {
		a.open = b.Open
	}
	a.high = max(a.high, b.High)
	a.low = min(a.low, b.Low)
	a.close = b.Close
	a.volume += b.Volume
	a.count += b.Count
}

func (a *ohlcv) fields(dst []omm.Field) []omm.Field {
	ok := a.count > 0
	return append(dst[:0],
		omm.Field{FID: omm.FidHigh1, Value: priceOrBlank(a.high, ok)},
		omm.Field{FID: omm.FidLow1, Value: priceOrBlank(a.low, ok)},
		omm.Field{FID: omm.FidOpenPrc, Value: priceOrBlank(a.open, ok)},
		omm.Field{FID: omm.FidHstClose, Value: priceOrBlank(a.close, ok)},
		omm.Field{FID: omm.FidAcVol1, Value: integer(a.volume)},
		omm.Field{FID: omm.FidNumMoves, Value: integer(a.count)},
	)
}

// Bar aggregates the trades of the window.
type Bar struct {
	window
	src    Source
	acc    ohlcv
	fields []omm.Field
}

func (b *Bar) Reset() {
	b.window.reset()
	b.acc.reset()
}

func (b *Bar) Calculate(symbol string) error {
	b.acc.reset()
	if err := b.src.Scan(symbol, b.open, b.close, b.acc.addTick); err != nil {
		return fmt.Errorf("bar %s: %w", symbol, err)
	}
	return nil
}

func (b *Bar) WriteResult(dst []byte, item Item) (int, error) {
	b.fields = b.acc.fields(b.fields)
	return omm.WriteRefresh(dst, item.RWFVersion, item.Token, item.ServiceID, item.Name, item.PermData, b.fields)
}

// RollupBar aggregates pre-computed interval bars, trading resolution for
// fewer reads on long windows.
type RollupBar struct {
	window
	src      Source
	interval time.Duration
	acc      ohlcv
	fields   []omm.Field
}

func (b *RollupBar) Reset() {
	b.window.reset()
	b.acc.reset()
}

func (b *RollupBar) Calculate(symbol string) error {
	b.acc.reset()
	if err := b.src.Bars(symbol, b.open, b.close, b.interval, b.acc.addBar); err != nil {
		return fmt.Errorf("rollup bar %s: %w", symbol, err)
	}
	return nil
}

func (b *RollupBar) WriteResult(dst []byte, item Item) (int, error) {
	b.fields = b.acc.fields(b.fields)
	return omm.WriteRefresh(dst, item.RWFVersion, item.Token, item.ServiceID, item.Name, item.PermData, b.fields)
}

// Close reports the last price of the window and the number of trades.
type Close struct {
	window
	src    Source
	last   float64
	count  uint64
	fields []omm.Field
}

func (c *Close) Reset() {
	c.window.reset()
	c.last, c.count = 0, 0
}

func (c *Close) Calculate(symbol string) error {
	c.last, c.count = 0, 0
	err := c.src.Scan(symbol, c.open, c.close, func(t tickstore.Tick) {
		c.last = t.Price
		c.count++
	})
	if err != nil {
		return fmt.Errorf("close %s: %w", symbol, err)
	}
	return nil
}

func (c *Close) WriteResult(dst []byte, item Item) (int, error) {
	c.fields = append(c.fields[:0],
		omm.Field{FID: omm.FidHstClose, Value: priceOrBlank(c.last, c.count > 0)},
		omm.Field{FID: omm.FidNumMoves, Value: integer(c.count)},
	)
	return omm.WriteRefresh(dst, item.RWFVersion, item.Token, item.ServiceID, item.Name, item.PermData, c.fields)
}

// Test answers a fixed bar without reading the store.
type Test struct {
	window
	fields []omm.Field
}

var testBar = ohlcv{open: 100, high: 101.5, low: 99.25, close: 100.75, volume: 1000, count: 10}

func (t *Test) Reset() { t.window.reset() }

func (t *Test) Calculate(string) error { return nil }

func (t *Test) WriteResult(dst []byte, item Item) (int, error) {
	t.fields = testBar.fields(t.fields)
	return omm.WriteRefresh(dst, item.RWFVersion, item.Token, item.ServiceID, item.Name, item.PermData, t.fields)
}
