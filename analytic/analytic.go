// Package analytic computes the snapshot carried by a refresh: an OHLCV bar
// over a time window of the tick store.
package analytic

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/steve-o/hitsuji/omm"
	"github.com/steve-o/hitsuji/tickstore"
)

var (
	ErrParams      = errors.New("analytic: invalid parameters")
	ErrUnknownKind = errors.New("analytic: unknown kind")
)

// Kind selects an analytic from the fragment of an item name, e.g.
// "MSFT.O#rollup".
type Kind uint8

const (
	KindBar Kind = iota
	KindRollupBar
	KindClose
	KindTest
)

var kindNames = [...]string{
	KindBar:       "bar",
	KindRollupBar: "rollup",
	KindClose:     "close",
	KindTest:      "test",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

func ParseKind(fragment string) (Kind, error) {
	if fragment == "" {
		return KindBar, nil
	}
	for k, name := range kindNames {
		if name == fragment {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, fragment)
}

// Kinds lists every analytic kind.
func Kinds() []Kind { return []Kind{KindBar, KindRollupBar, KindClose, KindTest} }

// Source is the time-series the analytics read.
type Source interface {
	Scan(symbol string, from, till time.Time, fn func(tickstore.Tick)) error
	Bars(symbol string, from, till time.Time, interval time.Duration, fn func(tickstore.Bar)) error
}

// Item is the stream the result is written for.
type Item struct {
	RWFVersion uint16
	Token      int32
	ServiceID  uint16
	Name       []byte
	PermData   []byte
}

// Analytic is reused for many requests by one worker: Reset, then
// ParseParams when the request carries a query, Calculate and WriteResult.
type Analytic interface {
	ParseParams(query string) error
	Calculate(symbol string) error
	WriteResult(dst []byte, item Item) (int, error)
	Reset()
}

// New returns the analytic of kind k. now is used for the default window.
func New(k Kind, src Source, now func() time.Time) (Analytic, error) {
	if now == nil {
		now = time.Now
	}
	w := window{now: now}
	var a Analytic
	switch k {
	case KindBar:
		a = &Bar{window: w, src: src}
	case KindRollupBar:
		a = &RollupBar{window: w, src: src, interval: time.Minute}
	case KindClose:
		a = &Close{window: w, src: src}
	case KindTest:
		a = &Test{window: w}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, k)
	}
	a.Reset()
	return a, nil
}

const priceExponent = -4

// roundPrice rounds half up to four decimal places.
func roundPrice(x float64) omm.Real {
	return omm.Real{Mantissa: int64(math.Floor(x*1e4 + 0.5)), Exponent: priceExponent}
}

func priceOrBlank(x float64, ok bool) omm.Real {
	if !ok {
		return omm.BlankReal()
	}
	return roundPrice(x)
}

func integer(v uint64) omm.Real {
	return omm.Real{Mantissa: int64(v)}
}
