// Package tickstore keeps per-symbol trade ticks in memory and persists them
// as concatenated TickChunk messages.
package tickstore

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/steve-o/hitsuji/message"
)

var ErrUnavailable = errors.New("tickstore: no series for symbol")

type Tick = message.Tick

// Bar is an aggregate of the ticks of one interval.
type Bar struct {
	Start  int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume uint64
	Count  uint64
}

// Store is safe for concurrent readers once loaded. Writers take the lock.
type Store struct {
	mu     sync.RWMutex
	series map[string][]Tick
}

func New() *Store {
	return &Store{series: make(map[string][]Tick)}
}

// Add inserts ticks keeping the series sorted by time. The series is copied
// so that scans already running keep the ticks they started with.
func (s *Store) Add(symbol string, ticks ...Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.series[symbol]
	series := make([]Tick, 0, len(prev)+len(ticks))
	series = append(append(series, prev...), ticks...)
	if !sort.SliceIsSorted(series, func(i, j int) bool { return series[i].Time < series[j].Time }) {
		sort.SliceStable(series, func(i, j int) bool { return series[i].Time < series[j].Time })
	}
	s.series[symbol] = series
}

// Exists reports whether the symbol is known to the store.
func (s *Store) Exists(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.series[symbol]
	return ok
}

func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]string, 0, len(s.series))
	for symbol := range s.series {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

func (s *Store) Len(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[symbol])
}

// Scan calls fn for every tick of symbol with from <= time < till, in time
// order.
func (s *Store) Scan(symbol string, from, till time.Time, fn func(Tick)) error {
	s.mu.RLock()
	series, ok := s.series[symbol]
	s.mu.RUnlock()
	if !ok {
		return ErrUnavailable
	}

	lo, hi := from.UnixNano(), till.UnixNano()
	i := sort.Search(len(series), func(i int) bool { return series[i].Time >= lo })
	for ; i < len(series) && series[i].Time < hi; i++ {
		fn(series[i])
	}
	return nil
}

// Bars calls fn for every non-empty interval bar of symbol between from and
// till. Intervals are aligned to the unix epoch.
func (s *Store) Bars(symbol string, from, till time.Time, interval time.Duration, fn func(Bar)) error {
	var (
		bar  Bar
		open bool
	)
	step := interval.Nanoseconds()
	err := s.Scan(symbol, from, till, func(t Tick) {
		start := t.Time - t.Time%step
		if open && start != bar.Start {
			fn(bar)
			open = false
		}
		if !open {
			bar = Bar{Start: start, Open: t.Price, High: t.Price, Low: t.Price}
			open = true
		}
		bar.High = max(bar.High, t.Price)
		bar.Low = min(bar.Low, t.Price)
		bar.Close = t.Price
		bar.Volume += t.Volume
		bar.Count++
	})
	if err != nil {
		return err
	}
	if open {
		fn(bar)
	}
	return nil
}
