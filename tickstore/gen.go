package tickstore

import (
	"math"
	"math/rand/v2"
	"time"
)

// Generate returns a random walk of ticks starting at price, one tick per
// step in [from, till). The same seed yields the same series.
func Generate(from, till time.Time, step time.Duration, price float64, seed uint64) []Tick {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	n := int(till.Sub(from) / step)
	ticks := make([]Tick, 0, max(n, 0))
	for at := from; at.Before(till); at = at.Add(step) {
		price = math.Max(0.01, price*(1+r.NormFloat64()*0.0005))
		ticks = append(ticks, Tick{
			Time:   at.UnixNano(),
			Price:  math.Round(price*100) / 100,
			Volume: uint64(1+r.IntN(10)) * 100,
		})
	}
	return ticks
}
