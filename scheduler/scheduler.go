// Package scheduler paces snapshot requests of the bench command.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Scheduler defines the interface to control the rate of request.
type Scheduler interface {
	// Next returns the offset from the start at which request n (counted
	// from zero) is due, or stop.
	Next(currentReq int64) (at time.Duration, ok bool)
}

type CountLimiter struct {
	s     Scheduler
	limit int64
}

func NewCountLimiter(s Scheduler, limit int64) CountLimiter {
	return CountLimiter{s, limit}
}

func (cl CountLimiter) Next(currentReq int64) (time.Duration, bool) {
	if currentReq >= cl.limit {
		return 0, false
	}
	return cl.s.Next(currentReq)
}

// A Constant defines a constant rate of requests.
type Constant struct {
	interval time.Duration
}

func NewConstant(freq uint64) (Constant, error) {
	if freq == 0 {
		return Constant{}, fmt.Errorf("freq must be positive")
	}
	return Constant{time.Second / time.Duration(freq)}, nil
}

func (cp Constant) Next(currentReq int64) (time.Duration, bool) {
	return time.Duration(currentReq) * cp.interval, true
}

// Unlimited sends every request as soon as possible.
type Unlimited struct{}

func (Unlimited) Next(int64) (time.Duration, bool) { return 0, true }

// Line ramps the rate linearly from one req/s value to another over d.
type Line struct {
	b          float64
	twoA       float64
	bSquare    float64
	bilionDivA float64
}

func NewLine(from, to float64, d time.Duration) (Scheduler, error) {
	if from < 0 || to < 0 || from+to == 0 {
		return nil, fmt.Errorf("rates %v..%v must be non-negative and not both zero", from, to)
	}
	if d <= 0 {
		return nil, fmt.Errorf("duration must be positive")
	}
	if from == to {
		return NewConstant(uint64(math.Round(from)))
	}
	a := (to - from) / d.Seconds()
	return Line{
		b:          from,
		twoA:       2 * a,
		bSquare:    from * from,
		bilionDivA: 1e9 / a,
	}, nil
}

// Next solves a*t^2/2 + b*t = n for t, the moment the ramp has sent n
// requests.
func (cp Line) Next(currentReq int64) (time.Duration, bool) {
	return time.Duration((math.Sqrt(cp.twoA*float64(currentReq)+cp.bSquare) - cp.b) * cp.bilionDivA), true
}

// Pace calls fn for every request s schedules until s stops, the next
// request would be due after limit (when positive) or ctx is done.
func Pace(ctx context.Context, s Scheduler, limit time.Duration, fn func(n int64) error) error {
	begin := time.Now()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for n := int64(0); ; n++ {
		at, ok := s.Next(n)
		if !ok || (limit > 0 && at > limit) {
			return nil
		}
		if wait := at - time.Since(begin); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(n); err != nil {
			return err
		}
	}
}
