// Package pool recycles objects through a mutex guarded stack.
package pool

import "sync"

type SlicePool[T any] struct {
	mu  sync.Mutex
	s   []T
	new func() T
}

// NewSlicePool returns a pool holding up to size idle objects that builds
// new ones with fn when empty.
func NewSlicePool[T any](size int, fn func() T) *SlicePool[T] {
	return &SlicePool[T]{s: make([]T, 0, size), new: fn}
}

func (p *SlicePool[T]) Acquire() T {
	p.mu.Lock()
	l := len(p.s)
	if l == 0 {
		p.mu.Unlock()
		return p.new()
	}
	v := p.s[l-1]
	p.s = p.s[:l-1]
	p.mu.Unlock()
	return v
}

// Release returns v to the pool. It is dropped when the pool is full.
func (p *SlicePool[T]) Release(v T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.s) < cap(p.s) {
		p.s = append(p.s, v)
	}
}

func (p *SlicePool[T]) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.s)
}
