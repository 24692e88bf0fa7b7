package client

import (
	"math"
	"sync"
)

// streams holds the in-flight requests by token. Acquire blocks while the
// in-flight limit is reached.
type streams struct {
	cond  *sync.Cond
	m     map[int32]State
	limit int
}

func newStreams(limit int) *streams {
	if limit <= 0 {
		limit = math.MaxInt
	}
	return &streams{
		cond:  sync.NewCond(&sync.Mutex{}),
		m:     make(map[int32]State, 1024),
		limit: limit,
	}
}

func (s *streams) Acquire(token int32, st State) {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	for len(s.m) >= s.limit {
		s.cond.Wait()
	}
	s.m[token] = st
}

func (s *streams) GetAndDelete(token int32) State {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()

	st, ok := s.m[token]
	if !ok {
		return nil
	}
	delete(s.m, token)
	s.cond.Broadcast()
	return st
}

// Drain removes every in-flight request and calls fn for each.
func (s *streams) Drain(fn func(State)) {
	s.cond.L.Lock()
	m := s.m
	s.m = make(map[int32]State)
	s.cond.Broadcast()
	s.cond.L.Unlock()

	for _, st := range m {
		fn(st)
	}
}

func (s *streams) InUse() int {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	return len(s.m)
}

func (s *streams) WaitAllReleased() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		s.cond.L.Lock()
		defer s.cond.L.Unlock()
		for len(s.m) != 0 {
			s.cond.Wait()
		}
		close(ch)
	}()
	return ch
}
