// Package multi fans one snapshot state out to several reporters.
package multi

import (
	"golang.org/x/sync/errgroup"

	"github.com/steve-o/hitsuji/client"
	"github.com/steve-o/hitsuji/omm"
	"github.com/steve-o/hitsuji/utils/pool"
)

type Multi struct {
	nested []client.Reporter
	pool   *pool.SlicePool[*multiState]
}

var _ client.Reporter = (*Multi)(nil)

func NewMulti(nested ...client.Reporter) *Multi {
	m := &Multi{nested: nested}
	m.pool = pool.NewSlicePool(128, func() *multiState {
		return &multiState{multi: m, states: make([]client.State, len(nested))}
	})
	return m
}

func (m *Multi) Run() error {
	g := new(errgroup.Group)
	for i := range m.nested {
		r := m.nested[i]
		g.Go(r.Run)
	}
	return g.Wait()
}

func (m *Multi) Close() error {
	g := new(errgroup.Group)
	for i := range m.nested {
		r := m.nested[i]
		g.Go(r.Close)
	}
	return g.Wait()
}

func (m *Multi) Acquire(tag string) client.State {
	ms := m.pool.Acquire()
	for i, r := range m.nested {
		ms.states[i] = r.Acquire(tag)
	}
	return ms
}

type multiState struct {
	multi  *Multi
	states []client.State
}

func (s *multiState) SetSize(n int) {
	for _, s := range s.states {
		s.SetSize(n)
	}
}

func (s *multiState) OnReply(m *omm.Msg) {
	for _, s := range s.states {
		s.OnReply(m)
	}
}

func (s *multiState) IoError(err error) {
	for _, s := range s.states {
		s.IoError(err)
	}
}

func (s *multiState) Timeout() {
	for _, s := range s.states {
		s.Timeout()
	}
}

func (s *multiState) End() {
	for i, st := range s.states {
		st.End()
		s.states[i] = nil
	}
	s.multi.pool.Release(s)
}
