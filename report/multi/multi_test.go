package multi

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/steve-o/hitsuji/client"
	"github.com/steve-o/hitsuji/omm"
)

type counting struct {
	events []string
	runs   int
	closes int
}

func (c *counting) Acquire(tag string) client.State {
	c.events = append(c.events, "acquire "+tag)
	return c
}

func (c *counting) Run() error {
	c.runs++
	return nil
}

func (c *counting) Close() error {
	c.closes++
	return nil
}

func (c *counting) SetSize(int)      { c.events = append(c.events, "size") }
func (c *counting) OnReply(*omm.Msg) { c.events = append(c.events, "reply") }
func (c *counting) IoError(error)    { c.events = append(c.events, "io") }
func (c *counting) Timeout()         { c.events = append(c.events, "timeout") }
func (c *counting) End()             { c.events = append(c.events, "end") }

func TestMulti(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	r1, r2 := new(counting), new(counting)
	m := NewMulti(r1, r2)

	s := m.Acquire("t")
	s.SetSize(1)
	s.OnReply(&omm.Msg{})
	s.End()
	s = m.Acquire("t")
	s.IoError(errors.New("x"))
	s.Timeout()
	s.End()

	want := []string{"acquire t", "size", "reply", "end", "acquire t", "io", "timeout", "end"}
	a.Equal(want, r1.events)
	a.Equal(want, r2.events)

	a.NoError(m.Run())
	a.NoError(m.Close())
	a.Equal(1, r1.runs)
	a.Equal(1, r2.closes)
}
