package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlicePool(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	var built int
	p := NewSlicePool(2, func() *[]byte {
		built++
		b := make([]byte, 0, 8)
		return &b
	})

	b1, b2, b3 := p.Acquire(), p.Acquire(), p.Acquire()
	a.Equal(3, built)
	p.Release(b1)
	p.Release(b2)
	p.Release(b3)
	a.Equal(2, p.Idle())

	a.Same(b2, p.Acquire())
	a.Same(b1, p.Acquire())
	p.Acquire()
	a.Equal(4, built)
}
