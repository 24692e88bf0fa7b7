package lru

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLRU(t *testing.T) {
	t.Parallel()

	a := assert.New(t)
	l := New[int](3)
	l.Add("one", 1)
	l.Add("two", 2)
	l.Add("three", 3)
	_, ok := l.Get("one")
	a.True(ok)
	a.Equal(3, l.Len())
	l.Add("four", 4)
	a.Equal(3, l.Len())
	a.Equal(l.list.Len(), 3)

	_, ok = l.Get("two")
	a.False(ok, "two is the least recently used")

	lruOrder := []string{"four", "one", "three"}
	el := l.list.Front()
	for _, k := range lruOrder {
		_, ok := l.items[k]
		a.True(ok)
		a.Equal(k, el.Value.(*entry[int]).key)
		el = el.Next()
	}

	l.Add("three", 33)
	v, ok := l.Get("three")
	a.True(ok)
	a.Equal(33, v)
	a.Equal(3, l.Len())
}

func TestNewPanicsOnZeroSize(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { New[string](0) })
}
