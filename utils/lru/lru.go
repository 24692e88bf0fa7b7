package lru

import (
	"container/list"
	"sync"
)

type entry[V any] struct {
	key   string
	value V
}

// LRU is a bounded map evicting the least recently used key.
type LRU[V any] struct {
	maxSize int
	items   map[string]*list.Element
	list    *list.List
	mu      sync.Mutex
}

func New[V any](maxSize int) *LRU[V] {
	if maxSize < 1 {
		panic("assertion error: maxSize < 1")
	}
	return &LRU[V]{
		maxSize: maxSize,
		items:   make(map[string]*list.Element, maxSize),
		list:    list.New(),
	}
}

// Get fetches a value and marks it most recently used.
func (l *LRU[V]) Get(key string) (v V, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	element, ok := l.items[key]
	if !ok {
		return v, false
	}
	l.list.MoveToFront(element)
	return element.Value.(*entry[V]).value, true
}

// Add inserts or replaces a value, evicting the oldest key when full.
func (l *LRU[V]) Add(key string, v V) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if element, ok := l.items[key]; ok {
		element.Value.(*entry[V]).value = v
		l.list.MoveToFront(element)
		return
	}

	if len(l.items) >= l.maxSize {
		oldest := l.list.Back()
		l.list.Remove(oldest)
		delete(l.items, oldest.Value.(*entry[V]).key)
	}
	l.items[key] = l.list.PushFront(&entry[V]{key: key, value: v})
}

func (l *LRU[V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}
