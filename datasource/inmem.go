package datasource

import (
	"bufio"
	"fmt"
	"io"
	"sync/atomic"
)

// InmemDataSource cycles through item names held in memory. Fetch is safe
// for concurrent use.
type InmemDataSource struct {
	items []string
	i     atomic.Uint64
}

func NewInmemDataSource(items []string) (*InmemDataSource, error) {
	ds := &InmemDataSource{}
	for _, item := range items {
		if item, ok := parseLine(item); ok {
			ds.items = append(ds.items, item)
		}
	}
	if len(ds.items) == 0 {
		return nil, ErrEmpty
	}
	return ds, nil
}

// ReadInmemDataSource reads every line of r up front.
func ReadInmemDataSource(r io.Reader) (*InmemDataSource, error) {
	var items []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		items = append(items, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}
	return NewInmemDataSource(items)
}

func (ds *InmemDataSource) Fetch() (string, error) {
	n := ds.i.Add(1) - 1
	return ds.items[n%uint64(len(ds.items))], nil
}

func (ds *InmemDataSource) Len() int { return len(ds.items) }
