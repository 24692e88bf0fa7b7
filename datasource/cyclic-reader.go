package datasource

import (
	"fmt"
	"io"
)

// CyclicReader restarts rs from the beginning at EOF. Each rewind yields a
// single '\n' so the last line of one pass never runs into the first line
// of the next.
type CyclicReader struct {
	rs      io.ReadSeeker
	rewinds int
}

func NewCyclicReader(rs io.ReadSeeker) *CyclicReader {
	return &CyclicReader{rs: rs}
}

func (r *CyclicReader) Read(b []byte) (int, error) {
	n, err := r.rs.Read(b)
	if err == nil {
		return n, nil
	}

	if err != io.EOF {
		return n, fmt.Errorf("read: %w", err)
	}

	_, err = r.rs.Seek(0, io.SeekStart)
	if err != nil {
		return n, fmt.Errorf("rewind: %w", err)
	}
	r.rewinds++

	if n < len(b) {
		b[n] = '\n'
		n++
	}
	return n, nil
}

// Rewinds returns how many times the reader has started over.
func (r *CyclicReader) Rewinds() int { return r.rewinds }
