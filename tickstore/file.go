package tickstore

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/steve-o/hitsuji/message"
)

// WriteTo writes every series as a sequence of TickChunk messages.
func (s *Store) WriteTo(w io.Writer) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bw := bufio.NewWriter(w)
	var (
		total int64
		buf   []byte
		chunk message.TickChunk
	)
	for symbol, series := range s.series {
		chunk.Symbol = symbol
		for off := 0; off < len(series) || off == 0; off += message.MaxTicksPerChunk {
			end := min(off+message.MaxTicksPerChunk, len(series))
			chunk.Ticks = series[off:end]
			if size := chunk.Size(); cap(buf) < size {
				buf = make([]byte, size)
			}
			n, err := chunk.MarshalTo(buf[:cap(buf)])
			if err != nil {
				return total, fmt.Errorf("encoding %s: %w", symbol, err)
			}
			m, err := bw.Write(buf[:n])
			total += int64(m)
			if err != nil {
				return total, err
			}
			if len(series) == 0 {
				break
			}
		}
	}
	return total, bw.Flush()
}

// Load decodes concatenated TickChunk messages from b into the store.
func (s *Store) Load(b []byte) error {
	var chunk message.TickChunk
	for off := 0; off < len(b); {
		n, err := chunk.Unmarshal(b[off:])
		if err != nil {
			return fmt.Errorf("chunk at offset %d: %w", off, err)
		}
		s.Add(chunk.Symbol, chunk.Ticks...)
		off += n
	}
	return nil
}

// LoadFile reads a whole tick file into a new store.
func LoadFile(path string) (*Store, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := New()
	if err := s.Load(b); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return s, nil
}

// SaveFile writes the store to path.
func (s *Store) SaveFile(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()
	_, err = s.WriteTo(f)
	return err
}
