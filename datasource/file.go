package datasource

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ErrEmpty is returned when a source holds no item names.
var ErrEmpty = errors.New("datasource: no item names")

// DataSource hands out the item names a load run requests.
type DataSource interface {
	Fetch() (string, error)
}

// FileDataSource streams item names from a file, one per line, starting
// over at the end. Blank lines and lines starting with '#' are skipped.
type FileDataSource struct {
	mu      sync.Mutex
	cr      *CyclicReader
	scanner *bufio.Scanner
}

func NewFileDataSource(rs io.ReadSeeker) *FileDataSource {
	cr := NewCyclicReader(rs)
	return &FileDataSource{
		cr:      cr,
		scanner: bufio.NewScanner(cr),
	}
}

func (ds *FileDataSource) Fetch() (string, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	start := ds.cr.Rewinds()
	for ds.scanner.Scan() {
		if item, ok := parseLine(ds.scanner.Text()); ok {
			return item, nil
		}
		// a whole pass without an item
		if ds.cr.Rewinds()-start > 1 {
			return "", ErrEmpty
		}
	}
	if err := ds.scanner.Err(); err != nil {
		return "", fmt.Errorf("read next item: %w", err)
	}
	return "", ErrEmpty
}

func parseLine(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", false
	}
	return line, true
}
