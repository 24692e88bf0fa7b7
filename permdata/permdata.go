// Package permdata resolves the entitlement lock attached to a symbol's
// snapshot.
package permdata

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("permdata: no permission data")

// Store looks up the binary lock of a symbol. Implementations are safe for
// concurrent use by workers.
type Store interface {
	Lookup(ctx context.Context, symbol string) ([]byte, error)
}

// AsciiLockToBinary converts a lock recorded as hexadecimal text.
func AsciiLockToBinary(ascii string) ([]byte, error) {
	lock, err := hex.DecodeString(ascii)
	if err != nil {
		return nil, fmt.Errorf("permdata: lock %q: %w", ascii, err)
	}
	return lock, nil
}

// Memory is a fixed symbol to lock map.
type Memory map[string][]byte

func (m Memory) Lookup(_ context.Context, symbol string) ([]byte, error) {
	lock, ok := m[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	return lock, nil
}

// None never has a lock.
type None struct{}

func (None) Lookup(_ context.Context, symbol string) ([]byte, error) {
	return nil, fmt.Errorf("%w: %s", ErrNotFound, symbol)
}
