package permdata

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsciiLockToBinary(t *testing.T) {
	t.Parallel()
	a := assert.New(t)

	lock, err := AsciiLockToBinary("0302C01c")
	a.NoError(err)
	a.Equal([]byte{0x03, 0x02, 0xC0, 0x1C}, lock)

	_, err = AsciiLockToBinary("03z1")
	a.Error(err)
	_, err = AsciiLockToBinary("030")
	a.Error(err)
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()

	m, err := ParseJSON([]byte(`{"MSFT.O": "0302c01c", "VOD.L":"03010a"}`))
	require.NoError(t, err)
	a.Len(m, 2)

	lock, err := m.Lookup(ctx, "VOD.L")
	a.NoError(err)
	a.Equal([]byte{0x03, 0x01, 0x0a}, lock)

	_, err = m.Lookup(ctx, "IBM.N")
	a.ErrorIs(err, ErrNotFound)

	_, err = ParseJSON([]byte(`{"MSFT.O": "zz"}`))
	a.Error(err)
	_, err = ParseJSON([]byte(`{"MSFT.O" "0302"}`))
	a.Error(err)
	_, err = ParseJSON([]byte(`{} trailing`))
	a.Error(err)

	empty, err := ParseJSON([]byte(`{}`))
	a.NoError(err)
	a.Empty(empty)
}

type countingStore struct {
	Store
	calls int
}

func (c *countingStore) Lookup(ctx context.Context, symbol string) ([]byte, error) {
	c.calls++
	return c.Store.Lookup(ctx, symbol)
}

func TestCache(t *testing.T) {
	t.Parallel()
	a := assert.New(t)
	ctx := context.Background()

	backing := &countingStore{Store: Memory{"MSFT.O": {1}, "VOD.L": {2}}}
	c := NewCache(backing, 1)

	for i := 0; i < 3; i++ {
		lock, err := c.Lookup(ctx, "MSFT.O")
		a.NoError(err)
		a.Equal([]byte{1}, lock)
	}
	a.Equal(1, backing.calls)

	_, err := c.Lookup(ctx, "VOD.L")
	a.NoError(err)
	_, err = c.Lookup(ctx, "MSFT.O")
	a.NoError(err)
	a.Equal(3, backing.calls, "capacity of one evicts")

	_, err = c.Lookup(ctx, "IBM.N")
	a.ErrorIs(err, ErrNotFound)
	_, err = c.Lookup(ctx, "IBM.N")
	a.ErrorIs(err, ErrNotFound)
	a.Equal(5, backing.calls, "misses are not cached")

	c.Warm(Memory{"IBM.N": {3}})
	lock, err := c.Lookup(ctx, "IBM.N")
	a.NoError(err)
	a.Equal([]byte{3}, lock)
	a.Equal(5, backing.calls)
}

func TestNone(t *testing.T) {
	t.Parallel()
	_, err := None{}.Lookup(context.Background(), "MSFT.O")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("HITSUJI_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HITSUJI_TEST_POSTGRES_DSN is not set")
	}
	a := assert.New(t)
	r := require.New(t)
	ctx := context.Background()

	p, err := OpenPostgres(dsn, "permdata_test")
	r.NoError(err)
	defer p.Close()

	_, err = p.db.ExecContext(ctx, `DROP TABLE IF EXISTS permdata_test`)
	r.NoError(err)
	_, err = p.db.ExecContext(ctx, `CREATE TABLE permdata_test (symbol text, permission text, recorded_at timestamptz)`)
	r.NoError(err)
	defer p.db.ExecContext(ctx, `DROP TABLE permdata_test`) //nolint:errcheck
	_, err = p.db.ExecContext(ctx, `INSERT INTO permdata_test VALUES
		('MSFT.O', '0301', now() - interval '1 day'),
		('MSFT.O', '0302', now()),
		('VOD.L', '0a', now())`)
	r.NoError(err)

	lock, err := p.Lookup(ctx, "MSFT.O")
	a.NoError(err)
	a.Equal([]byte{0x03, 0x02}, lock)

	_, err = p.Lookup(ctx, "IBM.N")
	a.ErrorIs(err, ErrNotFound)

	m, err := p.LookupMany(ctx, []string{"MSFT.O", "VOD.L", "IBM.N"})
	a.NoError(err)
	a.Equal(Memory{"MSFT.O": {0x03, 0x02}, "VOD.L": {0x0a}}, m)
}
