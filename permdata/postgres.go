package permdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Postgres reads the most recent lock of a symbol from a table with columns
// (symbol text, permission text, recorded_at timestamptz).
type Postgres struct {
	db    *sql.DB
	query string
	batch string
}

func OpenPostgres(dsn, table string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return NewPostgres(db, table), nil
}

func NewPostgres(db *sql.DB, table string) *Postgres {
	t := pq.QuoteIdentifier(table)
	return &Postgres{
		db: db,
		query: `SELECT permission FROM ` + t + `
		 WHERE symbol = $1 ORDER BY recorded_at DESC LIMIT 1`,
		batch: `SELECT DISTINCT ON (symbol) symbol, permission FROM ` + t + `
		 WHERE symbol = ANY($1) ORDER BY symbol, recorded_at DESC`,
	}
}

func (p *Postgres) Lookup(ctx context.Context, symbol string) ([]byte, error) {
	var ascii string
	err := p.db.QueryRowContext(ctx, p.query, symbol).Scan(&ascii)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: lookup %s: %w", symbol, err)
	}
	return AsciiLockToBinary(ascii)
}

// LookupMany fetches the locks of several symbols in one round trip. Symbols
// without a lock are absent from the result.
func (p *Postgres) LookupMany(ctx context.Context, symbols []string) (Memory, error) {
	rows, err := p.db.QueryContext(ctx, p.batch, pq.Array(symbols))
	if err != nil {
		return nil, fmt.Errorf("postgres: lookup many: %w", err)
	}
	defer rows.Close()

	m := make(Memory, len(symbols))
	for rows.Next() {
		var symbol, ascii string
		if err := rows.Scan(&symbol, &ascii); err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		lock, err := AsciiLockToBinary(ascii)
		if err != nil {
			return nil, err
		}
		m[symbol] = lock
	}
	return m, rows.Err()
}

func (p *Postgres) Close() error { return p.db.Close() }
