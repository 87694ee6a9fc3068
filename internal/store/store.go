// Package store holds the hand-written SQL layer. Each domain service
// depends on a narrow interface that *Store satisfies; transactions are
// threaded by rebinding the Store with WithTx.
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tienda-labs/backend-tienda/internal/money"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// DBTX abstracts a pgx pool or transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store executes queries against Postgres.
type Store struct {
	db   DBTX
	pool *pgxpool.Pool
}

// New builds a Store over a connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool, pool: pool}
}

// WithTx returns a Store bound to the given transaction.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{db: tx, pool: s.pool}
}

// Begin opens a transaction and returns a Store bound to it. The caller
// owns commit and rollback.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, *Store, error) {
	if s.pool == nil {
		return nil, nil, errors.New("store: pool not configured")
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, err
	}
	return tx, s.WithTx(tx), nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func optionalAmount(n pgtype.Numeric) (*money.Amount, error) {
	if !n.Valid {
		return nil, nil
	}
	a, err := money.FromNumeric(n)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
