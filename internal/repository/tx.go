package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type poolTransactor struct {
	pool *pgxpool.Pool
}

// NewTransactor returns a Transactor over a pgx pool. Transactions run at READ COMMITTED;
// session rows are protected by their version column.
func NewTransactor(pool *pgxpool.Pool) Transactor {
	return &poolTransactor{pool: pool}
}

func (t *poolTransactor) DB() DBTX { return t.pool }

func (t *poolTransactor) InTx(ctx context.Context, fn func(tx DBTX) error) error {
	return pgx.BeginTxFunc(ctx, t.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(tx)
	})
}
