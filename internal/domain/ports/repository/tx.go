package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager executes a function within a database transaction, passing the
// underlying transaction handle via `tx`.
//
// Repository methods that accept `tx Tx` detect a live transaction and switch to
// tx-bound Exec/Query plus SELECT ... FOR UPDATE. They MUST accept nil (non-transactional path).
//
// USAGE
//
//	tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
//		if err := tm.LockKey(ctx, tx, "order:"+orderID); err != nil {
//			return err
//		}
//		p, err := payments.FindByOrderID(ctx, tx, orderID)
//		...
//	})
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
	// LockKey takes a transaction-scoped lock on key, released at commit or rollback.
	LockKey(ctx context.Context, tx Tx, key string) error
}
