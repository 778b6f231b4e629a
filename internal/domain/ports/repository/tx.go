package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager provides a thin abstraction to execute a function within
// a database transaction, passing the underlying transaction handle via `tx`.
//
// Use cases that must commit several writes together (balance adjustment plus
// task status, per the ledger contract) run them inside one WithTx callback.
// Repositories MUST gracefully accept a nil tx (non-transactional path).
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
