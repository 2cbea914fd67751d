package store

import (
	"context"
	"database/sql"
)

type txKey struct{}

// withTx attaches tx to ctx so a TransactionHook's TxStep can issue SQL
// inside the same bookmark-move transaction via TxFromContext.
func withTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the in-flight bookmark-move transaction, if ctx
// was passed to a TxStep by BookmarkStore.CompareAndSet.
func TxFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}
