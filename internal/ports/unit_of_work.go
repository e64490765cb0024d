package ports

import "context"

// Tx is an opaque transaction handle; infrastructure picks the concrete type (*gorm.DB).
type Tx interface{}

// UnitOfWork is the transaction boundary shared by the inspection store and the
// sync queue. Returning an error from fn rolls back; nil commits.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

func WithTxContext(ctx context.Context, tx Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func TxFromContext(ctx context.Context) Tx {
	return ctx.Value(txKey{})
}
