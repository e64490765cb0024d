package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"fleetinspect/internal/errs"
	"fleetinspect/internal/ports"
)

func dbFromContext(base *gorm.DB, ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return base.WithContext(ctx), nil
	}

	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, fmt.Errorf("invalid tx in context: %T", tx)
	}
	return gormTx.WithContext(ctx), nil
}

// inTx runs fn inside the caller's transaction, or opens one when ctx carries none.
func inTx(base *gorm.DB, ctx context.Context, fn func(ctx context.Context, db *gorm.DB) error) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if ports.TxFromContext(ctx) != nil {
		db, err := dbFromContext(base, ctx)
		if err != nil {
			return err
		}
		return fn(ctx, db)
	}

	return base.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ports.WithTxContext(ctx, tx), tx.WithContext(ctx))
	})
}

func notFoundOr(err error, what string, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, errs.ErrNotFound)
	}
	return errs.Storage(err, op)
}
