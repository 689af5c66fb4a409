package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrSerialization reports a transaction aborted by PostgreSQL because it
// conflicted with a concurrent one. The caller may retry it.
var ErrSerialization = errors.New("platform/db: serialization failure")

// ErrConstraint reports a row rejected by a CHECK or NOT NULL constraint.
var ErrConstraint = errors.New("platform/db: constraint violation")

// Serializable is the isolation used for check-then-write sequences.
var Serializable = pgx.TxOptions{IsoLevel: pgx.Serializable}

// WithTx executes a function within a transaction using the given options.
// Serialization and deadlock aborts are reported as ErrSerialization and
// CHECK or NOT NULL violations as ErrConstraint.
func WithTx(ctx context.Context, pool *pgxpool.Pool, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", ErrSerialization, pgErr.Message)
		case "23514", "23502":
			return fmt.Errorf("%w: %s (%s)", ErrConstraint, pgErr.Message, pgErr.ConstraintName)
		}
	}
	return err
}
