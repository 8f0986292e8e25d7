package db

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mulu-store/checkout/pkg/mylogger"
	"go.uber.org/zap"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx so repositories run the
// same statements inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DBTX = (*pgxpool.Pool)(nil)

// TxBeginner is the part of *pgxpool.Pool needed to open transactions.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

var ErrTransactionsUnsupported = errors.New("transactions unsupported by store")

var txUnsupportedMessage = regexp.MustCompile(`(?i)transaction numbers are only allowed|transactions? (are )?not supported|transaction pooling|cannot (begin|start) transaction`)

// IsTransactionsUnsupported reports whether err means the backing store or
// the pooler in front of it cannot run multi-statement transactions.
func IsTransactionsUnsupported(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTransactionsUnsupported) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "0A000", "25P01":
			return true
		}
	}

	return txUnsupportedMessage.MatchString(err.Error())
}

// WithTx runs fn inside a transaction and commits when fn returns nil.
// Begin failures that indicate missing transaction support are wrapped
// with ErrTransactionsUnsupported.
func WithTx(ctx context.Context, beginner TxBeginner, logger *zap.Logger, fn func(tx pgx.Tx) error) error {
	tx, err := beginner.Begin(ctx)
	if err != nil {
		if IsTransactionsUnsupported(err) {
			return fmt.Errorf("%w: %v", ErrTransactionsUnsupported, err)
		}
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(cleanupCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Error(
				cleanupCtx,
				logger,
				"Failed to rollback transaction",
				zap.Error(err),
			)
		}
	}()

	if err := fn(tx); err != nil {
		if IsTransactionsUnsupported(err) && !errors.Is(err, ErrTransactionsUnsupported) {
			return fmt.Errorf("%w: %w", ErrTransactionsUnsupported, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if IsTransactionsUnsupported(err) {
			return fmt.Errorf("%w: %v", ErrTransactionsUnsupported, err)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ProbeTransactions opens and rolls back an empty transaction to learn
// whether the store accepts them. Only ErrTransactionsUnsupported-class
// failures count as "no"; other errors are returned.
func ProbeTransactions(ctx context.Context, beginner TxBeginner) (bool, error) {
	tx, err := beginner.Begin(ctx)
	if err != nil {
		if IsTransactionsUnsupported(err) {
			return false, nil
		}
		return false, err
	}

	if _, err := tx.Exec(ctx, "SELECT 1"); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		if IsTransactionsUnsupported(err) {
			return false, nil
		}
		return false, err
	}

	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		if IsTransactionsUnsupported(err) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// Store is a pool that can also open transactions.
type Store interface {
	DBTX
	TxBeginner
}

var _ Store = (*pgxpool.Pool)(nil)
