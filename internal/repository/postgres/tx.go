package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/acme/outbound-call-queue/internal/repository"
)

// SQLSTATE codes the repositories react to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// withTx runs fn in a transaction. A transaction that lost to a concurrent one
// (serialization failure or deadlock) is reported as repository.ErrConflict.
func withTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tx begin: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx rollback: %v (original err: %w)", rbErr, conflictOr(err))
		}
		return conflictOr(err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tx commit: %w", conflictOr(err))
	}
	return nil
}

// conflictOr wraps err with repository.ErrConflict when Postgres aborted the
// transaction in favour of a concurrent one.
func conflictOr(err error) error {
	if isTxConflict(err) && !errors.Is(err, repository.ErrConflict) {
		return fmt.Errorf("%w: %w", repository.ErrConflict, err)
	}
	return err
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isTxConflict(err error) bool {
	switch pgCode(err) {
	case codeSerializationFailure, codeDeadlockDetected:
		return true
	}
	return false
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == codeUniqueViolation
}
