package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
)

func TestConflictOrMapsLostTransactions(t *testing.T) {
	for _, code := range []string{codeSerializationFailure, codeDeadlockDetected} {
		err := conflictOr(fmt.Errorf("claim: %w", &pgconn.PgError{Code: code}))
		assert.ErrorIs(t, err, apperrors.ErrConflict, code)

		var pgErr *pgconn.PgError
		assert.True(t, errors.As(err, &pgErr), "cause is kept")
	}

	plain := errors.New("connection reset")
	assert.Same(t, plain, conflictOr(plain))

	unique := &pgconn.PgError{Code: codeUniqueViolation}
	assert.NotErrorIs(t, conflictOr(unique), apperrors.ErrConflict)
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", unique)))
	assert.False(t, isUniqueViolation(plain))
}
