package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aoikurokawa/zone/internal/domain"
)

// PostgreSQL SQLSTATE codes the ledger translates.
const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeNumericOutOfRange    = "22003"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// balanceConstraint is the CHECK (balance >= 0) on accounts.
const balanceConstraint = "accounts_balance_check"

// mapError translates driver errors into the domain taxonomy. Errors that
// are already typed, or that carry no SQLSTATE, pass through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return domain.ErrAlreadyExists
	case codeCheckViolation:
		if pgErr.ConstraintName == balanceConstraint {
			return domain.ErrInsufficientFunds
		}
		return err
	case codeNumericOutOfRange:
		return domain.ErrBalanceOverflow
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return domain.ErrContention
	default:
		return err
	}
}
