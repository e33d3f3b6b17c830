package postgres

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"casino/internal/domain/ledger"
	"casino/pkg/errors"
)

// Compile-time check that we implement the interface
var _ ledger.Client = (*LedgerRepository)(nil)

// LedgerRepository implements ledger.Client on top of the balances table.
// Debits are applied with a conditional update so the insufficient-funds
// check and the adjustment commit atomically server-side.
type LedgerRepository struct {
	db DBTX
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// GetBalance retrieves the available balance for a user within a scope
func (r *LedgerRepository) GetBalance(ctx context.Context, userID, scope string) (ledger.Balance, error) {
	var available decimal.Decimal

	query := `
		SELECT available
		FROM balances
		WHERE user_id = $1 AND scope = $2`

	err := r.db.GetContext(ctx, &available, query, userID, scope)
	if err == sql.ErrNoRows {
		// An unknown account has a zero balance rather than being an error;
		// funds checks against it fail naturally
		return ledger.Balance{Available: decimal.Zero}, nil
	}
	if err != nil {
		return ledger.Balance{}, errors.Wrapf(errors.ErrLedgerUnavailable, "get balance user=%s scope=%s: %v", userID, scope, err)
	}

	return ledger.Balance{Available: available}, nil
}

// AdjustBalance applies delta atomically; a debit that would take the
// balance negative affects no rows and maps to ErrInsufficientBalance
func (r *LedgerRepository) AdjustBalance(ctx context.Context, userID, scope string, delta decimal.Decimal, markActive bool) error {
	query := `
		UPDATE balances
		SET available = available + $3,
		    is_active = is_active OR $4,
		    updated_at = NOW()
		WHERE user_id = $1 AND scope = $2 AND available + $3 >= 0`

	res, err := r.db.ExecContext(ctx, query, userID, scope, delta, markActive)
	if err != nil {
		return errors.Wrapf(errors.ErrLedgerUnavailable, "adjust balance user=%s scope=%s: %v", userID, scope, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(errors.ErrLedgerUnavailable, "adjust balance user=%s scope=%s: %v", userID, scope, err)
	}
	if affected == 0 {
		if delta.Sign() >= 0 {
			// Credits never fail the balance guard; the account simply
			// does not exist yet
			return r.createAccount(ctx, userID, scope, delta, markActive)
		}
		return errors.Wrapf(errors.ErrInsufficientBalance, "user=%s scope=%s delta=%s", userID, scope, delta)
	}

	return nil
}

func (r *LedgerRepository) createAccount(ctx context.Context, userID, scope string, initial decimal.Decimal, markActive bool) error {
	query := `
		INSERT INTO balances (user_id, scope, available, is_active, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id, scope)
		DO UPDATE SET available = balances.available + EXCLUDED.available,
		              is_active = balances.is_active OR EXCLUDED.is_active,
		              updated_at = NOW()`

	if _, err := r.db.ExecContext(ctx, query, userID, scope, initial, markActive); err != nil {
		return errors.Wrapf(errors.ErrLedgerUnavailable, "create account user=%s scope=%s: %v", userID, scope, err)
	}
	return nil
}
