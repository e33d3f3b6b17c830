package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Balance is a point-in-time view of a user's available funds within a scope
type Balance struct {
	Available decimal.Decimal
}

// Client is the contract the session core needs from the external balance
// ledger. The ledger is the durable source of truth for money; the core
// only requires read-after-write consistency and atomic adjustments.
//
// AdjustBalance applies delta (positive=credit, negative=debit) atomically
// and never partially. A debit that would take the balance negative fails
// with errors.ErrInsufficientBalance; transient failures surface as
// errors.ErrLedgerUnavailable. markActive flags the user as actively
// playing for economy bookkeeping; the core sets it on debits only.
type Client interface {
	GetBalance(ctx context.Context, userID, scope string) (Balance, error)
	AdjustBalance(ctx context.Context, userID, scope string, delta decimal.Decimal, markActive bool) error
}
