package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"casino/internal/domain/ledger"
	"casino/pkg/errors"
)

// Compile-time check that we implement the interface
var _ ledger.Client = (*LedgerRepository)(nil)

// adjustScript applies a delta to a balance only if the result stays
// non-negative, making the funds check and the adjustment a single atomic
// server-side step. Returns the new balance, or -1 on insufficient funds.
var adjustScript = redis.NewScript(`
local bal = tonumber(redis.call('GET', KEYS[1]) or '0')
local delta = tonumber(ARGV[1])
if bal + delta < 0 then
	return '-1'
end
bal = bal + delta
redis.call('SET', KEYS[1], tostring(bal))
if ARGV[2] == '1' then
	redis.call('SET', KEYS[2], '1')
end
return tostring(bal)
`)

// LedgerRepository implements ledger.Client using Redis
type LedgerRepository struct {
	client *redis.Client
}

// NewLedgerRepository creates a new redis-backed ledger repository
func NewLedgerRepository(client *redis.Client) *LedgerRepository {
	return &LedgerRepository{client: client}
}

// GetBalance retrieves the available balance for a user within a scope
func (r *LedgerRepository) GetBalance(ctx context.Context, userID, scope string) (ledger.Balance, error) {
	val, err := r.client.Get(ctx, r.balanceKey(userID, scope)).Result()
	if err == redis.Nil {
		return ledger.Balance{Available: decimal.Zero}, nil
	}
	if err != nil {
		return ledger.Balance{}, errors.Wrapf(errors.ErrLedgerUnavailable, "get balance user=%s scope=%s: %v", userID, scope, err)
	}

	available, err := decimal.NewFromString(val)
	if err != nil {
		return ledger.Balance{}, errors.Wrapf(errors.ErrLedgerUnavailable, "corrupt balance user=%s scope=%s: %v", userID, scope, err)
	}

	return ledger.Balance{Available: available}, nil
}

// AdjustBalance applies delta atomically via the Lua script
func (r *LedgerRepository) AdjustBalance(ctx context.Context, userID, scope string, delta decimal.Decimal, markActive bool) error {
	active := "0"
	if markActive {
		active = "1"
	}

	keys := []string{r.balanceKey(userID, scope), r.activeKey(userID, scope)}
	res, err := adjustScript.Run(ctx, r.client, keys, delta.String(), active).Text()
	if err != nil {
		return errors.Wrapf(errors.ErrLedgerUnavailable, "adjust balance user=%s scope=%s: %v", userID, scope, err)
	}
	if res == "-1" {
		return errors.Wrapf(errors.ErrInsufficientBalance, "user=%s scope=%s delta=%s", userID, scope, delta)
	}

	return nil
}

func (r *LedgerRepository) balanceKey(userID, scope string) string {
	return fmt.Sprintf("economy:balance:%s:%s", scope, userID)
}

func (r *LedgerRepository) activeKey(userID, scope string) string {
	return fmt.Sprintf("economy:active:%s:%s", scope, userID)
}
