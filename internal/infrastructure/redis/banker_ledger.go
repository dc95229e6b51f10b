package redis

import (
	"context"
	"fmt"
	"sync/atomic"

	"postauction-system/internal/domain"
	"postauction-system/pkg/logger"

	"github.com/go-redis/redis/v8"
)

// RedisBankerLedger is the banker adapter: a thin façade over an
// account ledger kept in Redis. Reservations and settlements move money
// between per-currency "reserved" and "spent" fields atomically, so a
// crashed matcher never leaves a transaction half-settled.
type RedisBankerLedger struct {
	client *redis.Client
	log    logger.Logger

	attached  uint64
	settled   uint64
	cancelled uint64
	forced    uint64
}

func NewRedisBankerLedger(client *redis.Client, log logger.Logger) *RedisBankerLedger {
	return &RedisBankerLedger{client: client, log: log}
}

func accountLedgerKey(account domain.AccountKey) string {
	return fmt.Sprintf("banker:account:%s", account.String())
}

func transactionKey(transactionID string) string {
	return fmt.Sprintf("banker:txn:%s", transactionID)
}

// AttachBid reserves the bid's max price against the account.
func (b *RedisBankerLedger) AttachBid(ctx context.Context, account domain.AccountKey, transactionID string, maxPrice domain.Amount) error {
	luaScript := `
        local txn_key = KEYS[1]
        local account_key = KEYS[2]

        if redis.call('EXISTS', txn_key) == 1 then
            return {0, "transaction_exists"}
        end

        redis.call('HSET', txn_key,
            'account', ARGV[1],
            'reserved', ARGV[2],
            'currency', ARGV[3])
        redis.call('HINCRBYFLOAT', account_key, 'reserved:' .. ARGV[3], ARGV[2])

        return {1, "reserved"}
    `

	result, err := b.client.Eval(ctx, luaScript,
		[]string{transactionKey(transactionID), accountLedgerKey(account)},
		account.String(),
		fmt.Sprintf("%f", maxPrice.Float64()),
		maxPrice.Currency).Result()
	if err != nil {
		return err
	}

	resultSlice := result.([]interface{})
	if resultSlice[0].(int64) != 1 {
		b.log.Warn("Duplicate bid reservation", "transaction_id", transactionID)
		return nil
	}

	atomic.AddUint64(&b.attached, 1)
	return nil
}

// WinBid settles an attached bid at the effective price, releasing the
// reservation. A settle with no reservation on file is honored anyway
// and flagged, so money is never dropped on a ledger miss.
func (b *RedisBankerLedger) WinBid(ctx context.Context, account domain.AccountKey, transactionID string, price domain.Amount, lineItems domain.LineItems) error {
	luaScript := `
        local txn_key = KEYS[1]
        local account_key = KEYS[2]

        local reserved = redis.call('HGET', txn_key, 'reserved')
        local currency = redis.call('HGET', txn_key, 'currency')

        if reserved ~= false then
            redis.call('HINCRBYFLOAT', account_key, 'reserved:' .. currency, '-' .. reserved)
            redis.call('DEL', txn_key)
        end

        redis.call('HINCRBYFLOAT', account_key, 'spent:' .. ARGV[1], ARGV[2])

        if reserved == false then
            return {0, "no_reservation"}
        end
        return {1, "settled"}
    `

	result, err := b.client.Eval(ctx, luaScript,
		[]string{transactionKey(transactionID), accountLedgerKey(account)},
		price.Currency,
		fmt.Sprintf("%f", price.Float64())).Result()
	if err != nil {
		return err
	}

	resultSlice := result.([]interface{})
	if resultSlice[0].(int64) != 1 {
		b.log.Warn("Settled bid without reservation", "transaction_id", transactionID)
	}

	atomic.AddUint64(&b.settled, 1)
	return nil
}

// ForceWinBid settles directly against the account, bypassing the
// reservation flow. Used for late wins whose reservation is long gone.
func (b *RedisBankerLedger) ForceWinBid(ctx context.Context, account domain.AccountKey, price domain.Amount, lineItems domain.LineItems) error {
	err := b.client.HIncrByFloat(ctx, accountLedgerKey(account),
		"spent:"+price.Currency, price.Float64()).Err()
	if err != nil {
		return err
	}

	atomic.AddUint64(&b.forced, 1)
	return nil
}

// CancelBid releases the reservation of a lost or abandoned bid.
func (b *RedisBankerLedger) CancelBid(ctx context.Context, account domain.AccountKey, transactionID string) error {
	luaScript := `
        local txn_key = KEYS[1]
        local account_key = KEYS[2]

        local reserved = redis.call('HGET', txn_key, 'reserved')
        local currency = redis.call('HGET', txn_key, 'currency')

        if reserved == false then
            return {0, "no_reservation"}
        end

        redis.call('HINCRBYFLOAT', account_key, 'reserved:' .. currency, '-' .. reserved)
        redis.call('DEL', txn_key)

        return {1, "released"}
    `

	result, err := b.client.Eval(ctx, luaScript,
		[]string{transactionKey(transactionID), accountLedgerKey(account)}).Result()
	if err != nil {
		return err
	}

	resultSlice := result.([]interface{})
	if resultSlice[0].(int64) != 1 {
		b.log.Warn("Cancelled bid without reservation", "transaction_id", transactionID)
		return nil
	}

	atomic.AddUint64(&b.cancelled, 1)
	return nil
}

// LogBidEvents flushes the ledger call counters to the recorder. Called
// once per expiry sweep.
func (b *RedisBankerLedger) LogBidEvents(ctx context.Context, recorder domain.EventRecorder) error {
	recorder.RecordOutcome(float64(atomic.LoadUint64(&b.attached)), "banker.attachedBids")
	recorder.RecordOutcome(float64(atomic.LoadUint64(&b.settled)), "banker.settledBids")
	recorder.RecordOutcome(float64(atomic.LoadUint64(&b.cancelled)), "banker.cancelledBids")
	recorder.RecordOutcome(float64(atomic.LoadUint64(&b.forced)), "banker.forcedWinBids")
	return nil
}
