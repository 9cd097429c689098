package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// JobFilter narrows a JobStore query. Zero fields are ignored. Args matches
// on exact equality of the named arguments only.
type JobFilter struct {
	Type      JobType
	TypeNotIn []JobType
	Status    []JobStatus
	Args      map[string]string
	QueueID   string
	Since     *time.Time
	Limit     int
}

// JobStore is the durable collection of job records.
type JobStore interface {
	Insert(ctx context.Context, job Job) error
	// Update persists the mutable fields of an existing job (status, worker
	// handle, result, error). The identity field is never rewritten.
	Update(ctx context.Context, job Job) error
	GetByID(ctx context.Context, id string) (Job, error)
	Find(ctx context.Context, f JobFilter) ([]Job, error)
	Exists(ctx context.Context, f JobFilter) (bool, error)
	// DeleteByStatus removes all jobs in the given status and returns the
	// number removed. Used by the executor to clear RUNNING jobs on stop.
	DeleteByStatus(ctx context.Context, status JobStatus) (int64, error)
}

// QueueStatusStore holds the one-per-executor-instance status records.
type QueueStatusStore interface {
	// Clear removes every status record; called on executor startup to sweep
	// records left behind by crashed instances.
	Clear(ctx context.Context) error
	Create(ctx context.Context, qs QueueStatus) error
	Get(ctx context.Context, id string) (QueueStatus, error)
	// List returns every status record. A starting executor probes these for
	// a still-alive predecessor before sweeping.
	List(ctx context.Context) ([]QueueStatus, error)
	SetRunning(ctx context.Context, id string, running bool) error
}

// AuditStore is the append-mostly audit trail for profit and withdrawal-fee
// events.
type AuditStore interface {
	LogProfit(ctx context.Context, ev ProfitEvent) (string, error)
	LogWithdrawalFee(ctx context.Context, ev WithdrawalFeeEvent) (string, error)
	// UpdateWithdrawalFee sets the realized fee on an existing event once the
	// venue reports it.
	UpdateWithdrawalFee(ctx context.Context, id string, fee decimal.Decimal) error
	ListProfitBefore(ctx context.Context, before time.Time) ([]ProfitEvent, error)
	DeleteProfitBefore(ctx context.Context, before time.Time) (int64, error)
}

// BalanceStore caches per-exchange balance snapshots. Reads return the most
// recent snapshot; snapshots are advisory and never trusted across a
// comparison cycle.
type BalanceStore interface {
	Upsert(ctx context.Context, exchange string, balances Balances) error
	Latest(ctx context.Context, exchange string) (Balances, time.Time, error)
}

// FiatRateStore persists the history of crypto-to-fiat conversion rates.
type FiatRateStore interface {
	Insert(ctx context.Context, symbol, fiat string, rate decimal.Decimal) error
	Latest(ctx context.Context, symbol, fiat string) (decimal.Decimal, time.Time, error)
}

// TradeStore persists executed trades.
type TradeStore interface {
	Upsert(ctx context.Context, trade Trade) error
	ListRecent(ctx context.Context, limit int) ([]Trade, error)
}

// MarketStore persists each venue's listed markets so the cross-venue pair
// map survives restarts. Refreshed by setup mode.
type MarketStore interface {
	// ReplaceAll swaps the venue's full listing for the given markets.
	ReplaceAll(ctx context.Context, exchange string, markets []Market) error
	ListByExchange(ctx context.Context, exchange string) ([]Market, error)
	// VenuesForPair returns the names of every venue listing the pair.
	VenuesForPair(ctx context.Context, pair TradePair) ([]string, error)
}
