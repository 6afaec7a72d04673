package domain

import "time"

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeStatus tracks reconciliation state of a locally recorded trade.
type TradeStatus string

const (
	// TradeStatusPending means the trade was recorded locally but not yet seen
	// in the remote trade history.
	TradeStatusPending TradeStatus = "pending"
	// TradeStatusConfirmed means the remote feed returned a matching trade id.
	TradeStatusConfirmed TradeStatus = "confirmed"
	// TradeStatusUnconfirmed means the remote counterpart stayed missing past
	// the reconcile retry budget. Unconfirmed trades do not count toward the
	// daily minimum.
	TradeStatusUnconfirmed TradeStatus = "unconfirmed"
)

// Trade is an immutable record of an executed trade. The id doubles as the
// idempotency key: recording the same id twice is a no-op.
type Trade struct {
	ID        string
	Timestamp time.Time // UTC
	Token     string
	Side      Side
	AmountUSD float64
	Price     float64
	Chain     string
	Status    TradeStatus
	Reason    string
}

// DayStatus is the daily-requirement state for one trading day.
type DayStatus string

const (
	DayNotStarted DayStatus = "not_started"
	DayInProgress DayStatus = "in_progress"
	DaySatisfied  DayStatus = "satisfied"
)

// DailyRecord is derived from the ledger on demand; it is never the source of
// truth.
type DailyRecord struct {
	TradingDay     string
	TradeCount     int
	TotalVolumeUSD float64
	Status         DayStatus
}
