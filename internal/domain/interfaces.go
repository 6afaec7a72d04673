package domain

import (
	"context"
	"time"
)

// PriceQuote is a price observation with its age attached so consumers can
// reject stale data.
type PriceQuote struct {
	Token      string
	Chain      string
	Price      float64
	ObservedAt time.Time
}

// PriceSource provides current prices. Quotes may be stale; it is the
// caller's job to check ObservedAt.
type PriceSource interface {
	CurrentPrice(ctx context.Context, token, chain string) (PriceQuote, error)
}

// TradeResult is the definitive response of the execution venue.
type TradeResult struct {
	ID          string
	FilledPrice float64
	Status      string
}

// TradeExecutor executes a trade decision against the competition venue.
type TradeExecutor interface {
	Execute(ctx context.Context, token string, side Side, amountUSD float64, chain, reason string) (*TradeResult, error)
}

// RemoteLedgerFeed exposes the venue's trade history, the source of truth the
// local ledger reconciles against.
type RemoteLedgerFeed interface {
	FetchTrades(ctx context.Context, since time.Time) ([]Trade, error)
}

// PortfolioSource supplies the current holdings snapshot.
type PortfolioSource interface {
	Portfolio(ctx context.Context) (*PortfolioSnapshot, error)
}

// TradeRepository defines storage operations for the trade ledger.
type TradeRepository interface {
	// SaveTrade inserts a trade, returning ErrDuplicateTrade when the id is
	// already present.
	SaveTrade(ctx context.Context, trade *Trade) error
	GetTrade(ctx context.Context, id string) (*Trade, error)
	// ListTradesInWindow returns trades with start <= timestamp < end,
	// ordered by timestamp ascending.
	ListTradesInWindow(ctx context.Context, start, end time.Time) ([]*Trade, error)
	ListTradesByStatus(ctx context.Context, status TradeStatus) ([]*Trade, error)
	UpdateTradeStatus(ctx context.Context, id string, status TradeStatus) error
	ListTrades(ctx context.Context, limit int) ([]*Trade, error)

	SavePositionHistory(ctx context.Context, history *PositionHistory) error
	ListPositionHistory(ctx context.Context, limit int) ([]*PositionHistory, error)
}
