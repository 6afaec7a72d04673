package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/competition_agent/internal/domain"
)

// Ledger is the append-only, deduplicated record of executed trades. Writes
// are serialized (single-writer discipline); reads go straight to the
// repository and never observe a partially applied trade.
type Ledger struct {
	repo  domain.TradeRepository
	clock *CompetitionClock

	mu sync.Mutex
}

func NewLedger(repo domain.TradeRepository, clock *CompetitionClock) *Ledger {
	return &Ledger{repo: repo, clock: clock}
}

// Record inserts a trade. Recording an id that is already present returns
// domain.ErrDuplicateTrade and changes nothing, so callers may retry the same
// trade safely after network errors.
func (l *Ledger) Record(ctx context.Context, trade *domain.Trade) error {
	if trade.ID == "" {
		return fmt.Errorf("record trade: empty id")
	}
	if trade.AmountUSD < 0 {
		return fmt.Errorf("record trade %s: negative amount %f", trade.ID, trade.AmountUSD)
	}
	// Normalize a copy; the caller's trade stays untouched.
	rec := *trade
	if rec.Status == "" {
		rec.Status = domain.TradeStatusPending
	}
	rec.Timestamp = rec.Timestamp.UTC()

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.SaveTrade(ctx, &rec)
}

// TradesInWindow returns trades with start <= timestamp < end in ascending
// timestamp order.
func (l *Ledger) TradesInWindow(ctx context.Context, start, end time.Time) ([]*domain.Trade, error) {
	return l.repo.ListTradesInWindow(ctx, start, end)
}

// DailyRecord folds the ledger over one trading day. Unconfirmed trades are
// excluded: a failed-but-locally-recorded trade must not count toward the
// daily minimum.
func (l *Ledger) DailyRecord(ctx context.Context, dayKey string, minTradesPerDay int) (*domain.DailyRecord, error) {
	start, end, err := l.clock.DayBounds(dayKey)
	if err != nil {
		return nil, err
	}
	trades, err := l.repo.ListTradesInWindow(ctx, start, end)
	if err != nil {
		return nil, err
	}

	rec := &domain.DailyRecord{TradingDay: dayKey, Status: domain.DayNotStarted}
	for _, t := range trades {
		if t.Status == domain.TradeStatusUnconfirmed {
			continue
		}
		rec.TradeCount++
		rec.TotalVolumeUSD += t.AmountUSD
	}
	switch {
	case rec.TradeCount >= minTradesPerDay:
		rec.Status = domain.DaySatisfied
	case rec.TradeCount > 0:
		rec.Status = domain.DayInProgress
	}
	return rec, nil
}

// Confirm marks a pending trade as confirmed by the remote feed.
func (l *Ledger) Confirm(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.UpdateTradeStatus(ctx, id, domain.TradeStatusConfirmed)
}

// MarkUnconfirmed demotes a pending trade whose remote counterpart stayed
// missing past the retry budget.
func (l *Ledger) MarkUnconfirmed(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repo.UpdateTradeStatus(ctx, id, domain.TradeStatusUnconfirmed)
}

// PendingTrades lists trades still waiting for remote confirmation.
func (l *Ledger) PendingTrades(ctx context.Context) ([]*domain.Trade, error) {
	return l.repo.ListTradesByStatus(ctx, domain.TradeStatusPending)
}

// RecentTrades returns the newest trades for the status surface.
func (l *Ledger) RecentTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	return l.repo.ListTrades(ctx, limit)
}
