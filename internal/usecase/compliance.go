package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/vitos/competition_agent/internal/domain"
)

type ComplianceState string

const (
	ComplianceInactive   ComplianceState = "inactive"
	ComplianceInProgress ComplianceState = "in_progress"
	ComplianceSatisfied  ComplianceState = "satisfied"
)

// ComplianceStatus is the derived daily-requirement status at one instant.
type ComplianceStatus struct {
	State      ComplianceState `json:"state"`
	TradingDay string          `json:"trading_day"`
	TradeCount int             `json:"trade_count"`
	Remaining  int             `json:"remaining"`
}

// ComplianceMonitor derives activity status from the clock and the ledger.
// It carries no state of its own except the per-day satisfied pin: once a day
// crosses the minimum it stays satisfied for that day, even if reconciliation
// later disputes trades.
type ComplianceMonitor struct {
	clock     *CompetitionClock
	ledger    *Ledger
	minTrades int

	mu        sync.Mutex
	satisfied map[string]bool
}

func NewComplianceMonitor(clock *CompetitionClock, ledger *Ledger, minTradesPerDay int) *ComplianceMonitor {
	return &ComplianceMonitor{
		clock:     clock,
		ledger:    ledger,
		minTrades: minTradesPerDay,
		satisfied: make(map[string]bool),
	}
}

func (m *ComplianceMonitor) Status(ctx context.Context, now time.Time) (ComplianceStatus, error) {
	if !m.clock.IsActive(now) {
		return ComplianceStatus{State: ComplianceInactive}, nil
	}

	day := m.clock.TradingDay(now)

	m.mu.Lock()
	pinned := m.satisfied[day]
	m.mu.Unlock()

	rec, err := m.ledger.DailyRecord(ctx, day, m.minTrades)
	if err != nil {
		return ComplianceStatus{}, err
	}

	status := ComplianceStatus{TradingDay: day, TradeCount: rec.TradeCount}
	if pinned || rec.Status == domain.DaySatisfied {
		status.State = ComplianceSatisfied
		if !pinned {
			m.mu.Lock()
			m.satisfied[day] = true
			m.mu.Unlock()
		}
		return status, nil
	}

	status.State = ComplianceInProgress
	status.Remaining = m.minTrades - rec.TradeCount
	return status, nil
}

// MinTradesPerDay exposes the configured minimum for reporting.
func (m *ComplianceMonitor) MinTradesPerDay() int { return m.minTrades }
