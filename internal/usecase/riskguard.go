package usecase

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/competition_agent/internal/domain"
)

// RiskParams are the static risk limits.
type RiskParams struct {
	StopLossPct       float64 // distance below entry, e.g. 0.07
	TakeProfitPct     float64 // distance above entry, e.g. 0.10
	TrailingStopPct   float64 // 0 disables trailing
	PartialExitAtPct  float64 // profit milestone for a partial exit, 0 disables
	PartialExitFrac   float64 // fraction of size released at the milestone
	MaxPositionPct    float64 // cap on entry size vs portfolio value
	DailyLossLimitPct float64 // portfolio-level kill switch
	MaxPriceAge       time.Duration
}

// ExitInstruction tells the caller to sell. Full means the whole remaining
// position.
type ExitInstruction struct {
	Token   string
	Chain   string
	SizeUSD float64
	Reason  string
	Full    bool
}

// RiskSnapshot is the externally visible risk state, written atomically for
// the monitoring reader.
type RiskSnapshot struct {
	UpdatedAt      time.Time         `json:"updated_at"`
	TradingDay     string            `json:"trading_day"`
	Halted         bool              `json:"halted"`
	HaltDay        string            `json:"halt_day,omitempty"`
	DayOpenEquity  float64           `json:"day_open_equity_usd"`
	RealizedPnLUSD float64           `json:"realized_pnl_usd"`
	Positions      []domain.Position `json:"positions"`
}

// RiskGuard enforces per-position exit rules and the portfolio-level daily
// loss limit. All evaluation is serialized under one mutex: two price
// observations for the same token are never applied concurrently, so the
// high-water price stays monotonic.
//
// The halt flag is set only here; only the rebalance engine clears it, at the
// next trading-day boundary.
type RiskGuard struct {
	params RiskParams
	clock  *CompetitionClock
	logger *zap.Logger

	mu            sync.Mutex
	positions     map[string]*domain.Position
	lastPrice     map[string]float64
	dayKey        string
	dayOpenEquity float64
	realizedPnL   float64
	halted        bool
	haltDay       string
}

func NewRiskGuard(params RiskParams, clock *CompetitionClock, logger *zap.Logger) *RiskGuard {
	return &RiskGuard{
		params:    params,
		clock:     clock,
		logger:    logger,
		positions: make(map[string]*domain.Position),
		lastPrice: make(map[string]float64),
	}
}

// StartDay resets the daily loss accounting at a trading-day rollover. It
// does not clear the halt flag; that is the rebalance engine's job.
func (g *RiskGuard) StartDay(dayKey string, equityUSD float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dayKey = dayKey
	g.dayOpenEquity = equityUSD
	g.realizedPnL = 0
	g.logger.Info("trading day started",
		zap.String("day", dayKey),
		zap.Float64("equity_open_usd", equityUSD))
}

// OpenPosition admits a new position, or grows an already active one. The
// sizing cap applies to the combined size and rejects with a SizingError,
// never clamping. Entries during a halt are rejected with ErrTradingHalted.
func (g *RiskGuard) OpenPosition(token, chain string, entryPrice, sizeUSD, portfolioValueUSD float64, now time.Time) (*domain.Position, error) {
	if entryPrice <= 0 {
		return nil, fmt.Errorf("open %s: non-positive entry price %f", token, entryPrice)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.halted {
		return nil, domain.ErrTradingHalted
	}
	maxUSD := portfolioValueUSD * g.params.MaxPositionPct
	if pos, exists := g.positions[token]; exists {
		if pos.State.Terminal() {
			return nil, fmt.Errorf("open %s: position awaiting exit", token)
		}
		if pos.SizeUSD+sizeUSD > maxUSD {
			return nil, &domain.SizingError{Token: token, RequestedUSD: pos.SizeUSD + sizeUSD, MaxUSD: maxUSD}
		}
		g.lastPrice[token] = entryPrice
		return g.growLocked(pos, entryPrice, sizeUSD), nil
	}
	if sizeUSD > maxUSD {
		return nil, &domain.SizingError{Token: token, RequestedUSD: sizeUSD, MaxUSD: maxUSD}
	}

	pos := &domain.Position{
		Token:           token,
		Chain:           chain,
		EntryPrice:      entryPrice,
		SizeUSD:         sizeUSD,
		StopLossPrice:   entryPrice * (1 - g.params.StopLossPct),
		TakeProfitPrice: entryPrice * (1 + g.params.TakeProfitPct),
		TrailingStopPct: g.params.TrailingStopPct,
		HighWaterPrice:  entryPrice,
		State:           domain.PositionOpen,
		OpenedAt:        now.UTC(),
	}
	g.positions[token] = pos
	g.lastPrice[token] = entryPrice
	g.logger.Info("position opened",
		zap.String("token", token),
		zap.Float64("entry", entryPrice),
		zap.Float64("size_usd", sizeUSD),
		zap.Float64("stop_loss", pos.StopLossPrice),
		zap.Float64("take_profit", pos.TakeProfitPrice))

	copyPos := *pos
	return &copyPos, nil
}

// growLocked folds an additional fill into an active position. The entry
// becomes the size-weighted average; the stop is only ever raised. Caller
// holds the lock.
func (g *RiskGuard) growLocked(pos *domain.Position, fillPrice, sizeUSD float64) *domain.Position {
	newSize := pos.SizeUSD + sizeUSD
	entry := (pos.EntryPrice*pos.SizeUSD + fillPrice*sizeUSD) / newSize
	pos.EntryPrice = entry
	pos.SizeUSD = newSize
	if sl := entry * (1 - g.params.StopLossPct); sl > pos.StopLossPrice {
		pos.StopLossPrice = sl
	}
	pos.TakeProfitPrice = entry * (1 + g.params.TakeProfitPct)
	if fillPrice > pos.HighWaterPrice {
		pos.HighWaterPrice = fillPrice
	}
	g.logger.Info("position increased",
		zap.String("token", pos.Token),
		zap.Float64("fill", fillPrice),
		zap.Float64("entry", entry),
		zap.Float64("size_usd", newSize))
	copyPos := *pos
	return &copyPos
}

// ObservePrice evaluates the exit rules for a token against a fresh price.
// Stale quotes are rejected with ErrStalePrice and change nothing. A returned
// instruction means the position transitioned and the caller must execute the
// exit, then call Finalize with the fill.
func (g *RiskGuard) ObservePrice(quote domain.PriceQuote, now time.Time) (*ExitInstruction, error) {
	if g.params.MaxPriceAge > 0 && now.Sub(quote.ObservedAt) > g.params.MaxPriceAge {
		return nil, domain.ErrStalePrice
	}
	if quote.Price <= 0 {
		return nil, fmt.Errorf("observe %s: non-positive price %f", quote.Token, quote.Price)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.lastPrice[quote.Token] = quote.Price

	pos, ok := g.positions[quote.Token]
	var instr *ExitInstruction
	if ok && !pos.State.Terminal() {
		instr = g.evaluate(pos, quote.Price)
	}

	g.checkDailyLoss(now)
	return instr, nil
}

// evaluate applies the transition rules. Caller holds the lock.
func (g *RiskGuard) evaluate(pos *domain.Position, price float64) *ExitInstruction {
	if price <= pos.StopLossPrice {
		pos.State = domain.PositionStoppedOut
		g.logger.Warn("stop loss hit",
			zap.String("token", pos.Token),
			zap.Float64("price", price),
			zap.Float64("stop_loss", pos.StopLossPrice))
		return &ExitInstruction{Token: pos.Token, Chain: pos.Chain, SizeUSD: pos.SizeUSD, Reason: "stop_loss", Full: true}
	}

	if price >= pos.TakeProfitPrice {
		pos.State = domain.PositionTakeProfitHit
		g.logger.Info("take profit hit",
			zap.String("token", pos.Token),
			zap.Float64("price", price),
			zap.Float64("take_profit", pos.TakeProfitPrice))
		return &ExitInstruction{Token: pos.Token, Chain: pos.Chain, SizeUSD: pos.SizeUSD, Reason: "take_profit", Full: true}
	}

	// Trailing stop: the high-water mark only moves up, and the stop is only
	// ever raised, never lowered.
	if pos.TrailingStopPct > 0 && price > pos.HighWaterPrice {
		pos.HighWaterPrice = price
		trail := pos.HighWaterPrice * (1 - pos.TrailingStopPct)
		if trail > pos.StopLossPrice {
			pos.StopLossPrice = trail
			g.logger.Debug("trailing stop raised",
				zap.String("token", pos.Token),
				zap.Float64("high_water", pos.HighWaterPrice),
				zap.Float64("stop_loss", trail))
		}
	}

	// Profit milestone: release part of the position once, keep the rest in
	// play under the same rules.
	if g.params.PartialExitAtPct > 0 && !pos.PartialExitTaken &&
		price >= pos.EntryPrice*(1+g.params.PartialExitAtPct) {
		exitUSD := pos.SizeUSD * g.params.PartialExitFrac
		pos.SizeUSD -= exitUSD
		pos.PartialExitTaken = true
		pos.State = domain.PositionPartialExit
		g.logger.Info("partial exit milestone",
			zap.String("token", pos.Token),
			zap.Float64("price", price),
			zap.Float64("exit_usd", exitUSD),
			zap.Float64("remaining_usd", pos.SizeUSD))
		return &ExitInstruction{Token: pos.Token, Chain: pos.Chain, SizeUSD: exitUSD, Reason: "partial_exit", Full: false}
	}

	return nil
}

// checkDailyLoss trips the halt once realized+unrealized losses for the day
// breach the limit. Caller holds the lock.
func (g *RiskGuard) checkDailyLoss(now time.Time) {
	if g.halted || g.dayOpenEquity <= 0 {
		return
	}
	total := g.realizedPnL + g.unrealizedLocked()
	lossPct := -total / g.dayOpenEquity
	if lossPct >= g.params.DailyLossLimitPct {
		g.halted = true
		g.haltDay = g.clock.TradingDay(now)
		g.logger.Error("daily loss limit breached, halting new entries",
			zap.Float64("loss_pct", lossPct),
			zap.Float64("limit_pct", g.params.DailyLossLimitPct),
			zap.String("halt_day", g.haltDay))
	}
}

// unrealizedLocked sums open-position P&L at the last observed prices.
// Caller holds the lock.
func (g *RiskGuard) unrealizedLocked() float64 {
	total := 0.0
	for token, pos := range g.positions {
		if pos.State.Terminal() {
			continue
		}
		price, ok := g.lastPrice[token]
		if !ok || pos.EntryPrice <= 0 {
			continue
		}
		total += (price - pos.EntryPrice) / pos.EntryPrice * pos.SizeUSD
	}
	return total
}

// Finalize settles an executed exit: realized P&L is booked, and a full exit
// removes the position from the active set. Partial exits stay active and
// keep re-entering the rule set.
func (g *RiskGuard) Finalize(instr *ExitInstruction, fillPrice float64, now time.Time) (*domain.PositionHistory, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos, ok := g.positions[instr.Token]
	if !ok {
		return nil, fmt.Errorf("finalize %s: no active position", instr.Token)
	}

	pnl := (fillPrice - pos.EntryPrice) / pos.EntryPrice * instr.SizeUSD
	g.realizedPnL += pnl
	hist := &domain.PositionHistory{
		Token:       instr.Token,
		Chain:       pos.Chain,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   fillPrice,
		SizeUSD:     instr.SizeUSD,
		RealizedPnL: pnl,
		Reason:      instr.Reason,
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    now.UTC(),
	}
	if instr.Full {
		delete(g.positions, instr.Token)
		g.logger.Info("position closed",
			zap.String("token", instr.Token),
			zap.Float64("exit", fillPrice),
			zap.Float64("pnl_usd", pnl),
			zap.String("reason", instr.Reason))
	}
	return hist, nil
}

// Abandon drops a position whose entry order never reached the venue. No
// P&L is booked.
func (g *RiskGuard) Abandon(token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.positions[token]; ok {
		delete(g.positions, token)
		g.logger.Warn("position abandoned, entry not executed", zap.String("token", token))
	}
}

// ReducePosition shrinks a tracked position after a rebalance sell. Selling
// the whole size removes it without booking an exit.
func (g *RiskGuard) ReducePosition(token string, amountUSD float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pos, ok := g.positions[token]
	if !ok {
		return
	}
	pos.SizeUSD -= amountUSD
	if pos.SizeUSD <= 0 {
		delete(g.positions, token)
		g.logger.Info("position fully unwound by rebalance", zap.String("token", token))
		return
	}
	g.logger.Info("position reduced by rebalance",
		zap.String("token", token),
		zap.Float64("remaining_usd", pos.SizeUSD))
}

// Halted reports the daily-loss halt state.
func (g *RiskGuard) Halted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.halted
}

// ClearHalt lifts the halt when a new trading day has begun. Calling it with
// the day that tripped the halt is a no-op.
func (g *RiskGuard) ClearHalt(dayKey string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.halted || dayKey == g.haltDay {
		return false
	}
	g.halted = false
	g.haltDay = ""
	g.logger.Info("halt cleared", zap.String("day", dayKey))
	return true
}

// ActivePositions returns copies of the non-terminal positions.
func (g *RiskGuard) ActivePositions() []domain.Position {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.Position, 0, len(g.positions))
	for _, pos := range g.positions {
		out = append(out, *pos)
	}
	return out
}

// Position returns a copy of one active position.
func (g *RiskGuard) Position(token string) (domain.Position, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pos, ok := g.positions[token]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Snapshot captures the risk state for the monitoring file.
func (g *RiskGuard) Snapshot(now time.Time) RiskSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	positions := make([]domain.Position, 0, len(g.positions))
	for _, pos := range g.positions {
		positions = append(positions, *pos)
	}
	return RiskSnapshot{
		UpdatedAt:      now.UTC(),
		TradingDay:     g.dayKey,
		Halted:         g.halted,
		HaltDay:        g.haltDay,
		DayOpenEquity:  g.dayOpenEquity,
		RealizedPnLUSD: g.realizedPnL,
		Positions:      positions,
	}
}
