package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitos/competition_agent/internal/domain"
)

// AgentService ties the clock, ledger, risk guard, rebalance engine and
// executor into the trading cycles the scheduler fires. It owns no policy of
// its own; it sequences the components and keeps failed exits retryable.
type AgentService struct {
	clock     *CompetitionClock
	ledger    *Ledger
	guard     *RiskGuard
	engine    *RebalanceEngine
	executor  *GuardedExecutor
	portfolio domain.PortfolioSource
	prices    domain.PriceSource
	repo      domain.TradeRepository
	logger    *zap.Logger

	// pendingExits holds exit instructions whose sell order failed; they are
	// retried on the next risk poll so a position never silently sticks.
	// Guarded by mu: quotes arrive from both the poll loop and the stream.
	mu           sync.Mutex
	pendingExits map[string]*ExitInstruction
}

func NewAgentService(
	clock *CompetitionClock,
	ledger *Ledger,
	guard *RiskGuard,
	engine *RebalanceEngine,
	executor *GuardedExecutor,
	portfolio domain.PortfolioSource,
	prices domain.PriceSource,
	repo domain.TradeRepository,
	logger *zap.Logger,
) *AgentService {
	return &AgentService{
		clock:        clock,
		ledger:       ledger,
		guard:        guard,
		engine:       engine,
		executor:     executor,
		portfolio:    portfolio,
		prices:       prices,
		repo:         repo,
		logger:       logger,
		pendingExits: make(map[string]*ExitInstruction),
	}
}

// StartDay resets the daily loss accounting with the equity at the boundary.
func (a *AgentService) StartDay(ctx context.Context, now time.Time) error {
	snapshot, err := a.portfolio.Portfolio(ctx)
	if err != nil {
		a.logger.Error("day start portfolio fetch failed", zap.Error(err))
		return err
	}
	a.guard.StartDay(a.clock.TradingDay(now), snapshot.TotalValueUSD)
	return nil
}

// RunRebalance executes one decision cycle: snapshot the portfolio, ask the
// engine what to trade, push each decision through the guard and the
// executor.
func (a *AgentService) RunRebalance(ctx context.Context, now time.Time) error {
	if !a.clock.IsActive(now) {
		return nil
	}

	snapshot, err := a.portfolio.Portfolio(ctx)
	if err != nil {
		a.logger.Error("portfolio fetch failed", zap.Error(err))
		return err
	}

	decisions, err := a.engine.Decide(ctx, snapshot, now)
	if err != nil {
		return err
	}

	for _, d := range decisions {
		if err := a.executeDecision(ctx, d, snapshot, now); err != nil {
			a.logger.Warn("decision not executed",
				zap.String("decision_id", d.ID),
				zap.String("token", d.Token),
				zap.Error(err))
		}
	}
	return nil
}

// executeDecision runs one decision. Buys register the position with the
// guard before the order goes out, so halt and sizing rejections never reach
// the venue.
func (a *AgentService) executeDecision(ctx context.Context, d TradeDecision, snapshot *domain.PortfolioSnapshot, now time.Time) error {
	if d.Side == domain.SideSell {
		if _, err := a.executor.Execute(ctx, d, now); err != nil {
			return err
		}
		a.guard.ReducePosition(d.Token, d.AmountUSD)
		return nil
	}

	quote, err := a.prices.CurrentPrice(ctx, d.Token, d.Chain)
	if err != nil {
		return err
	}

	_, existed := a.guard.Position(d.Token)
	if _, err := a.guard.OpenPosition(d.Token, d.Chain, quote.Price, d.AmountUSD, snapshot.TotalValueUSD, now); err != nil {
		if errors.Is(err, domain.ErrTradingHalted) {
			a.logger.Warn("entry suppressed by halt", zap.String("token", d.Token))
		}
		return err
	}

	if _, err := a.executor.Execute(ctx, d, now); err != nil {
		if domain.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
			// The order may have filled. Keep the position tracked; the
			// reconciler settles the ledger side.
			return err
		}
		// Roll back only what this decision added.
		if existed {
			a.guard.ReducePosition(d.Token, d.AmountUSD)
		} else {
			a.guard.Abandon(d.Token)
		}
		return err
	}
	return nil
}

// PollRisk fetches fresh prices for the active positions, feeds them to the
// guard and executes any exits it orders. Previously failed exits are retried
// first.
func (a *AgentService) PollRisk(ctx context.Context, now time.Time) {
	a.retryPendingExits(ctx, now)

	for _, pos := range a.guard.ActivePositions() {
		if pos.State.Terminal() {
			continue
		}
		quote, err := a.prices.CurrentPrice(ctx, pos.Token, pos.Chain)
		if err != nil {
			a.logger.Warn("price fetch failed",
				zap.String("token", pos.Token), zap.Error(err))
			continue
		}
		a.HandleQuote(ctx, quote, now)
	}
}

// HandleQuote feeds one price observation to the risk guard. Stale quotes are
// dropped. An exit instruction is executed immediately.
func (a *AgentService) HandleQuote(ctx context.Context, quote domain.PriceQuote, now time.Time) {
	instr, err := a.guard.ObservePrice(quote, now)
	if err != nil {
		if errors.Is(err, domain.ErrStalePrice) {
			a.logger.Debug("stale quote dropped", zap.String("token", quote.Token))
		} else {
			a.logger.Warn("price observation rejected",
				zap.String("token", quote.Token), zap.Error(err))
		}
		return
	}
	if instr == nil {
		return
	}
	a.executeExit(ctx, instr, now)
}

func (a *AgentService) executeExit(ctx context.Context, instr *ExitInstruction, now time.Time) {
	d := TradeDecision{
		ID:        uuid.New().String(),
		Token:     instr.Token,
		Chain:     instr.Chain,
		Side:      domain.SideSell,
		AmountUSD: instr.SizeUSD,
		Reason:    instr.Reason,
	}

	trade, err := a.executor.Execute(ctx, d, now)
	if err != nil {
		a.logger.Error("exit execution failed, will retry",
			zap.String("token", instr.Token),
			zap.String("reason", instr.Reason),
			zap.Error(err))
		a.mu.Lock()
		a.pendingExits[instr.Token] = instr
		a.mu.Unlock()
		return
	}
	a.mu.Lock()
	delete(a.pendingExits, instr.Token)
	a.mu.Unlock()

	hist, err := a.guard.Finalize(instr, trade.Price, now)
	if err != nil {
		a.logger.Error("exit finalize failed",
			zap.String("token", instr.Token), zap.Error(err))
		return
	}
	if err := a.repo.SavePositionHistory(ctx, hist); err != nil {
		a.logger.Error("position history save failed",
			zap.String("token", instr.Token), zap.Error(err))
	}
}

func (a *AgentService) retryPendingExits(ctx context.Context, now time.Time) {
	a.mu.Lock()
	pending := make([]*ExitInstruction, 0, len(a.pendingExits))
	for _, instr := range a.pendingExits {
		pending = append(pending, instr)
	}
	a.mu.Unlock()

	for _, instr := range pending {
		a.executeExit(ctx, instr, now)
	}
}
