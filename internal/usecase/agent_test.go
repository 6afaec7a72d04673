package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/competition_agent/internal/domain"
	"github.com/vitos/competition_agent/internal/usecase"
)

type agentFixture struct {
	agent     *usecase.AgentService
	guard     *usecase.RiskGuard
	venue     *mockVenue
	prices    *mockPrices
	portfolio *mockPortfolio
	repo      *memRepo
}

func newAgentFixture(t *testing.T) *agentFixture {
	t.Helper()
	clock := testClock(t)
	repo := newMemRepo()
	ledger := usecase.NewLedger(repo, clock)
	monitor := usecase.NewComplianceMonitor(clock, ledger, 3)
	guard := usecase.NewRiskGuard(testRiskParams(), clock, zap.NewNop())
	engine := usecase.NewRebalanceEngine(testRebalanceParams(), clock, guard, monitor, testTargets(), zap.NewNop())
	venue := &mockVenue{result: domain.TradeResult{ID: "venue-1", FilledPrice: 100}}
	executor := usecase.NewGuardedExecutor(venue, ledger, zap.NewNop(), zap.NewNop())
	prices := &mockPrices{prices: map[string]float64{"WETH": 100, "WBTC": 100, "LINK": 100}}
	portfolio := &mockPortfolio{snapshot: domain.PortfolioSnapshot{
		ValuesUSD:     map[string]float64{"WETH": 4000, "WBTC": 3000, "USDC": 3000},
		TotalValueUSD: 10000,
	}}
	agent := usecase.NewAgentService(clock, ledger, guard, engine, executor, portfolio, prices, repo, zap.NewNop())
	return &agentFixture{agent: agent, guard: guard, venue: venue, prices: prices, portfolio: portfolio, repo: repo}
}

func TestStartDaySetsEquity(t *testing.T) {
	f := newAgentFixture(t)
	now := nyTime(t, 2026, 9, 2, 9, 0)

	require.NoError(t, f.agent.StartDay(context.Background(), now))
	snap := f.guard.Snapshot(now)
	assert.Equal(t, "2026-09-02", snap.TradingDay)
	assert.Equal(t, 10000.0, snap.DayOpenEquity)
}

func TestRunRebalanceBuyOpensPositionAndExecutes(t *testing.T) {
	f := newAgentFixture(t)
	now := nyTime(t, 2026, 9, 2, 10, 0) // inside a slot

	// WBTC 10% underweight.
	f.portfolio.snapshot.ValuesUSD = map[string]float64{"WETH": 4000, "WBTC": 2000, "USDC": 4000}

	require.NoError(t, f.agent.RunRebalance(context.Background(), now))

	require.Equal(t, 1, f.venue.callCount())
	call := f.venue.calls[0]
	assert.Equal(t, "WBTC", call.Token)
	assert.Equal(t, domain.SideBuy, call.Side)
	assert.InDelta(t, 850.0, call.AmountUSD, 1e-9)

	pos, ok := f.guard.Position("WBTC")
	require.True(t, ok)
	assert.Equal(t, 100.0, pos.EntryPrice)
	assert.InDelta(t, 850.0, pos.SizeUSD, 1e-9)
}

func TestRunRebalanceSellReducesTrackedPosition(t *testing.T) {
	f := newAgentFixture(t)
	now := nyTime(t, 2026, 9, 2, 10, 0)

	_, err := f.guard.OpenPosition("WETH", "eth", 100, 900, 10000, now)
	require.NoError(t, err)

	// WETH 5% overweight: sell 350.
	f.portfolio.snapshot.ValuesUSD = map[string]float64{"WETH": 4500, "WBTC": 3000, "USDC": 2500}

	require.NoError(t, f.agent.RunRebalance(context.Background(), now))

	require.Equal(t, 1, f.venue.callCount())
	assert.Equal(t, domain.SideSell, f.venue.calls[0].Side)

	pos, ok := f.guard.Position("WETH")
	require.True(t, ok)
	assert.InDelta(t, 550.0, pos.SizeUSD, 1e-9)
}

func TestRunRebalancePermanentFailureAbandonsEntry(t *testing.T) {
	f := newAgentFixture(t)
	now := nyTime(t, 2026, 9, 2, 10, 0)

	f.portfolio.snapshot.ValuesUSD = map[string]float64{"WETH": 4000, "WBTC": 2000, "USDC": 4000}
	f.venue.err = &domain.InsufficientBalanceError{Token: "WBTC", Msg: "broke"}

	require.NoError(t, f.agent.RunRebalance(context.Background(), now))

	_, ok := f.guard.Position("WBTC")
	assert.False(t, ok, "failed entry must not leave a tracked position")
}

func TestRunRebalanceTransientFailureKeepsPosition(t *testing.T) {
	f := newAgentFixture(t)
	now := nyTime(t, 2026, 9, 2, 10, 0)

	f.portfolio.snapshot.ValuesUSD = map[string]float64{"WETH": 4000, "WBTC": 2000, "USDC": 4000}
	f.venue.err = &domain.TransientError{Err: errors.New("timeout")}

	require.NoError(t, f.agent.RunRebalance(context.Background(), now))

	// The order may have filled; keep tracking risk until reconciliation.
	_, ok := f.guard.Position("WBTC")
	assert.True(t, ok)
}

func TestRunRebalanceInactiveDoesNothing(t *testing.T) {
	f := newAgentFixture(t)
	require.NoError(t, f.agent.RunRebalance(context.Background(), testWindow().End.Add(time.Hour)))
	assert.Equal(t, 0, f.venue.callCount())
}

func TestRunRebalanceMaintenanceTopUpsAllExecute(t *testing.T) {
	f := newAgentFixture(t)
	// 07:00 on Sep 3 is trading day Sep 2, inside the maintenance window but
	// outside a slot. No trades yet, so all three top-ups are due.
	now := nyTime(t, 2026, 9, 3, 7, 0)

	f.portfolio.snapshot.ValuesUSD = map[string]float64{"WETH": 4000, "WBTC": 2000, "USDC": 4000}

	require.NoError(t, f.agent.RunRebalance(context.Background(), now))

	require.Equal(t, 3, f.venue.callCount(), "every top-up must reach the venue")
	for _, call := range f.venue.calls {
		assert.Equal(t, "WBTC", call.Token)
		assert.Equal(t, domain.SideBuy, call.Side)
		assert.Equal(t, 25.0, call.AmountUSD)
	}

	// The three fills merged into one tracked position.
	pos, ok := f.guard.Position("WBTC")
	require.True(t, ok)
	assert.Equal(t, 75.0, pos.SizeUSD)
	assert.Equal(t, 100.0, pos.EntryPrice)
}

func TestRunRebalancePermanentFailureRollsBackGrowth(t *testing.T) {
	f := newAgentFixture(t)
	now := nyTime(t, 2026, 9, 2, 10, 0)

	_, err := f.guard.OpenPosition("WBTC", "eth", 100, 500, 10000, now)
	require.NoError(t, err)

	// WBTC 4% underweight: buy 250 on top of the tracked 500.
	f.portfolio.snapshot.ValuesUSD = map[string]float64{"WETH": 4000, "WBTC": 2600, "USDC": 3400}
	f.venue.err = &domain.InsufficientBalanceError{Token: "WBTC", Msg: "broke"}

	require.NoError(t, f.agent.RunRebalance(context.Background(), now))

	// Only the failed increment is unwound, not the original position.
	pos, ok := f.guard.Position("WBTC")
	require.True(t, ok)
	assert.InDelta(t, 500.0, pos.SizeUSD, 1e-9)
}

func TestHandleQuoteExecutesExit(t *testing.T) {
	f := newAgentFixture(t)
	now := nyTime(t, 2026, 9, 2, 10, 0)
	f.guard.StartDay("2026-09-02", 10000)

	_, err := f.guard.OpenPosition("WETH", "eth", 100, 900, 10000, now)
	require.NoError(t, err)

	f.venue.result = domain.TradeResult{ID: "exit-1", FilledPrice: 92}
	f.agent.HandleQuote(context.Background(), freshQuote("WETH", 92, now), now)

	require.Equal(t, 1, f.venue.callCount())
	assert.Equal(t, domain.SideSell, f.venue.calls[0].Side)
	assert.Equal(t, "stop_loss", f.venue.calls[0].Reason)

	_, ok := f.guard.Position("WETH")
	assert.False(t, ok, "finalized exit removes the position")

	history, err := f.repo.ListPositionHistory(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.InDelta(t, -72.0, history[0].RealizedPnL, 1e-9) // (92-100)/100 * 900
}

func TestFailedExitRetriedOnPoll(t *testing.T) {
	f := newAgentFixture(t)
	now := nyTime(t, 2026, 9, 2, 10, 0)
	f.guard.StartDay("2026-09-02", 10000)

	_, err := f.guard.OpenPosition("WETH", "eth", 100, 900, 10000, now)
	require.NoError(t, err)

	// First attempt fails outright.
	f.venue.err = &domain.InsufficientBalanceError{Token: "WETH", Msg: "venue hiccup"}
	f.agent.HandleQuote(context.Background(), freshQuote("WETH", 92, now), now)

	pos, ok := f.guard.Position("WETH")
	require.True(t, ok, "position must survive a failed exit")
	assert.Equal(t, domain.PositionStoppedOut, pos.State)

	// Venue recovers; the poll retries the parked exit.
	f.venue.err = nil
	f.venue.result = domain.TradeResult{ID: "exit-2", FilledPrice: 91}
	f.agent.PollRisk(context.Background(), now)

	_, ok = f.guard.Position("WETH")
	assert.False(t, ok)
	history, err := f.repo.ListPositionHistory(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
