package usecase

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitos/competition_agent/internal/domain"
)

// TradeDecision is one trade the engine wants executed. The id is the
// idempotency key carried end-to-end through execution.
type TradeDecision struct {
	ID          string
	Token       string
	Chain       string
	Side        domain.Side
	AmountUSD   float64
	Reason      string
	Maintenance bool
}

type RebalanceParams struct {
	DriftThreshold    float64
	SlotMinutes       []int // minutes after local midnight
	SlotTolerance     time.Duration
	MaintenanceWindow time.Duration // how close to the day end top-ups kick in
	MaintenanceUSD    float64
	MaxPositionPct    float64
	StableSymbol      string
	Chain             string
}

// RebalanceEngine decides when and how large rebalancing trades must be,
// honoring the drift threshold, the scheduled trade slots, the risk halt and
// the compliance minimum-activity rule.
type RebalanceEngine struct {
	params     RebalanceParams
	clock      *CompetitionClock
	guard      *RiskGuard
	compliance *ComplianceMonitor
	targets    domain.TargetAllocation
	logger     *zap.Logger
}

func NewRebalanceEngine(
	params RebalanceParams,
	clock *CompetitionClock,
	guard *RiskGuard,
	compliance *ComplianceMonitor,
	targets domain.TargetAllocation,
	logger *zap.Logger,
) *RebalanceEngine {
	return &RebalanceEngine{
		params:     params,
		clock:      clock,
		guard:      guard,
		compliance: compliance,
		targets:    targets,
		logger:     logger,
	}
}

type assetDrift struct {
	symbol string
	drift  float64 // current - target, signed
}

// Decide produces the ordered trade decisions for one cycle. Drift trades
// come first, largest absolute drift breaking ties; maintenance top-ups are
// appended last. No decision is emitted while halted or outside the
// competition range.
func (e *RebalanceEngine) Decide(ctx context.Context, snapshot *domain.PortfolioSnapshot, now time.Time) ([]TradeDecision, error) {
	status, err := e.compliance.Status(ctx, now)
	if err != nil {
		return nil, err
	}
	if status.State == ComplianceInactive {
		return nil, nil
	}

	// A new trading day lifts the halt; no-op while still inside the day
	// that tripped it.
	e.guard.ClearHalt(e.clock.TradingDay(now))

	var decisions []TradeDecision
	drifts := e.driftedAssets(snapshot)

	if !e.guard.Halted() && e.inSlot(now) {
		for _, d := range drifts {
			decisions = append(decisions, e.driftDecision(d, snapshot))
		}
	}

	if status.State == ComplianceInProgress && !e.guard.Halted() && e.nearDayEnd(now) {
		// Drift trades emitted this cycle count toward the minimum.
		if need := status.Remaining - len(decisions); need > 0 {
			decisions = append(decisions, e.maintenanceDecisions(need, drifts, snapshot)...)
		}
	}

	if len(decisions) > 0 {
		e.logger.Info("rebalance decisions",
			zap.Int("count", len(decisions)),
			zap.String("compliance", string(status.State)),
			zap.Int("remaining", status.Remaining))
	}
	return decisions, nil
}

// driftedAssets returns assets whose |drift| exceeds the threshold, largest
// first. The stable leg is implicit: every trade is against the stablecoin,
// so its weight corrects as the others do.
func (e *RebalanceEngine) driftedAssets(snapshot *domain.PortfolioSnapshot) []assetDrift {
	var out []assetDrift
	for symbol, target := range e.targets {
		if symbol == e.params.StableSymbol {
			continue
		}
		drift := snapshot.Weight(symbol) - target
		if math.Abs(drift) > e.params.DriftThreshold {
			out = append(out, assetDrift{symbol: symbol, drift: drift})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return math.Abs(out[i].drift) > math.Abs(out[j].drift)
	})
	return out
}

// driftDecision sizes a trade to bring the asset back inside the threshold,
// aiming at half the threshold rather than the exact target so volatile
// prices do not cause overshoot oscillation.
func (e *RebalanceEngine) driftDecision(d assetDrift, snapshot *domain.PortfolioSnapshot) TradeDecision {
	moveWeight := math.Abs(d.drift) - e.params.DriftThreshold/2
	amountUSD := moveWeight * snapshot.TotalValueUSD
	amountUSD = math.Min(amountUSD, e.params.MaxPositionPct*snapshot.TotalValueUSD)

	side := domain.SideBuy
	if d.drift > 0 { // overweight: sell down
		side = domain.SideSell
	}
	return TradeDecision{
		ID:        uuid.New().String(),
		Token:     d.symbol,
		Chain:     e.params.Chain,
		Side:      side,
		AmountUSD: amountUSD,
		Reason:    "rebalance drift",
	}
}

// maintenanceDecisions emits the small top-up trades needed to reach the
// daily minimum. They obey the same sizing cap and halt rules as drift
// trades; the buy leg goes to the most underweight asset, falling back to
// the least overweight target.
func (e *RebalanceEngine) maintenanceDecisions(remaining int, drifts []assetDrift, snapshot *domain.PortfolioSnapshot) []TradeDecision {
	token := e.mostUnderweight(snapshot)
	if token == "" {
		return nil
	}
	amountUSD := math.Min(e.params.MaintenanceUSD, e.params.MaxPositionPct*snapshot.TotalValueUSD)

	out := make([]TradeDecision, 0, remaining)
	for i := 0; i < remaining; i++ {
		out = append(out, TradeDecision{
			ID:          uuid.New().String(),
			Token:       token,
			Chain:       e.params.Chain,
			Side:        domain.SideBuy,
			AmountUSD:   amountUSD,
			Reason:      "maintenance minimum activity",
			Maintenance: true,
		})
	}
	return out
}

func (e *RebalanceEngine) mostUnderweight(snapshot *domain.PortfolioSnapshot) string {
	best := ""
	bestDrift := math.Inf(1)
	for symbol, target := range e.targets {
		if symbol == e.params.StableSymbol {
			continue
		}
		drift := snapshot.Weight(symbol) - target
		if drift < bestDrift {
			bestDrift = drift
			best = symbol
		}
	}
	return best
}

// inSlot reports whether now falls inside a scheduled trade slot ± tolerance.
func (e *RebalanceEngine) inSlot(now time.Time) bool {
	local := now.In(e.clock.Location())
	minutes := float64(local.Hour()*60 + local.Minute())
	tol := e.params.SlotTolerance.Minutes()
	for _, slot := range e.params.SlotMinutes {
		if math.Abs(minutes-float64(slot)) <= tol {
			return true
		}
	}
	return false
}

// nearDayEnd reports whether the trading day ends within the maintenance
// window.
func (e *RebalanceEngine) nearDayEnd(now time.Time) bool {
	return e.clock.NextBoundary(now).Sub(now) <= e.params.MaintenanceWindow
}
