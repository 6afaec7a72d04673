package domain

import (
	"fmt"
	"math"
)

// WeightTolerance is how far target weights may drift from summing to 1.0
// before the configuration is rejected.
const WeightTolerance = 0.001

// TargetAllocation maps an asset symbol to its target portfolio weight.
// Mutated only by explicit reconfiguration, never by the engine.
type TargetAllocation map[string]float64

func (a TargetAllocation) Validate() error {
	if len(a) == 0 {
		return fmt.Errorf("target allocation: empty")
	}
	sum := 0.0
	for sym, w := range a {
		if w < 0 {
			return fmt.Errorf("target allocation: negative weight %f for %s", w, sym)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > WeightTolerance {
		return fmt.Errorf("target allocation: weights sum to %f, want 1.0±%g", sum, WeightTolerance)
	}
	return nil
}

// PortfolioSnapshot is the externally supplied view of current holdings.
type PortfolioSnapshot struct {
	ValuesUSD     map[string]float64 // symbol -> USD value
	TotalValueUSD float64
}

// Weight returns the current portfolio weight of a symbol, 0 when the
// portfolio is empty.
func (p *PortfolioSnapshot) Weight(symbol string) float64 {
	if p.TotalValueUSD <= 0 {
		return 0
	}
	return p.ValuesUSD[symbol] / p.TotalValueUSD
}
