package usecase

import (
	"github.com/vitos/competition_agent/internal/domain"
)

// TargetGuard sanitizes a proposed target allocation before the rebalance
// engine ever sees it: unknown symbols are dropped, negatives clamped, a
// per-token cap and a minimum stablecoin floor applied, and the result
// renormalized.
type TargetGuard struct {
	StableSymbol string
	MinStablePct float64
	MaxTokenPct  float64
	Allowed      []string
}

func (g *TargetGuard) equalSplit() domain.TargetAllocation {
	out := make(domain.TargetAllocation, len(g.Allowed))
	for _, sym := range g.Allowed {
		out[sym] = 1.0 / float64(len(g.Allowed))
	}
	return out
}

// Sanitize returns a safe allocation. It never returns an empty or
// non-normalized map; a degenerate input falls back to an equal split across
// the allowed set.
func (g *TargetGuard) Sanitize(proposed domain.TargetAllocation) domain.TargetAllocation {
	clean := make(domain.TargetAllocation)
	for _, sym := range g.Allowed {
		if w := proposed[sym]; w > 0 {
			clean[sym] = w
		}
	}
	if _, ok := clean[g.StableSymbol]; !ok {
		clean[g.StableSymbol] = 0
	}

	if !normalize(clean) {
		return g.equalSplit()
	}

	g.capToStable(clean)

	if clean[g.StableSymbol] < g.MinStablePct {
		need := g.MinStablePct - clean[g.StableSymbol]
		clean[g.StableSymbol] = g.MinStablePct
		others := 0
		for sym := range clean {
			if sym != g.StableSymbol {
				others++
			}
		}
		if others > 0 {
			cut := need / float64(others)
			for sym := range clean {
				if sym != g.StableSymbol {
					clean[sym] = max(0, clean[sym]-cut)
				}
			}
		}
	}

	if !normalize(clean) {
		return g.equalSplit()
	}
	g.capToStable(clean)
	return clean
}

// capToStable moves weight above the per-token cap onto the stable leg. The
// total is preserved, so the cap and the stable floor hold together.
func (g *TargetGuard) capToStable(a domain.TargetAllocation) {
	for sym, w := range a {
		if sym == g.StableSymbol || w <= g.MaxTokenPct {
			continue
		}
		a[g.StableSymbol] += w - g.MaxTokenPct
		a[sym] = g.MaxTokenPct
	}
}

// normalize scales weights to sum to 1, reporting false for a zero sum.
func normalize(a domain.TargetAllocation) bool {
	sum := 0.0
	for _, w := range a {
		sum += w
	}
	if sum <= 0 {
		return false
	}
	for sym, w := range a {
		a[sym] = w / sum
	}
	return true
}
