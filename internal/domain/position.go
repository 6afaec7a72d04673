package domain

import "time"

type PositionState string

const (
	PositionOpen          PositionState = "open"
	PositionPartialExit   PositionState = "partial_exit"
	PositionStoppedOut    PositionState = "stopped_out"
	PositionTakeProfitHit PositionState = "take_profit_hit"
	PositionClosed        PositionState = "closed"
)

// Terminal reports whether the state ends the position's life. A terminal
// position is removed from the active set and never transitions again.
func (s PositionState) Terminal() bool {
	return s == PositionStoppedOut || s == PositionTakeProfitHit || s == PositionClosed
}

// Position is a risk-tracked holding. Owned exclusively by the risk guard:
// created on entry fill, destroyed on full close.
type Position struct {
	Token           string
	Chain           string
	EntryPrice      float64
	SizeUSD         float64
	StopLossPrice   float64
	TakeProfitPrice float64
	TrailingStopPct float64 // 0 disables the trailing stop
	HighWaterPrice  float64 // only ever moves up
	State           PositionState
	OpenedAt        time.Time

	// PartialExitTaken makes the profit-milestone partial exit fire once.
	PartialExitTaken bool
}

// PositionHistory represents a closed position.
type PositionHistory struct {
	ID          int64
	Token       string
	Chain       string
	EntryPrice  float64
	ExitPrice   float64
	SizeUSD     float64
	RealizedPnL float64
	Reason      string
	OpenedAt    time.Time
	ClosedAt    time.Time
}
