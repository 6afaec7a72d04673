package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/competition_agent/internal/domain"
)

type DecisionState string

const (
	DecisionInFlight DecisionState = "in_flight"
	DecisionRecorded DecisionState = "recorded"
	DecisionFailed   DecisionState = "failed"
	// DecisionUnknown means the venue call timed out after the request may
	// have been sent. The reconciler resolves it against the remote feed;
	// it is never retried blindly.
	DecisionUnknown DecisionState = "in_flight_unknown"
)

// GuardedExecutor drives a trade decision through the external venue with
// at-most-once semantics: the decision is marked in-flight before the call
// and only leaves that state on a definitive response.
type GuardedExecutor struct {
	venue  domain.TradeExecutor
	ledger *Ledger
	logger *zap.Logger
	events *zap.Logger // JSONL event stream

	mu      sync.Mutex
	unknown map[string]unknownDecision
}

// unknownDecision is a parked decision awaiting a verdict from the remote
// trade feed.
type unknownDecision struct {
	decision TradeDecision
	parkedAt time.Time
}

// clockSkewSlack widens the match window when pairing a parked decision with
// a remote trade, so a venue timestamp slightly behind ours still matches.
const clockSkewSlack = time.Minute

func NewGuardedExecutor(venue domain.TradeExecutor, ledger *Ledger, logger, events *zap.Logger) *GuardedExecutor {
	return &GuardedExecutor{
		venue:   venue,
		ledger:  ledger,
		logger:  logger,
		events:  events,
		unknown: make(map[string]unknownDecision),
	}
}

// Execute runs one decision. On success the trade is recorded in the ledger
// (duplicate ids are a no-op, so a replay cannot double count).
func (x *GuardedExecutor) Execute(ctx context.Context, d TradeDecision, now time.Time) (*domain.Trade, error) {
	x.logger.Info("executing decision",
		zap.String("decision_id", d.ID),
		zap.String("token", d.Token),
		zap.String("side", string(d.Side)),
		zap.Float64("amount_usd", d.AmountUSD))

	res, err := x.venue.Execute(ctx, d.Token, d.Side, d.AmountUSD, d.Chain, d.Reason)
	if err != nil {
		if domain.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
			// The request may have reached the venue. Park the decision for
			// the reconciler instead of resubmitting.
			x.mu.Lock()
			x.unknown[d.ID] = unknownDecision{decision: d, parkedAt: now}
			x.mu.Unlock()
			x.logger.Warn("decision outcome unknown, deferring to reconciliation",
				zap.String("decision_id", d.ID), zap.Error(err))
			return nil, err
		}
		x.logger.Error("decision failed",
			zap.String("decision_id", d.ID), zap.Error(err))
		return nil, err
	}

	trade := &domain.Trade{
		ID:        res.ID,
		Timestamp: now.UTC(),
		Token:     d.Token,
		Side:      d.Side,
		AmountUSD: d.AmountUSD,
		Price:     res.FilledPrice,
		Chain:     d.Chain,
		Status:    domain.TradeStatusPending,
		Reason:    d.Reason,
	}
	if trade.ID == "" {
		trade.ID = d.ID
	}

	if err := x.ledger.Record(ctx, trade); err != nil && !errors.Is(err, domain.ErrDuplicateTrade) {
		return nil, err
	}
	x.events.Info("trade_recorded",
		zap.String("trade_id", trade.ID),
		zap.String("token", trade.Token),
		zap.String("side", string(trade.Side)),
		zap.Float64("amount_usd", trade.AmountUSD),
		zap.Float64("price", trade.Price),
		zap.String("chain", trade.Chain))
	return trade, nil
}

// UnknownDecisions lists decisions parked as in-flight-unknown.
func (x *GuardedExecutor) UnknownDecisions() []TradeDecision {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]TradeDecision, 0, len(x.unknown))
	for _, u := range x.unknown {
		out = append(out, u.decision)
	}
	return out
}

// ResolveUnknown settles parked decisions against the remote trade set and
// returns the ones the feed does not account for: those never executed. A
// decision with any plausible remote counterpart counts as executed, so an
// uncertain verdict never discards a real fill.
func (x *GuardedExecutor) ResolveUnknown(remote []domain.Trade) []TradeDecision {
	x.mu.Lock()
	defer x.mu.Unlock()

	var failed []TradeDecision
	for id, u := range x.unknown {
		delete(x.unknown, id)
		if u.matchesAny(remote) {
			x.logger.Info("unknown decision confirmed by remote feed",
				zap.String("decision_id", id))
			continue
		}
		x.logger.Warn("unknown decision absent from remote feed, treating as failed",
			zap.String("decision_id", id),
			zap.String("token", u.decision.Token))
		failed = append(failed, u.decision)
	}
	return failed
}

func (u unknownDecision) matchesAny(remote []domain.Trade) bool {
	cutoff := u.parkedAt.Add(-clockSkewSlack)
	for _, t := range remote {
		if t.Token == u.decision.Token && t.Side == u.decision.Side && !t.Timestamp.Before(cutoff) {
			return true
		}
	}
	return false
}
