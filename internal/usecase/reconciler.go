package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/vitos/competition_agent/internal/domain"
)

// SyncReconciler reconciles the local ledger against the remote trade
// history. Remote trades missing locally are inserted; local pending trades
// missing remotely past the retry budget are demoted to unconfirmed so they
// stop counting toward the daily minimum.
type SyncReconciler struct {
	feed        domain.RemoteLedgerFeed
	ledger      *Ledger
	executor    *GuardedExecutor
	guard       *RiskGuard
	logger      *zap.Logger
	events      *zap.Logger
	retryBudget int           // reconcile passes a pending trade may stay missing
	maxAttempts uint64        // backoff ceiling per fetch
	overlap     time.Duration // refetch window to absorb clock skew

	mu       sync.Mutex
	lastSync time.Time
	missing  map[string]int // pending trade id -> consecutive passes missing
	degraded bool
}

func NewSyncReconciler(
	feed domain.RemoteLedgerFeed,
	ledger *Ledger,
	executor *GuardedExecutor,
	guard *RiskGuard,
	retryBudget, maxAttempts int,
	logger, events *zap.Logger,
) *SyncReconciler {
	return &SyncReconciler{
		feed:        feed,
		ledger:      ledger,
		executor:    executor,
		guard:       guard,
		logger:      logger,
		events:      events,
		retryBudget: retryBudget,
		maxAttempts: uint64(maxAttempts),
		overlap:     time.Hour,
		missing:     make(map[string]int),
	}
}

// Degraded reports whether the last reconcile pass exhausted its retries.
// Degraded reconciliation never halts trading; it only surfaces on status.
func (r *SyncReconciler) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

// Reconcile runs one pass. Transient fetch failures are retried with
// exponential backoff up to the attempt ceiling.
func (r *SyncReconciler) Reconcile(ctx context.Context, now time.Time) error {
	r.mu.Lock()
	since := r.lastSync
	r.mu.Unlock()
	if !since.IsZero() {
		since = since.Add(-r.overlap)
	}

	remote, err := r.fetchWithBackoff(ctx, since)
	if err != nil {
		r.mu.Lock()
		r.degraded = true
		r.mu.Unlock()
		r.logger.Error("reconciliation degraded", zap.Error(err))
		return err
	}

	remoteIDs := make(map[string]bool, len(remote))
	inserted := 0
	for _, t := range remote {
		remoteIDs[t.ID] = true
		trade := t
		trade.Status = domain.TradeStatusConfirmed
		err := r.ledger.Record(ctx, &trade)
		switch {
		case err == nil:
			inserted++
		case errors.Is(err, domain.ErrDuplicateTrade):
			// Already known locally: lift pending to confirmed.
			if err := r.ledger.Confirm(ctx, trade.ID); err != nil {
				r.logger.Warn("confirm failed", zap.String("trade_id", trade.ID), zap.Error(err))
			}
		default:
			r.logger.Warn("remote trade insert failed", zap.String("trade_id", trade.ID), zap.Error(err))
		}
	}

	demoted, err := r.demoteMissing(ctx, remoteIDs)
	if err != nil {
		return err
	}

	// Decisions the remote feed does not account for never executed. A buy
	// that never executed leaves a phantom position in the guard; unwind it
	// so it stops feeding unrealized P&L.
	for _, d := range r.executor.ResolveUnknown(remote) {
		if d.Side == domain.SideBuy {
			r.guard.ReducePosition(d.Token, d.AmountUSD)
		}
		r.events.Warn("decision_failed",
			zap.String("decision_id", d.ID),
			zap.String("token", d.Token),
			zap.String("side", string(d.Side)))
	}

	r.mu.Lock()
	r.lastSync = now
	r.degraded = false
	r.mu.Unlock()

	r.logger.Info("reconcile pass complete",
		zap.Int("remote", len(remote)),
		zap.Int("inserted", inserted),
		zap.Int("demoted", demoted))
	return nil
}

func (r *SyncReconciler) fetchWithBackoff(ctx context.Context, since time.Time) ([]domain.Trade, error) {
	var remote []domain.Trade
	op := func() error {
		trades, err := r.feed.FetchTrades(ctx, since)
		if err != nil {
			if domain.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		remote = trades
		return nil
	}
	policy := backoff.WithMaxRetries(backoff.WithContext(backoff.NewExponentialBackOff(), ctx), r.maxAttempts)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return remote, nil
}

// demoteMissing walks local pending trades absent from the remote feed and
// marks them unconfirmed after the retry budget runs out.
func (r *SyncReconciler) demoteMissing(ctx context.Context, remoteIDs map[string]bool) (int, error) {
	pending, err := r.ledger.PendingTrades(ctx)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	demoted := 0
	for _, t := range pending {
		if remoteIDs[t.ID] {
			delete(r.missing, t.ID)
			continue
		}
		r.missing[t.ID]++
		if r.missing[t.ID] < r.retryBudget {
			continue
		}
		if err := r.ledger.MarkUnconfirmed(ctx, t.ID); err != nil {
			r.logger.Warn("demote failed", zap.String("trade_id", t.ID), zap.Error(err))
			continue
		}
		delete(r.missing, t.ID)
		demoted++
		r.events.Warn("trade_unconfirmed",
			zap.String("trade_id", t.ID),
			zap.String("token", t.Token))
	}
	return demoted, nil
}
