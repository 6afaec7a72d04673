package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitos/competition_agent/internal/domain"
	"github.com/vitos/competition_agent/internal/usecase"
)

func TestLedgerRecordDeduplicates(t *testing.T) {
	ledger := usecase.NewLedger(newMemRepo(), testClock(t))
	ctx := context.Background()

	trade := &domain.Trade{
		ID:        "t-1",
		Timestamp: nyTime(t, 2026, 9, 2, 10, 0),
		Token:     "WETH",
		Side:      domain.SideBuy,
		AmountUSD: 100,
		Price:     2000,
		Chain:     "eth",
	}
	require.NoError(t, ledger.Record(ctx, trade))

	// Same id again: rejected without side effects.
	dup := *trade
	dup.AmountUSD = 999
	err := ledger.Record(ctx, &dup)
	assert.ErrorIs(t, err, domain.ErrDuplicateTrade)

	rec, err := ledger.DailyRecord(ctx, "2026-09-02", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TradeCount)
	assert.Equal(t, 100.0, rec.TotalVolumeUSD)
}

func TestLedgerRecordValidation(t *testing.T) {
	ledger := usecase.NewLedger(newMemRepo(), testClock(t))
	ctx := context.Background()

	err := ledger.Record(ctx, &domain.Trade{Timestamp: nyTime(t, 2026, 9, 2, 10, 0)})
	assert.Error(t, err, "empty id must be rejected")

	err = ledger.Record(ctx, &domain.Trade{ID: "t-neg", AmountUSD: -5})
	assert.Error(t, err, "negative amount must be rejected")
}

func TestLedgerDefaultsStatusToPending(t *testing.T) {
	repo := newMemRepo()
	ledger := usecase.NewLedger(repo, testClock(t))
	ctx := context.Background()

	require.NoError(t, ledger.Record(ctx, &domain.Trade{
		ID:        "t-1",
		Timestamp: nyTime(t, 2026, 9, 2, 10, 0),
		Token:     "WETH",
		AmountUSD: 50,
	}))

	saved, err := repo.GetTrade(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusPending, saved.Status)
}

func TestLedgerRecordLeavesCallerTradeUntouched(t *testing.T) {
	repo := newMemRepo()
	ledger := usecase.NewLedger(repo, testClock(t))
	ctx := context.Background()

	ts := nyTime(t, 2026, 9, 2, 10, 0)
	trade := &domain.Trade{
		ID:        "t-1",
		Timestamp: ts,
		Token:     "WETH",
		AmountUSD: 50,
	}
	require.NoError(t, ledger.Record(ctx, trade))

	// Normalization applies to the stored copy only.
	assert.Equal(t, domain.TradeStatus(""), trade.Status)
	assert.Equal(t, ts, trade.Timestamp)

	saved, err := repo.GetTrade(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusPending, saved.Status)
	assert.Equal(t, time.UTC, saved.Timestamp.Location())
	assert.True(t, saved.Timestamp.Equal(ts))
}

func TestDailyRecordFoldsWindow(t *testing.T) {
	ledger := usecase.NewLedger(newMemRepo(), testClock(t))
	ctx := context.Background()

	// Two trades inside Sep 2, one before the 09:00 boundary (belongs to
	// Sep 1), one unconfirmed (excluded).
	for _, tr := range []*domain.Trade{
		{ID: "a", Timestamp: nyTime(t, 2026, 9, 2, 10, 0), Token: "WETH", AmountUSD: 100},
		{ID: "b", Timestamp: nyTime(t, 2026, 9, 2, 22, 0), Token: "WBTC", AmountUSD: 200},
		{ID: "c", Timestamp: nyTime(t, 2026, 9, 2, 8, 0), Token: "WETH", AmountUSD: 400},
		{ID: "d", Timestamp: nyTime(t, 2026, 9, 2, 11, 0), Token: "LINK", AmountUSD: 800, Status: domain.TradeStatusUnconfirmed},
	} {
		require.NoError(t, ledger.Record(ctx, tr))
	}

	rec, err := ledger.DailyRecord(ctx, "2026-09-02", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.TradeCount)
	assert.Equal(t, 300.0, rec.TotalVolumeUSD)
	assert.Equal(t, domain.DayInProgress, rec.Status)

	rec, err = ledger.DailyRecord(ctx, "2026-09-01", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TradeCount)
	assert.Equal(t, 400.0, rec.TotalVolumeUSD)

	rec, err = ledger.DailyRecord(ctx, "2026-09-05", 3)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.TradeCount)
	assert.Equal(t, domain.DayNotStarted, rec.Status)
}

func TestDailyRecordSatisfied(t *testing.T) {
	ledger := usecase.NewLedger(newMemRepo(), testClock(t))
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, ledger.Record(ctx, &domain.Trade{
			ID:        id,
			Timestamp: nyTime(t, 2026, 9, 2, 10+i, 0),
			Token:     "WETH",
			AmountUSD: 50,
		}))
	}

	rec, err := ledger.DailyRecord(ctx, "2026-09-02", 3)
	require.NoError(t, err)
	assert.Equal(t, domain.DaySatisfied, rec.Status)
}

func TestLedgerStatusFlips(t *testing.T) {
	ledger := usecase.NewLedger(newMemRepo(), testClock(t))
	ctx := context.Background()

	require.NoError(t, ledger.Record(ctx, &domain.Trade{
		ID:        "t-1",
		Timestamp: nyTime(t, 2026, 9, 2, 10, 0),
		Token:     "WETH",
		AmountUSD: 50,
	}))

	require.NoError(t, ledger.Confirm(ctx, "t-1"))
	pending, err := ledger.PendingTrades(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, ledger.MarkUnconfirmed(ctx, "t-1"))
	rec, err := ledger.DailyRecord(ctx, "2026-09-02", 3)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.TradeCount)

	assert.Error(t, ledger.Confirm(ctx, "missing"))
}
