package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitos/competition_agent/internal/domain"
	"github.com/vitos/competition_agent/internal/usecase"
)

func TestComplianceInactiveOutsideWindow(t *testing.T) {
	clock := testClock(t)
	monitor := usecase.NewComplianceMonitor(clock, usecase.NewLedger(newMemRepo(), clock), 3)

	status, err := monitor.Status(context.Background(), testWindow().End)
	require.NoError(t, err)
	assert.Equal(t, usecase.ComplianceInactive, status.State)
}

func TestComplianceProgression(t *testing.T) {
	clock := testClock(t)
	ledger := usecase.NewLedger(newMemRepo(), clock)
	monitor := usecase.NewComplianceMonitor(clock, ledger, 3)
	ctx := context.Background()
	now := nyTime(t, 2026, 9, 2, 12, 0)

	status, err := monitor.Status(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, usecase.ComplianceInProgress, status.State)
	assert.Equal(t, 3, status.Remaining)

	for i, id := range []string{"a", "b"} {
		require.NoError(t, ledger.Record(ctx, &domain.Trade{
			ID:        id,
			Timestamp: nyTime(t, 2026, 9, 2, 10+i, 0),
			Token:     "WETH",
			AmountUSD: 50,
		}))
	}

	status, err = monitor.Status(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, usecase.ComplianceInProgress, status.State)
	assert.Equal(t, 2, status.TradeCount)
	assert.Equal(t, 1, status.Remaining)

	require.NoError(t, ledger.Record(ctx, &domain.Trade{
		ID:        "c",
		Timestamp: nyTime(t, 2026, 9, 2, 12, 0),
		Token:     "WETH",
		AmountUSD: 50,
	}))

	status, err = monitor.Status(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, usecase.ComplianceSatisfied, status.State)
	assert.Equal(t, 0, status.Remaining)
}

func TestComplianceSatisfiedIsSticky(t *testing.T) {
	clock := testClock(t)
	ledger := usecase.NewLedger(newMemRepo(), clock)
	monitor := usecase.NewComplianceMonitor(clock, ledger, 3)
	ctx := context.Background()
	now := nyTime(t, 2026, 9, 2, 12, 0)

	ids := []string{"a", "b", "c"}
	for i, id := range ids {
		require.NoError(t, ledger.Record(ctx, &domain.Trade{
			ID:        id,
			Timestamp: nyTime(t, 2026, 9, 2, 10, 10*i),
			Token:     "WETH",
			AmountUSD: 50,
		}))
	}

	status, err := monitor.Status(ctx, now)
	require.NoError(t, err)
	require.Equal(t, usecase.ComplianceSatisfied, status.State)

	// Reconciliation later disputes a trade; the day stays satisfied.
	require.NoError(t, ledger.MarkUnconfirmed(ctx, "b"))

	status, err = monitor.Status(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, usecase.ComplianceSatisfied, status.State)

	// The pin is per day: the next day starts over.
	nextDay := nyTime(t, 2026, 9, 3, 12, 0)
	status, err = monitor.Status(ctx, nextDay)
	require.NoError(t, err)
	assert.Equal(t, usecase.ComplianceInProgress, status.State)
	assert.Equal(t, 3, status.Remaining)
}
