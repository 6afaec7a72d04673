package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/vitos/competition_agent/internal/config"
	"github.com/vitos/competition_agent/internal/infrastructure/state"
	"github.com/vitos/competition_agent/internal/infrastructure/storage"
	"github.com/vitos/competition_agent/internal/usecase"
)

// Health probe for the running agent. Exit code 0 means healthy; anything
// else makes the probe fail: an active halt, a stale risk snapshot, or an
// unmet daily minimum close to the day boundary.

const (
	snapshotMaxAge = 5 * time.Minute
	atRiskWindow   = 2 * time.Hour
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	clock, err := usecase.NewCompetitionClock(cfg.Window())
	if err != nil {
		fmt.Fprintf(os.Stderr, "clock: %v\n", err)
		os.Exit(2)
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage: %v\n", err)
		os.Exit(2)
	}
	defer store.Close()

	ledger := usecase.NewLedger(store, clock)
	monitor := usecase.NewComplianceMonitor(clock, ledger, cfg.Competition.MinTradesPerDay)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now()
	compliance, err := monitor.Status(ctx, now)
	if err != nil {
		fmt.Fprintf(os.Stderr, "compliance: %v\n", err)
		os.Exit(2)
	}

	var snapshot usecase.RiskSnapshot
	snapshotErr := state.LoadJSON(cfg.Storage.SnapshotPath, &snapshot)

	report := map[string]any{
		"trading_day": clock.TradingDay(now),
		"active":      clock.IsActive(now),
		"compliance":  compliance,
	}
	if snapshotErr == nil {
		report["risk"] = snapshot
	}
	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))

	exit := 0
	fail := func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
		exit = 1
	}

	if clock.IsActive(now) {
		if snapshotErr != nil {
			fail("risk snapshot unreadable: %v", snapshotErr)
		} else if now.Sub(snapshot.UpdatedAt) > snapshotMaxAge {
			fail("risk snapshot stale: last update %s", snapshot.UpdatedAt.Format(time.RFC3339))
		}
		if snapshotErr == nil && snapshot.Halted {
			fail("trading halted since day %s", snapshot.HaltDay)
		}
		if compliance.State == usecase.ComplianceInProgress && compliance.Remaining > 0 &&
			clock.NextBoundary(now).Sub(now) <= atRiskWindow {
			fail("daily minimum at risk: %d trades remaining, day ends %s",
				compliance.Remaining, clock.NextBoundary(now).Format(time.RFC3339))
		}
	}

	os.Exit(exit)
}
