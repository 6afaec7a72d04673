package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitos/competition_agent/internal/config"
	"github.com/vitos/competition_agent/internal/domain"
	"github.com/vitos/competition_agent/internal/infrastructure/exchange"
	"github.com/vitos/competition_agent/internal/infrastructure/logger"
	"github.com/vitos/competition_agent/internal/infrastructure/state"
	"github.com/vitos/competition_agent/internal/infrastructure/storage"
	"github.com/vitos/competition_agent/internal/usecase"
	"github.com/vitos/competition_agent/internal/web"
	"go.uber.org/zap"
)

func main() {
	// 1. Load Config
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Loggers
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	events, err := logger.NewFileLogger(cfg.Storage.EventLogPath, "info")
	if err != nil {
		log.Fatal("Failed to init event log", zap.Error(err))
	}
	defer events.Sync()

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Venue Adapter (Recall)
	adapter := exchange.NewRecallAdapter(cfg.API.Key, cfg.API.BaseURL, cfg.API.WSEndpoint)

	// 5. Init Services
	clock, err := usecase.NewCompetitionClock(cfg.Window())
	if err != nil {
		log.Fatal("Failed to init competition clock", zap.Error(err))
	}

	ledger := usecase.NewLedger(store, clock)
	monitor := usecase.NewComplianceMonitor(clock, ledger, cfg.Competition.MinTradesPerDay)

	guard := usecase.NewRiskGuard(usecase.RiskParams{
		StopLossPct:       cfg.Risk.StopLossPct,
		TakeProfitPct:     cfg.Risk.TakeProfitPct,
		TrailingStopPct:   cfg.Risk.TrailingStopPct,
		PartialExitAtPct:  cfg.Risk.PartialExitAtPct,
		PartialExitFrac:   cfg.Risk.PartialExitFrac,
		MaxPositionPct:    cfg.Risk.MaxPositionPct,
		DailyLossLimitPct: cfg.Risk.DailyLossLimitPct,
		MaxPriceAge:       time.Duration(cfg.Risk.MaxPriceAgeSec) * time.Second,
	}, clock, log)

	targetGuard := usecase.TargetGuard{
		StableSymbol: cfg.Guard.StableSymbol,
		MinStablePct: cfg.Guard.MinStablePct,
		MaxTokenPct:  cfg.Guard.MaxTokenPct,
		Allowed:      cfg.Guard.Allowed,
	}
	targets := targetGuard.Sanitize(cfg.Targets)
	log.Info("target allocation sanitized", zap.Any("targets", targets))

	slots, err := cfg.SlotMinutes()
	if err != nil {
		log.Fatal("Failed to parse slot times", zap.Error(err))
	}

	engine := usecase.NewRebalanceEngine(usecase.RebalanceParams{
		DriftThreshold:    cfg.Rebalance.DriftThreshold,
		SlotMinutes:       slots,
		SlotTolerance:     time.Duration(cfg.Rebalance.SlotToleranceMin) * time.Minute,
		MaintenanceWindow: time.Duration(cfg.Rebalance.MaintenanceWindowH) * time.Hour,
		MaintenanceUSD:    cfg.Rebalance.MaintenanceUSD,
		MaxPositionPct:    cfg.Risk.MaxPositionPct,
		StableSymbol:      cfg.Guard.StableSymbol,
		Chain:             cfg.API.Chain,
	}, clock, guard, monitor, targets, log)

	executor := usecase.NewGuardedExecutor(adapter, ledger, log, events)
	reconciler := usecase.NewSyncReconciler(adapter, ledger, executor, guard,
		cfg.Reconcile.RetryBudget, cfg.Reconcile.MaxAttempts, log, events)

	agent := usecase.NewAgentService(clock, ledger, guard, engine, executor, adapter, adapter, store, log)

	// 6. Wait for Shutdown (set up early so goroutines can use the context)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// 7. Open the trading day with current equity
	startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := agent.StartDay(startCtx, time.Now()); err != nil {
		log.Error("Failed to start trading day, will retry at next boundary", zap.Error(err))
	}
	startCancel()

	// 8. WS price stream feeding the risk guard; REST polling covers gaps
	if cfg.API.WSEndpoint != "" {
		adapter.OnPriceUpdate(func(token string, price float64) {
			now := time.Now()
			agent.HandleQuote(ctx, domain.PriceQuote{
				Token:      token,
				Chain:      cfg.API.Chain,
				Price:      price,
				ObservedAt: now,
			}, now)
		})

		var symbols []string
		for symbol := range targets {
			if symbol != cfg.Guard.StableSymbol {
				symbols = append(symbols, symbol)
			}
		}
		if err := adapter.ConnectWS(symbols); err != nil {
			log.Warn("WS connect failed, falling back to REST polling", zap.Error(err))
		}
	}

	// 9. Scheduler
	scheduler := usecase.NewScheduler(log)

	scheduler.Add("day_boundary", usecase.AtDayBoundary(clock), func(ctx context.Context) {
		jctx, jcancel := context.WithTimeout(ctx, 1*time.Minute)
		defer jcancel()
		if err := agent.StartDay(jctx, time.Now()); err != nil {
			log.Error("Day boundary rollover failed", zap.Error(err))
		}
	})

	rebalanceJob := func(ctx context.Context) {
		jctx, jcancel := context.WithTimeout(ctx, 5*time.Minute)
		defer jcancel()
		if err := agent.RunRebalance(jctx, time.Now()); err != nil {
			log.Error("Rebalance cycle failed", zap.Error(err))
		}
	}
	scheduler.Add("rebalance_slots", usecase.AtLocalMinutes(clock, slots), rebalanceJob)
	// The maintenance window rarely lines up with a slot, so decisions are
	// also evaluated on a fixed cadence. Outside a slot the engine emits
	// top-ups only.
	scheduler.Add("maintenance_sweep", usecase.EveryInterval(15*time.Minute), rebalanceJob)

	scheduler.Add("risk_poll", usecase.EveryInterval(30*time.Second), func(ctx context.Context) {
		jctx, jcancel := context.WithTimeout(ctx, 1*time.Minute)
		defer jcancel()
		now := time.Now()
		agent.PollRisk(jctx, now)
		if err := state.SaveJSON(cfg.Storage.SnapshotPath, guard.Snapshot(now)); err != nil {
			log.Error("Risk snapshot write failed", zap.Error(err))
		}
	})

	scheduler.Add("reconcile", usecase.EveryInterval(time.Duration(cfg.Reconcile.IntervalMin)*time.Minute), func(ctx context.Context) {
		jctx, jcancel := context.WithTimeout(ctx, 2*time.Minute)
		defer jcancel()
		if err := reconciler.Reconcile(jctx, time.Now()); err != nil {
			log.Error("Reconcile pass failed", zap.Error(err))
		}
	})

	scheduler.Start(ctx)

	// 10. Web Server
	server := web.NewServer(cfg.Server.Port, store, clock, ledger, monitor, guard, reconciler, adapter, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 11. Shutdown
	<-stop
	log.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	scheduler.Wait()
	log.Info("Shutdown complete")
}
