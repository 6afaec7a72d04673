package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vitos/competition_agent/internal/domain"
	"github.com/vitos/competition_agent/internal/usecase"
	"go.uber.org/zap"
)

// HealthProber checks connectivity to the competition venue.
type HealthProber interface {
	Healthy(ctx context.Context) error
}

type Server struct {
	router     *http.ServeMux
	server     *http.Server
	tradeRepo  domain.TradeRepository
	clock      *usecase.CompetitionClock
	ledger     *usecase.Ledger
	monitor    *usecase.ComplianceMonitor
	guard      *usecase.RiskGuard
	reconciler *usecase.SyncReconciler
	prober     HealthProber
	logger     *zap.Logger
}

func NewServer(
	port int,
	tradeRepo domain.TradeRepository,
	clock *usecase.CompetitionClock,
	ledger *usecase.Ledger,
	monitor *usecase.ComplianceMonitor,
	guard *usecase.RiskGuard,
	reconciler *usecase.SyncReconciler,
	prober HealthProber,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:     http.NewServeMux(),
		tradeRepo:  tradeRepo,
		clock:      clock,
		ledger:     ledger,
		monitor:    monitor,
		guard:      guard,
		reconciler: reconciler,
		prober:     prober,
		logger:     logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Status
	s.router.HandleFunc("GET /status", s.handleStatus)

	// Trades
	s.router.HandleFunc("GET /trades", s.handleTrades)

	// Positions
	s.router.HandleFunc("GET /positions", s.handlePositions)
	s.router.HandleFunc("GET /positions/history", s.handlePositionHistory)

	// Health
	s.router.HandleFunc("GET /healthz", s.handleHealthz)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
