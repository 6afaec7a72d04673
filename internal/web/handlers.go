package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/vitos/competition_agent/internal/usecase"
	"go.uber.org/zap"
)

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

type statusResponse struct {
	Now                time.Time                `json:"now"`
	TradingDay         string                   `json:"trading_day"`
	Active             bool                     `json:"active"`
	NextBoundary       time.Time                `json:"next_boundary"`
	Compliance         usecase.ComplianceStatus `json:"compliance"`
	Risk               usecase.RiskSnapshot     `json:"risk"`
	ReconcilerDegraded bool                     `json:"reconciler_degraded"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	compliance, err := s.monitor.Status(r.Context(), now)
	if err != nil {
		s.logger.Error("Failed to compute compliance status", zap.Error(err))
		http.Error(w, "Failed to compute status", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, statusResponse{
		Now:                now.UTC(),
		TradingDay:         s.clock.TradingDay(now),
		Active:             s.clock.IsActive(now),
		NextBoundary:       s.clock.NextBoundary(now).UTC(),
		Compliance:         compliance,
		Risk:               s.guard.Snapshot(now),
		ReconcilerDegraded: s.reconciler.Degraded(),
	})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	trades, err := s.ledger.RecentTrades(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list trades", zap.Error(err))
		http.Error(w, "Failed to list trades", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, trades)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.guard.ActivePositions())
}

func (s *Server) handlePositionHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.tradeRepo.ListPositionHistory(r.Context(), 100)
	if err != nil {
		s.logger.Error("Failed to list position history", zap.Error(err))
		http.Error(w, "Failed to list position history", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, history)
}

type healthResponse struct {
	OK     bool   `json:"ok"`
	Venue  string `json:"venue"`
	Halted bool   `json:"halted"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{OK: true, Venue: "ok", Halted: s.guard.Halted()}

	if err := s.prober.Healthy(r.Context()); err != nil {
		resp.OK = false
		resp.Venue = err.Error()
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	s.writeJSON(w, resp)
}
