// Package config loads and validates agent configuration. Malformed
// configuration is rejected here, never at use-site.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vitos/competition_agent/internal/domain"
)

type Config struct {
	Competition struct {
		Start           time.Time `yaml:"start"`
		End             time.Time `yaml:"end"`
		Timezone        string    `yaml:"timezone"`
		BoundaryHour    int       `yaml:"day_boundary_hour"`
		BoundaryMinute  int       `yaml:"day_boundary_minute"`
		MinTradesPerDay int       `yaml:"min_trades_per_day"`
	} `yaml:"competition"`

	API struct {
		BaseURL    string `yaml:"base_url"`
		WSEndpoint string `yaml:"ws_endpoint"`
		Key        string `yaml:"key"`   // overridden by RECALL_API_KEY
		Chain      string `yaml:"chain"` // specific chain trades settle on
	} `yaml:"api"`

	Risk struct {
		StopLossPct       float64 `yaml:"stop_loss_pct"`
		TakeProfitPct     float64 `yaml:"take_profit_pct"`
		TrailingStopPct   float64 `yaml:"trailing_stop_pct"`
		PartialExitAtPct  float64 `yaml:"partial_exit_at_pct"`
		PartialExitFrac   float64 `yaml:"partial_exit_fraction"`
		MaxPositionPct    float64 `yaml:"max_position_pct"`
		DailyLossLimitPct float64 `yaml:"daily_loss_limit_pct"`
		MaxPriceAgeSec    int     `yaml:"max_price_age_sec"`
	} `yaml:"risk"`

	Rebalance struct {
		DriftThreshold     float64  `yaml:"drift_threshold"`
		SlotTimes          []string `yaml:"slot_times"` // "HH:MM" local
		SlotToleranceMin   int      `yaml:"slot_tolerance_min"`
		MaintenanceWindowH int      `yaml:"maintenance_window_hours"`
		MaintenanceUSD     float64  `yaml:"maintenance_trade_usd"`
	} `yaml:"rebalance"`

	Targets domain.TargetAllocation `yaml:"targets"`

	Guard struct {
		StableSymbol string   `yaml:"stable_symbol"`
		MinStablePct float64  `yaml:"min_stable_pct"`
		MaxTokenPct  float64  `yaml:"max_token_pct"`
		Allowed      []string `yaml:"allowed_tokens"`
	} `yaml:"guard"`

	Reconcile struct {
		IntervalMin int `yaml:"interval_min"`
		RetryBudget int `yaml:"retry_budget"`  // reconcile passes before a pending trade goes unconfirmed
		MaxAttempts int `yaml:"max_attempts"`  // backoff ceiling per fetch
	} `yaml:"reconcile"`

	Storage struct {
		DBPath       string `yaml:"db_path"`
		SnapshotPath string `yaml:"risk_snapshot_path"`
		EventLogPath string `yaml:"event_log_path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

// Load reads the YAML file, applies env overrides (a .env file is honored
// when present) and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if v := os.Getenv("RECALL_API_KEY"); v != "" {
		cfg.API.Key = v
	}
	if v := os.Getenv("RECALL_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Risk.MaxPriceAgeSec == 0 {
		c.Risk.MaxPriceAgeSec = 30
	}
	if c.Rebalance.SlotToleranceMin == 0 {
		c.Rebalance.SlotToleranceMin = 15
	}
	if c.Rebalance.MaintenanceWindowH == 0 {
		c.Rebalance.MaintenanceWindowH = 3
	}
	if c.Reconcile.IntervalMin == 0 {
		c.Reconcile.IntervalMin = 10
	}
	if c.Reconcile.RetryBudget == 0 {
		c.Reconcile.RetryBudget = 3
	}
	if c.Reconcile.MaxAttempts == 0 {
		c.Reconcile.MaxAttempts = 5
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = "agent.db"
	}
	if c.Storage.SnapshotPath == "" {
		c.Storage.SnapshotPath = "risk_state.json"
	}
	if c.Storage.EventLogPath == "" {
		c.Storage.EventLogPath = "logs/events.jsonl"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Guard.StableSymbol == "" {
		c.Guard.StableSymbol = "USDC"
	}
	if c.API.Chain == "" {
		c.API.Chain = "eth"
	}
}

func (c *Config) Validate() error {
	win := c.Window()
	if err := win.Validate(); err != nil {
		return err
	}
	if c.Competition.MinTradesPerDay <= 0 {
		return fmt.Errorf("competition: min_trades_per_day must be positive, got %d", c.Competition.MinTradesPerDay)
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api: base_url is required")
	}
	if c.Risk.StopLossPct <= 0 || c.Risk.StopLossPct >= 1 {
		return fmt.Errorf("risk: stop_loss_pct must be in (0,1), got %f", c.Risk.StopLossPct)
	}
	if c.Risk.TakeProfitPct <= 0 {
		return fmt.Errorf("risk: take_profit_pct must be positive, got %f", c.Risk.TakeProfitPct)
	}
	if c.Risk.MaxPositionPct <= 0 || c.Risk.MaxPositionPct > 1 {
		return fmt.Errorf("risk: max_position_pct must be in (0,1], got %f", c.Risk.MaxPositionPct)
	}
	if c.Risk.DailyLossLimitPct <= 0 || c.Risk.DailyLossLimitPct > 1 {
		return fmt.Errorf("risk: daily_loss_limit_pct must be in (0,1], got %f", c.Risk.DailyLossLimitPct)
	}
	if c.Rebalance.DriftThreshold <= 0 {
		return fmt.Errorf("rebalance: drift_threshold must be positive, got %f", c.Rebalance.DriftThreshold)
	}
	if len(c.Rebalance.SlotTimes) == 0 {
		return fmt.Errorf("rebalance: at least one slot time is required")
	}
	if _, err := c.SlotMinutes(); err != nil {
		return err
	}
	if c.Rebalance.MaintenanceUSD <= 0 {
		return fmt.Errorf("rebalance: maintenance_trade_usd must be positive, got %f", c.Rebalance.MaintenanceUSD)
	}
	if err := c.Targets.Validate(); err != nil {
		return err
	}
	return nil
}

// Window builds the competition window value from configuration.
func (c *Config) Window() domain.CompetitionWindow {
	return domain.CompetitionWindow{
		Start:          c.Competition.Start,
		End:            c.Competition.End,
		BoundaryHour:   c.Competition.BoundaryHour,
		BoundaryMinute: c.Competition.BoundaryMinute,
		Timezone:       c.Competition.Timezone,
	}
}

// SlotMinutes parses slot_times into minutes after local midnight.
func (c *Config) SlotMinutes() ([]int, error) {
	out := make([]int, 0, len(c.Rebalance.SlotTimes))
	for _, s := range c.Rebalance.SlotTimes {
		parts := strings.SplitN(s, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("rebalance: bad slot time %q, want HH:MM", s)
		}
		h, err := strconv.Atoi(parts[0])
		if err != nil || h < 0 || h > 23 {
			return nil, fmt.Errorf("rebalance: bad slot hour in %q", s)
		}
		m, err := strconv.Atoi(parts[1])
		if err != nil || m < 0 || m > 59 {
			return nil, fmt.Errorf("rebalance: bad slot minute in %q", s)
		}
		out = append(out, h*60+m)
	}
	return out, nil
}
