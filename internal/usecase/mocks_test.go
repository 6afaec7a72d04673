package usecase_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vitos/competition_agent/internal/domain"
	"github.com/vitos/competition_agent/internal/usecase"
)

// memRepo is an in-memory domain.TradeRepository mirroring the sqlite store
// semantics: duplicate ids rejected, window queries ascending by timestamp.
type memRepo struct {
	mu      sync.Mutex
	trades  map[string]*domain.Trade
	history []*domain.PositionHistory
}

func newMemRepo() *memRepo {
	return &memRepo{trades: make(map[string]*domain.Trade)}
}

func (r *memRepo) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trades[trade.ID]; ok {
		return domain.ErrDuplicateTrade
	}
	cp := *trade
	r.trades[trade.ID] = &cp
	return nil
}

func (r *memRepo) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trades[id]
	if !ok {
		return nil, fmt.Errorf("trade %s not found", id)
	}
	cp := *t
	return &cp, nil
}

func (r *memRepo) ListTradesInWindow(ctx context.Context, start, end time.Time) ([]*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Trade
	for _, t := range r.trades {
		if !t.Timestamp.Before(start) && t.Timestamp.Before(end) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (r *memRepo) ListTradesByStatus(ctx context.Context, status domain.TradeStatus) ([]*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Trade
	for _, t := range r.trades {
		if t.Status == status {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (r *memRepo) UpdateTradeStatus(ctx context.Context, id string, status domain.TradeStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trades[id]
	if !ok {
		return fmt.Errorf("trade %s not found", id)
	}
	t.Status = status
	return nil
}

func (r *memRepo) ListTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Trade
	for _, t := range r.trades {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) SavePositionHistory(ctx context.Context, h *domain.PositionHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *h
	r.history = append(r.history, &cp)
	return nil
}

func (r *memRepo) ListPositionHistory(ctx context.Context, limit int) ([]*domain.PositionHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.PositionHistory, 0, len(r.history))
	for _, h := range r.history {
		cp := *h
		out = append(out, &cp)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// mockVenue is a scriptable domain.TradeExecutor.
type mockVenue struct {
	mu     sync.Mutex
	err    error
	result domain.TradeResult
	calls  []mockCall
	seq    int
}

type mockCall struct {
	Token     string
	Side      domain.Side
	AmountUSD float64
	Reason    string
}

func (v *mockVenue) Execute(ctx context.Context, token string, side domain.Side, amountUSD float64, chain, reason string) (*domain.TradeResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, mockCall{Token: token, Side: side, AmountUSD: amountUSD, Reason: reason})
	if v.err != nil {
		return nil, v.err
	}
	res := v.result
	if res.ID == "" {
		v.seq++
		res.ID = fmt.Sprintf("venue-%d", v.seq)
	}
	return &res, nil
}

func (v *mockVenue) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.calls)
}

// mockPrices is a static domain.PriceSource.
type mockPrices struct {
	prices map[string]float64
	err    error
}

func (p *mockPrices) CurrentPrice(ctx context.Context, token, chain string) (domain.PriceQuote, error) {
	if p.err != nil {
		return domain.PriceQuote{}, p.err
	}
	price, ok := p.prices[token]
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("no price for %s", token)
	}
	return domain.PriceQuote{Token: token, Chain: chain, Price: price, ObservedAt: time.Now()}, nil
}

// mockFeed is a scriptable domain.RemoteLedgerFeed. Errors are consumed in
// order before trades are returned.
type mockFeed struct {
	mu     sync.Mutex
	errs   []error
	trades []domain.Trade
}

func (f *mockFeed) FetchTrades(ctx context.Context, since time.Time) ([]domain.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return append([]domain.Trade(nil), f.trades...), nil
}

// mockPortfolio is a static domain.PortfolioSource.
type mockPortfolio struct {
	snapshot domain.PortfolioSnapshot
	err      error
}

func (p *mockPortfolio) Portfolio(ctx context.Context) (*domain.PortfolioSnapshot, error) {
	if p.err != nil {
		return nil, p.err
	}
	cp := p.snapshot
	cp.ValuesUSD = make(map[string]float64, len(p.snapshot.ValuesUSD))
	for k, v := range p.snapshot.ValuesUSD {
		cp.ValuesUSD[k] = v
	}
	return &cp, nil
}

// testWindow is a one-week window in September 2026 with the 09:00 New York
// day boundary used throughout the tests.
func testWindow() domain.CompetitionWindow {
	return domain.CompetitionWindow{
		Start:        time.Date(2026, 9, 1, 13, 0, 0, 0, time.UTC),
		End:          time.Date(2026, 9, 8, 13, 0, 0, 0, time.UTC),
		BoundaryHour: 9,
		Timezone:     "America/New_York",
	}
}

func testClock(t interface{ Fatalf(string, ...any) }) *usecase.CompetitionClock {
	clock, err := usecase.NewCompetitionClock(testWindow())
	if err != nil {
		t.Fatalf("clock: %v", err)
	}
	return clock
}

// nyTime builds an instant in the competition timezone.
func nyTime(t interface{ Fatalf(string, ...any) }, year int, month time.Month, day, hour, minute int) time.Time {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}
