package usecase

import (
	"fmt"
	"time"

	"github.com/vitos/competition_agent/internal/domain"
)

const dayKeyLayout = "2006-01-02"

// CompetitionClock derives trading-day boundaries from wall-clock time. A
// trading day is the interval [boundary(d), boundary(d+1)) where boundary is
// the configured local time-of-day in the competition timezone. Boundary math
// goes through time.Date in the loaded location, so DST transitions shift the
// absolute boundary instead of silently drifting.
type CompetitionClock struct {
	window domain.CompetitionWindow
	loc    *time.Location
}

func NewCompetitionClock(window domain.CompetitionWindow) (*CompetitionClock, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(window.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	return &CompetitionClock{window: window, loc: loc}, nil
}

func (c *CompetitionClock) Window() domain.CompetitionWindow { return c.window }

// Location is the competition timezone.
func (c *CompetitionClock) Location() *time.Location { return c.loc }

// boundary returns the trading-day boundary instant on the given local date.
func (c *CompetitionClock) boundary(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, c.window.BoundaryHour, c.window.BoundaryMinute, 0, 0, c.loc)
}

// TradingDay returns the day key identifying the trading day containing now.
func (c *CompetitionClock) TradingDay(now time.Time) string {
	local := now.In(c.loc)
	y, m, d := local.Date()
	if local.Before(c.boundary(y, m, d)) {
		// Before today's boundary: still the previous trading day.
		y, m, d = local.AddDate(0, 0, -1).Date()
	}
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc).Format(dayKeyLayout)
}

// DayBounds returns the [start, end) instants of a trading day key.
func (c *CompetitionClock) DayBounds(dayKey string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation(dayKeyLayout, dayKey, c.loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bad day key %q: %w", dayKey, err)
	}
	y, m, d := t.Date()
	return c.boundary(y, m, d), c.boundary(y, m, d+1), nil
}

// IsActive reports whether now falls inside the competition date range.
func (c *CompetitionClock) IsActive(now time.Time) bool {
	return !now.Before(c.window.Start) && now.Before(c.window.End)
}

// NextBoundary returns the next trading-day rollover after now.
func (c *CompetitionClock) NextBoundary(now time.Time) time.Time {
	local := now.In(c.loc)
	y, m, d := local.Date()
	b := c.boundary(y, m, d)
	if local.Before(b) {
		return b
	}
	return c.boundary(y, m, d+1)
}
