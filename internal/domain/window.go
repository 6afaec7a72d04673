package domain

import (
	"fmt"
	"time"
)

// CompetitionWindow is the fixed date range and daily boundary configuration
// of one competition. Immutable for the life of a run.
type CompetitionWindow struct {
	Start          time.Time
	End            time.Time
	BoundaryHour   int // local time-of-day that opens a trading day
	BoundaryMinute int
	Timezone       string // IANA name, e.g. "America/New_York"
}

func (w CompetitionWindow) Validate() error {
	if !w.Start.Before(w.End) {
		return fmt.Errorf("competition window: start %s is not before end %s", w.Start, w.End)
	}
	if w.BoundaryHour < 0 || w.BoundaryHour > 23 {
		return fmt.Errorf("competition window: boundary hour %d out of range", w.BoundaryHour)
	}
	if w.BoundaryMinute < 0 || w.BoundaryMinute > 59 {
		return fmt.Errorf("competition window: boundary minute %d out of range", w.BoundaryMinute)
	}
	if _, err := time.LoadLocation(w.Timezone); err != nil {
		return fmt.Errorf("competition window: bad timezone %q: %w", w.Timezone, err)
	}
	return nil
}

// Location resolves the configured timezone. Validate must have passed.
func (w CompetitionWindow) Location() *time.Location {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
