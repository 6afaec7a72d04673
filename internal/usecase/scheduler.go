package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one bounded unit of scheduled work.
type Job func(ctx context.Context)

// NextFunc computes the next firing instant strictly after now.
type NextFunc func(now time.Time) time.Time

// Scheduler runs named timer-driven triggers cooperatively. On shutdown an
// in-flight job finishes its current cycle; no new cycle starts.
type Scheduler struct {
	logger   *zap.Logger
	triggers []trigger
	wg       sync.WaitGroup
}

type trigger struct {
	name string
	next NextFunc
	job  Job
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

func (s *Scheduler) Add(name string, next NextFunc, job Job) {
	s.triggers = append(s.triggers, trigger{name: name, next: next, job: job})
}

// Start launches one goroutine per trigger. Cancel ctx to stop; Wait blocks
// until every in-flight cycle has finished.
func (s *Scheduler) Start(ctx context.Context) {
	for _, t := range s.triggers {
		s.wg.Add(1)
		go s.run(ctx, t)
	}
}

func (s *Scheduler) run(ctx context.Context, t trigger) {
	defer s.wg.Done()
	for {
		wait := time.Until(t.next(time.Now()))
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("trigger stopped", zap.String("trigger", t.name))
			return
		case <-timer.C:
		}
		s.logger.Debug("trigger fired", zap.String("trigger", t.name))
		t.job(ctx)
	}
}

func (s *Scheduler) Wait() { s.wg.Wait() }

// EveryInterval fires at a fixed period.
func EveryInterval(d time.Duration) NextFunc {
	return func(now time.Time) time.Time { return now.Add(d) }
}

// AtDayBoundary fires at each trading-day rollover.
func AtDayBoundary(clock *CompetitionClock) NextFunc {
	return func(now time.Time) time.Time { return clock.NextBoundary(now) }
}

// AtLocalMinutes fires at fixed local times of day (minutes after midnight in
// the competition timezone).
func AtLocalMinutes(clock *CompetitionClock, slotMinutes []int) NextFunc {
	return func(now time.Time) time.Time {
		local := now.In(clock.Location())
		y, m, d := local.Date()
		best := time.Time{}
		for dayOffset := 0; dayOffset <= 1; dayOffset++ {
			for _, slot := range slotMinutes {
				cand := time.Date(y, m, d+dayOffset, slot/60, slot%60, 0, 0, clock.Location())
				if cand.After(now) && (best.IsZero() || cand.Before(best)) {
					best = cand
				}
			}
		}
		return best
	}
}
