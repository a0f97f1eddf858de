package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked at every scheduled start time.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	// Times are HH:MM wall-clock start times in Location.
	Times      []string
	RunOnStart bool
	Location   *time.Location
}

type clock struct {
	hour, minute int
}

// Scheduler starts jobs at fixed daily times. A tick that overruns the next
// start time delays it; ticks never overlap.
type Scheduler struct {
	opts   Options
	times  []clock
	now    func() time.Time
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if len(opts.Times) == 0 {
		return nil, fmt.Errorf("scheduler needs at least one start time")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	times := make([]clock, 0, len(opts.Times))
	for _, raw := range opts.Times {
		t, err := time.Parse("15:04", raw)
		if err != nil {
			return nil, fmt.Errorf("parse start time %q: %w", raw, err)
		}
		times = append(times, clock{hour: t.Hour(), minute: t.Minute()})
	}
	sort.Slice(times, func(i, j int) bool {
		if times[i].hour != times[j].hour {
			return times[i].hour < times[j].hour
		}
		return times[i].minute < times[j].minute
	})

	return &Scheduler{
		opts:   opts,
		times:  times,
		now:    time.Now,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// NextRun returns the first start time strictly after now.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	local := now.In(s.opts.Location)
	for day := 0; ; day++ {
		y, m, d := local.AddDate(0, 0, day).Date()
		for _, c := range s.times {
			at := time.Date(y, m, d, c.hour, c.minute, 0, 0, s.opts.Location)
			if at.After(local) {
				return at
			}
		}
	}
}

// Run blocks, invoking tick at each start time until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.RunOnStart {
		s.execute(ctx, tick, s.now())
	}

	for {
		next := s.NextRun(s.now())
		timer := time.NewTimer(time.Until(next))
		s.logger.Info().Time("next_run", next).Msg("waiting for next run")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		s.execute(ctx, tick, next)
	}
}

func (s *Scheduler) execute(ctx context.Context, tick TickFunc, at time.Time) {
	s.logger.Info().Time("at", at).Msg("executing scheduled run")
	if err := tick(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("at", at).Msg("scheduled run failed")
	}
}
