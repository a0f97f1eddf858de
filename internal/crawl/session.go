// Package crawl walks item categories through the client UI and records one
// market snapshot per item.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"market-scanner/internal/market"
)

var (
	// ErrAborted is returned when a retry bound is exceeded.
	ErrAborted = errors.New("crawl aborted")
	// ErrCalibration is returned when calibration does not lock in time.
	ErrCalibration = errors.New("calibration did not lock")
)

// Navigator drives the client UI. Every call changes client state only.
type Navigator interface {
	RefreshSession(ctx context.Context) error
	OpenCategory(ctx context.Context, name string) error
	OpenStatistics(ctx context.Context) error
	Advance(ctx context.Context) error
	AntiIdle(ctx context.Context) error
}

// Calibrator reads the on-screen values of the selected item.
type Calibrator interface {
	Sample(ctx context.Context) (market.Sample, error)
}

// MarketReader is the part of market.Reader the session drives.
type MarketReader interface {
	Locked() bool
	Reset()
	FeedCalibrationSample(ctx context.Context, s market.Sample) (bool, error)
	Poll(ctx context.Context, expectedName string) (market.PollResult, error)
}

// Entry is one recorded item.
type Entry struct {
	Category string
	Index    int
	Snapshot market.Snapshot
}

// Recorder receives every recorded item.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Options bounds the walk.
type Options struct {
	Categories            []string      `validate:"min=1,dive,required"`
	Settle                time.Duration `default:"1500ms" validate:"gte=0"`
	MaxDriftRetries       int           `default:"10" validate:"gte=0"`
	MaxTransientRetries   int           `default:"3" validate:"gte=0"`
	MaxDuplicateRetries   int           `default:"3" validate:"gte=0"`
	MaxCalibrationSamples int           `default:"12" validate:"gt=0"`
	AntiIdleInterval      time.Duration `default:"20m" validate:"gte=0"`
	MaxItems              int           `default:"5000" validate:"gt=0"`
}

// CategorySummary counts what happened in one category.
type CategorySummary struct {
	Name       string
	Items      int
	Drifts     int
	Transients int
	Duplicates int
	AntiIdles  int
	Complete   bool
}

// Summary is the outcome of a session run.
type Summary struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Categories []CategorySummary
	Aborted    bool
	Reason     string
}

// Items is the number of recorded items across all categories.
func (s Summary) Items() int {
	n := 0
	for _, c := range s.Categories {
		n += c.Items
	}
	return n
}

// Drifts is the number of drift resets across all categories.
func (s Summary) Drifts() int {
	n := 0
	for _, c := range s.Categories {
		n += c.Drifts
	}
	return n
}

// Session sequences polls across the configured categories.
type Session struct {
	nav    Navigator
	cal    Calibrator
	reader MarketReader
	rec    Recorder
	opts   Options
	logger zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New validates opts, filling zero values with defaults.
func New(nav Navigator, cal Calibrator, reader MarketReader, rec Recorder, opts Options, logger zerolog.Logger) (*Session, error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, fmt.Errorf("crawl defaults: %w", err)
	}
	if err := validator.New().Struct(opts); err != nil {
		return nil, fmt.Errorf("crawl options: %w", err)
	}
	return &Session{
		nav:    nav,
		cal:    cal,
		reader: reader,
		rec:    rec,
		opts:   opts,
		logger: logger.With().Str("component", "crawl").Logger(),
		now:    time.Now,
		sleep:  sleepContext,
	}, nil
}

// Run crawls every category in order. On abort the partial summary is
// returned together with the error.
func (s *Session) Run(ctx context.Context) (Summary, error) {
	sum := Summary{StartedAt: s.now()}

	for _, name := range s.opts.Categories {
		cs, err := s.crawlCategory(ctx, name)
		sum.Categories = append(sum.Categories, cs)
		if err != nil {
			sum.Aborted = true
			sum.Reason = err.Error()
			sum.FinishedAt = s.now()
			s.logger.Error().Err(err).Str("category", name).Int("items", cs.Items).Msg("Crawl aborted")
			return sum, err
		}
		s.logger.Info().
			Str("category", name).
			Int("items", cs.Items).
			Int("drifts", cs.Drifts).
			Int("duplicates", cs.Duplicates).
			Msg("Category complete")
	}
	sum.FinishedAt = s.now()
	return sum, nil
}

type walk struct {
	name     string
	cursor   int
	failures int
	prevID   uint32
	hasPrev  bool
	seen     map[uint32]bool
	idleAt   time.Time
	sum      CategorySummary
}

func (s *Session) crawlCategory(ctx context.Context, name string) (CategorySummary, error) {
	w := &walk{name: name, seen: make(map[uint32]bool), sum: CategorySummary{Name: name}}
	logger := s.logger.With().Str("category", name).Logger()

	needEnter := true
	for w.sum.Items < s.opts.MaxItems {
		if err := ctx.Err(); err != nil {
			return w.sum, err
		}

		if needEnter {
			err := s.enter(ctx, w.name, w.cursor)
			if errors.Is(err, ErrCalibration) {
				if abortErr := s.fail(w, err); abortErr != nil {
					return w.sum, abortErr
				}
				continue
			}
			if err != nil {
				return w.sum, err
			}
			needEnter = false
			w.idleAt = s.now()
		}

		if s.opts.AntiIdleInterval > 0 && s.now().Sub(w.idleAt) >= s.opts.AntiIdleInterval {
			logger.Info().Int("cursor", w.cursor).Msg("Anti-idle pause")
			if err := s.nav.AntiIdle(ctx); err != nil {
				return w.sum, fmt.Errorf("anti-idle: %w", err)
			}
			w.sum.AntiIdles++
			needEnter = true
			continue
		}

		if err := s.nav.Advance(ctx); err != nil {
			return w.sum, fmt.Errorf("advance: %w", err)
		}
		if err := s.sleep(ctx, s.opts.Settle); err != nil {
			return w.sum, err
		}

		res, err := s.poll(ctx, w)
		if errors.Is(err, market.ErrDriftDetected) {
			logger.Warn().Err(err).Int("cursor", w.cursor).Msg("Drift, resuming from cursor")
			if abortErr := s.fail(w, err); abortErr != nil {
				return w.sum, abortErr
			}
			needEnter = true
			continue
		}
		if err != nil {
			return w.sum, err
		}
		w.failures = 0

		if w.hasPrev && res.ItemID == w.prevID {
			w.sum.Complete = true
			logger.Debug().Uint32("item_id", res.ItemID).Msg("Identifier repeated, end of list")
			return w.sum, nil
		}

		entry := Entry{Category: name, Index: w.cursor, Snapshot: res.Snapshot}
		if err := s.rec.Record(ctx, entry); err != nil {
			return w.sum, fmt.Errorf("record %s: %w", res.Snapshot.Name, err)
		}
		logger.Debug().
			Int("index", w.cursor).
			Uint32("item_id", res.ItemID).
			Str("name", res.Snapshot.Name).
			Int64("profit", res.Snapshot.Profit).
			Msg("Recorded item")

		w.seen[res.ItemID] = true
		w.prevID = res.ItemID
		w.hasPrev = true
		w.cursor++
		w.sum.Items++
	}

	logger.Warn().Int("max_items", s.opts.MaxItems).Msg("Item bound reached before end of list")
	return w.sum, nil
}

func (s *Session) fail(w *walk, err error) error {
	w.sum.Drifts++
	w.failures++
	if w.failures > s.opts.MaxDriftRetries {
		return fmt.Errorf("%w: %d consecutive failures in %s: %w", ErrAborted, w.failures, w.name, err)
	}
	return nil
}

// poll retries transient mismatches and zero-volume duplicates of seen items
// without advancing.
func (s *Session) poll(ctx context.Context, w *walk) (market.PollResult, error) {
	transient, dups := 0, 0
	for {
		res, err := s.reader.Poll(ctx, "")
		if errors.Is(err, market.ErrTransientRead) {
			w.sum.Transients++
			transient++
			if transient > s.opts.MaxTransientRetries {
				s.reader.Reset()
				return market.PollResult{}, &market.PollError{Kind: market.KindDrift, Reason: "transient retries exhausted", Err: err}
			}
			if err := s.sleep(ctx, s.opts.Settle); err != nil {
				return market.PollResult{}, err
			}
			continue
		}
		if err != nil {
			return market.PollResult{}, err
		}

		if res.WasDuplicate && w.seen[res.ItemID] && res.Snapshot.Volume() == 0 && dups < s.opts.MaxDuplicateRetries {
			w.sum.Duplicates++
			dups++
			if err := s.sleep(ctx, s.opts.Settle); err != nil {
				return market.PollResult{}, err
			}
			continue
		}
		return res, nil
	}
}

// enter opens the category with nothing selected, calibrates if needed and
// fast-forwards so the next Advance selects item cursor.
func (s *Session) enter(ctx context.Context, name string, cursor int) error {
	if err := s.nav.RefreshSession(ctx); err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	if err := s.open(ctx, name); err != nil {
		return err
	}

	if !s.reader.Locked() {
		if err := s.calibrate(ctx); err != nil {
			return err
		}
		if err := s.open(ctx, name); err != nil {
			return err
		}
	}

	for i := 0; i < cursor; i++ {
		if err := s.nav.Advance(ctx); err != nil {
			return fmt.Errorf("fast-forward to %d: %w", cursor, err)
		}
	}
	if cursor > 0 {
		s.logger.Debug().Str("category", name).Int("cursor", cursor).Msg("Resumed")
	}
	return nil
}

func (s *Session) open(ctx context.Context, name string) error {
	if err := s.nav.OpenCategory(ctx, name); err != nil {
		return fmt.Errorf("open category %s: %w", name, err)
	}
	if err := s.nav.OpenStatistics(ctx); err != nil {
		return fmt.Errorf("open statistics: %w", err)
	}
	return nil
}

func (s *Session) calibrate(ctx context.Context) error {
	for i := 0; i < s.opts.MaxCalibrationSamples; i++ {
		if err := s.nav.Advance(ctx); err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		if err := s.sleep(ctx, s.opts.Settle); err != nil {
			return err
		}

		sample, err := s.cal.Sample(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn().Err(err).Int("sample", i).Msg("Calibration sample failed")
			continue
		}
		locked, err := s.reader.FeedCalibrationSample(ctx, sample)
		if err != nil {
			if errors.Is(err, market.ErrFatal) || ctx.Err() != nil {
				return err
			}
			s.logger.Warn().Err(err).Int("sample", i).Msg("Calibration sample rejected")
			continue
		}
		if locked {
			s.logger.Info().Int("samples", i+1).Msg("Calibrated")
			return nil
		}
	}
	s.reader.Reset()
	return fmt.Errorf("%w after %d samples", ErrCalibration, s.opts.MaxCalibrationSamples)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
