package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"market-scanner/internal/alerting"
	"market-scanner/internal/automation"
	"market-scanner/internal/catalog"
	"market-scanner/internal/config"
	"market-scanner/internal/crawl"
	"market-scanner/internal/market"
	"market-scanner/internal/metrics"
	"market-scanner/internal/procmem"
	"market-scanner/internal/report"
	"market-scanner/internal/scan"
	"market-scanner/internal/scheduler"
	"market-scanner/internal/storage"
)

// Target is an attached client process.
type Target interface {
	procmem.Memory
	Close() error
}

// Deps are the optional collaborators of a Service. Nil sinks are skipped.
type Deps struct {
	Repository storage.Repository
	Publisher  crawl.Recorder
	Metrics    *metrics.Recorder
	Notifier   alerting.Notifier
	// Navigator and Calibrator default to the configured UI commands.
	Navigator  crawl.Navigator
	Calibrator crawl.Calibrator
	// OpenTarget defaults to attaching to the configured process.
	OpenTarget func(ctx context.Context) (Target, error)
}

// Service runs crawls and fans their results out to every sink.
type Service struct {
	cfg       *config.Config
	scheduler *scheduler.Scheduler
	deps      Deps
	locker    storage.AdvisoryLocker
	lockKey   int64
	logger    zerolog.Logger
}

// New constructs the scanning service.
func New(cfg *config.Config, sched *scheduler.Scheduler, deps Deps, logger zerolog.Logger) *Service {
	if deps.Navigator == nil || deps.Calibrator == nil {
		runner := automation.New(automation.Options{Commands: cfg.UI.Commands, Timeout: cfg.UI.Timeout}, logger)
		if deps.Navigator == nil {
			deps.Navigator = runner
		}
		if deps.Calibrator == nil {
			deps.Calibrator = runner
		}
	}
	if deps.OpenTarget == nil {
		deps.OpenTarget = func(context.Context) (Target, error) { return OpenProcess(cfg.Process) }
	}

	var locker storage.AdvisoryLocker
	if l, ok := deps.Repository.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		cfg:       cfg,
		scheduler: sched,
		deps:      deps,
		locker:    locker,
		lockKey:   cfg.Database.AdvisoryLockKey,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// OpenProcess attaches to the configured pid, or looks the process up by name.
func OpenProcess(cfg config.ProcessConfig) (Target, error) {
	pid := cfg.Pid
	if pid == 0 {
		found, err := procmem.FindPID(cfg.Name)
		if err != nil {
			return nil, err
		}
		pid = found
	}
	proc, err := procmem.Open(pid)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// Run begins the scheduled crawl loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, at time.Time) error {
		_, err := s.RunOnce(ctx)
		return err
	})
}

// RunOnce performs one full crawl. A run skipped because another instance
// holds the lock returns a zero Summary and no error.
func (s *Service) RunOnce(ctx context.Context) (crawl.Summary, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return crawl.Summary{}, err
	}
	if !proceed {
		s.logger.Info().Msg("skip run because advisory lock held elsewhere")
		return crawl.Summary{}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.execute(ctx)
}

func (s *Service) execute(ctx context.Context) (crawl.Summary, error) {
	target, err := s.deps.OpenTarget(ctx)
	if err != nil {
		return crawl.Summary{}, fmt.Errorf("open target process: %w", err)
	}
	defer target.Close()

	items, err := catalog.LoadFile(s.cfg.Catalog.File)
	if err != nil {
		return crawl.Summary{}, err
	}
	if items.Len() == 0 {
		s.logger.Warn().Str("file", s.cfg.Catalog.File).Msg("item catalog is empty, names fall back to ids")
	}

	scanner := scan.New(target, scan.Options{
		ChunkSize:   s.cfg.Scan.ChunkSize,
		MaxTextWalk: s.cfg.Scan.MaxTextWalk,
	}, s.logger)
	reader := market.New(scanner, items, market.Options{
		NoiseFloor:    s.cfg.Reader.NoiseFloor,
		MaxOffer:      s.cfg.Reader.MaxOffer,
		PriceCeilings: s.cfg.Reader.PriceCeilings,
		ActiveWindow:  s.cfg.Reader.ActiveWindow,
		IDReads:       s.cfg.Reader.IDReads,
		Offsets:       s.cfg.Layout,
	}, s.logger)

	writer, err := report.Open(s.cfg.Report.Dir, s.logger)
	if err != nil {
		return crawl.Summary{}, err
	}

	startedAt := time.Now()
	var runID int64
	if s.deps.Repository != nil {
		if runID, err = s.deps.Repository.StartRun(ctx, startedAt); err != nil {
			s.logger.Error().Err(err).Msg("failed to open run record")
		}
	}

	flips := newFlipCollector(s.cfg.Alerting.TopN)
	fan := &fanout{primary: writer, logger: s.logger}
	if s.deps.Repository != nil {
		fan.add("storage", storage.NewRecorder(s.deps.Repository, runID))
	}
	if s.deps.Publisher != nil {
		fan.add("kafka", s.deps.Publisher)
	}
	if s.deps.Metrics != nil {
		fan.add("metrics", s.deps.Metrics)
	}
	fan.add("flips", flips)

	session, err := crawl.New(s.deps.Navigator, s.deps.Calibrator, reader, fan, crawl.Options{
		Categories:            s.cfg.Crawl.Categories,
		Settle:                s.cfg.Crawl.Settle,
		MaxDriftRetries:       s.cfg.Crawl.MaxDriftRetries,
		MaxTransientRetries:   s.cfg.Crawl.MaxTransientRetries,
		MaxDuplicateRetries:   s.cfg.Crawl.MaxDuplicateRetries,
		MaxCalibrationSamples: s.cfg.Crawl.MaxCalibrationSamples,
		AntiIdleInterval:      s.cfg.Crawl.AntiIdleInterval,
		MaxItems:              s.cfg.Crawl.MaxItems,
	}, s.logger)
	if err != nil {
		_ = writer.Close()
		return crawl.Summary{}, err
	}

	sum, runErr := session.Run(ctx)
	if runErr == nil {
		if err := writer.Finalize(); err != nil {
			runErr = err
		}
	} else if err := writer.Close(); err != nil {
		s.logger.Error().Err(err).Msg("failed to flush partial full scan")
	}

	s.finish(ctx, runID, sum, flips.top())

	event := s.logger.Info()
	if runErr != nil {
		event = s.logger.Error().Err(runErr)
	}
	event.Int("items", sum.Items()).
		Int("drifts", sum.Drifts()).
		Int("rows", writer.Rows()).
		Bool("aborted", sum.Aborted).
		Dur("elapsed", time.Since(startedAt)).
		Msg("crawl finished")
	return sum, runErr
}

// finish reports the run to the non-critical sinks. A cancelled run context
// still gets its audit row.
func (s *Service) finish(ctx context.Context, runID int64, sum crawl.Summary, top []alerting.Flip) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if s.deps.Repository != nil && runID > 0 {
		if err := s.deps.Repository.FinishRun(ctx, storage.NewRunRecord(runID, sum)); err != nil {
			s.logger.Error().Err(err).Int64("run_id", runID).Msg("failed to close run record")
		}
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveRun(sum)
	}
	if s.cfg.Alerting.Enabled && s.deps.Notifier != nil {
		note := alerting.Notification{
			StartedAt:  sum.StartedAt,
			FinishedAt: sum.FinishedAt,
			Items:      sum.Items(),
			Drifts:     sum.Drifts(),
			Categories: len(sum.Categories),
			Aborted:    sum.Aborted,
			Reason:     sum.Reason,
			TopFlips:   top,
		}
		if err := s.deps.Notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Msg("failed to dispatch run notification")
		}
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

type namedRecorder struct {
	name string
	rec  crawl.Recorder
}

// fanout writes each entry to the primary sink, whose failure stops the
// crawl, and then to secondary sinks whose failures are only logged.
type fanout struct {
	primary crawl.Recorder
	others  []namedRecorder
	logger  zerolog.Logger
}

func (f *fanout) add(name string, rec crawl.Recorder) {
	f.others = append(f.others, namedRecorder{name: name, rec: rec})
}

func (f *fanout) Record(ctx context.Context, e crawl.Entry) error {
	if err := f.primary.Record(ctx, e); err != nil {
		return err
	}
	for _, o := range f.others {
		if err := o.rec.Record(ctx, e); err != nil {
			f.logger.Warn().Err(err).Str("sink", o.name).Str("item", e.Snapshot.Name).Msg("secondary sink failed")
		}
	}
	return nil
}

// flipCollector keeps the n most profitable recorded items.
type flipCollector struct {
	n     int
	flips []alerting.Flip
}

func newFlipCollector(n int) *flipCollector {
	return &flipCollector{n: n}
}

func (c *flipCollector) Record(_ context.Context, e crawl.Entry) error {
	if c.n <= 0 || e.Snapshot.Profit <= 0 {
		return nil
	}
	c.flips = append(c.flips, alerting.Flip{
		Name:            strings.ToLower(e.Snapshot.Name),
		Profit:          e.Snapshot.Profit,
		RelProfit:       e.Snapshot.RelProfit,
		PotentialProfit: e.Snapshot.PotentialProfit,
	})
	sort.SliceStable(c.flips, func(i, j int) bool { return c.flips[i].Profit > c.flips[j].Profit })
	if len(c.flips) > c.n {
		c.flips = c.flips[:c.n]
	}
	return nil
}

func (c *flipCollector) top() []alerting.Flip {
	return append([]alerting.Flip(nil), c.flips...)
}

var (
	_ crawl.Recorder = (*fanout)(nil)
	_ crawl.Recorder = (*flipCollector)(nil)
)
