package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"market-scanner/internal/alerting"
	"market-scanner/internal/config"
	"market-scanner/internal/crawl"
	"market-scanner/internal/metrics"
	"market-scanner/internal/publish"
	"market-scanner/internal/scheduler"
	"market-scanner/internal/service"
	"market-scanner/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openRepository(ctx context.Context) (storage.Repository, func(), error) {
	repo, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	if repo == nil {
		return nil, nil, nil
	}

	closer := func() {
		if err := repo.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close repository")
		}
	}
	return repo, closer, nil
}

func (a *App) newPublisher() (*publish.KafkaPublisher, error) {
	if len(a.Config.Kafka.Brokers) == 0 {
		return nil, nil
	}
	return publish.NewKafkaPublisher(publish.Options{
		Brokers:      a.Config.Kafka.Brokers,
		Topic:        a.Config.Kafka.Topic,
		WriteTimeout: a.Config.Kafka.WriteTimeout,
		Compression:  a.Config.Kafka.Compression,
	}, a.Logger)
}

// newService wires every configured sink. The returned closer releases them.
func (a *App) newService(ctx context.Context, sched *scheduler.Scheduler, rec *metrics.Recorder) (*service.Service, func(), error) {
	repo, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return nil, nil, err
	}
	if repo == nil {
		a.Logger.Warn().Msg("database.driver is none; persistence disabled")
	}

	pub, err := a.newPublisher()
	if err != nil {
		if closeRepo != nil {
			closeRepo()
		}
		return nil, nil, err
	}

	deps := service.Deps{
		Repository: repo,
		Metrics:    rec,
		Notifier:   a.newNotifier(),
	}
	if pub != nil {
		deps.Publisher = pub
	}

	closer := func() {
		if pub != nil {
			if err := pub.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("failed to close kafka publisher")
			}
		}
		if closeRepo != nil {
			closeRepo()
		}
	}
	return service.New(a.Config, sched, deps, a.Logger), closer, nil
}

// Run executes the long-running scheduled scanner.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched, err := scheduler.New(scheduler.Options{
		Times:      a.Config.Scheduler.Times,
		RunOnStart: a.Config.Scheduler.RunOnStart,
	}, a.Logger)
	if err != nil {
		return err
	}

	var rec *metrics.Recorder
	if a.Config.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rec = metrics.New(reg)
		go func() {
			if err := metrics.Serve(ctx, a.Config.Metrics.Addr, reg, a.Logger); err != nil {
				a.Logger.Error().Err(err).Msg("metrics endpoint stopped")
			}
		}()
	}

	svc, closeSvc, err := a.newService(ctx, sched, rec)
	if err != nil {
		return err
	}
	defer closeSvc()

	a.Logger.Info().Strs("times", a.Config.Scheduler.Times).Msg("starting market scanner")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("market scanner stopped")
	return nil
}

// Scan performs one crawl immediately.
func (a *App) Scan(ctx context.Context, opts ScanOptions) (crawl.Summary, error) {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(opts.Categories) > 0 {
		a.Config.Crawl.Categories = opts.Categories
	}
	if opts.Pid > 0 {
		a.Config.Process.Pid = opts.Pid
	}

	svc, closeSvc, err := a.newService(ctx, nil, nil)
	if err != nil {
		return crawl.Summary{}, err
	}
	defer closeSvc()

	return svc.RunOnce(ctx)
}

// ScanOptions override the configured crawl for one run.
type ScanOptions struct {
	Categories []string
	Pid        int
}

// ExportOptions hold parameters for exporting an item's history.
type ExportOptions struct {
	Item      string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	Runs  bool
}
