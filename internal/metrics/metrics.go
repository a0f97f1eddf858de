// Package metrics exposes crawl progress to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"market-scanner/internal/crawl"
)

// Recorder implements crawl.Recorder using Prometheus.
type Recorder struct {
	items         *prometheus.CounterVec
	drifts        *prometheus.CounterVec
	duplicates    *prometheus.CounterVec
	runs          *prometheus.CounterVec
	lastSell      *prometheus.GaugeVec
	lastProfit    *prometheus.GaugeVec
	activeTraders *prometheus.GaugeVec
	runDuration   prometheus.Histogram
}

// New registers the crawl metrics on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		items: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketscan_items_recorded_total",
				Help: "Total number of recorded market snapshots",
			},
			[]string{"category"},
		),
		drifts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketscan_drifts_total",
				Help: "Total number of drift resets",
			},
			[]string{"category"},
		),
		duplicates: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketscan_duplicate_polls_total",
				Help: "Total number of tolerated duplicate polls",
			},
			[]string{"category"},
		),
		runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketscan_runs_total",
				Help: "Total number of crawl runs by result",
			},
			[]string{"result"},
		),
		lastSell: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketscan_last_sell_offer",
				Help: "Last recorded sell offer for an item",
			},
			[]string{"item"},
		),
		lastProfit: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketscan_last_profit",
				Help: "Last recorded flip profit for an item",
			},
			[]string{"item"},
		),
		activeTraders: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketscan_active_traders",
				Help: "Offers seen in the last 24 hours for an item",
			},
			[]string{"item"},
		),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketscan_run_duration_seconds",
			Help:    "Duration of crawl runs in seconds",
			Buckets: prometheus.ExponentialBuckets(60, 2, 8),
		}),
	}
}

// Record updates the per-item series.
func (r *Recorder) Record(_ context.Context, e crawl.Entry) error {
	item := strings.ToLower(e.Snapshot.Name)
	r.items.WithLabelValues(e.Category).Inc()
	r.lastSell.WithLabelValues(item).Set(float64(e.Snapshot.SellOffer))
	r.lastProfit.WithLabelValues(item).Set(float64(e.Snapshot.Profit))
	r.activeTraders.WithLabelValues(item).Set(float64(e.Snapshot.ActiveTraders))
	return nil
}

// ObserveRun records a finished crawl.
func (r *Recorder) ObserveRun(sum crawl.Summary) {
	result := "complete"
	if sum.Aborted {
		result = "aborted"
	}
	r.runs.WithLabelValues(result).Inc()
	for _, c := range sum.Categories {
		r.drifts.WithLabelValues(c.Name).Add(float64(c.Drifts))
		r.duplicates.WithLabelValues(c.Name).Add(float64(c.Duplicates))
	}
	if !sum.FinishedAt.IsZero() {
		r.runDuration.Observe(sum.FinishedAt.Sub(sum.StartedAt).Seconds())
	}
}

// Serve exposes gatherer on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Metrics endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

var _ crawl.Recorder = (*Recorder)(nil)
