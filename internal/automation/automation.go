// Package automation drives the game client and the screen reader through
// external commands.
package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"market-scanner/internal/crawl"
	"market-scanner/internal/market"
)

// CategoryPlaceholder is replaced with the category name in OpenCategory.
const CategoryPlaceholder = "{category}"

// Commands are argv templates. An empty command is a no-op.
type Commands struct {
	RefreshSession []string `mapstructure:"refresh_session"`
	OpenCategory   []string `mapstructure:"open_category"`
	OpenStatistics []string `mapstructure:"open_statistics"`
	Advance        []string `mapstructure:"advance"`
	AntiIdle       []string `mapstructure:"anti_idle"`
	// Sample must print one JSON object with buy_offer, sell_offer,
	// max_buy, max_sell and item_id.
	Sample []string `mapstructure:"sample"`
}

// Options configure the runner.
type Options struct {
	Commands Commands
	Timeout  time.Duration
}

type runFunc func(ctx context.Context, argv []string) ([]byte, error)

// Runner executes the configured commands.
type Runner struct {
	opts   Options
	run    runFunc
	logger zerolog.Logger
}

// New constructs a Runner.
func New(opts Options, logger zerolog.Logger) *Runner {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Runner{opts: opts, run: execCommand, logger: logger.With().Str("component", "automation").Logger()}
}

// RefreshSession implements crawl.Navigator.
func (r *Runner) RefreshSession(ctx context.Context) error {
	return r.action(ctx, "refresh_session", r.opts.Commands.RefreshSession, nil)
}

// OpenCategory implements crawl.Navigator.
func (r *Runner) OpenCategory(ctx context.Context, name string) error {
	return r.action(ctx, "open_category", r.opts.Commands.OpenCategory, map[string]string{CategoryPlaceholder: name})
}

// OpenStatistics implements crawl.Navigator.
func (r *Runner) OpenStatistics(ctx context.Context) error {
	return r.action(ctx, "open_statistics", r.opts.Commands.OpenStatistics, nil)
}

// Advance implements crawl.Navigator.
func (r *Runner) Advance(ctx context.Context) error {
	return r.action(ctx, "advance", r.opts.Commands.Advance, nil)
}

// AntiIdle implements crawl.Navigator.
func (r *Runner) AntiIdle(ctx context.Context) error {
	return r.action(ctx, "anti_idle", r.opts.Commands.AntiIdle, nil)
}

// Sample implements crawl.Calibrator.
func (r *Runner) Sample(ctx context.Context) (market.Sample, error) {
	if len(r.opts.Commands.Sample) == 0 {
		return market.Sample{}, errors.New("automation: ui.sample command not configured")
	}
	out, err := r.exec(ctx, "sample", r.opts.Commands.Sample)
	if err != nil {
		return market.Sample{}, err
	}

	var s market.Sample
	if err := json.Unmarshal(out, &s); err != nil {
		return market.Sample{}, fmt.Errorf("automation: decode sample %q: %w", strings.TrimSpace(string(out)), err)
	}
	if s.ItemID == 0 && s.BuyOffer == 0 && s.SellOffer == 0 {
		return market.Sample{}, errors.New("automation: sample is empty")
	}
	return s, nil
}

func (r *Runner) action(ctx context.Context, name string, argv []string, vars map[string]string) error {
	if len(argv) == 0 {
		r.logger.Debug().Str("action", name).Msg("No command configured, skipping")
		return nil
	}
	_, err := r.exec(ctx, name, expand(argv, vars))
	return err
}

func (r *Runner) exec(ctx context.Context, name string, argv []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	start := time.Now()
	out, err := r.run(ctx, argv)
	if err != nil {
		return nil, fmt.Errorf("automation: %s: %w", name, err)
	}
	r.logger.Debug().Str("action", name).Dur("took", time.Since(start)).Msg("Command finished")
	return out, nil
}

func expand(argv []string, vars map[string]string) []string {
	out := make([]string, len(argv))
	for i, arg := range argv {
		for k, v := range vars {
			arg = strings.ReplaceAll(arg, k, v)
		}
		out[i] = arg
	}
	return out
}

func execCommand(ctx context.Context, argv []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

var (
	_ crawl.Navigator  = (*Runner)(nil)
	_ crawl.Calibrator = (*Runner)(nil)
)
