package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"market-scanner/internal/catalog"
	"market-scanner/internal/report"
	"market-scanner/internal/storage"
)

type historyPoint struct {
	At     time.Time
	Sell   int64
	Buy    int64
	Sold   int64
	Bought int64
	Active int
}

// Export renders one item's history as CSV and/or PNG. The database is used
// when configured, otherwise the per-item history files.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if strings.TrimSpace(opts.Item) == "" {
		return errors.New("--item is required")
	}
	item, err := a.canonicalItem(opts.Item)
	if err != nil {
		return err
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := time.Unix(0, 0).UTC()
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	points, err := a.loadHistory(ctx, item, from, to)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		a.Logger.Info().Str("item", item).Msg("no history found for export window")
		return nil
	}

	downsampled := downsamplePoints(points, opts.MaxPoints)
	a.Logger.Info().Str("item", item).Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, item, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// canonicalItem maps a loosely typed item name onto the catalog spelling so
// history lookups hit the stored lowercase key.
func (a *App) canonicalItem(raw string) (string, error) {
	item := strings.TrimSpace(raw)
	c, err := catalog.LoadFile(a.Config.Catalog.File)
	if err != nil {
		return "", err
	}
	if name, score, ok := c.Canonical(item); ok {
		if !strings.EqualFold(name, item) {
			a.Logger.Info().Str("input", item).Str("item", name).Float64("similarity", score).Msg("resolved item name")
		}
		item = name
	}
	return strings.ToLower(item), nil
}

func (a *App) loadHistory(ctx context.Context, item string, from, to time.Time) ([]historyPoint, error) {
	repo, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return nil, err
	}
	if repo != nil {
		defer closeRepo()
		records, err := repo.ListItemHistory(ctx, item, from, to)
		if err != nil {
			return nil, err
		}
		return pointsFromRecords(records), nil
	}

	rows, err := report.ReadHistory(a.Config.Report.Dir, item)
	if err != nil {
		return nil, err
	}
	return pointsFromRows(rows, from, to)
}

func pointsFromRecords(records []storage.SnapshotRecord) []historyPoint {
	points := make([]historyPoint, 0, len(records))
	for _, r := range records {
		points = append(points, historyPoint{
			At:     r.PolledAt,
			Sell:   r.SellOffer,
			Buy:    r.BuyOffer,
			Sold:   r.Sold,
			Bought: r.Bought,
			Active: r.ActiveTraders,
		})
	}
	return points
}

// pointsFromRows parses history file rows (sell,buy,sold,bought,activeTraders,epoch)
// and keeps those in [from, to).
func pointsFromRows(rows [][]string, from, to time.Time) ([]historyPoint, error) {
	points := make([]historyPoint, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("history row %d: want 6 columns, got %d", i+1, len(row))
		}
		var nums [6]int64
		for j := range nums {
			v, err := strconv.ParseInt(row[j], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("history row %d column %d: %w", i+1, j+1, err)
			}
			nums[j] = v
		}
		at := time.Unix(nums[5], 0).UTC()
		if at.Before(from) || !at.Before(to) {
			continue
		}
		points = append(points, historyPoint{
			At:     at,
			Sell:   nums[0],
			Buy:    nums[1],
			Sold:   nums[2],
			Bought: nums[3],
			Active: int(nums[4]),
		})
	}
	return points, nil
}

func downsamplePoints(points []historyPoint, max int) []historyPoint {
	if max <= 0 || len(points) <= max {
		return points
	}
	if max == 1 {
		return points[len(points)-1:]
	}

	result := make([]historyPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeHistoryCSV(path string, points []historyPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"polled_at", "sell", "buy", "sold", "bought", "active_traders"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range points {
		record := []string{
			p.At.Format(time.RFC3339),
			strconv.FormatInt(p.Sell, 10),
			strconv.FormatInt(p.Buy, 10),
			strconv.FormatInt(p.Sold, 10),
			strconv.FormatInt(p.Bought, 10),
			strconv.Itoa(p.Active),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeHistoryPNG(path, item string, points []historyPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	sell := make([]float64, len(points))
	buy := make([]float64, len(points))
	active := make([]float64, len(points))

	for i, p := range points {
		x[i] = p.At
		sell[i] = float64(p.Sell)
		buy[i] = float64(p.Buy)
		active[i] = float64(p.Active)
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Title:  item,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Offer",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Active traders",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Sell",
				XValues: x,
				YValues: sell,
			},
			chart.TimeSeries{
				Name:    "Buy",
				XValues: x,
				YValues: buy,
			},
			chart.TimeSeries{
				Name:    "Active traders",
				XValues: x,
				YValues: active,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
