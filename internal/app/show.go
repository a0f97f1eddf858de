package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"market-scanner/internal/storage"
)

// Show prints recent snapshots, or recent runs with opts.Runs.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	repo, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	if repo == nil {
		return errors.New("database not configured; cannot show snapshots")
	}
	defer closeRepo()

	if opts.Runs {
		runs, err := repo.ListRecentRuns(ctx, opts.Limit)
		if err != nil {
			return err
		}
		renderRuns(os.Stdout, runs)
		return nil
	}

	records, err := repo.ListRecentSnapshots(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no snapshots found")
		return nil
	}
	renderSnapshots(os.Stdout, records)
	return nil
}

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(out)
	return t
}

func renderSnapshots(out io.Writer, records []storage.SnapshotRecord) {
	t := newTable(out)
	t.AppendHeader(table.Row{"Time (UTC)", "Item", "Sell", "Buy", "Sold", "Bought", "Profit", "Rel", "Potential", "Active"})
	for _, r := range records {
		t.AppendRow(table.Row{
			r.PolledAt.UTC().Format(time.RFC3339),
			sanitizeInline(r.Name),
			r.SellOffer,
			r.BuyOffer,
			r.Sold,
			r.Bought,
			r.Profit,
			r.RelProfit.StringFixed(2),
			r.PotentialProfit,
			r.ActiveTraders,
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 9, Align: text.AlignRight},
	})
	t.Render()
}

func renderRuns(out io.Writer, runs []storage.RunRecord) {
	t := newTable(out)
	t.AppendHeader(table.Row{"Run", "Started (UTC)", "Duration", "Items", "Drifts", "Result"})
	for _, r := range runs {
		result := "complete"
		if r.Aborted {
			result = "aborted: " + sanitizeInline(r.Reason)
		}
		t.AppendRow(table.Row{
			r.ID,
			r.StartedAt.UTC().Format(time.RFC3339),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Second),
			r.Items,
			r.Drifts,
			result,
		})
	}
	t.Render()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
