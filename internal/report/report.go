// Package report writes the full-scan CSV and per-item history files.
package report

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"market-scanner/internal/crawl"
	"market-scanner/internal/market"
)

const (
	fullScanFile    = "fullscan.csv"
	fullScanTmpFile = "fullscan_tmp.csv"
	historiesDir    = "histories"
)

// Writer streams recorded items to CSV. The full scan only replaces
// fullscan.csv once Finalize succeeds.
type Writer struct {
	dir    string
	file   *os.File
	csv    *csv.Writer
	rows   int
	logger zerolog.Logger
}

// Open creates dir and starts a new temporary full-scan file.
func Open(dir string, logger zerolog.Logger) (*Writer, error) {
	if err := os.MkdirAll(filepath.Join(dir, historiesDir), 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, fullScanTmpFile))
	if err != nil {
		return nil, fmt.Errorf("create full scan file: %w", err)
	}

	w := &Writer{
		dir:    dir,
		file:   f,
		csv:    csv.NewWriter(f),
		logger: logger.With().Str("component", "report").Logger(),
	}
	if err := w.csv.Write(market.CSVHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	return w, nil
}

// Record appends the full-scan row and the item's history row.
func (w *Writer) Record(_ context.Context, e crawl.Entry) error {
	if w.file == nil {
		return errors.New("report: writer closed")
	}
	if err := w.csv.Write(e.Snapshot.CSVRecord()); err != nil {
		return fmt.Errorf("write full scan row: %w", err)
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("flush full scan: %w", err)
	}
	w.rows++

	return appendHistory(filepath.Join(w.dir, historiesDir, HistoryFileName(e.Snapshot.Name)), e.Snapshot.HistoryRecord())
}

// Rows is the number of full-scan rows written.
func (w *Writer) Rows() int {
	return w.rows
}

// Finalize closes the temporary file and moves it over fullscan.csv.
func (w *Writer) Finalize() error {
	if err := w.close(); err != nil {
		return err
	}
	src := filepath.Join(w.dir, fullScanTmpFile)
	dst := filepath.Join(w.dir, fullScanFile)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("finalize full scan: %w", err)
	}
	w.logger.Info().Str("path", dst).Int("rows", w.rows).Msg("Full scan written")
	return nil
}

// Close closes the temporary file and leaves it in place as a partial scan.
func (w *Writer) Close() error {
	return w.close()
}

func (w *Writer) close() error {
	if w.file == nil {
		return nil
	}
	w.csv.Flush()
	flushErr := w.csv.Error()
	closeErr := w.file.Close()
	w.file = nil
	if flushErr != nil {
		return fmt.Errorf("flush full scan: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close full scan: %w", closeErr)
	}
	return nil
}

// HistoryFileName maps an item name to its history file.
func HistoryFileName(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, strings.ToLower(strings.TrimSpace(name)))
	if clean == "" || clean == "." || clean == ".." {
		clean = "unnamed"
	}
	return clean + ".csv"
}

func appendHistory(path string, record []string) error {
	_, statErr := os.Stat(path)
	isNew := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if isNew {
		if err := cw.Write(market.HistoryHeader); err != nil {
			return fmt.Errorf("write history header: %w", err)
		}
	}
	if err := cw.Write(record); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

// ReadHistory loads a history file written by Record.
func ReadHistory(dir, name string) ([][]string, error) {
	f, err := os.Open(filepath.Join(dir, historiesDir, HistoryFileName(name)))
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	if len(rows) > 0 && len(rows[0]) > 0 && rows[0][0] == market.HistoryHeader[0] {
		rows = rows[1:]
	}
	return rows, nil
}

var _ crawl.Recorder = (*Writer)(nil)
