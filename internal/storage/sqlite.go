package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type snapshotRow struct {
	ID              int64 `gorm:"primaryKey;autoIncrement"`
	RunID           int64 `gorm:"index"`
	Category        string
	ItemID          int64
	Name            string `gorm:"index:idx_snapshot_name_polled,priority:1"`
	BuyOffer        int64
	SellOffer       int64
	MonthAvgBuy     int64
	MonthAvgSell    int64
	Sold            int64
	Bought          int64
	Profit          int64
	RelProfit       string
	PotentialProfit int64
	ActiveTraders   int
	PolledAt        time.Time `gorm:"index:idx_snapshot_name_polled,priority:2"`
	CreatedAt       time.Time
}

func (snapshotRow) TableName() string { return "market_snapshots" }

type runRow struct {
	ID         int64 `gorm:"primaryKey;autoIncrement"`
	StartedAt  time.Time
	FinishedAt time.Time
	Items      int
	Drifts     int
	Aborted    bool
	Reason     string
}

func (runRow) TableName() string { return "crawl_runs" }

// SQLiteStore is the single-file local backend.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (and migrates) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.AutoMigrate(&runRow{}, &snapshotRow{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertSnapshot persists one snapshot.
func (s *SQLiteStore) InsertSnapshot(ctx context.Context, rec SnapshotRecord) error {
	row := toSnapshotRow(rec)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// ListItemHistory lists one item's snapshots within [from, to).
func (s *SQLiteStore) ListItemHistory(ctx context.Context, name string, from, to time.Time) ([]SnapshotRecord, error) {
	var rows []snapshotRow
	err := s.db.WithContext(ctx).
		Where("name = ? AND polled_at >= ? AND polled_at < ?", name, from.UTC(), to.UTC()).
		Order("polled_at").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list item history: %w", err)
	}
	return fromSnapshotRows(rows)
}

// ListRecentSnapshots lists the most recent snapshots, newest first.
func (s *SQLiteStore) ListRecentSnapshots(ctx context.Context, limit int) ([]SnapshotRecord, error) {
	var rows []snapshotRow
	err := s.db.WithContext(ctx).Order("polled_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", err)
	}
	return fromSnapshotRows(rows)
}

// CountSnapshots counts stored snapshots.
func (s *SQLiteStore) CountSnapshots(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&snapshotRow{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return count, nil
}

// StartRun opens a run row and returns its id.
func (s *SQLiteStore) StartRun(ctx context.Context, startedAt time.Time) (int64, error) {
	row := runRow{StartedAt: startedAt.UTC(), FinishedAt: startedAt.UTC()}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("start run: %w", err)
	}
	return row.ID, nil
}

// FinishRun stores the run outcome.
func (s *SQLiteStore) FinishRun(ctx context.Context, run RunRecord) error {
	res := s.db.WithContext(ctx).Model(&runRow{}).Where("id = ?", run.ID).Updates(map[string]interface{}{
		"finished_at": run.FinishedAt.UTC(),
		"items":       run.Items,
		"drifts":      run.Drifts,
		"aborted":     run.Aborted,
		"reason":      run.Reason,
	})
	if res.Error != nil {
		return fmt.Errorf("finish run: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListRecentRuns lists the latest runs, newest first.
func (s *SQLiteStore) ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	var rows []runRow
	if err := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}
	runs := make([]RunRecord, 0, len(rows))
	for _, r := range rows {
		runs = append(runs, RunRecord(r))
	}
	return runs, nil
}

func toSnapshotRow(rec SnapshotRecord) snapshotRow {
	return snapshotRow{
		RunID:           rec.RunID,
		Category:        rec.Category,
		ItemID:          int64(rec.ItemID),
		Name:            rec.Name,
		BuyOffer:        rec.BuyOffer,
		SellOffer:       rec.SellOffer,
		MonthAvgBuy:     rec.MonthAvgBuy,
		MonthAvgSell:    rec.MonthAvgSell,
		Sold:            rec.Sold,
		Bought:          rec.Bought,
		Profit:          rec.Profit,
		RelProfit:       rec.RelProfit.StringFixed(2),
		PotentialProfit: rec.PotentialProfit,
		ActiveTraders:   rec.ActiveTraders,
		PolledAt:        rec.PolledAt.UTC(),
	}
}

func fromSnapshotRows(rows []snapshotRow) ([]SnapshotRecord, error) {
	out := make([]SnapshotRecord, 0, len(rows))
	for _, r := range rows {
		rel, err := decimal.NewFromString(r.RelProfit)
		if err != nil {
			return nil, fmt.Errorf("parse rel profit: %w", err)
		}
		out = append(out, SnapshotRecord{
			ID:              r.ID,
			RunID:           r.RunID,
			Category:        r.Category,
			ItemID:          uint32(r.ItemID),
			Name:            r.Name,
			BuyOffer:        r.BuyOffer,
			SellOffer:       r.SellOffer,
			MonthAvgBuy:     r.MonthAvgBuy,
			MonthAvgSell:    r.MonthAvgSell,
			Sold:            r.Sold,
			Bought:          r.Bought,
			Profit:          r.Profit,
			RelProfit:       rel,
			PotentialProfit: r.PotentialProfit,
			ActiveTraders:   r.ActiveTraders,
			PolledAt:        r.PolledAt,
			CreatedAt:       r.CreatedAt,
		})
	}
	return out, nil
}

var _ Repository = (*SQLiteStore)(nil)
