package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS crawl_runs (
        id           BIGSERIAL PRIMARY KEY,
        started_at   TIMESTAMPTZ NOT NULL,
        finished_at  TIMESTAMPTZ,
        items        INTEGER NOT NULL DEFAULT 0,
        drifts       INTEGER NOT NULL DEFAULT 0,
        aborted      BOOLEAN NOT NULL DEFAULT FALSE,
        reason       TEXT NOT NULL DEFAULT ''
    );
    CREATE TABLE IF NOT EXISTS market_snapshots (
        id               BIGSERIAL PRIMARY KEY,
        run_id           BIGINT REFERENCES crawl_runs(id),
        category         TEXT NOT NULL,
        item_id          BIGINT NOT NULL,
        name             TEXT NOT NULL,
        buy_offer        BIGINT NOT NULL,
        sell_offer       BIGINT NOT NULL,
        month_avg_buy    BIGINT NOT NULL,
        month_avg_sell   BIGINT NOT NULL,
        sold             BIGINT NOT NULL,
        bought           BIGINT NOT NULL,
        profit           BIGINT NOT NULL,
        rel_profit       NUMERIC(20,2) NOT NULL,
        potential_profit BIGINT NOT NULL,
        active_traders   INTEGER NOT NULL,
        polled_at        TIMESTAMPTZ NOT NULL,
        created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS market_snapshots_name_polled_idx
        ON market_snapshots (name, polled_at);`

	insertSnapshotSQL = `INSERT INTO market_snapshots (
        run_id,
        category,
        item_id,
        name,
        buy_offer,
        sell_offer,
        month_avg_buy,
        month_avg_sell,
        sold,
        bought,
        profit,
        rel_profit,
        potential_profit,
        active_traders,
        polled_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
    );`

	snapshotColumns = `id,
        COALESCE(run_id, 0),
        category,
        item_id,
        name,
        buy_offer,
        sell_offer,
        month_avg_buy,
        month_avg_sell,
        sold,
        bought,
        profit,
        rel_profit::text,
        potential_profit,
        active_traders,
        polled_at,
        created_at`

	listItemHistorySQL = `SELECT ` + snapshotColumns + `
    FROM market_snapshots
    WHERE name = $1
      AND polled_at >= $2
      AND polled_at < $3
    ORDER BY polled_at;`

	listRecentSnapshotsSQL = `SELECT ` + snapshotColumns + `
    FROM market_snapshots
    ORDER BY polled_at DESC
    LIMIT $1;`

	countSnapshotsSQL = `SELECT COUNT(*) FROM market_snapshots;`

	startRunSQL = `INSERT INTO crawl_runs (started_at) VALUES ($1) RETURNING id;`

	finishRunSQL = `UPDATE crawl_runs
    SET finished_at = $2, items = $3, drifts = $4, aborted = $5, reason = $6
    WHERE id = $1;`

	listRecentRunsSQL = `SELECT
        id,
        started_at,
        COALESCE(finished_at, started_at),
        items,
        drifts,
        aborted,
        reason
    FROM crawl_runs
    ORDER BY started_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SnapshotStore defines operations for snapshot persistence.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, rec SnapshotRecord) error
	ListItemHistory(ctx context.Context, name string, from, to time.Time) ([]SnapshotRecord, error)
	ListRecentSnapshots(ctx context.Context, limit int) ([]SnapshotRecord, error)
	CountSnapshots(ctx context.Context) (int64, error)
}

// RunStore defines operations for crawl run auditing.
type RunStore interface {
	StartRun(ctx context.Context, startedAt time.Time) (int64, error)
	FinishRun(ctx context.Context, run RunRecord) error
	ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// Repository is a complete snapshot backend.
type Repository interface {
	SnapshotStore
	RunStore
	Close() error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL backend.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// EnsureSchema creates the tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertSnapshot persists one snapshot.
func (s *Store) InsertSnapshot(ctx context.Context, rec SnapshotRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var runID interface{}
	if rec.RunID > 0 {
		runID = rec.RunID
	}

	_, execErr := pool.Exec(ctx, insertSnapshotSQL,
		runID,
		rec.Category,
		int64(rec.ItemID),
		rec.Name,
		rec.BuyOffer,
		rec.SellOffer,
		rec.MonthAvgBuy,
		rec.MonthAvgSell,
		rec.Sold,
		rec.Bought,
		rec.Profit,
		rec.RelProfit.String(),
		rec.PotentialProfit,
		rec.ActiveTraders,
		rec.PolledAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert snapshot: %w", execErr)
	}
	return nil
}

// ListItemHistory lists one item's snapshots within a time window.
func (s *Store) ListItemHistory(ctx context.Context, name string, from, to time.Time) ([]SnapshotRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listItemHistorySQL, name, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list item history: %w", queryErr)
	}
	return collectSnapshots(rows)
}

// ListRecentSnapshots lists the most recent snapshots, newest first.
func (s *Store) ListRecentSnapshots(ctx context.Context, limit int) ([]SnapshotRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	return collectSnapshots(rows)
}

// CountSnapshots counts stored snapshots.
func (s *Store) CountSnapshots(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSnapshotsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count snapshots: %w", scanErr)
	}
	return count, nil
}

// StartRun opens a run row and returns its id.
func (s *Store) StartRun(ctx context.Context, startedAt time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var id int64
	if scanErr := pool.QueryRow(ctx, startRunSQL, startedAt).Scan(&id); scanErr != nil {
		return 0, fmt.Errorf("start run: %w", scanErr)
	}
	return id, nil
}

// FinishRun stores the run outcome.
func (s *Store) FinishRun(ctx context.Context, run RunRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, finishRunSQL,
		run.ID,
		run.FinishedAt,
		run.Items,
		run.Drifts,
		run.Aborted,
		run.Reason,
	)
	if execErr != nil {
		return fmt.Errorf("finish run: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListRecentRuns lists the latest runs, newest first.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]RunRecord, 0, limit)
	for rows.Next() {
		var run RunRecord
		if err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Items,
			&run.Drifts,
			&run.Aborted,
			&run.Reason,
		); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

func collectSnapshots(rows pgx.Rows) ([]SnapshotRecord, error) {
	defer rows.Close()

	records := make([]SnapshotRecord, 0)
	for rows.Next() {
		rec, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanSnapshot(rows pgx.Rows) (SnapshotRecord, error) {
	var (
		rec    SnapshotRecord
		itemID int64
		relStr string
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.RunID,
		&rec.Category,
		&itemID,
		&rec.Name,
		&rec.BuyOffer,
		&rec.SellOffer,
		&rec.MonthAvgBuy,
		&rec.MonthAvgSell,
		&rec.Sold,
		&rec.Bought,
		&rec.Profit,
		&relStr,
		&rec.PotentialProfit,
		&rec.ActiveTraders,
		&rec.PolledAt,
		&rec.CreatedAt,
	); err != nil {
		return SnapshotRecord{}, err
	}

	rel, err := decimal.NewFromString(relStr)
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("parse rel profit: %w", err)
	}
	rec.ItemID = uint32(itemID)
	rec.RelProfit = rel
	return rec, nil
}

var (
	_ Repository     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
