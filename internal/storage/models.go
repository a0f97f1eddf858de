package storage

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"market-scanner/internal/crawl"
)

// SnapshotRecord is one persisted market poll.
type SnapshotRecord struct {
	ID              int64
	RunID           int64
	Category        string
	ItemID          uint32
	Name            string
	BuyOffer        int64
	SellOffer       int64
	MonthAvgBuy     int64
	MonthAvgSell    int64
	Sold            int64
	Bought          int64
	Profit          int64
	RelProfit       decimal.Decimal
	PotentialProfit int64
	ActiveTraders   int
	PolledAt        time.Time
	CreatedAt       time.Time
}

// RunRecord summarises one crawl.
type RunRecord struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	Items      int
	Drifts     int
	Aborted    bool
	Reason     string
}

// NewSnapshotRecord flattens a crawl entry. Names are stored lowercase.
func NewSnapshotRecord(runID int64, e crawl.Entry) SnapshotRecord {
	s := e.Snapshot
	return SnapshotRecord{
		RunID:           runID,
		Category:        e.Category,
		ItemID:          s.ItemID,
		Name:            strings.ToLower(s.Name),
		BuyOffer:        s.BuyOffer,
		SellOffer:       s.SellOffer,
		MonthAvgBuy:     s.MonthBuy.Average(),
		MonthAvgSell:    s.MonthSell.Average(),
		Sold:            s.Sold(),
		Bought:          s.Bought(),
		Profit:          s.Profit,
		RelProfit:       s.RelProfit,
		PotentialProfit: s.PotentialProfit,
		ActiveTraders:   s.ActiveTraders,
		PolledAt:        s.PolledAt,
	}
}

// NewRunRecord converts a finished session summary.
func NewRunRecord(id int64, sum crawl.Summary) RunRecord {
	return RunRecord{
		ID:         id,
		StartedAt:  sum.StartedAt,
		FinishedAt: sum.FinishedAt,
		Items:      sum.Items(),
		Drifts:     sum.Drifts(),
		Aborted:    sum.Aborted,
		Reason:     sum.Reason,
	}
}
