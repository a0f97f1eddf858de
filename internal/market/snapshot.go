// Package market decodes live market records out of the client's memory.
package market

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	feePercent = 2
	feeCap     = 250_000
)

// CSVHeader is the column order of Snapshot.CSVRecord.
var CSVHeader = []string{
	"name", "sell", "buy", "monthAvgSell", "monthAvgBuy", "sold", "bought",
	"profit", "relProfit", "potentialProfit", "activeTraders",
}

// HistoryHeader is the column order of Snapshot.HistoryRecord.
var HistoryHeader = []string{"sell", "buy", "sold", "bought", "activeTraders", "pollTimeEpochSeconds"}

// SideStats are the monthly aggregates of one market side.
type SideStats struct {
	Min   int64
	Max   int64
	Total int64
	Count int64
}

// Average is total / count, zero without transactions.
func (s SideStats) Average() int64 {
	if s.Count == 0 {
		return 0
	}
	return s.Total / s.Count
}

// Snapshot is one validated market record. It is never mutated after Poll
// returns it.
type Snapshot struct {
	ItemID          uint32
	Name            string
	BuyOffer        int64
	SellOffer       int64
	MonthBuy        SideStats
	MonthSell       SideStats
	ActiveTraders   int
	Profit          int64
	RelProfit       decimal.Decimal
	PotentialProfit int64
	PolledAt        time.Time
}

// Sold is the number of sell-side transactions this month.
func (s Snapshot) Sold() int64 { return s.MonthSell.Count }

// Bought is the number of buy-side transactions this month.
func (s Snapshot) Bought() int64 { return s.MonthBuy.Count }

// Volume is the total monthly transaction count of both sides.
func (s Snapshot) Volume() int64 { return s.MonthBuy.Count + s.MonthSell.Count }

// CSVRecord renders the full-scan row.
func (s Snapshot) CSVRecord() []string {
	return []string{
		strings.ToLower(s.Name),
		strconv.FormatInt(s.SellOffer, 10),
		strconv.FormatInt(s.BuyOffer, 10),
		strconv.FormatInt(s.MonthSell.Average(), 10),
		strconv.FormatInt(s.MonthBuy.Average(), 10),
		strconv.FormatInt(s.Sold(), 10),
		strconv.FormatInt(s.Bought(), 10),
		strconv.FormatInt(s.Profit, 10),
		s.RelProfit.StringFixed(2),
		strconv.FormatInt(s.PotentialProfit, 10),
		strconv.Itoa(s.ActiveTraders),
	}
}

// HistoryRecord renders the per-item history row.
func (s Snapshot) HistoryRecord() []string {
	return []string{
		strconv.FormatInt(s.SellOffer, 10),
		strconv.FormatInt(s.BuyOffer, 10),
		strconv.FormatInt(s.Sold(), 10),
		strconv.FormatInt(s.Bought(), 10),
		strconv.Itoa(s.ActiveTraders),
		strconv.FormatInt(s.PolledAt.Unix(), 10),
	}
}

// DecodeTimestamp keeps the meaningful low half of a slot's timestamp word.
func DecodeTimestamp(raw uint64) uint32 {
	return uint32(raw & 0xFFFF_FFFF)
}

// Fee is the market fee of buying at buy and relisting at sell.
func Fee(buy, sell int64) int64 {
	return sideFee(buy) + sideFee(sell)
}

func sideFee(v int64) int64 {
	fee := v * feePercent / 100
	if fee > feeCap {
		return feeCap
	}
	return fee
}

// Profit is sell minus buy minus fees.
func Profit(buy, sell int64) int64 {
	return sell - buy - Fee(buy, sell)
}

// RelativeProfit is profit/buy rounded to two places, zero when buy is zero.
func RelativeProfit(profit, buy int64) decimal.Decimal {
	if buy == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(profit).Div(decimal.NewFromInt(buy)).Round(2)
}

// EffectiveOffers clamps the first offers against the month's statistics: a
// buy offer below the month's lowest buy is raised to it, and a sell offer
// above the month's highest sell is lowered to it but never below the buy.
func EffectiveOffers(firstBuy, firstSell int64, buyStats, sellStats SideStats) (buy, sell int64) {
	buy = firstBuy
	if buyStats.Count > 0 && buyStats.Min > buy {
		buy = buyStats.Min
	}
	sell = firstSell
	if sellStats.Count > 0 && sellStats.Max > 0 && sellStats.Max < sell {
		sell = sellStats.Max
	}
	if sell < firstBuy {
		sell = firstBuy
	}
	return buy, sell
}

func buildSnapshot(id uint32, name string, firstBuy, firstSell int64, buyStats, sellStats SideStats, active int, polledAt time.Time) Snapshot {
	buy, sell := EffectiveOffers(firstBuy, firstSell, buyStats, sellStats)
	profit := Profit(buy, sell)

	traded := sellStats.Count
	if buyStats.Count < traded {
		traded = buyStats.Count
	}

	return Snapshot{
		ItemID:          id,
		Name:            name,
		BuyOffer:        buy,
		SellOffer:       sell,
		MonthBuy:        buyStats,
		MonthSell:       sellStats,
		ActiveTraders:   active,
		Profit:          profit,
		RelProfit:       RelativeProfit(profit, buy),
		PotentialProfit: profit * traded,
		PolledAt:        polledAt,
	}
}
