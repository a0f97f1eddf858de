// Package publish streams recorded snapshots to Kafka.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"market-scanner/internal/crawl"
)

// Options configure the Kafka writer.
type Options struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	Compression  string
}

// Message is the JSON payload of one snapshot.
type Message struct {
	Category        string `json:"category"`
	ItemID          uint32 `json:"item_id"`
	Name            string `json:"name"`
	BuyOffer        int64  `json:"buy_offer"`
	SellOffer       int64  `json:"sell_offer"`
	MonthAvgBuy     int64  `json:"month_avg_buy"`
	MonthAvgSell    int64  `json:"month_avg_sell"`
	Sold            int64  `json:"sold"`
	Bought          int64  `json:"bought"`
	Profit          int64  `json:"profit"`
	RelProfit       string `json:"rel_profit"`
	PotentialProfit int64  `json:"potential_profit"`
	ActiveTraders   int    `json:"active_traders"`
	PolledAt        int64  `json:"polled_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher implements crawl.Recorder. Messages are keyed by item name
// so one item's history stays in one partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger zerolog.Logger
}

// NewKafkaPublisher builds a publisher.
func NewKafkaPublisher(opts Options, logger zerolog.Logger) (*KafkaPublisher, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if opts.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  parseCompression(opts.Compression),
		MaxAttempts:  3,
		WriteTimeout: opts.WriteTimeout,
		BatchTimeout: 100 * time.Millisecond,
	}
	return newPublisher(w, opts.Topic, logger), nil
}

func newPublisher(w messageWriter, topic string, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic, logger: logger.With().Str("component", "kafka_publisher").Logger()}
}

// Record publishes one snapshot.
func (p *KafkaPublisher) Record(ctx context.Context, e crawl.Entry) error {
	s := e.Snapshot
	msg := Message{
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
		RelProfit:       s.RelProfit.StringFixed(2),
		PotentialProfit: s.PotentialProfit,
		ActiveTraders:   s.ActiveTraders,
		PolledAt:        s.PolledAt.Unix(),
	}
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Name),
		Value: value,
		Time:  s.PolledAt,
	}); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Name, err)
	}
	return nil
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Gzip
	}
}

var _ crawl.Recorder = (*KafkaPublisher)(nil)
