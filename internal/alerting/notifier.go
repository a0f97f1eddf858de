package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Flip 是一条候选倒卖机会。
type Flip struct {
	Name            string
	Profit          int64
	RelProfit       decimal.Decimal
	PotentialProfit int64
}

// Notification 封装一次扫描的结果。
type Notification struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Items      int
	Drifts     int
	Categories int
	Aborted    bool
	Reason     string
	TopFlips   []Flip
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Time("started_at", note.StartedAt).
		Int("items", note.Items).
		Bool("aborted", note.Aborted).
		Msg("Run notification sent (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	if note.Aborted {
		builder.WriteString("[Market Scan Aborted]\n")
	} else {
		builder.WriteString("[Market Scan Complete]\n")
	}
	builder.WriteString(fmt.Sprintf("Started: %s UTC\n", note.StartedAt.UTC().Format(time.RFC3339)))
	if !note.FinishedAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Duration: %s\n", note.FinishedAt.Sub(note.StartedAt).Round(time.Second)))
	}
	builder.WriteString(fmt.Sprintf("Items: %d in %d categories\n", note.Items, note.Categories))
	builder.WriteString(fmt.Sprintf("Drift resets: %d\n", note.Drifts))
	if note.Reason != "" {
		builder.WriteString(fmt.Sprintf("Reason: %s\n", note.Reason))
	}
	if len(note.TopFlips) > 0 {
		builder.WriteString("Top flips:\n")
		for i, f := range note.TopFlips {
			builder.WriteString(fmt.Sprintf("%d. %s profit %d (%s) potential %d\n",
				i+1, f.Name, f.Profit, f.RelProfit.StringFixed(2), f.PotentialProfit))
		}
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
