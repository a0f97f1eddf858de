package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func testNote() Notification {
	start := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	return Notification{
		StartedAt:  start,
		FinishedAt: start.Add(75 * time.Minute),
		Items:      120,
		Drifts:     3,
		Categories: 4,
		TopFlips: []Flip{
			{Name: "golden helmet", Profit: 9_500_000, RelProfit: decimal.RequireFromString("0.48"), PotentialProfit: 19_000_000},
		},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNote()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "1. golden helmet profit 9500000 (0.48)") {
		t.Fatalf("text 缺少 top flip: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNote()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestRenderMessage(t *testing.T) {
	note := testNote()
	msg := renderMessage(note)
	for _, want := range []string{"[Market Scan Complete]", "Duration: 1h15m0s", "Items: 120 in 4 categories", "Drift resets: 3"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}

	note.Aborted = true
	note.Reason = "crawl aborted: 11 consecutive failures"
	msg = renderMessage(note)
	if !strings.HasPrefix(msg, "[Market Scan Aborted]") || !strings.Contains(msg, "Reason: crawl aborted") {
		t.Fatalf("aborted message:\n%s", msg)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
