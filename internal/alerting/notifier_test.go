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

	"alert-trader/internal/orderlog"
)

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
	if err := notifier.Notify(context.Background(), filledNote()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	text := received["text"]
	for _, want := range []string{"BUY BTCUSDT", "FILLED", "Quantity: 0.001", "Notional: 60.00", "Order ID: 42"} {
		if !strings.Contains(text, want) {
			t.Fatalf("消息缺少 %q: %s", want, text)
		}
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), filledNote()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestRenderMessageWithoutSizing(t *testing.T) {
	note := Notification{
		Entry: orderlog.Entry{
			Timestamp: time.Now(),
			Symbol:    "ETHUSDT",
			Side:      "SELL",
			Status:    orderlog.StatusError,
			Message:   "Order failed: timeout",
		},
		DryRun: true,
	}
	text := renderMessage(note)
	if strings.Contains(text, "Quantity") || strings.Contains(text, "Notional") {
		t.Fatalf("未定量的订单不应输出数量: %s", text)
	}
	if !strings.Contains(text, "dry-run") || !strings.Contains(text, "Order failed: timeout") {
		t.Fatalf("unexpected message: %s", text)
	}
}

type recordingNotifier struct{ got []Notification }

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.got = append(r.got, n)
	return nil
}

func TestStatusFilter(t *testing.T) {
	rec := &recordingNotifier{}
	f := NewStatusFilter(rec, []string{"Rejected", " error "})

	note := filledNote()
	_ = f.Notify(context.Background(), note)
	note.Entry.Status = orderlog.StatusRejected
	_ = f.Notify(context.Background(), note)
	note.Entry.Status = orderlog.StatusError
	_ = f.Notify(context.Background(), note)

	if len(rec.got) != 2 {
		t.Fatalf("应只转发 rejected/error, 实际 %d", len(rec.got))
	}

	all := &recordingNotifier{}
	_ = NewStatusFilter(all, nil).Notify(context.Background(), filledNote())
	if len(all.got) != 1 {
		t.Fatal("未配置状态时应全部转发")
	}
}

func filledNote() Notification {
	return Notification{
		Entry: orderlog.Entry{
			Timestamp: time.Now(),
			Symbol:    "BTCUSDT",
			Side:      "BUY",
			Price:     decimal.NewNullDecimal(decimal.NewFromInt(60000)),
			Quantity:  decimal.NewNullDecimal(decimal.RequireFromString("0.001")),
			Status:    orderlog.StatusFilled,
		},
		OrderID: "42",
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
