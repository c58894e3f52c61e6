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

	"alert-trader/internal/orderlog"
)

// Notification 封装一次下单结果。
type Notification struct {
	Entry         orderlog.Entry
	OrderID       string
	DryRun        bool
	AdditionalMsg string
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
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("symbol", note.Entry.Symbol).
		Str("side", note.Entry.Side).
		Str("status", string(note.Entry.Status)).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	e := note.Entry
	builder := strings.Builder{}
	title := "[Alert Trader]"
	if note.DryRun {
		title = "[Alert Trader · dry-run]"
	}
	builder.WriteString(title + "\n")
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", e.Timestamp.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Order: %s %s\n", e.Side, e.Symbol))
	builder.WriteString(fmt.Sprintf("Status: %s\n", strings.ToUpper(string(e.Status))))
	if e.Quantity.Valid {
		builder.WriteString(fmt.Sprintf("Quantity: %s\n", e.Quantity.Decimal.String()))
	}
	if e.Price.Valid {
		builder.WriteString(fmt.Sprintf("Price: %s\n", e.Price.Decimal.String()))
	}
	if notional, ok := e.Notional(); ok {
		builder.WriteString(fmt.Sprintf("Notional: %s\n", notional.StringFixed(2)))
	}
	if note.OrderID != "" {
		builder.WriteString(fmt.Sprintf("Order ID: %s\n", note.OrderID))
	}
	if e.Message != "" {
		builder.WriteString(e.Message + "\n")
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

// StatusFilter forwards only notifications whose entry status is enabled.
type StatusFilter struct {
	next    Notifier
	allowed map[orderlog.Status]struct{}
}

// NewStatusFilter wraps next. An empty statuses list forwards everything.
func NewStatusFilter(next Notifier, statuses []string) *StatusFilter {
	allowed := make(map[orderlog.Status]struct{}, len(statuses))
	for _, s := range statuses {
		allowed[orderlog.Status(strings.ToLower(strings.TrimSpace(s)))] = struct{}{}
	}
	return &StatusFilter{next: next, allowed: allowed}
}

// Notify implements Notifier.
func (f *StatusFilter) Notify(ctx context.Context, note Notification) error {
	if f.next == nil {
		return nil
	}
	if len(f.allowed) > 0 {
		if _, ok := f.allowed[note.Entry.Status]; !ok {
			return nil
		}
	}
	return f.next.Notify(ctx, note)
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*StatusFilter)(nil)
)
