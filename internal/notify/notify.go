package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/hikarum/hashwatch/internal/coins"
	"github.com/hikarum/hashwatch/internal/profit"
)

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// LogNotifier writes alerts to the log only. Used when no Telegram
// credentials are configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, message string) error {
	n.logger.Info("Alert", zap.String("message", message))
	return nil
}

const telegramAPIBase = "https://api.telegram.org"

// TelegramNotifier delivers alerts through the Telegram Bot API.
type TelegramNotifier struct {
	logger  *zap.Logger
	client  *http.Client
	baseURL string
	token   string
	chatID  string
}

// NewTelegramNotifier creates a notifier for the given bot token and chat.
func NewTelegramNotifier(logger *zap.Logger, token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		logger:  logger,
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: telegramAPIBase,
		token:   token,
		chatID:  chatID,
	}
}

// NewTelegramNotifierWithBase is NewTelegramNotifier with an overridable
// API endpoint for tests.
func NewTelegramNotifierWithBase(logger *zap.Logger, token, chatID, baseURL string) *TelegramNotifier {
	n := NewTelegramNotifier(logger, token, chatID)
	n.baseURL = baseURL
	return n
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// Notify sends one message to the configured chat.
func (n *TelegramNotifier) Notify(ctx context.Context, message string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID: n.chatID,
		Text:   message,
	})
	if err != nil {
		return fmt.Errorf("marshal telegram request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()

	var result sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode telegram response: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("telegram rejected message: %s", result.Description)
	}

	n.logger.Debug("Telegram alert sent")
	return nil
}

// Events wraps a Notifier with the messages the daemon emits. Delivery
// failures are logged, never propagated; alerting must not disturb the
// supervision loop.
type Events struct {
	logger   *zap.Logger
	notifier Notifier
}

// NewEvents creates the event message layer.
func NewEvents(logger *zap.Logger, notifier Notifier) *Events {
	return &Events{logger: logger, notifier: notifier}
}

func (e *Events) send(ctx context.Context, message string) {
	if err := e.notifier.Notify(ctx, message); err != nil {
		e.logger.Warn("Alert delivery failed", zap.Error(err))
	}
}

// Startup announces the daemon coming up.
func (e *Events) Startup(ctx context.Context, coin coins.Coin, worker string) {
	e.send(ctx, fmt.Sprintf("hashwatch started: mining %s as worker %s", coin, worker))
}

// Shutdown announces a clean exit.
func (e *Events) Shutdown(ctx context.Context, uptime time.Duration) {
	e.send(ctx, fmt.Sprintf("hashwatch stopped after %s", humanize.RelTime(time.Now().Add(-uptime), time.Now(), "", "")))
}

// MinerFailed announces a miner that exhausted its restart budget.
func (e *Events) MinerFailed(ctx context.Context, coin coins.Coin, failures int) {
	e.send(ctx, fmt.Sprintf("ALERT: %s miner failed permanently after %d consecutive failures, operator attention required", coin, failures))
}

// PayoutReached announces the pool's pending balance crossing the
// configured payout threshold.
func (e *Events) PayoutReached(ctx context.Context, coin coins.Coin, balance, threshold float64) {
	e.send(ctx, fmt.Sprintf("%s pending balance %s has reached the payout threshold %s",
		coin,
		humanize.CommafWithDigits(balance, 4),
		humanize.CommafWithDigits(threshold, 4),
	))
}

// ProfitSignFlip announces net profitability crossing zero.
func (e *Events) ProfitSignFlip(ctx context.Context, coin coins.Coin, report profit.Report) {
	direction := "profitable"
	if report.NetProfitPerDay < 0 {
		direction = "unprofitable"
	}
	e.send(ctx, fmt.Sprintf("%s mining is now %s: net %s/day (revenue %s, power %s, fees %s)",
		coin, direction,
		formatUSD(report.NetProfitPerDay),
		formatUSD(report.RevenuePerDay),
		formatUSD(report.CostPerDay),
		formatUSD(report.PoolFeePerDay),
	))
}

func formatUSD(v float64) string {
	if v < 0 {
		return fmt.Sprintf("-$%s", humanize.CommafWithDigits(-v, 2))
	}
	return fmt.Sprintf("$%s", humanize.CommafWithDigits(v, 2))
}
