package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"market-scanner/config"
	"market-scanner/database"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramNotifier sends HTML-formatted alerts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	tz       *config.TimezoneConverter
	client   *http.Client
	baseURL  string
}

// NewTelegramNotifier creates a notifier for the given bot and chat.
func NewTelegramNotifier(botToken, chatID string, tz *config.TimezoneConverter) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		tz:       tz,
		client:   &http.Client{Timeout: 10 * time.Second},
		baseURL:  telegramAPIBase,
	}
}

// SignalAlert implements Notifier.
func (t *TelegramNotifier) SignalAlert(signal *database.Signal, lotSize, riskAmount float64) error {
	emoji := "🟢"
	if signal.Direction == database.DirectionSell {
		emoji = "🔴"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>NEW SIGNAL: %s %s</b>\n\n", emoji, strings.ToUpper(signal.Direction), signal.SymbolAlias)
	fmt.Fprintf(&b, "Strategy: %s\n", signal.StrategyName)
	fmt.Fprintf(&b, "Entry: <code>%.5f</code>\n", signal.EntryPrice)
	fmt.Fprintf(&b, "SL: <code>%.5f</code>\n", signal.InitialSL)
	fmt.Fprintf(&b, "TP: <code>%.5f</code>\n", signal.InitialTP)
	if signal.EstimatedRR != nil {
		fmt.Fprintf(&b, "Est. RR: <code>%.2f</code>\n", *signal.EstimatedRR)
	}
	fmt.Fprintf(&b, "Lot: <code>%.2f</code> (risk %.2f)\n", lotSize, riskAmount)
	fmt.Fprintf(&b, "Time: %s", t.tz.FormatLocal(signal.TimeGeneratedUTC))

	return t.send(b.String())
}

// UpdateAlert implements Notifier.
func (t *TelegramNotifier) UpdateAlert(trade *database.Trade, reason string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "🔧 <b>TRADE UPDATE: %s</b> (trade #%d)\n\n", trade.SymbolAlias, trade.ID)
	fmt.Fprintf(&b, "Reason: %s\n", reason)
	fmt.Fprintf(&b, "SL: <code>%.5f</code>\n", trade.StopLoss)
	fmt.Fprintf(&b, "TP: <code>%.5f</code>\n", trade.TakeProfit)
	fmt.Fprintf(&b, "Time: %s", t.tz.FormatLocal(time.Now().UTC()))

	return t.send(b.String())
}

// CloseAlert implements Notifier.
func (t *TelegramNotifier) CloseAlert(trade *database.Trade, closeType string) error {
	emoji := "🎯"
	title := "TAKE PROFIT HIT"
	if closeType == CloseTypeSl {
		emoji = "🛑"
		title = "STOP LOSS HIT"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s: %s</b> (trade #%d)\n\n", emoji, title, trade.SymbolAlias, trade.ID)
	fmt.Fprintf(&b, "Direction: %s\n", trade.Direction)
	fmt.Fprintf(&b, "Entry: <code>%.5f</code>\n", trade.ActualEntry)
	if trade.ClosePrice != nil {
		fmt.Fprintf(&b, "Close: <code>%.5f</code>\n", *trade.ClosePrice)
	}
	if trade.CloseTimeUTC != nil {
		fmt.Fprintf(&b, "Time: %s", t.tz.FormatLocal(*trade.CloseTimeUTC))
	}

	return t.send(b.String())
}

// Heartbeat implements Notifier.
func (t *TelegramNotifier) Heartbeat(alias string, openTrades int, lastError string, timestamp time.Time) error {
	var b strings.Builder
	fmt.Fprintf(&b, "💓 <b>Heartbeat: %s</b>\n", alias)
	fmt.Fprintf(&b, "Open trades: %d\n", openTrades)
	if lastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", lastError)
	}
	fmt.Fprintf(&b, "Time: %s", t.tz.FormatLocal(timestamp))

	return t.send(b.String())
}

// ErrorAlert implements Notifier.
func (t *TelegramNotifier) ErrorAlert(component, severity, message string, timestamp time.Time) error {
	var b strings.Builder
	fmt.Fprintf(&b, "❌ <b>%s</b> in %s\n\n", severity, component)
	fmt.Fprintf(&b, "%s\n", message)
	fmt.Fprintf(&b, "Time: %s", t.tz.FormatLocal(timestamp))

	return t.send(b.String())
}

func (t *TelegramNotifier) send(text string) error {
	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram send: unexpected status %d", resp.StatusCode)
	}
	return nil
}
