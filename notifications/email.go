package notifications

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"market-scanner/config"
	"market-scanner/database"
)

// EmailNotifier sends alerts and periodic summaries over SMTP. Per-event
// alerts are kept terse; the summary carries the full window report.
type EmailNotifier struct {
	cfg config.SMTPConfig
	tz  *config.TimezoneConverter
}

// NewEmailNotifier creates a notifier over the given SMTP configuration.
func NewEmailNotifier(cfg config.SMTPConfig, tz *config.TimezoneConverter) *EmailNotifier {
	return &EmailNotifier{cfg: cfg, tz: tz}
}

// SignalAlert implements Notifier.
func (e *EmailNotifier) SignalAlert(signal *database.Signal, lotSize, riskAmount float64) error {
	subject := fmt.Sprintf("Signal: %s %s", strings.ToUpper(signal.Direction), signal.SymbolAlias)
	body := fmt.Sprintf(
		"New signal for %s (%s)\n\nDirection: %s\nEntry: %.5f\nSL: %.5f\nTP: %.5f\nLot: %.2f (risk %.2f)\nTime: %s\n",
		signal.SymbolAlias, signal.VendorSymbol, signal.Direction,
		signal.EntryPrice, signal.InitialSL, signal.InitialTP,
		lotSize, riskAmount, e.tz.FormatLocal(signal.TimeGeneratedUTC))
	return e.Send(subject, body)
}

// UpdateAlert implements Notifier.
func (e *EmailNotifier) UpdateAlert(trade *database.Trade, reason string) error {
	subject := fmt.Sprintf("Trade update: %s #%d", trade.SymbolAlias, trade.ID)
	body := fmt.Sprintf(
		"Trade #%d on %s updated.\n\nReason: %s\nSL: %.5f\nTP: %.5f\n",
		trade.ID, trade.SymbolAlias, reason, trade.StopLoss, trade.TakeProfit)
	return e.Send(subject, body)
}

// CloseAlert implements Notifier.
func (e *EmailNotifier) CloseAlert(trade *database.Trade, closeType string) error {
	outcome := "take profit"
	if closeType == CloseTypeSl {
		outcome = "stop loss"
	}
	subject := fmt.Sprintf("Trade closed (%s): %s #%d", outcome, trade.SymbolAlias, trade.ID)

	var b strings.Builder
	fmt.Fprintf(&b, "Trade #%d on %s closed by %s.\n\n", trade.ID, trade.SymbolAlias, outcome)
	fmt.Fprintf(&b, "Direction: %s\nEntry: %.5f\n", trade.Direction, trade.ActualEntry)
	if trade.ClosePrice != nil {
		fmt.Fprintf(&b, "Close: %.5f\n", *trade.ClosePrice)
	}
	if trade.CloseTimeUTC != nil {
		fmt.Fprintf(&b, "Time: %s\n", e.tz.FormatLocal(*trade.CloseTimeUTC))
	}
	return e.Send(subject, b.String())
}

// Heartbeat implements Notifier. Heartbeats stay out of the inbox; they are
// covered by the periodic summary.
func (e *EmailNotifier) Heartbeat(alias string, openTrades int, lastError string, timestamp time.Time) error {
	return nil
}

// ErrorAlert implements Notifier.
func (e *EmailNotifier) ErrorAlert(component, severity, message string, timestamp time.Time) error {
	subject := fmt.Sprintf("Scanner %s in %s", severity, component)
	body := fmt.Sprintf("%s\n\nTime: %s\n", message, e.tz.FormatLocal(timestamp))
	return e.Send(subject, body)
}

// Send delivers one message to the configured recipient. SMTP__USE_SSL
// selects implicit TLS (port 465 style); otherwise STARTTLS is negotiated
// when the server offers it.
func (e *EmailNotifier) Send(subject, body string) error {
	msg := e.buildMessage(subject, body)
	addr := fmt.Sprintf("%s:%d", e.cfg.Server, e.cfg.Port)
	auth := smtp.PlainAuth("", e.cfg.User, e.cfg.Password, e.cfg.Server)

	if e.cfg.UseSSL {
		return e.sendImplicitTLS(addr, auth, msg)
	}

	if err := smtp.SendMail(addr, auth, e.cfg.FromEmail, []string{e.cfg.ToEmail}, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (e *EmailNotifier) sendImplicitTLS(addr string, auth smtp.Auth, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: e.cfg.Server})
	if err != nil {
		return fmt.Errorf("smtp tls dial: %w", err)
	}

	client, err := smtp.NewClient(conn, e.cfg.Server)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(e.cfg.FromEmail); err != nil {
		return fmt.Errorf("smtp mail: %w", err)
	}
	if err := client.Rcpt(e.cfg.ToEmail); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return client.Quit()
}

func (e *EmailNotifier) buildMessage(subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.FromEmail)
	fmt.Fprintf(&b, "To: %s\r\n", e.cfg.ToEmail)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
