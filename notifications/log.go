package notifications

import (
	"log"
	"time"

	"market-scanner/database"
)

// LogNotifier writes alerts to the process log. Used in development and as
// a test double.
type LogNotifier struct{}

func (LogNotifier) SignalAlert(signal *database.Signal, lotSize, riskAmount float64) error {
	log.Printf("📣 Signal %s %s entry=%.5f sl=%.5f tp=%.5f lot=%.2f",
		signal.Direction, signal.SymbolAlias, signal.EntryPrice, signal.InitialSL, signal.InitialTP, lotSize)
	return nil
}

func (LogNotifier) UpdateAlert(trade *database.Trade, reason string) error {
	log.Printf("📣 Trade %d (%s) updated: %s sl=%.5f tp=%.5f",
		trade.ID, trade.SymbolAlias, reason, trade.StopLoss, trade.TakeProfit)
	return nil
}

func (LogNotifier) CloseAlert(trade *database.Trade, closeType string) error {
	log.Printf("📣 Trade %d (%s) closed by %s", trade.ID, trade.SymbolAlias, closeType)
	return nil
}

func (LogNotifier) Heartbeat(alias string, openTrades int, lastError string, timestamp time.Time) error {
	log.Printf("💓 %s open_trades=%d last_error=%q", alias, openTrades, lastError)
	return nil
}

func (LogNotifier) ErrorAlert(component, severity, message string, timestamp time.Time) error {
	log.Printf("📣 %s in %s: %s", severity, component, message)
	return nil
}
