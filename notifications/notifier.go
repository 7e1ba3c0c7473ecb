// Package notifications dispatches scanner events to Telegram, email and
// the log. Delivery failures are reported to callers but must never abort
// a scan; the orchestrator downgrades them to runtime errors.
package notifications

import (
	"time"

	"market-scanner/database"
)

// Close types for CloseAlert.
const (
	CloseTypeTp = "tp"
	CloseTypeSl = "sl"
)

// Notifier is the outbound alert contract. Every operation receives the
// event timestamp and renders it in the configured timezone.
type Notifier interface {
	// SignalAlert announces a freshly generated signal with its sizing.
	SignalAlert(signal *database.Signal, lotSize, riskAmount float64) error
	// UpdateAlert announces an SL/TP adjustment on an open trade.
	UpdateAlert(trade *database.Trade, reason string) error
	// CloseAlert announces a trade close; closeType is "tp" or "sl".
	CloseAlert(trade *database.Trade, closeType string) error
	// Heartbeat announces per-symbol liveness.
	Heartbeat(alias string, openTrades int, lastError string, timestamp time.Time) error
	// ErrorAlert announces a runtime or startup error.
	ErrorAlert(component, severity, message string, timestamp time.Time) error
}

// Multi fans out each alert to every notifier, returning the first error
// after all have been attempted.
type Multi []Notifier

func (m Multi) SignalAlert(signal *database.Signal, lotSize, riskAmount float64) error {
	var first error
	for _, n := range m {
		if err := n.SignalAlert(signal, lotSize, riskAmount); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) UpdateAlert(trade *database.Trade, reason string) error {
	var first error
	for _, n := range m {
		if err := n.UpdateAlert(trade, reason); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) CloseAlert(trade *database.Trade, closeType string) error {
	var first error
	for _, n := range m {
		if err := n.CloseAlert(trade, closeType); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Heartbeat(alias string, openTrades int, lastError string, timestamp time.Time) error {
	var first error
	for _, n := range m {
		if err := n.Heartbeat(alias, openTrades, lastError, timestamp); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) ErrorAlert(component, severity, message string, timestamp time.Time) error {
	var first error
	for _, n := range m {
		if err := n.ErrorAlert(component, severity, message, timestamp); err != nil && first == nil {
			first = err
		}
	}
	return first
}
