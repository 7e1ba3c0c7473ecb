package app

import (
	"fmt"
	"log"
	"time"

	"market-scanner/database"
	"market-scanner/notifications"
)

// Severity levels recorded in error_logs.
const (
	SeverityCritical = "CRITICAL"
	SeverityError    = "ERROR"
	SeverityWarning  = "WARNING"
)

// ErrorHandler implements the error taxonomy: startup errors are critical
// and abort the process, runtime errors alert and continue, data errors are
// recorded quietly and skip the current symbol.
type ErrorHandler struct {
	repo     *database.TradeRepository
	notifier notifications.Notifier
}

// NewErrorHandler creates a handler. repo may be nil before the database is
// up (startup errors still log and alert).
func NewErrorHandler(repo *database.TradeRepository, notifier notifications.Notifier) *ErrorHandler {
	return &ErrorHandler{repo: repo, notifier: notifier}
}

// HandleStartup logs at CRITICAL and dispatches an alert. The caller is
// expected to abort with a non-zero exit.
func (h *ErrorHandler) HandleStartup(component string, err error) {
	log.Printf("❌ CRITICAL [%s]: %v", component, err)
	if h.notifier != nil {
		if nerr := h.notifier.ErrorAlert(component, SeverityCritical, err.Error(), time.Now().UTC()); nerr != nil {
			log.Printf("⚠️ Startup alert failed: %v", nerr)
		}
	}
}

// HandleRuntime logs at ERROR, records an error_logs row, dispatches an
// alert and returns so processing continues.
func (h *ErrorHandler) HandleRuntime(component, symbolAlias string, err error) {
	log.Printf("❌ ERROR [%s] %s: %v", component, symbolAlias, err)
	h.record(component, SeverityError, symbolAlias, err)
	if h.notifier != nil {
		msg := err.Error()
		if symbolAlias != "" {
			msg = fmt.Sprintf("%s: %s", symbolAlias, msg)
		}
		if nerr := h.notifier.ErrorAlert(component, SeverityError, msg, time.Now().UTC()); nerr != nil {
			log.Printf("⚠️ Error alert failed: %v", nerr)
		}
	}
}

// HandleData logs at WARNING and records an error_logs row without alert
// spam. The current symbol is skipped by the caller.
func (h *ErrorHandler) HandleData(component, symbolAlias string, err error) {
	log.Printf("⚠️ WARNING [%s] %s: %v", component, symbolAlias, err)
	h.record(component, SeverityWarning, symbolAlias, err)
}

func (h *ErrorHandler) record(component, severity, symbolAlias string, err error) {
	if h.repo == nil {
		return
	}
	entry := &database.ErrorLog{
		TimestampUTC:  time.Now().UTC(),
		Component:     component,
		Severity:      severity,
		Message:       err.Error(),
		ExceptionType: fmt.Sprintf("%T", err),
		SymbolAlias:   symbolAlias,
	}
	if serr := h.repo.SaveErrorLog(entry); serr != nil {
		log.Printf("⚠️ Failed to persist error log: %v", serr)
	}
}
