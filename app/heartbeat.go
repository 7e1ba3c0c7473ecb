package app

import (
	"context"
	"log"
	"time"

	"market-scanner/config"
	"market-scanner/database"
	"market-scanner/notifications"
)

// HeartbeatService records per-symbol liveness rows and dispatches a
// heartbeat notification on a fixed cadence.
type HeartbeatService struct {
	cfg      *config.Config
	repo     *database.TradeRepository
	notifier notifications.Notifier
	errs     *ErrorHandler

	symbols map[string]string
	done    chan struct{}
}

// NewHeartbeatService creates the service.
func NewHeartbeatService(cfg *config.Config, repo *database.TradeRepository, notifier notifications.Notifier, errs *ErrorHandler) *HeartbeatService {
	return &HeartbeatService{
		cfg:      cfg,
		repo:     repo,
		notifier: notifier,
		errs:     errs,
		symbols:  cfg.Scanner.Symbols,
		done:     make(chan struct{}),
	}
}

// SetSymbols replaces the symbol universe (used after validation).
func (h *HeartbeatService) SetSymbols(symbols map[string]string) {
	h.symbols = symbols
}

// Start emits heartbeats until Stop or context cancellation.
func (h *HeartbeatService) Start(ctx context.Context) {
	interval := time.Duration(h.cfg.Scanner.HeartbeatIntervalMinutes) * time.Minute
	log.Printf("💓 Heartbeat service started (every %v)", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			h.emit(interval)
		}
	}
}

// Stop terminates the loop.
func (h *HeartbeatService) Stop() {
	close(h.done)
}

func (h *HeartbeatService) emit(window time.Duration) {
	now := time.Now().UTC()
	for alias := range h.symbols {
		count, err := h.repo.CountOpenTrades(alias)
		if err != nil {
			h.errs.HandleRuntime("heartbeat", alias, err)
			continue
		}

		lastError := ""
		if recent, err := h.repo.GetRecentErrors(window, alias); err == nil && len(recent) > 0 {
			lastError = recent[0].Message
		}

		hb := &database.Heartbeat{
			SymbolAlias:    alias,
			TimestampUTC:   now,
			OpenTradeCount: int(count),
			LastError:      lastError,
		}
		if err := h.repo.SaveHeartbeat(hb); err != nil {
			h.errs.HandleRuntime("heartbeat", alias, err)
			continue
		}

		if err := h.notifier.Heartbeat(alias, int(count), lastError, now); err != nil {
			h.errs.HandleRuntime("notifications", alias, err)
		}
	}
}
