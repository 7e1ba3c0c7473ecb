package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"market-scanner/config"
	"market-scanner/database"
)

// SummarySender delivers a rendered summary; notifications.EmailNotifier
// satisfies it.
type SummarySender interface {
	Send(subject, body string) error
}

// SummaryService periodically emails a digest of signals, closed trades and
// the open-trade snapshot for the elapsed window.
type SummaryService struct {
	cfg    *config.Config
	repo   *database.TradeRepository
	sender SummarySender
	tz     *config.TimezoneConverter
	errs   *ErrorHandler

	done chan struct{}
}

// NewSummaryService creates the service.
func NewSummaryService(cfg *config.Config, repo *database.TradeRepository, sender SummarySender, tz *config.TimezoneConverter, errs *ErrorHandler) *SummaryService {
	return &SummaryService{
		cfg:    cfg,
		repo:   repo,
		sender: sender,
		tz:     tz,
		errs:   errs,
		done:   make(chan struct{}),
	}
}

// Start emits summaries until Stop or context cancellation.
func (s *SummaryService) Start(ctx context.Context) {
	interval := time.Duration(s.cfg.Scanner.EmailSummaryIntervalHours) * time.Hour
	log.Printf("📧 Email summary service started (every %v)", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.emit(interval)
		}
	}
}

// Stop terminates the loop.
func (s *SummaryService) Stop() {
	close(s.done)
}

func (s *SummaryService) emit(window time.Duration) {
	now := time.Now().UTC()
	cutoff := now.Add(-window)

	signals, err := s.repo.GetSignalsSince(cutoff)
	if err != nil {
		s.errs.HandleRuntime("summary", "", err)
		return
	}
	closed, err := s.repo.GetTradesClosedSince(cutoff)
	if err != nil {
		s.errs.HandleRuntime("summary", "", err)
		return
	}
	open, err := s.repo.GetOpenTrades("")
	if err != nil {
		s.errs.HandleRuntime("summary", "", err)
		return
	}

	subject := fmt.Sprintf("Scanner summary: %d signals, %d closed, %d open", len(signals), len(closed), len(open))
	body := s.render(signals, closed, open, cutoff, now)

	if err := s.sender.Send(subject, body); err != nil {
		s.errs.HandleRuntime("summary", "", err)
		return
	}
	log.Printf("📧 Summary sent (%d signals, %d closed, %d open)", len(signals), len(closed), len(open))
}

func (s *SummaryService) render(signals []database.Signal, closed, open []database.Trade, from, to time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Scanner summary %s to %s\n\n", s.tz.FormatLocal(from), s.tz.FormatLocal(to))

	fmt.Fprintf(&b, "Signals (%d):\n", len(signals))
	for _, sig := range signals {
		fmt.Fprintf(&b, "  %s %s %s entry=%.5f sl=%.5f tp=%.5f\n",
			s.tz.FormatLocal(sig.TimeGeneratedUTC), sig.Direction, sig.SymbolAlias,
			sig.EntryPrice, sig.InitialSL, sig.InitialTP)
	}
	if len(signals) == 0 {
		b.WriteString("  none\n")
	}

	fmt.Fprintf(&b, "\nClosed trades (%d):\n", len(closed))
	for _, t := range closed {
		line := fmt.Sprintf("  #%d %s %s %s entry=%.5f", t.ID, t.SymbolAlias, t.Direction, t.State, t.ActualEntry)
		if t.ClosePrice != nil {
			line += fmt.Sprintf(" close=%.5f", *t.ClosePrice)
		}
		if t.CloseReason != nil {
			line += fmt.Sprintf(" (%s)", *t.CloseReason)
		}
		b.WriteString(line + "\n")
	}
	if len(closed) == 0 {
		b.WriteString("  none\n")
	}

	fmt.Fprintf(&b, "\nOpen trades (%d):\n", len(open))
	for _, t := range open {
		fmt.Fprintf(&b, "  #%d %s %s entry=%.5f sl=%.5f tp=%.5f opened %s\n",
			t.ID, t.SymbolAlias, t.Direction, t.ActualEntry, t.StopLoss, t.TakeProfit,
			s.tz.FormatLocal(t.OpenTimeUTC))
	}
	if len(open) == 0 {
		b.WriteString("  none\n")
	}

	return b.String()
}
