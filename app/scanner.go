package app

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"market-scanner/config"
	"market-scanner/database"
	"market-scanner/marketdata"
	"market-scanner/notifications"
	"market-scanner/sltp"
	"market-scanner/statemachine"
	"market-scanner/strategy"
)

// Per-cycle lookback windows by timeframe.
var scanLookbacks = struct {
	h4, h1, m30, m15, m5, m1 time.Duration
}{
	h4:  30 * 24 * time.Hour,
	h1:  14 * 24 * time.Hour,
	m30: 7 * 24 * time.Hour,
	m15: 7 * 24 * time.Hour,
	m5:  3 * 24 * time.Hour,
	m1:  24 * time.Hour,
}

// ScannerService runs the periodic scan cycle over the configured symbols.
type ScannerService struct {
	cfg       *config.Config
	candles   *marketdata.Cache
	strat     *strategy.H4FvgStrategy
	estimator sltp.Estimator
	machine   *statemachine.StateMachine
	repo      *database.TradeRepository
	notifier  notifications.Notifier
	errs      *ErrorHandler

	symbols map[string]string // alias -> vendor symbol
	done    chan struct{}
}

// NewScannerService wires the scan pipeline together.
func NewScannerService(
	cfg *config.Config,
	candles *marketdata.Cache,
	strat *strategy.H4FvgStrategy,
	estimator sltp.Estimator,
	machine *statemachine.StateMachine,
	repo *database.TradeRepository,
	notifier notifications.Notifier,
	errs *ErrorHandler,
) *ScannerService {
	return &ScannerService{
		cfg:       cfg,
		candles:   candles,
		strat:     strat,
		estimator: estimator,
		machine:   machine,
		repo:      repo,
		notifier:  notifier,
		errs:      errs,
		symbols:   cfg.Scanner.Symbols,
		done:      make(chan struct{}),
	}
}

// SetSymbols replaces the scan universe (used after symbol validation).
func (s *ScannerService) SetSymbols(symbols map[string]string) {
	s.symbols = symbols
}

// Start runs scan cycles until Stop or context cancellation. The first
// cycle runs immediately.
func (s *ScannerService) Start(ctx context.Context) {
	interval := time.Duration(s.cfg.Scanner.ScanIntervalSeconds) * time.Second
	log.Printf("🚀 Scanner started: %d symbols every %v", len(s.symbols), interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// Stop terminates the scan loop.
func (s *ScannerService) Stop() {
	close(s.done)
}

// RunCycle processes every symbol once, sequentially or with a bounded
// worker pool. One symbol's failure never affects another.
func (s *ScannerService) RunCycle(ctx context.Context) {
	aliases := make([]string, 0, len(s.symbols))
	for alias := range s.symbols {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	workers := s.cfg.Scanner.MaxParallelScans
	if workers > len(aliases) {
		workers = len(aliases)
	}

	if workers <= 1 {
		for _, alias := range aliases {
			if ctx.Err() != nil {
				return
			}
			s.scanSymbol(ctx, alias, s.symbols[alias])
		}
		return
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for alias := range jobs {
				s.scanSymbol(ctx, alias, s.symbols[alias])
			}
		}()
	}
	for _, alias := range aliases {
		if ctx.Err() != nil {
			break
		}
		jobs <- alias
	}
	close(jobs)
	wg.Wait()
}

// scanSymbol runs the full per-symbol pipeline: refresh candles, evaluate a
// new signal, then walk the symbol's open trades.
func (s *ScannerService) scanSymbol(ctx context.Context, alias, vendorSymbol string) {
	mtf, ok := s.buildContext(ctx, alias, vendorSymbol)
	if !ok {
		return
	}

	s.evaluateNewSignal(mtf)
	s.evaluateOpenTrades(mtf)
}

func (s *ScannerService) buildContext(ctx context.Context, alias, vendorSymbol string) (*strategy.MultiTimeframeContext, bool) {
	fetch := func(interval string, lookback time.Duration) (marketdata.Series, bool) {
		series, err := s.candles.GetCandles(ctx, vendorSymbol, interval, lookback)
		if err != nil {
			var dataErr *marketdata.DataError
			if errors.As(err, &dataErr) {
				s.errs.HandleData("scanner", alias, err)
			} else {
				s.errs.HandleRuntime("scanner", alias, err)
			}
			return nil, false
		}
		return series, true
	}

	h4, ok := fetch(marketdata.Interval240m, scanLookbacks.h4)
	if !ok {
		return nil, false
	}
	h1, ok := fetch(marketdata.Interval60m, scanLookbacks.h1)
	if !ok {
		return nil, false
	}
	m30, ok := fetch(marketdata.Interval30m, scanLookbacks.m30)
	if !ok {
		return nil, false
	}
	m15, ok := fetch(marketdata.Interval15m, scanLookbacks.m15)
	if !ok {
		return nil, false
	}
	m5, ok := fetch(marketdata.Interval5m, scanLookbacks.m5)
	if !ok {
		return nil, false
	}
	m1, ok := fetch(marketdata.Interval1m, scanLookbacks.m1)
	if !ok {
		return nil, false
	}

	return strategy.NewContext(alias, vendorSymbol, time.Now().UTC(), h4, h1, m30, m15, m5, m1), true
}

func (s *ScannerService) evaluateNewSignal(mtf *strategy.MultiTimeframeContext) {
	signal := s.strat.EvaluateNewSignal(mtf)
	if signal == nil {
		return
	}

	if err := s.repo.CreateSignal(signal); err != nil {
		s.errs.HandleRuntime("scanner", mtf.Alias, err)
		return
	}

	trade := &database.Trade{
		SignalID:     signal.ID,
		SymbolAlias:  signal.SymbolAlias,
		VendorSymbol: signal.VendorSymbol,
		Direction:    signal.Direction,
		PlannedEntry: signal.EntryPrice,
		ActualEntry:  signal.EntryPrice,
		StopLoss:     signal.InitialSL,
		TakeProfit:   signal.InitialTP,
		State:        database.StateOpen,
		OpenTimeUTC:  signal.TimeGeneratedUTC,
	}
	if err := s.repo.CreateTrade(trade); err != nil {
		s.errs.HandleRuntime("scanner", mtf.Alias, err)
		return
	}

	riskAmount, lotSize := s.estimator.RiskAndLotSize(signal.EntryPrice, signal.InitialSL)
	log.Printf("✅ Signal %d: %s %s entry=%.5f sl=%.5f tp=%.5f",
		signal.ID, signal.Direction, signal.SymbolAlias, signal.EntryPrice, signal.InitialSL, signal.InitialTP)

	if err := s.notifier.SignalAlert(signal, lotSize, riskAmount); err != nil {
		s.errs.HandleRuntime("notifications", mtf.Alias, err)
	}
}

func (s *ScannerService) evaluateOpenTrades(mtf *strategy.MultiTimeframeContext) {
	open, err := s.repo.GetOpenTrades(mtf.Alias)
	if err != nil {
		s.errs.HandleRuntime("scanner", mtf.Alias, err)
		return
	}

	for i := range open {
		trade := &open[i]
		action := s.strat.EvaluateOpenTrade(trade, mtf)
		if action == nil {
			continue
		}
		if s.machine.IsTradeClosed(trade.ID) {
			continue
		}

		// Persist before notifying so a crash never drops a transition.
		updated, err := s.machine.Apply(trade.ID, action)
		if err != nil {
			s.errs.HandleRuntime("statemachine", mtf.Alias, err)
			continue
		}

		s.notifyTradeUpdate(mtf.Alias, updated, action)
	}
}

func (s *ScannerService) notifyTradeUpdate(alias string, trade *database.Trade, action *statemachine.Action) {
	var err error
	switch action.Type {
	case statemachine.ActionCloseByTp:
		if s.machine.ShouldSendTpNotification(trade.ID, trade.State) {
			err = s.notifier.CloseAlert(trade, notifications.CloseTypeTp)
		}
	case statemachine.ActionCloseBySl:
		err = s.notifier.CloseAlert(trade, notifications.CloseTypeSl)
	case statemachine.ActionCloseManual, statemachine.ActionUpdateSLTP:
		err = s.notifier.UpdateAlert(trade, action.Reason)
	}
	if err != nil {
		s.errs.HandleRuntime("notifications", alias, err)
	}
}
