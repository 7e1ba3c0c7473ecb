// Package app wires the scanner together and owns the process lifecycle.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"market-scanner/api"
	"market-scanner/cache"
	"market-scanner/config"
	"market-scanner/database"
	"market-scanner/marketdata"
	"market-scanner/notifications"
	"market-scanner/sltp"
	"market-scanner/statemachine"
	"market-scanner/strategy"
)

// App represents the main application
type App struct {
	config *config.Config

	db        *database.Database
	redis     *cache.RedisClient
	tradeRepo *database.TradeRepository

	notifier notifications.Notifier
	errs     *ErrorHandler

	scanner   *ScannerService
	heartbeat *HeartbeatService
	summary   *SummaryService
	apiServer *api.Server
}

// New creates a new application instance
func New(cfg *config.Config) *App {
	return &App{config: cfg}
}

// Start runs the application until a shutdown signal arrives. A returned
// error is a fatal startup failure; the caller exits non-zero.
func (a *App) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tz := config.NewTimezoneConverter(a.config.Timezone)

	// Notifier first so startup failures can still alert.
	a.notifier = notifications.Multi{
		notifications.NewTelegramNotifier(a.config.Telegram.BotToken, a.config.Telegram.ChatID, tz),
		notifications.NewEmailNotifier(a.config.SMTP, tz),
		notifications.LogNotifier{},
	}
	a.errs = NewErrorHandler(nil, a.notifier)

	if err := a.config.Validate(); err != nil {
		a.errs.HandleStartup("config", err)
		return err
	}

	// 1. Database
	fmt.Println("🗄️  Connecting to database...")
	db, err := database.Connect(
		a.config.Database.Host,
		a.config.Database.Port,
		a.config.Database.Name,
		a.config.Database.User,
		a.config.Database.Password,
	)
	if err != nil {
		a.errs.HandleStartup("database", err)
		return fmt.Errorf("database connection failed: %w", err)
	}
	a.db = db

	a.tradeRepo = database.NewTradeRepository(a.db)
	if err := a.tradeRepo.InitSchema(); err != nil {
		a.errs.HandleStartup("database", err)
		return fmt.Errorf("schema initialization failed: %w", err)
	}
	a.errs = NewErrorHandler(a.tradeRepo, a.notifier)

	// 2. Redis (optional)
	if a.config.Scanner.Redis.Host != "" {
		fmt.Println("🧠 Connecting to Redis...")
		a.redis = cache.NewRedisClient(
			a.config.Scanner.Redis.Host,
			a.config.Scanner.Redis.Port,
			a.config.Scanner.Redis.Password,
		)
		if a.redis == nil {
			fmt.Println("⚠️  Redis connection failed. Stats caching disabled.")
		}
	}

	// 3. Core pipeline
	candles := marketdata.NewCache(marketdata.NewYahooProvider())

	stats := sltp.NewCachedStats(a.tradeRepo, a.redis)
	estimator := sltp.NewDynamicEstimator(stats, a.config.Scanner.RiskPercentage, a.config.Scanner.DefaultEquity)
	strat := strategy.NewH4FvgStrategy(estimator)

	machine := statemachine.New(a.tradeRepo)
	if err := machine.LoadClosedFromDB(); err != nil {
		a.errs.HandleStartup("statemachine", err)
		return fmt.Errorf("state machine seed failed: %w", err)
	}

	// 4. Symbol validation: drop symbols the vendor does not recognise.
	symbols := a.validateSymbols(ctx, candles)
	if len(symbols) == 0 {
		err := fmt.Errorf("no valid symbols after validation")
		a.errs.HandleStartup("scanner", err)
		return err
	}

	// 5. Services
	a.scanner = NewScannerService(a.config, candles, strat, estimator, machine, a.tradeRepo, a.notifier, a.errs)
	a.scanner.SetSymbols(symbols)

	a.heartbeat = NewHeartbeatService(a.config, a.tradeRepo, a.notifier, a.errs)
	a.heartbeat.SetSymbols(symbols)

	emailer := notifications.NewEmailNotifier(a.config.SMTP, tz)
	a.summary = NewSummaryService(a.config, a.tradeRepo, emailer, tz, a.errs)

	a.apiServer = api.NewServer(a.config.Scanner.HTTPPort, a.db)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.scanner.Start(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.heartbeat.Start(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.summary.Start(ctx)
	}()
	go func() {
		if err := a.apiServer.Start(); err != nil {
			log.Printf("⚠️  API server failed: %v", err)
		}
	}()

	err = a.gracefulShutdown(cancel)
	wg.Wait()
	return err
}

// validateSymbols keeps only aliases whose vendor symbol returns data.
func (a *App) validateSymbols(ctx context.Context, candles *marketdata.Cache) map[string]string {
	valid := make(map[string]string, len(a.config.Scanner.Symbols))
	for alias, vendor := range a.config.Scanner.Symbols {
		if candles.ValidateSymbol(ctx, vendor) {
			valid[alias] = vendor
			log.Printf("✅ Symbol %s (%s) validated", alias, vendor)
		} else {
			log.Printf("⚠️ Symbol %s (%s) failed validation, skipping", alias, vendor)
		}
	}
	return valid
}

// gracefulShutdown waits for an interrupt, then stops everything within a
// 10 second budget.
func (a *App) gracefulShutdown(cancel context.CancelFunc) error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	<-interrupt
	fmt.Println("\n🛑 Shutdown signal received, initiating graceful shutdown...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	shutdownComplete := make(chan struct{})
	go func() {
		if a.scanner != nil {
			fmt.Println("📊 Stopping scanner...")
			a.scanner.Stop()
		}
		if a.heartbeat != nil {
			fmt.Println("💓 Stopping heartbeat service...")
			a.heartbeat.Stop()
		}
		if a.summary != nil {
			fmt.Println("📧 Stopping summary service...")
			a.summary.Stop()
		}
		if a.apiServer != nil {
			if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
				log.Printf("⚠️ API server shutdown: %v", err)
			}
		}
		if a.redis != nil {
			a.redis.Close()
		}
		if a.db != nil {
			fmt.Println("🗄️  Closing database connection...")
			a.db.Close()
		}
		close(shutdownComplete)
	}()

	select {
	case <-shutdownComplete:
		fmt.Println("✅ Graceful shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		fmt.Println("⚠️ Shutdown timed out, forcing exit")
		return nil
	}
}
