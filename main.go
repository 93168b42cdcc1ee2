package main

import (
	"context"
	"errors"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"

	"signalEngine/config"
	"signalEngine/internal/adapters/binanceclient"
	"signalEngine/internal/adapters/events"
	"signalEngine/internal/adapters/logger"
	"signalEngine/internal/adapters/sqlite"
	"signalEngine/internal/execution"
	"signalEngine/internal/monitor"
	"signalEngine/internal/risk"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger and Event Sink
	appLogger := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})
	eventSink := events.NewLogSink(os.Stdout)

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()

	// 4. Ensure the portfolio exists
	portfolio, err := repo.CreatePortfolio(context.Background(), cfg.PortfolioName, cfg.InitialBalance)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to prepare portfolio")
		log.Fatalf("FATAL: Failed to prepare portfolio: %v", err)
	}
	appLogger.Info(context.Background(), "Portfolio ready", map[string]interface{}{
		"name": portfolio.Name, "balance": portfolio.CashBalance,
	})

	// 5. Assemble the risk configuration: defaults plus persisted settings
	riskCfg := risk.DefaultConfig()
	if cfg.RiskSettingsPath != "" {
		overlay, err := risk.LoadSettings(cfg.RiskSettingsPath)
		if err != nil {
			appLogger.Error(context.Background(), err, "FATAL: Failed to load risk settings")
			log.Fatalf("FATAL: Failed to load risk settings: %v", err)
		}
		riskCfg = overlay.Apply(riskCfg)
	}

	// 6. Initialize Price Feed (Binance Adapter)
	feed, err := binanceclient.New(binanceclient.Config{
		Logger:               appLogger,
		UseTestnet:           cfg.UseTestnet,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectMin:         cfg.ReconnectDelay,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize price feed")
		log.Fatalf("FATAL: Failed to initialize price feed: %v", err)
	}

	// 7. Build the decision pipeline
	executor := execution.NewSimulator(repo, repo, cfg.PortfolioName, appLogger, eventSink)
	engine, err := risk.NewEngine(risk.EngineParams{
		Config:        riskCfg,
		Filter:        risk.NewSignalFilter(repo, appLogger),
		Conditions:    risk.NewConditionEstimator(repo, appLogger),
		Resolver:      risk.NewResolver(appLogger, eventSink),
		Approval:      risk.NewApprovalEngine(appLogger, eventSink),
		Sizer:         risk.NewSizer(repo, appLogger, eventSink),
		Executor:      executor,
		Signals:       repo,
		Portfolio:     repo,
		PortfolioName: cfg.PortfolioName,
		Logger:        appLogger,
		Events:        eventSink,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to build decision engine")
		log.Fatalf("FATAL: Failed to build decision engine: %v", err)
	}

	// 8. Initialize the Trade Monitor
	mon, err := monitor.New(monitor.Config{
		PortfolioName: cfg.PortfolioName,
		Instruments:   cfg.Instruments,
		MaxConcurrent: cfg.MaxConcurrentTicks,
	}, repo, repo, feed, engine, appLogger, eventSink)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trade monitor")
		log.Fatalf("FATAL: Failed to initialize trade monitor: %v", err)
	}

	// 9. Run until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mon.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error(context.Background(), err, "Trade monitor exited with error")
		log.Fatalf("FATAL: Trade monitor exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
