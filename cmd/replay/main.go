// Command replay drives the decision engine and trade monitor from a CSV of
// recorded price ticks, optionally seeding the signal store from a second
// CSV. It runs against a throwaway database and prints the final ledger,
// which makes a recorded session reproducible end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"

	"signalEngine/config"
	"signalEngine/internal/adapters/events"
	"signalEngine/internal/adapters/logger"
	"signalEngine/internal/adapters/sqlite"
	"signalEngine/internal/execution"
	"signalEngine/internal/monitor"
	"signalEngine/internal/ports"
	"signalEngine/internal/risk"
	"signalEngine/internal/utils"
)

func main() {
	ticksPath := flag.String("ticks", "", "CSV file of price ticks (timestamp,symbol,price)")
	signalsPath := flag.String("signals", "", "optional CSV file of signals to seed the store")
	flag.Parse()

	if *ticksPath == "" {
		log.Fatal("FATAL: -ticks is required")
	}

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	eventSink := events.NewLogSink(nil)
	ctx := context.Background()

	// 3. Initialize Repository
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer repo.Close()

	portfolio, err := repo.CreatePortfolio(ctx, cfg.PortfolioName, cfg.InitialBalance)
	if err != nil {
		log.Fatalf("FATAL: Failed to prepare portfolio: %v", err)
	}

	// 4. Seed signals
	if *signalsPath != "" {
		signals, err := utils.ReadSignalsFromCSV(*signalsPath)
		if err != nil {
			log.Fatalf("FATAL: Failed to read signals: %v", err)
		}
		for _, s := range signals {
			if _, err := repo.CreateSignal(ctx, s); err != nil {
				log.Fatalf("FATAL: Failed to store signal: %v", err)
			}
		}
		appLogger.Info(ctx, "Signals seeded", map[string]interface{}{"count": len(signals)})
	}

	// 5. Load ticks
	ticks, err := utils.ReadTicksFromCSV(*ticksPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to read ticks: %v", err)
	}
	sort.SliceStable(ticks, func(i, j int) bool { return ticks[i].At.Before(ticks[j].At) })

	// 6. Build the pipeline, with a replay stub in place of the live feed
	riskCfg := risk.DefaultConfig()
	if cfg.RiskSettingsPath != "" {
		overlay, err := risk.LoadSettings(cfg.RiskSettingsPath)
		if err != nil {
			log.Fatalf("FATAL: Failed to load risk settings: %v", err)
		}
		riskCfg = overlay.Apply(riskCfg)
	}

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
		log.Fatalf("FATAL: Failed to build decision engine: %v", err)
	}

	mon, err := monitor.New(monitor.Config{
		PortfolioName: cfg.PortfolioName,
		Instruments:   cfg.Instruments,
	}, repo, repo, replayFeed{}, engine, appLogger, eventSink)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize trade monitor: %v", err)
	}

	// 7. Replay every tick in order, synchronously
	for _, t := range ticks {
		mon.ProcessTick(ctx, t)
	}

	// 8. Print the final ledger
	final, err := repo.GetPortfolio(ctx, cfg.PortfolioName)
	if err != nil || final == nil {
		log.Fatalf("FATAL: Failed to read final portfolio: %v", err)
	}
	positions, err := repo.FindPositions(ctx, final.ID)
	if err != nil {
		log.Fatalf("FATAL: Failed to read positions: %v", err)
	}
	open, err := repo.FindOpen(ctx)
	if err != nil {
		log.Fatalf("FATAL: Failed to read open trades: %v", err)
	}

	fmt.Printf("\nReplay complete: %d ticks\n", len(ticks))
	fmt.Printf("Portfolio %s: %.2f -> %.2f\n", final.Name, portfolio.CashBalance, final.CashBalance)
	for _, p := range positions {
		fmt.Printf("  position %-10s qty %.6f avg %.5f\n", p.Symbol, p.Quantity, p.AvgPrice)
	}
	for _, t := range open {
		fmt.Printf("  open trade %-10s entry %.5f pnl %.2f\n", t.Symbol, t.EntryPrice, t.PNL)
	}
}

// replayFeed satisfies ports.PriceFeed for wiring; the replay loop pushes
// ticks directly and never starts the stream.
type replayFeed struct{}

func (replayFeed) StreamTicks(ctx context.Context, symbols []string, handler func(ports.Tick), errHandler func(err error)) (chan struct{}, chan struct{}, error) {
	done := make(chan struct{})
	close(done)
	return done, make(chan struct{}), nil
}
