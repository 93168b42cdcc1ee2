package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"signalEngine/internal/domain"
	"signalEngine/internal/ports"
	"signalEngine/internal/risk"
)

// Unrealized gain required before the trailing stop arms.
const trailingActivationPct = 0.005

const closeRetryAttempts = 3

// Config holds the monitor's wiring parameters.
type Config struct {
	PortfolioName string
	Instruments   []domain.Instrument
	// MaxConcurrent bounds the number of ticks processed at once. Ticks
	// arriving while saturated are dropped; the next tick catches up.
	MaxConcurrent int
}

// Monitor supervises open trades tick by tick and triggers decision cycles
// for symbols with no open trade. All work for one symbol is serialized
// through a per-symbol lock.
type Monitor struct {
	cfg         Config
	instruments map[string]domain.Instrument

	trades ports.TradeRepository
	ledger ports.PortfolioRepository
	feed   ports.PriceFeed
	engine *risk.Engine

	logger ports.Logger
	events ports.EventSink

	locks *symbolLocks
	sem   chan struct{}
	wg    sync.WaitGroup

	portfolioID int64
}

func New(cfg Config, trades ports.TradeRepository, ledger ports.PortfolioRepository, feed ports.PriceFeed, engine *risk.Engine, logger ports.Logger, events ports.EventSink) (*Monitor, error) {
	switch {
	case trades == nil || ledger == nil:
		return nil, fmt.Errorf("%w: repositories are required", ports.ErrInvalidRequest)
	case feed == nil:
		return nil, fmt.Errorf("%w: price feed is required", ports.ErrInvalidRequest)
	case logger == nil || events == nil:
		return nil, fmt.Errorf("%w: logger and event sink are required", ports.ErrInvalidRequest)
	case cfg.PortfolioName == "":
		return nil, fmt.Errorf("%w: portfolio name is required", ports.ErrInvalidRequest)
	case len(cfg.Instruments) == 0:
		return nil, fmt.Errorf("%w: at least one instrument is required", ports.ErrInvalidRequest)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}

	instruments := make(map[string]domain.Instrument, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		instruments[inst.Symbol] = inst
	}

	return &Monitor{
		cfg:         cfg,
		instruments: instruments,
		trades:      trades,
		ledger:      ledger,
		feed:        feed,
		engine:      engine,
		logger:      logger,
		events:      events,
		locks:       newSymbolLocks(),
		sem:         make(chan struct{}, cfg.MaxConcurrent),
	}, nil
}

// Start resumes supervision of any trades left open from a previous run,
// subscribes to the price feed, and blocks until the context is cancelled or
// the feed shuts down.
func (m *Monitor) Start(ctx context.Context) error {
	op := "Start"

	if err := m.resolvePortfolio(ctx); err != nil {
		return err
	}

	open, err := m.trades.FindOpen(ctx)
	if err != nil {
		return fmt.Errorf("loading open trades on startup: %w", err)
	}
	for _, t := range open {
		m.logger.Info(ctx, op+": resuming supervision of open trade", map[string]interface{}{
			"tradeID": t.ID, "symbol": t.Symbol, "entryPrice": t.EntryPrice, "stopLoss": t.StopLoss,
		})
	}

	symbols := make([]string, 0, len(m.instruments))
	for s := range m.instruments {
		symbols = append(symbols, s)
	}

	doneCh, stopCh, err := m.feed.StreamTicks(ctx, symbols,
		func(t ports.Tick) { m.handleTickAsync(ctx, t) },
		func(streamErr error) {
			m.logger.Error(ctx, streamErr, op+": price feed error", map[string]interface{}{"symbols": symbols})
		},
	)
	if err != nil {
		return fmt.Errorf("subscribing to price feed: %w", err)
	}

	m.logger.Info(ctx, op+": trade monitor running", map[string]interface{}{
		"symbols": symbols, "openTrades": len(open), "maxConcurrent": m.cfg.MaxConcurrent,
	})

	select {
	case <-ctx.Done():
		m.logger.Info(ctx, op+": context cancelled, stopping price feed", nil)
		close(stopCh)
		<-doneCh
	case <-doneCh:
		m.logger.Warn(ctx, op+": price feed closed", nil)
	}

	m.wg.Wait()
	return ctx.Err()
}

// handleTickAsync dispatches a tick to a worker slot. When all slots are
// busy the tick is dropped; prices are a stream, not a queue.
func (m *Monitor) handleTickAsync(ctx context.Context, t ports.Tick) {
	select {
	case m.sem <- struct{}{}:
	default:
		m.logger.Debug(ctx, "tick dropped, workers saturated", map[string]interface{}{"symbol": t.Symbol})
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() { <-m.sem }()
		m.ProcessTick(ctx, t)
	}()
}

// ProcessTick handles one price update synchronously: open trades for the
// symbol get their exits evaluated; a symbol with nothing open gets a
// decision cycle instead.
func (m *Monitor) ProcessTick(ctx context.Context, t ports.Tick) {
	op := "ProcessTick"
	if t.Price <= 0 {
		return
	}

	unlock := m.locks.acquire(t.Symbol)
	defer unlock()

	open, err := m.trades.FindOpenBySymbol(ctx, t.Symbol)
	if err != nil {
		m.logger.Error(ctx, err, op+": failed to load open trades", map[string]interface{}{"symbol": t.Symbol})
		return
	}

	if len(open) > 0 {
		for _, trade := range open {
			m.superviseTrade(ctx, trade, t.Price, t.At)
		}
		return
	}

	if m.engine == nil {
		return
	}
	inst, ok := m.instruments[t.Symbol]
	if !ok {
		return
	}
	outcome, err := m.engine.EvaluateSymbol(ctx, inst, t.Price, t.At)
	if err != nil {
		m.logger.Error(ctx, err, op+": decision cycle failed", map[string]interface{}{"symbol": t.Symbol})
		return
	}
	if outcome.Executed {
		m.logger.Info(ctx, op+": decision executed", map[string]interface{}{
			"symbol": t.Symbol, "direction": string(outcome.Direction), "rule": outcome.Rule,
		})
	}
}

// superviseTrade applies one tick to one open trade: refresh its running
// statistics, advance the trailing stop, and close it when an exit triggers.
// At most one exit fires per tick, checked trailing first, then stop-loss,
// then take-profit.
func (m *Monitor) superviseTrade(ctx context.Context, t *domain.Trade, price float64, now time.Time) {
	op := "superviseTrade"

	if t.MinPrice == 0 || price < t.MinPrice {
		t.MinPrice = price
	}
	if price > t.MaxPrice {
		t.MaxPrice = price
	}
	t.PNL = t.UnrealizedPNL(price)
	if t.PNL < t.MaxDrawdown {
		t.MaxDrawdown = t.PNL
	}

	if reason, triggered := m.evaluateExits(t, price); triggered {
		m.closeTrade(ctx, t, price, now, reason)
		return
	}

	if err := m.trades.UpdateTrade(ctx, t); err != nil {
		m.logger.Warn(ctx, op+": failed to persist trade stats", map[string]interface{}{
			"tradeID": t.ID, "symbol": t.Symbol, "error": err.Error(),
		})
	}
}

func (m *Monitor) evaluateExits(t *domain.Trade, price float64) (domain.CloseReason, bool) {
	isBuy := t.Direction == domain.Buy

	if t.TrailingStop > 0 {
		gain := (price - t.EntryPrice) / t.EntryPrice
		if !isBuy {
			gain = -gain
		}

		armed := t.HighestPrice != 0
		if !armed && gain >= trailingActivationPct {
			t.HighestPrice = price
			armed = true
		}

		if armed {
			if isBuy {
				if price > t.HighestPrice {
					t.HighestPrice = price
				}
				// The exit level only ever ratchets in the trade's favor.
				if level := t.HighestPrice * (1 - t.TrailingStop); level > t.TrailingLevel {
					t.TrailingLevel = level
				}
				if price <= t.TrailingLevel {
					return domain.CloseReasonTrailingStop, true
				}
			} else {
				if price < t.HighestPrice {
					t.HighestPrice = price
				}
				if level := t.HighestPrice * (1 + t.TrailingStop); t.TrailingLevel == 0 || level < t.TrailingLevel {
					t.TrailingLevel = level
				}
				if price >= t.TrailingLevel {
					return domain.CloseReasonTrailingStop, true
				}
			}
		}
	}

	if t.StopLoss > 0 {
		if (isBuy && price <= t.StopLoss) || (!isBuy && price >= t.StopLoss) {
			return domain.CloseReasonStopLoss, true
		}
	}
	if t.TakeProfit > 0 {
		if (isBuy && price >= t.TakeProfit) || (!isBuy && price <= t.TakeProfit) {
			return domain.CloseReasonTakeProfit, true
		}
	}
	return domain.CloseReasonUnknown, false
}

// resolvePortfolio caches the ledger ID for the configured portfolio.
func (m *Monitor) resolvePortfolio(ctx context.Context) error {
	if m.portfolioID != 0 {
		return nil
	}
	pf, err := m.ledger.GetPortfolio(ctx, m.cfg.PortfolioName)
	if err != nil {
		return fmt.Errorf("loading portfolio %q: %w", m.cfg.PortfolioName, err)
	}
	if pf == nil {
		return fmt.Errorf("%w: portfolio %q", ports.ErrNotFound, m.cfg.PortfolioName)
	}
	m.portfolioID = pf.ID
	return nil
}

// closeTrade settles the trade against the ledger, retrying transient
// failures. The settlement is atomic on the repository side, so a failed
// attempt leaves the trade open and supervised.
func (m *Monitor) closeTrade(ctx context.Context, t *domain.Trade, price float64, now time.Time, reason domain.CloseReason) {
	op := "closeTrade"

	if err := m.resolvePortfolio(ctx); err != nil {
		m.logger.Error(ctx, err, op+": cannot settle without portfolio", map[string]interface{}{"tradeID": t.ID})
		return
	}

	t.Status = domain.StatusClosed
	t.ExitPrice = price
	t.PNL = t.UnrealizedPNL(price)
	t.ClosedAt = now
	t.CloseReason = reason

	retry := &backoff.Backoff{Min: 100 * time.Millisecond, Max: 2 * time.Second, Jitter: true}
	var err error
	for attempt := 1; attempt <= closeRetryAttempts; attempt++ {
		err = m.ledger.CloseTrade(ctx, m.portfolioID, t)
		if err == nil {
			break
		}
		m.logger.Warn(ctx, op+": close attempt failed", map[string]interface{}{
			"tradeID": t.ID, "symbol": t.Symbol, "attempt": attempt, "error": err.Error(),
		})
		if attempt < closeRetryAttempts {
			select {
			case <-time.After(retry.Duration()):
			case <-ctx.Done():
				err = ctx.Err()
				attempt = closeRetryAttempts
			}
		}
	}
	if err != nil {
		// Keep supervising; a later tick will trigger the exit again.
		t.Status = domain.StatusExecuted
		t.ExitPrice = 0
		t.ClosedAt = time.Time{}
		t.CloseReason = ""
		m.logger.Error(ctx, err, op+": failed to close trade, leaving open", map[string]interface{}{
			"tradeID": t.ID, "symbol": t.Symbol, "reason": string(reason),
		})
		return
	}

	duration := t.ClosedAt.Sub(t.ExecutedAt)
	m.logger.Info(ctx, op+": trade closed", map[string]interface{}{
		"tradeID": t.ID, "symbol": t.Symbol, "reason": string(reason), "entryPrice": t.EntryPrice,
		"exitPrice": price, "pnl": t.PNL, "maxDrawdown": t.MaxDrawdown, "duration": duration.String(),
	})
	m.events.Emit(ctx, ports.NewEvent("monitor", ports.EventInfo, "trade closed", map[string]interface{}{
		"tradeID": t.ID, "symbol": t.Symbol, "reason": string(reason), "pnl": t.PNL,
		"durationMinutes": duration.Minutes(), "maxDrawdown": t.MaxDrawdown,
	}))
}
