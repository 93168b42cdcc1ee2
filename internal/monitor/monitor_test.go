package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalEngine/internal/domain"
	"signalEngine/internal/ports"
	"signalEngine/internal/risk"
)

type mockLogger struct {
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

type mockEventSink struct {
	events []ports.Event
}

func (m *mockEventSink) Emit(ctx context.Context, event ports.Event) {
	m.events = append(m.events, event)
}

type mockTradeRepo struct {
	open    []*domain.Trade
	updated int
}

func (m *mockTradeRepo) UpdateTrade(ctx context.Context, trade *domain.Trade) error {
	m.updated++
	return nil
}

func (m *mockTradeRepo) FindOpen(ctx context.Context) ([]*domain.Trade, error) {
	var out []*domain.Trade
	for _, t := range m.open {
		if t.IsOpen() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockTradeRepo) FindOpenBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error) {
	var out []*domain.Trade
	for _, t := range m.open {
		if t.Symbol == symbol && t.IsOpen() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockTradeRepo) HasOpen(ctx context.Context, symbol string) (bool, error) { return false, nil }
func (m *mockTradeRepo) CountOpen(ctx context.Context) (int, error)               { return 0, nil }
func (m *mockTradeRepo) CountToday(ctx context.Context) (int, error)              { return 0, nil }
func (m *mockTradeRepo) CountTodayBySymbol(ctx context.Context, symbol string) (int, error) {
	return 0, nil
}
func (m *mockTradeRepo) FindClosedSince(ctx context.Context, since time.Time) ([]*domain.Trade, error) {
	return nil, nil
}
func (m *mockTradeRepo) FindRecentBySymbol(ctx context.Context, symbol string, since time.Time) ([]*domain.Trade, error) {
	return nil, nil
}

type mockLedger struct {
	portfolio *domain.Portfolio
	closed    []*domain.Trade
	closeErr  error
	attempts  int
}

func (m *mockLedger) GetPortfolio(ctx context.Context, name string) (*domain.Portfolio, error) {
	return m.portfolio, nil
}
func (m *mockLedger) FindPosition(ctx context.Context, portfolioID int64, symbol string) (*domain.Position, error) {
	return nil, nil
}
func (m *mockLedger) FindPositions(ctx context.Context, portfolioID int64) ([]*domain.Position, error) {
	return nil, nil
}
func (m *mockLedger) OpenTrade(ctx context.Context, portfolioID int64, trade *domain.Trade) error {
	return nil
}
func (m *mockLedger) CloseTrade(ctx context.Context, portfolioID int64, trade *domain.Trade) error {
	m.attempts++
	if m.closeErr != nil {
		return m.closeErr
	}
	m.closed = append(m.closed, trade)
	return nil
}

type mockSignalRepo struct{}

func (m *mockSignalRepo) FindBySymbol(ctx context.Context, symbol string) ([]*domain.Signal, error) {
	return nil, nil
}
func (m *mockSignalRepo) MarkExecuted(ctx context.Context, ids []int64) error { return nil }

type stubFeed struct{}

func (f *stubFeed) StreamTicks(ctx context.Context, symbols []string, handler func(ports.Tick), errHandler func(err error)) (chan struct{}, chan struct{}, error) {
	done := make(chan struct{})
	close(done)
	return done, make(chan struct{}), nil
}

type stubExecutor struct{}

func (e *stubExecutor) Execute(ctx context.Context, req risk.ExecRequest) (*risk.ExecResult, error) {
	return &risk.ExecResult{Reason: "stub"}, nil
}

var ethInst = domain.Instrument{Symbol: "ETHUSDT", AssetClass: domain.AssetCrypto}

func openBuy(entry float64) *domain.Trade {
	return &domain.Trade{
		ID:            1,
		Symbol:        "ETHUSDT",
		Direction:     domain.Buy,
		EntryPrice:    entry,
		Quantity:      1,
		StopLoss:      entry * 0.98,
		TakeProfit:    entry * 1.05,
		TrailingStop:  0.01,
		TrailingLevel: entry + entry*0.005,
		MinPrice:      entry,
		MaxPrice:      entry,
		Status:        domain.StatusExecuted,
		ExecutedAt:    time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC),
	}
}

func newTestMonitor(t *testing.T, trades *mockTradeRepo, ledger *mockLedger, engine *risk.Engine) (*Monitor, *mockEventSink) {
	t.Helper()
	events := &mockEventSink{}
	mon, err := New(Config{PortfolioName: "main", Instruments: []domain.Instrument{ethInst}},
		trades, ledger, &stubFeed{}, engine, &mockLogger{}, events)
	require.NoError(t, err)
	return mon, events
}

func tick(price float64, at time.Time) ports.Tick {
	return ports.Tick{Symbol: "ETHUSDT", Price: price, At: at}
}

func TestProcessTickTrailing(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 11, 0, 0, 0, time.UTC)

	trade := openBuy(100)
	trades := &mockTradeRepo{open: []*domain.Trade{trade}}
	ledger := &mockLedger{portfolio: &domain.Portfolio{ID: 1, Name: "main", CashBalance: 10000}}
	mon, events := newTestMonitor(t, trades, ledger, nil)

	// Below the activation gain: trailing stays disarmed.
	mon.ProcessTick(ctx, tick(100.2, now))
	assert.Zero(t, trade.HighestPrice)
	assert.InDelta(t, 100.5, trade.TrailingLevel, 1e-9)

	// A 3% gain arms trailing and ratchets the level up.
	mon.ProcessTick(ctx, tick(103, now.Add(time.Minute)))
	assert.InDelta(t, 103, trade.HighestPrice, 1e-9)
	assert.InDelta(t, 101.97, trade.TrailingLevel, 1e-9)
	assert.Equal(t, domain.StatusExecuted, trade.Status)

	// A pullback above the level neither closes nor lowers it.
	mon.ProcessTick(ctx, tick(102.5, now.Add(2*time.Minute)))
	assert.InDelta(t, 103, trade.HighestPrice, 1e-9)
	assert.InDelta(t, 101.97, trade.TrailingLevel, 1e-9)
	assert.Equal(t, domain.StatusExecuted, trade.Status)

	// Touching the level closes the trade at the tick price.
	mon.ProcessTick(ctx, tick(101.97, now.Add(3*time.Minute)))
	assert.Equal(t, domain.StatusClosed, trade.Status)
	assert.Equal(t, domain.CloseReasonTrailingStop, trade.CloseReason)
	assert.InDelta(t, 101.97, trade.ExitPrice, 1e-9)
	assert.InDelta(t, 1.97, trade.PNL, 1e-9)

	require.Len(t, ledger.closed, 1)
	require.Len(t, events.events, 1)
	assert.Equal(t, "trade closed", events.events[0].Message)
}

func TestProcessTickStopAndTarget(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 11, 0, 0, 0, time.UTC)

	t.Run("stop loss", func(t *testing.T) {
		trade := openBuy(100)
		trades := &mockTradeRepo{open: []*domain.Trade{trade}}
		ledger := &mockLedger{portfolio: &domain.Portfolio{ID: 1, Name: "main"}}
		mon, _ := newTestMonitor(t, trades, ledger, nil)

		mon.ProcessTick(ctx, tick(97.5, now))
		assert.Equal(t, domain.StatusClosed, trade.Status)
		assert.Equal(t, domain.CloseReasonStopLoss, trade.CloseReason)
		assert.InDelta(t, -2.5, trade.PNL, 1e-9)
	})

	t.Run("take profit", func(t *testing.T) {
		trade := openBuy(100)
		trade.TrailingStop = 0
		trades := &mockTradeRepo{open: []*domain.Trade{trade}}
		ledger := &mockLedger{portfolio: &domain.Portfolio{ID: 1, Name: "main"}}
		mon, _ := newTestMonitor(t, trades, ledger, nil)

		mon.ProcessTick(ctx, tick(106, now))
		assert.Equal(t, domain.StatusClosed, trade.Status)
		assert.Equal(t, domain.CloseReasonTakeProfit, trade.CloseReason)
		assert.InDelta(t, 6, trade.PNL, 1e-9)
	})

	t.Run("trailing wins when several exits qualify", func(t *testing.T) {
		trade := openBuy(100)
		trade.HighestPrice = 103
		trade.TrailingLevel = 101.97
		trades := &mockTradeRepo{open: []*domain.Trade{trade}}
		ledger := &mockLedger{portfolio: &domain.Portfolio{ID: 1, Name: "main"}}
		mon, _ := newTestMonitor(t, trades, ledger, nil)

		// The price is under the stop loss too, but trailing is checked first.
		mon.ProcessTick(ctx, tick(97, now))
		assert.Equal(t, domain.CloseReasonTrailingStop, trade.CloseReason)
	})
}

func TestProcessTickStats(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 11, 0, 0, 0, time.UTC)

	trade := openBuy(100)
	trades := &mockTradeRepo{open: []*domain.Trade{trade}}
	ledger := &mockLedger{portfolio: &domain.Portfolio{ID: 1, Name: "main"}}
	mon, _ := newTestMonitor(t, trades, ledger, nil)

	mon.ProcessTick(ctx, tick(99, now))
	assert.InDelta(t, 99, trade.MinPrice, 1e-9)
	assert.InDelta(t, -1, trade.PNL, 1e-9)
	assert.InDelta(t, -1, trade.MaxDrawdown, 1e-9)

	mon.ProcessTick(ctx, tick(104, now.Add(time.Minute)))
	assert.InDelta(t, 104, trade.MaxPrice, 1e-9)
	assert.InDelta(t, 99, trade.MinPrice, 1e-9)
	assert.InDelta(t, 4, trade.PNL, 1e-9)
	assert.InDelta(t, -1, trade.MaxDrawdown, 1e-9, "drawdown never improves")

	assert.Equal(t, 2, trades.updated)
	assert.Empty(t, ledger.closed)
}

func TestProcessTickCloseFailure(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 11, 0, 0, 0, time.UTC)

	trade := openBuy(100)
	trades := &mockTradeRepo{open: []*domain.Trade{trade}}
	ledger := &mockLedger{
		portfolio: &domain.Portfolio{ID: 1, Name: "main"},
		closeErr:  errors.New("database is locked"),
	}
	mon, events := newTestMonitor(t, trades, ledger, nil)

	mon.ProcessTick(ctx, tick(97.5, now))

	assert.Equal(t, 3, ledger.attempts)
	// The trade reverts to open so a later tick can retry the exit.
	assert.Equal(t, domain.StatusExecuted, trade.Status)
	assert.Zero(t, trade.ExitPrice)
	assert.True(t, trade.ClosedAt.IsZero())
	assert.Empty(t, trade.CloseReason)
	assert.Empty(t, events.events)
}

func TestProcessTickIgnoresBadPrices(t *testing.T) {
	ctx := context.Background()
	trade := openBuy(100)
	trades := &mockTradeRepo{open: []*domain.Trade{trade}}
	ledger := &mockLedger{portfolio: &domain.Portfolio{ID: 1, Name: "main"}}
	mon, _ := newTestMonitor(t, trades, ledger, nil)

	mon.ProcessTick(ctx, ports.Tick{Symbol: "ETHUSDT", Price: 0, At: time.Now()})
	assert.Zero(t, trades.updated)
}

func TestProcessTickRunsDecisionCycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 10, 11, 0, 0, 0, time.UTC)

	logger := &mockLogger{}
	events := &mockEventSink{}
	trades := &mockTradeRepo{}
	ledger := &mockLedger{portfolio: &domain.Portfolio{ID: 1, Name: "main", CashBalance: 10000}}

	engine, err := risk.NewEngine(risk.EngineParams{
		Config:        risk.DefaultConfig(),
		Filter:        risk.NewSignalFilter(&mockSignalRepo{}, logger),
		Conditions:    risk.NewConditionEstimator(trades, logger),
		Resolver:      risk.NewResolver(logger, events),
		Approval:      risk.NewApprovalEngine(logger, events),
		Sizer:         risk.NewSizer(trades, logger, events),
		Executor:      &stubExecutor{},
		Signals:       &mockSignalRepo{},
		Portfolio:     ledger,
		PortfolioName: "main",
		Logger:        logger,
		Events:        events,
	})
	require.NoError(t, err)

	mon, _ := newTestMonitor(t, trades, ledger, engine)

	// No open trade and no signals: the cycle runs and ends without errors.
	mon.ProcessTick(ctx, tick(100, now))
	assert.Empty(t, logger.errorMsgs)
	assert.Zero(t, trades.updated)
}
