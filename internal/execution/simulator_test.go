package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalEngine/internal/domain"
	"signalEngine/internal/ports"
	"signalEngine/internal/risk"
)

type mockLogger struct {
	infoMsgs []string
	warnMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockEventSink struct {
	events []ports.Event
}

func (m *mockEventSink) Emit(ctx context.Context, event ports.Event) {
	m.events = append(m.events, event)
}

type mockTradeRepo struct {
	open    []*domain.Trade
	recent  []*domain.Trade
	findErr error
}

func (m *mockTradeRepo) UpdateTrade(ctx context.Context, trade *domain.Trade) error { return nil }

func (m *mockTradeRepo) FindOpen(ctx context.Context) ([]*domain.Trade, error) {
	return m.open, m.findErr
}

func (m *mockTradeRepo) FindOpenBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []*domain.Trade
	for _, t := range m.open {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockTradeRepo) HasOpen(ctx context.Context, symbol string) (bool, error) {
	for _, t := range m.open {
		if t.Symbol == symbol {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockTradeRepo) CountOpen(ctx context.Context) (int, error) {
	return len(m.open), m.findErr
}

func (m *mockTradeRepo) CountToday(ctx context.Context) (int, error) { return 0, nil }

func (m *mockTradeRepo) CountTodayBySymbol(ctx context.Context, symbol string) (int, error) {
	return 0, nil
}

func (m *mockTradeRepo) FindClosedSince(ctx context.Context, since time.Time) ([]*domain.Trade, error) {
	return nil, nil
}

func (m *mockTradeRepo) FindRecentBySymbol(ctx context.Context, symbol string, since time.Time) ([]*domain.Trade, error) {
	return m.recent, m.findErr
}

type mockLedger struct {
	portfolio *domain.Portfolio
	position  *domain.Position
	opened    []*domain.Trade
	closed    []*domain.Trade
	openErr   error
	closeErr  error
}

func (m *mockLedger) GetPortfolio(ctx context.Context, name string) (*domain.Portfolio, error) {
	return m.portfolio, nil
}

func (m *mockLedger) FindPosition(ctx context.Context, portfolioID int64, symbol string) (*domain.Position, error) {
	return m.position, nil
}

func (m *mockLedger) FindPositions(ctx context.Context, portfolioID int64) ([]*domain.Position, error) {
	return nil, nil
}

func (m *mockLedger) OpenTrade(ctx context.Context, portfolioID int64, trade *domain.Trade) error {
	if m.openErr != nil {
		return m.openErr
	}
	trade.ID = int64(len(m.opened) + 1)
	m.opened = append(m.opened, trade)
	return nil
}

func (m *mockLedger) CloseTrade(ctx context.Context, portfolioID int64, trade *domain.Trade) error {
	if m.closeErr != nil {
		return m.closeErr
	}
	m.closed = append(m.closed, trade)
	return nil
}

var ethInst = domain.Instrument{Symbol: "ETHUSDT", AssetClass: domain.AssetCrypto}

// midday is inside normal market hours so only extreme cases fail timing.
var midday = time.Date(2026, 2, 10, 11, 0, 0, 0, time.UTC)

func anchorSignal(confidence int, receivedAt time.Time) risk.ActiveSignal {
	s := &domain.Signal{
		ID:        1,
		Symbol:    "ETHUSDT",
		Direction: domain.Buy,
		Strategy: &domain.StrategyRef{
			Name:            "RSI Breakout Strategy",
			Tier:            domain.TierPrimary,
			Score:           70,
			ValidityMinutes: 15,
		},
		Confidence: confidence,
		ReceivedAt: receivedAt,
	}
	return risk.ActiveSignal{Signal: s, DecayedConfidence: float64(confidence)}
}

func buyRequest(size risk.Size, price float64, now time.Time) risk.ExecRequest {
	return risk.ExecRequest{
		Instrument: ethInst,
		Direction:  domain.Buy,
		Size:       size,
		Anchor:     anchorSignal(75, now.Add(-time.Minute)),
		SignalIDs:  []int64{1},
		Price:      price,
		Config:     risk.DefaultConfig(),
		Now:        now,
	}
}

func newTestSimulator(trades *mockTradeRepo, ledger *mockLedger) (*Simulator, *mockEventSink) {
	events := &mockEventSink{}
	return NewSimulator(trades, ledger, "main", &mockLogger{}, events), events
}

func TestExecuteRefusals(t *testing.T) {
	ctx := context.Background()

	t.Run("buy with insufficient balance", func(t *testing.T) {
		ledger := &mockLedger{portfolio: &domain.Portfolio{ID: 1, Name: "main", CashBalance: 100}}
		sim, events := newTestSimulator(&mockTradeRepo{}, ledger)

		res, err := sim.Execute(ctx, buyRequest(risk.Size{Mode: risk.ModeNotional, Value: 1000}, 100, midday))
		require.NoError(t, err)
		assert.Nil(t, res.Trade)
		assert.Contains(t, res.Reason, "insufficient balance")
		require.Len(t, events.events, 1)
		assert.Equal(t, "order refused", events.events[0].Message)
	})

	t.Run("buy at the open position cap", func(t *testing.T) {
		trades := &mockTradeRepo{}
		for i := 0; i < 8; i++ {
			trades.open = append(trades.open, &domain.Trade{Symbol: "BTCUSDT", Status: domain.StatusExecuted})
		}
		ledger := &mockLedger{portfolio: &domain.Portfolio{ID: 1, Name: "main", CashBalance: 10000}}
		sim, _ := newTestSimulator(trades, ledger)

		res, err := sim.Execute(ctx, buyRequest(risk.Size{Mode: risk.ModeNotional, Value: 500}, 100, midday))
		require.NoError(t, err)
		assert.Nil(t, res.Trade)
		assert.Contains(t, res.Reason, "max open positions")
	})

	t.Run("anchor confidence below the floor", func(t *testing.T) {
		ledger := &mockLedger{portfolio: &domain.Portfolio{ID: 1, Name: "main", CashBalance: 10000}}
		sim, _ := newTestSimulator(&mockTradeRepo{}, ledger)

		req := buyRequest(risk.Size{Mode: risk.ModeNotional, Value: 500}, 100, midday)
		req.Anchor = anchorSignal(20, midday.Add(-time.Minute))

		res, err := sim.Execute(ctx, req)
		require.NoError(t, err)
		assert.Nil(t, res.Trade)
		assert.Contains(t, res.Reason, "confidence too low")
	})

	t.Run("poor timing outside market hours", func(t *testing.T) {
		ledger := &mockLedger{portfolio: &domain.Portfolio{ID: 1, Name: "main", CashBalance: 10000}}
		sim, _ := newTestSimulator(&mockTradeRepo{}, ledger)

		night := time.Date(2026, 2, 10, 3, 0, 0, 0, time.UTC)
		req := buyRequest(risk.Size{Mode: risk.ModeNotional, Value: 500}, 100, night)
		req.Anchor = anchorSignal(75, night.Add(-5*time.Minute))

		res, err := sim.Execute(ctx, req)
		require.NoError(t, err)
		assert.Nil(t, res.Trade)
		assert.Contains(t, res.Reason, "poor execution timing")
		assert.Contains(t, res.Reason, "outside market hours")
	})
}

func TestExecuteBuy(t *testing.T) {
	ctx := context.Background()

	t.Run("notional buy with no history uses default slippage", func(t *testing.T) {
		ledger := &mockLedger{portfolio: &domain.Portfolio{ID: 1, Name: "main", CashBalance: 10000}}
		sim, events := newTestSimulator(&mockTradeRepo{}, ledger)

		res, err := sim.Execute(ctx, buyRequest(risk.Size{Mode: risk.ModeNotional, Value: 1000}, 100, midday))
		require.NoError(t, err)
		require.NotNil(t, res.Trade)
		assert.Equal(t, "open_position", res.Action)
		assert.InDelta(t, 0.001, res.Slippage, 1e-9)
		assert.Equal(t, ImpactLow, res.Impact)

		trade := res.Trade
		assert.NotEmpty(t, trade.Ref)
		assert.Equal(t, domain.StatusExecuted, trade.Status)
		assert.Equal(t, domain.AssetCrypto, trade.AssetClass)
		assert.InDelta(t, 100.1, trade.EntryPrice, 1e-9)
		assert.InDelta(t, 1000, trade.Notional, 1e-9)
		assert.InDelta(t, 9.99001, trade.Quantity, 1e-6)
		assert.InDelta(t, 98.098, trade.StopLoss, 1e-4)
		assert.InDelta(t, 105.105, trade.TakeProfit, 1e-4)
		assert.Equal(t, "RSI Breakout Strategy", trade.Strategy)
		assert.Equal(t, []int64{1}, trade.SignalIDs)

		require.Len(t, ledger.opened, 1)
		require.Len(t, events.events, 1)
		assert.Equal(t, "position opened", events.events[0].Message)
	})

	t.Run("quantity buy records both size forms", func(t *testing.T) {
		ledger := &mockLedger{portfolio: &domain.Portfolio{ID: 1, Name: "main", CashBalance: 10000}}
		sim, _ := newTestSimulator(&mockTradeRepo{}, ledger)

		req := buyRequest(risk.Size{Mode: risk.ModeQuantity, Value: 2}, 50, midday)
		req.Instrument = domain.Instrument{Symbol: "AAPL", AssetClass: domain.AssetEquity}

		res, err := sim.Execute(ctx, req)
		require.NoError(t, err)
		require.NotNil(t, res.Trade)
		assert.InDelta(t, 2, res.Trade.Quantity, 1e-9)
		assert.InDelta(t, 2*50.05, res.Trade.Notional, 1e-9)
	})

	t.Run("recent volatility raises the slippage estimate", func(t *testing.T) {
		trades := &mockTradeRepo{recent: []*domain.Trade{
			{Symbol: "ETHUSDT", EntryPrice: 100, Notional: 5000},
			{Symbol: "ETHUSDT", EntryPrice: 103, Notional: 5000},
		}}
		ledger := &mockLedger{portfolio: &domain.Portfolio{ID: 1, Name: "main", CashBalance: 10000}}
		sim, _ := newTestSimulator(trades, ledger)

		res, err := sim.Execute(ctx, buyRequest(risk.Size{Mode: risk.ModeNotional, Value: 1000}, 100, midday))
		require.NoError(t, err)
		require.NotNil(t, res.Trade)
		// 3% price change halves to 1.5% slippage; the order is smaller than
		// the recent average so no amplification applies.
		assert.InDelta(t, 0.015, res.Slippage, 1e-9)
		assert.InDelta(t, 101.5, res.Trade.EntryPrice, 1e-9)
	})
}

func TestExecuteSell(t *testing.T) {
	ctx := context.Background()

	sellRequest := func(price float64) risk.ExecRequest {
		return risk.ExecRequest{
			Instrument: ethInst,
			Direction:  domain.Sell,
			Anchor:     anchorSignal(70, midday.Add(-time.Minute)),
			SignalIDs:  []int64{1},
			Price:      price,
			Config:     risk.DefaultConfig(),
			Now:        midday,
		}
	}

	t.Run("no position to liquidate", func(t *testing.T) {
		ledger := &mockLedger{portfolio: &domain.Portfolio{ID: 1, Name: "main", CashBalance: 10000}}
		sim, _ := newTestSimulator(&mockTradeRepo{}, ledger)

		res, err := sim.Execute(ctx, sellRequest(110))
		require.NoError(t, err)
		assert.Empty(t, res.Closed)
		assert.Equal(t, "no open position to liquidate", res.Reason)
	})

	t.Run("only profitable buys are closed", func(t *testing.T) {
		winner := &domain.Trade{ID: 1, Symbol: "ETHUSDT", Direction: domain.Buy, EntryPrice: 100, Quantity: 1, Status: domain.StatusExecuted}
		loser := &domain.Trade{ID: 2, Symbol: "ETHUSDT", Direction: domain.Buy, EntryPrice: 115, Quantity: 1, Status: domain.StatusExecuted}
		trades := &mockTradeRepo{open: []*domain.Trade{winner, loser}}
		ledger := &mockLedger{
			portfolio: &domain.Portfolio{ID: 1, Name: "main", CashBalance: 10000},
			position:  &domain.Position{ID: 1, Portfolio: 1, Symbol: "ETHUSDT", Quantity: 2, AvgPrice: 107.5},
		}
		sim, events := newTestSimulator(trades, ledger)

		res, err := sim.Execute(ctx, sellRequest(110))
		require.NoError(t, err)
		assert.Equal(t, "liquidate", res.Action)
		require.Len(t, res.Closed, 1)

		got := res.Closed[0]
		assert.Equal(t, int64(1), got.ID)
		assert.Equal(t, domain.StatusClosed, got.Status)
		assert.Equal(t, domain.CloseReasonLiquidation, got.CloseReason)
		// Sell slippage moves the fill below the tick price.
		assert.InDelta(t, 109.89, got.ExitPrice, 1e-6)
		assert.InDelta(t, 9.89, got.PNL, 1e-6)

		assert.Equal(t, domain.StatusExecuted, loser.Status, "losing trades stay open")
		require.Len(t, ledger.closed, 1)
		require.Len(t, events.events, 1)
		assert.Equal(t, "position liquidated", events.events[0].Message)
	})

	t.Run("no profitable buys leaves everything open", func(t *testing.T) {
		loser := &domain.Trade{ID: 2, Symbol: "ETHUSDT", Direction: domain.Buy, EntryPrice: 115, Quantity: 1, Status: domain.StatusExecuted}
		trades := &mockTradeRepo{open: []*domain.Trade{loser}}
		ledger := &mockLedger{
			portfolio: &domain.Portfolio{ID: 1, Name: "main", CashBalance: 10000},
			position:  &domain.Position{ID: 1, Portfolio: 1, Symbol: "ETHUSDT", Quantity: 1, AvgPrice: 115},
		}
		sim, _ := newTestSimulator(trades, ledger)

		res, err := sim.Execute(ctx, sellRequest(110))
		require.NoError(t, err)
		assert.Empty(t, res.Closed)
		assert.Equal(t, "no profitable buy trades to close", res.Reason)
		assert.Equal(t, domain.StatusExecuted, loser.Status)
	})
}

func TestTimingScore(t *testing.T) {
	fresh := func(now time.Time) *domain.Signal {
		return &domain.Signal{ReceivedAt: now.Add(-5 * time.Minute)}
	}

	t.Run("normal hours", func(t *testing.T) {
		now := time.Date(2026, 2, 10, 11, 0, 0, 0, time.UTC)
		score, _ := timingScore(now, fresh(now))
		assert.InDelta(t, 1.1, score, 1e-9)
	})

	t.Run("opening window is penalized", func(t *testing.T) {
		now := time.Date(2026, 2, 10, 9, 15, 0, 0, time.UTC)
		score, reason := timingScore(now, fresh(now))
		assert.InDelta(t, 0.8, score, 1e-9)
		assert.Equal(t, "opening volatility window", reason)
	})

	t.Run("very fresh signals get a boost", func(t *testing.T) {
		now := time.Date(2026, 2, 10, 11, 0, 0, 0, time.UTC)
		score, _ := timingScore(now, &domain.Signal{ReceivedAt: now.Add(-30 * time.Second)})
		assert.InDelta(t, 1.1*1.1, score, 1e-9)
	})

	t.Run("stale signals are discounted", func(t *testing.T) {
		now := time.Date(2026, 2, 10, 11, 0, 0, 0, time.UTC)
		score, reason := timingScore(now, &domain.Signal{ReceivedAt: now.Add(-20 * time.Minute)})
		assert.InDelta(t, 1.1*0.9, score, 1e-9)
		assert.Equal(t, "stale signal", reason)
	})
}
