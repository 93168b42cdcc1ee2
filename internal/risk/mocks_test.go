package risk

import (
	"context"
	"time"

	"signalEngine/internal/domain"
	"signalEngine/internal/ports"
)

// Mock implementations shared by the package tests.

type mockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}

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

type mockSignalRepo struct {
	signals   []*domain.Signal
	findErr   error
	markedIDs []int64
	markErr   error
}

func (m *mockSignalRepo) FindBySymbol(ctx context.Context, symbol string) ([]*domain.Signal, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []*domain.Signal
	for _, s := range m.signals {
		if s.Symbol == symbol {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockSignalRepo) MarkExecuted(ctx context.Context, ids []int64) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.markedIDs = append(m.markedIDs, ids...)
	return nil
}

type mockTradeRepo struct {
	open       []*domain.Trade
	closed     []*domain.Trade
	recent     []*domain.Trade
	todayBySym int
	todayTotal int
	updateErr  error
	findErr    error
	updated    []*domain.Trade
}

func (m *mockTradeRepo) UpdateTrade(ctx context.Context, trade *domain.Trade) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updated = append(m.updated, trade)
	return nil
}

func (m *mockTradeRepo) FindOpen(ctx context.Context) ([]*domain.Trade, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.open, nil
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
	if m.findErr != nil {
		return false, m.findErr
	}
	for _, t := range m.open {
		if t.Symbol == symbol {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockTradeRepo) CountOpen(ctx context.Context) (int, error) {
	if m.findErr != nil {
		return 0, m.findErr
	}
	return len(m.open), nil
}

func (m *mockTradeRepo) CountToday(ctx context.Context) (int, error) {
	return m.todayTotal, nil
}

func (m *mockTradeRepo) CountTodayBySymbol(ctx context.Context, symbol string) (int, error) {
	return m.todayBySym, nil
}

func (m *mockTradeRepo) FindClosedSince(ctx context.Context, since time.Time) ([]*domain.Trade, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.closed, nil
}

func (m *mockTradeRepo) FindRecentBySymbol(ctx context.Context, symbol string, since time.Time) ([]*domain.Trade, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.recent, nil
}

type mockPortfolioRepo struct {
	portfolio *domain.Portfolio
	getErr    error
}

func (m *mockPortfolioRepo) GetPortfolio(ctx context.Context, name string) (*domain.Portfolio, error) {
	return m.portfolio, m.getErr
}

func (m *mockPortfolioRepo) FindPosition(ctx context.Context, portfolioID int64, symbol string) (*domain.Position, error) {
	return nil, nil
}

func (m *mockPortfolioRepo) FindPositions(ctx context.Context, portfolioID int64) ([]*domain.Position, error) {
	return nil, nil
}

func (m *mockPortfolioRepo) OpenTrade(ctx context.Context, portfolioID int64, trade *domain.Trade) error {
	return nil
}

func (m *mockPortfolioRepo) CloseTrade(ctx context.Context, portfolioID int64, trade *domain.Trade) error {
	return nil
}

// newSignal builds a test signal received at the given instant.
func newSignal(id int64, symbol string, dir domain.Direction, strategy string, tier domain.PriorityTier, confidence int, receivedAt time.Time) *domain.Signal {
	return &domain.Signal{
		ID:        id,
		Symbol:    symbol,
		Direction: dir,
		Strategy: &domain.StrategyRef{
			Name:            strategy,
			Tier:            tier,
			Score:           70,
			ValidityMinutes: 15,
		},
		Confidence: confidence,
		Timeframe:  "5m",
		ReceivedAt: receivedAt,
	}
}

func active(s *domain.Signal, now time.Time) ActiveSignal {
	return ActiveSignal{Signal: s, DecayedConfidence: DecayedConfidence(s, now)}
}
