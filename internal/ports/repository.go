package ports

import (
	"context"
	"time"

	"signalEngine/internal/domain"
)

// SignalRepository defines read access to the signal store. Signals are owned
// by the strategy pipeline; the engine never creates or deletes them.
type SignalRepository interface {
	// FindBySymbol retrieves all stored signals for a symbol, newest first.
	// Validity filtering and decay are the signal filter's job, not the store's.
	FindBySymbol(ctx context.Context, symbol string) ([]*domain.Signal, error)
	// MarkExecuted flags signals as consumed by a trade.
	MarkExecuted(ctx context.Context, ids []int64) error
}

// TradeRepository defines the interface for storing and retrieving trades.
type TradeRepository interface {
	// UpdateTrade persists price-driven mutations (pnl, min/max, trailing)
	// for an open trade. Terminal transitions go through PortfolioRepository.
	UpdateTrade(ctx context.Context, trade *domain.Trade) error
	// FindOpen retrieves all EXECUTED trades.
	FindOpen(ctx context.Context) ([]*domain.Trade, error)
	// FindOpenBySymbol retrieves EXECUTED trades for a symbol, oldest first.
	FindOpenBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error)
	// HasOpen reports whether the symbol currently has an EXECUTED trade.
	HasOpen(ctx context.Context, symbol string) (bool, error)
	// CountOpen returns the number of EXECUTED trades across all symbols.
	CountOpen(ctx context.Context) (int, error)
	// CountToday counts trades executed today across all symbols.
	CountToday(ctx context.Context) (int, error)
	// CountTodayBySymbol counts trades executed today for one symbol.
	CountTodayBySymbol(ctx context.Context, symbol string) (int, error)
	// FindClosedSince retrieves CLOSED trades executed at or after since.
	FindClosedSince(ctx context.Context, since time.Time) ([]*domain.Trade, error)
	// FindRecentBySymbol retrieves EXECUTED and CLOSED trades for a symbol
	// executed at or after since, oldest first.
	FindRecentBySymbol(ctx context.Context, symbol string, since time.Time) ([]*domain.Trade, error)
}

// PortfolioRepository defines the cash ledger. OpenTrade and CloseTrade are
// atomic: the trade row, the position row and the cash balance commit together
// or not at all.
type PortfolioRepository interface {
	// GetPortfolio retrieves a portfolio by name. Returns nil, nil if absent.
	GetPortfolio(ctx context.Context, name string) (*domain.Portfolio, error)
	// FindPosition retrieves the portfolio's position for a symbol.
	// Returns nil, nil if no position is held.
	FindPosition(ctx context.Context, portfolioID int64, symbol string) (*domain.Position, error)
	// FindPositions retrieves all positions held by the portfolio.
	FindPositions(ctx context.Context, portfolioID int64) ([]*domain.Position, error)
	// OpenTrade executes a buy atomically: debit cash by the trade's notional
	// value, create or grow the position at the volume-weighted average price,
	// and insert the trade in EXECUTED state (assigning its ID).
	OpenTrade(ctx context.Context, portfolioID int64, trade *domain.Trade) error
	// CloseTrade commits a close atomically: persist the trade's terminal
	// fields (exit price, pnl, closed_at, status, reason), shrink or delete
	// the position, and credit the sale proceeds for buy trades.
	CloseTrade(ctx context.Context, portfolioID int64, trade *domain.Trade) error
}
