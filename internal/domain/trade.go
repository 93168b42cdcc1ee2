package domain

import "time"

// Trade is the mutable aggregate created by the executor and driven to CLOSED
// by the trade monitor. At most one EXECUTED trade may exist per symbol.
type Trade struct {
	ID         int64      // Unique identifier for the trade (usually from DB)
	Ref        string     // Stable external identifier for downstream tracking
	Symbol     string     // Trading symbol (e.g. "ETHUSDT")
	AssetClass AssetClass // Asset class of the instrument at execution time
	Direction  Direction  // BUY or SELL
	EntryPrice float64    // Execution price after slippage
	Quantity   float64    // Unit quantity (0 when sized purely by notional)
	Notional   float64    // Dollar-denominated size (0 when sized by quantity)

	// Exit plan, produced by the exit planner at execution time.
	StopLoss      float64 // Absolute stop-loss price
	TakeProfit    float64 // Absolute take-profit price
	TrailingStop  float64 // Trailing stop distance as a fraction (e.g. 0.01)
	TrailingLevel float64 // Absolute trailing exit price; ratchets in the trade's favor
	HighestPrice  float64 // Best price seen since trailing activated (lowest for sells)

	Confidence int    // Confidence score of the anchor signal at execution
	Strategy   string // Name of the anchor signal's strategy

	Status     TradeStatus
	ExecutedAt time.Time
	ClosedAt   time.Time // Zero while open

	ExitPrice   float64     // Price at close (0 while open)
	PNL         float64     // Realized after close, unrealized while open
	MaxDrawdown float64     // Worst adverse excursion seen, in dollars
	MinPrice    float64     // Lowest price observed while open
	MaxPrice    float64     // Highest price observed while open
	CloseReason CloseReason // Why the trade was closed

	// Execution metadata recorded by the simulator.
	Slippage     float64 // Estimated slippage applied, as a percentage
	MarketImpact string  // low | medium | high
	ExecQuality  float64 // Timing score at authorization time

	SignalIDs []int64 // Signals that triggered this trade
}

// IsOpen reports whether the trade is still being monitored.
func (t *Trade) IsOpen() bool {
	return t.Status == StatusExecuted
}

// UnitQuantity returns the trade's size in units, deriving it from the
// notional for notional-sized trades.
func (t *Trade) UnitQuantity() float64 {
	if t.Quantity > 0 {
		return t.Quantity
	}
	if t.EntryPrice > 0 {
		return t.Notional / t.EntryPrice
	}
	return 0
}

// NotionalValue returns the dollar size of the trade at entry.
func (t *Trade) NotionalValue() float64 {
	if t.Notional > 0 {
		return t.Notional
	}
	return t.Quantity * t.EntryPrice
}

// UnrealizedPNL computes the profit at the given price without closing.
func (t *Trade) UnrealizedPNL(price float64) float64 {
	qty := t.UnitQuantity()
	if t.Direction == Sell {
		return (t.EntryPrice - price) * qty
	}
	return (price - t.EntryPrice) * qty
}

// Duration returns how long the trade was (or has been) open.
func (t *Trade) Duration(now time.Time) time.Duration {
	if !t.ClosedAt.IsZero() {
		return t.ClosedAt.Sub(t.ExecutedAt)
	}
	return now.Sub(t.ExecutedAt)
}
