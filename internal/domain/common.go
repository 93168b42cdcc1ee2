package domain

// Direction represents the directional opinion of a signal or trade.
type Direction string

const (
	Buy   Direction = "BUY"
	Sell  Direction = "SELL"
	Watch Direction = "WATCH" // informational only, never tradeable
)

// Opposite returns the opposing tradeable direction. Watch has no opposite.
func (d Direction) Opposite() Direction {
	switch d {
	case Buy:
		return Sell
	case Sell:
		return Buy
	default:
		return Watch
	}
}

// PriorityTier classifies a strategy's weight in scoring and approval.
type PriorityTier string

const (
	TierPrimary PriorityTier = "Primary"
	TierContext PriorityTier = "Context"
	TierConfirm PriorityTier = "Confirm"
)

// TradeStatus represents the lifecycle state of a trade.
type TradeStatus string

const (
	StatusPending   TradeStatus = "PENDING"
	StatusExecuted  TradeStatus = "EXECUTED"
	StatusClosed    TradeStatus = "CLOSED"
	StatusRejected  TradeStatus = "REJECTED"
	StatusCancelled TradeStatus = "CANCELLED"
)

// CloseReason indicates why a trade was closed.
type CloseReason string

const (
	CloseReasonTrailingStop CloseReason = "Trailing Stop Hit"
	CloseReasonStopLoss     CloseReason = "Stop Loss Hit"
	CloseReasonTakeProfit   CloseReason = "Take Profit Hit"
	CloseReasonLiquidation  CloseReason = "Liquidation" // closed by an opposing SELL decision
	CloseReasonManual       CloseReason = "Manual"
	CloseReasonUnknown      CloseReason = "Unknown"
)

// AssetClass groups instruments for sizing and correlation rules.
type AssetClass string

const (
	AssetCrypto AssetClass = "crypto"
	AssetEquity AssetClass = "equity"
	AssetForex  AssetClass = "forex"
)

// Instrument identifies a tradeable symbol and its asset class.
type Instrument struct {
	Symbol     string
	AssetClass AssetClass
}

// IsCrypto reports whether the instrument trades on the crypto market,
// which forces notional-based sizing.
func (i Instrument) IsCrypto() bool {
	return i.AssetClass == AssetCrypto
}
