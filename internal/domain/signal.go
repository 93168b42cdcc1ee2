package domain

import "time"

// StrategyRef describes the strategy that emitted a signal. It is a read-only
// reference resolved from the strategy registry; the engine never mutates it.
type StrategyRef struct {
	Name            string       // Human-readable strategy name (e.g. "RSI Breakout Strategy")
	Tier            PriorityTier // Priority class controlling scoring weight
	Score           float64      // Static strategy quality score (0-100)
	ValidityMinutes int          // Base validity window of emitted signals
}

// Signal is an immutable directional opinion from one strategy.
// Signals are owned by the signal store; the engine only reads them.
type Signal struct {
	ID         int64        // Unique identifier (assigned by the store)
	Symbol     string       // Trading symbol (e.g. "ETHUSDT")
	Direction  Direction    // BUY, SELL or WATCH
	Strategy   *StrategyRef // Originating strategy; nil if unresolved
	Confidence int          // Confidence score at emission (0-100)
	Timeframe  string       // Bar timeframe the signal was derived from
	ReceivedAt time.Time    // When the signal was received by the system
	Executed   bool         // Whether a trade has already consumed this signal
}

// Age returns how long ago the signal was received.
func (s *Signal) Age(now time.Time) time.Duration {
	return now.Sub(s.ReceivedAt)
}

// Tier returns the signal's priority tier, defaulting to Confirm when the
// strategy reference is missing.
func (s *Signal) Tier() PriorityTier {
	if s.Strategy == nil {
		return TierConfirm
	}
	return s.Strategy.Tier
}

// StrategyScore returns the static score of the originating strategy, or 0.
func (s *Signal) StrategyScore() float64 {
	if s.Strategy == nil {
		return 0
	}
	return s.Strategy.Score
}

// StrategyName returns the originating strategy name, or "" when unresolved.
func (s *Signal) StrategyName() string {
	if s.Strategy == nil {
		return ""
	}
	return s.Strategy.Name
}
