package ports

import (
	"context"
	"time"
)

// Tick is a single price observation for a symbol.
type Tick struct {
	Symbol string    // Trading symbol the price belongs to
	Price  float64   // Last traded price
	At     time.Time // Exchange timestamp of the observation
}

// PriceFeed defines a push-based stream of price ticks.
// This abstraction decouples the trade monitor from any specific exchange.
type PriceFeed interface {
	// StreamTicks starts streaming ticks for the given symbols.
	// It takes handlers for processing Tick events and errors.
	// Returns channels to control the stream (doneCh, stopCh) or an error if connection fails.
	StreamTicks(ctx context.Context, symbols []string, handler func(Tick), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error)
}
