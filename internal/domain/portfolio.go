package domain

import "time"

// Portfolio is the singleton-per-account cash ledger. Balance and position
// changes for a single trade must commit together or not at all.
type Portfolio struct {
	ID          int64
	Name        string
	CashBalance float64
	CreatedAt   time.Time
}

// Position is a holding inside a portfolio: quantity plus the volume-weighted
// average entry price across the buys that built it.
type Position struct {
	ID        int64
	Portfolio int64 // Owning portfolio ID
	Symbol    string
	Quantity  float64
	AvgPrice  float64 // Volume-weighted average entry price
	LastBuy   time.Time
}

// MarketValue returns the position's value at the given price.
func (p *Position) MarketValue(price float64) float64 {
	return p.Quantity * price
}

// UnrealizedPNL returns the open profit of the position at the given price.
func (p *Position) UnrealizedPNL(price float64) float64 {
	return (price - p.AvgPrice) * p.Quantity
}

// ApplyBuy folds a fill into the position, recomputing the weighted average.
func (p *Position) ApplyBuy(qty, price float64, at time.Time) {
	newQty := p.Quantity + qty
	if newQty > 0 {
		p.AvgPrice = (p.Quantity*p.AvgPrice + qty*price) / newQty
	} else {
		p.AvgPrice = price
	}
	p.Quantity = newQty
	p.LastBuy = at
}
