package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"signalEngine/internal/domain"
	"signalEngine/internal/ports"
)

// SizeMode selects how an order size is expressed.
type SizeMode string

const (
	// ModeQuantity sizes the order in whole units of the instrument.
	ModeQuantity SizeMode = "quantity"
	// ModeNotional sizes the order in dollars.
	ModeNotional SizeMode = "notional"
)

// Size is a concrete position size in exactly one mode.
type Size struct {
	Mode  SizeMode
	Value float64
}

// USD returns the dollar value of the size at the given price.
func (s Size) USD(price float64) float64 {
	if s.Mode == ModeQuantity {
		return s.Value * price
	}
	return s.Value
}

// SizeRequest carries everything the sizer needs for one decision.
type SizeRequest struct {
	Instrument domain.Instrument
	Price      float64
	Capital    float64
	Confidence int
	Now        time.Time
}

// Sizer computes position sizes from a base risk fraction adjusted by
// confidence, realized volatility, correlation and portfolio exposure, then
// applies the hard exposure guards.
type Sizer struct {
	trades ports.TradeRepository
	logger ports.Logger
	events ports.EventSink
}

func NewSizer(trades ports.TradeRepository, logger ports.Logger, events ports.EventSink) *Sizer {
	return &Sizer{trades: trades, logger: logger, events: events}
}

// Size returns the computed size, or ok=false with a reason when the trade
// must not be opened.
func (s *Sizer) Size(ctx context.Context, req SizeRequest, cfg Config) (Size, bool, string, error) {
	op := "Size"
	symbol := req.Instrument.Symbol

	hasOpen, err := s.trades.HasOpen(ctx, symbol)
	if err != nil {
		return Size{}, false, "", fmt.Errorf("checking open trade for %s: %w", symbol, err)
	}
	if hasOpen {
		return Size{}, false, "trade already active for this symbol", nil
	}

	symbolToday, err := s.trades.CountTodayBySymbol(ctx, symbol)
	if err != nil {
		return Size{}, false, "", fmt.Errorf("counting daily trades for %s: %w", symbol, err)
	}
	if symbolToday >= cfg.MaxTradesPerSymbolDay {
		return Size{}, false, fmt.Sprintf("daily trade cap reached for %s (%d)", symbol, symbolToday), nil
	}
	totalToday, err := s.trades.CountToday(ctx)
	if err != nil {
		return Size{}, false, "", fmt.Errorf("counting daily trades: %w", err)
	}
	if totalToday >= cfg.MaxTradesPerDay {
		return Size{}, false, fmt.Sprintf("daily trade cap reached (%d)", totalToday), nil
	}

	open, err := s.trades.FindOpen(ctx)
	if err != nil {
		return Size{}, false, "", fmt.Errorf("loading open trades: %w", err)
	}
	if len(open) >= cfg.MaxPositions {
		return Size{}, false, fmt.Sprintf("max open positions reached (%d)", len(open)), nil
	}

	confMult := confidenceMultiplier(req.Confidence)
	volMult, err := s.volatilityMultiplier(ctx, symbol, req.Now)
	if err != nil {
		return Size{}, false, "", err
	}
	corrMult := correlationMultiplier(req.Instrument, open)
	exposure := totalExposure(open)
	expMult := exposureMultiplier(exposure, req.Capital)

	adjusted := cfg.RiskPct * confMult * volMult * corrMult * expMult
	adjusted = clamp(adjusted, cfg.RiskPct*0.3, cfg.RiskPct*1.5)
	allocation := req.Capital * adjusted

	var size Size
	if req.Instrument.IsCrypto() {
		notional := math.Min(allocation, req.Capital*0.3)
		size = Size{Mode: ModeNotional, Value: notional}
	} else {
		qty := math.Floor(allocation / req.Price)
		if qty >= 1 {
			size = Size{Mode: ModeQuantity, Value: qty}
		} else {
			size = Size{Mode: ModeNotional, Value: allocation}
		}
	}

	amount := size.USD(req.Price)
	if amount < cfg.MinNotional {
		return Size{}, false, fmt.Sprintf("size %.2f below minimum notional %.2f", amount, cfg.MinNotional), nil
	}
	if exposure+amount > req.Capital*0.95 {
		return Size{}, false, fmt.Sprintf("portfolio exposure %.2f would exceed 95%% of capital", exposure+amount), nil
	}

	// No single trade may hold more than 20% of capital.
	if limit := req.Capital * 0.2; amount > limit {
		s.events.Emit(ctx, ports.NewEvent("sizer", ports.EventWarning, "position size capped", map[string]interface{}{
			"symbol": symbol, "requested": amount, "cap": limit,
		}))
		if size.Mode == ModeQuantity {
			size.Value = math.Floor(limit / req.Price)
			if size.Value < 1 {
				return Size{}, false, "position cap leaves no whole units", nil
			}
		} else {
			size.Value = limit
		}
		amount = size.USD(req.Price)
	}

	s.logger.Info(ctx, op+": position sized", map[string]interface{}{
		"symbol": symbol, "mode": string(size.Mode), "value": size.Value, "amountUSD": amount,
		"confMult": confMult, "volMult": volMult, "corrMult": corrMult, "expMult": expMult,
		"adjustedRiskPct": adjusted,
	})
	return size, true, "", nil
}

func confidenceMultiplier(confidence int) float64 {
	switch {
	case confidence >= 80:
		return 1.3
	case confidence >= 70:
		return 1.15
	case confidence >= 60:
		return 1.0
	case confidence >= 50:
		return 0.9
	case confidence >= 40:
		return 0.8
	default:
		return 0.7
	}
}

// volatilityMultiplier looks at realized PNL dispersion over the last 30
// days for the symbol. Thin history means no adjustment.
func (s *Sizer) volatilityMultiplier(ctx context.Context, symbol string, now time.Time) (float64, error) {
	recent, err := s.trades.FindRecentBySymbol(ctx, symbol, now.Add(-30*24*time.Hour))
	if err != nil {
		return 0, fmt.Errorf("loading recent trades for %s: %w", symbol, err)
	}
	var pnls []float64
	for _, t := range recent {
		if t.Status == domain.StatusClosed {
			pnls = append(pnls, t.PNL)
		}
	}
	if len(pnls) < 3 {
		return 1.0, nil
	}
	std := stddevOf(pnls, meanOf(pnls))
	switch {
	case std > 100:
		return 0.7, nil
	case std > 50:
		return 0.85, nil
	default:
		return 1.1, nil
	}
}

// correlationMultiplier shrinks the allocation when the portfolio is already
// concentrated in the instrument's asset class. Crypto positions are treated
// as mutually correlated at lower counts.
func correlationMultiplier(inst domain.Instrument, open []*domain.Trade) float64 {
	var cryptoCount, sameClass int
	for _, t := range open {
		if t.AssetClass == domain.AssetCrypto {
			cryptoCount++
		}
		if t.AssetClass == inst.AssetClass {
			sameClass++
		}
	}
	if inst.IsCrypto() {
		switch {
		case cryptoCount >= 3:
			return 0.7
		case cryptoCount >= 2:
			return 0.85
		}
		return 1.0
	}
	switch {
	case sameClass >= 5:
		return 0.8
	case sameClass >= 3:
		return 0.9
	default:
		return 1.0
	}
}

func totalExposure(open []*domain.Trade) float64 {
	var total float64
	for _, t := range open {
		total += t.NotionalValue()
	}
	return total
}

func exposureMultiplier(exposure, capital float64) float64 {
	if capital <= 0 {
		return 1.0
	}
	ratio := exposure / capital
	switch {
	case ratio > 0.8:
		return 0.5
	case ratio > 0.6:
		return 0.7
	case ratio > 0.4:
		return 0.85
	default:
		return 1.0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
