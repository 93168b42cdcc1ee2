package risk

import (
	"context"
	"math"
	"time"

	"signalEngine/internal/ports"
)

// Volatility buckets derived from recent realized PNL dispersion.
const (
	VolatilityLow    = "low"
	VolatilityMedium = "medium"
	VolatilityHigh   = "high"
	VolatilityNormal = "normal"
)

// Trend strength buckets derived from the recent success rate.
const (
	TrendWeak    = "weak"
	TrendMedium  = "medium"
	TrendStrong  = "strong"
	TrendNeutral = "neutral"
)

// Posture recommendations attached to a Conditions snapshot.
const (
	PostureConservative = "conservative"
	PostureNormal       = "normal"
	PostureAggressive   = "aggressive"
)

// Conditions summarizes recent trading outcomes into a regime snapshot that
// tunes the decision pipeline for the current cycle.
type Conditions struct {
	Volatility     string
	TrendStrength  string
	SuccessRate    float64
	AvgDurationMin float64
	AvgPNL         float64
	Recommendation string
}

// NeutralConditions is the snapshot used when history is too thin or the
// repository is unavailable. It leaves the defaults untouched.
func NeutralConditions() Conditions {
	return Conditions{
		Volatility:     VolatilityNormal,
		TrendStrength:  TrendNeutral,
		SuccessRate:    0.5,
		AvgDurationMin: 60,
		Recommendation: PostureNormal,
	}
}

// ConditionEstimator derives Conditions from the trades closed inside a
// trailing window.
type ConditionEstimator struct {
	trades    ports.TradeRepository
	logger    ports.Logger
	window    time.Duration
	minTrades int
}

func NewConditionEstimator(trades ports.TradeRepository, logger ports.Logger) *ConditionEstimator {
	return &ConditionEstimator{
		trades:    trades,
		logger:    logger,
		window:    24 * time.Hour,
		minTrades: 5,
	}
}

// Estimate computes the current Conditions. Any failure degrades to the
// neutral snapshot rather than blocking the decision cycle.
func (e *ConditionEstimator) Estimate(ctx context.Context, now time.Time) Conditions {
	op := "Estimate"

	closed, err := e.trades.FindClosedSince(ctx, now.Add(-e.window))
	if err != nil {
		e.logger.Warn(ctx, op+": failed to load closed trades, assuming neutral conditions", map[string]interface{}{"error": err.Error()})
		return NeutralConditions()
	}
	if len(closed) < e.minTrades {
		return NeutralConditions()
	}

	var pnls []float64
	var wins int
	var totalDuration time.Duration
	for _, t := range closed {
		pnls = append(pnls, t.PNL)
		if t.PNL > 0 {
			wins++
		}
		totalDuration += t.ClosedAt.Sub(t.ExecutedAt)
	}

	mean := meanOf(pnls)
	std := stddevOf(pnls, mean)
	successRate := float64(wins) / float64(len(closed))
	avgDuration := totalDuration.Minutes() / float64(len(closed))

	cond := Conditions{
		SuccessRate:    successRate,
		AvgDurationMin: avgDuration,
		AvgPNL:         mean,
	}

	// Dispersion relative to the mean outcome classifies volatility.
	volMeasure := 0.0
	if mean != 0 {
		volMeasure = std / math.Abs(mean)
	}
	switch {
	case volMeasure > 2:
		cond.Volatility = VolatilityHigh
	case volMeasure > 1.5:
		cond.Volatility = VolatilityMedium
	default:
		cond.Volatility = VolatilityLow
	}

	switch {
	case successRate > 0.7:
		cond.TrendStrength = TrendStrong
	case successRate > 0.5:
		cond.TrendStrength = TrendMedium
	default:
		cond.TrendStrength = TrendWeak
	}

	switch {
	case cond.Volatility == VolatilityHigh && successRate < 0.4:
		cond.Recommendation = PostureConservative
	case cond.Volatility == VolatilityLow && successRate > 0.6:
		cond.Recommendation = PostureAggressive
	default:
		cond.Recommendation = PostureNormal
	}

	e.logger.Debug(ctx, op+": market conditions estimated", map[string]interface{}{
		"trades":         len(closed),
		"volatility":     cond.Volatility,
		"trendStrength":  cond.TrendStrength,
		"successRate":    successRate,
		"avgDurationMin": avgDuration,
		"recommendation": cond.Recommendation,
	})
	return cond
}

// Overlay translates a Conditions snapshot into configuration adjustments.
// Later adjustments win when two rules touch the same parameter, so the
// success-rate thresholds override the volatility thresholds.
func (c Conditions) Overlay() Overlay {
	var o Overlay

	switch c.Volatility {
	case VolatilityHigh:
		o.RiskPct = fptr(0.08)
		o.ConflictThreshold = fptr(20)
		o.PrimaryMinScore = fptr(50)
		o.ContextConfirmAvgScore = fptr(47)
		o.SLBufferPct = fptr(0.025)
		o.TPBufferPct = fptr(0.06)
	case VolatilityLow:
		o.RiskPct = fptr(0.12)
		o.ConflictThreshold = fptr(12)
		o.PrimaryMinScore = fptr(42)
		o.ContextConfirmAvgScore = fptr(40)
		o.SLBufferPct = fptr(0.018)
		o.TPBufferPct = fptr(0.045)
	}

	switch c.TrendStrength {
	case TrendStrong:
		o.StrategyWeights = map[string]float64{"Primary": 1.3, "Context": 1.0, "Confirm": 0.8}
	case TrendWeak:
		o.StrategyWeights = map[string]float64{"Primary": 1.0, "Context": 1.2, "Confirm": 1.1}
	}

	switch {
	case c.SuccessRate < 0.4:
		o.PrimaryMinScore = fptr(55)
		o.ContextConfirmAvgScore = fptr(50)
		o.ConfirmMinAvgScore = fptr(45)
	case c.SuccessRate > 0.7:
		o.PrimaryMinScore = fptr(40)
		o.ContextConfirmAvgScore = fptr(38)
		o.ConfirmMinAvgScore = fptr(35)
	}

	switch {
	case c.AvgDurationMin > 0 && c.AvgDurationMin < 30:
		o.TrailingStopPct = fptr(0.015)
		o.TPBufferPct = fptr(0.04)
	case c.AvgDurationMin > 180:
		o.TrailingStopPct = fptr(0.008)
		o.TPBufferPct = fptr(0.07)
	}

	return o
}

// CapitalScale shrinks or grows the capital visible to the sizer based on the
// recent success rate.
func (c Conditions) CapitalScale() float64 {
	switch {
	case c.SuccessRate < 0.3:
		return 0.7
	case c.SuccessRate > 0.8:
		return 1.1
	default:
		return 1.0
	}
}

func meanOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func stddevOf(vals []float64, mean float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	var sq float64
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(vals)))
}
