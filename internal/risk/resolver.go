package risk

import (
	"context"
	"fmt"
	"time"

	"signalEngine/internal/domain"
	"signalEngine/internal/ports"
)

// Regime classifies the shape of the current signal set.
type Regime string

const (
	RegimeStrongTrend Regime = "strong_trend"
	RegimeMomentum    Regime = "momentum"
	RegimeTrending    Regime = "trending"
	RegimeChoppy      Regime = "choppy"
	RegimeNeutral     Regime = "neutral"
)

var momentumStrategies = map[string]bool{
	"RSI Breakout Strategy":   true,
	"MACD Crossover Strategy": true,
	"Stochastic Oscillator":   true,
}

var trendStrategies = map[string]bool{
	"ADX Trend Strength Strategy":   true,
	"Triple EMA Crossover Strategy": true,
	"Moving Average Cross Strategy": true,
}

// Resolution is the outcome of scoring conflicting signals. Direction is
// empty when no side won by a sufficient margin.
type Resolution struct {
	Direction domain.Direction
	Signals   []ActiveSignal
	Regime    Regime
	BuyScore  float64
	SellScore float64
	Reason    string
}

// Resolver picks a trade direction from a mixed signal set by scoring each
// side and requiring a regime-scaled margin between them.
type Resolver struct {
	logger ports.Logger
	events ports.EventSink
}

func NewResolver(logger ports.Logger, events ports.EventSink) *Resolver {
	return &Resolver{logger: logger, events: events}
}

// Resolve scores the buy and sell camps and returns the winning direction
// with its contributing signals. WATCH signals feed regime detection but
// never a direction.
func (r *Resolver) Resolve(ctx context.Context, signals []ActiveSignal, cfg Config, now time.Time) Resolution {
	op := "Resolve"

	if len(signals) == 0 {
		return Resolution{Regime: RegimeNeutral, Reason: "no active signals"}
	}

	regime := detectRegime(signals)

	var tradeable []ActiveSignal
	for _, s := range signals {
		if s.Direction == domain.Buy || s.Direction == domain.Sell {
			tradeable = append(tradeable, s)
		}
	}
	if len(tradeable) == 0 {
		return Resolution{Regime: regime, Reason: "watch-only signal set"}
	}

	groups := map[domain.Direction][]ActiveSignal{}
	for _, s := range tradeable {
		groups[s.Direction] = append(groups[s.Direction], s)
	}

	// Consensus: every tradeable signal agrees.
	if len(groups) == 1 {
		res := Resolution{
			Direction: tradeable[0].Direction,
			Signals:   tradeable,
			Regime:    regime,
			Reason:    "consensus",
		}
		r.logger.Debug(ctx, op+": consensus direction", map[string]interface{}{
			"direction": string(res.Direction), "signals": len(tradeable), "regime": string(regime),
		})
		return res
	}

	weights := regimeWeights(cfg.StrategyWeights, regime)
	uniqueStrategies := map[string]bool{}
	for _, s := range tradeable {
		uniqueStrategies[s.StrategyName()] = true
	}
	diversity := 0.0
	switch {
	case len(uniqueStrategies) >= 3:
		diversity = 5
	case len(uniqueStrategies) >= 2:
		diversity = 2
	}

	scores := map[domain.Direction]float64{}
	for dir, group := range groups {
		var total float64
		for _, s := range group {
			total += directionScore(s, weights, now) + diversity
		}
		scores[dir] = total
	}

	buyScore := scores[domain.Buy]
	sellScore := scores[domain.Sell]
	threshold := cfg.ConflictThreshold * regimeThresholdScale(regime)
	margin := buyScore - sellScore
	if margin < 0 {
		margin = -margin
	}

	res := Resolution{Regime: regime, BuyScore: buyScore, SellScore: sellScore}
	switch {
	case margin < threshold:
		res.Reason = fmt.Sprintf("conflict margin %.1f below threshold %.1f", margin, threshold)
		r.events.Emit(ctx, ports.NewEvent("resolver", ports.EventWarning, "conflicting signals, no direction", map[string]interface{}{
			"buyScore": buyScore, "sellScore": sellScore, "threshold": threshold, "regime": string(regime),
		}))
	case buyScore > sellScore:
		res.Direction = domain.Buy
		res.Signals = groups[domain.Buy]
		res.Reason = "buy side won"
	default:
		res.Direction = domain.Sell
		res.Signals = groups[domain.Sell]
		res.Reason = "sell side won"
	}

	r.logger.Info(ctx, op+": conflict resolved", map[string]interface{}{
		"direction": string(res.Direction), "buyScore": buyScore, "sellScore": sellScore,
		"threshold": threshold, "regime": string(regime), "reason": res.Reason,
	})
	return res
}

// detectRegime inspects tier counts, strategy families and average raw
// confidence across the whole signal set.
func detectRegime(signals []ActiveSignal) Regime {
	var primaryCount, momentumCount, trendCount int
	var confSum float64
	for _, s := range signals {
		if s.Tier() == domain.TierPrimary {
			primaryCount++
		}
		name := s.StrategyName()
		if momentumStrategies[name] {
			momentumCount++
		}
		if trendStrategies[name] {
			trendCount++
		}
		confSum += float64(s.Confidence)
	}
	avgConf := confSum / float64(len(signals))

	switch {
	case primaryCount >= 3 && avgConf > 60:
		return RegimeStrongTrend
	case momentumCount > trendCount && avgConf > 50:
		return RegimeMomentum
	case trendCount >= 2 && avgConf > 45:
		return RegimeTrending
	case len(signals) >= 4 && avgConf < 50:
		return RegimeChoppy
	default:
		return RegimeNeutral
	}
}

// regimeWeights scales the tier weight map for the detected regime.
func regimeWeights(base Weights, regime Regime) Weights {
	w := base.clone()
	switch regime {
	case RegimeStrongTrend:
		w[domain.TierPrimary] *= 1.3
		w[domain.TierContext] *= 1.1
		w[domain.TierConfirm] *= 0.9
	case RegimeMomentum:
		w[domain.TierPrimary] *= 1.2
		w[domain.TierContext] *= 0.9
		w[domain.TierConfirm] *= 1.2
	case RegimeChoppy:
		w[domain.TierPrimary] *= 0.9
		w[domain.TierContext] *= 1.1
		w[domain.TierConfirm] *= 0.8
	}
	return w
}

func regimeThresholdScale(regime Regime) float64 {
	switch regime {
	case RegimeStrongTrend:
		return 0.8
	case RegimeChoppy:
		return 1.5
	case RegimeMomentum:
		return 0.9
	default:
		return 1.0
	}
}

// directionScore blends decayed confidence with the strategy's historical
// score, weights it by tier, and adds freshness bonuses.
func directionScore(s ActiveSignal, weights Weights, now time.Time) float64 {
	normConf := s.DecayedConfidence / 100
	normStrat := s.StrategyScore() / 100
	score := (normConf*0.7 + normStrat*0.3) * weights[s.Tier()] * 100

	age := s.Age(now)
	switch {
	case age < 5*time.Minute:
		score += 10
	case age < 15*time.Minute:
		score += 5
	case age < 30*time.Minute:
		score += 2
	}
	return score
}
