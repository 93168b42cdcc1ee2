package risk

import (
	"context"
	"fmt"
	"time"

	"signalEngine/internal/domain"
	"signalEngine/internal/ports"
)

// Approval is the outcome of the rule cascade. Anchor is the signal whose
// confidence and strategy become the trade's metadata when approved.
type Approval struct {
	Approved bool
	Rule     string
	Reason   string
	Anchor   ActiveSignal
	Score    float64
}

// comboRule approves a known-good pairing of strategies when its members all
// fired inside a short window with enough average score.
type comboRule struct {
	name    string
	members []comboMember
	window  time.Duration
	minAvg  float64
}

type comboMember struct {
	strategy string
	tier     domain.PriorityTier
}

var comboRules = []comboRule{
	{
		name: "rsi_breakout_confirmed",
		members: []comboMember{
			{"RSI Breakout Strategy", domain.TierPrimary},
			{"Bullish Engulfing Pattern", domain.TierConfirm},
			{"Volume Spike", domain.TierConfirm},
		},
		window: 8 * time.Minute,
		minAvg: 60,
	},
	{
		name: "ema_adx_alignment",
		members: []comboMember{
			{"Triple EMA Crossover Strategy", domain.TierPrimary},
			{"ADX Trend Strength Strategy", domain.TierPrimary},
		},
		window: 8 * time.Minute,
		minAvg: 55,
	},
	{
		name: "bollinger_volume_breakout",
		members: []comboMember{
			{"Bollinger Band Breakout", domain.TierPrimary},
			{"Volume Spike", domain.TierConfirm},
		},
		window: 8 * time.Minute,
		minAvg: 52,
	},
	{
		name: "macd_ichimoku_confluence",
		members: []comboMember{
			{"MACD Crossover Strategy", domain.TierPrimary},
			{"Ichimoku Cloud Breakout", domain.TierContext},
		},
		window: 8 * time.Minute,
		minAvg: 58,
	},
	{
		name: "donchian_sar_trend",
		members: []comboMember{
			{"Donchian Channel Breakout", domain.TierPrimary},
			{"Parabolic SAR Trend Strategy", domain.TierPrimary},
		},
		window: 8 * time.Minute,
		minAvg: 60,
	},
	{
		name: "fibonacci_ma_support",
		members: []comboMember{
			{"Fibonacci Retracement Strategy", domain.TierContext},
			{"Moving Average Cross Strategy", domain.TierPrimary},
		},
		window: 8 * time.Minute,
		minAvg: 55,
	},
}

// ApprovalEngine runs the approval rule cascade over a resolved, same
// direction signal group.
type ApprovalEngine struct {
	logger ports.Logger
	events ports.EventSink
}

func NewApprovalEngine(logger ports.Logger, events ports.EventSink) *ApprovalEngine {
	return &ApprovalEngine{logger: logger, events: events}
}

// weightedScore blends raw confidence with the strategy's historical score.
// The tier weight applies to the confidence term only.
func weightedScore(s ActiveSignal, weights Weights) float64 {
	normConf := float64(s.Confidence) / 100
	normStrat := s.StrategyScore() / 100
	return (normConf*weights[s.Tier()]*0.7 + normStrat*0.3) * 100
}

// Evaluate walks the rule cascade in order and returns on the first rule
// that fires. The tier weights here are the merged configuration's map, not
// the regime-scaled weights the resolver uses, so approval thresholds stay
// stable across momentary regime swings.
func (a *ApprovalEngine) Evaluate(ctx context.Context, signals []ActiveSignal, direction domain.Direction, cfg Config) Approval {
	op := "Evaluate"

	if len(signals) == 0 {
		return Approval{Reason: "no signals to approve"}
	}

	var primary, contextTier, confirm []ActiveSignal
	for _, s := range signals {
		switch s.Tier() {
		case domain.TierPrimary:
			primary = append(primary, s)
		case domain.TierContext:
			contextTier = append(contextTier, s)
		case domain.TierConfirm:
			confirm = append(confirm, s)
		}
	}

	approve := func(rule string, anchor ActiveSignal, score float64) Approval {
		a.logger.Info(ctx, op+": trade approved", map[string]interface{}{
			"rule": rule, "direction": string(direction), "anchorStrategy": anchor.StrategyName(),
			"anchorConfidence": anchor.Confidence, "score": score,
		})
		return Approval{Approved: true, Rule: rule, Anchor: anchor, Score: score}
	}

	// Rule 1: a single strong Primary signal stands on its own.
	if len(primary) > 0 {
		best := primary[0]
		bestScore := weightedScore(best, cfg.StrategyWeights)
		for _, s := range primary[1:] {
			if sc := weightedScore(s, cfg.StrategyWeights); sc > bestScore {
				best, bestScore = s, sc
			}
		}
		if bestScore >= cfg.PrimaryMinScore {
			return approve("strong_primary", best, bestScore)
		}
	}

	// Rule 2: Context and Confirm signals corroborating each other.
	if len(contextTier) > 0 && len(confirm) > 0 {
		combined := append(append([]ActiveSignal{}, contextTier...), confirm...)
		if len(combined) >= 2 {
			if avg := avgWeightedScore(combined, cfg.StrategyWeights); avg >= cfg.ContextConfirmAvgScore {
				return approve("context_confirm_group", combined[0], avg)
			}
		}
	}

	// Rule 3: a dense cluster of Confirm signals.
	if len(confirm) >= 3 {
		if avg := avgWeightedScore(confirm, cfg.StrategyWeights); avg >= cfg.ConfirmMinAvgScore {
			return approve("confirm_cluster", confirm[0], avg)
		}
	}

	// Rule 4: multiple Primary signals agreeing.
	if len(primary) >= 2 {
		if avg := avgWeightedScore(primary, cfg.StrategyWeights); avg >= cfg.PrimaryGroupAvgScore {
			return approve("primary_group", primary[0], avg)
		}
	}

	// Rules 5-10: curated strategy combinations.
	for _, rule := range comboRules {
		if combo, ok := matchCombo(rule, signals); ok {
			if avg := avgWeightedScore(combo, cfg.StrategyWeights); avg >= rule.minAvg {
				return approve(rule.name, combo[0], avg)
			}
		}
	}

	// Rule 11: broad agreement across many strategies in a tight window.
	if len(signals) >= 4 && withinWindow(signals, 10*time.Minute) {
		if avg := avgWeightedScore(signals, cfg.StrategyWeights); avg >= 45 {
			return approve("broad_agreement", signals[0], avg)
		}
	}

	reason := fmt.Sprintf("no approval rule satisfied (primary=%d context=%d confirm=%d)", len(primary), len(contextTier), len(confirm))
	a.logger.Info(ctx, op+": trade rejected", map[string]interface{}{"direction": string(direction), "reason": reason})
	a.events.Emit(ctx, ports.NewEvent("approval", ports.EventInfo, "trade rejected", map[string]interface{}{
		"direction": string(direction), "reason": reason,
	}))
	return Approval{Reason: reason}
}

func avgWeightedScore(signals []ActiveSignal, weights Weights) float64 {
	var sum float64
	for _, s := range signals {
		sum += weightedScore(s, weights)
	}
	return sum / float64(len(signals))
}

// matchCombo finds one signal per combo member with the required strategy
// and tier, all inside the rule's time window. A signal cannot satisfy two
// members at once.
func matchCombo(rule comboRule, signals []ActiveSignal) ([]ActiveSignal, bool) {
	used := make([]bool, len(signals))
	var matched []ActiveSignal
	for _, m := range rule.members {
		found := false
		for i, s := range signals {
			if used[i] || s.StrategyName() != m.strategy || s.Tier() != m.tier {
				continue
			}
			used[i] = true
			matched = append(matched, s)
			found = true
			break
		}
		if !found {
			return nil, false
		}
	}
	if !withinWindow(matched, rule.window) {
		return nil, false
	}
	return matched, true
}

func withinWindow(signals []ActiveSignal, window time.Duration) bool {
	if len(signals) == 0 {
		return false
	}
	earliest, latest := signals[0].ReceivedAt, signals[0].ReceivedAt
	for _, s := range signals[1:] {
		if s.ReceivedAt.Before(earliest) {
			earliest = s.ReceivedAt
		}
		if s.ReceivedAt.After(latest) {
			latest = s.ReceivedAt
		}
	}
	return latest.Sub(earliest) <= window
}
