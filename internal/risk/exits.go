package risk

import (
	"fmt"
	"math"

	"signalEngine/internal/domain"
	"signalEngine/internal/ports"
)

// Plan holds the exit parameters computed for a new trade.
type Plan struct {
	StopLoss      float64
	TakeProfit    float64
	TrailingStop  float64
	TrailingLevel float64
	RiskReward    float64
}

// PlanExits computes stop-loss, take-profit and trailing parameters for an
// entry at the given price. Buffers widen for cheap instruments and tighten
// for expensive ones, a minimum gap keeps exits away from the entry, and the
// take-profit stretches until the plan pays at least 1.5x its risk.
func PlanExits(price float64, direction domain.Direction, cfg Config) (Plan, error) {
	if price <= 0 {
		return Plan{}, fmt.Errorf("%w: entry price must be positive, got %f", ports.ErrInvalidRequest, price)
	}
	if direction != domain.Buy && direction != domain.Sell {
		return Plan{}, fmt.Errorf("%w: cannot plan exits for direction %q", ports.ErrInvalidRequest, direction)
	}

	slPct := cfg.SLBufferPct
	tpPct := cfg.TPBufferPct
	switch {
	case price > 1000:
		slPct *= 0.8
		tpPct *= 0.8
	case price < 10:
		slPct *= 1.2
		tpPct *= 1.2
	}

	minGap := math.Max(0.05, price*0.005)

	var sl, tp, trailingLevel float64
	if direction == domain.Buy {
		sl = price * (1 - slPct)
		tp = price * (1 + tpPct)
		if sl > price-minGap {
			sl = price - minGap
		}
		if tp < price+minGap {
			tp = price + minGap
		}
		trailingLevel = price + minGap
	} else {
		sl = price * (1 + slPct)
		tp = price * (1 - tpPct)
		if sl < price+minGap {
			sl = price + minGap
		}
		if tp > price-minGap {
			tp = price - minGap
		}
		trailingLevel = price - minGap
	}

	risk := math.Abs(price - sl)
	reward := math.Abs(tp - price)
	if risk > 0 && reward/risk < 1.5 {
		if direction == domain.Buy {
			tp = price + 2*risk
		} else {
			tp = price - 2*risk
		}
		reward = math.Abs(tp - price)
	}

	plan := Plan{
		StopLoss:      round5(sl),
		TakeProfit:    round5(tp),
		TrailingStop:  cfg.TrailingStopPct,
		TrailingLevel: round5(trailingLevel),
	}
	if risk > 0 {
		plan.RiskReward = reward / risk
	}
	return plan, nil
}

func round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}
