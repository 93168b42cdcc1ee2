package risk

import (
	"context"
	"math"
	"time"

	"signalEngine/internal/domain"
	"signalEngine/internal/ports"
)

const (
	// Signals whose decayed confidence falls below this are discarded.
	confidenceFloor = 25.0

	// Decayed confidence never drops below this fraction of the original.
	decayFloor = 0.3

	defaultValidityMinutes = 15
)

// ActiveSignal pairs a stored signal with the confidence it carries right
// now, after time decay.
type ActiveSignal struct {
	*domain.Signal
	DecayedConfidence float64
}

// SignalFilter selects the signals that are still actionable and applies
// confidence decay to them.
type SignalFilter struct {
	signals ports.SignalRepository
	logger  ports.Logger
}

func NewSignalFilter(signals ports.SignalRepository, logger ports.Logger) *SignalFilter {
	return &SignalFilter{signals: signals, logger: logger}
}

// effectiveValidity returns the signal's validity window, stretched for high
// confidence and shrunk for low confidence.
func effectiveValidity(s *domain.Signal) time.Duration {
	minutes := float64(defaultValidityMinutes)
	if s.Strategy != nil && s.Strategy.ValidityMinutes > 0 {
		minutes = float64(s.Strategy.ValidityMinutes)
	}
	switch {
	case s.Confidence >= 80:
		minutes *= 1.5
	case s.Confidence >= 70:
		minutes *= 1.2
	case s.Confidence < 40:
		minutes *= 0.8
	}
	return time.Duration(minutes * float64(time.Minute))
}

// IsActive reports whether the signal is still inside its adaptive validity
// window at the given instant.
func IsActive(s *domain.Signal, now time.Time) bool {
	age := s.Age(now)
	return age >= 0 && age <= effectiveValidity(s)
}

// DecayedConfidence returns the signal's confidence adjusted for age. Fresh
// signals keep full confidence through the first half of their window, then
// decay linearly to 70%. Past the window the remainder halves every fifteen
// minutes of overtime, floored at 30% of the original.
func DecayedConfidence(s *domain.Signal, now time.Time) float64 {
	original := float64(s.Confidence)
	validity := effectiveValidity(s)
	age := s.Age(now)
	if age <= 0 {
		return original
	}

	half := validity / 2
	var factor float64
	switch {
	case age <= half:
		factor = 1.0
	case age <= validity:
		progress := float64(age-half) / float64(validity-half)
		factor = 1.0 - 0.3*progress
	default:
		overtime := age - validity
		factor = 0.7 * math.Pow(0.5, overtime.Minutes()/15)
	}

	if factor < decayFloor {
		factor = decayFloor
	}
	return original * factor
}

// ActiveSignals loads the stored signals for a symbol and returns the ones
// still worth considering, each with its decayed confidence. Repository
// failures degrade to an empty set so one bad read cannot stall the cycle.
func (f *SignalFilter) ActiveSignals(ctx context.Context, symbol string, now time.Time) []ActiveSignal {
	op := "ActiveSignals"

	stored, err := f.signals.FindBySymbol(ctx, symbol)
	if err != nil {
		f.logger.Warn(ctx, op+": failed to load signals", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		return nil
	}

	var active []ActiveSignal
	for _, s := range stored {
		if s.Executed {
			continue
		}
		if s.Strategy == nil {
			f.logger.Debug(ctx, op+": dropping signal without strategy", map[string]interface{}{"signalID": s.ID, "symbol": symbol})
			continue
		}
		if !IsActive(s, now) {
			continue
		}
		decayed := DecayedConfidence(s, now)
		if decayed < confidenceFloor {
			continue
		}
		active = append(active, ActiveSignal{Signal: s, DecayedConfidence: decayed})
	}

	f.logger.Debug(ctx, op+": signals filtered", map[string]interface{}{"symbol": symbol, "stored": len(stored), "active": len(active)})
	return active
}

// FilterByConditions applies the posture-dependent quality gate: in a
// conservative posture only high-confidence signals survive, otherwise
// low-quality signals are trimmed unless the posture is aggressive.
func (f *SignalFilter) FilterByConditions(ctx context.Context, signals []ActiveSignal, cond Conditions) []ActiveSignal {
	if cond.Recommendation == PostureAggressive {
		return signals
	}

	minConfidence := 35
	if cond.Recommendation == PostureConservative {
		minConfidence = 55
	}

	var kept []ActiveSignal
	for _, s := range signals {
		if s.Confidence >= minConfidence {
			kept = append(kept, s)
		}
	}
	if len(kept) < len(signals) {
		f.logger.Debug(ctx, "FilterByConditions: trimmed low-quality signals", map[string]interface{}{
			"posture": cond.Recommendation, "before": len(signals), "after": len(kept),
		})
	}
	return kept
}
