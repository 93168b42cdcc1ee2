package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalEngine/internal/domain"
)

func TestEffectiveValidity(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name       string
		confidence int
		want       time.Duration
	}{
		{"high confidence stretches window", 85, time.Duration(22.5 * float64(time.Minute))},
		{"good confidence stretches a little", 72, 18 * time.Minute},
		{"normal confidence unchanged", 55, 15 * time.Minute},
		{"low confidence shrinks window", 35, 12 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSignal(1, "ETHUSDT", domain.Buy, "RSI Breakout Strategy", domain.TierPrimary, tt.confidence, now)
			assert.Equal(t, tt.want, effectiveValidity(s))
		})
	}
}

func TestDecayedConfidence(t *testing.T) {
	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	s := newSignal(1, "ETHUSDT", domain.Buy, "RSI Breakout Strategy", domain.TierPrimary, 60, base)
	// Validity is 15 minutes at confidence 60.

	t.Run("fresh signal keeps full confidence", func(t *testing.T) {
		assert.InDelta(t, 60.0, DecayedConfidence(s, base.Add(5*time.Minute)), 0.001)
	})

	t.Run("second half decays linearly toward 70 percent", func(t *testing.T) {
		// Midway through the second half: factor 1.0 - 0.3*0.5 = 0.85.
		got := DecayedConfidence(s, base.Add(11*time.Minute+15*time.Second))
		assert.InDelta(t, 51.0, got, 0.001)
	})

	t.Run("end of window is 70 percent", func(t *testing.T) {
		assert.InDelta(t, 42.0, DecayedConfidence(s, base.Add(15*time.Minute)), 0.001)
	})

	t.Run("overtime halves every fifteen minutes", func(t *testing.T) {
		// 15 minutes of overtime: 0.7 * 0.5 = 0.35.
		assert.InDelta(t, 21.0, DecayedConfidence(s, base.Add(30*time.Minute)), 0.001)
	})

	t.Run("never drops below 30 percent of original", func(t *testing.T) {
		got := DecayedConfidence(s, base.Add(3*time.Hour))
		assert.InDelta(t, 18.0, got, 0.001)
	})
}

func TestActiveSignals(t *testing.T) {
	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	now := base.Add(4 * time.Minute)
	ctx := context.Background()

	t.Run("keeps fresh signals and drops stale ones", func(t *testing.T) {
		stale := newSignal(1, "ETHUSDT", domain.Buy, "Volume Spike", domain.TierConfirm, 50, base.Add(-2*time.Hour))
		fresh := newSignal(2, "ETHUSDT", domain.Buy, "RSI Breakout Strategy", domain.TierPrimary, 80, base)
		repo := &mockSignalRepo{signals: []*domain.Signal{stale, fresh}}

		f := NewSignalFilter(repo, &mockLogger{})
		got := f.ActiveSignals(ctx, "ETHUSDT", now)

		require.Len(t, got, 1)
		assert.Equal(t, int64(2), got[0].ID)
		assert.InDelta(t, 80.0, got[0].DecayedConfidence, 0.001)
	})

	t.Run("drops signals without a strategy", func(t *testing.T) {
		s := newSignal(1, "ETHUSDT", domain.Buy, "x", domain.TierPrimary, 80, base)
		s.Strategy = nil
		repo := &mockSignalRepo{signals: []*domain.Signal{s}}

		f := NewSignalFilter(repo, &mockLogger{})
		assert.Empty(t, f.ActiveSignals(ctx, "ETHUSDT", now))
	})

	t.Run("drops already executed signals", func(t *testing.T) {
		s := newSignal(1, "ETHUSDT", domain.Buy, "RSI Breakout Strategy", domain.TierPrimary, 80, base)
		s.Executed = true
		repo := &mockSignalRepo{signals: []*domain.Signal{s}}

		f := NewSignalFilter(repo, &mockLogger{})
		assert.Empty(t, f.ActiveSignals(ctx, "ETHUSDT", now))
	})

	t.Run("drops decayed confidence below the floor", func(t *testing.T) {
		// Confidence 26 at the very end of its window decays under 25.
		s := newSignal(1, "ETHUSDT", domain.Buy, "Volume Spike", domain.TierConfirm, 26, base)
		repo := &mockSignalRepo{signals: []*domain.Signal{s}}

		f := NewSignalFilter(repo, &mockLogger{})
		got := f.ActiveSignals(ctx, "ETHUSDT", base.Add(11*time.Minute))
		assert.Empty(t, got)
	})

	t.Run("repository failure degrades to empty set", func(t *testing.T) {
		repo := &mockSignalRepo{findErr: errors.New("db locked")}
		logger := &mockLogger{}

		f := NewSignalFilter(repo, logger)
		assert.Empty(t, f.ActiveSignals(ctx, "ETHUSDT", now))
		assert.NotEmpty(t, logger.warnMsgs)
	})
}

func TestFilterByConditions(t *testing.T) {
	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	f := NewSignalFilter(&mockSignalRepo{}, &mockLogger{})

	low := active(newSignal(1, "ETHUSDT", domain.Buy, "Volume Spike", domain.TierConfirm, 40, base), base)
	high := active(newSignal(2, "ETHUSDT", domain.Buy, "RSI Breakout Strategy", domain.TierPrimary, 80, base), base)
	weak := active(newSignal(3, "ETHUSDT", domain.Buy, "Stochastic Oscillator", domain.TierConfirm, 30, base), base)
	all := []ActiveSignal{low, high, weak}

	t.Run("conservative posture keeps only high confidence", func(t *testing.T) {
		cond := NeutralConditions()
		cond.Recommendation = PostureConservative
		got := f.FilterByConditions(ctx, all, cond)
		require.Len(t, got, 1)
		assert.Equal(t, int64(2), got[0].ID)
	})

	t.Run("normal posture trims the weakest", func(t *testing.T) {
		got := f.FilterByConditions(ctx, all, NeutralConditions())
		assert.Len(t, got, 2)
	})

	t.Run("aggressive posture keeps everything", func(t *testing.T) {
		cond := NeutralConditions()
		cond.Recommendation = PostureAggressive
		assert.Len(t, f.FilterByConditions(ctx, all, cond), 3)
	})
}
