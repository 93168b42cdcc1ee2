package risk

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"signalEngine/internal/domain"
)

// Weights maps a strategy priority tier to its scoring weight.
type Weights map[domain.PriorityTier]float64

func (w Weights) clone() Weights {
	out := make(Weights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// Config holds every tunable parameter of the decision pipeline. A merged
// Config is assembled for each decision cycle: defaults, then the persisted
// settings file, then the market-condition overlay.
type Config struct {
	RiskPct           float64 // Fraction of capital allocated per trade before multipliers
	MinNotional       float64 // Smallest dollar size worth executing
	ConflictThreshold float64 // Minimum buy/sell score margin to pick a direction

	PrimaryMinScore        float64 // Rule 1: floor for the best Primary signal
	ContextConfirmAvgScore float64 // Rule 2: average floor for Context+Confirm groups
	ConfirmMinAvgScore     float64 // Rule 3: average floor for a Confirm-only group
	PrimaryGroupAvgScore   float64 // Rule 4: average floor for a multi-Primary group

	SLBufferPct     float64 // Stop-loss distance as a fraction of entry price
	TPBufferPct     float64 // Take-profit distance as a fraction of entry price
	TrailingStopPct float64 // Trailing stop distance as a fraction of the high-water price

	MaxPositions          int // Hard cap on concurrently open trades
	MaxTradesPerSymbolDay int // Daily entry cap per symbol
	MaxTradesPerDay       int // Daily entry cap across all symbols

	StrategyWeights Weights
}

// DefaultConfig returns the baseline parameter set before any persisted
// settings or market-condition adjustments.
func DefaultConfig() Config {
	return Config{
		RiskPct:           0.10,
		MinNotional:       50,
		ConflictThreshold: 15,

		PrimaryMinScore:        45,
		ContextConfirmAvgScore: 42,
		ConfirmMinAvgScore:     40,
		PrimaryGroupAvgScore:   48,

		SLBufferPct:     0.02,
		TPBufferPct:     0.05,
		TrailingStopPct: 0.01,

		MaxPositions:          8,
		MaxTradesPerSymbolDay: 3,
		MaxTradesPerDay:       10,

		StrategyWeights: Weights{
			domain.TierPrimary: 1.2,
			domain.TierContext: 0.9,
			domain.TierConfirm: 0.7,
		},
	}
}

// Overlay is a partial configuration. Nil fields leave the base value
// untouched; a non-nil StrategyWeights map replaces the base map wholesale.
type Overlay struct {
	RiskPct           *float64 `yaml:"risk_pct,omitempty"`
	MinNotional       *float64 `yaml:"min_notional,omitempty"`
	ConflictThreshold *float64 `yaml:"conflict_threshold,omitempty"`

	PrimaryMinScore        *float64 `yaml:"primary_min_score,omitempty"`
	ContextConfirmAvgScore *float64 `yaml:"context_confirm_avg_score,omitempty"`
	ConfirmMinAvgScore     *float64 `yaml:"confirm_min_avg_score,omitempty"`
	PrimaryGroupAvgScore   *float64 `yaml:"primary_group_avg_score,omitempty"`

	SLBufferPct     *float64 `yaml:"sl_buffer_pct,omitempty"`
	TPBufferPct     *float64 `yaml:"tp_buffer_pct,omitempty"`
	TrailingStopPct *float64 `yaml:"trailing_stop_pct,omitempty"`

	MaxPositions          *int `yaml:"max_positions,omitempty"`
	MaxTradesPerSymbolDay *int `yaml:"max_trades_per_symbol_day,omitempty"`
	MaxTradesPerDay       *int `yaml:"max_trades_per_day,omitempty"`

	StrategyWeights map[string]float64 `yaml:"strategy_weights,omitempty"`
}

// Apply merges the overlay onto a copy of base and returns the result.
func (o Overlay) Apply(base Config) Config {
	cfg := base
	cfg.StrategyWeights = base.StrategyWeights.clone()

	setF := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setI := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}

	setF(&cfg.RiskPct, o.RiskPct)
	setF(&cfg.MinNotional, o.MinNotional)
	setF(&cfg.ConflictThreshold, o.ConflictThreshold)
	setF(&cfg.PrimaryMinScore, o.PrimaryMinScore)
	setF(&cfg.ContextConfirmAvgScore, o.ContextConfirmAvgScore)
	setF(&cfg.ConfirmMinAvgScore, o.ConfirmMinAvgScore)
	setF(&cfg.PrimaryGroupAvgScore, o.PrimaryGroupAvgScore)
	setF(&cfg.SLBufferPct, o.SLBufferPct)
	setF(&cfg.TPBufferPct, o.TPBufferPct)
	setF(&cfg.TrailingStopPct, o.TrailingStopPct)
	setI(&cfg.MaxPositions, o.MaxPositions)
	setI(&cfg.MaxTradesPerSymbolDay, o.MaxTradesPerSymbolDay)
	setI(&cfg.MaxTradesPerDay, o.MaxTradesPerDay)

	if o.StrategyWeights != nil {
		cfg.StrategyWeights = make(Weights, len(o.StrategyWeights))
		for tier, w := range o.StrategyWeights {
			cfg.StrategyWeights[domain.PriorityTier(tier)] = w
		}
	}

	return cfg
}

// LoadSettings reads a persisted Overlay from a YAML file. A missing file is
// not an error: it yields an empty overlay so defaults apply unchanged.
func LoadSettings(path string) (Overlay, error) {
	var o Overlay
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return o, nil
		}
		return o, fmt.Errorf("reading settings file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("parsing settings file %s: %w", path, err)
	}
	return o, nil
}

// SaveSettings persists an Overlay to a YAML file.
func SaveSettings(path string, o Overlay) error {
	data, err := yaml.Marshal(o)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing settings file %s: %w", path, err)
	}
	return nil
}

func fptr(v float64) *float64 { return &v }
