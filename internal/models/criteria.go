package models

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ScreeningCriteria holds one threshold per filter dimension. Delta bounds
// apply to the absolute short-leg delta. Values are immutable per run; use
// a preset and copy it to derive variants.
type ScreeningCriteria struct {
	Name             string  `json:"name"`
	MinOpenInterest  int64   `json:"min_open_interest"`
	MinVolume        int64   `json:"min_volume"`
	MinIVPercentile  float64 `json:"min_iv_percentile"`
	MinDelta         float64 `json:"min_delta"`
	MaxDelta         float64 `json:"max_delta"`
	MinTheta         float64 `json:"min_theta"`
	MinExpectedValue float64 `json:"min_expected_value"`
	MaxSpreadWidth   float64 `json:"max_spread_width"`
	MinDTE           int     `json:"min_dte"`
	MaxDTE           int     `json:"max_dte"`
	MaxBidAsk        float64 `json:"max_bid_ask"`
	MinProbability   float64 `json:"min_probability"`
	MinRiskReward    float64 `json:"min_risk_reward"`
}

const (
	PresetConservative = "conservative"
	PresetStandard     = "standard"
	PresetAggressive   = "aggressive"
)

// Conservative favours far out-of-the-money, liquid, 30-45 DTE spreads.
func Conservative() ScreeningCriteria {
	return ScreeningCriteria{
		Name:             PresetConservative,
		MinOpenInterest:  2000,
		MinVolume:        500,
		MinIVPercentile:  50,
		MinDelta:         0.05,
		MaxDelta:         0.20,
		MinTheta:         0.02,
		MinExpectedValue: 0.05,
		MaxSpreadWidth:   5,
		MinDTE:           30,
		MaxDTE:           45,
		MaxBidAsk:        0.05,
		MinProbability:   0.75,
		MinRiskReward:    0.20,
	}
}

// Standard is the default preset.
func Standard() ScreeningCriteria {
	return ScreeningCriteria{
		Name:             PresetStandard,
		MinOpenInterest:  1000,
		MinVolume:        100,
		MinIVPercentile:  40,
		MinDelta:         0.10,
		MaxDelta:         0.30,
		MinTheta:         0.01,
		MinExpectedValue: 0,
		MaxSpreadWidth:   10,
		MinDTE:           20,
		MaxDTE:           60,
		MaxBidAsk:        0.10,
		MinProbability:   0.60,
		MinRiskReward:    0.25,
	}
}

// Aggressive admits thinner markets, closer strikes and a wider DTE window.
func Aggressive() ScreeningCriteria {
	return ScreeningCriteria{
		Name:             PresetAggressive,
		MinOpenInterest:  250,
		MinVolume:        50,
		MinIVPercentile:  25,
		MinDelta:         0.05,
		MaxDelta:         0.40,
		MinTheta:         0.005,
		MinExpectedValue: 0,
		MaxSpreadWidth:   20,
		MinDTE:           7,
		MaxDTE:           90,
		MaxBidAsk:        0.20,
		MinProbability:   0.50,
		MinRiskReward:    0.15,
	}
}

var presets = map[string]func() ScreeningCriteria{
	PresetConservative: Conservative,
	"strict":           Conservative,
	PresetStandard:     Standard,
	"balanced":         Standard,
	PresetAggressive:   Aggressive,
}

// Preset returns the named criteria. Empty selects standard.
func Preset(name string) (ScreeningCriteria, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = PresetStandard
	}
	fn, ok := presets[key]
	if !ok {
		return ScreeningCriteria{}, fmt.Errorf("unknown preset %q (want one of %s)", name, strings.Join(PresetNames(), ", "))
	}
	return fn(), nil
}

// PresetNames lists the canonical preset names, aliases excluded.
func PresetNames() []string {
	names := []string{PresetConservative, PresetStandard, PresetAggressive}
	sort.Strings(names)
	return names
}

// Validate rejects negative minimums, inverted ranges and out-of-range bounds.
func (c ScreeningCriteria) Validate() error {
	nonNegative := []struct {
		field string
		value float64
	}{
		{"min_open_interest", float64(c.MinOpenInterest)},
		{"min_volume", float64(c.MinVolume)},
		{"min_iv_percentile", c.MinIVPercentile},
		{"min_delta", c.MinDelta},
		{"max_delta", c.MaxDelta},
		{"min_theta", c.MinTheta},
		{"min_expected_value", c.MinExpectedValue},
		{"min_dte", float64(c.MinDTE)},
		{"max_dte", float64(c.MaxDTE)},
		{"max_bid_ask", c.MaxBidAsk},
		{"min_probability", c.MinProbability},
		{"min_risk_reward", c.MinRiskReward},
	}
	for _, f := range nonNegative {
		if math.IsNaN(f.value) {
			return &InvalidCriteriaError{Field: f.field, Reason: "must be a number"}
		}
		if f.value < 0 {
			return &InvalidCriteriaError{Field: f.field, Reason: "must not be negative"}
		}
	}
	if c.MinIVPercentile > 100 {
		return &InvalidCriteriaError{Field: "min_iv_percentile", Reason: "must not exceed 100"}
	}
	if c.MaxDelta > 1 {
		return &InvalidCriteriaError{Field: "max_delta", Reason: "must not exceed 1"}
	}
	if c.MinDelta > c.MaxDelta {
		return &InvalidCriteriaError{Field: "delta band", Reason: fmt.Sprintf("is inverted (%.2f > %.2f)", c.MinDelta, c.MaxDelta)}
	}
	if c.MinDTE > c.MaxDTE {
		return &InvalidCriteriaError{Field: "dte range", Reason: fmt.Sprintf("is inverted (%d > %d)", c.MinDTE, c.MaxDTE)}
	}
	if c.MaxSpreadWidth <= 0 || math.IsNaN(c.MaxSpreadWidth) {
		return &InvalidCriteriaError{Field: "max_spread_width", Reason: "must be positive"}
	}
	if c.MinProbability > 1 {
		return &InvalidCriteriaError{Field: "min_probability", Reason: "must not exceed 1"}
	}
	return nil
}
