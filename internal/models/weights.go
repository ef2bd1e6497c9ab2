package models

import (
	"fmt"
	"math"
)

// WeightTolerance is how far a weight vector's sum may drift from 1.
const WeightTolerance = 1e-6

// Weights is the optimizer's weight vector over normalized components.
// Probability, Liquidity and ReturnOnCapital are optional and default to zero.
type Weights struct {
	IV              float64 `json:"iv"`
	Theta           float64 `json:"theta"`
	SpreadQuality   float64 `json:"spread_quality"`
	ExpectedValue   float64 `json:"expected_value"`
	Probability     float64 `json:"probability,omitempty"`
	Liquidity       float64 `json:"liquidity,omitempty"`
	ReturnOnCapital float64 `json:"return_on_capital,omitempty"`
}

// DefaultWeights leans on expected value, then IV richness and decay.
func DefaultWeights() Weights {
	return Weights{
		IV:            0.25,
		Theta:         0.20,
		SpreadQuality: 0.15,
		ExpectedValue: 0.40,
	}
}

// Sum adds all components.
func (w Weights) Sum() float64 {
	return w.IV + w.Theta + w.SpreadQuality + w.ExpectedValue + w.Probability + w.Liquidity + w.ReturnOnCapital
}

// Validate requires every component to be finite and non-negative and the
// vector to sum to 1 within WeightTolerance.
func (w Weights) Validate() error {
	components := []struct {
		name  string
		value float64
	}{
		{"iv", w.IV},
		{"theta", w.Theta},
		{"spread_quality", w.SpreadQuality},
		{"expected_value", w.ExpectedValue},
		{"probability", w.Probability},
		{"liquidity", w.Liquidity},
		{"return_on_capital", w.ReturnOnCapital},
	}
	for _, c := range components {
		if math.IsNaN(c.value) || math.IsInf(c.value, 0) {
			return &InvalidWeightsError{Reason: fmt.Sprintf("%s weight must be finite", c.name)}
		}
		if c.value < 0 {
			return &InvalidWeightsError{Reason: fmt.Sprintf("%s weight %.4f is negative", c.name, c.value)}
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > WeightTolerance {
		return &InvalidWeightsError{Reason: fmt.Sprintf("weights sum to %.6f, want 1", sum)}
	}
	return nil
}
