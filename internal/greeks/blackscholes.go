// Package greeks implements a Black-Scholes Greeks provider for spreads
// whose candidate records do not carry delta, theta or implied volatility.
package greeks

import (
	"errors"
	"fmt"
	"math"

	"github.com/rewired-gh/cso/internal/models"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	maxIterations = 100
	epsilon       = 1e-8
	minVol        = 1e-4
	maxVol        = 5.0
)

var ErrNoConvergence = errors.New("implied volatility did not converge")

// BlackScholes prices European options on a non-dividend-paying underlying.
type BlackScholes struct {
	RiskFreeRate float64
}

// New creates a provider using the given annual risk-free rate.
func New(riskFreeRate float64) *BlackScholes {
	return &BlackScholes{RiskFreeRate: riskFreeRate}
}

// ComputeGreeks returns the short-leg delta, the seller's daily theta over
// both legs, and the volatility used. A non-positive volatility is implied
// from the short leg's mid price.
func (b *BlackScholes) ComputeGreeks(legs models.Legs, underlyingPrice, volatility, timeToExpiry float64) (models.Greeks, error) {
	if underlyingPrice <= 0 {
		return models.Greeks{}, fmt.Errorf("underlying price must be positive, got %v", underlyingPrice)
	}
	if timeToExpiry <= 0 {
		return models.Greeks{}, fmt.Errorf("time to expiry must be positive, got %v", timeToExpiry)
	}
	isPut := legs.Type.IsPut()

	sigma := volatility
	if sigma <= 0 {
		if legs.ShortPrice <= 0 {
			return models.Greeks{}, errors.New("no volatility and no short-leg price to imply it from")
		}
		iv, err := ImpliedVolatility(legs.ShortPrice, underlyingPrice, legs.ShortStrike, timeToExpiry, b.RiskFreeRate, isPut)
		if err != nil {
			return models.Greeks{}, err
		}
		sigma = iv
	}

	short := Price(underlyingPrice, legs.ShortStrike, timeToExpiry, b.RiskFreeRate, sigma, isPut)
	long := Price(underlyingPrice, legs.LongStrike, timeToExpiry, b.RiskFreeRate, sigma, isPut)

	// Option thetas are negative per year; the seller gains what the short
	// leg loses and pays what the long leg loses.
	theta := (long.Theta - short.Theta) / 365

	return models.Greeks{
		Delta: short.Delta,
		Theta: theta,
		IV:    sigma,
	}, nil
}

// Result is a single option valuation.
type Result struct {
	Price float64
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
}

// Price values one option. Theta is per year.
func Price(S, K, T, r, sigma float64, isPut bool) Result {
	sqrtT := math.Sqrt(T)
	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT
	disc := K * math.Exp(-r*T)
	pdf := distuv.UnitNormal.Prob(d1)

	res := Result{
		Gamma: pdf / (S * sigma * sqrtT),
		Vega:  S * pdf * sqrtT,
	}
	decay := -(S * pdf * sigma) / (2 * sqrtT)
	if isPut {
		res.Price = disc*cdf(-d2) - S*cdf(-d1)
		res.Delta = cdf(d1) - 1
		res.Theta = decay + r*disc*cdf(-d2)
	} else {
		res.Price = S*cdf(d1) - disc*cdf(d2)
		res.Delta = cdf(d1)
		res.Theta = decay - r*disc*cdf(d2)
	}
	return res
}

// ImpliedVolatility solves for the volatility that reprices target, first
// by Newton's method and then by bisection when vega is too flat.
func ImpliedVolatility(target, S, K, T, r float64, isPut bool) (float64, error) {
	sigma := 0.5
	for i := 0; i < maxIterations; i++ {
		res := Price(S, K, T, r, sigma, isPut)
		diff := res.Price - target
		if math.Abs(diff) < epsilon {
			return sigma, nil
		}
		if res.Vega < epsilon {
			break
		}
		sigma -= diff / res.Vega
		if sigma <= minVol || sigma >= maxVol || math.IsNaN(sigma) {
			break
		}
	}

	lo, hi := minVol, maxVol
	if Price(S, K, T, r, lo, isPut).Price > target || Price(S, K, T, r, hi, isPut).Price < target {
		return 0, fmt.Errorf("%w: price %.4f outside model range", ErrNoConvergence, target)
	}
	for i := 0; i < maxIterations; i++ {
		mid := (lo + hi) / 2
		diff := Price(S, K, T, r, mid, isPut).Price - target
		if math.Abs(diff) < epsilon || hi-lo < epsilon {
			return mid, nil
		}
		if diff > 0 {
			hi = mid
		} else {
			lo = mid
		}
	}
	return 0, ErrNoConvergence
}

func cdf(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}
