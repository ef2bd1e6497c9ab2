// Package analyzer computes the per-spread metrics used by the filters and
// the optimizer: IV percentile, theta efficiency, probability of profit and
// expected value. Every function is a pure function of its inputs.
package analyzer

import (
	"errors"
	"math"

	"github.com/rewired-gh/cso/internal/models"
)

// GreeksProvider computes delta, theta and IV for a spread whose candidate
// record does not carry them.
type GreeksProvider interface {
	ComputeGreeks(legs models.Legs, underlyingPrice, volatility, timeToExpiry float64) (models.Greeks, error)
}

// Context is the market context a batch is evaluated in. The zero value is
// valid and means no provider and no history.
type Context struct {
	Provider GreeksProvider
	// Volatility is a per-ticker fallback volatility for the provider when a
	// spread carries no implied volatility.
	Volatility map[string]float64
	// IVHistory is a per-ticker trailing series of implied volatilities used
	// to derive a missing IV percentile.
	IVHistory map[string][]float64
}

// Field names reported in MissingDataError.
const (
	FieldIVPercentile = "iv_percentile"
	FieldDelta        = "delta"
	FieldTheta        = "theta"
	FieldQuote        = "quote"
)

var (
	errNoProvider   = errors.New("not supplied and no greeks provider configured")
	errNoUnderlying = errors.New("not supplied and underlying price unknown")
	errNoHistory    = errors.New("not supplied and no IV history for ticker")
)

func missing(s *models.CreditSpread, field string, cause error) error {
	return &models.MissingDataError{Ticker: s.Ticker, Field: field, Cause: cause}
}

// IVPercentile returns the spread's IV percentile.
func IVPercentile(s *models.CreditSpread) (float64, error) {
	if s.IVPercentile == nil {
		return 0, missing(s, FieldIVPercentile, nil)
	}
	return *s.IVPercentile, nil
}

// ThetaEfficiency is daily theta divided by max loss. A spread that cannot
// lose and still decays returns +Inf.
func ThetaEfficiency(s *models.CreditSpread) (float64, error) {
	if s.Theta == nil {
		return 0, missing(s, FieldTheta, nil)
	}
	if s.MaxLoss <= 0 {
		if *s.Theta > 0 {
			return math.Inf(1), nil
		}
		return 0, nil
	}
	return *s.Theta / s.MaxLoss, nil
}

// ProbabilityOfProfit approximates the chance the spread expires worthless
// from the short-leg delta: 1-|delta| for put spreads, 1-delta for call
// spreads, clamped to [0,1]. Delta stands in for the risk-neutral chance of
// finishing in the money; this is a heuristic, not a priced probability.
func ProbabilityOfProfit(s *models.CreditSpread) (float64, error) {
	if s.Delta == nil {
		return 0, missing(s, FieldDelta, nil)
	}
	d := *s.Delta
	var p float64
	if s.Type.IsPut() {
		p = 1 - math.Abs(d)
	} else {
		p = 1 - d
	}
	return clamp(p, 0, 1), nil
}

// ExpectedValue is P*maxProfit - (1-P)*maxLoss, per share.
func ExpectedValue(s *models.CreditSpread) (float64, error) {
	p, err := ProbabilityOfProfit(s)
	if err != nil {
		return 0, err
	}
	return p*s.MaxProfit - (1-p)*s.MaxLoss, nil
}

// ReturnOnCapital is expected value over max loss scaled to a 30-day month,
// in percent.
func ReturnOnCapital(s *models.CreditSpread, ev float64) float64 {
	if s.MaxLoss <= 0 || s.DTE <= 0 {
		return 0
	}
	return ev / s.MaxLoss * 100 * 30 / float64(s.DTE)
}

// AnnualizedTheta is the return from collecting theta until expiration,
// annualized, in percent.
func AnnualizedTheta(s *models.CreditSpread) float64 {
	if s.Theta == nil || s.MaxLoss <= 0 || s.DTE <= 0 {
		return 0
	}
	total := *s.Theta * float64(s.DTE) / s.MaxLoss * 100
	return total * 365 / float64(s.DTE)
}

// Analyze computes all metrics. It fails on the first metric that cannot
// be computed.
func Analyze(s *models.CreditSpread) (models.Metrics, error) {
	ivp, err := IVPercentile(s)
	if err != nil {
		return models.Metrics{}, err
	}
	eff, err := ThetaEfficiency(s)
	if err != nil {
		return models.Metrics{}, err
	}
	pop, err := ProbabilityOfProfit(s)
	if err != nil {
		return models.Metrics{}, err
	}
	ev, err := ExpectedValue(s)
	if err != nil {
		return models.Metrics{}, err
	}
	return models.Metrics{
		IVPercentile:    ivp,
		ThetaEfficiency: eff,
		Probability:     pop,
		ExpectedValue:   ev,
		ReturnOnCapital: ReturnOnCapital(s, ev),
		AnnualizedTheta: AnnualizedTheta(s),
	}, nil
}

// Percentile ranks current against history: the share of history values
// strictly below current, times 100.
func Percentile(current float64, history []float64) float64 {
	if len(history) == 0 {
		return 0
	}
	below := 0
	for _, v := range history {
		if v < current {
			below++
		}
	}
	return float64(below) / float64(len(history)) * 100
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
