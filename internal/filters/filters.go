// Package filters implements the ten screening predicates. Each filter is a
// pure function of a spread and a criteria value and can be called on its
// own, outside any engine.
package filters

import (
	"errors"
	"math"

	"github.com/rewired-gh/cso/internal/analyzer"
	"github.com/rewired-gh/cso/internal/models"
)

// Filter tests one dimension of a spread against the criteria.
type Filter func(s *models.CreditSpread, c models.ScreeningCriteria) models.FilterResult

// Liquidity requires open interest and volume to each meet their minimum.
func Liquidity(s *models.CreditSpread, c models.ScreeningCriteria) models.FilterResult {
	if s.OpenInterest < c.MinOpenInterest {
		return models.Fail(models.FilterLiquidity, "open interest %d below minimum %d", s.OpenInterest, c.MinOpenInterest)
	}
	if s.Volume < c.MinVolume {
		return models.Fail(models.FilterLiquidity, "volume %d below minimum %d", s.Volume, c.MinVolume)
	}
	return models.Pass(models.FilterLiquidity)
}

// DTE requires days to expiration within [MinDTE, MaxDTE].
func DTE(s *models.CreditSpread, c models.ScreeningCriteria) models.FilterResult {
	if s.DTE < c.MinDTE || s.DTE > c.MaxDTE {
		return models.Fail(models.FilterDTE, "%d DTE outside range %d-%d", s.DTE, c.MinDTE, c.MaxDTE)
	}
	return models.Pass(models.FilterDTE)
}

// SpreadWidth caps the strike width.
func SpreadWidth(s *models.CreditSpread, c models.ScreeningCriteria) models.FilterResult {
	if w := s.Width(); w > c.MaxSpreadWidth+1e-9 {
		return models.Fail(models.FilterSpreadWidth, "width %.2f above maximum %.2f", w, c.MaxSpreadWidth)
	}
	return models.Pass(models.FilterSpreadWidth)
}

// BidAsk caps the quoted width of either leg. An unquoted leg cannot be
// assessed and fails with missing data.
func BidAsk(s *models.CreditSpread, c models.ScreeningCriteria) models.FilterResult {
	legs := []struct {
		name string
		leg  models.Leg
	}{{"short", s.Short}, {"long", s.Long}}
	for _, l := range legs {
		if !l.leg.HasQuote() {
			return models.FailErr(models.FilterBidAsk, &models.MissingDataError{
				Ticker: s.Ticker,
				Field:  analyzer.FieldQuote,
				Cause:  errors.New(l.name + " leg has no ask"),
			})
		}
		if w := l.leg.BidAsk(); w > c.MaxBidAsk+1e-9 {
			return models.Fail(models.FilterBidAsk, "%s leg bid-ask %.2f above maximum %.2f", l.name, w, c.MaxBidAsk)
		}
	}
	return models.Pass(models.FilterBidAsk)
}

// RiskReward requires max profit over max loss to meet the minimum.
func RiskReward(s *models.CreditSpread, c models.ScreeningCriteria) models.FilterResult {
	if rr := s.RiskReward(); rr < c.MinRiskReward {
		return models.Fail(models.FilterRiskReward, "risk/reward %.2f below minimum %.2f", rr, c.MinRiskReward)
	}
	return models.Pass(models.FilterRiskReward)
}

// IVPercentile requires the IV percentile to meet the minimum.
func IVPercentile(s *models.CreditSpread, c models.ScreeningCriteria) models.FilterResult {
	ivp, err := analyzer.IVPercentile(s)
	if err != nil {
		return models.FailErr(models.FilterIVPercentile, err)
	}
	if ivp < c.MinIVPercentile {
		return models.Fail(models.FilterIVPercentile, "IV percentile %.0f below minimum %.0f", ivp, c.MinIVPercentile)
	}
	return models.Pass(models.FilterIVPercentile)
}

// Delta requires the absolute short-leg delta to lie within the band.
func Delta(s *models.CreditSpread, c models.ScreeningCriteria) models.FilterResult {
	if s.Delta == nil {
		return models.FailErr(models.FilterDelta, &models.MissingDataError{Ticker: s.Ticker, Field: analyzer.FieldDelta})
	}
	d := math.Abs(*s.Delta)
	if d < c.MinDelta || d > c.MaxDelta {
		return models.Fail(models.FilterDelta, "delta %.2f outside band %.2f-%.2f", d, c.MinDelta, c.MaxDelta)
	}
	return models.Pass(models.FilterDelta)
}

// Theta requires daily theta to meet the minimum.
func Theta(s *models.CreditSpread, c models.ScreeningCriteria) models.FilterResult {
	if s.Theta == nil {
		return models.FailErr(models.FilterTheta, &models.MissingDataError{Ticker: s.Ticker, Field: analyzer.FieldTheta})
	}
	if *s.Theta < c.MinTheta {
		return models.Fail(models.FilterTheta, "theta %.3f below minimum %.3f", *s.Theta, c.MinTheta)
	}
	return models.Pass(models.FilterTheta)
}

// ExpectedValue requires positive expected value meeting the minimum.
func ExpectedValue(s *models.CreditSpread, c models.ScreeningCriteria) models.FilterResult {
	ev, err := analyzer.ExpectedValue(s)
	if err != nil {
		return models.FailErr(models.FilterExpectedValue, err)
	}
	if ev <= 0 {
		return models.Fail(models.FilterExpectedValue, "expected value %.2f is not positive", ev)
	}
	if ev < c.MinExpectedValue {
		return models.Fail(models.FilterExpectedValue, "expected value %.2f below minimum %.2f", ev, c.MinExpectedValue)
	}
	return models.Pass(models.FilterExpectedValue)
}

// Probability requires the approximate probability of profit to meet the minimum.
func Probability(s *models.CreditSpread, c models.ScreeningCriteria) models.FilterResult {
	p, err := analyzer.ProbabilityOfProfit(s)
	if err != nil {
		return models.FailErr(models.FilterProbability, err)
	}
	if p < c.MinProbability {
		return models.Fail(models.FilterProbability, "probability of profit %.0f%% below minimum %.0f%%", p*100, c.MinProbability*100)
	}
	return models.Pass(models.FilterProbability)
}

var registry = map[models.FilterName]Filter{
	models.FilterLiquidity:     Liquidity,
	models.FilterDTE:           DTE,
	models.FilterSpreadWidth:   SpreadWidth,
	models.FilterBidAsk:        BidAsk,
	models.FilterRiskReward:    RiskReward,
	models.FilterIVPercentile:  IVPercentile,
	models.FilterDelta:         Delta,
	models.FilterTheta:         Theta,
	models.FilterExpectedValue: ExpectedValue,
	models.FilterProbability:   Probability,
}

// All lists every filter name in canonical order.
func All() []models.FilterName {
	return []models.FilterName{
		models.FilterLiquidity,
		models.FilterDTE,
		models.FilterSpreadWidth,
		models.FilterBidAsk,
		models.FilterRiskReward,
		models.FilterIVPercentile,
		models.FilterDelta,
		models.FilterTheta,
		models.FilterExpectedValue,
		models.FilterProbability,
	}
}

// Lookup returns the filter registered under name.
func Lookup(name models.FilterName) (Filter, bool) {
	f, ok := registry[name]
	return f, ok
}

// Registry returns a copy of the name to filter map.
func Registry() map[models.FilterName]Filter {
	out := make(map[models.FilterName]Filter, len(registry))
	for k, v := range registry {
		out[k] = v
	}
	return out
}

// Failed evaluates all ten filters without short-circuiting and returns the
// names of those that fail.
func Failed(s *models.CreditSpread, c models.ScreeningCriteria) []models.FilterName {
	var failed []models.FilterName
	for _, name := range All() {
		if r := registry[name](s, c); !r.Passed {
			failed = append(failed, name)
		}
	}
	return failed
}
