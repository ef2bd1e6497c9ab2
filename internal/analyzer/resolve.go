package analyzer

import (
	"fmt"
	"math"

	"github.com/rewired-gh/cso/internal/models"
)

// Resolution is a spread with every optional field the context could fill
// in. Failures records why a field is still missing, keyed by field name.
type Resolution struct {
	Spread   *models.CreditSpread
	Failures map[string]error
}

// MissingError returns the MissingDataError for a field, carrying the
// resolution failure as its cause when there is one.
func (r Resolution) MissingError(field string) error {
	return missing(r.Spread, field, r.Failures[field])
}

// Resolve fills delta, theta, implied vol and IV percentile from the context
// when they are absent. The input spread is never modified; a spread that
// needs nothing is returned as is.
func Resolve(s *models.CreditSpread, ctx *Context) Resolution {
	needGreeks := s.Delta == nil || s.Theta == nil || (s.IVPercentile == nil && s.ImpliedVol == nil)
	if !needGreeks && s.IVPercentile != nil {
		return Resolution{Spread: s}
	}

	out := s.Clone()
	failures := make(map[string]error)
	if ctx == nil {
		ctx = &Context{}
	}

	if needGreeks {
		g, err := computeGreeks(out, ctx)
		if err != nil {
			if out.Delta == nil {
				failures[FieldDelta] = err
			}
			if out.Theta == nil {
				failures[FieldTheta] = err
			}
			if out.IVPercentile == nil && out.ImpliedVol == nil {
				failures[FieldIVPercentile] = err
			}
		} else {
			if out.Delta == nil {
				out.Delta = models.Float(g.Delta)
			}
			if out.Theta == nil {
				out.Theta = models.Float(g.Theta)
			}
			if out.ImpliedVol == nil && g.IV > 0 {
				out.ImpliedVol = models.Float(g.IV)
			}
		}
	}

	if out.IVPercentile == nil && out.ImpliedVol != nil {
		hist := ctx.IVHistory[out.Ticker]
		if len(hist) == 0 {
			failures[FieldIVPercentile] = errNoHistory
		} else {
			out.IVPercentile = models.Float(Percentile(*out.ImpliedVol, hist))
			delete(failures, FieldIVPercentile)
		}
	}

	return Resolution{Spread: out, Failures: failures}
}

func computeGreeks(s *models.CreditSpread, ctx *Context) (models.Greeks, error) {
	if ctx.Provider == nil {
		return models.Greeks{}, errNoProvider
	}
	if s.UnderlyingPrice <= 0 {
		return models.Greeks{}, errNoUnderlying
	}
	vol := ctx.Volatility[s.Ticker]
	if s.ImpliedVol != nil {
		vol = *s.ImpliedVol
	}
	// Same-day expirations still carry a few hours of time value.
	t := math.Max(float64(s.DTE), 0.5) / 365
	g, err := ctx.Provider.ComputeGreeks(models.LegsOf(s), s.UnderlyingPrice, vol, t)
	if err != nil {
		return models.Greeks{}, fmt.Errorf("greeks provider: %w", err)
	}
	return g, nil
}
