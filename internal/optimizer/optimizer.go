// Package optimizer ranks candidates that pass a baseline liquidity and DTE
// check by a weighted composite of normalized metrics.
package optimizer

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rewired-gh/cso/internal/analyzer"
	"github.com/rewired-gh/cso/internal/filters"
	"github.com/rewired-gh/cso/internal/models"
)

// Normalization ceilings.
const (
	// ThetaEfficiencyCeiling maps 2% of max loss per day to a full score.
	ThetaEfficiencyCeiling = 0.02
	// SpreadCostCeiling is the slippage-to-credit ratio that scores zero.
	SpreadCostCeiling = 0.10
	// LiquidityCeiling is the open interest (or ten times volume) that
	// scores a full liquidity component.
	LiquidityCeiling = 5000.0
	// ROCCeiling is the monthly return on capital, in percent, that scores
	// a full component.
	ROCCeiling = 20.0
	// ScoreEpsilon is the distance under which two scores tie.
	ScoreEpsilon = 1e-9
)

// Baseline lists the filters a candidate must pass to be ranked.
var Baseline = []models.FilterName{models.FilterLiquidity, models.FilterDTE}

// Optimizer is immutable after New and safe for concurrent use.
type Optimizer struct {
	criteria models.ScreeningCriteria
	weights  models.Weights
	market   *analyzer.Context
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithContext supplies the Greeks provider and IV history used to fill in
// missing metrics.
func WithContext(ctx *analyzer.Context) Option {
	return func(o *Optimizer) { o.market = ctx }
}

// New validates criteria and weights.
func New(criteria models.ScreeningCriteria, weights models.Weights, opts ...Option) (*Optimizer, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	o := &Optimizer{criteria: criteria, weights: weights, market: &analyzer.Context{}}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Weights returns the weight vector in use.
func (o *Optimizer) Weights() models.Weights { return o.weights }

// Evaluate scores one candidate. Candidates failing the baseline, or
// missing a metric, are rejected.
func (o *Optimizer) Evaluate(index int, spread *models.CreditSpread) models.Evaluation {
	ev := models.Evaluation{Index: index, Spread: spread, Decision: models.Pending}
	for _, name := range Baseline {
		f, _ := filters.Lookup(name)
		r := f(spread, o.criteria)
		ev.Trail = append(ev.Trail, r)
		if !r.Passed {
			ev.Decision = models.Rejected
			return ev
		}
	}

	res := analyzer.Resolve(spread, o.market)
	ev.Spread = res.Spread
	metrics, err := analyzer.Analyze(res.Spread)
	if err != nil {
		ev.Trail = append(ev.Trail, missingResult(err, res))
		ev.Decision = models.Rejected
		return ev
	}

	components := Normalize(res.Spread, metrics)
	ev.Ranked = &models.RankedSpread{
		Index:      index,
		Spread:     res.Spread,
		Score:      Composite(components, o.weights),
		Components: components,
		Metrics:    metrics,
	}
	ev.Decision = models.Accepted
	return ev
}

// Rank scores every candidate, sorts the survivors and keeps the top n.
// n <= 0 keeps all.
func (o *Optimizer) Rank(spreads []*models.CreditSpread, n int) (*models.ScreeningResult, error) {
	evals := make([]models.Evaluation, len(spreads))
	for i, sp := range spreads {
		if sp == nil {
			return nil, fmt.Errorf("candidate %d is nil", i)
		}
		evals[i] = o.Evaluate(i, sp)
	}
	return o.Assemble(evals, n), nil
}

// Assemble sorts scored evaluations and builds the result. evals must be
// in input order; ranking itself is sequential.
func (o *Optimizer) Assemble(evals []models.Evaluation, n int) *models.ScreeningResult {
	result := &models.ScreeningResult{
		Mode:           models.ModeRanked,
		Criteria:       o.criteria.Name,
		Total:          len(evals),
		Rejected:       []models.Rejection{},
		RejectionStats: make(map[models.FilterName]int),
	}
	var ranked []models.RankedSpread
	for _, e := range evals {
		switch e.Decision {
		case models.Accepted:
			ranked = append(ranked, *e.Ranked)
		case models.Rejected:
			rej := models.NewRejection(e)
			result.Rejected = append(result.Rejected, rej)
			result.RejectionStats[rej.Filter]++
		}
	}
	result.Passed = len(ranked)
	result.Ranked = TopN(ranked, n)
	return result
}

// TopN sorts items and truncates to n, assigning 1-based ranks. n <= 0
// keeps all.
func TopN(items []models.RankedSpread, n int) []models.RankedSpread {
	out := append([]models.RankedSpread(nil), items...)
	sortRanked(out)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	if out == nil {
		out = []models.RankedSpread{}
	}
	return out
}

// sortRanked orders by score descending. Scores that round to the same
// multiple of ScoreEpsilon tie and fall back to higher EV, then lower max
// loss, then input index.
func sortRanked(items []models.RankedSpread) {
	sort.SliceStable(items, func(i, j int) bool {
		return Compare(items[i], items[j]) < 0
	})
}

// Compare returns -1 when a ranks ahead of b, 1 when b ranks ahead, and 0
// only for the same input index.
func Compare(a, b models.RankedSpread) int {
	if qa, qb := quantize(a.Score), quantize(b.Score); qa != qb {
		if qa > qb {
			return -1
		}
		return 1
	}
	if a.Metrics.ExpectedValue != b.Metrics.ExpectedValue {
		if a.Metrics.ExpectedValue > b.Metrics.ExpectedValue {
			return -1
		}
		return 1
	}
	if a.Spread != nil && b.Spread != nil && a.Spread.MaxLoss != b.Spread.MaxLoss {
		if a.Spread.MaxLoss < b.Spread.MaxLoss {
			return -1
		}
		return 1
	}
	switch {
	case a.Index < b.Index:
		return -1
	case a.Index > b.Index:
		return 1
	}
	return 0
}

// Normalize maps metrics onto [0,1]:
//
//	iv:             ivp / 100
//	theta:          efficiency / ThetaEfficiencyCeiling
//	spread quality: 1 - (bid-ask cost / credit) / SpreadCostCeiling
//	expected value: (ev / max loss + 1) / 2
//	probability:    pop
//	liquidity:      min(oi, 10*volume) / LiquidityCeiling
//	roc:            monthly roc / ROCCeiling
//
// Each component is clamped.
func Normalize(s *models.CreditSpread, m models.Metrics) models.Scores {
	var ev float64
	if s.MaxLoss > 0 {
		ev = clamp((m.ExpectedValue/s.MaxLoss+1)/2, 0, 1)
	} else if m.ExpectedValue > 0 {
		ev = 1
	}

	quality := 0.0
	if s.Credit > 0 {
		quality = clamp(1-(s.BidAskCost()/s.Credit)/SpreadCostCeiling, 0, 1)
	}

	liq := math.Min(float64(s.OpenInterest), float64(s.Volume)*10)

	return models.Scores{
		IV:              clamp(m.IVPercentile/100, 0, 1),
		Theta:           clamp(m.ThetaEfficiency/ThetaEfficiencyCeiling, 0, 1),
		SpreadQuality:   quality,
		ExpectedValue:   ev,
		Probability:     clamp(m.Probability, 0, 1),
		Liquidity:       clamp(liq/LiquidityCeiling, 0, 1),
		ReturnOnCapital: clamp(m.ReturnOnCapital/ROCCeiling, 0, 1),
	}
}

// Composite is the weighted sum of the components.
func Composite(s models.Scores, w models.Weights) float64 {
	return s.IV*w.IV +
		s.Theta*w.Theta +
		s.SpreadQuality*w.SpreadQuality +
		s.ExpectedValue*w.ExpectedValue +
		s.Probability*w.Probability +
		s.Liquidity*w.Liquidity +
		s.ReturnOnCapital*w.ReturnOnCapital
}

// missingResult converts an analyzer failure into the filter result owning it.
func missingResult(err error, res analyzer.Resolution) models.FilterResult {
	name := models.FilterExpectedValue
	var md *models.MissingDataError
	if errors.As(err, &md) {
		switch md.Field {
		case analyzer.FieldIVPercentile:
			name = models.FilterIVPercentile
		case analyzer.FieldTheta:
			name = models.FilterTheta
		case analyzer.FieldDelta:
			name = models.FilterDelta
		}
		if _, ok := res.Failures[md.Field]; ok {
			err = res.MissingError(md.Field)
		}
	}
	return models.FailErr(name, err)
}

// quantize snaps a score to its ScoreEpsilon bucket so that ties are
// transitive.
func quantize(score float64) float64 {
	return math.Round(score / ScoreEpsilon)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
