// Package screener implements the disciplined screener: a fixed sequence of
// nine hard filters applied fail-fast to each candidate. A candidate moves
// from pending to accepted when every filter passes, or to rejected at the
// first failure, which then owns the rejection.
package screener

import (
	"errors"
	"fmt"

	"github.com/rewired-gh/cso/internal/analyzer"
	"github.com/rewired-gh/cso/internal/filters"
	"github.com/rewired-gh/cso/internal/models"
)

// OrderLength is the number of filters the screener applies.
const OrderLength = 9

// DefaultOrder starts with liquidity and ends with expected value. The
// probability filter is not part of the disciplined sequence.
var DefaultOrder = []models.FilterName{
	models.FilterLiquidity,
	models.FilterDTE,
	models.FilterSpreadWidth,
	models.FilterBidAsk,
	models.FilterRiskReward,
	models.FilterIVPercentile,
	models.FilterDelta,
	models.FilterTheta,
	models.FilterExpectedValue,
}

// Screener is immutable after New and safe for concurrent use.
type Screener struct {
	criteria models.ScreeningCriteria
	order    []models.FilterName
	filters  map[models.FilterName]filters.Filter
	market   *analyzer.Context
}

// Option configures a Screener.
type Option func(*Screener)

// WithOrder replaces the filter sequence. New validates it.
func WithOrder(order []models.FilterName) Option {
	return func(s *Screener) {
		s.order = append([]models.FilterName(nil), order...)
	}
}

// WithContext supplies the Greeks provider and IV history used to fill in
// missing metrics.
func WithContext(ctx *analyzer.Context) Option {
	return func(s *Screener) { s.market = ctx }
}

func withFilters(m map[models.FilterName]filters.Filter) Option {
	return func(s *Screener) { s.filters = m }
}

// New validates the criteria and the filter order.
func New(criteria models.ScreeningCriteria, opts ...Option) (*Screener, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	s := &Screener{
		criteria: criteria,
		order:    append([]models.FilterName(nil), DefaultOrder...),
		filters:  filters.Registry(),
		market:   &analyzer.Context{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := ValidateOrder(s.order); err != nil {
		return nil, err
	}
	for _, name := range s.order {
		if _, ok := s.filters[name]; !ok {
			return nil, fmt.Errorf("no filter registered for %q", name)
		}
	}
	return s, nil
}

// ValidateOrder checks that order names nine distinct known filters and
// starts with liquidity.
func ValidateOrder(order []models.FilterName) error {
	if len(order) != OrderLength {
		return fmt.Errorf("filter order must name %d filters, got %d", OrderLength, len(order))
	}
	if order[0] != models.FilterLiquidity {
		return fmt.Errorf("filter order must start with %s, got %s", models.FilterLiquidity, order[0])
	}
	seen := make(map[models.FilterName]bool, len(order))
	for _, name := range order {
		if _, ok := filters.Lookup(name); !ok {
			return fmt.Errorf("unknown filter %q", name)
		}
		if seen[name] {
			return fmt.Errorf("filter %q listed twice", name)
		}
		seen[name] = true
	}
	return nil
}

// Criteria returns the criteria the screener was built with.
func (s *Screener) Criteria() models.ScreeningCriteria { return s.criteria }

// Order returns a copy of the filter sequence.
func (s *Screener) Order() []models.FilterName {
	return append([]models.FilterName(nil), s.order...)
}

// Evaluate runs one candidate through the state machine.
func (s *Screener) Evaluate(index int, spread *models.CreditSpread) models.Evaluation {
	res := analyzer.Resolve(spread, s.market)
	ev := models.Evaluation{
		Index:    index,
		Spread:   res.Spread,
		Decision: models.Pending,
		Trail:    make([]models.FilterResult, 0, len(s.order)),
	}
	for _, name := range s.order {
		r := s.filters[name](res.Spread, s.criteria)
		if !r.Passed {
			r = withCause(r, res)
		}
		ev.Trail = append(ev.Trail, r)
		if !r.Passed {
			ev.Decision = models.Rejected
			return ev
		}
	}
	ev.Decision = models.Accepted
	return ev
}

// Screen evaluates every candidate in order and assembles the result.
func (s *Screener) Screen(spreads []*models.CreditSpread) (*models.ScreeningResult, error) {
	evals := make([]models.Evaluation, len(spreads))
	for i, sp := range spreads {
		if sp == nil {
			return nil, fmt.Errorf("candidate %d is nil", i)
		}
		evals[i] = s.Evaluate(i, sp)
	}
	return s.Assemble(evals), nil
}

// Assemble builds the result from evaluations given in input order.
func (s *Screener) Assemble(evals []models.Evaluation) *models.ScreeningResult {
	result := &models.ScreeningResult{
		Mode:           models.ModeDisciplined,
		Criteria:       s.criteria.Name,
		Total:          len(evals),
		Accepted:       []*models.CreditSpread{},
		Rejected:       []models.Rejection{},
		RejectionStats: make(map[models.FilterName]int),
	}
	for _, e := range evals {
		switch e.Decision {
		case models.Accepted:
			result.Accepted = append(result.Accepted, e.Spread)
		case models.Rejected:
			rej := models.NewRejection(e)
			result.Rejected = append(result.Rejected, rej)
			result.RejectionStats[rej.Filter]++
		}
	}
	result.Passed = len(result.Accepted)
	return result
}

// withCause attaches the resolution failure to a missing-data rejection so
// the reason says why the metric could not be computed.
func withCause(r models.FilterResult, res analyzer.Resolution) models.FilterResult {
	var md *models.MissingDataError
	if !errors.As(r.Err, &md) || md.Cause != nil {
		return r
	}
	if _, ok := res.Failures[md.Field]; !ok {
		return r
	}
	return models.FailErr(r.Filter, res.MissingError(md.Field))
}
