package models

import (
	"fmt"
	"math"
	"sort"

	"github.com/xhhuango/json"
)

// FilterName identifies one of the ten screening filters.
type FilterName string

const (
	FilterLiquidity     FilterName = "liquidity"
	FilterDTE           FilterName = "dte"
	FilterSpreadWidth   FilterName = "spread_width"
	FilterBidAsk        FilterName = "bid_ask"
	FilterRiskReward    FilterName = "risk_reward"
	FilterIVPercentile  FilterName = "iv_percentile"
	FilterDelta         FilterName = "delta"
	FilterTheta         FilterName = "theta"
	FilterExpectedValue FilterName = "expected_value"
	FilterProbability   FilterName = "probability"
)

// FilterResult is the outcome of one filter on one spread. Reason is set
// only on failure; Err carries the underlying error when the failure came
// from missing data.
type FilterResult struct {
	Filter FilterName `json:"filter"`
	Passed bool       `json:"passed"`
	Reason string     `json:"reason,omitempty"`
	Err    error      `json:"-"`
}

// Pass builds a passing result.
func Pass(name FilterName) FilterResult {
	return FilterResult{Filter: name, Passed: true}
}

// Fail builds a failing result with a formatted reason.
func Fail(name FilterName, format string, args ...interface{}) FilterResult {
	return FilterResult{Filter: name, Reason: fmt.Sprintf(format, args...)}
}

// FailErr builds a failing result from an error, typically a *MissingDataError.
func FailErr(name FilterName, err error) FilterResult {
	return FilterResult{Filter: name, Reason: err.Error(), Err: err}
}

// Decision is the state of a candidate in the screening state machine.
type Decision string

const (
	Pending  Decision = "pending"
	Accepted Decision = "accepted"
	Rejected Decision = "rejected"
)

// Mode selects which engine produced a result.
type Mode string

const (
	ModeDisciplined Mode = "disciplined"
	ModeRanked      Mode = "ranked"
)

// Metrics are the raw analyzer outputs for a spread.
type Metrics struct {
	IVPercentile    float64 `json:"iv_percentile"`
	ThetaEfficiency float64 `json:"theta_efficiency"`
	Probability     float64 `json:"probability"`
	ExpectedValue   float64 `json:"expected_value"`
	ReturnOnCapital float64 `json:"return_on_capital"`
	AnnualizedTheta float64 `json:"annualized_theta"`
}

// MarshalJSON encodes an unbounded theta efficiency as null.
func (m Metrics) MarshalJSON() ([]byte, error) {
	type alias Metrics
	out := struct {
		alias
		ThetaEfficiency *float64 `json:"theta_efficiency"`
	}{alias: alias(m)}
	if !math.IsInf(m.ThetaEfficiency, 0) && !math.IsNaN(m.ThetaEfficiency) {
		v := m.ThetaEfficiency
		out.ThetaEfficiency = &v
	}
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON: a null theta efficiency is +Inf.
func (m *Metrics) UnmarshalJSON(data []byte) error {
	type alias Metrics
	var in struct {
		alias
		ThetaEfficiency *float64 `json:"theta_efficiency"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*m = Metrics(in.alias)
	if in.ThetaEfficiency != nil {
		m.ThetaEfficiency = *in.ThetaEfficiency
	} else {
		m.ThetaEfficiency = math.Inf(1)
	}
	return nil
}

// Scores are the normalized [0,1] components of a composite score.
type Scores struct {
	IV              float64 `json:"iv"`
	Theta           float64 `json:"theta"`
	SpreadQuality   float64 `json:"spread_quality"`
	ExpectedValue   float64 `json:"expected_value"`
	Probability     float64 `json:"probability"`
	Liquidity       float64 `json:"liquidity"`
	ReturnOnCapital float64 `json:"return_on_capital"`
}

// RankedSpread is one scored candidate. Index is the candidate's position
// in the submitted batch.
type RankedSpread struct {
	Rank       int           `json:"rank"`
	Index      int           `json:"index"`
	Spread     *CreditSpread `json:"spread"`
	Score      float64       `json:"score"`
	Components Scores        `json:"components"`
	Metrics    Metrics       `json:"metrics"`
}

// Evaluation is what either engine produces for a single candidate.
// Trail lists every filter evaluated, in order.
type Evaluation struct {
	Index    int
	Spread   *CreditSpread
	Decision Decision
	Trail    []FilterResult
	Ranked   *RankedSpread
}

// Failure returns the result that rejected the candidate, if any.
func (e Evaluation) Failure() (FilterResult, bool) {
	for _, r := range e.Trail {
		if !r.Passed {
			return r, true
		}
	}
	return FilterResult{}, false
}

// Rejection records a rejected candidate and the single filter that owns it.
type Rejection struct {
	Index  int            `json:"index"`
	Spread *CreditSpread  `json:"spread"`
	Filter FilterName     `json:"filter"`
	Reason string         `json:"reason"`
	Trail  []FilterResult `json:"trail"`
}

// ScreeningResult is the aggregate output of one screening call.
// Accepted keeps input order; Ranked is sorted by score.
type ScreeningResult struct {
	Mode           Mode               `json:"mode"`
	Criteria       string             `json:"criteria"`
	Total          int                `json:"total"`
	Passed         int                `json:"passed"`
	Accepted       []*CreditSpread    `json:"accepted,omitempty"`
	Ranked         []RankedSpread     `json:"ranked,omitempty"`
	Rejected       []Rejection        `json:"rejected"`
	RejectionStats map[FilterName]int `json:"rejection_stats"`
}

// PassRate is the share of candidates that passed, as a percentage.
func (r *ScreeningResult) PassRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Passed) / float64(r.Total) * 100
}

// FilterCount pairs a filter with its rejection count.
type FilterCount struct {
	Filter FilterName
	Count  int
}

// TopRejections returns rejection stats sorted by count descending, then name.
func (r *ScreeningResult) TopRejections() []FilterCount {
	out := make([]FilterCount, 0, len(r.RejectionStats))
	for f, n := range r.RejectionStats {
		out = append(out, FilterCount{Filter: f, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Filter < out[j].Filter
	})
	return out
}

// NewRejection builds a Rejection from a rejected evaluation.
func NewRejection(e Evaluation) Rejection {
	rej := Rejection{Index: e.Index, Spread: e.Spread, Trail: e.Trail}
	if f, ok := e.Failure(); ok {
		rej.Filter = f.Filter
		rej.Reason = f.Reason
	}
	return rej
}
