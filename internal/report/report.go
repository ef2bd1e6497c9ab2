// Package report turns screening results into trade recommendations and
// plain-text summaries.
package report

import (
	"fmt"
	"math"
	"strings"

	"github.com/rewired-gh/cso/internal/analyzer"
	"github.com/rewired-gh/cso/internal/filters"
	"github.com/rewired-gh/cso/internal/models"
)

// Rationale thresholds. Dollar amounts are per share.
const (
	RichIVPercentile    = 70
	StrongEV            = 0.10
	HighThetaEfficiency = 0.01
	HighROC             = 10

	highPoP     = 0.80
	standardPoP = 0.70
)

// Recommendation explains one spread: what it can lose, when to exit and
// why it made the list.
type Recommendation struct {
	Spread      *models.CreditSpread `json:"spread"`
	Score       float64              `json:"score,omitempty"`
	Metrics     models.Metrics       `json:"metrics"`
	Breakeven   float64              `json:"breakeven"`
	MaxProfit   float64              `json:"max_profit"`
	MaxLoss     float64              `json:"max_loss"`
	Probability float64              `json:"probability"`
	WorstCase   string               `json:"worst_case"`
	ExitPlan    string               `json:"exit_plan"`
	Rationale   string               `json:"rationale"`
}

// Recommend builds the recommendation for s with its metrics.
func Recommend(s *models.CreditSpread, m models.Metrics, score float64) Recommendation {
	return Recommendation{
		Spread:      s,
		Score:       score,
		Metrics:     m,
		Breakeven:   s.Breakeven(),
		MaxProfit:   s.MaxProfit,
		MaxLoss:     s.MaxLoss,
		Probability: m.Probability,
		WorstCase: fmt.Sprintf("Underlying moves beyond $%.2f. Max loss: $%.2f. This occurs in ~%.0f%% of cases.",
			s.Breakeven(), s.MaxLoss, (1-m.Probability)*100),
		ExitPlan:  exitPlan(s, m.Probability),
		Rationale: rationale(m),
	}
}

func exitPlan(s *models.CreditSpread, pop float64) string {
	switch {
	case pop > highPoP:
		return fmt.Sprintf("High probability trade. Hold to expiry if profit > 75%%. Cut at 2x max profit ($%.2f loss).",
			s.MaxProfit*2)
	case pop > standardPoP:
		return fmt.Sprintf("Standard trade. Take profit at 50%% max gain. Cut at 2x max profit ($%.2f loss).",
			s.MaxProfit*2)
	default:
		return fmt.Sprintf("Moderate probability. Take profit at 30%% max gain. Cut at 1.5x max profit ($%.2f loss).",
			s.MaxProfit*1.5)
	}
}

func rationale(m models.Metrics) string {
	var parts []string
	if m.IVPercentile > RichIVPercentile {
		parts = append(parts, fmt.Sprintf("IV at %.0fth percentile (premium rich)", m.IVPercentile))
	}
	if m.ExpectedValue > StrongEV {
		parts = append(parts, fmt.Sprintf("Strong positive EV ($%.2f)", m.ExpectedValue))
	}
	if m.ThetaEfficiency > HighThetaEfficiency {
		if math.IsInf(m.ThetaEfficiency, 1) {
			parts = append(parts, "Riskless theta decay")
		} else {
			parts = append(parts, fmt.Sprintf("Excellent theta efficiency (%.2f%%)", m.ThetaEfficiency*100))
		}
	}
	if m.ReturnOnCapital > HighROC {
		parts = append(parts, fmt.Sprintf("High ROC (%.1f%%/month)", m.ReturnOnCapital))
	}
	if len(parts) == 0 {
		return "Meets all minimum criteria for a credit spread"
	}
	return strings.Join(parts, "; ")
}

// Recommendations builds one recommendation per passing spread: ranked
// spreads in rank order, or accepted spreads in input order. Accepted
// spreads whose metrics cannot be computed are skipped.
func Recommendations(r *models.ScreeningResult) []Recommendation {
	var out []Recommendation
	if len(r.Ranked) > 0 {
		for _, rs := range r.Ranked {
			out = append(out, Recommend(rs.Spread, rs.Metrics, rs.Score))
		}
		return out
	}
	for _, s := range r.Accepted {
		m, err := analyzer.Analyze(s)
		if err != nil {
			continue
		}
		out = append(out, Recommend(s, m, 0))
	}
	return out
}

// maxSummarized caps the spreads listed in a summary.
const maxSummarized = 5

// Summary renders a human-readable report of r.
func Summary(r *models.ScreeningResult) string {
	rule := strings.Repeat("=", 70)
	var b strings.Builder
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "SCREENING SUMMARY: %s (%s)\n", r.Criteria, r.Mode)
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "Total Candidates: %d\n", r.Total)
	fmt.Fprintf(&b, "Passed Filters:   %d (%.1f%%)\n", r.Passed, r.PassRate())
	fmt.Fprintln(&b)

	if top := r.TopRejections(); len(top) > 0 {
		fmt.Fprintln(&b, "Failed by Filter:")
		for _, fc := range top {
			fmt.Fprintf(&b, "  %-20s: %3d spreads\n", fc.Filter, fc.Count)
		}
		fmt.Fprintln(&b)
	}

	recs := Recommendations(r)
	if len(recs) == 0 {
		fmt.Fprintln(&b, "No spreads passed.")
		return b.String()
	}
	if len(recs) > maxSummarized {
		recs = recs[:maxSummarized]
	}
	fmt.Fprintf(&b, "Top %d Spreads:\n", len(recs))
	fmt.Fprintln(&b, strings.Repeat("-", 70))
	for i, rec := range recs {
		s := rec.Spread
		fmt.Fprintf(&b, "%d. %s\n", i+1, s.Description())
		if r.Mode == models.ModeRanked {
			fmt.Fprintf(&b, "   Score: %.3f | ", rec.Score)
		} else {
			fmt.Fprint(&b, "   ")
		}
		fmt.Fprintf(&b, "EV: $%.2f | ROC: %.1f%% | P(profit): %.0f%%\n",
			rec.Metrics.ExpectedValue, rec.Metrics.ReturnOnCapital, rec.Probability*100)
		theta := 0.0
		if s.Theta != nil {
			theta = *s.Theta
		}
		fmt.Fprintf(&b, "   Credit: $%.2f | Max Loss: $%.2f | Theta: $%.2f/day\n", s.Credit, s.MaxLoss, theta)
		fmt.Fprintf(&b, "   Why: %s\n", rec.Rationale)
		fmt.Fprintf(&b, "   Exit: %s\n", rec.ExitPlan)
		fmt.Fprintln(&b)
	}
	return b.String()
}

// Diagnosis lists every filter a rejected spread fails, not just the one
// that stopped it.
type Diagnosis struct {
	Index     int                 `json:"index"`
	Spread    string              `json:"spread"`
	Filter    models.FilterName   `json:"filter"`
	AlsoFails []models.FilterName `json:"also_fails,omitempty"`
}

// Diagnose re-runs all filters against each rejected spread of a
// disciplined result.
func Diagnose(r *models.ScreeningResult, c models.ScreeningCriteria) []Diagnosis {
	if r == nil || r.Mode != models.ModeDisciplined {
		return nil
	}
	out := make([]Diagnosis, 0, len(r.Rejected))
	for _, rej := range r.Rejected {
		if rej.Spread == nil {
			continue
		}
		d := Diagnosis{Index: rej.Index, Spread: rej.Spread.Description(), Filter: rej.Filter}
		for _, name := range filters.Failed(rej.Spread, c) {
			if name != rej.Filter {
				d.AlsoFails = append(d.AlsoFails, name)
			}
		}
		out = append(out, d)
	}
	return out
}

// Diagnostics formats Diagnose output. Spreads failing a single filter
// are left out.
func Diagnostics(ds []Diagnosis) string {
	var b strings.Builder
	listed := 0
	for _, d := range ds {
		if len(d.AlsoFails) == 0 {
			continue
		}
		if listed == 0 {
			fmt.Fprintln(&b, "Rejected Spreads That Would Also Fail:")
		}
		if listed == maxSummarized {
			fmt.Fprintln(&b, "  ...")
			break
		}
		also := make([]string, len(d.AlsoFails))
		for i, f := range d.AlsoFails {
			also[i] = string(f)
		}
		fmt.Fprintf(&b, "  #%d %s: %s, also %s\n", d.Index, d.Spread, d.Filter, strings.Join(also, ", "))
		listed++
	}
	return b.String()
}
