package report

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/cso/internal/models"
)

var asOf = time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

func build(t *testing.T, mutate func(p *models.SpreadParams)) *models.CreditSpread {
	t.Helper()
	p := models.SpreadParams{
		Ticker:       "SPY",
		Type:         models.BullPut,
		Short:        models.Leg{Strike: 440, Bid: 2.10, Ask: 2.15},
		Long:         models.Leg{Strike: 435, Bid: 0.60, Ask: 0.65},
		Expiration:   asOf.AddDate(0, 0, 35),
		AsOf:         asOf,
		Credit:       1.50,
		IVPercentile: models.Float(72),
		Delta:        models.Float(-0.18),
		Theta:        models.Float(0.05),
		OpenInterest: 5000,
		Volume:       800,
	}
	if mutate != nil {
		mutate(&p)
	}
	s, err := models.NewCreditSpread(p)
	if err != nil {
		t.Fatalf("NewCreditSpread: %v", err)
	}
	return s
}

func TestRecommend_ExitPlanBands(t *testing.T) {
	s := build(t, nil)
	tests := []struct {
		pop  float64
		want string
	}{
		{0.85, "High probability trade"},
		{0.80, "Standard trade"},
		{0.75, "Standard trade"},
		{0.70, "Moderate probability"},
		{0.55, "Moderate probability"},
	}
	for _, tt := range tests {
		rec := Recommend(s, models.Metrics{Probability: tt.pop}, 0)
		if !strings.HasPrefix(rec.ExitPlan, tt.want) {
			t.Errorf("pop %.2f: exit plan = %q, want prefix %q", tt.pop, rec.ExitPlan, tt.want)
		}
	}

	if rec := Recommend(s, models.Metrics{Probability: 0.9}, 0); !strings.Contains(rec.ExitPlan, "$3.00 loss") {
		t.Errorf("2x stop = %q", rec.ExitPlan)
	}
	if rec := Recommend(s, models.Metrics{Probability: 0.5}, 0); !strings.Contains(rec.ExitPlan, "$2.25 loss") {
		t.Errorf("1.5x stop = %q", rec.ExitPlan)
	}
}

func TestRecommend_WorstCase(t *testing.T) {
	s := build(t, nil)
	rec := Recommend(s, models.Metrics{Probability: 0.82}, 0.7)
	if rec.Breakeven != 438.5 || rec.MaxLoss != 3.5 || rec.MaxProfit != 1.5 {
		t.Errorf("breakeven/max loss/max profit = %v/%v/%v", rec.Breakeven, rec.MaxLoss, rec.MaxProfit)
	}
	want := "Underlying moves beyond $438.50. Max loss: $3.50. This occurs in ~18% of cases."
	if rec.WorstCase != want {
		t.Errorf("WorstCase = %q, want %q", rec.WorstCase, want)
	}
	if rec.Score != 0.7 {
		t.Errorf("Score = %v", rec.Score)
	}
}

func TestRationale(t *testing.T) {
	tests := []struct {
		name    string
		metrics models.Metrics
		want    []string
		notWant []string
	}{
		{
			name:    "all strengths",
			metrics: models.Metrics{IVPercentile: 72, ExpectedValue: 0.60, ThetaEfficiency: 0.0143, ReturnOnCapital: 14.7},
			want:    []string{"IV at 72th percentile", "Strong positive EV ($0.60)", "theta efficiency (1.43%)", "High ROC (14.7%/month)"},
		},
		{
			name:    "unbounded theta",
			metrics: models.Metrics{ThetaEfficiency: math.Inf(1)},
			want:    []string{"Riskless theta decay"},
		},
		{
			name:    "nothing notable",
			metrics: models.Metrics{IVPercentile: 70, ExpectedValue: 0.10, ThetaEfficiency: 0.01, ReturnOnCapital: 10},
			want:    []string{"Meets all minimum criteria"},
			notWant: []string{"IV at", "EV", "ROC"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rationale(tt.metrics)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("rationale %q missing %q", got, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(got, w) {
					t.Errorf("rationale %q should not contain %q", got, w)
				}
			}
		})
	}
}

func TestRecommendations(t *testing.T) {
	t.Run("disciplined computes metrics", func(t *testing.T) {
		r := &models.ScreeningResult{
			Mode:     models.ModeDisciplined,
			Accepted: []*models.CreditSpread{build(t, nil), build(t, func(p *models.SpreadParams) { p.Delta = nil })},
		}
		recs := Recommendations(r)
		if len(recs) != 1 {
			t.Fatalf("got %d recommendations, want 1 (missing delta skipped)", len(recs))
		}
		if math.Abs(recs[0].Probability-0.82) > 1e-9 {
			t.Errorf("probability = %v, want 0.82", recs[0].Probability)
		}
		if math.Abs(recs[0].Metrics.ExpectedValue-0.60) > 1e-9 {
			t.Errorf("EV = %v, want 0.60", recs[0].Metrics.ExpectedValue)
		}
	})

	t.Run("ranked keeps rank order", func(t *testing.T) {
		a := build(t, nil)
		b := build(t, func(p *models.SpreadParams) { p.Ticker = "QQQ" })
		r := &models.ScreeningResult{
			Mode: models.ModeRanked,
			Ranked: []models.RankedSpread{
				{Rank: 1, Index: 1, Spread: b, Score: 0.9, Metrics: models.Metrics{Probability: 0.85}},
				{Rank: 2, Index: 0, Spread: a, Score: 0.5, Metrics: models.Metrics{Probability: 0.75}},
			},
		}
		recs := Recommendations(r)
		if len(recs) != 2 || recs[0].Spread.Ticker != "QQQ" || recs[0].Score != 0.9 {
			t.Errorf("recommendations = %+v", recs)
		}
	})
}

func TestSummary(t *testing.T) {
	r := &models.ScreeningResult{
		Mode:     models.ModeDisciplined,
		Criteria: "standard",
		Total:    4,
		Passed:   1,
		Accepted: []*models.CreditSpread{build(t, nil)},
		RejectionStats: map[models.FilterName]int{
			models.FilterLiquidity: 2,
			models.FilterDelta:     1,
		},
	}
	out := Summary(r)
	for _, want := range []string{
		"SCREENING SUMMARY: standard (disciplined)",
		"Total Candidates: 4",
		"Passed Filters:   1 (25.0%)",
		"liquidity           :   2 spreads",
		"Top 1 Spreads:",
		"1. SPY bull_put 440/435",
		"EV: $0.60 | ROC: 14.7% | P(profit): 82%",
		"Credit: $1.50 | Max Loss: $3.50 | Theta: $0.05/day",
		"Exit: High probability trade",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "liquidity") > strings.Index(out, "delta") {
		t.Error("rejections should be listed by count descending")
	}

	empty := Summary(&models.ScreeningResult{Mode: models.ModeRanked, Criteria: "aggressive", Total: 2})
	if !strings.Contains(empty, "No spreads passed.") {
		t.Errorf("empty summary = %s", empty)
	}
}

func TestDiagnose(t *testing.T) {
	twoFailures := build(t, func(p *models.SpreadParams) {
		p.OpenInterest = 10
		p.IVPercentile = models.Float(10)
	})
	oneFailure := build(t, func(p *models.SpreadParams) { p.OpenInterest = 10 })
	r := &models.ScreeningResult{
		Mode:     models.ModeDisciplined,
		Criteria: "standard",
		Total:    3,
		Passed:   1,
		Accepted: []*models.CreditSpread{build(t, nil)},
		Rejected: []models.Rejection{
			{Index: 1, Spread: twoFailures, Filter: models.FilterLiquidity},
			{Index: 2, Spread: oneFailure, Filter: models.FilterLiquidity},
		},
	}

	got := Diagnose(r, models.Standard())
	if len(got) != 2 {
		t.Fatalf("Diagnose() returned %d entries, want 2", len(got))
	}
	if len(got[0].AlsoFails) != 1 || got[0].AlsoFails[0] != models.FilterIVPercentile {
		t.Errorf("index 1 also fails %v, want [iv_percentile]", got[0].AlsoFails)
	}
	if len(got[1].AlsoFails) != 0 {
		t.Errorf("index 2 also fails %v, want none", got[1].AlsoFails)
	}

	text := Diagnostics(got)
	if !strings.Contains(text, "#1 SPY bull_put 440/435") || !strings.Contains(text, "liquidity, also iv_percentile") {
		t.Errorf("Diagnostics() = %q", text)
	}
	if strings.Contains(text, "#2 ") {
		t.Errorf("single-failure spread listed: %q", text)
	}

	if Diagnose(&models.ScreeningResult{Mode: models.ModeRanked}, models.Standard()) != nil {
		t.Error("ranked results have no diagnostics")
	}
	if Diagnostics(nil) != "" {
		t.Error("empty diagnostics should format to nothing")
	}
}
