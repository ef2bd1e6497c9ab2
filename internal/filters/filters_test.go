package filters

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/cso/internal/models"
)

var asOf = time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

func spread(t *testing.T, mutate func(p *models.SpreadParams)) *models.CreditSpread {
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

func TestFilters(t *testing.T) {
	c := models.Standard()
	tests := []struct {
		name        string
		filter      Filter
		mutate      func(p *models.SpreadParams)
		wantPass    bool
		wantReason  string
		wantMissing bool
	}{
		{"liquidity pass", Liquidity, nil, true, "", false},
		{"liquidity low oi", Liquidity, func(p *models.SpreadParams) { p.OpenInterest = 10 }, false, "open interest 10", false},
		{"liquidity low volume", Liquidity, func(p *models.SpreadParams) { p.Volume = 5 }, false, "volume 5", false},
		{"dte pass", DTE, nil, true, "", false},
		{"dte too short", DTE, func(p *models.SpreadParams) { p.Expiration = asOf.AddDate(0, 0, 5) }, false, "5 DTE", false},
		{"dte too long", DTE, func(p *models.SpreadParams) { p.Expiration = asOf.AddDate(0, 0, 90) }, false, "90 DTE", false},
		{"dte at bound", DTE, func(p *models.SpreadParams) { p.Expiration = asOf.AddDate(0, 0, 60) }, true, "", false},
		{"width pass", SpreadWidth, nil, true, "", false},
		{"width too wide", SpreadWidth, func(p *models.SpreadParams) { p.Long.Strike = 420 }, false, "width 20.00", false},
		{"bid-ask pass", BidAsk, nil, true, "", false},
		{"bid-ask wide long leg", BidAsk, func(p *models.SpreadParams) { p.Long.Ask = 0.90 }, false, "long leg", false},
		{"bid-ask unquoted", BidAsk, func(p *models.SpreadParams) { p.Long = models.Leg{Strike: 435} }, false, "quote", true},
		{"risk reward pass", RiskReward, nil, true, "", false},
		{"risk reward low", RiskReward, func(p *models.SpreadParams) { p.Credit = 0.50 }, false, "risk/reward 0.11", false},
		{"ivp pass", IVPercentile, nil, true, "", false},
		{"ivp low", IVPercentile, func(p *models.SpreadParams) { p.IVPercentile = models.Float(20) }, false, "IV percentile 20", false},
		{"ivp missing", IVPercentile, func(p *models.SpreadParams) { p.IVPercentile = nil }, false, "missing iv_percentile", true},
		{"delta pass", Delta, nil, true, "", false},
		{"delta too high", Delta, func(p *models.SpreadParams) { p.Delta = models.Float(-0.45) }, false, "delta 0.45", false},
		{"delta too low", Delta, func(p *models.SpreadParams) { p.Delta = models.Float(-0.02) }, false, "delta 0.02", false},
		{"delta missing", Delta, func(p *models.SpreadParams) { p.Delta = nil }, false, "missing delta", true},
		{"theta pass", Theta, nil, true, "", false},
		{"theta low", Theta, func(p *models.SpreadParams) { p.Theta = models.Float(0.001) }, false, "theta 0.001", false},
		{"theta negative", Theta, func(p *models.SpreadParams) { p.Theta = models.Float(-0.02) }, false, "theta -0.020", false},
		{"theta missing", Theta, func(p *models.SpreadParams) { p.Theta = nil }, false, "missing theta", true},
		{"ev pass", ExpectedValue, nil, true, "", false},
		{"ev negative", ExpectedValue, func(p *models.SpreadParams) { p.Delta = models.Float(-0.40) }, false, "not positive", false},
		{"ev missing delta", ExpectedValue, func(p *models.SpreadParams) { p.Delta = nil }, false, "missing delta", true},
		{"probability pass", Probability, nil, true, "", false},
		{"probability low", Probability, func(p *models.SpreadParams) { p.Delta = models.Float(-0.45) }, false, "55%", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.filter(spread(t, tt.mutate), c)
			if got.Passed != tt.wantPass {
				t.Fatalf("Passed = %v, want %v (reason %q)", got.Passed, tt.wantPass, got.Reason)
			}
			if tt.wantPass {
				if got.Reason != "" {
					t.Errorf("passing result has reason %q", got.Reason)
				}
				return
			}
			if !strings.Contains(got.Reason, tt.wantReason) {
				t.Errorf("Reason = %q, want it to contain %q", got.Reason, tt.wantReason)
			}
			var md *models.MissingDataError
			if isMissing := errors.As(got.Err, &md); isMissing != tt.wantMissing {
				t.Errorf("missing data = %v, want %v (err %v)", isMissing, tt.wantMissing, got.Err)
			}
		})
	}
}

func TestExpectedValue_Minimum(t *testing.T) {
	c := models.Conservative()
	c.MinExpectedValue = 1.0
	r := ExpectedValue(spread(t, nil), c)
	if r.Passed {
		t.Fatal("EV 0.60 should fail a 1.00 minimum")
	}
	if !strings.Contains(r.Reason, "below minimum 1.00") {
		t.Errorf("Reason = %q", r.Reason)
	}
}

func TestFilters_AreIndependentOfOrder(t *testing.T) {
	s := spread(t, func(p *models.SpreadParams) { p.OpenInterest = 10 })
	c := models.Standard()
	first := make(map[models.FilterName]models.FilterResult)
	for _, name := range All() {
		f, _ := Lookup(name)
		first[name] = f(s, c)
	}
	names := All()
	for i := len(names) - 1; i >= 0; i-- {
		f, _ := Lookup(names[i])
		if got := f(s, c); got.Passed != first[names[i]].Passed || got.Reason != first[names[i]].Reason {
			t.Errorf("%s changed result when evaluated in reverse order", names[i])
		}
	}
}

func TestRegistry(t *testing.T) {
	if len(All()) != 10 {
		t.Fatalf("All() has %d filters, want 10", len(All()))
	}
	for _, name := range All() {
		if _, ok := Lookup(name); !ok {
			t.Errorf("filter %s not registered", name)
		}
	}
	if _, ok := Lookup("gamma"); ok {
		t.Error("unexpected filter gamma")
	}
	r := Registry()
	delete(r, models.FilterLiquidity)
	if _, ok := Lookup(models.FilterLiquidity); !ok {
		t.Error("Registry() must return a copy")
	}
}

func TestFailed(t *testing.T) {
	s := spread(t, func(p *models.SpreadParams) {
		p.OpenInterest = 10
		p.IVPercentile = models.Float(10)
	})
	got := Failed(s, models.Standard())
	want := []models.FilterName{models.FilterLiquidity, models.FilterIVPercentile}
	if len(got) != len(want) {
		t.Fatalf("Failed() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Failed()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
