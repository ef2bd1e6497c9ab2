package engine

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rewired-gh/cso/internal/analyzer"
	"github.com/rewired-gh/cso/internal/greeks"
	"github.com/rewired-gh/cso/internal/models"
	"github.com/rewired-gh/cso/internal/optimizer"
	"github.com/rewired-gh/cso/internal/screener"
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

// mixedBatch returns n candidates cycling through accepted and several
// rejection causes.
func mixedBatch(t *testing.T, n int) []*models.CreditSpread {
	t.Helper()
	mutators := []func(p *models.SpreadParams){
		nil,
		func(p *models.SpreadParams) { p.OpenInterest = 10 },
		func(p *models.SpreadParams) { p.IVPercentile = models.Float(80); p.Ticker = "QQQ" },
		func(p *models.SpreadParams) { p.Delta = models.Float(-0.45) },
		func(p *models.SpreadParams) { p.IVPercentile = nil; p.Ticker = "IWM" },
		func(p *models.SpreadParams) { p.Theta = models.Float(0.02) },
	}
	out := make([]*models.CreditSpread, n)
	for i := range out {
		out[i] = build(t, mutators[i%len(mutators)])
	}
	return out
}

func TestScreen_ConcurrentMatchesSequential(t *testing.T) {
	batch := mixedBatch(t, 60)

	seq, err := screener.New(models.Standard())
	if err != nil {
		t.Fatalf("screener.New: %v", err)
	}
	want, err := seq.Screen(batch)
	if err != nil {
		t.Fatalf("Screen: %v", err)
	}

	e, err := New(models.Standard(), Config{Workers: 8})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := e.Screen(context.Background(), batch)
	if err != nil {
		t.Fatalf("Screen: %v", err)
	}
	if !reflect.DeepEqual(got.Accepted, want.Accepted) {
		t.Error("accepted differs from sequential screening")
	}
	if len(got.Rejected) != len(want.Rejected) {
		t.Fatalf("rejected %d, want %d", len(got.Rejected), len(want.Rejected))
	}
	for i := range want.Rejected {
		if got.Rejected[i].Index != want.Rejected[i].Index || got.Rejected[i].Reason != want.Rejected[i].Reason {
			t.Errorf("rejection %d differs: %+v vs %+v", i, got.Rejected[i], want.Rejected[i])
		}
	}
	if !reflect.DeepEqual(got.RejectionStats, want.RejectionStats) {
		t.Errorf("RejectionStats = %v, want %v", got.RejectionStats, want.RejectionStats)
	}
}

func TestRank_ConcurrentMatchesSequential(t *testing.T) {
	batch := mixedBatch(t, 48)

	o, err := optimizer.New(models.Standard(), models.DefaultWeights())
	if err != nil {
		t.Fatalf("optimizer.New: %v", err)
	}
	want, _ := o.Rank(batch, 10)

	e, err := New(models.Standard(), Config{Workers: 6})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for run := 0; run < 3; run++ {
		got, err := e.Rank(context.Background(), batch, nil, 10)
		if err != nil {
			t.Fatalf("Rank: %v", err)
		}
		if !reflect.DeepEqual(got.Ranked, want.Ranked) {
			t.Fatalf("run %d: ranking differs from sequential ranking", run)
		}
	}
}

func TestRank_InvalidWeights(t *testing.T) {
	e, _ := New(models.Standard(), Config{})
	_, err := e.Rank(context.Background(), mixedBatch(t, 2), &models.Weights{IV: 2}, 0)
	var iwe *models.InvalidWeightsError
	if !errors.As(err, &iwe) {
		t.Errorf("Rank error = %v, want InvalidWeightsError", err)
	}
}

func TestProgress(t *testing.T) {
	var mu sync.Mutex
	var calls, last int
	e, err := New(models.Standard(), Config{
		Workers: 4,
		Progress: func(done, total int) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if done > last {
				last = done
			}
			if total != 25 {
				t.Errorf("total = %d, want 25", total)
			}
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.Screen(context.Background(), mixedBatch(t, 25)); err != nil {
		t.Fatalf("Screen: %v", err)
	}
	if calls != 25 || last != 25 {
		t.Errorf("progress calls = %d, last = %d; want 25, 25", calls, last)
	}
}

func TestScreen_CancelledContext(t *testing.T) {
	e, _ := New(models.Standard(), Config{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Screen(ctx, mixedBatch(t, 5)); !errors.Is(err, context.Canceled) {
		t.Errorf("Screen error = %v, want context.Canceled", err)
	}
}

func TestScreen_NilCandidate(t *testing.T) {
	e, _ := New(models.Standard(), Config{})
	if _, err := e.Screen(context.Background(), []*models.CreditSpread{build(t, nil), nil}); err == nil {
		t.Error("expected error for nil candidate")
	}
}

func TestNew_Invalid(t *testing.T) {
	bad := models.Standard()
	bad.MinDTE = 90
	if _, err := New(bad, Config{}); err == nil {
		t.Error("expected criteria error")
	}
	if _, err := New(models.Standard(), Config{Order: []models.FilterName{models.FilterDTE}}); err == nil {
		t.Error("expected order error")
	}
}

func TestRankByTicker(t *testing.T) {
	e, _ := New(models.Standard(), Config{Workers: 3})
	var batch []*models.CreditSpread
	for _, tc := range []struct {
		ticker string
		ivp    float64
	}{
		{"QQQ", 50}, {"SPY", 60}, {"QQQ", 90}, {"SPY", 95}, {"QQQ", 70}, {"IWM", 55},
	} {
		tc := tc
		batch = append(batch, build(t, func(p *models.SpreadParams) {
			p.Ticker = tc.ticker
			p.IVPercentile = models.Float(tc.ivp)
		}))
	}
	got, err := e.RankByTicker(context.Background(), batch, nil, 2)
	if err != nil {
		t.Fatalf("RankByTicker: %v", err)
	}
	tickers := []string{"QQQ", "SPY", "IWM"}
	if len(got) != len(tickers) {
		t.Fatalf("got %d tickers, want %d", len(got), len(tickers))
	}
	for i, tk := range tickers {
		if got[i].Ticker != tk {
			t.Errorf("ticker %d = %s, want %s", i, got[i].Ticker, tk)
		}
	}
	qqq := got[0].Result
	if qqq.Total != 3 || len(qqq.Ranked) != 2 {
		t.Fatalf("QQQ total/ranked = %d/%d, want 3/2", qqq.Total, len(qqq.Ranked))
	}
	if qqq.Ranked[0].Index != 2 || qqq.Ranked[1].Index != 4 {
		t.Errorf("QQQ order = %d, %d; want 2, 4", qqq.Ranked[0].Index, qqq.Ranked[1].Index)
	}
}

func TestScreen_BlackScholesFillsMissingData(t *testing.T) {
	sp := build(t, func(p *models.SpreadParams) {
		p.Ticker = "QQQ"
		p.Short = models.Leg{Strike: 460, Bid: 3.20, Ask: 3.30}
		p.Long = models.Leg{Strike: 455, Bid: 2.10, Ask: 2.20}
		p.Credit = 1.00
		p.IVPercentile = nil
		p.Delta = nil
		p.Theta = nil
		p.ImpliedVol = models.Float(0.23)
		p.UnderlyingPrice = 490
	})
	e, err := New(models.Aggressive(), Config{
		Workers: 2,
		Market: &analyzer.Context{
			Provider:  greeks.New(0.04),
			IVHistory: map[string][]float64{"QQQ": {0.16, 0.18, 0.20, 0.21, 0.25, 0.27}},
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result, err := e.Screen(context.Background(), []*models.CreditSpread{sp})
	if err != nil {
		t.Fatalf("Screen: %v", err)
	}

	var resolved *models.CreditSpread
	if len(result.Accepted) == 1 {
		resolved = result.Accepted[0]
	} else {
		rej := result.Rejected[0]
		if strings.Contains(rej.Reason, "missing") {
			t.Fatalf("rejected for missing data despite provider: %s", rej.Reason)
		}
		resolved = rej.Spread
	}
	if resolved.Delta == nil || resolved.Theta == nil || resolved.IVPercentile == nil {
		t.Fatalf("provider did not fill greeks: %+v", resolved)
	}
	if *resolved.Delta >= 0 {
		t.Errorf("put short delta = %v, want negative", *resolved.Delta)
	}
	// 0.23 sits above four of six history points
	if got := *resolved.IVPercentile; got < 66 || got > 67 {
		t.Errorf("IV percentile = %v, want ~66.7", got)
	}
	if sp.Delta != nil {
		t.Error("input spread was modified")
	}
}
