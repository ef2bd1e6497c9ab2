package candidates

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rewired-gh/cso/internal/models"
)

const yamlBatch = `
as_of: "2025-03-03"
iv_history:
  spy: [0.12, 0.15, 0.18, 0.22, 0.25]
volatility:
  spy: 0.2
spreads:
  - ticker: spy
    type: bull_put
    short: {strike: 440, bid: 2.10, ask: 2.15}
    long: {strike: 435, bid: 0.60, ask: 0.65}
    expiration: "2025-04-07"
    credit: 1.50
    iv_percentile: 72
    delta: -0.18
    theta: 0.05
    open_interest: 5000
    volume: 800
  - ticker: qqq
    type: call-credit
    short: {strike: 500, bid: 3.00, ask: 3.10}
    long: {strike: 505, bid: 1.20, ask: 1.30}
    expiration: "2025-04-07"
    implied_vol: 0.21
    open_interest: 1500
    volume: 300
    underlying_price: 480
  - ticker: iwm
    type: bull_put
    short: {strike: 190, bid: 1.00, ask: 1.05}
    long: {strike: 195, bid: 0.20, ask: 0.25}
    expiration: "2025-04-07"
    credit: 0.80
  - ticker: dia
    type: straddle
    short: {strike: 400, bid: 1, ask: 1.1}
    long: {strike: 395, bid: 0.5, ask: 0.6}
    expiration: "2025-04-07"
    credit: 0.5
`

const jsonBatch = `{
  "as_of": "2025-03-03",
  "spreads": [
    {
      "ticker": "SPY",
      "type": "bear_call",
      "short": {"strike": 460, "bid": 1.80, "ask": 1.85},
      "long": {"strike": 465, "bid": 0.70, "ask": 0.75},
      "expiration": "2025-04-02",
      "credit": 1.05,
      "delta": 0.2,
      "open_interest": 2500,
      "volume": 400
    }
  ]
}`

var asOf = time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

func TestParseYAMLAndBuild(t *testing.T) {
	f, err := Parse([]byte(yamlBatch), FormatYAML)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(f.Spreads) != 4 {
		t.Fatalf("got %d records, want 4", len(f.Spreads))
	}

	spreads, errs, err := f.Build(time.Time{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(spreads) != 2 {
		t.Fatalf("built %d spreads, want 2", len(spreads))
	}
	if len(errs) != 2 {
		t.Fatalf("got %d build errors, want 2", len(errs))
	}

	spy := spreads[0]
	if spy.Ticker != "SPY" || spy.DTE != 35 || spy.Credit != 1.50 {
		t.Errorf("SPY spread = %s", spy.Description())
	}
	if spy.Delta == nil || *spy.Delta != -0.18 {
		t.Errorf("SPY delta = %v", spy.Delta)
	}

	qqq := spreads[1]
	if qqq.Type != models.BearCall {
		t.Errorf("QQQ type = %s, want bear_call", qqq.Type)
	}
	// short.bid - long.ask
	if math.Abs(qqq.Credit-1.70) > 1e-9 {
		t.Errorf("QQQ natural credit = %v, want 1.70", qqq.Credit)
	}
	if qqq.IVPercentile != nil {
		t.Errorf("QQQ iv_percentile should stay unset until resolved")
	}

	wantErrs := []struct {
		index  int
		ticker string
		field  string
	}{
		{2, "IWM", "strike"},
		{3, "DIA", "type"},
	}
	for i, w := range wantErrs {
		e := errs[i]
		if e.Index != w.index || e.Ticker != w.ticker {
			t.Errorf("error %d = %v, want record %d (%s)", i, e, w.index, w.ticker)
		}
		var ise *models.InvalidSpreadError
		if !errors.As(e, &ise) || ise.Field != w.field {
			t.Errorf("error %d = %v, want InvalidSpreadError on %s", i, e, w.field)
		}
	}
}

func TestParseJSON(t *testing.T) {
	f, err := Parse([]byte(jsonBatch), FormatJSON)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	spreads, errs, err := f.Build(asOf)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("unexpected build errors: %v", errs)
	}
	if len(spreads) != 1 || spreads[0].Type != models.BearCall || spreads[0].DTE != 30 {
		t.Errorf("spreads = %+v", spreads)
	}
}

func TestBuildRejectsNonFiniteValues(t *testing.T) {
	f, err := Parse([]byte(`
as_of: "2025-03-03"
spreads:
  - ticker: spy
    type: bull_put
    short: {strike: 440, bid: 2.10, ask: 2.15}
    long: {strike: 435, bid: 0.60, ask: 0.65}
    expiration: "2025-04-07"
    credit: .nan
  - ticker: qqq
    type: bull_put
    short: {strike: .nan, bid: 2.10, ask: 2.15}
    long: {strike: 395, bid: 0.60, ask: 0.65}
    expiration: "2025-04-07"
    credit: 1.50
    delta: .nan
  - ticker: iwm
    type: bull_put
    short: {strike: 200, bid: 2.10, ask: 2.15}
    long: {strike: 195, bid: 0.60, ask: 0.65}
    expiration: "2025-04-07"
    credit: 1.50
    theta: .inf
`), FormatYAML)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	spreads, errs, err := f.Build(time.Time{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(spreads) != 0 {
		t.Fatalf("built %d spreads from non-finite records, want 0", len(spreads))
	}
	wantFields := []string{"credit", "short strike", "theta"}
	if len(errs) != len(wantFields) {
		t.Fatalf("got %d build errors, want %d", len(errs), len(wantFields))
	}
	for i, field := range wantFields {
		var ise *models.InvalidSpreadError
		if !errors.As(errs[i], &ise) || ise.Field != field {
			t.Errorf("error %d = %v, want InvalidSpreadError on %s", i, errs[i], field)
		}
	}
}

func TestBuildFailsOnBadAsOf(t *testing.T) {
	f, err := Parse([]byte(`{"as_of": "03/03/2025", "spreads": []}`), FormatJSON)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, _, err := f.Build(time.Time{}); err == nil {
		t.Fatal("expected error for unparsable as_of")
	}
	// An explicit evaluation date does not need the file's.
	if _, _, err := f.Build(asOf); err != nil {
		t.Errorf("Build with explicit date: %v", err)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format Format
	}{
		{"bad yaml", "spreads: [", FormatYAML},
		{"bad json", "{\"spreads\": ", FormatJSON},
		{"unknown format", "{}", Format("toml")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data), tt.format); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestRecordErrors(t *testing.T) {
	base := Record{
		Ticker:     "SPY",
		Type:       "bull_put",
		Short:      LegRecord{Strike: 440, Bid: 2.10, Ask: 2.15},
		Long:       LegRecord{Strike: 435, Bid: 0.60, Ask: 0.65},
		Expiration: "2025-04-07",
		Credit:     1.50,
	}
	tests := []struct {
		name   string
		mutate func(r *Record)
		field  string
	}{
		{"missing ticker", func(r *Record) { r.Ticker = "" }, "ticker"},
		{"missing type", func(r *Record) { r.Type = "" }, "type"},
		{"missing expiration", func(r *Record) { r.Expiration = "" }, "expiration"},
		{"bad expiration", func(r *Record) { r.Expiration = "04/07/2025" }, "expiration"},
		{"expired", func(r *Record) { r.Expiration = "2025-03-01" }, "expiration"},
		{"credit above width", func(r *Record) { r.Credit = 6 }, "credit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base
			tt.mutate(&r)
			_, err := r.Spread(asOf)
			var ise *models.InvalidSpreadError
			if !errors.As(err, &ise) || ise.Field != tt.field {
				t.Errorf("Spread() error = %v, want InvalidSpreadError on %s", err, tt.field)
			}
		})
	}
}

func TestLoadDetectsFormat(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		data string
		want int
	}{
		{"batch.yaml", yamlBatch, 4},
		{"batch.yml", yamlBatch, 4},
		{"batch.json", jsonBatch, 1},
		{"batch.txt", jsonBatch, 1},
		{"batch", yamlBatch, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			if err := os.WriteFile(path, []byte(tt.data), 0o644); err != nil {
				t.Fatal(err)
			}
			f, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if len(f.Spreads) != tt.want {
				t.Errorf("got %d records, want %d", len(f.Spreads), tt.want)
			}
		})
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestMarket(t *testing.T) {
	f, err := Parse([]byte(yamlBatch), FormatYAML)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m := f.Market(nil)
	if m.Provider != nil {
		t.Error("provider should be nil")
	}
	if m.Volatility["SPY"] != 0.2 {
		t.Errorf("volatility = %v", m.Volatility)
	}
	if len(m.IVHistory["SPY"]) != 5 {
		t.Errorf("iv history = %v", m.IVHistory)
	}
	if _, ok := m.IVHistory["spy"]; ok {
		t.Error("tickers should be upper-cased")
	}
}

func TestDate(t *testing.T) {
	f := &File{AsOf: "2025-03-03"}
	d, err := f.Date()
	if err != nil || !d.Equal(asOf) {
		t.Errorf("Date() = %v, %v", d, err)
	}
	if _, err := (&File{AsOf: "March 3"}).Date(); err == nil {
		t.Error("expected error for bad as_of")
	}
	if d, err := (&File{}).Date(); err != nil || !d.IsZero() {
		t.Errorf("empty as_of = %v, %v", d, err)
	}
}
