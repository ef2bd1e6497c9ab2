// Package candidates loads batches of credit spread candidates from YAML or
// JSON files and turns them into validated spreads.
package candidates

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rewired-gh/cso/internal/analyzer"
	"github.com/rewired-gh/cso/internal/models"
	"github.com/xhhuango/json"
	"gopkg.in/yaml.v2"
)

const dateLayout = "2006-01-02"

// Format is the encoding of a candidates file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// File is one batch of candidates plus the market data needed to fill in
// missing IV percentiles and Greeks.
type File struct {
	AsOf       string               `yaml:"as_of" json:"as_of"`
	IVHistory  map[string][]float64 `yaml:"iv_history" json:"iv_history"`
	Volatility map[string]float64   `yaml:"volatility" json:"volatility"`
	Spreads    []Record             `yaml:"spreads" json:"spreads"`
}

// Record is one candidate as written in a file. Credit may be omitted, in
// which case the natural credit of the quoted legs is used.
type Record struct {
	Ticker          string    `yaml:"ticker" json:"ticker"`
	Type            string    `yaml:"type" json:"type"`
	Short           LegRecord `yaml:"short" json:"short"`
	Long            LegRecord `yaml:"long" json:"long"`
	Expiration      string    `yaml:"expiration" json:"expiration"`
	Credit          float64   `yaml:"credit" json:"credit"`
	ImpliedVol      *float64  `yaml:"implied_vol" json:"implied_vol"`
	IVPercentile    *float64  `yaml:"iv_percentile" json:"iv_percentile"`
	Delta           *float64  `yaml:"delta" json:"delta"`
	Theta           *float64  `yaml:"theta" json:"theta"`
	OpenInterest    int64     `yaml:"open_interest" json:"open_interest"`
	Volume          int64     `yaml:"volume" json:"volume"`
	UnderlyingPrice float64   `yaml:"underlying_price" json:"underlying_price"`
}

// LegRecord is one leg as written in a file.
type LegRecord struct {
	Strike float64 `yaml:"strike" json:"strike"`
	Bid    float64 `yaml:"bid" json:"bid"`
	Ask    float64 `yaml:"ask" json:"ask"`
}

// BuildError reports a record that could not become a spread.
type BuildError struct {
	Index  int
	Ticker string
	Err    error
}

func (e *BuildError) Error() string {
	if e.Ticker == "" {
		return fmt.Sprintf("record %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("record %d (%s): %v", e.Index, e.Ticker, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Load reads and parses path. The format follows the extension; anything
// other than .yaml or .yml is sniffed.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read candidates file: %w", err)
	}
	f, err := Parse(data, formatOf(path, data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func formatOf(path string, data []byte) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatYAML
}

// Parse decodes data in the given format.
func Parse(data []byte, format Format) (*File, error) {
	var f File
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse JSON candidates: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse YAML candidates: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown candidates format %q", format)
	}
	return &f, nil
}

// Date returns the file's as_of date, or the zero time when unset.
func (f *File) Date() (time.Time, error) {
	if f.AsOf == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, f.AsOf)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid as_of %q: %w", f.AsOf, err)
	}
	return t, nil
}

// Build converts every record. Records that fail validation are returned
// as BuildErrors and left out of the spreads; the rest keep file order.
// A zero asOf falls back to the file's as_of, then to today. An as_of that
// does not parse fails the whole batch.
func (f *File) Build(asOf time.Time) ([]*models.CreditSpread, []*BuildError, error) {
	if asOf.IsZero() {
		d, err := f.Date()
		if err != nil {
			return nil, nil, err
		}
		asOf = d
	}
	spreads := make([]*models.CreditSpread, 0, len(f.Spreads))
	var errs []*BuildError
	for i, r := range f.Spreads {
		s, err := r.Spread(asOf)
		if err != nil {
			errs = append(errs, &BuildError{Index: i, Ticker: strings.ToUpper(r.Ticker), Err: err})
			continue
		}
		spreads = append(spreads, s)
	}
	return spreads, errs, nil
}

// Spread validates the record through the spread builder.
func (r Record) Spread(asOf time.Time) (*models.CreditSpread, error) {
	// Empty type and expiration are left for the builder to report.
	var typ models.SpreadType
	if r.Type != "" {
		t, err := models.ParseSpreadType(r.Type)
		if err != nil {
			return nil, &models.InvalidSpreadError{Field: "type", Reason: err.Error()}
		}
		typ = t
	}
	var exp time.Time
	if r.Expiration != "" {
		t, err := time.Parse(dateLayout, r.Expiration)
		if err != nil {
			return nil, &models.InvalidSpreadError{Field: "expiration", Reason: fmt.Sprintf("want YYYY-MM-DD, got %q", r.Expiration)}
		}
		exp = t
	}
	return models.NewCreditSpread(models.SpreadParams{
		Ticker:          r.Ticker,
		Type:            typ,
		Short:           models.Leg(r.Short),
		Long:            models.Leg(r.Long),
		Expiration:      exp,
		AsOf:            asOf,
		Credit:          r.Credit,
		ImpliedVol:      r.ImpliedVol,
		IVPercentile:    r.IVPercentile,
		Delta:           r.Delta,
		Theta:           r.Theta,
		OpenInterest:    r.OpenInterest,
		Volume:          r.Volume,
		UnderlyingPrice: r.UnderlyingPrice,
	})
}

// Market returns the file's IV history and volatility keyed by upper-case
// ticker. provider may be nil.
func (f *File) Market(provider analyzer.GreeksProvider) *analyzer.Context {
	ctx := &analyzer.Context{
		Provider:   provider,
		Volatility: make(map[string]float64, len(f.Volatility)),
		IVHistory:  make(map[string][]float64, len(f.IVHistory)),
	}
	for t, v := range f.Volatility {
		ctx.Volatility[strings.ToUpper(t)] = v
	}
	for t, h := range f.IVHistory {
		ctx.IVHistory[strings.ToUpper(t)] = h
	}
	return ctx
}
