// Package models defines the screening domain: credit spreads, criteria
// presets, optimizer weights, per-filter results and run records.
package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// SpreadType identifies which side of the underlying a credit spread is sold on.
type SpreadType string

const (
	BullPut        SpreadType = "bull_put"
	BearCall       SpreadType = "bear_call"
	IronCondorPut  SpreadType = "iron_condor_put"
	IronCondorCall SpreadType = "iron_condor_call"
)

// ParseSpreadType accepts the canonical names plus dash-separated spellings.
func ParseSpreadType(s string) (SpreadType, error) {
	t := SpreadType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	switch t {
	case BullPut, BearCall, IronCondorPut, IronCondorCall:
		return t, nil
	case "put_credit":
		return BullPut, nil
	case "call_credit":
		return BearCall, nil
	}
	return "", fmt.Errorf("unknown spread type %q", s)
}

// IsPut reports whether both legs are puts.
func (t SpreadType) IsPut() bool {
	return t == BullPut || t == IronCondorPut
}

func (t SpreadType) valid() bool {
	switch t {
	case BullPut, BearCall, IronCondorPut, IronCondorCall:
		return true
	}
	return false
}

// Leg is one option of the spread with its quote.
type Leg struct {
	Strike float64 `json:"strike"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

// Mid returns the quote midpoint.
func (l Leg) Mid() float64 { return (l.Bid + l.Ask) / 2 }

// BidAsk returns the quoted market width of the leg.
func (l Leg) BidAsk() float64 { return l.Ask - l.Bid }

// HasQuote reports whether the leg carries a usable quote.
func (l Leg) HasQuote() bool { return l.Ask > 0 }

// CreditSpread is a two-leg short premium position. Values are per share.
// Greeks and IV fields are optional; nil means not supplied.
type CreditSpread struct {
	Ticker          string     `json:"ticker"`
	Type            SpreadType `json:"type"`
	Short           Leg        `json:"short"`
	Long            Leg        `json:"long"`
	Expiration      time.Time  `json:"expiration"`
	DTE             int        `json:"dte"`
	Credit          float64    `json:"credit"`
	MaxProfit       float64    `json:"max_profit"`
	MaxLoss         float64    `json:"max_loss"`
	ImpliedVol      *float64   `json:"implied_vol,omitempty"`
	IVPercentile    *float64   `json:"iv_percentile,omitempty"`
	Delta           *float64   `json:"delta,omitempty"`
	Theta           *float64   `json:"theta,omitempty"`
	OpenInterest    int64      `json:"open_interest"`
	Volume          int64      `json:"volume"`
	UnderlyingPrice float64    `json:"underlying_price,omitempty"`
}

// Width is the distance between the strikes.
func (s *CreditSpread) Width() float64 {
	return math.Abs(s.Short.Strike - s.Long.Strike)
}

// BidAskCost estimates the slippage of opening the spread: half of each
// leg's quoted width.
func (s *CreditSpread) BidAskCost() float64 {
	return (s.Short.BidAsk() + s.Long.BidAsk()) / 2
}

// RiskReward is max profit over max loss. A spread with no possible loss
// returns +Inf.
func (s *CreditSpread) RiskReward() float64 {
	if s.MaxLoss <= 0 {
		return math.Inf(1)
	}
	return s.MaxProfit / s.MaxLoss
}

// Breakeven is the underlying price at expiration where the spread neither
// gains nor loses.
func (s *CreditSpread) Breakeven() float64 {
	if s.Type.IsPut() {
		return s.Short.Strike - s.Credit
	}
	return s.Short.Strike + s.Credit
}

// Description renders the spread in a one-line human form, e.g.
// "SPY bull_put 440/435 2025-01-17 (35 DTE) @ 1.50".
func (s *CreditSpread) Description() string {
	return fmt.Sprintf("%s %s %g/%g %s (%d DTE) @ %.2f",
		s.Ticker, s.Type, s.Short.Strike, s.Long.Strike,
		s.Expiration.Format("2006-01-02"), s.DTE, s.Credit)
}

// Clone returns a deep copy, so optional fields can be filled in without
// touching the caller's value.
func (s *CreditSpread) Clone() *CreditSpread {
	c := *s
	c.ImpliedVol = copyFloat(s.ImpliedVol)
	c.IVPercentile = copyFloat(s.IVPercentile)
	c.Delta = copyFloat(s.Delta)
	c.Theta = copyFloat(s.Theta)
	return &c
}

// Float returns a pointer to v, for populating optional spread fields.
func Float(v float64) *float64 { return &v }

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// SpreadParams holds the caller-supplied fields of a spread. Credit may be
// left zero when both legs are quoted; the natural credit short bid minus
// long ask is used instead.
type SpreadParams struct {
	Ticker          string
	Type            SpreadType
	Short           Leg
	Long            Leg
	Expiration      time.Time
	AsOf            time.Time
	Credit          float64
	ImpliedVol      *float64
	IVPercentile    *float64
	Delta           *float64
	Theta           *float64
	OpenInterest    int64
	Volume          int64
	UnderlyingPrice float64
}

const priceEpsilon = 1e-9

// checkFinite rejects NaN and infinite inputs. They compare false against
// every bound below and would otherwise slip through.
func (p SpreadParams) checkFinite() error {
	values := []struct {
		field string
		v     *float64
	}{
		{"short strike", &p.Short.Strike},
		{"short bid", &p.Short.Bid},
		{"short ask", &p.Short.Ask},
		{"long strike", &p.Long.Strike},
		{"long bid", &p.Long.Bid},
		{"long ask", &p.Long.Ask},
		{"credit", &p.Credit},
		{"underlying_price", &p.UnderlyingPrice},
		{"implied_vol", p.ImpliedVol},
		{"iv_percentile", p.IVPercentile},
		{"delta", p.Delta},
		{"theta", p.Theta},
	}
	for _, f := range values {
		if f.v != nil && (math.IsNaN(*f.v) || math.IsInf(*f.v, 0)) {
			return &InvalidSpreadError{Field: f.field, Reason: fmt.Sprintf("must be finite (got %v)", *f.v)}
		}
	}
	return nil
}

// NewCreditSpread validates p and derives DTE, max profit and max loss.
// Any violated invariant yields an *InvalidSpreadError.
func NewCreditSpread(p SpreadParams) (*CreditSpread, error) {
	if strings.TrimSpace(p.Ticker) == "" {
		return nil, &InvalidSpreadError{Field: "ticker", Reason: "must not be empty"}
	}
	if !p.Type.valid() {
		return nil, &InvalidSpreadError{Field: "type", Reason: fmt.Sprintf("unknown spread type %q", p.Type)}
	}
	if err := p.checkFinite(); err != nil {
		return nil, err
	}
	if p.Short.Strike <= 0 || p.Long.Strike <= 0 {
		return nil, &InvalidSpreadError{Field: "strike", Reason: "must be positive"}
	}
	if p.Short.Strike == p.Long.Strike {
		return nil, &InvalidSpreadError{Field: "strike", Reason: "short and long strikes must differ"}
	}
	if p.Type.IsPut() && p.Short.Strike < p.Long.Strike {
		return nil, &InvalidSpreadError{Field: "strike", Reason: fmt.Sprintf(
			"%s requires short strike above long strike (got %g/%g)", p.Type, p.Short.Strike, p.Long.Strike)}
	}
	if !p.Type.IsPut() && p.Short.Strike > p.Long.Strike {
		return nil, &InvalidSpreadError{Field: "strike", Reason: fmt.Sprintf(
			"%s requires short strike below long strike (got %g/%g)", p.Type, p.Short.Strike, p.Long.Strike)}
	}
	legs := []struct {
		name string
		leg  Leg
	}{{"short", p.Short}, {"long", p.Long}}
	for _, l := range legs {
		if l.leg.Bid < 0 || l.leg.Ask < 0 {
			return nil, &InvalidSpreadError{Field: l.name + " quote", Reason: "must not be negative"}
		}
		if l.leg.Bid > l.leg.Ask {
			return nil, &InvalidSpreadError{Field: l.name + " quote", Reason: fmt.Sprintf("bid %.2f above ask %.2f", l.leg.Bid, l.leg.Ask)}
		}
	}

	credit := p.Credit
	if credit == 0 && p.Short.HasQuote() && p.Long.HasQuote() {
		credit = p.Short.Bid - p.Long.Ask
	}
	if credit <= 0 {
		return nil, &InvalidSpreadError{Field: "credit", Reason: fmt.Sprintf("must be positive (got %.2f)", credit)}
	}
	width := math.Abs(p.Short.Strike - p.Long.Strike)
	if credit > width+priceEpsilon {
		return nil, &InvalidSpreadError{Field: "credit", Reason: fmt.Sprintf("%.2f exceeds strike width %.2f", credit, width)}
	}

	if p.Expiration.IsZero() {
		return nil, &InvalidSpreadError{Field: "expiration", Reason: "is required"}
	}
	asOf := p.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}
	dte := DaysBetween(asOf, p.Expiration)
	if dte < 0 {
		return nil, &InvalidSpreadError{Field: "expiration", Reason: fmt.Sprintf(
			"%s is before %s", p.Expiration.Format("2006-01-02"), asOf.Format("2006-01-02"))}
	}

	if p.IVPercentile != nil && (*p.IVPercentile < 0 || *p.IVPercentile > 100) {
		return nil, &InvalidSpreadError{Field: "iv_percentile", Reason: "must be between 0 and 100"}
	}
	if p.Delta != nil && (*p.Delta < -1 || *p.Delta > 1) {
		return nil, &InvalidSpreadError{Field: "delta", Reason: "must be between -1 and 1"}
	}
	if p.ImpliedVol != nil && *p.ImpliedVol < 0 {
		return nil, &InvalidSpreadError{Field: "implied_vol", Reason: "must not be negative"}
	}
	if p.OpenInterest < 0 || p.Volume < 0 {
		return nil, &InvalidSpreadError{Field: "liquidity", Reason: "open interest and volume must not be negative"}
	}
	if p.UnderlyingPrice < 0 {
		return nil, &InvalidSpreadError{Field: "underlying_price", Reason: "must not be negative"}
	}

	maxLoss := width - credit
	if maxLoss < 0 {
		maxLoss = 0
	}

	return &CreditSpread{
		Ticker:          strings.ToUpper(strings.TrimSpace(p.Ticker)),
		Type:            p.Type,
		Short:           p.Short,
		Long:            p.Long,
		Expiration:      p.Expiration,
		DTE:             dte,
		Credit:          credit,
		MaxProfit:       credit,
		MaxLoss:         maxLoss,
		ImpliedVol:      copyFloat(p.ImpliedVol),
		IVPercentile:    copyFloat(p.IVPercentile),
		Delta:           copyFloat(p.Delta),
		Theta:           copyFloat(p.Theta),
		OpenInterest:    p.OpenInterest,
		Volume:          p.Volume,
		UnderlyingPrice: p.UnderlyingPrice,
	}, nil
}

// DaysBetween counts calendar days from from to to, ignoring time of day.
func DaysBetween(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(math.Round(b.Sub(a).Hours() / 24))
}
