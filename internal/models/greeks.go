package models

// Legs is the view of a spread handed to a Greeks provider. Prices are
// quote midpoints and may be zero when unquoted.
type Legs struct {
	Type        SpreadType
	ShortStrike float64
	LongStrike  float64
	ShortPrice  float64
	LongPrice   float64
}

// Greeks are the values a provider computes for a spread: the short-leg
// delta, the daily theta captured by the seller of the spread, and the
// annualized implied volatility used.
type Greeks struct {
	Delta float64
	Theta float64
	IV    float64
}

// LegsOf extracts the provider view of s.
func LegsOf(s *CreditSpread) Legs {
	return Legs{
		Type:        s.Type,
		ShortStrike: s.Short.Strike,
		LongStrike:  s.Long.Strike,
		ShortPrice:  s.Short.Mid(),
		LongPrice:   s.Long.Mid(),
	}
}
