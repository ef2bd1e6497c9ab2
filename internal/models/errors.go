package models

import "fmt"

// MissingDataError reports that a metric needed by a filter or analyzer is
// absent from a spread and could not be computed. It is fatal for the one
// candidate only.
type MissingDataError struct {
	Ticker string
	Field  string
	Cause  error
}

func (e *MissingDataError) Error() string {
	msg := fmt.Sprintf("missing %s", e.Field)
	if e.Ticker != "" {
		msg += " for " + e.Ticker
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *MissingDataError) Unwrap() error { return e.Cause }

// InvalidCriteriaError is returned when a ScreeningCriteria holds out-of-range thresholds.
type InvalidCriteriaError struct {
	Field  string
	Reason string
}

func (e *InvalidCriteriaError) Error() string {
	return fmt.Sprintf("invalid criteria: %s %s", e.Field, e.Reason)
}

// InvalidWeightsError is returned when an optimizer weight vector is negative
// or does not sum to 1.
type InvalidWeightsError struct {
	Reason string
}

func (e *InvalidWeightsError) Error() string {
	return "invalid weights: " + e.Reason
}

// InvalidSpreadError is returned by NewCreditSpread when the legs, credit or
// expiration violate the spread invariants.
type InvalidSpreadError struct {
	Field  string
	Reason string
}

func (e *InvalidSpreadError) Error() string {
	return fmt.Sprintf("invalid spread: %s %s", e.Field, e.Reason)
}
