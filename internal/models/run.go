package models

import (
	"time"

	"github.com/google/uuid"
)

// Run is a persisted screening call.
type Run struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	Result    *ScreeningResult `json:"result"`
}

// NewRun assigns a fresh ID to result.
func NewRun(result *ScreeningResult, createdAt time.Time) *Run {
	return &Run{
		ID:        uuid.New().String(),
		CreatedAt: createdAt,
		Result:    result,
	}
}

// RunSummary is the listing view of a Run.
type RunSummary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Mode      Mode      `json:"mode"`
	Criteria  string    `json:"criteria"`
	Total     int       `json:"total"`
	Passed    int       `json:"passed"`
}
