// Package api exposes the screener and optimizer over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rewired-gh/cso/internal/analyzer"
	"github.com/rewired-gh/cso/internal/candidates"
	"github.com/rewired-gh/cso/internal/config"
	"github.com/rewired-gh/cso/internal/engine"
	"github.com/rewired-gh/cso/internal/logger"
	"github.com/rewired-gh/cso/internal/models"
	"github.com/rewired-gh/cso/internal/report"
	"github.com/rewired-gh/cso/internal/storage"
	"github.com/xhhuango/json"
)

// maxBodyBytes bounds a request body.
const maxBodyBytes = 8 << 20

// Store persists runs. *storage.Storage satisfies it.
type Store interface {
	SaveRun(run *models.Run) error
	GetRun(id string) (*models.Run, error)
	ListRuns(limit int) ([]models.RunSummary, error)
	Decisions(runID string) ([]storage.Decision, error)
	RejectionStats(since time.Time) (map[models.FilterName]int, error)
}

// Notifier pushes run summaries. *telegram.Client satisfies it.
type Notifier interface {
	Send(run *models.Run) error
}

// Options configures a Handler. Store and Notifier may be nil.
type Options struct {
	Preset   string
	Weights  models.Weights
	TopN     int
	Workers  int
	Order    []models.FilterName
	Provider analyzer.GreeksProvider
	Store    Store
	Notifier Notifier
}

// Handler serves the screening API.
type Handler struct {
	opts Options
	now  func() time.Time
}

// NewHandler creates a Handler. Zero weights select the defaults.
func NewHandler(opts Options) *Handler {
	if opts.Weights == (models.Weights{}) {
		opts.Weights = models.DefaultWeights()
	}
	return &Handler{opts: opts, now: time.Now}
}

// Router registers every route on a new mux router.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/presets", h.PresetsHandler).Methods("GET")
	r.HandleFunc("/api/screen", h.ScreenHandler).Methods("POST")
	r.HandleFunc("/api/rank", h.RankHandler).Methods("POST")
	r.HandleFunc("/api/runs", h.ListRunsHandler).Methods("GET")
	r.HandleFunc("/api/runs/{id}", h.GetRunHandler).Methods("GET")
	r.HandleFunc("/api/runs/{id}/decisions", h.DecisionsHandler).Methods("GET")
	r.HandleFunc("/api/stats", h.StatsHandler).Methods("GET")
	return r
}

// ScreenRequest is the body of POST /api/screen and POST /api/rank. The
// candidates file fields are inlined.
type ScreenRequest struct {
	candidates.File
	Preset   string                 `json:"preset"`
	Criteria *config.CriteriaConfig `json:"criteria"`
	// Rank only.
	Weights   *models.Weights `json:"weights"`
	TopN      *int            `json:"top_n"`
	PerTicker int             `json:"per_ticker"`
}

// BuildError is a candidate record that could not be built.
type BuildError struct {
	Index  int    `json:"index"`
	Ticker string `json:"ticker,omitempty"`
	Error  string `json:"error"`
}

// ScreenResponse is returned by both screening endpoints. Tickers is set
// instead of Result for per-ticker ranking.
type ScreenResponse struct {
	RunID           string                  `json:"run_id,omitempty"`
	Result          *models.ScreeningResult `json:"result,omitempty"`
	Tickers         []engine.TickerResult   `json:"tickers,omitempty"`
	Recommendations []report.Recommendation `json:"recommendations,omitempty"`
	Diagnostics     []report.Diagnosis      `json:"diagnostics,omitempty"`
	BuildErrors     []BuildError            `json:"build_errors,omitempty"`
}

// PresetsHandler lists the named criteria presets.
func (h *Handler) PresetsHandler(w http.ResponseWriter, r *http.Request) {
	presets := make(map[string]models.ScreeningCriteria)
	for _, name := range models.PresetNames() {
		c, _ := models.Preset(name)
		presets[name] = c
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"presets": presets,
		"default": h.opts.Preset,
	})
}

// ScreenHandler runs the disciplined screener.
func (h *Handler) ScreenHandler(w http.ResponseWriter, r *http.Request) {
	_, eng, spreads, buildErrs, ok := h.prepare(w, r)
	if !ok {
		return
	}

	result, err := eng.Screen(r.Context(), spreads)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	resp := ScreenResponse{
		Result:          result,
		Recommendations: report.Recommendations(result),
		Diagnostics:     report.Diagnose(result, eng.Criteria()),
		BuildErrors:     buildErrs,
	}
	resp.RunID = h.record(result)
	writeJSON(w, http.StatusOK, resp)
}

// RankHandler runs the optimizer, optionally per ticker.
func (h *Handler) RankHandler(w http.ResponseWriter, r *http.Request) {
	req, eng, spreads, buildErrs, ok := h.prepare(w, r)
	if !ok {
		return
	}

	weights := h.opts.Weights
	if req.Weights != nil {
		weights = *req.Weights
	}
	if err := weights.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	topN := h.opts.TopN
	if req.TopN != nil {
		topN = *req.TopN
	}

	if req.PerTicker > 0 {
		tickers, err := eng.RankByTicker(r.Context(), spreads, &weights, req.PerTicker)
		if err != nil {
			writeError(w, statusOf(err), err)
			return
		}
		writeJSON(w, http.StatusOK, ScreenResponse{Tickers: tickers, BuildErrors: buildErrs})
		return
	}

	result, err := eng.Rank(r.Context(), spreads, &weights, topN)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	resp := ScreenResponse{
		Result:          result,
		Recommendations: report.Recommendations(result),
		BuildErrors:     buildErrs,
	}
	resp.RunID = h.record(result)
	writeJSON(w, http.StatusOK, resp)
}

// ListRunsHandler lists stored runs, newest first.
func (h *Handler) ListRunsHandler(w http.ResponseWriter, r *http.Request) {
	if h.opts.Store == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("run history is disabled"))
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	runs, err := h.opts.Store.ListRuns(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs, "count": len(runs)})
}

// GetRunHandler returns one stored run.
func (h *Handler) GetRunHandler(w http.ResponseWriter, r *http.Request) {
	if h.opts.Store == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("run history is disabled"))
		return
	}
	run, err := h.opts.Store.GetRun(mux.Vars(r)["id"])
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// DecisionsHandler returns the per-candidate outcomes of one stored run.
func (h *Handler) DecisionsHandler(w http.ResponseWriter, r *http.Request) {
	if h.opts.Store == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("run history is disabled"))
		return
	}
	id := mux.Vars(r)["id"]
	decisions, err := h.opts.Store.Decisions(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(decisions) == 0 {
		// An empty run and an unknown one look the same here.
		if _, err := h.opts.Store.GetRun(id); errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		} else if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"run_id": id, "decisions": decisions})
}

// StatsHandler aggregates rejections per filter across stored runs created
// at or after ?since= (RFC 3339 or YYYY-MM-DD; all runs when omitted).
func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if h.opts.Store == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("run history is disabled"))
		return
	}
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := parseSince(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		since = t
	}
	stats, err := h.opts.Store.RejectionStats(since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	total := 0
	for _, n := range stats {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rejection_stats": stats,
		"rejected":        total,
	})
}

func parseSince(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid since %q: want RFC 3339 or YYYY-MM-DD", v)
	}
	return t, nil
}

// prepare decodes the request, resolves criteria and builds the spreads.
// On failure it has already written the response.
func (h *Handler) prepare(w http.ResponseWriter, r *http.Request) (*ScreenRequest, *engine.Engine, []*models.CreditSpread, []BuildError, bool) {
	var req ScreenRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return nil, nil, nil, nil, false
	}

	preset := req.Preset
	if preset == "" {
		preset = h.opts.Preset
	}
	criteria, err := models.Preset(preset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, nil, nil, nil, false
	}
	if req.Criteria != nil {
		if criteria, err = req.Criteria.Apply(criteria); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return nil, nil, nil, nil, false
		}
	}
	eng, err := engine.New(criteria, engine.Config{
		Workers: h.opts.Workers,
		Order:   h.opts.Order,
		Market:  req.Market(h.opts.Provider),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, nil, nil, nil, false
	}

	spreads, errs, err := req.Build(time.Time{})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, nil, nil, nil, false
	}
	var buildErrs []BuildError
	for _, e := range errs {
		buildErrs = append(buildErrs, BuildError{Index: e.Index, Ticker: e.Ticker, Error: e.Err.Error()})
	}
	if len(errs) > 0 {
		logger.Warn("Skipped %d invalid candidates of %d", len(errs), len(req.Spreads))
	}
	return &req, eng, spreads, buildErrs, true
}

// record persists and announces a result. Failures are logged, not
// returned: the screening itself succeeded.
func (h *Handler) record(result *models.ScreeningResult) string {
	if h.opts.Store == nil && h.opts.Notifier == nil {
		return ""
	}
	run := models.NewRun(result, h.now())
	if h.opts.Store != nil {
		if err := h.opts.Store.SaveRun(run); err != nil {
			logger.Error("Failed to save run %s: %v", run.ID, err)
			return ""
		}
	}
	if h.opts.Notifier != nil {
		if err := h.opts.Notifier.Send(run); err != nil {
			logger.Error("Failed to send run %s: %v", run.ID, err)
		}
	}
	if h.opts.Store == nil {
		return ""
	}
	return run.ID
}

func statusOf(err error) int {
	var iwe *models.InvalidWeightsError
	var ice *models.InvalidCriteriaError
	switch {
	case errors.As(err, &iwe), errors.As(err, &ice):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
