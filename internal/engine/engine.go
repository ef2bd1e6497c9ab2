// Package engine wires the filters, analyzers and one of the two screening
// engines together for a batch of candidates. Candidates are evaluated
// concurrently; results are reassembled in input order before ranking.
package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/cso/internal/analyzer"
	"github.com/rewired-gh/cso/internal/logger"
	"github.com/rewired-gh/cso/internal/models"
	"github.com/rewired-gh/cso/internal/optimizer"
	"github.com/rewired-gh/cso/internal/screener"
	"golang.org/x/sync/errgroup"
)

// Config holds the engine settings.
type Config struct {
	// Workers bounds concurrent candidate evaluation; <= 0 uses NumCPU.
	Workers int
	// Order overrides the disciplined filter sequence.
	Order []models.FilterName
	// Market supplies the Greeks provider and IV history.
	Market *analyzer.Context
	// Progress, when set, is called after each candidate is evaluated. It
	// may be called from several goroutines at once.
	Progress func(done, total int)
}

// Engine screens and ranks batches against one criteria value.
type Engine struct {
	criteria models.ScreeningCriteria
	screener *screener.Screener
	cfg      Config
}

// New builds the disciplined screener up front so invalid criteria or an
// invalid order fail before any batch is submitted.
func New(criteria models.ScreeningCriteria, cfg Config) (*Engine, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Market == nil {
		cfg.Market = &analyzer.Context{}
	}
	opts := []screener.Option{screener.WithContext(cfg.Market)}
	if len(cfg.Order) > 0 {
		opts = append(opts, screener.WithOrder(cfg.Order))
	}
	s, err := screener.New(criteria, opts...)
	if err != nil {
		return nil, err
	}
	return &Engine{criteria: criteria, screener: s, cfg: cfg}, nil
}

// Criteria returns the criteria in use.
func (e *Engine) Criteria() models.ScreeningCriteria { return e.criteria }

// Screen runs the disciplined screener over spreads.
func (e *Engine) Screen(ctx context.Context, spreads []*models.CreditSpread) (*models.ScreeningResult, error) {
	start := time.Now()
	evals, err := e.evaluate(ctx, spreads, e.screener.Evaluate)
	if err != nil {
		return nil, err
	}
	result := e.screener.Assemble(evals)
	logger.Debug("Screened %d candidates with %s criteria in %v: %d accepted, %d rejected",
		result.Total, e.criteria.Name, time.Since(start), len(result.Accepted), len(result.Rejected))
	return result, nil
}

// Rank runs the optimizer over spreads and keeps the top n (n <= 0 keeps
// all). A nil weights pointer selects the defaults.
func (e *Engine) Rank(ctx context.Context, spreads []*models.CreditSpread, weights *models.Weights, n int) (*models.ScreeningResult, error) {
	o, err := e.optimizer(weights)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	evals, err := e.evaluate(ctx, spreads, o.Evaluate)
	if err != nil {
		return nil, err
	}
	result := o.Assemble(evals, n)
	logger.Debug("Ranked %d candidates with %s criteria in %v: %d scored, %d kept",
		result.Total, e.criteria.Name, time.Since(start), result.Passed, len(result.Ranked))
	return result, nil
}

// TickerResult is one ticker's share of a per-ticker ranking.
type TickerResult struct {
	Ticker string                  `json:"ticker"`
	Result *models.ScreeningResult `json:"result"`
}

// RankByTicker ranks each ticker's candidates separately and keeps the top
// perTicker of each. Tickers appear in order of first appearance.
func (e *Engine) RankByTicker(ctx context.Context, spreads []*models.CreditSpread, weights *models.Weights, perTicker int) ([]TickerResult, error) {
	o, err := e.optimizer(weights)
	if err != nil {
		return nil, err
	}
	evals, err := e.evaluate(ctx, spreads, o.Evaluate)
	if err != nil {
		return nil, err
	}

	var order []string
	groups := make(map[string][]models.Evaluation)
	for _, ev := range evals {
		t := ev.Spread.Ticker
		if _, ok := groups[t]; !ok {
			order = append(order, t)
		}
		groups[t] = append(groups[t], ev)
	}

	out := make([]TickerResult, 0, len(order))
	for _, t := range order {
		out = append(out, TickerResult{Ticker: t, Result: o.Assemble(groups[t], perTicker)})
	}
	logger.Debug("Ranked %d candidates across %d tickers", len(spreads), len(order))
	return out, nil
}

func (e *Engine) optimizer(weights *models.Weights) (*optimizer.Optimizer, error) {
	w := models.DefaultWeights()
	if weights != nil {
		w = *weights
	}
	return optimizer.New(e.criteria, w, optimizer.WithContext(e.cfg.Market))
}

// evaluate applies fn to every candidate with at most Workers in flight.
// Each result lands in its input slot, so the returned slice is in input
// order regardless of completion order.
func (e *Engine) evaluate(ctx context.Context, spreads []*models.CreditSpread, fn func(int, *models.CreditSpread) models.Evaluation) ([]models.Evaluation, error) {
	for i, sp := range spreads {
		if sp == nil {
			return nil, fmt.Errorf("candidate %d is nil", i)
		}
	}

	out := make([]models.Evaluation, len(spreads))
	var done atomic.Int64
	total := len(spreads)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i := range spreads {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = fn(i, spreads[i])
			n := done.Add(1)
			if e.cfg.Progress != nil {
				e.cfg.Progress(int(n), total)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("evaluation cancelled: %w", err)
	}
	return out, nil
}
