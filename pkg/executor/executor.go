// Package executor runs enrichment plans through the waterfall:
// cache, then free and cheap providers probed in parallel, then premium
// providers sequentially. Concurrent identical requests coalesce through
// singleflight so each cell is computed (and billed) at most once.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/rowforge/enrich/pkg/breaker"
	"github.com/rowforge/enrich/pkg/cache"
	"github.com/rowforge/enrich/pkg/costs"
	"github.com/rowforge/enrich/pkg/metrics"
	"github.com/rowforge/enrich/pkg/normalize"
	"github.com/rowforge/enrich/pkg/plan"
	"github.com/rowforge/enrich/pkg/provenance"
	"github.com/rowforge/enrich/pkg/provider"
)

const cacheSource = "cache"

// Config tunes a single executor.
type Config struct {
	MaxConcurrentProbes int
	ProbeTimeout        time.Duration
	// ConfidenceThreshold is the bar a single result must clear to end
	// the waterfall early.
	ConfidenceThreshold float64
	// EnsembleFusion keeps all probes running and defers winner selection
	// to aggregation instead of stopping at the first acceptable result.
	EnsembleFusion      bool
	SingleflightEnabled bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentProbes: 5,
		ProbeTimeout:        10 * time.Second,
		ConfidenceThreshold: 0.7,
		SingleflightEnabled: true,
	}
}

// RunOptions vary per invocation.
type RunOptions struct {
	// PremiumOnly restricts the run to premium providers; used for the
	// escalation pass.
	PremiumOnly bool
	SkipCache   bool
}

// cachedCell is the payload stored under a cell key.
type cachedCell struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
	Verified   bool    `json:"verified"`
}

// cellOutcome travels through singleflight; Results belong to the first
// caller and are copied out for joiners.
type cellOutcome struct {
	Results []provider.Result
}

// Executor drives the waterfall. It is safe for concurrent use; the
// singleflight groups are shared across all rows it processes.
type Executor struct {
	cfg      Config
	registry *provider.Registry
	breakers *breaker.Manager
	governor *costs.Governor
	cache    *cache.Cache
	recorder *provenance.Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger

	cells     singleflight.Group
	provCalls singleflight.Group
}

// New creates an executor. recorder and metrics may be nil.
func New(cfg Config, registry *provider.Registry, breakers *breaker.Manager, governor *costs.Governor, cellCache *cache.Cache, recorder *provenance.Recorder, m *metrics.Metrics, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New(metrics.Config{})
	}
	return &Executor{
		cfg:      cfg,
		registry: registry,
		breakers: breakers,
		governor: governor,
		cache:    cellCache,
		recorder: recorder,
		metrics:  m,
		logger:   logger.With("component", "executor"),
	}
}

// Execute runs the plan and returns the evidence collected. Cancellation
// returns whatever evidence already exists alongside the context error.
func (e *Executor) Execute(ctx context.Context, in *normalize.Input, p *plan.Plan, opts RunOptions) ([]provider.Result, error) {
	if p == nil || p.Empty() {
		return nil, nil
	}

	byField := make(map[string][]plan.Step)
	var fieldOrder []string
	for _, step := range p.Steps {
		if step.Synthesis {
			continue
		}
		if _, seen := byField[step.Field]; !seen {
			fieldOrder = append(fieldOrder, step.Field)
		}
		byField[step.Field] = append(byField[step.Field], step)
	}

	var evidence []provider.Result
	for _, field := range fieldOrder {
		if err := ctx.Err(); err != nil {
			return evidence, err
		}
		results, err := e.enrichCell(ctx, in, field, byField[field], opts)
		evidence = append(evidence, results...)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return evidence, err
		}
		if err != nil {
			e.logger.Warn("cell enrichment failed", "row_id", in.RowID, "field", field, "error", err)
		}
	}
	return evidence, nil
}

// enrichCell runs the waterfall for one field, coalescing with any
// concurrent identical request. Joiners receive copies of the first
// caller's evidence and are charged nothing.
func (e *Executor) enrichCell(ctx context.Context, in *normalize.Input, field string, steps []plan.Step, opts RunOptions) ([]provider.Result, error) {
	if !e.cfg.SingleflightEnabled {
		out, err := e.runWaterfall(ctx, in, field, steps, opts)
		return out.Results, err
	}

	key := fmt.Sprintf("cell:%s:%s", in.RowID, field)
	ch := e.cells.DoChan(key, func() (any, error) {
		out, err := e.runWaterfall(ctx, in, field, steps, opts)
		return out, err
	})
	select {
	case res := <-ch:
		if res.Shared {
			e.metrics.Coalesced(ctx)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		out := res.Val.(cellOutcome)
		return append([]provider.Result(nil), out.Results...), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Executor) runWaterfall(ctx context.Context, in *normalize.Input, field string, steps []plan.Step, opts RunOptions) (cellOutcome, error) {
	// Cache layer.
	if e.cache != nil && !opts.SkipCache {
		if res, negative, hit := e.cacheLookup(ctx, in, field); hit {
			if negative {
				return cellOutcome{}, nil
			}
			return cellOutcome{Results: []provider.Result{*res}}, nil
		}
	}

	var probes, premium []plan.Step
	for _, s := range steps {
		p, err := e.registry.ByName(s.Provider)
		if err != nil {
			return cellOutcome{}, err
		}
		switch {
		case p.Tier() == provider.TierPremium:
			premium = append(premium, s)
		case opts.PremiumOnly:
			// escalation pass skips non-premium work
		default:
			probes = append(probes, s)
		}
	}

	var results []provider.Result
	if !opts.PremiumOnly {
		results = e.runProbes(ctx, in, field, probes)
	}

	if !e.acceptable(results) {
		results = append(results, e.runPremium(ctx, in, field, premium)...)
	}

	if e.cache != nil {
		if best := bestResult(results); best != nil {
			e.cache.Set(ctx, e.cache.CellKey(in.RowID, field), cachedCell{
				Value:      best.Value,
				Confidence: best.Confidence,
				Verified:   best.Verified,
			})
		} else if ctx.Err() == nil && len(steps) > 0 {
			// The full waterfall produced nothing: remember that.
			e.cache.SetNegative(ctx, e.cache.CellKey(in.RowID, field))
		}
	}
	return cellOutcome{Results: results}, ctx.Err()
}

// runProbes fans out the free and cheap candidates with bounded
// concurrency. Without ensemble fusion the first acceptable result
// cancels the remaining probes.
func (e *Executor) runProbes(ctx context.Context, in *normalize.Input, field string, steps []plan.Step) []provider.Result {
	if len(steps) == 0 {
		return nil
	}
	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	var results []provider.Result

	g := new(errgroup.Group)
	limit := e.cfg.MaxConcurrentProbes
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for _, step := range steps {
		g.Go(func() error {
			if probeCtx.Err() != nil {
				return nil
			}
			res := e.callProvider(probeCtx, in, field, step)
			if res == nil {
				return nil
			}
			mu.Lock()
			results = append(results, *res)
			done := !e.cfg.EnsembleFusion && res.Confidence >= e.cfg.ConfidenceThreshold
			mu.Unlock()
			if done {
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// runPremium walks premium candidates sequentially, health-sorted,
// stopping at the first acceptable result.
func (e *Executor) runPremium(ctx context.Context, in *normalize.Input, field string, steps []plan.Step) []provider.Result {
	if len(steps) == 0 {
		return nil
	}
	candidates := make([]provider.Provider, 0, len(steps))
	stepFor := make(map[string]plan.Step, len(steps))
	for _, s := range steps {
		p, err := e.registry.ByName(s.Provider)
		if err != nil {
			continue
		}
		candidates = append(candidates, p)
		stepFor[s.Provider] = s
	}
	candidates = costs.SortByEfficiency(candidates, e.breakers)

	var results []provider.Result
	for _, p := range candidates {
		if ctx.Err() != nil {
			return results
		}
		res := e.callProvider(ctx, in, field, stepFor[p.Name()])
		if res == nil {
			continue
		}
		results = append(results, *res)
		if res.Confidence >= e.cfg.ConfidenceThreshold {
			return results
		}
	}
	return results
}

// callProvider performs one guarded provider call: breaker and budget
// checks first, then the call itself under the per-call timeout and the
// provider-row singleflight. Cost is recorded only on evidence.
func (e *Executor) callProvider(ctx context.Context, in *normalize.Input, field string, step plan.Step) *provider.Result {
	p, err := e.registry.ByName(step.Provider)
	if err != nil {
		e.logger.Error("plan references unknown provider", "provider", step.Provider)
		return nil
	}
	if e.breakers != nil && !e.breakers.Available(p.Name()) {
		return nil
	}
	if e.governor != nil && !e.governor.CanAfford(p.Name(), p.CostCents(), in.RowID) {
		return nil
	}

	call := func() (*provider.Result, error) {
		e.metrics.ProviderCall(ctx, p.Name(), field)
		callCtx := ctx
		if e.cfg.ProbeTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, e.cfg.ProbeTimeout)
			defer cancel()
		}
		var res *provider.Result
		callErr := e.execBreaker(p.Name(), func() error {
			var err error
			res, err = p.Enrich(callCtx, in, field)
			return err
		})
		return res, callErr
	}

	var res *provider.Result
	if e.cfg.SingleflightEnabled {
		key := fmt.Sprintf("provider:%s:%s:%s", in.RowID, p.Name(), field)
		ch := e.provCalls.DoChan(key, func() (any, error) {
			r, err := call()
			if err != nil {
				return nil, err
			}
			if r != nil {
				e.settle(ctx, in, field, p, r)
			}
			return r, nil
		})
		select {
		case sfRes := <-ch:
			if sfRes.Shared {
				e.metrics.Coalesced(ctx)
			}
			if sfRes.Err != nil {
				e.reportError(ctx, p.Name(), field, sfRes.Err)
				return nil
			}
			if sfRes.Val == nil {
				return nil
			}
			res = sfRes.Val.(*provider.Result)
		case <-ctx.Done():
			return nil
		}
		return res
	}

	res, err = call()
	if err != nil {
		e.reportError(ctx, p.Name(), field, err)
		return nil
	}
	if res != nil {
		e.settle(ctx, in, field, p, res)
	}
	return res
}

// settle records cost and provenance for a successful call. Under
// singleflight coalesce this runs once, inside the shared call, so
// joiners are never billed.
func (e *Executor) settle(ctx context.Context, in *normalize.Input, field string, p provider.Provider, res *provider.Result) {
	if e.governor != nil && res.CostCents > 0 {
		e.governor.RecordCost(ctx, in.RowID, in.TableID, p.Name(), field, res.CostCents)
	}
	if e.recorder != nil {
		e.recorder.Record(in.RowID, in.TableID, res)
	}
}

func (e *Executor) execBreaker(name string, fn func() error) error {
	if e.breakers == nil {
		return fn()
	}
	return e.breakers.Execute(name, fn)
}

func (e *Executor) reportError(ctx context.Context, providerName, field string, err error) {
	class := provider.Classify(err)
	if class == provider.ClassRejected {
		return
	}
	e.metrics.ProviderError(ctx, providerName)
	e.logger.Warn("provider call failed",
		"provider", providerName, "field", field, "class", int(class), "error", err)
}

// cacheLookup resolves the cell key; hit=false means the waterfall runs.
func (e *Executor) cacheLookup(ctx context.Context, in *normalize.Input, field string) (*provider.Result, bool, bool) {
	hit := e.cache.Get(ctx, e.cache.CellKey(in.RowID, field))
	if !hit.Found {
		e.metrics.CacheMiss(ctx)
		return nil, false, false
	}
	e.metrics.CacheHit(ctx, hit.Negative)
	if hit.Negative {
		return nil, true, true
	}
	cell := decodeCell(hit.Value)
	if cell == nil {
		return nil, false, false
	}
	return &provider.Result{
		Field:      field,
		Value:      cell.Value,
		Confidence: cell.Confidence,
		Source:     cacheSource,
		Verified:   cell.Verified,
		Timestamp:  time.Now(),
	}, false, true
}

// decodeCell tolerates both in-process values and JSON round-trips from
// the shared store.
func decodeCell(v any) *cachedCell {
	switch t := v.(type) {
	case cachedCell:
		return &t
	case *cachedCell:
		return t
	case map[string]any:
		cell := &cachedCell{Value: t["value"]}
		if c, ok := t["confidence"].(float64); ok {
			cell.Confidence = c
		}
		if vf, ok := t["verified"].(bool); ok {
			cell.Verified = vf
		}
		return cell
	default:
		return nil
	}
}

func (e *Executor) acceptable(results []provider.Result) bool {
	for _, r := range results {
		if r.Value != nil && r.Confidence >= e.cfg.ConfidenceThreshold {
			return true
		}
	}
	return false
}

func bestResult(results []provider.Result) *provider.Result {
	var best *provider.Result
	for i := range results {
		r := &results[i]
		if r.Value == nil {
			continue
		}
		if best == nil || r.Confidence > best.Confidence {
			best = r
		}
	}
	return best
}
