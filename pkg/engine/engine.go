// Package engine is the per-row orchestrator: normalize, resolve
// identity, plan, execute the waterfall, aggregate, verify, escalate to
// premium if needed, synthesize text fields, and assemble the canonical
// output with full provenance and cost accounting.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rowforge/enrich/pkg/aggregate"
	"github.com/rowforge/enrich/pkg/breaker"
	"github.com/rowforge/enrich/pkg/cache"
	"github.com/rowforge/enrich/pkg/costs"
	"github.com/rowforge/enrich/pkg/executor"
	"github.com/rowforge/enrich/pkg/identity"
	"github.com/rowforge/enrich/pkg/metrics"
	"github.com/rowforge/enrich/pkg/normalize"
	"github.com/rowforge/enrich/pkg/plan"
	"github.com/rowforge/enrich/pkg/provenance"
	"github.com/rowforge/enrich/pkg/provider"
	"github.com/rowforge/enrich/pkg/synth"
	"github.com/rowforge/enrich/pkg/verify"
)

// Status is the row-level outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// FieldValue is one accepted canonical field.
type FieldValue struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Verified   bool    `json:"verified"`
}

// Summary describes what a run did, for logs and callers.
type Summary struct {
	FieldsRequested int      `json:"fields_requested"`
	FieldsEnriched  int      `json:"fields_enriched"`
	EvidenceCount   int      `json:"evidence_count"`
	Escalated       []string `json:"escalated,omitempty"`
	FailedFields    []string `json:"failed_fields,omitempty"`
	Reason          string   `json:"reason,omitempty"`
}

// Result is the full outcome for one row.
type Result struct {
	RowID      string                `json:"row_id"`
	TableID    string                `json:"table_id"`
	Status     Status                `json:"status"`
	Canonical  map[string]FieldValue `json:"canonical"`
	Provenance []provenance.Record   `json:"provenance,omitempty"`
	CostCents  int64                 `json:"cost_cents"`
	DurationMs int64                 `json:"duration_ms"`
	Summary    Summary               `json:"summary"`
}

// Options vary per Enrich call.
type Options struct {
	BudgetCents int64 // zero means the engine default
	Mode        verify.Mode
	SkipCache   bool
}

// Config tunes the orchestrator.
type Config struct {
	RowBudgetCents int64
	RowTimeout     time.Duration
	BatchTimeout   time.Duration
	BatchWorkers   int
	Mode           verify.Mode
}

// DefaultConfig returns production defaults: 100¢ per row, 5 minute row
// deadline, 30 minute batch deadline, 10 rows in flight.
func DefaultConfig() Config {
	return Config{
		RowBudgetCents: 100,
		RowTimeout:     5 * time.Minute,
		BatchTimeout:   30 * time.Minute,
		BatchWorkers:   10,
		Mode:           verify.ModeNormal,
	}
}

// Deps are the long-lived collaborators an engine drives. Registry,
// Breakers, Governor, Cache and Executor are required; the rest may be
// nil.
type Deps struct {
	Registry *provider.Registry
	Breakers *breaker.Manager
	Governor *costs.Governor
	Cache    *cache.Cache
	Executor *executor.Executor
	Recorder *provenance.Recorder
	Metrics  *metrics.Metrics
	Synth    *synth.Synthesizer
	Archive  provenance.Archive
	Logger   *slog.Logger
}

// Engine orchestrates enrichment. Safe for concurrent use.
type Engine struct {
	cfg      Config
	resolver *identity.Resolver
	planner  *plan.Planner
	deps     Deps
	logger   *slog.Logger
	clock    func() time.Time
}

// New creates an engine over assembled dependencies.
func New(cfg Config, deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(metrics.Config{})
	}
	if deps.Recorder == nil {
		deps.Recorder = provenance.NewRecorder()
	}
	return &Engine{
		cfg:      cfg,
		resolver: identity.NewResolver(),
		planner:  plan.New(deps.Registry, deps.Breakers),
		deps:     deps,
		logger:   logger.With("component", "engine"),
		clock:    time.Now,
	}
}

// WithClock overrides the clock for deterministic tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Enrich runs the full pipeline for one row.
func (e *Engine) Enrich(ctx context.Context, tableID, rowID string, raw map[string]any, fieldsToEnrich []string, opts Options) (*Result, error) {
	start := e.clock()
	if e.cfg.RowTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RowTimeout)
		defer cancel()
	}
	mode := opts.Mode
	if mode == "" {
		mode = e.cfg.Mode
	}
	budget := opts.BudgetCents
	if budget <= 0 {
		budget = e.cfg.RowBudgetCents
	}

	result := &Result{
		RowID:     rowID,
		TableID:   tableID,
		Canonical: map[string]FieldValue{},
		Summary:   Summary{FieldsRequested: len(fieldsToEnrich)},
	}
	finish := func(status Status) (*Result, error) {
		result.Status = status
		result.CostCents = e.deps.Governor.RowSpent(rowID)
		result.DurationMs = e.clock().Sub(start).Milliseconds()
		result.Provenance = e.deps.Recorder.ForRow(rowID)
		e.deps.Metrics.RowProcessed(ctx)
		e.archive(ctx, result.Provenance)
		return result, nil
	}

	in := normalize.NewInput(tableID, rowID, raw)
	id := e.resolver.Resolve(in, fieldsToEnrich)
	if !id.HasMinimumIdentity() {
		e.logger.Info("row failed identity resolution",
			"row_id", rowID, "strength", string(id.Strength))
		result.Summary.Reason = "insufficient identity: " + string(id.Strength)
		result.Summary.FailedFields = append([]string(nil), fieldsToEnrich...)
		return finish(StatusFailed)
	}

	p, err := e.planner.Build(in, fieldsToEnrich, plan.Options{
		BudgetCents: budget,
		Disabled:    e.disabledCheck(),
	})
	if err != nil {
		return nil, err
	}

	evidence, execErr := e.deps.Executor.Execute(ctx, in, p, executor.RunOptions{SkipCache: opts.SkipCache})
	if execErr != nil {
		e.logger.Warn("execution interrupted", "row_id", rowID, "error", execErr)
	}

	fields := aggregate.Aggregate(evidence)
	report := verify.Verify(fields, fieldsToEnrich, mode)

	// Escalation: one explicit premium-only pass, never reentrant.
	if len(report.FieldsToEscalate) > 0 && execErr == nil {
		result.Summary.Escalated = report.FieldsToEscalate
		more := e.escalate(ctx, in, report.FieldsToEscalate, budget)
		if len(more) > 0 {
			evidence = append(evidence, more...)
			fields = aggregate.Aggregate(evidence)
			report = verify.Verify(fields, fieldsToEnrich, mode)
		}
	}

	// Synthesis happens after facts are settled.
	if e.deps.Synth != nil {
		added := false
		accepted := acceptedFields(fields, report)
		for _, field := range fieldsToEnrich {
			if !synth.CanSynthesize(field) || report.Accepted(field) {
				continue
			}
			if res := e.deps.Synth.Synthesize(ctx, in, field, accepted); res != nil {
				e.deps.Recorder.Record(rowID, tableID, res)
				evidence = append(evidence, *res)
				added = true
			}
		}
		if added {
			fields = aggregate.Aggregate(evidence)
			report = verify.Verify(fields, fieldsToEnrich, mode)
		}
	}

	for _, field := range fieldsToEnrich {
		if report.Accepted(field) {
			af := fields[field]
			result.Canonical[field] = FieldValue{
				Value:      af.CanonicalValue,
				Confidence: af.Confidence,
				Source:     primarySource(af),
				Verified:   true,
			}
			continue
		}
		// Requested fields the caller already supplied pass through.
		if v := inputValue(in, field); v != nil {
			result.Canonical[field] = FieldValue{Value: v, Confidence: 1.0, Source: "input", Verified: true}
			continue
		}
		result.Summary.FailedFields = append(result.Summary.FailedFields, field)
	}
	result.Summary.FieldsEnriched = len(result.Canonical)
	result.Summary.EvidenceCount = len(evidence)

	if len(result.Summary.FailedFields) == 0 {
		return finish(StatusSuccess)
	}
	return finish(StatusPartial)
}

// escalate replans the weak fields against premium providers only.
func (e *Engine) escalate(ctx context.Context, in *normalize.Input, fields []string, budget int64) []provider.Result {
	var steps []plan.Step
	for _, field := range fields {
		for _, p := range e.deps.Registry.ByField(field) {
			if p.Tier() != provider.TierPremium {
				continue
			}
			steps = append(steps, plan.Step{
				Index:        len(steps),
				Provider:     p.Name(),
				Field:        field,
				Priority:     plan.PriorityHigh,
				MaxCostCents: p.CostCents(),
			})
		}
	}
	if len(steps) == 0 {
		return nil
	}
	escalation := &plan.Plan{RowID: in.RowID, Steps: steps, BudgetCents: budget}
	results, err := e.deps.Executor.Execute(ctx, in, escalation, executor.RunOptions{
		PremiumOnly: true,
		SkipCache:   true,
	})
	if err != nil {
		e.logger.Warn("escalation pass interrupted", "row_id", in.RowID, "error", err)
	}
	return results
}

func (e *Engine) disabledCheck() func(string) bool {
	return func(name string) bool {
		if e.deps.Governor != nil && e.deps.Governor.Disabled(name) {
			return true
		}
		if e.deps.Breakers != nil && !e.deps.Breakers.Available(name) {
			return true
		}
		return false
	}
}

func (e *Engine) archive(ctx context.Context, records []provenance.Record) {
	if e.deps.Archive == nil || len(records) == 0 {
		return
	}
	if err := e.deps.Archive.SaveAll(ctx, records); err != nil {
		e.logger.Warn("provenance archive failed", "error", err)
	}
}

func acceptedFields(fields map[string]*aggregate.Field, report *verify.Report) map[string]*aggregate.Field {
	out := make(map[string]*aggregate.Field)
	for name, af := range fields {
		if report.Accepted(name) {
			out[name] = af
		}
	}
	return out
}

// inputValue returns the caller-supplied value for a canonical field,
// or nil when the input does not carry it.
func inputValue(in *normalize.Input, field string) any {
	switch field {
	case provider.FieldName:
		if in.Name != "" {
			return in.Name
		}
	case provider.FieldCompany:
		if in.Company != "" {
			return in.Company
		}
	case provider.FieldDomain:
		if in.Domain != "" {
			return in.Domain
		}
	case provider.FieldEmail:
		if in.Email != "" {
			return in.Email
		}
	default:
		if v, ok := in.RawString(field); ok {
			return v
		}
	}
	return nil
}

// primarySource is the most trusted source that contributed to a field.
func primarySource(af *aggregate.Field) string {
	best := ""
	bestWeight := -1.0
	for _, s := range af.Sources {
		if w := aggregate.SourceWeight(s); w > bestWeight {
			best, bestWeight = s, w
		}
	}
	return best
}

// RowRequest is one row in a batch.
type RowRequest struct {
	RowID  string
	Raw    map[string]any
	Fields []string
}

// EnrichBatch processes rows concurrently under the batch deadline.
// Results are keyed by row id; a row that errs fatally gets a failed
// result rather than aborting its siblings.
func (e *Engine) EnrichBatch(ctx context.Context, tableID string, rows []RowRequest, opts Options) (map[string]*Result, error) {
	if e.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.BatchTimeout)
		defer cancel()
	}

	var mu sync.Mutex
	out := make(map[string]*Result, len(rows))

	g := new(errgroup.Group)
	workers := e.cfg.BatchWorkers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)

	for _, row := range rows {
		g.Go(func() error {
			res, err := e.Enrich(ctx, tableID, row.RowID, row.Raw, row.Fields, opts)
			if err != nil {
				e.logger.Error("row failed fatally", "row_id", row.RowID, "error", err)
				res = &Result{
					RowID:   row.RowID,
					TableID: tableID,
					Status:  StatusFailed,
					Summary: Summary{Reason: err.Error()},
				}
			}
			mu.Lock()
			out[row.RowID] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out, ctx.Err()
}
