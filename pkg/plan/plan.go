// Package plan turns a normalized input, a field wishlist and a budget
// into an ordered enrichment plan. Planning is pure: no network, no
// clock, no shared mutable state beyond the registry snapshot it reads.
package plan

import (
	"fmt"
	"sort"

	"github.com/rowforge/enrich/pkg/breaker"
	"github.com/rowforge/enrich/pkg/costs"
	"github.com/rowforge/enrich/pkg/normalize"
	"github.com/rowforge/enrich/pkg/provider"
)

// Priority marks how aggressively the executor should treat a step.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Step is one planned provider call.
type Step struct {
	Index        int      `json:"index"`
	Provider     string   `json:"provider"`
	Field        string   `json:"field"`
	Priority     Priority `json:"priority"`
	MaxCostCents int64    `json:"max_cost_cents"`
	Synthesis    bool     `json:"synthesis,omitempty"`
}

// Plan is an ordered sequence of steps bounded by a budget. The sum of
// step costs never exceeds BudgetCents.
type Plan struct {
	RowID       string `json:"row_id"`
	Steps       []Step `json:"steps"`
	BudgetCents int64  `json:"budget_cents"`
	Note        string `json:"note,omitempty"`
}

// Empty reports whether the plan has no work.
func (p *Plan) Empty() bool { return len(p.Steps) == 0 }

// CostCents returns the sum of step cost ceilings.
func (p *Plan) CostCents() int64 {
	var sum int64
	for _, s := range p.Steps {
		sum += s.MaxCostCents
	}
	return sum
}

// Fields returns the distinct non-synthesis fields the plan covers.
func (p *Plan) Fields() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range p.Steps {
		if s.Synthesis || seen[s.Field] {
			continue
		}
		seen[s.Field] = true
		out = append(out, s.Field)
	}
	return out
}

// fieldPriority is the static ordering table. Lower runs earlier.
var fieldPriority = map[string]int{
	provider.FieldName:            1,
	provider.FieldCompany:         1,
	provider.FieldTitle:           2,
	provider.FieldEmail:           3,
	provider.FieldEmailCandidates: 3,
	provider.FieldDomain:          4,
	provider.FieldWebsite:         4,
	provider.FieldLocation:        5,
	provider.FieldIndustry:        5,
	provider.FieldSocialLinks:     6,
	provider.FieldShortBio:        6,
	provider.FieldCompanySummary:  6,
	provider.FieldWhois:           7,
}

// fieldDeps lists fields that must be enriched (or already present)
// before the dependent field is attempted.
var fieldDeps = map[string][]string{
	provider.FieldEmailCandidates: {provider.FieldName, provider.FieldCompany},
	provider.FieldShortBio:        {provider.FieldName, provider.FieldTitle},
	provider.FieldCompanySummary:  {provider.FieldCompany},
}

// synthesisFields are generated by the LLM synthesizer when facts allow.
var synthesisFields = map[string]bool{
	provider.FieldShortBio:       true,
	provider.FieldCompanySummary: true,
}

// synthCostCents is the ceiling charged per synthesis step.
const synthCostCents = 1

const llmProviderName = "llm"

// Options tunes a single planning run.
type Options struct {
	BudgetCents int64
	// Disabled, when set, excludes providers the cost governor or breaker
	// has taken out of rotation. Keeps planning pure: callers snapshot.
	Disabled func(name string) bool
}

// Planner builds plans against a provider registry. Health scores, when
// a breaker manager is supplied, break ties between equal candidates.
type Planner struct {
	registry *provider.Registry
	health   *breaker.Manager
}

// New creates a planner. health may be nil.
func New(registry *provider.Registry, health *breaker.Manager) *Planner {
	return &Planner{registry: registry, health: health}
}

// Build produces a plan for the missing fields of in, in dependency and
// priority order, spending at most opts.BudgetCents.
func (pl *Planner) Build(in *normalize.Input, fieldsToEnrich []string, opts Options) (*Plan, error) {
	if in == nil {
		return nil, fmt.Errorf("plan: nil input")
	}
	p := &Plan{RowID: in.RowID, BudgetCents: opts.BudgetCents}

	missing := missingFields(in, fieldsToEnrich)
	if len(missing) == 0 {
		p.Note = "all requested fields already present"
		return p, nil
	}
	orderFields(missing)

	remaining := opts.BudgetCents
	used := make(map[string]bool)
	for _, field := range missing {
		step, ok := pl.selectStep(in, field, remaining, used, opts.Disabled)
		if !ok {
			continue
		}
		step.Index = len(p.Steps)
		p.Steps = append(p.Steps, step)
		used[step.Provider] = true
		remaining -= step.MaxCostCents
	}

	pl.appendSynthesis(in, p, missing, &remaining)

	if p.Empty() {
		p.Note = "no affordable providers for the requested fields"
	}
	return p, nil
}

// missingFields returns the requested fields the input does not already
// carry, deduplicated in request order.
func missingFields(in *normalize.Input, requested []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range requested {
		if f == "" || seen[f] || in.Has(f) {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// orderFields sorts fields so dependencies run before dependents, then
// by the static priority table, then by name for determinism.
func orderFields(fields []string) {
	inSet := make(map[string]bool, len(fields))
	for _, f := range fields {
		inSet[f] = true
	}
	depth := func(f string) int {
		d := 0
		for _, dep := range fieldDeps[f] {
			if inSet[dep] {
				d = 1
			}
		}
		return d
	}
	sort.SliceStable(fields, func(i, j int) bool {
		di, dj := depth(fields[i]), depth(fields[j])
		if di != dj {
			return di < dj
		}
		pi, pj := priorityOf(fields[i]), priorityOf(fields[j])
		if pi != pj {
			return pi < pj
		}
		return fields[i] < fields[j]
	})
}

func priorityOf(field string) int {
	if p, ok := fieldPriority[field]; ok {
		return p
	}
	return 8
}

// selectStep picks the first affordable, enabled, preferably unused
// provider for a field. A set LinkedIn URL promotes the LinkedIn
// provider to the front with high priority.
func (pl *Planner) selectStep(in *normalize.Input, field string, remaining int64, used map[string]bool, disabled func(string) bool) (Step, bool) {
	candidates := costs.SortByEfficiency(pl.registry.ByField(field), pl.health)
	if len(candidates) == 0 {
		return Step{}, false
	}

	prio := PriorityNormal
	if in.LinkedInURL != "" {
		for i, c := range candidates {
			if c.Name() == "linkedin" {
				candidates = append([]provider.Provider{c}, append(candidates[:i:i], candidates[i+1:]...)...)
				prio = PriorityHigh
				break
			}
		}
	}

	pick := func(allowUsed bool) (Step, bool) {
		for _, c := range candidates {
			if disabled != nil && disabled(c.Name()) {
				continue
			}
			if c.CostCents() > remaining {
				continue
			}
			if !allowUsed && used[c.Name()] {
				continue
			}
			stepPrio := PriorityNormal
			if prio == PriorityHigh && c.Name() == "linkedin" {
				stepPrio = PriorityHigh
			}
			return Step{Provider: c.Name(), Field: field, Priority: stepPrio, MaxCostCents: c.CostCents()}, true
		}
		return Step{}, false
	}
	if s, ok := pick(false); ok {
		return s, true
	}
	return pick(true)
}

// appendSynthesis adds LLM steps for generated text fields when the plan
// (or input) supplies facts to ground them and the budget covers the call.
func (pl *Planner) appendSynthesis(in *normalize.Input, p *Plan, missing []string, remaining *int64) {
	planned := make(map[string]bool)
	for _, s := range p.Steps {
		planned[s.Field] = true
	}
	hasFacts := in.Has(provider.FieldName) || in.Has(provider.FieldCompany) ||
		planned[provider.FieldName] || planned[provider.FieldTitle] || planned[provider.FieldCompany]

	for _, field := range missing {
		if !synthesisFields[field] || !hasFacts {
			continue
		}
		if *remaining < synthCostCents {
			continue
		}
		p.Steps = append(p.Steps, Step{
			Index:        len(p.Steps),
			Provider:     llmProviderName,
			Field:        field,
			Priority:     PriorityNormal,
			MaxCostCents: synthCostCents,
			Synthesis:    true,
		})
		*remaining -= synthCostCents
	}
}
