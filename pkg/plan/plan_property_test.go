//go:build property
// +build property

// Package plan_test contains property-based tests for plan construction.
package plan_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/rowforge/enrich/pkg/normalize"
	"github.com/rowforge/enrich/pkg/plan"
	"github.com/rowforge/enrich/pkg/provider"
)

var requestableFields = []string{
	provider.FieldName, provider.FieldCompany, provider.FieldTitle,
	provider.FieldEmail, provider.FieldEmailCandidates, provider.FieldDomain,
	provider.FieldWebsite, provider.FieldLocation, provider.FieldIndustry,
	provider.FieldSocialLinks, provider.FieldShortBio,
	provider.FieldCompanySummary, provider.FieldWhois,
}

func genRequest() gopter.Gen {
	return gopter.CombineGens(
		gen.SliceOf(gen.IntRange(0, len(requestableFields)-1)),
		gen.Int64Range(0, 200),
	)
}

// TestPlanWellFormed verifies that every plan the builder emits respects
// its structural invariants regardless of the requested field mix and
// budget: contiguous indexes, known providers, capability match, and a
// total cost ceiling within budget.
func TestPlanWellFormed(t *testing.T) {
	registry, err := provider.NewRegistry(provider.MockSet()...)
	if err != nil {
		t.Fatal(err)
	}
	planner := plan.New(registry, nil)
	in := &normalize.Input{RowID: "r1", Name: "Jane Doe", Company: "Stripe", Domain: "stripe.com"}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("plans are well-formed under any request", prop.ForAll(
		func(vals []interface{}) bool {
			picks := vals[0].([]int)
			budget := vals[1].(int64)

			fields := make([]string, len(picks))
			for i, p := range picks {
				fields[i] = requestableFields[p]
			}

			p, err := planner.Build(in, fields, plan.Options{BudgetCents: budget})
			if err != nil {
				return false
			}
			if p.CostCents() > budget {
				return false
			}
			for i, step := range p.Steps {
				if step.Index != i {
					return false
				}
				if step.Synthesis {
					continue
				}
				prov, err := registry.ByName(step.Provider)
				if err != nil {
					return false
				}
				if !prov.CanEnrich(step.Field) {
					return false
				}
				if step.MaxCostCents != prov.CostCents() {
					return false
				}
			}
			return true
		},
		genRequest(),
	))

	properties.TestingRun(t)
}
