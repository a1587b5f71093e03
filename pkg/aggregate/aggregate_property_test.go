//go:build property
// +build property

// Package aggregate_test contains property-based tests for evidence fusion.
package aggregate_test

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/rowforge/enrich/pkg/aggregate"
	"github.com/rowforge/enrich/pkg/provider"
)

var evidenceSources = []string{"linkedin", "serper", "hunter", "whois", "github", "llm"}
var evidenceValues = []string{"Acme Corp", "acme corp", "Acme Corporation", "Zenith Inc", "Globex"}

func genEvidence() gopter.Gen {
	return gen.SliceOf(gopter.CombineGens(
		gen.IntRange(0, len(evidenceSources)-1),
		gen.IntRange(0, len(evidenceValues)-1),
		gen.Float64Range(0.05, 1.0),
	).Map(func(vals []interface{}) provider.Result {
		return provider.Result{
			Field:      "company",
			Source:     evidenceSources[vals[0].(int)],
			Value:      evidenceValues[vals[1].(int)],
			Confidence: vals[2].(float64),
		}
	}))
}

// TestAggregateCommutativity verifies fusion ignores evidence arrival order.
// Property: Aggregate(evidence) == Aggregate(reverse(evidence))
func TestAggregateCommutativity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("aggregation is order-insensitive", prop.ForAll(
		func(evidence []provider.Result) bool {
			if len(evidence) == 0 {
				return true
			}
			reversed := make([]provider.Result, len(evidence))
			for i, r := range evidence {
				reversed[len(evidence)-1-i] = r
			}

			a := aggregate.Aggregate(evidence)["company"]
			b := aggregate.Aggregate(reversed)["company"]
			if a == nil || b == nil {
				return a == b
			}
			return aggregate.ValueKey(a.CanonicalValue) == aggregate.ValueKey(b.CanonicalValue) &&
				math.Abs(a.Confidence-b.Confidence) < 1e-9 &&
				a.HasConflict == b.HasConflict
		},
		genEvidence(),
	))

	properties.Property("confidence stays bounded", prop.ForAll(
		func(evidence []provider.Result) bool {
			if len(evidence) == 0 {
				return true
			}
			af := aggregate.Aggregate(evidence)["company"]
			if af.Confidence <= 0 || af.Confidence > 1.0+1e-9 {
				return false
			}
			// The conflict penalty floors at 0.1.
			return !af.HasConflict || af.Confidence >= 0.1-1e-9
		},
		genEvidence(),
	))

	properties.TestingRun(t)
}
