package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/enrich/pkg/normalize"
	"github.com/rowforge/enrich/pkg/plan"
	"github.com/rowforge/enrich/pkg/provider"
)

func testRegistry(t *testing.T) *provider.Registry {
	t.Helper()
	reg, err := provider.NewRegistry(provider.MockSet()...)
	require.NoError(t, err)
	return reg
}

func input(raw map[string]any) *normalize.Input {
	return normalize.NewInput("t1", "r1", raw)
}

func TestBuild_EmptyWhenFieldsPresent(t *testing.T) {
	p := plan.New(testRegistry(t), nil)
	in := input(map[string]any{"name": "Jane Doe", "company": "Acme"})

	got, err := p.Build(in, []string{"name", "company"}, plan.Options{BudgetCents: 10})
	require.NoError(t, err)
	assert.True(t, got.Empty())
	assert.NotEmpty(t, got.Note)
}

func TestBuild_WellFormed(t *testing.T) {
	reg := testRegistry(t)
	p := plan.New(reg, nil)
	in := input(map[string]any{"company": "Acme"})

	got, err := p.Build(in, []string{"name", "title", "website", "email"}, plan.Options{BudgetCents: 10})
	require.NoError(t, err)
	require.False(t, got.Empty())

	assert.LessOrEqual(t, got.CostCents(), got.BudgetCents)
	for _, step := range got.Steps {
		if step.Synthesis {
			continue
		}
		_, err := reg.ByName(step.Provider)
		assert.NoError(t, err, "step %d references unknown provider %q", step.Index, step.Provider)
	}
	for i, step := range got.Steps {
		assert.Equal(t, i, step.Index)
	}
}

func TestBuild_LinkedInPreferred(t *testing.T) {
	p := plan.New(testRegistry(t), nil)
	in := input(map[string]any{"linkedin": "https://linkedin.com/in/jdoe"})

	got, err := p.Build(in, []string{"name", "title", "company"}, plan.Options{BudgetCents: 100})
	require.NoError(t, err)
	require.False(t, got.Empty())

	first := got.Steps[0]
	assert.Equal(t, "linkedin", first.Provider)
	assert.Equal(t, plan.PriorityHigh, first.Priority)
}

func TestBuild_DependencyOrder(t *testing.T) {
	p := plan.New(testRegistry(t), nil)
	in := input(map[string]any{"company": "Acme"})

	got, err := p.Build(in, []string{"email_candidates", "name", "title"}, plan.Options{BudgetCents: 100})
	require.NoError(t, err)

	pos := make(map[string]int)
	for _, s := range got.Steps {
		if _, seen := pos[s.Field]; !seen {
			pos[s.Field] = s.Index
		}
	}
	if nameIdx, ok := pos["name"]; ok {
		if candIdx, ok := pos["email_candidates"]; ok {
			assert.Greater(t, candIdx, nameIdx, "email candidates depend on name")
		}
	}
}

func TestBuild_BudgetCapsSteps(t *testing.T) {
	p := plan.New(testRegistry(t), nil)
	in := input(map[string]any{"company": "Acme"})

	// 0¢ budget: only free providers can appear.
	got, err := p.Build(in, []string{"title", "website"}, plan.Options{BudgetCents: 0})
	require.NoError(t, err)
	for _, s := range got.Steps {
		assert.Zero(t, s.MaxCostCents)
	}
}

func TestBuild_DisabledProvidersSkipped(t *testing.T) {
	p := plan.New(testRegistry(t), nil)
	in := input(map[string]any{"linkedin": "https://linkedin.com/in/jdoe"})

	got, err := p.Build(in, []string{"title"}, plan.Options{
		BudgetCents: 100,
		Disabled:    func(name string) bool { return name == "linkedin" },
	})
	require.NoError(t, err)
	for _, s := range got.Steps {
		assert.NotEqual(t, "linkedin", s.Provider)
	}
}

func TestBuild_SynthesisAppended(t *testing.T) {
	p := plan.New(testRegistry(t), nil)
	in := input(map[string]any{"name": "Jane Doe", "company": "Acme"})

	got, err := p.Build(in, []string{"title", "short_bio"}, plan.Options{BudgetCents: 100})
	require.NoError(t, err)
	require.False(t, got.Empty())

	last := got.Steps[len(got.Steps)-1]
	assert.True(t, last.Synthesis)
	assert.Equal(t, "short_bio", last.Field)
	assert.Equal(t, "llm", last.Provider)
	assert.LessOrEqual(t, got.CostCents(), got.BudgetCents)
}

func TestBuild_NoSynthesisWithoutFacts(t *testing.T) {
	p := plan.New(testRegistry(t), nil)
	in := input(map[string]any{"domain": "example.com"})

	got, err := p.Build(in, []string{"short_bio"}, plan.Options{BudgetCents: 100})
	require.NoError(t, err)
	for _, s := range got.Steps {
		assert.False(t, s.Synthesis, "no grounding facts, no synthesis")
	}
}
