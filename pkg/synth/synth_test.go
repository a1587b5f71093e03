package synth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/enrich/pkg/aggregate"
	"github.com/rowforge/enrich/pkg/llm"
	"github.com/rowforge/enrich/pkg/normalize"
	"github.com/rowforge/enrich/pkg/synth"
)

func acceptedField(field string, value any, conf float64, sources ...string) *aggregate.Field {
	return &aggregate.Field{Field: field, CanonicalValue: value, Confidence: conf, Sources: sources}
}

func fixedClock() func() time.Time {
	at := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func TestSynthesize_ShortBio(t *testing.T) {
	var gotUser string
	client := llm.GenerateFunc(func(ctx context.Context, sys, user string, maxTokens int, temp float64) (string, error) {
		gotUser = user
		return " Jane Doe is VP of Engineering at Acme. ", nil
	})
	s := synth.New(client, nil).WithClock(fixedClock())

	in := normalize.NewInput("t1", "r1", map[string]any{"name": "Jane Doe"})
	accepted := map[string]*aggregate.Field{
		"title":   acceptedField("title", "VP of Engineering", 0.9, "linkedin"),
		"company": acceptedField("company", "Acme", 0.8, "serper"),
	}

	res := s.Synthesize(context.Background(), in, "short_bio", accepted)
	require.NotNil(t, res)

	assert.Equal(t, "Jane Doe is VP of Engineering at Acme.", res.Value)
	assert.Equal(t, "llm", res.Source)
	assert.True(t, res.Generated)
	assert.Contains(t, gotUser, "VP of Engineering")
	assert.Contains(t, gotUser, "Jane Doe")

	// Three distinct sources (input, linkedin, serper): base 0.7,
	// average snippet confidence (1.0+0.9+0.8)/3 = 0.9.
	assert.InDelta(t, (0.7+0.9)/2, res.Confidence, 1e-9)
}

func TestSynthesize_NoSnippetsIsSilent(t *testing.T) {
	client := llm.GenerateFunc(func(ctx context.Context, sys, user string, maxTokens int, temp float64) (string, error) {
		t.Fatal("model must not be called without grounding facts")
		return "", nil
	})
	s := synth.New(client, nil)

	in := normalize.NewInput("t1", "r1", map[string]any{})
	assert.Nil(t, s.Synthesize(context.Background(), in, "short_bio", nil))
}

func TestSynthesize_GenerationErrorIsSilent(t *testing.T) {
	client := llm.GenerateFunc(func(ctx context.Context, sys, user string, maxTokens int, temp float64) (string, error) {
		return "", errors.New("upstream unavailable")
	})
	s := synth.New(client, nil)

	in := normalize.NewInput("t1", "r1", map[string]any{"name": "Jane Doe"})
	assert.Nil(t, s.Synthesize(context.Background(), in, "short_bio", nil))
}

func TestSynthesize_UnknownFieldIgnored(t *testing.T) {
	client := llm.GenerateFunc(func(ctx context.Context, sys, user string, maxTokens int, temp float64) (string, error) {
		return "anything", nil
	})
	s := synth.New(client, nil)

	in := normalize.NewInput("t1", "r1", map[string]any{"name": "Jane Doe"})
	assert.Nil(t, s.Synthesize(context.Background(), in, "email", nil))
}

func TestCanSynthesize(t *testing.T) {
	assert.True(t, synth.CanSynthesize("short_bio"))
	assert.True(t, synth.CanSynthesize("company_summary"))
	assert.False(t, synth.CanSynthesize("email"))
}

func TestSynthesize_SingleSourceBase(t *testing.T) {
	client := llm.GenerateFunc(func(ctx context.Context, sys, user string, maxTokens int, temp float64) (string, error) {
		return "Acme is a manufacturer.", nil
	})
	s := synth.New(client, nil).WithClock(fixedClock())

	in := normalize.NewInput("t1", "r1", map[string]any{"company": "Acme"})
	res := s.Synthesize(context.Background(), in, "company_summary", nil)
	require.NotNil(t, res)

	// One distinct source (input): base 0.4, snippet confidence 1.0.
	assert.InDelta(t, (0.4+1.0)/2, res.Confidence, 1e-9)
}
