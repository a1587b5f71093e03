// Package synth generates the text fields (short bio, company summary)
// from accepted facts. It never invents claims: the prompt restricts the
// model to the supplied snippets, and a run with no snippets produces
// nothing at all.
package synth

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/rowforge/enrich/pkg/aggregate"
	"github.com/rowforge/enrich/pkg/llm"
	"github.com/rowforge/enrich/pkg/normalize"
	"github.com/rowforge/enrich/pkg/provider"
)

const (
	sourceName       = "llm"
	defaultMaxTokens = 200
	defaultTemp      = 0.2
)

// fieldInputs lists which accepted fields ground each generated field.
var fieldInputs = map[string][]string{
	provider.FieldShortBio: {
		provider.FieldName, provider.FieldTitle, provider.FieldCompany, provider.FieldLocation,
	},
	provider.FieldCompanySummary: {
		provider.FieldCompany, provider.FieldIndustry, provider.FieldDomain,
		provider.FieldWebsite, provider.FieldLocation,
	},
}

var prompts = map[string]string{
	provider.FieldShortBio: "Write a two-sentence professional bio for the person described below. " +
		"Use only the facts given; do not add employers, dates, or achievements that are not listed.",
	provider.FieldCompanySummary: "Write a two-sentence summary of the company described below. " +
		"Use only the facts given; do not add products, figures, or history that are not listed.",
}

// CanSynthesize reports whether field is a generated text field.
func CanSynthesize(field string) bool {
	_, ok := fieldInputs[field]
	return ok
}

// snippet is one grounding fact fed to the model.
type snippet struct {
	field      string
	value      string
	source     string
	confidence float64
}

// Synthesizer produces generated field values through a text model.
type Synthesizer struct {
	client      llm.Client
	logger      *slog.Logger
	maxTokens   int
	temperature float64
	clock       func() time.Time
}

// New creates a synthesizer. logger may be nil.
func New(client llm.Client, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		client:      client,
		logger:      logger.With("component", "synth"),
		maxTokens:   defaultMaxTokens,
		temperature: defaultTemp,
		clock:       time.Now,
	}
}

// WithClock overrides the timestamp clock for deterministic tests.
func (s *Synthesizer) WithClock(clock func() time.Time) *Synthesizer {
	s.clock = clock
	return s
}

// Synthesize generates a value for field from the accepted facts. It
// returns nil when field is not synthesizable, no grounding snippets
// exist, or the generation call fails. Failures are logged, not raised.
func (s *Synthesizer) Synthesize(ctx context.Context, in *normalize.Input, field string, accepted map[string]*aggregate.Field) *provider.Result {
	if s.client == nil || !CanSynthesize(field) {
		return nil
	}
	snippets := s.collect(in, field, accepted)
	if len(snippets) == 0 {
		return nil
	}

	text, err := s.client.Generate(ctx, prompts[field], renderFacts(snippets), s.maxTokens, s.temperature)
	if err != nil || strings.TrimSpace(text) == "" {
		s.logger.Warn("synthesis failed", "field", field, "row_id", in.RowID, "error", err)
		return nil
	}

	return &provider.Result{
		Field:      field,
		Value:      strings.TrimSpace(text),
		Confidence: confidence(snippets),
		Source:     sourceName,
		Generated:  true,
		Timestamp:  s.clock(),
	}
}

// collect gathers grounding snippets: accepted aggregated values first,
// then canonical input fields that aggregation never touched.
func (s *Synthesizer) collect(in *normalize.Input, field string, accepted map[string]*aggregate.Field) []snippet {
	var out []snippet
	for _, inputField := range fieldInputs[field] {
		if af, ok := accepted[inputField]; ok && af.CanonicalValue != nil {
			if v := stringValue(af.CanonicalValue); v != "" {
				src := "input"
				if len(af.Sources) > 0 {
					src = af.Sources[0]
				}
				out = append(out, snippet{field: inputField, value: v, source: src, confidence: af.Confidence})
			}
			continue
		}
		if v := inputValue(in, inputField); v != "" {
			out = append(out, snippet{field: inputField, value: v, source: "input", confidence: 1.0})
		}
	}
	return out
}

func inputValue(in *normalize.Input, field string) string {
	switch field {
	case provider.FieldName:
		return in.Name
	case provider.FieldCompany:
		return in.Company
	case provider.FieldDomain, provider.FieldWebsite:
		return in.Domain
	default:
		v, _ := in.RawString(field)
		return v
	}
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []string:
		return strings.Join(t, ", ")
	case fmt.Stringer:
		return t.String()
	default:
		return ""
	}
}

func renderFacts(snippets []snippet) string {
	var b strings.Builder
	b.WriteString("Facts:\n")
	for _, sn := range snippets {
		fmt.Fprintf(&b, "- %s: %s\n", sn.field, sn.value)
	}
	return b.String()
}

// confidence is the mean of a source-count base (0.4 for one distinct
// source, 0.6 for two, 0.7 for three or more) and the average snippet
// confidence.
func confidence(snippets []snippet) float64 {
	sources := make(map[string]bool)
	var sum float64
	for _, sn := range snippets {
		sources[sn.source] = true
		sum += sn.confidence
	}
	base := 0.4
	switch {
	case len(sources) >= 3:
		base = 0.7
	case len(sources) == 2:
		base = 0.6
	}
	return (base + sum/float64(len(snippets))) / 2
}

// InputFields returns the grounding field list for a generated field,
// sorted, for introspection and logging.
func InputFields(field string) []string {
	out := append([]string(nil), fieldInputs[field]...)
	sort.Strings(out)
	return out
}
