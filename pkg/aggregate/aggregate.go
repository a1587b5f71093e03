// Package aggregate reconciles the evidence collected for a row into one
// canonical value per field. Results are bucketed by field, grouped by
// value similarity, fused under fixed source weights, and annotated with
// consensus boosts and conflict penalties.
//
// Aggregation is commutative: any permutation of the same evidence list
// produces the same canonical values and confidences.
package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rowforge/enrich/pkg/provider"
)

// sourceWeights is the fixed trust table. Unknown sources weigh 0.5.
var sourceWeights = map[string]float64{
	"linkedin":          0.95,
	"opencorporates":    0.95,
	"hunter":            0.9,
	"github":            0.9,
	"whois":             0.85,
	"smart_enrichment":  0.8,
	"cache":             0.8,
	"serp":              0.7,
	"serper":            0.7,
	"pattern_inference": 0.3,
	"llm":               0.2,
}

// SourceWeight returns the trust weight for a source name.
func SourceWeight(source string) float64 {
	if w, ok := sourceWeights[source]; ok {
		return w
	}
	return 0.5
}

// similarityThreshold: values at or above this similarity share a group.
const similarityThreshold = 0.85

// Field is the aggregation outcome for one field.
type Field struct {
	Field             string            `json:"field"`
	CanonicalValue    any               `json:"canonical_value"`
	Confidence        float64           `json:"confidence"`
	Sources           []string          `json:"sources"`
	HasConflict       bool              `json:"has_conflict"`
	ConflictingValues []any             `json:"conflicting_values,omitempty"`
	AllResults        []provider.Result `json:"all_results,omitempty"`
}

type group struct {
	members  []provider.Result
	weighted float64
}

// Aggregate buckets evidence by field and fuses each bucket.
func Aggregate(results []provider.Result) map[string]*Field {
	buckets := make(map[string][]provider.Result)
	for _, r := range results {
		if r.Value == nil {
			continue
		}
		buckets[r.Field] = append(buckets[r.Field], r)
	}
	out := make(map[string]*Field, len(buckets))
	for field, bucket := range buckets {
		out[field] = fuse(field, bucket)
	}
	return out
}

func fuse(field string, bucket []provider.Result) *Field {
	// Canonical ordering first so grouping is independent of arrival order.
	sorted := append([]provider.Result(nil), bucket...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ki, kj := ValueKey(sorted[i].Value), ValueKey(sorted[j].Value)
		if ki != kj {
			return ki < kj
		}
		return sorted[i].Source < sorted[j].Source
	})

	var groups []*group
	for _, r := range sorted {
		placed := false
		for _, g := range groups {
			if Similarity(g.members[0].Value, r.Value) >= similarityThreshold {
				g.members = append(g.members, r)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, &group{members: []provider.Result{r}})
		}
	}

	for _, g := range groups {
		for _, m := range g.members {
			g.weighted += m.Confidence * SourceWeight(m.Source)
		}
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].weighted != groups[j].weighted {
			return groups[i].weighted > groups[j].weighted
		}
		return ValueKey(groups[i].members[0].Value) < ValueKey(groups[j].members[0].Value)
	})
	winner := groups[0]

	// The canonical value comes from the most trusted source in the group.
	best := winner.members[0]
	for _, m := range winner.members[1:] {
		if SourceWeight(m.Source) > SourceWeight(best.Source) {
			best = m
		}
	}

	sourceSet := make(map[string]bool)
	var avg float64
	for _, m := range winner.members {
		avg += m.Confidence
		sourceSet[m.Source] = true
	}
	avg /= float64(len(winner.members))

	confidence := avg
	if len(sourceSet) >= 2 {
		confidence += 0.1 // consensus boost
		if confidence > 1.0 {
			confidence = 1.0
		}
	}
	if len(groups) > 1 {
		confidence -= 0.05 * float64(len(groups)-1) // conflict penalty
		if confidence < 0.1 {
			confidence = 0.1
		}
	}

	sources := make([]string, 0, len(sourceSet))
	for s := range sourceSet {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	af := &Field{
		Field:          field,
		CanonicalValue: best.Value,
		Confidence:     confidence,
		Sources:        sources,
		HasConflict:    len(groups) > 1,
		AllResults:     bucket,
	}
	for _, g := range groups[1:] {
		af.ConflictingValues = append(af.ConflictingValues, g.members[0].Value)
	}
	return af
}

// ValueKey renders a value in normalized comparable form: lowercase,
// trimmed, whitespace collapsed; list members sorted.
func ValueKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.Join(strings.Fields(strings.ToLower(t)), " ")
	case []string:
		members := make([]string, len(t))
		for i, m := range t {
			members[i] = strings.Join(strings.Fields(strings.ToLower(m)), " ")
		}
		sort.Strings(members)
		return strings.Join(members, "|")
	case []any:
		members := make([]string, len(t))
		for i, m := range t {
			members[i] = ValueKey(m)
		}
		sort.Strings(members)
		return strings.Join(members, "|")
	default:
		return strings.ToLower(fmt.Sprintf("%v", t))
	}
}

// levenshteinLimit bounds the string length for edit-distance scoring;
// longer strings either contain each other or do not match.
const levenshteinLimit = 80

// Similarity scores two values in [0,1].
func Similarity(a, b any) float64 {
	ka, kb := ValueKey(a), ValueKey(b)
	if ka == "" || kb == "" {
		return 0
	}
	if ka == kb {
		return 1
	}
	shorter, longer := ka, kb
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if strings.Contains(longer, shorter) {
		return 0.7 + 0.3*float64(len(shorter))/float64(len(longer))
	}
	if len(longer) <= levenshteinLimit {
		d := levenshtein(ka, kb)
		return 1 - float64(d)/float64(len(longer))
	}
	return 0
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
