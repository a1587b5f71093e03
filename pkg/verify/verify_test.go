package verify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/enrich/pkg/aggregate"
	"github.com/rowforge/enrich/pkg/verify"
)

func field(name string, conf float64) *aggregate.Field {
	return &aggregate.Field{Field: name, CanonicalValue: "v", Confidence: conf}
}

func TestThreshold_Modes(t *testing.T) {
	assert.Equal(t, 0.6, verify.Threshold("name", verify.ModeNormal))
	assert.Equal(t, 0.8, verify.Threshold("name", verify.ModeCritical))
	assert.Equal(t, 0.4, verify.Threshold("name", verify.ModeBestEffort))
	assert.Equal(t, 0.4, verify.Threshold("short_bio", verify.ModeNormal))
	assert.Equal(t, 0.4, verify.Threshold("short_bio", verify.ModeCritical), "non-core fields keep their base under critical")
	assert.Equal(t, 0.3, verify.Threshold("short_bio", verify.ModeBestEffort))
	assert.Equal(t, 0.5, verify.Threshold("unknown_field", verify.ModeNormal))
}

func TestVerify_AllAccepted(t *testing.T) {
	fields := map[string]*aggregate.Field{
		"name":    field("name", 0.9),
		"company": field("company", 0.7),
	}
	report := verify.Verify(fields, []string{"name", "company"}, verify.ModeNormal)

	assert.Equal(t, verify.StatusVerified, report.Status)
	assert.True(t, report.Accepted("name"))
	assert.True(t, report.Accepted("company"))
	assert.Empty(t, report.FieldsToEscalate)
}

func TestVerify_EscalationBand(t *testing.T) {
	// title threshold 0.5; 0.3 sits in [0.25, 0.5).
	fields := map[string]*aggregate.Field{
		"name":  field("name", 0.9),
		"title": field("title", 0.3),
	}
	report := verify.Verify(fields, []string{"name", "title"}, verify.ModeNormal)

	assert.Equal(t, verify.StatusNeedsEscalation, report.Status)
	require.Contains(t, report.FieldsToEscalate, "title")
	assert.Equal(t, verify.DecisionEscalate, report.Verdicts["title"].Decision)
}

func TestVerify_RequireMoreBelowHalfThreshold(t *testing.T) {
	fields := map[string]*aggregate.Field{
		"name":  field("name", 0.9),
		"title": field("title", 0.2),
	}
	report := verify.Verify(fields, []string{"name", "title"}, verify.ModeNormal)

	assert.Equal(t, verify.StatusPartial, report.Status)
	assert.Equal(t, verify.DecisionRequireMore, report.Verdicts["title"].Decision)
	assert.Empty(t, report.FieldsToEscalate)
}

func TestVerify_MissingFieldIsRequireMore(t *testing.T) {
	report := verify.Verify(map[string]*aggregate.Field{}, []string{"email"}, verify.ModeNormal)

	assert.Equal(t, verify.StatusFailed, report.Status)
	v := report.Verdicts["email"]
	assert.Equal(t, verify.DecisionRequireMore, v.Decision)
	assert.Equal(t, "no value produced", v.Reason)
}

func TestVerify_CriticalModeRejectsModerateEvidence(t *testing.T) {
	fields := map[string]*aggregate.Field{"name": field("name", 0.7)}

	normal := verify.Verify(fields, []string{"name"}, verify.ModeNormal)
	critical := verify.Verify(fields, []string{"name"}, verify.ModeCritical)

	assert.True(t, normal.Accepted("name"))
	assert.False(t, critical.Accepted("name"))
	assert.Equal(t, verify.DecisionEscalate, critical.Verdicts["name"].Decision)
}

func TestVerify_NoRequestedFields(t *testing.T) {
	report := verify.Verify(nil, nil, verify.ModeNormal)
	assert.Equal(t, verify.StatusVerified, report.Status)
}
