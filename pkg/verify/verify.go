// Package verify decides, per field, whether an aggregated value is good
// enough to accept, needs premium escalation, or needs more evidence.
package verify

import (
	"github.com/rowforge/enrich/pkg/aggregate"
	"github.com/rowforge/enrich/pkg/provider"
)

// Mode shifts the acceptance thresholds for a whole run.
type Mode string

const (
	// ModeCritical raises core-field thresholds to 0.8.
	ModeCritical Mode = "critical"
	// ModeNormal uses the default per-field thresholds.
	ModeNormal Mode = "normal"
	// ModeBestEffort lowers thresholds to accept weaker evidence.
	ModeBestEffort Mode = "best_effort"
)

// Decision is the verdict for one field.
type Decision string

const (
	DecisionAccept      Decision = "accept"
	DecisionEscalate    Decision = "escalate"
	DecisionRequireMore Decision = "require-more"
	DecisionFail        Decision = "fail"
)

// Status summarizes a whole row.
type Status string

const (
	StatusVerified        Status = "verified"
	StatusPartial         Status = "partial"
	StatusNeedsEscalation Status = "needs-escalation"
	StatusFailed          Status = "failed"
)

// defaultThresholds is the per-field acceptance table under ModeNormal.
var defaultThresholds = map[string]float64{
	provider.FieldName:           0.6,
	provider.FieldCompany:        0.6,
	provider.FieldEmail:          0.5,
	provider.FieldTitle:          0.5,
	provider.FieldShortBio:       0.4,
	provider.FieldSocialLinks:    0.5,
	provider.FieldCompanySummary: 0.4,
}

// coreFields get the 0.8 bump under ModeCritical.
var coreFields = map[string]bool{
	provider.FieldName:    true,
	provider.FieldCompany: true,
	provider.FieldEmail:   true,
	provider.FieldTitle:   true,
}

const fallbackThreshold = 0.5

// Threshold returns the acceptance threshold for a field under a mode.
func Threshold(field string, mode Mode) float64 {
	base, ok := defaultThresholds[field]
	if !ok {
		base = fallbackThreshold
	}
	switch mode {
	case ModeCritical:
		if coreFields[field] {
			return 0.8
		}
		return base
	case ModeBestEffort:
		if base >= 0.5 {
			return 0.4
		}
		return 0.3
	default:
		return base
	}
}

// FieldVerdict is the outcome for one field.
type FieldVerdict struct {
	Field      string   `json:"field"`
	Decision   Decision `json:"decision"`
	Confidence float64  `json:"confidence"`
	Threshold  float64  `json:"threshold"`
	Reason     string   `json:"reason,omitempty"`
}

// Report is the verdict set for one row.
type Report struct {
	Status           Status                  `json:"status"`
	Verdicts         map[string]FieldVerdict `json:"verdicts"`
	FieldsToEscalate []string                `json:"fields_to_escalate,omitempty"`
}

// Accepted reports whether a field passed verification.
func (r *Report) Accepted(field string) bool {
	v, ok := r.Verdicts[field]
	return ok && v.Decision == DecisionAccept
}

// Verify compares each requested field's aggregated confidence against
// its threshold. Fields with no aggregated value at all are require-more.
func Verify(fields map[string]*aggregate.Field, requested []string, mode Mode) *Report {
	report := &Report{Verdicts: make(map[string]FieldVerdict, len(requested))}

	var accepted, escalate, missing int
	for _, field := range requested {
		threshold := Threshold(field, mode)
		af, ok := fields[field]
		if !ok || af.CanonicalValue == nil {
			report.Verdicts[field] = FieldVerdict{
				Field:     field,
				Decision:  DecisionRequireMore,
				Threshold: threshold,
				Reason:    "no value produced",
			}
			missing++
			continue
		}

		verdict := FieldVerdict{Field: field, Confidence: af.Confidence, Threshold: threshold}
		switch {
		case af.Confidence >= threshold:
			verdict.Decision = DecisionAccept
			accepted++
		case af.Confidence >= threshold/2:
			verdict.Decision = DecisionEscalate
			verdict.Reason = "confidence below threshold, premium retry may resolve"
			report.FieldsToEscalate = append(report.FieldsToEscalate, field)
			escalate++
		default:
			verdict.Decision = DecisionRequireMore
			verdict.Reason = "confidence too low"
			missing++
		}
		report.Verdicts[field] = verdict
	}

	switch {
	case len(requested) == 0:
		report.Status = StatusVerified
	case accepted == len(requested):
		report.Status = StatusVerified
	case escalate > 0:
		report.Status = StatusNeedsEscalation
	case accepted > 0:
		report.Status = StatusPartial
	default:
		report.Status = StatusFailed
	}
	return report
}
