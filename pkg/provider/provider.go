// Package provider defines the uniform contract every enrichment data
// source implements, the registry that indexes them, and the error
// taxonomy the executor and key manager act on.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/rowforge/enrich/pkg/normalize"
)

// Tier is the cost class of a provider. Ordering is free < cheap < premium.
type Tier string

const (
	TierFree    Tier = "free"
	TierCheap   Tier = "cheap"
	TierPremium Tier = "premium"
)

// Rank returns the waterfall position of a tier.
func (t Tier) Rank() int {
	switch t {
	case TierFree:
		return 0
	case TierCheap:
		return 1
	case TierPremium:
		return 2
	default:
		return 3
	}
}

// Canonical field keys shared across the engine.
const (
	FieldName            = "name"
	FieldCompany         = "company"
	FieldTitle           = "title"
	FieldEmail           = "email"
	FieldEmailCandidates = "email_candidates"
	FieldDomain          = "domain"
	FieldWebsite         = "website"
	FieldLocation        = "location"
	FieldIndustry        = "industry"
	FieldSocialLinks     = "social_links"
	FieldShortBio        = "short_bio"
	FieldCompanySummary  = "company_summary"
	FieldWhois           = "whois"
)

// Result is a single provider answer for one field. Immutable once emitted.
type Result struct {
	Field      string         `json:"field"`
	Value      any            `json:"value"` // string, float64, []string or nil
	Confidence float64        `json:"confidence"`
	Source     string         `json:"source"`
	CostCents  int64          `json:"cost_cents"`
	Timestamp  time.Time      `json:"timestamp"`
	Verified   bool           `json:"verified"`
	Generated  bool           `json:"generated,omitempty"`
	Raw        map[string]any `json:"raw,omitempty"`
}

// Provider is the uniform enrichment contract. Enrich returns (nil, nil)
// for a clean not-found: the provider answered, the entity has no value.
type Provider interface {
	Name() string
	Tier() Tier
	CostCents() int64
	CanEnrich(field string) bool
	Enrich(ctx context.Context, in *normalize.Input, field string) (*Result, error)
}

// Sentinel errors surfaced across the engine.
var (
	// ErrProviderNotFound means a plan referenced a name absent from the
	// registry. This is a fatal invariant break, not a lookup miss.
	ErrProviderNotFound = errors.New("provider not found in registry")

	// ErrProviderDisabled means the circuit breaker or cost governor has
	// taken the provider out of rotation.
	ErrProviderDisabled = errors.New("provider disabled")

	// ErrRateLimited marks quota-style failures (429/403/503). The key
	// manager rotates keys on this class without counting a breaker failure
	// against availability of other keys.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrBudgetExceeded means the cost governor rejected the call.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrCircuitOpen means the provider's breaker is rejecting calls.
	ErrCircuitOpen = errors.New("circuit open")
)

// ErrorClass buckets failures for breaker and key-rotation decisions.
type ErrorClass int

const (
	// ClassTransient: timeouts, 5xx, transport faults. Retryable, counts
	// against the circuit breaker.
	ClassTransient ErrorClass = iota
	// ClassRateLimited: per-key quota exhaustion. Rotate keys; does not
	// count against the breaker unless every key is gone.
	ClassRateLimited
	// ClassRejected: budget or breaker rejections, and calls abandoned
	// because the caller cancelled. Never retried, never counted as
	// provider failures.
	ClassRejected
	// ClassPermanent: bad requests and invariant breaks. Bubble up.
	ClassPermanent
)

// Classify maps an error to its handling class.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassRejected
	case errors.Is(err, ErrRateLimited):
		return ClassRateLimited
	case errors.Is(err, ErrBudgetExceeded), errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrProviderDisabled):
		return ClassRejected
	case errors.Is(err, context.Canceled):
		// The caller abandoned the call (probe race won elsewhere, row
		// aborted). Says nothing about the provider's health.
		return ClassRejected
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	default:
		var te interface{ Timeout() bool }
		if errors.As(err, &te) && te.Timeout() {
			return ClassTransient
		}
		var se interface{ StatusCode() int }
		if errors.As(err, &se) {
			switch code := se.StatusCode(); {
			case code == 429 || code == 403 || code == 503:
				return ClassRateLimited
			case code >= 500:
				return ClassTransient
			default:
				return ClassPermanent
			}
		}
		return ClassTransient
	}
}

// HTTPError carries an upstream status code through the error chain so
// Classify and the key manager can act on it.
type HTTPError struct {
	Provider string
	Code     int
	Body     string
}

func (e *HTTPError) Error() string {
	return e.Provider + ": upstream status " + itoa(e.Code)
}

// StatusCode implements the status-carrier contract used by Classify.
func (e *HTTPError) StatusCode() int { return e.Code }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
