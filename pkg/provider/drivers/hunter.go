package drivers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rowforge/enrich/pkg/apikeys"
	"github.com/rowforge/enrich/pkg/normalize"
	"github.com/rowforge/enrich/pkg/provider"
)

const (
	hunterName     = "hunter"
	hunterCost     = 1
	hunterEndpoint = "https://api.hunter.io/v2/email-finder"
)

// Hunter finds work email addresses from a name and company domain.
type Hunter struct {
	*client
	endpoint string
}

// NewHunter creates the driver.
func NewHunter(keys *apikeys.Manager) *Hunter {
	return &Hunter{client: newClient(keys, 2), endpoint: hunterEndpoint}
}

// WithEndpoint redirects the driver, mainly for tests.
func (h *Hunter) WithEndpoint(url string) *Hunter {
	h.endpoint = url
	return h
}

func (h *Hunter) Name() string        { return hunterName }
func (h *Hunter) Tier() provider.Tier { return provider.TierCheap }
func (h *Hunter) CostCents() int64    { return hunterCost }

func (h *Hunter) CanEnrich(field string) bool {
	return field == provider.FieldEmail || field == provider.FieldEmailCandidates
}

type hunterResponse struct {
	Data struct {
		Email   string `json:"email"`
		Score   int    `json:"score"`
		Sources []struct {
			URI string `json:"uri"`
		} `json:"sources"`
	} `json:"data"`
}

func (h *Hunter) Enrich(ctx context.Context, in *normalize.Input, field string) (*provider.Result, error) {
	if !h.CanEnrich(field) || in.Domain == "" || in.Name == "" {
		return nil, nil
	}
	parts := strings.Fields(in.Name)
	if len(parts) < 2 {
		return nil, nil
	}
	first, last := parts[0], parts[len(parts)-1]

	var resp hunterResponse
	err := h.getJSON(ctx, hunterName, func(key string) (*http.Request, error) {
		q := url.Values{}
		q.Set("domain", in.Domain)
		q.Set("first_name", first)
		q.Set("last_name", last)
		q.Set("api_key", key)
		return http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint+"?"+q.Encode(), nil)
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("hunter: find email for %s@%s: %w", first, in.Domain, err)
	}

	email := strings.ToLower(resp.Data.Email)
	if email == "" {
		return nil, nil
	}
	confidence := float64(resp.Data.Score) / 100
	if confidence <= 0 {
		confidence = 0.5
	}

	var value any = email
	if field == provider.FieldEmailCandidates {
		value = []string{email}
	}
	return stamp(&provider.Result{
		Field:      field,
		Value:      value,
		Confidence: confidence,
		Verified:   resp.Data.Score >= 90,
	}, hunterName, hunterCost), nil
}
