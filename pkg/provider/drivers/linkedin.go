package drivers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rowforge/enrich/pkg/apikeys"
	"github.com/rowforge/enrich/pkg/normalize"
	"github.com/rowforge/enrich/pkg/provider"
)

const (
	linkedinName     = "linkedin"
	linkedinCost     = 10
	linkedinEndpoint = "https://nubela.co/proxycurl/api/v2/linkedin"
)

// LinkedIn resolves profile fields through a profile-scraping API. It is
// the premium source: expensive, rate limited hard, and most trusted.
type LinkedIn struct {
	*client
	endpoint string
}

// NewLinkedIn creates the driver.
func NewLinkedIn(keys *apikeys.Manager) *LinkedIn {
	return &LinkedIn{client: newClient(keys, 1), endpoint: linkedinEndpoint}
}

// WithEndpoint redirects the driver, mainly for tests.
func (l *LinkedIn) WithEndpoint(url string) *LinkedIn {
	l.endpoint = url
	return l
}

func (l *LinkedIn) Name() string        { return linkedinName }
func (l *LinkedIn) Tier() provider.Tier { return provider.TierPremium }
func (l *LinkedIn) CostCents() int64    { return linkedinCost }

func (l *LinkedIn) CanEnrich(field string) bool {
	switch field {
	case provider.FieldName, provider.FieldTitle, provider.FieldCompany,
		provider.FieldLocation, provider.FieldSocialLinks:
		return true
	}
	return false
}

type linkedinResponse struct {
	FullName    string `json:"full_name"`
	Occupation  string `json:"occupation"`
	City        string `json:"city"`
	State       string `json:"state"`
	PublicURL   string `json:"public_identifier"`
	Experiences []struct {
		Company string `json:"company"`
		Title   string `json:"title"`
	} `json:"experiences"`
}

func (l *LinkedIn) Enrich(ctx context.Context, in *normalize.Input, field string) (*provider.Result, error) {
	if !l.CanEnrich(field) || in.LinkedInURL == "" {
		return nil, nil
	}

	var resp linkedinResponse
	err := l.getJSON(ctx, linkedinName, func(key string) (*http.Request, error) {
		q := url.Values{}
		q.Set("url", in.LinkedInURL)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+key)
		return req, nil
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("linkedin: fetch profile: %w", err)
	}

	value := l.extract(in, field, &resp)
	if value == nil {
		return nil, nil
	}
	return stamp(&provider.Result{
		Field:      field,
		Value:      value,
		Confidence: 0.95,
		Verified:   true,
	}, linkedinName, linkedinCost), nil
}

func (l *LinkedIn) extract(in *normalize.Input, field string, resp *linkedinResponse) any {
	switch field {
	case provider.FieldName:
		if resp.FullName != "" {
			return resp.FullName
		}
	case provider.FieldTitle:
		if resp.Occupation != "" {
			return resp.Occupation
		}
		if len(resp.Experiences) > 0 && resp.Experiences[0].Title != "" {
			return resp.Experiences[0].Title
		}
	case provider.FieldCompany:
		if len(resp.Experiences) > 0 && resp.Experiences[0].Company != "" {
			return resp.Experiences[0].Company
		}
	case provider.FieldLocation:
		switch {
		case resp.City != "" && resp.State != "":
			return resp.City + ", " + resp.State
		case resp.City != "":
			return resp.City
		}
	case provider.FieldSocialLinks:
		return []string{in.LinkedInURL}
	}
	return nil
}
