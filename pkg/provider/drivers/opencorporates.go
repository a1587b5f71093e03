package drivers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rowforge/enrich/pkg/normalize"
	"github.com/rowforge/enrich/pkg/provider"
)

const (
	opencorpName     = "opencorporates"
	opencorpEndpoint = "https://api.opencorporates.com/v0.4"
)

// OpenCorporates resolves legal company records from the public
// registry. Free tier, heavily rate limited upstream.
type OpenCorporates struct {
	*client
	endpoint string
}

// NewOpenCorporates creates the driver.
func NewOpenCorporates() *OpenCorporates {
	return &OpenCorporates{client: newClient(nil, 0.5), endpoint: opencorpEndpoint}
}

// WithEndpoint redirects the driver, mainly for tests.
func (o *OpenCorporates) WithEndpoint(url string) *OpenCorporates {
	o.endpoint = url
	return o
}

func (o *OpenCorporates) Name() string        { return opencorpName }
func (o *OpenCorporates) Tier() provider.Tier { return provider.TierFree }
func (o *OpenCorporates) CostCents() int64    { return 0 }

func (o *OpenCorporates) CanEnrich(field string) bool {
	return field == provider.FieldCompany || field == provider.FieldIndustry
}

type opencorpResponse struct {
	Results struct {
		Companies []struct {
			Company struct {
				Name          string `json:"name"`
				CurrentStatus string `json:"current_status"`
				IndustryCodes []struct {
					IndustryCode struct {
						Description string `json:"description"`
					} `json:"industry_code"`
				} `json:"industry_codes"`
			} `json:"company"`
		} `json:"companies"`
	} `json:"results"`
}

func (o *OpenCorporates) Enrich(ctx context.Context, in *normalize.Input, field string) (*provider.Result, error) {
	if !o.CanEnrich(field) || in.Company == "" {
		return nil, nil
	}

	q := url.Values{}
	q.Set("q", in.Company)
	q.Set("order", "score")
	var resp opencorpResponse
	err := o.getJSON(ctx, opencorpName, func(string) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet,
			o.endpoint+"/companies/search?"+q.Encode(), nil)
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("opencorporates: search %q: %w", in.Company, err)
	}

	match := o.bestMatch(in, &resp)
	if match == nil {
		return nil, nil
	}

	switch field {
	case provider.FieldCompany:
		return stamp(&provider.Result{Field: field, Value: match.Name, Confidence: 0.7}, opencorpName, 0), nil
	case provider.FieldIndustry:
		for _, code := range match.IndustryCodes {
			if desc := code.IndustryCode.Description; desc != "" {
				return stamp(&provider.Result{Field: field, Value: desc, Confidence: 0.6}, opencorpName, 0), nil
			}
		}
	}
	return nil, nil
}

type opencorpCompany = struct {
	Name          string `json:"name"`
	CurrentStatus string `json:"current_status"`
	IndustryCodes []struct {
		IndustryCode struct {
			Description string `json:"description"`
		} `json:"industry_code"`
	} `json:"industry_codes"`
}

// bestMatch picks the first active record whose slug agrees with the
// input company; registry search returns plenty of near-misses.
func (o *OpenCorporates) bestMatch(in *normalize.Input, resp *opencorpResponse) *opencorpCompany {
	want := normalize.CompanySlug(in.Company)
	for i := range resp.Results.Companies {
		c := &resp.Results.Companies[i].Company
		if c.CurrentStatus != "" && c.CurrentStatus != "Active" {
			continue
		}
		if normalize.CompanySlug(c.Name) == want {
			return c
		}
	}
	return nil
}
