package drivers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rowforge/enrich/pkg/normalize"
	"github.com/rowforge/enrich/pkg/provider"
)

const (
	whoisName     = "whois"
	whoisEndpoint = "https://rdap.org/domain/"
)

// Whois resolves registration data over RDAP. Free, no key required.
type Whois struct {
	*client
	endpoint string
}

// NewWhois creates the driver.
func NewWhois() *Whois {
	return &Whois{client: newClient(nil, 2), endpoint: whoisEndpoint}
}

// WithEndpoint redirects the driver, mainly for tests.
func (w *Whois) WithEndpoint(url string) *Whois {
	w.endpoint = url
	return w
}

func (w *Whois) Name() string        { return whoisName }
func (w *Whois) Tier() provider.Tier { return provider.TierFree }
func (w *Whois) CostCents() int64    { return 0 }

func (w *Whois) CanEnrich(field string) bool {
	switch field {
	case provider.FieldDomain, provider.FieldWhois, provider.FieldCompany:
		return true
	}
	return false
}

type rdapResponse struct {
	LdhName  string `json:"ldhName"`
	Events   []struct {
		Action string `json:"eventAction"`
		Date   string `json:"eventDate"`
	} `json:"events"`
	Entities []struct {
		Roles      []string `json:"roles"`
		VcardArray []any    `json:"vcardArray"`
	} `json:"entities"`
}

func (w *Whois) Enrich(ctx context.Context, in *normalize.Input, field string) (*provider.Result, error) {
	if !w.CanEnrich(field) || in.Domain == "" {
		return nil, nil
	}

	var resp rdapResponse
	err := w.getJSON(ctx, whoisName, func(string) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, w.endpoint+in.Domain, nil)
	}, &resp)
	if err != nil {
		var he *provider.HTTPError
		if errors.As(err, &he) && he.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("whois: lookup %s: %w", in.Domain, err)
	}

	switch field {
	case provider.FieldDomain:
		domain := strings.ToLower(resp.LdhName)
		if domain == "" {
			return nil, nil
		}
		return stamp(&provider.Result{Field: field, Value: domain, Confidence: 0.9, Verified: true}, whoisName, 0), nil
	case provider.FieldWhois:
		record := map[string]any{"domain": strings.ToLower(resp.LdhName)}
		for _, ev := range resp.Events {
			if ev.Action == "registration" {
				record["created"] = ev.Date
			}
		}
		return stamp(&provider.Result{Field: field, Value: record, Confidence: 0.8}, whoisName, 0), nil
	case provider.FieldCompany:
		org := registrantOrg(&resp)
		if org == "" || isPrivacyProxy(org) {
			return nil, nil
		}
		return stamp(&provider.Result{Field: field, Value: org, Confidence: 0.75}, whoisName, 0), nil
	}
	return nil, nil
}

// registrantOrg digs the organization name out of the registrant vcard.
func registrantOrg(resp *rdapResponse) string {
	for _, entity := range resp.Entities {
		registrant := false
		for _, role := range entity.Roles {
			if role == "registrant" {
				registrant = true
			}
		}
		if !registrant || len(entity.VcardArray) < 2 {
			continue
		}
		props, ok := entity.VcardArray[1].([]any)
		if !ok {
			continue
		}
		for _, p := range props {
			prop, ok := p.([]any)
			if !ok || len(prop) < 4 {
				continue
			}
			if name, _ := prop[0].(string); name == "org" || name == "fn" {
				if v, ok := prop[3].(string); ok && v != "" {
					return v
				}
			}
		}
	}
	return ""
}

var privacyMarkers = []string{"privacy", "redacted", "proxy", "whoisguard", "domains by proxy"}

func isPrivacyProxy(org string) bool {
	lower := strings.ToLower(org)
	for _, m := range privacyMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
