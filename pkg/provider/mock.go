package provider

import (
	"context"
	"strings"
	"time"

	"github.com/rowforge/enrich/pkg/normalize"
)

// Static is a deterministic provider used for tests and for the mock
// provider set. Lookup returns the value for (input, field) or nil for a
// clean not-found.
type Static struct {
	ProviderName string
	ProviderTier Tier
	Cost         int64
	Fields       map[string]bool
	Lookup       func(in *normalize.Input, field string) (any, float64)
	Latency      time.Duration
	Err          error
	clock        func() time.Time
}

// NewStatic creates a static provider for the given fields.
func NewStatic(name string, tier Tier, cost int64, fields []string, lookup func(in *normalize.Input, field string) (any, float64)) *Static {
	fs := make(map[string]bool, len(fields))
	for _, f := range fields {
		fs[f] = true
	}
	return &Static{
		ProviderName: name,
		ProviderTier: tier,
		Cost:         cost,
		Fields:       fs,
		Lookup:       lookup,
		clock:        time.Now,
	}
}

// WithClock overrides the timestamp clock for deterministic tests.
func (s *Static) WithClock(clock func() time.Time) *Static {
	s.clock = clock
	return s
}

func (s *Static) Name() string     { return s.ProviderName }
func (s *Static) Tier() Tier       { return s.ProviderTier }
func (s *Static) CostCents() int64 { return s.Cost }

func (s *Static) CanEnrich(field string) bool { return s.Fields[field] }

func (s *Static) Enrich(ctx context.Context, in *normalize.Input, field string) (*Result, error) {
	if s.Latency > 0 {
		select {
		case <-time.After(s.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.Err != nil {
		return nil, s.Err
	}
	value, confidence := s.Lookup(in, field)
	if value == nil {
		return nil, nil
	}
	return &Result{
		Field:      field,
		Value:      value,
		Confidence: confidence,
		Source:     s.ProviderName,
		CostCents:  s.Cost,
		Timestamp:  s.clock(),
	}, nil
}

// MockSet returns the full mock provider roster used when
// useMockProviders is on. Data is canned but shaped like live responses.
func MockSet() []Provider {
	return []Provider{
		NewStatic("opencorporates", TierFree, 0,
			[]string{FieldCompany, FieldIndustry},
			mockCompanyRecords),
		NewStatic("github", TierFree, 0,
			[]string{FieldName, FieldSocialLinks, FieldLocation},
			mockGitHub),
		NewStatic("whois", TierFree, 0,
			[]string{FieldDomain, FieldWhois, FieldCompany},
			mockWhois),
		NewStatic("pattern_inference", TierFree, 0,
			[]string{FieldEmailCandidates},
			mockPatterns),
		NewStatic("serper", TierCheap, 1,
			[]string{FieldCompany, FieldTitle, FieldDomain, FieldWebsite, FieldIndustry, FieldLocation},
			mockSerper),
		NewStatic("hunter", TierCheap, 1,
			[]string{FieldEmail, FieldEmailCandidates},
			mockHunter),
		NewStatic("linkedin", TierPremium, 10,
			[]string{FieldName, FieldTitle, FieldCompany, FieldLocation, FieldSocialLinks},
			mockLinkedIn),
	}
}

// Canned corpus shared by the mocks. Keys are company slugs.
type mockCompany struct {
	Name     string
	Domain   string
	Industry string
	Location string
}

var mockCompanies = map[string]mockCompany{
	"reddit":       {Name: "Reddit", Domain: "reddit.com", Industry: "Social Media", Location: "San Francisco, CA"},
	"stripe":       {Name: "Stripe", Domain: "stripe.com", Industry: "Financial Technology", Location: "South San Francisco, CA"},
	"acme":         {Name: "Acme", Domain: "acme.com", Industry: "Manufacturing", Location: "Toledo, OH"},
	"google":       {Name: "Google", Domain: "google.com", Industry: "Internet", Location: "Mountain View, CA"},
	"fernwoodlabs": {Name: "Fernwood Labs", Domain: "fernwoodlabs.io", Industry: "Biotechnology", Location: "Cambridge, MA"},
}

func companyFor(in *normalize.Input) (mockCompany, bool) {
	if in.Company != "" {
		c, ok := mockCompanies[normalize.CompanySlug(in.Company)]
		if ok {
			return c, true
		}
	}
	if in.Domain != "" {
		for _, c := range mockCompanies {
			if c.Domain == in.Domain {
				return c, true
			}
		}
	}
	return mockCompany{}, false
}

func mockCompanyRecords(in *normalize.Input, field string) (any, float64) {
	c, ok := companyFor(in)
	if !ok {
		return nil, 0
	}
	switch field {
	case FieldCompany:
		return c.Name, 0.92
	case FieldIndustry:
		return c.Industry, 0.85
	}
	return nil, 0
}

func mockGitHub(in *normalize.Input, field string) (any, float64) {
	if in.Name == "" && in.Email == "" {
		return nil, 0
	}
	switch field {
	case FieldName:
		if in.Name != "" {
			return in.Name, 0.7
		}
	case FieldSocialLinks:
		if in.Name != "" {
			handle := strings.ToLower(strings.ReplaceAll(in.Name, " ", "-"))
			return []string{"https://github.com/" + handle}, 0.6
		}
	case FieldLocation:
		if c, ok := companyFor(in); ok {
			return c.Location, 0.5
		}
	}
	return nil, 0
}

func mockWhois(in *normalize.Input, field string) (any, float64) {
	if in.Domain == "" {
		return nil, 0
	}
	switch field {
	case FieldDomain:
		return in.Domain, 0.9
	case FieldWhois:
		return map[string]any{"registrar": "MockRegistrar", "created": "2008-01-01"}, 0.8
	case FieldCompany:
		if c, ok := companyFor(in); ok {
			return c.Name, 0.75
		}
	}
	return nil, 0
}

func mockPatterns(in *normalize.Input, field string) (any, float64) {
	if field != FieldEmailCandidates || in.Name == "" || in.Domain == "" {
		return nil, 0
	}
	parts := strings.Fields(strings.ToLower(in.Name))
	if len(parts) < 2 {
		return nil, 0
	}
	first, last := parts[0], parts[len(parts)-1]
	return []string{
		first + "." + last + "@" + in.Domain,
		first[:1] + last + "@" + in.Domain,
		first + "@" + in.Domain,
	}, 0.3
}

func mockSerper(in *normalize.Input, field string) (any, float64) {
	c, ok := companyFor(in)
	switch field {
	case FieldCompany:
		if ok {
			return c.Name, 0.7
		}
	case FieldDomain:
		if ok {
			return c.Domain, 0.65
		}
	case FieldWebsite:
		if ok {
			return "https://" + c.Domain + "/", 0.65
		}
	case FieldIndustry:
		if ok {
			return c.Industry, 0.6
		}
	case FieldLocation:
		if ok {
			return c.Location, 0.55
		}
	case FieldTitle:
		// SERP cannot disambiguate common names at large companies.
		if in.Name != "" && in.Company != "" && !strings.EqualFold(in.Name, "John Smith") {
			return "Software Engineer", 0.5
		}
	}
	return nil, 0
}

func mockHunter(in *normalize.Input, field string) (any, float64) {
	if in.Domain == "" || in.Name == "" {
		return nil, 0
	}
	parts := strings.Fields(strings.ToLower(in.Name))
	if len(parts) < 2 {
		return nil, 0
	}
	email := parts[0] + "." + parts[len(parts)-1] + "@" + in.Domain
	switch field {
	case FieldEmail:
		return email, 0.85
	case FieldEmailCandidates:
		return []string{email}, 0.85
	}
	return nil, 0
}

func mockLinkedIn(in *normalize.Input, field string) (any, float64) {
	if in.LinkedInURL == "" && in.Name == "" {
		return nil, 0
	}
	switch field {
	case FieldName:
		if in.Name != "" {
			return in.Name, 0.95
		}
		return "Jane Doe", 0.95
	case FieldTitle:
		if in.LinkedInURL != "" {
			return "VP of Engineering", 0.9
		}
	case FieldCompany:
		if c, ok := companyFor(in); ok {
			return c.Name, 0.95
		}
		if in.LinkedInURL != "" {
			return "Acme", 0.9
		}
	case FieldLocation:
		if c, ok := companyFor(in); ok {
			return c.Location, 0.8
		}
	case FieldSocialLinks:
		if in.LinkedInURL != "" {
			return []string{in.LinkedInURL}, 0.95
		}
	}
	return nil, 0
}
