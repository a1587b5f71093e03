package drivers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rowforge/enrich/pkg/apikeys"
	"github.com/rowforge/enrich/pkg/normalize"
	"github.com/rowforge/enrich/pkg/provider"
	"github.com/rowforge/enrich/pkg/smart"
)

const (
	serperName     = "serper"
	serperCost     = 1
	serperEndpoint = "https://google.serper.dev/search"
)

// Serper answers search-derived fields from Google SERP data and also
// serves as the search backend for the smart-enrichment sub-engine.
type Serper struct {
	*client
	endpoint string
}

// NewSerper creates the driver. keys is required for live use.
func NewSerper(keys *apikeys.Manager) *Serper {
	return &Serper{client: newClient(keys, 5), endpoint: serperEndpoint}
}

// WithEndpoint redirects the driver, mainly for tests.
func (s *Serper) WithEndpoint(url string) *Serper {
	s.endpoint = url
	return s
}

func (s *Serper) Name() string        { return serperName }
func (s *Serper) Tier() provider.Tier { return provider.TierCheap }
func (s *Serper) CostCents() int64    { return serperCost }

func (s *Serper) CanEnrich(field string) bool {
	switch field {
	case provider.FieldCompany, provider.FieldTitle, provider.FieldDomain,
		provider.FieldWebsite, provider.FieldIndustry, provider.FieldLocation:
		return true
	}
	return false
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
	KnowledgeGraph struct {
		Title       string `json:"title"`
		Type        string `json:"type"`
		Website     string `json:"website"`
		Description string `json:"description"`
		Attributes  struct {
			Headquarters string `json:"Headquarters"`
		} `json:"attributes"`
	} `json:"knowledgeGraph"`
}

// Search implements the smart-enrichment search contract.
func (s *Serper) Search(ctx context.Context, query string) ([]smart.SERPResult, error) {
	resp, err := s.query(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]smart.SERPResult, 0, len(resp.Organic))
	for _, hit := range resp.Organic {
		out = append(out, smart.SERPResult{Title: hit.Title, Snippet: hit.Snippet, URL: hit.Link})
	}
	return out, nil
}

func (s *Serper) Enrich(ctx context.Context, in *normalize.Input, field string) (*provider.Result, error) {
	if !s.CanEnrich(field) {
		return nil, nil
	}
	query := s.queryFor(in, field)
	if query == "" {
		return nil, nil
	}

	resp, err := s.query(ctx, query)
	if err != nil {
		return nil, err
	}
	value, confidence := s.extract(in, field, resp)
	if value == nil {
		return nil, nil
	}
	return stamp(&provider.Result{
		Field:      field,
		Value:      value,
		Confidence: confidence,
		Raw:        map[string]any{"query": query},
	}, serperName, serperCost), nil
}

func (s *Serper) query(ctx context.Context, q string) (*serperResponse, error) {
	body, err := json.Marshal(map[string]any{"q": q, "num": 10})
	if err != nil {
		return nil, err
	}
	var resp serperResponse
	err = s.getJSON(ctx, serperName, func(key string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-API-KEY", key)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("serper: search %q: %w", q, err)
	}
	return &resp, nil
}

func (s *Serper) queryFor(in *normalize.Input, field string) string {
	switch field {
	case provider.FieldTitle:
		if in.Name != "" && in.Company != "" {
			return fmt.Sprintf("%s %s job title", in.Name, in.Company)
		}
	case provider.FieldLocation:
		if in.Company != "" {
			return fmt.Sprintf("%s headquarters location", in.Company)
		}
	default:
		if in.Company != "" {
			return fmt.Sprintf("%s official website - landing page", in.Company)
		}
		if in.Domain != "" {
			return in.Domain
		}
	}
	return ""
}

func (s *Serper) extract(in *normalize.Input, field string, resp *serperResponse) (any, float64) {
	kg := resp.KnowledgeGraph
	switch field {
	case provider.FieldCompany:
		if kg.Title != "" {
			return kg.Title, 0.75
		}
	case provider.FieldDomain, provider.FieldWebsite:
		site := kg.Website
		if site == "" && len(resp.Organic) > 0 {
			site = resp.Organic[0].Link
		}
		if d, ok := normalize.Domain(site, normalize.DefaultDomainOptions()); ok {
			if field == provider.FieldWebsite {
				return "https://" + d + "/", 0.65
			}
			return d, 0.65
		}
	case provider.FieldIndustry:
		if kg.Type != "" {
			return kg.Type, 0.6
		}
	case provider.FieldLocation:
		if kg.Attributes.Headquarters != "" {
			return kg.Attributes.Headquarters, 0.6
		}
	case provider.FieldTitle:
		if title := titleFromSnippets(in, resp); title != "" {
			return title, 0.5
		}
	}
	return nil, 0
}

// titleFromSnippets pulls a "<Name> - <Title> at <Company>" shaped hit.
func titleFromSnippets(in *normalize.Input, resp *serperResponse) string {
	name := strings.ToLower(in.Name)
	for _, hit := range resp.Organic {
		lower := strings.ToLower(hit.Title)
		if !strings.Contains(lower, name) {
			continue
		}
		for _, sep := range []string{" - ", " – ", " | "} {
			if parts := strings.Split(hit.Title, sep); len(parts) >= 2 {
				candidate := strings.TrimSpace(parts[1])
				if at := strings.Index(strings.ToLower(candidate), " at "); at > 0 {
					candidate = strings.TrimSpace(candidate[:at])
				}
				if candidate != "" && !strings.EqualFold(candidate, "linkedin") {
					return candidate
				}
			}
		}
	}
	return ""
}
