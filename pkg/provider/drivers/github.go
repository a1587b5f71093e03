package drivers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rowforge/enrich/pkg/normalize"
	"github.com/rowforge/enrich/pkg/provider"
)

const (
	githubName     = "github"
	githubEndpoint = "https://api.github.com"
)

// GitHub looks up public developer profiles. Free; an optional token
// raises the unauthenticated rate limit but is not required.
type GitHub struct {
	*client
	endpoint string
	token    string
}

// NewGitHub creates the driver. token may be empty.
func NewGitHub(token string) *GitHub {
	return &GitHub{client: newClient(nil, 1), endpoint: githubEndpoint, token: token}
}

// WithEndpoint redirects the driver, mainly for tests.
func (g *GitHub) WithEndpoint(url string) *GitHub {
	g.endpoint = url
	return g
}

func (g *GitHub) Name() string        { return githubName }
func (g *GitHub) Tier() provider.Tier { return provider.TierFree }
func (g *GitHub) CostCents() int64    { return 0 }

func (g *GitHub) CanEnrich(field string) bool {
	switch field {
	case provider.FieldName, provider.FieldSocialLinks, provider.FieldLocation:
		return true
	}
	return false
}

type githubSearchResponse struct {
	TotalCount int `json:"total_count"`
	Items      []struct {
		Login string `json:"login"`
	} `json:"items"`
}

type githubUserResponse struct {
	Login    string `json:"login"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Blog     string `json:"blog"`
	HTMLURL  string `json:"html_url"`
}

func (g *GitHub) Enrich(ctx context.Context, in *normalize.Input, field string) (*provider.Result, error) {
	if !g.CanEnrich(field) || in.Name == "" {
		return nil, nil
	}

	login, err := g.findLogin(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("github: search user %q: %w", in.Name, err)
	}
	if login == "" {
		return nil, nil
	}

	var user githubUserResponse
	if err := g.get(ctx, "/users/"+login, &user); err != nil {
		return nil, fmt.Errorf("github: fetch user %q: %w", login, err)
	}

	// A hit only counts when the profile name actually matches; login
	// search alone is too loose for identity claims.
	if !nameMatches(in.Name, user.Name) {
		return nil, nil
	}

	switch field {
	case provider.FieldName:
		return stamp(&provider.Result{Field: field, Value: user.Name, Confidence: 0.6}, githubName, 0), nil
	case provider.FieldLocation:
		if user.Location == "" {
			return nil, nil
		}
		return stamp(&provider.Result{Field: field, Value: user.Location, Confidence: 0.5}, githubName, 0), nil
	case provider.FieldSocialLinks:
		links := []string{user.HTMLURL}
		if blog := strings.TrimSpace(user.Blog); blog != "" {
			links = append(links, blog)
		}
		return stamp(&provider.Result{Field: field, Value: links, Confidence: 0.6}, githubName, 0), nil
	}
	return nil, nil
}

// findLogin searches by full name, narrowed by company when known.
func (g *GitHub) findLogin(ctx context.Context, in *normalize.Input) (string, error) {
	query := `fullname:"` + in.Name + `"`
	if in.Company != "" {
		query += " " + in.Company
	}
	var resp githubSearchResponse
	path := "/search/users?per_page=3&q=" + url.QueryEscape(query)
	if err := g.get(ctx, path, &resp); err != nil {
		return "", err
	}
	if len(resp.Items) == 0 {
		return "", nil
	}
	return resp.Items[0].Login, nil
}

func (g *GitHub) get(ctx context.Context, path string, out any) error {
	return g.getJSON(ctx, githubName, func(string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		if g.token != "" {
			req.Header.Set("Authorization", "Bearer "+g.token)
		}
		return req, nil
	}, out)
}

func nameMatches(want, got string) bool {
	w, _ := normalize.PersonName(want)
	g, _ := normalize.PersonName(got)
	return g != "" && strings.EqualFold(w, g)
}
