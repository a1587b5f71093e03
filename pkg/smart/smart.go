// Package smart implements the website-discovery sub-engine. Given a
// company name it runs one SERP query, scores candidate domains against
// the company identity, optionally verifies homepages, and answers the
// domain, website, industry, company and company summary fields.
package smart

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/rowforge/enrich/pkg/normalize"
	"github.com/rowforge/enrich/pkg/provider"
)

// ProviderName is the registry name of this sub-engine.
const ProviderName = "smart_enrichment"

const (
	costCents     = 2
	maxCandidates = 5
	baseScore     = 0.3

	verifiedThreshold  = 0.8
	estimatedThreshold = 0.6
	ambiguityGap       = 0.1
	ambiguityCap       = 0.72
)

// SERPResult is one search hit.
type SERPResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// Searcher runs a web search. One Enrich call issues exactly one search.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SERPResult, error)
}

// SearchFunc adapts a function to the Searcher interface.
type SearchFunc func(ctx context.Context, query string) ([]SERPResult, error)

func (f SearchFunc) Search(ctx context.Context, query string) ([]SERPResult, error) {
	return f(ctx, query)
}

// Homepage is a fetched landing page reduced to what scoring needs.
type Homepage struct {
	Title string
	Body  string
}

// Fetcher loads a candidate homepage for verification.
type Fetcher interface {
	FetchHomepage(ctx context.Context, url string) (*Homepage, error)
}

// FetchFunc adapts a function to the Fetcher interface.
type FetchFunc func(ctx context.Context, url string) (*Homepage, error)

func (f FetchFunc) FetchHomepage(ctx context.Context, url string) (*Homepage, error) {
	return f(ctx, url)
}

// excludedDomains never count as a company's own website.
var excludedDomains = map[string]bool{
	"linkedin.com": true, "twitter.com": true, "x.com": true,
	"facebook.com": true, "instagram.com": true, "youtube.com": true,
	"wikipedia.org": true, "crunchbase.com": true, "bloomberg.com": true,
	"yelp.com": true, "glassdoor.com": true, "zoominfo.com": true,
	"forbes.com": true, "g2.com": true, "capterra.com": true,
	"yellowpages.com": true, "bbb.org": true, "manta.com": true,
	"dnb.com": true, "indeed.com": true, "apollo.io": true,
	"owler.com": true, "pitchbook.com": true,
}

var directoryMarkers = []string{
	"directory", "listings", "top 10", "best companies", "companies in",
	"reviews and ratings", "business profile",
}

var parkedMarkers = []string{
	"domain for sale", "buy this domain", "this domain is parked",
	"domain is for sale", "parked free",
}

var industryKeywords = []string{
	"software", "technology", "biotechnology", "manufacturing",
	"financial", "finance", "fintech", "healthcare", "retail",
	"media", "social media", "logistics", "insurance", "education",
	"energy", "consulting", "internet",
}

type candidate struct {
	domain    string
	position  int
	title     string
	snippet   string
	score     float64
	canonical bool
	industry  string
	summary   string
}

// Engine is the sub-engine; it satisfies the provider contract.
type Engine struct {
	search Searcher
	fetch  Fetcher
	logger *slog.Logger
	clock  func() time.Time
}

// New creates the engine. fetch may be nil, in which case homepage
// verification is skipped (no penalty, no bonus).
func New(search Searcher, fetch Fetcher, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		search: search,
		fetch:  fetch,
		logger: logger.With("component", "smart"),
		clock:  time.Now,
	}
}

// WithClock overrides the timestamp clock for deterministic tests.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

func (e *Engine) Name() string        { return ProviderName }
func (e *Engine) Tier() provider.Tier { return provider.TierCheap }
func (e *Engine) CostCents() int64    { return costCents }

func (e *Engine) CanEnrich(field string) bool {
	switch field {
	case provider.FieldDomain, provider.FieldWebsite, provider.FieldIndustry,
		provider.FieldCompanySummary, provider.FieldCompany:
		return true
	}
	return false
}

// Enrich runs the collect / verify / decide pipeline for one field.
func (e *Engine) Enrich(ctx context.Context, in *normalize.Input, field string) (*provider.Result, error) {
	if !e.CanEnrich(field) || in.Company == "" {
		return nil, nil
	}

	candidates, err := e.collect(ctx, in.Company)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	e.verify(ctx, in, candidates)

	top, confidence, verified := decide(candidates)
	if top == nil {
		return nil, nil
	}

	value := e.answer(in, field, top)
	if value == nil {
		return nil, nil
	}
	return &provider.Result{
		Field:      field,
		Value:      value,
		Confidence: confidence,
		Source:     ProviderName,
		CostCents:  costCents,
		Timestamp:  e.clock(),
		Verified:   verified,
	}, nil
}

// collect runs the fixed SERP query and keeps the first five distinct
// non-excluded domains.
func (e *Engine) collect(ctx context.Context, companyName string) ([]*candidate, error) {
	query := fmt.Sprintf("%s official website - landing page", companyName)
	hits, err := e.search.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("smart: search %q: %w", companyName, err)
	}

	seen := make(map[string]bool)
	var out []*candidate
	for _, hit := range hits {
		domain, ok := normalize.Domain(hit.URL, normalize.DefaultDomainOptions())
		if !ok || seen[domain] || excludedDomains[registrableBase(domain)] {
			continue
		}
		seen[domain] = true
		out = append(out, &candidate{
			domain:   domain,
			position: len(out) + 1,
			title:    hit.Title,
			snippet:  hit.Snippet,
		})
		if len(out) == maxCandidates {
			break
		}
	}
	return out, nil
}

// verify scores every candidate. Fast path: when the first candidate is
// the canonical domain for the company name, positions three and beyond
// are not verified at all.
func (e *Engine) verify(ctx context.Context, in *normalize.Input, candidates []*candidate) {
	slug := normalize.CompanySlug(in.Company)
	for _, c := range candidates {
		c.canonical = domainBase(c.domain) == slug
	}

	fastPath := candidates[0].canonical
	for i, c := range candidates {
		if fastPath && i >= 2 {
			c.score = baseScore
			continue
		}
		e.scoreCandidate(ctx, in, c, slug)
	}
}

func (e *Engine) scoreCandidate(ctx context.Context, in *normalize.Input, c *candidate, slug string) {
	score := baseScore
	serpText := strings.ToLower(c.title + " " + c.snippet)
	company := strings.ToLower(in.Company)

	if c.canonical {
		score += 0.25
	}
	if strings.Contains(serpText, company) {
		score += 0.25
	}
	if kw := matchIndustry(serpText); kw != "" {
		score += 0.15
		c.industry = kw
	}
	if containsAny(serpText, directoryMarkers) {
		score -= 0.3
	}

	if e.fetch != nil {
		page, err := e.fetch.FetchHomepage(ctx, "https://"+c.domain+"/")
		if err != nil || page == nil {
			score -= 0.2
		} else {
			pageTitle := strings.ToLower(page.Title)
			pageBody := strings.ToLower(page.Body)
			if strings.Contains(pageTitle, company) {
				score += 0.2
			}
			if containsAny(pageTitle+" "+pageBody, parkedMarkers) {
				score -= 0.4
			}
			if kw := matchIndustry(pageBody); kw != "" {
				score += 0.1
				if c.industry == "" {
					c.industry = kw
				}
			}
		}
	}

	c.score = clamp01(score)
	c.summary = strings.TrimSpace(c.snippet)
}

// decide picks the top-scored candidate and maps its score to a
// confidence. Close seconds cap the confidence unless the winner is the
// canonical domain.
func decide(candidates []*candidate) (*candidate, float64, bool) {
	ranked := append([]*candidate(nil), candidates...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].position < ranked[j].position
	})

	top := ranked[0]
	switch {
	case top.score >= verifiedThreshold:
		return top, top.score, true
	case top.score >= estimatedThreshold:
		confidence := top.score
		if len(ranked) > 1 && top.score-ranked[1].score < ambiguityGap && !top.canonical {
			if confidence > ambiguityCap {
				confidence = ambiguityCap
			}
		}
		return top, confidence, false
	default:
		return nil, 0, false
	}
}

// answer maps the winning candidate to the requested field's value.
func (e *Engine) answer(in *normalize.Input, field string, top *candidate) any {
	switch field {
	case provider.FieldDomain:
		return top.domain
	case provider.FieldWebsite:
		return "https://" + top.domain + "/"
	case provider.FieldCompany:
		return in.Company
	case provider.FieldIndustry:
		if top.industry == "" {
			return nil
		}
		if name, ok := normalize.PersonName(top.industry); ok {
			return name
		}
		return top.industry
	case provider.FieldCompanySummary:
		if top.summary == "" {
			return nil
		}
		return top.summary
	}
	return nil
}

// registrableBase strips service labels down to the registrable domain
// for the exclusion check ("careers.linkedin.com" matches linkedin.com).
func registrableBase(domain string) string {
	labels := strings.Split(domain, ".")
	if len(labels) <= 2 {
		return domain
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// domainBase returns the first label of a domain for canonical matching.
func domainBase(domain string) string {
	if i := strings.IndexByte(domain, '.'); i > 0 {
		return domain[:i]
	}
	return domain
}

func matchIndustry(text string) string {
	for _, kw := range industryKeywords {
		if strings.Contains(text, kw) {
			return kw
		}
	}
	return ""
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
