package smart

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rowforge/enrich/pkg/provider"
)

const (
	fetchTimeout   = 5 * time.Second
	maxPageBytes   = 256 << 10
	fetchUserAgent = "rowforge-enrich/1.0"
)

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// HTTPFetcher loads candidate homepages over plain HTTP with a short
// per-fetch timeout. Verification fetches are best-effort; any failure
// is reported as an error and scored, never retried.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher. client may be nil.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) FetchHomepage(ctx context.Context, url string) (*Homepage, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, &provider.HTTPError{Provider: ProviderName, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, err
	}

	page := &Homepage{Body: string(body)}
	if m := titleRe.FindSubmatch(body); len(m) == 2 {
		page.Title = strings.TrimSpace(string(m[1]))
	}
	return page, nil
}
