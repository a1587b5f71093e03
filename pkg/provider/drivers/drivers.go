// Package drivers holds the live provider implementations. Every driver
// follows the same discipline: a client-side rate limiter, key rotation
// through the key manager on quota errors, bounded retries on transient
// faults, and status-carrying errors so the breaker and key manager can
// classify failures.
package drivers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/rowforge/enrich/pkg/apikeys"
	"github.com/rowforge/enrich/pkg/provider"
)

const (
	defaultTimeout  = 10 * time.Second
	maxRetries      = 2
	maxBodyBytes    = 1 << 20
	defaultInterval = 200 * time.Millisecond
)

// client bundles what every driver shares.
type client struct {
	http    *http.Client
	limiter *rate.Limiter
	keys    *apikeys.Manager
}

func newClient(keys *apikeys.Manager, rps float64) *client {
	if rps <= 0 {
		rps = float64(time.Second / defaultInterval)
	}
	return &client{
		http:    &http.Client{Timeout: defaultTimeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		keys:    keys,
	}
}

// getJSON performs one rate-limited GET and decodes the response.
// Transient failures are retried with exponential backoff; quota errors
// rotate keys through the manager when one is attached.
func (c *client) getJSON(ctx context.Context, providerName string, buildReq func(key string) (*http.Request, error), out any) error {
	call := func(key string) error {
		op := func() (struct{}, error) {
			if err := c.limiter.Wait(ctx); err != nil {
				return struct{}{}, backoff.Permanent(err)
			}
			req, err := buildReq(key)
			if err != nil {
				return struct{}{}, backoff.Permanent(err)
			}
			if err := c.doJSON(req, providerName, out); err != nil {
				if provider.Classify(err) == provider.ClassTransient {
					return struct{}{}, err
				}
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, nil
		}
		_, err := backoff.Retry(ctx, op,
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxTries(maxRetries+1))
		return err
	}

	if c.keys != nil {
		return c.keys.WithKey(ctx, call)
	}
	return call("")
}

func (c *client) doJSON(req *http.Request, providerName string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &provider.HTTPError{Provider: providerName, Code: resp.StatusCode, Body: string(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", providerName, err)
	}
	return nil
}

// stamp fills the common result envelope.
func stamp(res *provider.Result, source string, cost int64) *provider.Result {
	res.Source = source
	res.CostCents = cost
	res.Timestamp = time.Now()
	return res
}
