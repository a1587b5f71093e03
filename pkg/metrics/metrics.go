// Package metrics counts what the engine does: provider calls, cache
// hits, coalesced requests. Counters are mirrored to OpenTelemetry when
// a meter provider is installed; the in-process snapshot is what tests
// and the summary report read.
package metrics

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/rowforge/enrich"

// Config tunes the metrics layer.
type Config struct {
	Enabled bool
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	ProviderCalls     int64 `json:"provider_calls"`
	ProviderErrors    int64 `json:"provider_errors"`
	CacheHits         int64 `json:"cache_hits"`
	NegativeCacheHits int64 `json:"negative_cache_hits"`
	CacheMisses       int64 `json:"cache_misses"`
	CoalescedRequests int64 `json:"coalesced_requests"`
	RowsProcessed     int64 `json:"rows_processed"`
}

// Metrics is safe for concurrent use.
type Metrics struct {
	enabled bool

	providerCalls     atomic.Int64
	providerErrors    atomic.Int64
	cacheHits         atomic.Int64
	negativeCacheHits atomic.Int64
	cacheMisses       atomic.Int64
	coalesced         atomic.Int64
	rows              atomic.Int64

	otelCalls     metric.Int64Counter
	otelErrors    metric.Int64Counter
	otelCacheHits metric.Int64Counter
	otelCoalesced metric.Int64Counter
}

// New creates a metrics sink. A disabled sink swallows everything.
func New(cfg Config) *Metrics {
	m := &Metrics{enabled: cfg.Enabled}
	if !cfg.Enabled {
		return m
	}
	meter := otel.Meter(meterName)
	m.otelCalls, _ = meter.Int64Counter("enrich.provider.calls",
		metric.WithDescription("provider enrich calls issued"))
	m.otelErrors, _ = meter.Int64Counter("enrich.provider.errors",
		metric.WithDescription("provider enrich calls that failed"))
	m.otelCacheHits, _ = meter.Int64Counter("enrich.cache.hits",
		metric.WithDescription("cell cache hits, positive and negative"))
	m.otelCoalesced, _ = meter.Int64Counter("enrich.singleflight.coalesced",
		metric.WithDescription("callers that joined an in-flight call"))
	return m
}

// ProviderCall records one issued provider call.
func (m *Metrics) ProviderCall(ctx context.Context, providerName, field string) {
	if !m.enabled {
		return
	}
	m.providerCalls.Add(1)
	if m.otelCalls != nil {
		m.otelCalls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", providerName),
			attribute.String("field", field)))
	}
}

// ProviderError records one failed provider call.
func (m *Metrics) ProviderError(ctx context.Context, providerName string) {
	if !m.enabled {
		return
	}
	m.providerErrors.Add(1)
	if m.otelErrors != nil {
		m.otelErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", providerName)))
	}
}

// CacheHit records a cache hit; negative marks a known-unenrichable hit.
func (m *Metrics) CacheHit(ctx context.Context, negative bool) {
	if !m.enabled {
		return
	}
	m.cacheHits.Add(1)
	if negative {
		m.negativeCacheHits.Add(1)
	}
	if m.otelCacheHits != nil {
		m.otelCacheHits.Add(ctx, 1, metric.WithAttributes(attribute.Bool("negative", negative)))
	}
}

// CacheMiss records a cache miss.
func (m *Metrics) CacheMiss(ctx context.Context) {
	if !m.enabled {
		return
	}
	m.cacheMisses.Add(1)
}

// Coalesced records a caller that joined an in-flight call.
func (m *Metrics) Coalesced(ctx context.Context) {
	if !m.enabled {
		return
	}
	m.coalesced.Add(1)
	if m.otelCoalesced != nil {
		m.otelCoalesced.Add(ctx, 1)
	}
}

// RowProcessed records one finished row.
func (m *Metrics) RowProcessed(ctx context.Context) {
	if !m.enabled {
		return
	}
	m.rows.Add(1)
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		ProviderCalls:     m.providerCalls.Load(),
		ProviderErrors:    m.providerErrors.Load(),
		CacheHits:         m.cacheHits.Load(),
		NegativeCacheHits: m.negativeCacheHits.Load(),
		CacheMisses:       m.cacheMisses.Load(),
		CoalescedRequests: m.coalesced.Load(),
		RowsProcessed:     m.rows.Load(),
	}
}
