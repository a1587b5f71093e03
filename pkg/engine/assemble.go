package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/rowforge/enrich/pkg/apikeys"
	"github.com/rowforge/enrich/pkg/breaker"
	"github.com/rowforge/enrich/pkg/cache"
	"github.com/rowforge/enrich/pkg/config"
	"github.com/rowforge/enrich/pkg/costs"
	"github.com/rowforge/enrich/pkg/executor"
	"github.com/rowforge/enrich/pkg/llm"
	"github.com/rowforge/enrich/pkg/metrics"
	"github.com/rowforge/enrich/pkg/normalize"
	"github.com/rowforge/enrich/pkg/provenance"
	"github.com/rowforge/enrich/pkg/provider"
	"github.com/rowforge/enrich/pkg/provider/drivers"
	"github.com/rowforge/enrich/pkg/smart"
	"github.com/rowforge/enrich/pkg/synth"
)

// FromConfig assembles a ready-to-run engine from configuration. The
// returned close function releases shared-store and archive handles and
// must be called when the engine is retired.
func FromConfig(cfg *config.Config, logger *slog.Logger) (*Engine, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Engine, func(), error) {
		closeAll()
		return nil, nil, err
	}

	var redisClient *redis.Client
	if cfg.SharedStoreURL != "" {
		redisOpts, err := redis.ParseURL(cfg.SharedStoreURL)
		if err != nil {
			return fail(fmt.Errorf("parse shared store url: %w", err))
		}
		redisClient = redis.NewClient(redisOpts)
		closers = append(closers, func() { _ = redisClient.Close() })
	}

	var sharedCache cache.Store
	var keyStore apikeys.StateStore
	if redisClient != nil {
		sharedCache = cache.NewRedisStore(redisClient)
		keyStore = apikeys.NewRedisStateStore(redisClient)
	}

	var ledgerStore costs.LedgerStore
	if cfg.CostLedgerURL != "" {
		db, err := sql.Open("postgres", cfg.CostLedgerURL)
		if err != nil {
			return fail(fmt.Errorf("open cost ledger: %w", err))
		}
		closers = append(closers, func() { _ = db.Close() })
		ledgerStore = costs.NewPostgresLedgerStore(db)
	}

	breakers := breaker.NewManager(breaker.Config{
		Enabled:           cfg.CircuitBreaker.Enabled,
		FailureThreshold:  uint32(cfg.CircuitBreaker.FailureThreshold),
		ResetTimeout:      cfg.CircuitBreaker.ResetTimeout(),
		SuccessThreshold:  uint32(cfg.CircuitBreaker.SuccessThreshold),
		Window:            cfg.CircuitBreaker.Window(),
		MinimumRequests:   uint32(cfg.CircuitBreaker.MinimumRequests),
		MaxLatencySamples: cfg.Metrics.MaxLatencySamples,
	}, logger)

	governor := costs.NewGovernor(costs.Config{
		TotalBudgetCents: cfg.TotalBudgetCents,
		RowBudgetCents:   cfg.MaxCostPerRowCents,
	}, ledgerStore, logger)

	cellCache := cache.New(cache.Config{
		Enabled:          cfg.Cache.Enabled,
		DefaultTTL:       cfg.Cache.DefaultTTL(),
		NegativeTTL:      cfg.Cache.NegativeTTL(),
		Version:          cfg.Cache.Version,
		MaxMemoryEntries: cfg.Cache.MaxMemoryEntries,
	}, sharedCache, logger)

	// A breaker closing after an outage means fresher data may be
	// reachable again; cached negatives from the outage window are stale.
	breakers.OnClose(func(string) { cellCache.InvalidateAll() })

	registry, err := buildRegistry(cfg, keyStore, logger)
	if err != nil {
		return fail(err)
	}

	m := metrics.New(metrics.Config{Enabled: cfg.Metrics.Enabled})
	recorder := provenance.NewRecorder()

	exec := executor.New(executor.Config{
		MaxConcurrentProbes: cfg.ParallelProbes.MaxConcurrent,
		ProbeTimeout:        cfg.ParallelProbes.ProbeTimeout(),
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		EnsembleFusion:      cfg.EnsembleFusion.Enabled,
		SingleflightEnabled: cfg.Singleflight.Enabled,
	}, registry, breakers, governor, cellCache, recorder, m, logger)

	var synthesizer *synth.Synthesizer
	if keys := cfg.Keys("openai"); len(keys) > 0 {
		client := llm.NewOpenAIClient(keys[0], cfg.LLM.Model, llmOptions(cfg)...)
		synthesizer = synth.New(client, logger)
	}

	var archive provenance.Archive
	if cfg.ProvenancePath != "" {
		sqlArchive, err := provenance.OpenSQLiteArchive(cfg.ProvenancePath)
		if err != nil {
			return fail(fmt.Errorf("open provenance archive: %w", err))
		}
		closers = append(closers, func() { _ = sqlArchive.Close() })
		archive = sqlArchive
	}

	engineCfg := DefaultConfig()
	engineCfg.RowBudgetCents = cfg.MaxCostPerRowCents

	eng := New(engineCfg, Deps{
		Registry: registry,
		Breakers: breakers,
		Governor: governor,
		Cache:    cellCache,
		Executor: exec,
		Recorder: recorder,
		Metrics:  m,
		Synth:    synthesizer,
		Archive:  archive,
		Logger:   logger,
	})
	return eng, closeAll, nil
}

func llmOptions(cfg *config.Config) []llm.Option {
	if cfg.LLM.BaseURL == "" {
		return nil
	}
	return []llm.Option{llm.WithBaseURL(cfg.LLM.BaseURL)}
}

// buildRegistry wires either the mock roster or the live drivers,
// depending on configuration. The smart-enrichment sub-engine rides on
// the SERP driver in live mode and a canned searcher in mock mode.
func buildRegistry(cfg *config.Config, keyStore apikeys.StateStore, logger *slog.Logger) (*provider.Registry, error) {
	if cfg.UseMockProviders {
		roster := provider.MockSet()
		roster = append(roster, smart.New(mockSearcher(), mockFetcher(), logger))
		return provider.NewRegistry(roster...)
	}

	keysFor := func(name string) *apikeys.Manager {
		return apikeys.NewManager(name, cfg.Keys(name), keyStore, apikeys.DefaultConfig(), logger)
	}

	serper := drivers.NewSerper(keysFor("serper"))
	roster := []provider.Provider{
		drivers.NewWhois(),
		drivers.NewGitHub(""),
		drivers.NewOpenCorporates(),
		serper,
		drivers.NewHunter(keysFor("hunter")),
		drivers.NewLinkedIn(keysFor("linkedin")),
		smart.New(serper, smart.NewHTTPFetcher(nil), logger),
	}
	return provider.NewRegistry(roster...)
}

// Canned corpus for mock-mode smart enrichment, aligned with the mock
// provider roster.
var mockSites = map[string]struct {
	name     string
	domain   string
	industry string
}{
	"reddit": {"Reddit", "reddit.com", "Social Media"},
	"stripe": {"Stripe", "stripe.com", "Financial Technology"},
	"acme":   {"Acme", "acme.com", "Manufacturing"},
	"google": {"Google", "google.com", "Internet"},
}

func mockSearcher() smart.Searcher {
	return smart.SearchFunc(func(_ context.Context, query string) ([]smart.SERPResult, error) {
		for slug, site := range mockSites {
			if strings.Contains(normalize.CompanySlug(query), slug) {
				return []smart.SERPResult{
					{Title: site.name + " - Official Site", URL: "https://" + site.domain + "/", Snippet: site.industry},
					{Title: site.name + " on LinkedIn", URL: "https://linkedin.com/company/" + slug, Snippet: ""},
				}, nil
			}
		}
		return nil, nil
	})
}

func mockFetcher() smart.Fetcher {
	return smart.FetchFunc(func(_ context.Context, url string) (*smart.Homepage, error) {
		for _, site := range mockSites {
			if strings.Contains(url, site.domain) {
				return &smart.Homepage{Title: site.name + " - Official Site", Body: site.industry}, nil
			}
		}
		return nil, &provider.HTTPError{Provider: smart.ProviderName, Code: 404}
	})
}
