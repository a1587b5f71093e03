// Package costs enforces spend governance for enrichment: a total budget,
// a per-row budget, and per-provider caps. The ledger is append-only for
// the life of the governor (typically one job); a provider that hits its
// cap is disabled until explicitly re-enabled or the governor is reset.
//
// Fail-closed: when a call cannot be proven affordable it is denied.
package costs

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rowforge/enrich/pkg/breaker"
	"github.com/rowforge/enrich/pkg/provider"
)

// Entry is one ledger line: a successful, billable provider call.
type Entry struct {
	ID        string    `json:"id"`
	RowID     string    `json:"row_id"`
	TableID   string    `json:"table_id"`
	Provider  string    `json:"provider"`
	Field     string    `json:"field"`
	Cents     int64     `json:"cents"`
	Timestamp time.Time `json:"timestamp"`
}

// Partition splits the remaining row budget across tiers: free is
// unlimited, cheap gets 40%, premium 60%.
type Partition struct {
	FreeUnlimited bool  `json:"free_unlimited"`
	CheapCents    int64 `json:"cheap_cents"`
	PremiumCents  int64 `json:"premium_cents"`
}

// LedgerStore persists ledger entries. Persistence is best-effort and
// never blocks cost accounting.
type LedgerStore interface {
	Append(ctx context.Context, entry Entry) error
}

// Config bounds what the governor allows.
type Config struct {
	TotalBudgetCents int64
	RowBudgetCents   int64
	ProviderCaps     map[string]int64 // zero or absent means uncapped
}

// DefaultConfig allows 10000¢ total, 100¢ per row, no provider caps.
func DefaultConfig() Config {
	return Config{TotalBudgetCents: 10000, RowBudgetCents: 100}
}

// Governor tracks spend and enforces the caps.
type Governor struct {
	cfg    Config
	store  LedgerStore
	logger *slog.Logger

	mu         sync.Mutex
	entries    []Entry
	totalSpent int64
	byProvider map[string]int64
	byRow      map[string]int64
	disabled   map[string]bool
	clock      func() time.Time
}

// NewGovernor creates a governor. store may be nil.
func NewGovernor(cfg Config, store LedgerStore, logger *slog.Logger) *Governor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Governor{
		cfg:        cfg,
		store:      store,
		logger:     logger.With("component", "costs"),
		byProvider: make(map[string]int64),
		byRow:      make(map[string]int64),
		disabled:   make(map[string]bool),
		clock:      time.Now,
	}
}

// WithClock overrides the clock for deterministic tests.
func (g *Governor) WithClock(clock func() time.Time) *Governor {
	g.clock = clock
	return g
}

// CanAfford reports whether an estimated call fits within the remaining
// total budget, the row budget (when rowID is set), and the provider cap.
// Disabled providers are never affordable.
func (g *Governor) CanAfford(providerName string, estCents int64, rowID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.disabled[providerName] {
		return false
	}
	if g.totalSpent+estCents > g.cfg.TotalBudgetCents {
		return false
	}
	if rowID != "" && g.byRow[rowID]+estCents > g.cfg.RowBudgetCents {
		return false
	}
	if cap, ok := g.cfg.ProviderCaps[providerName]; ok && cap > 0 {
		if g.byProvider[providerName]+estCents > cap {
			return false
		}
	}
	return true
}

// RecordCost appends a ledger entry for a successful call. Hitting a
// provider cap disables that provider for the rest of the job.
func (g *Governor) RecordCost(ctx context.Context, rowID, tableID, providerName, field string, cents int64) Entry {
	g.mu.Lock()
	entry := Entry{
		ID:        uuid.New().String(),
		RowID:     rowID,
		TableID:   tableID,
		Provider:  providerName,
		Field:     field,
		Cents:     cents,
		Timestamp: g.clock(),
	}
	g.entries = append(g.entries, entry)
	g.totalSpent += cents
	g.byProvider[providerName] += cents
	g.byRow[rowID] += cents

	if cap, ok := g.cfg.ProviderCaps[providerName]; ok && cap > 0 && g.byProvider[providerName] >= cap {
		g.disabled[providerName] = true
		g.logger.Info("provider cap reached, disabling", "provider", providerName, "cap_cents", cap)
	}
	g.mu.Unlock()

	if g.store != nil {
		if err := g.store.Append(ctx, entry); err != nil {
			g.logger.Warn("ledger persist failed", "error", err)
		}
	}
	return entry
}

// AllocateRowBudget partitions the remaining budget for a row across tiers.
func (g *Governor) AllocateRowBudget(rowID string) Partition {
	g.mu.Lock()
	defer g.mu.Unlock()

	remaining := g.cfg.RowBudgetCents - g.byRow[rowID]
	if remaining < 0 {
		remaining = 0
	}
	return Partition{
		FreeUnlimited: true,
		CheapCents:    remaining * 40 / 100,
		PremiumCents:  remaining * 60 / 100,
	}
}

// FilterAffordable returns the subset of providers the row can still pay
// for, preserving input order.
func (g *Governor) FilterAffordable(rowID string, providers []provider.Provider) []provider.Provider {
	var out []provider.Provider
	for _, p := range providers {
		if g.CanAfford(p.Name(), p.CostCents(), rowID) {
			out = append(out, p)
		}
	}
	return out
}

// SortByEfficiency orders providers by tier, then cost, then health.
func SortByEfficiency(providers []provider.Provider, health *breaker.Manager) []provider.Provider {
	out := append([]provider.Provider(nil), providers...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Tier().Rank() != out[j].Tier().Rank() {
			return out[i].Tier().Rank() < out[j].Tier().Rank()
		}
		if out[i].CostCents() != out[j].CostCents() {
			return out[i].CostCents() < out[j].CostCents()
		}
		if health != nil {
			return health.HealthScore(out[i].Name()) > health.HealthScore(out[j].Name())
		}
		return false
	})
	return out
}

// DisableProvider takes a provider out of rotation.
func (g *Governor) DisableProvider(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disabled[name] = true
}

// EnableProvider restores a disabled provider.
func (g *Governor) EnableProvider(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.disabled, name)
}

// Disabled reports whether a provider is currently disabled.
func (g *Governor) Disabled(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disabled[name]
}

// Reset clears the ledger, totals and disabled set.
func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries = nil
	g.totalSpent = 0
	g.byProvider = make(map[string]int64)
	g.byRow = make(map[string]int64)
	g.disabled = make(map[string]bool)
}

// TotalSpent returns the job-wide spend so far.
func (g *Governor) TotalSpent() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.totalSpent
}

// RowSpent returns the spend attributed to one row.
func (g *Governor) RowSpent(rowID string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.byRow[rowID]
}

// Ledger returns a copy of all entries in real-time order.
func (g *Governor) Ledger() []Entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Entry(nil), g.entries...)
}
