package usage

import (
	"sync"

	"github.com/nexuslabs/nexus/internal/models"
	coremodels "github.com/nexuslabs/nexus/pkg/models"
)

// OnAddUsageFunc is invoked synchronously after every AddUsage call, in
// registration order, with the entry just appended.
type OnAddUsageFunc func(entry coremodels.UsageEntry)

// CostTracker appends priced usage entries for one invocation and notifies
// subscribers as they land. Unlike Tracker, it prices each entry itself
// from a model catalog at append time rather than expecting a pre-computed
// Cost, matching a request-scoped cost ledger rather than a process-wide
// rolling window.
type CostTracker struct {
	mu      sync.Mutex
	catalog *models.Catalog
	entries []coremodels.UsageEntry
	onAdd   []OnAddUsageFunc
}

// NewCostTracker creates an empty tracker pricing against catalog. A nil
// catalog falls back to models.DefaultCatalog.
func NewCostTracker(catalog *models.Catalog) *CostTracker {
	if catalog == nil {
		catalog = models.DefaultCatalog
	}
	return &CostTracker{catalog: catalog}
}

// OnAddUsage registers fn to run after every future AddUsage call.
func (t *CostTracker) OnAddUsage(fn OnAddUsageFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onAdd = append(t.onAdd, fn)
}

// AddUsage prices the given raw usage against the catalog entry for
// modelID, appends the resulting entry, and invokes every registered
// OnAddUsage callback with it. Concurrent callers are serialized: appends
// never interleave and callbacks for one call always run before the next
// call's append returns.
func (t *CostTracker) AddUsage(modelID string, raw Usage, metadata map[string]any) coremodels.UsageEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := coremodels.UsageEntry{
		Model:        modelID,
		InputTokens:  raw.InputTokens,
		OutputTokens: raw.OutputTokens,
		CachedTokens: raw.CacheReadTokens,
		Metadata:     metadata,
	}
	if model, ok := t.catalog.Get(modelID); ok {
		cost := Cost{Input: model.InputPrice, Output: model.OutputPrice}
		entry.Cost = cost.Estimate(&raw)
	}

	t.entries = append(t.entries, entry)
	callbacks := append([]OnAddUsageFunc(nil), t.onAdd...)
	for _, cb := range callbacks {
		cb(entry)
	}
	return entry
}

// Entries returns a copy of every entry appended so far.
func (t *CostTracker) Entries() []coremodels.UsageEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]coremodels.UsageEntry(nil), t.entries...)
}

// GetTotalCost sums the cost of every entry appended so far.
func (t *CostTracker) GetTotalCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total float64
	for _, e := range t.entries {
		total += e.Cost
	}
	return total
}
