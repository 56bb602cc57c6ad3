package usage

import (
	"sync"
	"testing"

	"github.com/nexuslabs/nexus/internal/models"
	coremodels "github.com/nexuslabs/nexus/pkg/models"
)

func newPricedCatalog() *models.Catalog {
	c := models.NewCatalog()
	c.Register(&models.Model{ID: "priced-model", InputPrice: 2.0, OutputPrice: 4.0})
	return c
}

func TestAddUsageComputesCostFromCatalog(t *testing.T) {
	tracker := NewCostTracker(newPricedCatalog())

	entry := tracker.AddUsage("priced-model", Usage{InputTokens: 1_000_000, OutputTokens: 500_000}, nil)

	want := 2.0 + 2.0 // 1M in @ $2/mtok + 0.5M out @ $4/mtok
	if entry.Cost != want {
		t.Fatalf("expected cost %.4f, got %.4f", want, entry.Cost)
	}
}

func TestAddUsageUnknownModelZeroCost(t *testing.T) {
	tracker := NewCostTracker(newPricedCatalog())
	entry := tracker.AddUsage("unknown-model", Usage{InputTokens: 100}, nil)
	if entry.Cost != 0 {
		t.Fatalf("expected zero cost for unpriced model, got %v", entry.Cost)
	}
}

func TestGetTotalCostSumsAllEntries(t *testing.T) {
	tracker := NewCostTracker(newPricedCatalog())
	tracker.AddUsage("priced-model", Usage{InputTokens: 1_000_000}, nil)
	tracker.AddUsage("priced-model", Usage{OutputTokens: 1_000_000}, nil)

	if got := tracker.GetTotalCost(); got != 6.0 {
		t.Fatalf("expected total cost 6.0, got %v", got)
	}
}

func TestOnAddUsageInvokedWithAppendedEntry(t *testing.T) {
	tracker := NewCostTracker(newPricedCatalog())

	var seen []coremodels.UsageEntry
	tracker.OnAddUsage(func(e coremodels.UsageEntry) { seen = append(seen, e) })

	tracker.AddUsage("priced-model", Usage{InputTokens: 1_000_000}, map[string]any{"turn": 1})

	if len(seen) != 1 {
		t.Fatalf("expected 1 callback invocation, got %d", len(seen))
	}
	if seen[0].Metadata["turn"] != 1 {
		t.Fatalf("expected metadata to be preserved, got %+v", seen[0].Metadata)
	}
}

func TestAddUsageConcurrentCallsAreSerialized(t *testing.T) {
	tracker := NewCostTracker(newPricedCatalog())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.AddUsage("priced-model", Usage{InputTokens: 1000}, nil)
		}()
	}
	wg.Wait()

	if len(tracker.Entries()) != 50 {
		t.Fatalf("expected 50 entries appended without loss, got %d", len(tracker.Entries()))
	}
}
