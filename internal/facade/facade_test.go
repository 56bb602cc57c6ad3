package facade

import (
	"context"
	"testing"
	"time"

	"github.com/nexuslabs/nexus/internal/agent"
	"github.com/nexuslabs/nexus/internal/agent/routing"
	"github.com/nexuslabs/nexus/internal/eventbus"
	imodels "github.com/nexuslabs/nexus/internal/models"
	"github.com/nexuslabs/nexus/internal/pause"
	"github.com/nexuslabs/nexus/internal/retryengine"
	"github.com/nexuslabs/nexus/internal/toolloop"
	"github.com/nexuslabs/nexus/internal/usage"
	"github.com/nexuslabs/nexus/pkg/models"
)

func newTestFacade(t *testing.T, ask toolloop.ProviderAsk) *Facade {
	t.Helper()
	catalog := imodels.NewCatalog()
	catalog.Register(&imodels.Model{ID: "test-model", Provider: imodels.ProviderAnthropic, InputPrice: 1, OutputPrice: 1})

	reg := agent.NewToolRegistry()
	exec := agent.NewToolExecutor(reg, agent.DefaultToolExecConfig())

	f := New(func(provider, model string) (toolloop.ProviderAsk, error) {
		return ask, nil
	}, reg, exec)
	f.Pause = pause.New()
	f.Bus = eventbus.New(nil)
	f.Cost = usage.NewCostTracker(catalog)
	f.Catalog = catalog
	f.Classes = imodels.NewClassRegistry()
	f.KeyLookup = func(name string) (string, bool) {
		if name == "ANTHROPIC_API_KEY" {
			return "sk-ant-test", true
		}
		return "", false
	}
	f.RetryPolicy = retryengine.Policy{MaxRetries: 1, InitialMs: 1, MaxMs: 2, Multiplier: 1}
	return f
}

func collectAll(ch <-chan models.StreamEvent) []models.StreamEvent {
	var out []models.StreamEvent
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func TestRequestHappyPathEmitsAgentStartAndDone(t *testing.T) {
	ask := func(ctx context.Context, msgs []models.ConversationMessage, tools []models.ToolFunctionSpec, settings models.ModelSettings) (<-chan models.StreamEvent, error) {
		ch := make(chan models.StreamEvent, 2)
		ch <- models.StreamEvent{Type: models.StreamMessageComplete, Text: "hello"}
		close(ch)
		return ch, nil
	}
	f := newTestFacade(t, ask)

	events := collectAll(f.Request(context.Background(), []models.ConversationMessage{models.NewUserMessage("hi")}, AgentDefinition{
		ID: "a1", Model: "test-model",
	}))

	var sawStart, sawComplete, sawDone bool
	for _, e := range events {
		switch e.Type {
		case models.StreamAgentStart:
			sawStart = true
		case models.StreamMessageComplete:
			sawComplete = true
		case models.StreamAgentDone:
			sawDone = true
		}
		if e.Agent == nil || e.Agent.ID != "a1" {
			t.Fatalf("expected every event to carry the agent snapshot, got %+v", e)
		}
	}
	if !sawStart || !sawComplete || !sawDone {
		t.Fatalf("expected agent_start, message_complete, agent_done; got %+v", events)
	}
}

func TestRequestEmitsErrorWhenCapabilityUnavailable(t *testing.T) {
	f := newTestFacade(t, nil)
	f.KeyLookup = func(name string) (string, bool) { return "", false }

	events := collectAll(f.Request(context.Background(), nil, AgentDefinition{Model: "test-model"}))
	if len(events) != 1 || events[0].Type != models.StreamError {
		t.Fatalf("expected a single error event, got %+v", events)
	}
}

func TestRequestEmitsAbortErrorWhenPausedForever(t *testing.T) {
	f := newTestFacade(t, nil)
	f.Pause.Pause()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	events := collectAll(f.Request(ctx, nil, AgentDefinition{Model: "test-model"}))
	if len(events) != 1 || events[0].Type != models.StreamError {
		t.Fatalf("expected a single aborted error event, got %+v", events)
	}
}

func TestRequestCostUpdateEmittedWhenNoBusHandlerInstalled(t *testing.T) {
	ask := func(ctx context.Context, msgs []models.ConversationMessage, tools []models.ToolFunctionSpec, settings models.ModelSettings) (<-chan models.StreamEvent, error) {
		ch := make(chan models.StreamEvent, 2)
		entry := models.UsageEntry{Model: "test-model", InputTokens: 10}
		ch <- models.StreamEvent{Type: models.StreamCostUpdate, Usage: &entry}
		ch <- models.StreamEvent{Type: models.StreamMessageComplete, Text: "ok"}
		close(ch)
		return ch, nil
	}
	f := newTestFacade(t, ask)
	f.Cost.AddUsage("test-model", usage.Usage{InputTokens: 100}, nil)

	events := collectAll(f.Request(context.Background(), nil, AgentDefinition{Model: "test-model"}))

	var costEvents int
	for _, e := range events {
		if e.Type == models.StreamCostUpdate {
			costEvents++
		}
	}
	if costEvents != 2 {
		t.Fatalf("expected the provider's own cost_update plus the facade's trailing one, got %d", costEvents)
	}
}

func TestRequestSuppressesTrailingCostUpdateWhenBusHandlerInstalled(t *testing.T) {
	ask := func(ctx context.Context, msgs []models.ConversationMessage, tools []models.ToolFunctionSpec, settings models.ModelSettings) (<-chan models.StreamEvent, error) {
		ch := make(chan models.StreamEvent, 1)
		ch <- models.StreamEvent{Type: models.StreamMessageComplete, Text: "ok"}
		close(ch)
		return ch, nil
	}
	f := newTestFacade(t, ask)
	f.Cost.AddUsage("test-model", usage.Usage{InputTokens: 100}, nil)
	f.Bus.SetHandler(func(models.StreamEvent) {})

	events := collectAll(f.Request(context.Background(), nil, AgentDefinition{Model: "test-model"}))
	for _, e := range events {
		if e.Type == models.StreamCostUpdate {
			t.Fatalf("expected no trailing cost_update when a bus handler is installed, got %+v", events)
		}
	}
}

func TestCanRunAgentIntegrationStillAppliesExplicitModelPrecedence(t *testing.T) {
	catalog := imodels.NewCatalog()
	catalog.Register(&imodels.Model{ID: "claude-x", Provider: imodels.ProviderAnthropic})
	result := routing.CanRunAgent(routing.AgentSpec{Model: "claude-x", ModelClass: "standard"}, catalog, nil, func(name string) (string, bool) {
		return "", false
	})
	if result.CanRun {
		t.Fatalf("expected explicit model to still be checked even with a modelClass set")
	}
}
