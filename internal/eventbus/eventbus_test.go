package eventbus

import (
	"testing"

	"github.com/nexuslabs/nexus/pkg/models"
)

func TestEmitEnrichesAgentSnapshot(t *testing.T) {
	b := New(nil)

	var got models.StreamEvent
	b.SetHandler(func(e models.StreamEvent) { got = e })

	agent := &models.AgentSnapshot{ID: "agent-1", Model: "claude-3-5-sonnet"}
	b.Emit(models.StreamEvent{Type: models.StreamMessageDelta}, agent, "")

	if got.Agent == nil || got.Agent.ID != "agent-1" {
		t.Fatalf("expected event.agent.id == agent-1, got %+v", got.Agent)
	}
	if got.Agent.Model != "claude-3-5-sonnet" {
		t.Fatalf("expected model from agent snapshot, got %q", got.Agent.Model)
	}
}

func TestEmitModelOverrideWins(t *testing.T) {
	b := New(nil)
	var got models.StreamEvent
	b.SetHandler(func(e models.StreamEvent) { got = e })

	agent := &models.AgentSnapshot{ID: "agent-1", Model: "claude-3-5-sonnet"}
	b.Emit(models.StreamEvent{Type: models.StreamCostUpdate}, agent, "gpt-4o")

	if got.Agent.Model != "gpt-4o" {
		t.Fatalf("expected model override to win, got %q", got.Agent.Model)
	}
}

func TestHasHandler(t *testing.T) {
	b := New(nil)
	if b.HasHandler() {
		t.Fatalf("expected no handler installed initially")
	}
	b.SetHandler(func(models.StreamEvent) {})
	if !b.HasHandler() {
		t.Fatalf("expected handler to be installed")
	}
	b.SetHandler(nil)
	if b.HasHandler() {
		t.Fatalf("expected handler to be uninstalled")
	}
}

func TestEmitRecoversHandlerPanic(t *testing.T) {
	b := New(nil)
	b.SetHandler(func(models.StreamEvent) { panic("boom") })

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic escaped Emit: %v", r)
		}
	}()
	b.Emit(models.StreamEvent{Type: models.StreamAgentDone}, nil, "")
}
