package toolloop

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/nexuslabs/nexus/internal/agent"
	"github.com/nexuslabs/nexus/internal/deltabuffer"
	"github.com/nexuslabs/nexus/internal/history"
	"github.com/nexuslabs/nexus/pkg/models"
)

type fakeTool struct {
	name    string
	spec    models.ToolFunctionSpec
	execute func(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error)
}

func (f *fakeTool) Name() string             { return f.name }
func (f *fakeTool) Description() string      { return "fake" }
func (f *fakeTool) Schema() json.RawMessage  { return f.spec.Parameters }
func (f *fakeTool) FunctionSpec() models.ToolFunctionSpec {
	return f.spec
}
func (f *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return f.execute(ctx, params)
}

func drain(ch chan models.StreamEvent) []models.StreamEvent {
	var out []models.StreamEvent
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func TestRunEmitsAgentDoneWhenNoToolCalls(t *testing.T) {
	reg := agent.NewToolRegistry()
	exec := agent.NewToolExecutor(reg, agent.DefaultToolExecConfig())

	ask := func(ctx context.Context, msgs []models.ConversationMessage, tools []models.ToolFunctionSpec, settings models.ModelSettings) (<-chan models.StreamEvent, error) {
		ch := make(chan models.StreamEvent, 4)
		ch <- models.StreamEvent{Type: models.StreamMessageDelta, MessageID: "m1", Text: "hi"}
		ch <- models.StreamEvent{Type: models.StreamMessageComplete, MessageID: "m1", Text: "hi"}
		close(ch)
		return ch, nil
	}

	loop := New(ask, reg, exec, Config{Buffer: deltabuffer.Config{Start: 1, Step: 1}})
	hist := history.New(nil)
	out := make(chan models.StreamEvent, 16)

	if err := loop.Run(context.Background(), hist, models.ModelSettings{}, out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(out)

	events := drain(out)
	var sawComplete, sawDone bool
	for _, e := range events {
		if e.Type == models.StreamMessageComplete {
			sawComplete = true
		}
		if e.Type == models.StreamAgentDone {
			sawDone = true
		}
	}
	if !sawComplete || !sawDone {
		t.Fatalf("expected message_complete and agent_done, got %+v", events)
	}
}

func TestRunExecutesToolCallAndAppendsHistory(t *testing.T) {
	tool := &fakeTool{
		name: "echo",
		spec: models.ToolFunctionSpec{
			Name:           "echo",
			AllowSummary:   true,
			ParameterOrder: []models.ToolParameter{{Name: "text", Required: true}},
		},
		execute: func(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
			return &agent.ToolResult{Content: "echoed: " + string(params)}, nil
		},
	}
	reg := agent.NewToolRegistry()
	reg.Register(tool)
	exec := agent.NewToolExecutor(reg, agent.DefaultToolExecConfig())

	round := 0
	ask := func(ctx context.Context, msgs []models.ConversationMessage, tools []models.ToolFunctionSpec, settings models.ModelSettings) (<-chan models.StreamEvent, error) {
		round++
		ch := make(chan models.StreamEvent, 4)
		if round == 1 {
			ch <- models.StreamEvent{Type: models.StreamToolStart, ToolCalls: []models.FunctionToolCall{
				{ID: "c1", CallID: "call_1", Function: models.FunctionCallSpec{Name: "echo", Arguments: `{"text":"hello"}`}},
			}}
			ch <- models.StreamEvent{Type: models.StreamMessageComplete, Text: ""}
		} else {
			ch <- models.StreamEvent{Type: models.StreamMessageComplete, Text: "done"}
		}
		close(ch)
		return ch, nil
	}

	loop := New(ask, reg, exec, Config{})
	hist := history.New(nil)
	out := make(chan models.StreamEvent, 16)

	if err := loop.Run(context.Background(), hist, models.ModelSettings{}, out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(out)

	events := drain(out)
	var toolDone *models.StreamEvent
	for i := range events {
		if events[i].Type == models.StreamToolDone {
			toolDone = &events[i]
		}
	}
	if toolDone == nil {
		t.Fatalf("expected a tool_done event")
	}
	if len(toolDone.ToolResults) != 1 || toolDone.ToolResults[0].ToolCallID != "call_1" {
		t.Fatalf("unexpected tool_done payload: %+v", toolDone.ToolResults)
	}
	if !strings.Contains(toolDone.ToolResults[0].Content, "echoed:") {
		t.Fatalf("expected echoed content, got %q", toolDone.ToolResults[0].Content)
	}

	msgs := hist.Messages()
	var sawCall, sawOutput bool
	for _, m := range msgs {
		if m.Kind == models.KindFunctionCall && m.CallID == "call_1" {
			sawCall = true
		}
		if m.Kind == models.KindFunctionCallOutput && m.CallID == "call_1" {
			sawOutput = true
		}
	}
	if !sawCall || !sawOutput {
		t.Fatalf("expected function_call/function_call_output pair in history, got %+v", msgs)
	}
}

func TestRunSkipsCallsOverToolBudget(t *testing.T) {
	calls := 0
	tool := &fakeTool{
		name: "noop",
		spec: models.ToolFunctionSpec{Name: "noop", AllowSummary: true},
		execute: func(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
			calls++
			return &agent.ToolResult{Content: "ok"}, nil
		},
	}
	reg := agent.NewToolRegistry()
	reg.Register(tool)
	exec := agent.NewToolExecutor(reg, agent.DefaultToolExecConfig())

	round := 0
	ask := func(ctx context.Context, msgs []models.ConversationMessage, tools []models.ToolFunctionSpec, settings models.ModelSettings) (<-chan models.StreamEvent, error) {
		round++
		ch := make(chan models.StreamEvent, 4)
		if round == 1 {
			ch <- models.StreamEvent{Type: models.StreamToolStart, ToolCalls: []models.FunctionToolCall{
				{CallID: "call_1", Function: models.FunctionCallSpec{Name: "noop", Arguments: `{}`}},
				{CallID: "call_2", Function: models.FunctionCallSpec{Name: "noop", Arguments: `{}`}},
			}}
			ch <- models.StreamEvent{Type: models.StreamMessageComplete}
		} else {
			ch <- models.StreamEvent{Type: models.StreamMessageComplete}
		}
		close(ch)
		return ch, nil
	}

	loop := New(ask, reg, exec, Config{MaxToolCalls: 1})
	hist := history.New(nil)
	out := make(chan models.StreamEvent, 16)

	if err := loop.Run(context.Background(), hist, models.ModelSettings{}, out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(out)

	if calls != 1 {
		t.Fatalf("expected exactly 1 tool execution under budget, got %d", calls)
	}

	events := drain(out)
	var toolDone *models.StreamEvent
	for i := range events {
		if events[i].Type == models.StreamToolDone {
			toolDone = &events[i]
		}
	}
	if toolDone == nil || len(toolDone.ToolResults) != 2 {
		t.Fatalf("expected 2 aligned results, got %+v", toolDone)
	}
	var sawBudgetExhausted bool
	for _, r := range toolDone.ToolResults {
		if r.Content == "tool budget exhausted" {
			sawBudgetExhausted = true
		}
	}
	if !sawBudgetExhausted {
		t.Fatalf("expected one result to report budget exhaustion, got %+v", toolDone.ToolResults)
	}
}

func TestRunStopsAtRoundCap(t *testing.T) {
	tool := &fakeTool{
		name: "loopy",
		spec: models.ToolFunctionSpec{Name: "loopy", AllowSummary: true},
		execute: func(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
			return &agent.ToolResult{Content: "again"}, nil
		},
	}
	reg := agent.NewToolRegistry()
	reg.Register(tool)
	exec := agent.NewToolExecutor(reg, agent.DefaultToolExecConfig())

	asks := 0
	ask := func(ctx context.Context, msgs []models.ConversationMessage, tools []models.ToolFunctionSpec, settings models.ModelSettings) (<-chan models.StreamEvent, error) {
		asks++
		ch := make(chan models.StreamEvent, 4)
		ch <- models.StreamEvent{Type: models.StreamToolStart, ToolCalls: []models.FunctionToolCall{
			{CallID: "call", Function: models.FunctionCallSpec{Name: "loopy", Arguments: `{}`}},
		}}
		ch <- models.StreamEvent{Type: models.StreamMessageComplete}
		close(ch)
		return ch, nil
	}

	loop := New(ask, reg, exec, Config{MaxToolCallRounds: 2})
	hist := history.New(nil)
	out := make(chan models.StreamEvent, 64)

	if err := loop.Run(context.Background(), hist, models.ModelSettings{}, out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(out)

	if asks != 2 {
		t.Fatalf("expected exactly 2 provider asks (round cap), got %d", asks)
	}
	events := drain(out)
	if events[len(events)-1].Type != models.StreamAgentDone {
		t.Fatalf("expected final event to be agent_done, got %+v", events[len(events)-1])
	}
}

func TestResolveArgumentsValidatesRequiredAndWrapsArrays(t *testing.T) {
	order := []models.ToolParameter{
		{Name: "query", Required: true},
		{Name: "tags", IsArray: true},
	}

	out, err := ResolveArguments(`{"query":"go","tags":"x"}`, order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("invalid output JSON: %v", err)
	}
	if string(decoded["tags"]) != `["x"]` {
		t.Fatalf("expected tags wrapped into an array, got %s", decoded["tags"])
	}

	if _, err := ResolveArguments(`{"tags":"x"}`, order); err == nil {
		t.Fatalf("expected an error for a missing required parameter")
	}
}

func TestResolveArgumentsPassesThroughWithNoDeclaredOrder(t *testing.T) {
	out, err := ResolveArguments(`{"anything":1}`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `{"anything":1}` {
		t.Fatalf("expected passthrough, got %s", out)
	}
}

func TestProcessToolResultPreservesExactOutputWhenSummaryDisallowed(t *testing.T) {
	long := strings.Repeat("a", resultProcessorLimit+1000)
	got := processToolResult(long, false)
	if got != long {
		t.Fatalf("expected byte-identical output when AllowSummary is false")
	}
}

func TestProcessToolResultMiddleTruncatesLongSummarizableOutput(t *testing.T) {
	long := strings.Repeat("a", resultProcessorLimit+1000)
	got := processToolResult(long, true)
	if len(got) >= len(long) {
		t.Fatalf("expected truncated output to be shorter than input")
	}
	if !strings.Contains(got, "truncated") {
		t.Fatalf("expected a truncation marker, got %q", got[:60])
	}
}

func TestProcessToolResultPreservesDataURLAcrossTruncationBoundary(t *testing.T) {
	dataURL := "data:image/png;base64," + strings.Repeat("QQ", 200)
	content := strings.Repeat("x", resultProcessorLimit-len(dataURL)/2) + dataURL + strings.Repeat("y", resultProcessorLimit)

	got := processToolResult(content, true)
	if !strings.Contains(got, dataURL) {
		t.Fatalf("expected the data URL to survive truncation intact")
	}
}
