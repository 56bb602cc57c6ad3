// Package toolloop drives the round-based conversation between a provider
// and its tools: ask the provider for a stream, forward its events
// (buffering text deltas along the way), execute any tool calls it
// produced, append the results to history, and either start another round
// or signal completion.
package toolloop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/nexuslabs/nexus/internal/agent"
	"github.com/nexuslabs/nexus/internal/deltabuffer"
	"github.com/nexuslabs/nexus/internal/history"
	"github.com/nexuslabs/nexus/pkg/models"
)

// FunctionSpecProvider is an optional interface a registered agent.Tool can
// implement to declare a positional parameter order and a summarization
// policy. Tools that don't implement it get a default spec derived from
// their Schema(): no declared order (so argument mapping is skipped and
// arguments pass through as given) and AllowSummary true.
type FunctionSpecProvider interface {
	FunctionSpec() models.ToolFunctionSpec
}

func specFor(t agent.Tool) models.ToolFunctionSpec {
	if p, ok := t.(FunctionSpecProvider); ok {
		return p.FunctionSpec()
	}
	return models.ToolFunctionSpec{
		Name:         t.Name(),
		Description:  t.Description(),
		Parameters:   t.Schema(),
		AllowSummary: true,
	}
}

// ProviderAsk starts one provider call for the given history, tools and
// settings, returning a channel of raw provider stream events. Callers
// (the request facade) are responsible for wrapping this with pause
// checks and the streaming retry policy before handing it to a Loop — the
// loop itself calls Ask once per round and otherwise assumes it already
// honors those concerns.
type ProviderAsk func(ctx context.Context, messages []models.ConversationMessage, tools []models.ToolFunctionSpec, settings models.ModelSettings) (<-chan models.StreamEvent, error)

// Hooks are optional callbacks invoked at points in the round algorithm.
type Hooks struct {
	// OnToolCall runs once per tool call before it is handed to the
	// executor (for every call in a round, whether it runs sequentially
	// or concurrently with its siblings).
	OnToolCall func(ctx context.Context, call models.FunctionToolCall)
}

// Config bounds a Loop's tool usage across a single request.
type Config struct {
	// MaxToolCalls caps the total number of tool calls executed across
	// every round of the request. Zero means unlimited. Calls beyond the
	// budget are skipped with a synthetic "tool budget exhausted" output.
	MaxToolCalls int
	// MaxToolCallRounds caps how many provider round-trips a single
	// request may make. Zero means unlimited.
	MaxToolCallRounds int
	// Buffer configures the per-message delta coalescing applied to
	// message_delta events before they're forwarded.
	Buffer deltabuffer.Config
}

// Loop drives the round algorithm against a tool registry and executor.
type Loop struct {
	Ask      ProviderAsk
	Registry *agent.ToolRegistry
	Executor *agent.ToolExecutor
	Config   Config
	Hooks    Hooks
}

// New creates a Loop. executor must not be nil if any tool calls are
// expected; registry supplies the function specs used for argument mapping
// and result summarization policy.
func New(ask ProviderAsk, registry *agent.ToolRegistry, executor *agent.ToolExecutor, cfg Config) *Loop {
	return &Loop{Ask: ask, Registry: registry, Executor: executor, Config: cfg, Hooks: Hooks{}}
}

func (l *Loop) specsAndLookup() ([]models.ToolFunctionSpec, map[string]models.ToolFunctionSpec) {
	tools := l.Registry.AsLLMTools()
	specs := make([]models.ToolFunctionSpec, 0, len(tools))
	lookup := make(map[string]models.ToolFunctionSpec, len(tools))
	for _, t := range tools {
		spec := specFor(t)
		specs = append(specs, spec)
		lookup[spec.Name] = spec
	}
	return specs, lookup
}

// Run drives rounds against hist until the provider yields no further tool
// calls or the round cap is reached, sending every forwarded event to out.
// Run does not close out; the caller does once Run returns. settings is
// passed to Ask unmodified on every round — tool_choice is never installed
// as loop-wide state, so a tool that itself issues a nested provider call
// (e.g. a handoff/delegate tool) cannot inherit the parent's forced choice.
func (l *Loop) Run(ctx context.Context, hist *history.History, settings models.ModelSettings, out chan<- models.StreamEvent) error {
	specs, lookup := l.specsAndLookup()
	buffers := deltabuffer.NewStore(l.Config.Buffer)
	toolCallsUsed := 0

	for round := 1; ; round++ {
		stream, err := l.Ask(ctx, hist.Messages(), specs, settings)
		if err != nil {
			out <- models.StreamEvent{Type: models.StreamError, Error: err.Error()}
			return err
		}

		var pending []models.FunctionToolCall
		var finalText string
		var erroredInStream bool

		for event := range stream {
			switch event.Type {
			case models.StreamMessageDelta:
				flushed := deltabuffer.BufferDelta(buffers, event.MessageID, event.Text, deltaEvent)
				for _, e := range flushed {
					out <- e
				}
			case models.StreamMessageComplete:
				for _, e := range deltabuffer.FlushAll(buffers, deltaEvent) {
					out <- e
				}
				finalText = event.Text
				out <- event
			case models.StreamToolStart:
				pending = append(pending, event.ToolCalls...)
				out <- event
			case models.StreamError:
				erroredInStream = true
				out <- event
			default:
				out <- event
			}
		}
		if erroredInStream {
			return nil
		}

		if len(pending) == 0 {
			out <- models.StreamEvent{Type: models.StreamAgentDone}
			return nil
		}

		hist.AddAssistantResponse(finalText)

		calls, skipped := l.planCalls(pending, lookup, &toolCallsUsed)
		for _, c := range calls {
			if l.Hooks.OnToolCall != nil {
				l.Hooks.OnToolCall(ctx, c.call)
			}
		}

		execCalls := make([]models.ToolCall, 0, len(calls))
		for _, c := range calls {
			execCalls = append(execCalls, c.exec)
		}

		var results []agent.ToolExecResult
		if l.Executor != nil && len(execCalls) > 0 {
			if settings.SequentialTools {
				results = l.Executor.ExecuteSequentially(ctx, execCalls)
			} else {
				results = l.Executor.ExecuteConcurrently(ctx, execCalls, nil)
			}
		}

		resultByID := make(map[string]models.ToolResult, len(results))
		for _, r := range results {
			allowSummary := true
			if spec, ok := lookup[r.ToolCall.Name]; ok {
				allowSummary = spec.AllowSummary
			}
			r.Result.Content = processToolResult(r.Result.Content, allowSummary)
			resultByID[r.Result.ToolCallID] = r.Result
		}
		for _, s := range skipped {
			resultByID[s.exec.ID] = models.ToolResult{ToolCallID: s.exec.ID, Content: s.reason, IsError: true}
		}

		aligned := make([]models.ToolResult, 0, len(pending))
		for _, c := range pending {
			id := callID(c)
			res, ok := resultByID[id]
			if !ok {
				res = models.ToolResult{ToolCallID: id, Content: "tool call produced no result", IsError: true}
			}
			aligned = append(aligned, res)

			hist.Append(models.ConversationMessage{
				Kind:      models.KindFunctionCall,
				ID:        c.ID,
				CallID:    id,
				Name:      c.Function.Name,
				Arguments: c.Function.Arguments,
			})
			hist.Append(models.ConversationMessage{
				Kind:   models.KindFunctionCallOutput,
				CallID: id,
				Name:   c.Function.Name,
				Result: res.Content,
			})
		}

		out <- models.StreamEvent{Type: models.StreamToolDone, ToolResults: aligned}

		if l.Config.MaxToolCallRounds > 0 && round >= l.Config.MaxToolCallRounds {
			out <- models.StreamEvent{Type: models.StreamAgentDone}
			return nil
		}
	}
}

func deltaEvent(messageID, text string) models.StreamEvent {
	return models.StreamEvent{Type: models.StreamMessageDelta, MessageID: messageID, Text: text}
}

func callID(c models.FunctionToolCall) string {
	if c.CallID != "" {
		return c.CallID
	}
	return c.ID
}

type plannedCall struct {
	call   models.FunctionToolCall
	exec   models.ToolCall
	reason string // set only for skipped calls
}

// planCalls resolves each pending tool call's arguments against its
// declared parameter order and decides, against the remaining budget,
// whether it executes or is skipped.
func (l *Loop) planCalls(pending []models.FunctionToolCall, lookup map[string]models.ToolFunctionSpec, used *int) (calls, skipped []plannedCall) {
	for _, c := range pending {
		id := callID(c)
		spec := lookup[c.Function.Name]

		if l.Config.MaxToolCalls > 0 && *used >= l.Config.MaxToolCalls {
			skipped = append(skipped, plannedCall{call: c, exec: models.ToolCall{ID: id, Name: c.Function.Name}, reason: "tool budget exhausted"})
			continue
		}

		args, err := ResolveArguments(c.Function.Arguments, spec.ParameterOrder)
		if err != nil {
			skipped = append(skipped, plannedCall{call: c, exec: models.ToolCall{ID: id, Name: c.Function.Name}, reason: err.Error()})
			continue
		}

		*used++
		calls = append(calls, plannedCall{call: c, exec: models.ToolCall{ID: id, Name: c.Function.Name, Input: args}})
	}
	return calls, skipped
}

// ResolveArguments maps a named-argument JSON object onto order: it
// validates every required parameter is present, wraps non-array values
// into single-element arrays for parameters declared IsArray, and
// canonicalizes key order to match order (undeclared keys are preserved,
// appended after the declared ones). An empty rawArgs is treated as "{}".
// order == nil skips mapping entirely and rawArgs is returned unchanged.
func ResolveArguments(rawArgs string, order []models.ToolParameter) (json.RawMessage, error) {
	raw := strings.TrimSpace(rawArgs)
	if raw == "" {
		raw = "{}"
	}
	if len(order) == 0 {
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("invalid tool arguments: not valid JSON")
		}
		return json.RawMessage(raw), nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	if obj == nil {
		obj = map[string]json.RawMessage{}
	}

	for _, p := range order {
		v, present := obj[p.Name]
		if !present {
			if p.Required {
				return nil, fmt.Errorf("missing required parameter %q", p.Name)
			}
			continue
		}
		if p.IsArray && !isJSONArray(v) {
			obj[p.Name] = json.RawMessage("[" + string(v) + "]")
		}
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	writeField := func(name string, v json.RawMessage) {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		nameJSON, _ := json.Marshal(name)
		buf.Write(nameJSON)
		buf.WriteByte(':')
		buf.Write(v)
	}
	for _, p := range order {
		if v, present := obj[p.Name]; present {
			writeField(p.Name, v)
			delete(obj, p.Name)
		}
	}
	for k, v := range obj {
		writeField(k, v)
	}
	buf.WriteByte('}')
	return json.RawMessage(buf.Bytes()), nil
}

func isJSONArray(v json.RawMessage) bool {
	t := bytes.TrimSpace(v)
	return len(t) > 0 && t[0] == '['
}

// resultProcessorLimit is the character count above which a summarizable
// tool result is middle-truncated.
const resultProcessorLimit = 50000

var dataURLPattern = regexp.MustCompile(`data:[a-zA-Z0-9.+-]+/[a-zA-Z0-9.+-]+;base64,[A-Za-z0-9+/=]+`)

// processToolResult implements the Result Processor: when allowSummary is
// false the content is returned byte-for-byte, regardless of length.
// Otherwise content longer than resultProcessorLimit characters is
// middle-truncated with a byte-count marker, pulling the cut points
// outward around any embedded base64 data URL so one is never split.
func processToolResult(content string, allowSummary bool) string {
	if !allowSummary || len(content) <= resultProcessorLimit {
		return content
	}
	return middleTruncate(content, resultProcessorLimit)
}

func middleTruncate(content string, limit int) string {
	total := len(content)
	marker := fmt.Sprintf("\n...[truncated %d bytes]...\n", total-limit)
	keep := limit - len(marker)
	if keep < 0 {
		keep = 0
	}
	headEnd := keep / 2
	tailStart := total - (keep - headEnd)

	for _, m := range dataURLPattern.FindAllStringIndex(content, -1) {
		start, end := m[0], m[1]
		if headEnd > start && headEnd < end {
			headEnd = start
		}
		if tailStart > start && tailStart < end {
			tailStart = end
		}
	}
	if headEnd < 0 {
		headEnd = 0
	}
	if tailStart > total {
		tailStart = total
	}
	if headEnd > tailStart {
		headEnd = tailStart
	}

	return content[:headEnd] + marker + content[tailStart:]
}
