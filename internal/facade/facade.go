// Package facade implements the public request entry point: it resolves
// an agent definition to a runnable model/provider pair, drives the tool
// loop wrapped in pause-aware streaming retry, and yields the resulting
// event sequence while mirroring every event through the optional event
// bus side channel.
package facade

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/nexuslabs/nexus/internal/agent"
	"github.com/nexuslabs/nexus/internal/agent/routing"
	"github.com/nexuslabs/nexus/internal/eventbus"
	"github.com/nexuslabs/nexus/internal/history"
	imodels "github.com/nexuslabs/nexus/internal/models"
	"github.com/nexuslabs/nexus/internal/observability"
	"github.com/nexuslabs/nexus/internal/pause"
	"github.com/nexuslabs/nexus/internal/retryengine"
	"github.com/nexuslabs/nexus/internal/toolloop"
	"github.com/nexuslabs/nexus/internal/usage"
	"github.com/nexuslabs/nexus/internal/verifier"
	"github.com/nexuslabs/nexus/pkg/models"
)

// AgentDefinition names the agent and model a request runs against. An
// explicit Model takes precedence over ModelClass; HistoryThread, when
// set, replaces the messages argument to Request entirely — the same
// substitution spec's historyThread performs.
//
// Tools, OnToolCall, MaxToolCalls, MaxToolCallRoundsPerTurn and
// HistoryOptions are per-agent overrides of the Facade-level defaults: a
// zero value (nil slice, nil func, zero int, zero Options) falls back to
// the Facade's own Registry/Hooks/Loop/history defaults, so two
// AgentDefinitions run through the same Facade can still carry distinct
// tool sets, budgets and hooks.
type AgentDefinition struct {
	ID            string
	Name          string
	Tags          []string
	Model         string
	ModelClass    string
	ModelSettings models.ModelSettings
	HistoryThread []models.ConversationMessage

	// Tools restricts the tool set this agent may call to the named
	// subset of the Facade's Registry. Empty means every registered tool.
	Tools []string
	// OnToolCall overrides the Facade-level Hooks.OnToolCall for this
	// agent only.
	OnToolCall func(ctx context.Context, call models.FunctionToolCall)
	// MaxToolCalls overrides the Facade-level Loop.MaxToolCalls for this
	// agent. Zero means "use the Facade default".
	MaxToolCalls int
	// MaxToolCallRoundsPerTurn overrides the Facade-level
	// Loop.MaxToolCallRounds for this agent. Zero means "use the Facade
	// default".
	MaxToolCallRoundsPerTurn int
	// HistoryOptions overrides the history construction options used for
	// this agent's turn. Nil means history.DefaultOptions().
	HistoryOptions *history.Options

	// Verifier and Grade are the defaults RequestVerified falls back to
	// when called without an explicit verifier/grade function.
	Verifier *verifier.Verifier
	Grade    verifier.GradeFunc
}

// ProviderResolver returns an unwrapped ProviderAsk for the given
// provider/model pair. The facade wraps whatever it returns with pause
// checks and streaming retry before handing it to the tool loop.
type ProviderResolver func(provider, model string) (toolloop.ProviderAsk, error)

// Facade ties every component together behind Request. Zero-value fields
// fall back to sane defaults where one exists (DefaultCatalog,
// OSEnvLookup); Providers and Registry/Executor must be set by the
// caller.
type Facade struct {
	Pause       *pause.Controller
	Bus         *eventbus.Bus
	Cost        *usage.CostTracker
	Catalog     *imodels.Catalog
	Classes     *imodels.ClassRegistry
	KeyLookup   routing.KeyLookup
	Registry    *agent.ToolRegistry
	Executor    *agent.ToolExecutor
	Providers   ProviderResolver
	RetryPolicy retryengine.Policy
	Loop        toolloop.Config
	Hooks       toolloop.Hooks

	// Tracer, when set, opens one client span per provider call via
	// Tracer.TraceLLMRequest. Metrics, when set, records its
	// duration/outcome via Metrics.RecordLLMRequest. Both nil disables
	// instrumentation entirely.
	Tracer  *observability.Tracer
	Metrics *observability.Metrics
}

// New creates a Facade with the given provider resolver and tool
// registry/executor, filling every other field with process defaults.
func New(providers ProviderResolver, registry *agent.ToolRegistry, executor *agent.ToolExecutor) *Facade {
	return &Facade{
		Pause:       pause.Default(),
		Bus:         eventbus.Default(),
		Cost:        usage.NewCostTracker(nil),
		Catalog:     imodels.DefaultCatalog,
		Classes:     imodels.DefaultClassRegistry(),
		Registry:    registry,
		Executor:    executor,
		Providers:   providers,
		RetryPolicy: retryengine.DefaultPolicy(),
	}
}

func (f *Facade) preCall(ctx context.Context) error {
	if f.Pause == nil {
		return ctx.Err()
	}
	if err := f.Pause.WaitWhilePaused(ctx, 0); err != nil {
		return err
	}
	return ctx.Err()
}

func (f *Facade) emit(out chan<- models.StreamEvent, e models.StreamEvent, agent models.AgentSnapshot, model string) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	enriched := e.WithAgent(agent, model)
	out <- enriched
	if f.Bus != nil {
		f.Bus.Emit(e, &agent, model)
	}
}

// wrapAsk wraps a raw, unwrapped ProviderAsk with a pause check and the
// streaming retry policy: the upstream call retries only before its
// first event has been forwarded, per the retry engine's streaming rule.
// A terminal failure — including an abort during a pause — becomes an
// in-band error event rather than an error returned from the channel,
// so it never escapes as a panic or unchecked error past the consumer.
// provider/model name the span Tracer opens and the counters Metrics
// records for this call.
func (f *Facade) wrapAsk(raw toolloop.ProviderAsk, provider, model string) toolloop.ProviderAsk {
	return func(ctx context.Context, msgs []models.ConversationMessage, tools []models.ToolFunctionSpec, settings models.ModelSettings) (<-chan models.StreamEvent, error) {
		out := make(chan models.StreamEvent)
		go func() {
			defer close(out)

			start := time.Now()
			var span trace.Span
			if f.Tracer != nil {
				ctx, span = f.Tracer.TraceLLMRequest(ctx, provider, model)
				defer span.End()
			}

			run := retryengine.RetryStream(ctx, f.RetryPolicy, f.preCall, func(ctx context.Context, attempt int, emit func(models.StreamEvent) error) error {
				stream, err := raw(ctx, msgs, tools, settings)
				if err != nil {
					return err
				}
				for e := range stream {
					if err := emit(e); err != nil {
						return err
					}
				}
				return nil
			})
			err := run(func(e models.StreamEvent) error {
				out <- e
				return nil
			})

			status := "success"
			if err != nil {
				status = "error"
				if f.Tracer != nil {
					f.Tracer.RecordError(span, err)
				}
				out <- models.StreamEvent{
					Type:        models.StreamError,
					Error:       err.Error(),
					Recoverable: !errors.Is(err, pause.ErrAborted) && retryengine.IsRetryable(err),
				}
			}
			if f.Metrics != nil {
				f.Metrics.RecordLLMRequest(provider, model, status, time.Since(start).Seconds(), 0, 0)
			}
		}()
		return out, nil
	}
}

// Request is the public entry point: a lazy sequence of events for one
// turn against agentDef, substituting agentDef.HistoryThread for messages
// when set. The returned channel is closed once the turn concludes
// (agent_done) or is aborted.
func (f *Facade) Request(ctx context.Context, messages []models.ConversationMessage, agentDef AgentDefinition) <-chan models.StreamEvent {
	out := make(chan models.StreamEvent, 8)

	go func() {
		defer close(out)

		msgs := messages
		if len(agentDef.HistoryThread) > 0 {
			msgs = agentDef.HistoryThread
		}

		snapshot := models.AgentSnapshot{ID: agentDef.ID, Name: agentDef.Name, Tags: agentDef.Tags}

		if err := f.preCall(ctx); err != nil {
			f.emit(out, models.StreamEvent{Type: models.StreamError, Error: "aborted", Recoverable: false}, snapshot, agentDef.Model)
			return
		}

		capability := routing.CanRunAgent(
			routing.AgentSpec{Model: agentDef.Model, ModelClass: agentDef.ModelClass},
			f.Catalog, f.Classes, f.KeyLookup,
		)
		if !capability.CanRun {
			reason := capability.Reason
			if reason == "" {
				reason = "no provider available for agent"
			}
			f.emit(out, models.StreamEvent{Type: models.StreamError, Error: reason, Code: "capability_unavailable"}, snapshot, agentDef.Model)
			return
		}
		snapshot.Model = capability.Model

		f.emit(out, models.StreamEvent{Type: models.StreamAgentStart}, snapshot, capability.Model)

		rawAsk, err := f.Providers(string(capability.Provider), capability.Model)
		if err != nil {
			f.emit(out, models.StreamEvent{Type: models.StreamError, Error: err.Error()}, snapshot, capability.Model)
			return
		}

		registry := f.Registry
		if f.Registry != nil {
			registry = f.Registry.Subset(agentDef.Tools)
		}

		cfg := f.Loop
		if agentDef.MaxToolCalls > 0 {
			cfg.MaxToolCalls = agentDef.MaxToolCalls
		}
		if agentDef.MaxToolCallRoundsPerTurn > 0 {
			cfg.MaxToolCallRounds = agentDef.MaxToolCallRoundsPerTurn
		}

		loop := toolloop.New(f.wrapAsk(rawAsk, string(capability.Provider), capability.Model), registry, f.Executor, cfg)
		loop.Hooks = f.Hooks
		if agentDef.OnToolCall != nil {
			loop.Hooks = toolloop.Hooks{OnToolCall: agentDef.OnToolCall}
		}

		histOpts := history.DefaultOptions()
		if agentDef.HistoryOptions != nil {
			histOpts = *agentDef.HistoryOptions
		}
		hist := history.New(msgs, histOpts)
		inner := make(chan models.StreamEvent, 8)
		go func() {
			_ = loop.Run(ctx, hist, agentDef.ModelSettings, inner)
			close(inner)
		}()

		for e := range inner {
			f.emit(out, e, snapshot, capability.Model)
		}

		if !f.Bus.HasHandler() {
			entries := f.Cost.Entries()
			if len(entries) > 0 {
				last := entries[len(entries)-1]
				f.emit(out, models.StreamEvent{Type: models.StreamCostUpdate, Usage: &last}, snapshot, capability.Model)
			}
		}
	}()

	return out
}

// collected is one fully-drained Request call: every event plus the
// concatenated text of its message_complete events, used as a verifier
// attempt's output.
type collected struct {
	events []models.StreamEvent
	text   string
}

func (f *Facade) collect(ctx context.Context, messages []models.ConversationMessage, agentDef AgentDefinition) (collected, error) {
	var result collected
	var text strings.Builder
	for e := range f.Request(ctx, messages, agentDef) {
		result.events = append(result.events, e)
		if e.Type == models.StreamMessageComplete {
			text.WriteString(e.Text)
		}
		if e.Type == models.StreamError {
			result.text = text.String()
			return result, errors.New(e.Error)
		}
	}
	result.text = text.String()
	return result, nil
}

// RequestVerified runs Request under v: each attempt's concatenated
// message_complete text is graded, and a failing grade is appended to the
// conversation as a critique system message before the next attempt
// re-runs the whole request. It returns the winning (or, if every
// attempt failed grading, the last) attempt's full event sequence
// alongside the verifier's verdict. A nil v or grade falls back to
// agentDef.Verifier / agentDef.Grade.
func (f *Facade) RequestVerified(ctx context.Context, messages []models.ConversationMessage, agentDef AgentDefinition, v *verifier.Verifier, grade verifier.GradeFunc) ([]models.StreamEvent, verifier.Result, error) {
	if v == nil {
		v = agentDef.Verifier
	}
	if grade == nil {
		grade = agentDef.Grade
	}
	var lastEvents []models.StreamEvent

	run := func(ctx context.Context, msgs []models.ConversationMessage, agentSnap models.AgentSnapshot) (string, error) {
		result, err := f.collect(ctx, msgs, agentDef)
		lastEvents = result.events
		return result.text, err
	}

	snapshot := models.AgentSnapshot{ID: agentDef.ID, Name: agentDef.Name, Model: agentDef.Model, Tags: agentDef.Tags}
	result, err := v.Run(ctx, messages, snapshot, run, grade)
	return lastEvents, result, err
}
