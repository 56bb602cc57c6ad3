// Package eventbus implements the optional process-wide sink for provider
// stream events, used when callers want side-channel observation of every
// invocation rather than only their own request's stream.
package eventbus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nexuslabs/nexus/pkg/models"
)

// Handler receives every event emitted through a Bus. Handler panics and
// errors are caught and logged; they never propagate to the caller of
// Emit and never abort the invocation that triggered the event.
type Handler func(event models.StreamEvent)

// Bus is a single installable event handler with agent-snapshot
// enrichment. The zero value is ready to use with no handler installed.
type Bus struct {
	mu      sync.RWMutex
	handler Handler
	logger  *slog.Logger
}

// New creates an empty bus (no handler installed).
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

var (
	defaultOnce sync.Once
	defaultBus  *Bus
)

// Default returns the process-wide singleton bus, initialized lazily.
func Default() *Bus {
	defaultOnce.Do(func() { defaultBus = New(nil) })
	return defaultBus
}

// ResetDefault clears the process-wide singleton's handler. Exists for
// tests.
func ResetDefault() {
	Default().SetHandler(nil)
}

// SetHandler installs fn as the bus's handler, replacing any previous
// one. Passing nil uninstalls it.
func (b *Bus) SetHandler(fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = fn
}

// HasHandler reports whether a handler is currently installed. Providers
// consult this to decide whether to additionally yield a cost_update into
// their own stream, avoiding double delivery.
func (b *Bus) HasHandler() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.handler != nil
}

// Emit enriches event with an agent snapshot (id, name, tags, model =
// modelOverride if non-empty, else agent.Model) and invokes the installed
// handler, if any. Handler panics/nothing-returned are recovered and
// logged, never propagated.
func (b *Bus) Emit(event models.StreamEvent, agent *models.AgentSnapshot, modelOverride string) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if agent != nil {
		event = event.WithAgent(*agent, modelOverride)
	}

	b.mu.RLock()
	handler := b.handler
	b.mu.RUnlock()
	if handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event bus handler panicked", "panic", r, "event_type", event.Type)
		}
	}()
	handler(event)
}
