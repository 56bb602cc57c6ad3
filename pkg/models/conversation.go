package models

import (
	"encoding/json"
	"time"
)

// ConversationRole identifies the author of a conversation message.
type ConversationRole string

const (
	ConversationRoleSystem    ConversationRole = "system"
	ConversationRoleUser      ConversationRole = "user"
	ConversationRoleAssistant ConversationRole = "assistant"
)

// ConversationKind discriminates the tagged conversation-message union.
type ConversationKind string

const (
	// KindMessage covers system/user/assistant text turns.
	KindMessage ConversationKind = "message"
	// KindFunctionCall is a model-issued tool invocation request.
	KindFunctionCall ConversationKind = "function_call"
	// KindFunctionCallOutput is the paired result of a function call.
	KindFunctionCallOutput ConversationKind = "function_call_output"
)

// ConversationMessage is the tagged record that makes up message history.
// Exactly one shape of fields is populated per Kind:
//
//   - KindMessage: Role, Content, Status
//   - KindFunctionCall: ID, CallID, Name, Arguments
//   - KindFunctionCallOutput: ID, CallID, Name, Result
//
// Messages are immutable once appended to a History; order is significant.
type ConversationMessage struct {
	Kind ConversationKind `json:"kind"`

	// Populated for KindMessage.
	Role    ConversationRole `json:"role,omitempty"`
	Content string           `json:"content,omitempty"`
	Status  string           `json:"status,omitempty"`

	// Populated for KindFunctionCall and KindFunctionCallOutput.
	ID        string `json:"id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"` // KindFunctionCall: stringified JSON args
	Result    string `json:"result,omitempty"`    // KindFunctionCallOutput: result text
}

// NewSystemMessage builds a system-role message.
func NewSystemMessage(content string) ConversationMessage {
	return ConversationMessage{Kind: KindMessage, Role: ConversationRoleSystem, Content: content}
}

// NewUserMessage builds a user-role message.
func NewUserMessage(content string) ConversationMessage {
	return ConversationMessage{Kind: KindMessage, Role: ConversationRoleUser, Content: content}
}

// NewAssistantMessage builds an assistant-role message.
func NewAssistantMessage(content string) ConversationMessage {
	return ConversationMessage{Kind: KindMessage, Role: ConversationRoleAssistant, Content: content}
}

// IsAssistant reports whether m is an assistant text turn.
func (m ConversationMessage) IsAssistant() bool {
	return m.Kind == KindMessage && m.Role == ConversationRoleAssistant
}

// IsUser reports whether m is a user text turn.
func (m ConversationMessage) IsUser() bool {
	return m.Kind == KindMessage && m.Role == ConversationRoleUser
}

// IsSystem reports whether m is a system text turn.
func (m ConversationMessage) IsSystem() bool {
	return m.Kind == KindMessage && m.Role == ConversationRoleSystem
}

// FunctionToolCall is the model-issued request to invoke a named function.
// Additional opaque fields attached by the loop (e.g. a running-tool id) are
// preserved across copies via Extra.
type FunctionToolCall struct {
	ID     string `json:"id"`
	CallID string `json:"call_id,omitempty"`

	Function FunctionCallSpec `json:"function"`

	// Extra holds unknown/opaque fields attached by the loop or a provider
	// adapter (e.g. "runningToolId"). Preserved verbatim by Clone.
	Extra map[string]json.RawMessage `json:"-"`
}

// FunctionCallSpec names the function and its stringified JSON arguments.
type FunctionCallSpec struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Clone returns a deep-enough copy of c that preserves Extra's unknown
// fields; mutating the clone's Extra map does not affect c's.
func (c FunctionToolCall) Clone() FunctionToolCall {
	clone := c
	if c.Extra != nil {
		clone.Extra = make(map[string]json.RawMessage, len(c.Extra))
		for k, v := range c.Extra {
			clone.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return clone
}

// ToolParameter describes one declared parameter of a tool function, in
// the order the underlying callable expects its positional arguments.
type ToolParameter struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	IsArray  bool   `json:"is_array"`
}

// ToolFunctionSpec is the JSON-schema function spec half of a Tool.
type ToolFunctionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON-schema object
	// ParameterOrder lists declared parameters in the callable's positional
	// order; the loop maps named arguments onto this order at invocation.
	ParameterOrder []ToolParameter `json:"-"`
	// AllowSummary controls Result Processor truncation: when false the
	// tool's output must be returned byte-for-byte, never truncated.
	AllowSummary bool `json:"-"`
}

// ModelSettings carries per-request model tuning knobs.
type ModelSettings struct {
	Temperature      *float64       `json:"temperature,omitempty"`
	TopP             *float64       `json:"top_p,omitempty"`
	ToolChoice       string         `json:"tool_choice,omitempty"`
	SequentialTools  bool           `json:"sequential_tools,omitempty"`
	Verbosity        string         `json:"verbosity,omitempty"`
	ServiceTier      string         `json:"service_tier,omitempty"`
	ProviderSettings map[string]any `json:"provider_settings,omitempty"`
}

// UsageEntry records token/character usage for one provider call and the
// cost derived from the model registry's price vector at append time.
type UsageEntry struct {
	Model         string         `json:"model"`
	InputTokens   int64          `json:"input_tokens"`
	OutputTokens  int64          `json:"output_tokens"`
	CachedTokens  int64          `json:"cached_tokens,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Cost          float64        `json:"cost"`
	Timestamp     time.Time      `json:"timestamp"`
}

// AgentSnapshot is the agent identity attached to every emitted event.
type AgentSnapshot struct {
	ID    string   `json:"id"`
	Name  string   `json:"name,omitempty"`
	Model string   `json:"model,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}
