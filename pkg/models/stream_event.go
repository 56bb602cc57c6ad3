package models

import "time"

// StreamEventType discriminates the Provider Stream Event tagged union.
// Unknown types encountered from a provider adapter are forwarded
// unchanged rather than rejected.
type StreamEventType string

const (
	StreamAgentStart          StreamEventType = "agent_start"
	StreamMessageDelta        StreamEventType = "message_delta"
	StreamMessageComplete     StreamEventType = "message_complete"
	StreamToolStart           StreamEventType = "tool_start"
	StreamToolDone            StreamEventType = "tool_done"
	StreamToolResult          StreamEventType = "tool_result"
	StreamCostUpdate          StreamEventType = "cost_update"
	StreamAudio               StreamEventType = "audio_stream"
	StreamTranscriptionDelta  StreamEventType = "transcription_delta"
	StreamTranscriptionDone   StreamEventType = "transcription_complete"
	StreamError               StreamEventType = "error"
	StreamAgentDone           StreamEventType = "agent_done"
)

// StreamEvent is the single shared envelope for every event the core
// produces: a Type discriminator, an ISO-8601 timestamp, and — once the
// facade has injected it — an AgentSnapshot. Downstream consumers switch
// on Type; exactly the payload field matching Type is populated.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Agent     *AgentSnapshot  `json:"agent,omitempty"`

	// message_delta / message_complete
	MessageID string `json:"message_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Order     int64  `json:"order,omitempty"`

	// tool_start
	ToolCalls []FunctionToolCall `json:"tool_calls,omitempty"`

	// tool_done / tool_result
	ToolResults []ToolResult `json:"tool_results,omitempty"`

	// cost_update
	Usage *UsageEntry `json:"usage,omitempty"`

	// audio_stream
	Audio *AudioStreamPayload `json:"audio,omitempty"`

	// transcription_delta / transcription_complete
	Transcription string `json:"transcription,omitempty"`

	// error
	Error       string `json:"error,omitempty"`
	Code        string `json:"code,omitempty"`
	Details     string `json:"details,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
}

// AudioStreamPayload describes a chunk of a voice response.
type AudioStreamPayload struct {
	Format         string `json:"format,omitempty"`
	PCMParameters  string `json:"pcm_parameters,omitempty"`
	ChunkIndex     int    `json:"chunk_index"`
	Data           string `json:"data,omitempty"` // base64
	Final          bool   `json:"final,omitempty"`
}

// WithAgent returns a copy of e with the agent snapshot enriched the way
// the Event Bus does: model is the override when given, else agent.Model.
func (e StreamEvent) WithAgent(agent AgentSnapshot, modelOverride string) StreamEvent {
	snap := agent
	if modelOverride != "" {
		snap.Model = modelOverride
	}
	e.Agent = &snap
	return e
}
