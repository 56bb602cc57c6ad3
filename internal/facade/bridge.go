package facade

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/nexuslabs/nexus/internal/agent"
	"github.com/nexuslabs/nexus/internal/toolloop"
	"github.com/nexuslabs/nexus/internal/usage"
	"github.com/nexuslabs/nexus/pkg/models"
)

// BridgeLLMProvider adapts a kept provider adapter (internal/agent/providers)
// to the toolloop.ProviderAsk contract: it translates message history to
// and from provider's CompletionRequest/CompletionChunk shape, collects
// the adapter's own tool list from registry rather than from the tool
// specs the loop passes in (those exist for the loop's own argument
// mapping, not for re-declaring tools to the provider), and turns a
// completed exchange's token counts into a cost_update once the stream
// finishes.
func BridgeLLMProvider(provider agent.LLMProvider, modelID string, registry *agent.ToolRegistry, cost *usage.CostTracker) toolloop.ProviderAsk {
	return func(ctx context.Context, msgs []models.ConversationMessage, tools []models.ToolFunctionSpec, settings models.ModelSettings) (<-chan models.StreamEvent, error) {
		req := &agent.CompletionRequest{
			Model:    modelID,
			Messages: toCompletionMessages(msgs),
			Tools:    registry.AsLLMTools(),
		}

		chunks, err := provider.Complete(ctx, req)
		if err != nil {
			return nil, err
		}

		out := make(chan models.StreamEvent)
		go func() {
			defer close(out)

			messageID := uuid.NewString()
			var toolCalls []models.FunctionToolCall

			for chunk := range chunks {
				if chunk.Error != nil {
					out <- models.StreamEvent{Type: models.StreamError, Error: chunk.Error.Error()}
					return
				}
				if chunk.ToolCall != nil {
					toolCalls = append(toolCalls, models.FunctionToolCall{
						ID:     chunk.ToolCall.ID,
						CallID: chunk.ToolCall.ID,
						Function: models.FunctionCallSpec{
							Name:      chunk.ToolCall.Name,
							Arguments: string(chunk.ToolCall.Input),
						},
					})
				}
				if chunk.Text != "" {
					out <- models.StreamEvent{Type: models.StreamMessageDelta, MessageID: messageID, Text: chunk.Text}
				}
				if chunk.Done {
					if len(toolCalls) > 0 {
						out <- models.StreamEvent{Type: models.StreamToolStart, ToolCalls: toolCalls}
					}
					if cost != nil && (chunk.InputTokens > 0 || chunk.OutputTokens > 0) {
						entry := cost.AddUsage(modelID, usage.Usage{
							InputTokens:  int64(chunk.InputTokens),
							OutputTokens: int64(chunk.OutputTokens),
						}, nil)
						out <- models.StreamEvent{Type: models.StreamCostUpdate, Usage: &entry}
					}
					out <- models.StreamEvent{Type: models.StreamMessageComplete, MessageID: messageID}
					return
				}
			}
		}()
		return out, nil
	}
}

// toCompletionMessages flattens tagged history entries into the
// provider adapters' flat CompletionMessage shape, pairing each
// function_call with its function_call_output.
func toCompletionMessages(msgs []models.ConversationMessage) []agent.CompletionMessage {
	out := make([]agent.CompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Kind {
		case models.KindMessage:
			out = append(out, agent.CompletionMessage{Role: string(m.Role), Content: m.Content})
		case models.KindFunctionCall:
			out = append(out, agent.CompletionMessage{
				Role: "assistant",
				ToolCalls: []models.ToolCall{{
					ID:    m.CallID,
					Name:  m.Name,
					Input: json.RawMessage(m.Arguments),
				}},
			})
		case models.KindFunctionCallOutput:
			out = append(out, agent.CompletionMessage{
				Role: "tool",
				ToolResults: []models.ToolResult{{
					ToolCallID: m.CallID,
					Content:    m.Result,
				}},
			})
		}
	}
	return out
}
