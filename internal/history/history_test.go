package history

import (
	"testing"

	"github.com/nexuslabs/nexus/pkg/models"
)

func funcCall(callID string) models.ConversationMessage {
	return models.ConversationMessage{Kind: models.KindFunctionCall, ID: "fc-" + callID, CallID: callID, Name: "tool"}
}

func funcOutput(callID string) models.ConversationMessage {
	return models.ConversationMessage{Kind: models.KindFunctionCallOutput, ID: "fo-" + callID, CallID: callID, Result: "ok"}
}

func TestTrimPreservesSystemMessages(t *testing.T) {
	h := New([]models.ConversationMessage{
		models.NewSystemMessage("system prompt"),
		models.NewUserMessage("1"),
		models.NewAssistantMessage("2"),
		models.NewUserMessage("3"),
		models.NewAssistantMessage("4"),
	})
	h.Trim(2)

	msgs := h.Messages()
	if !msgs[0].IsSystem() {
		t.Fatalf("expected system message preserved first, got %+v", msgs[0])
	}
	if len(msgs) != 3 {
		t.Fatalf("expected system + 2 most recent messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[1].Content != "3" || msgs[2].Content != "4" {
		t.Fatalf("expected the most recent non-system messages kept, got %+v", msgs[1:])
	}
}

func TestTrimNeverSplitsFunctionCallPair(t *testing.T) {
	h := New([]models.ConversationMessage{
		models.NewUserMessage("1"),
		funcCall("a"),
		funcOutput("a"),
		models.NewAssistantMessage("final"),
	})
	// Budget of 2 would otherwise land mid-pair; the pair must be dropped
	// wholesale rather than split.
	h.Trim(2)

	msgs := h.Messages()
	for _, m := range msgs {
		if m.Kind == models.KindFunctionCall {
			t.Fatalf("expected function_call to be dropped as a whole unit, got %+v", msgs)
		}
	}
}

func TestTrimNoopWhenUnderBudget(t *testing.T) {
	original := []models.ConversationMessage{
		models.NewUserMessage("1"),
		models.NewAssistantMessage("2"),
	}
	h := New(original)
	h.Trim(10)

	if len(h.Messages()) != len(original) {
		t.Fatalf("expected no trimming when already under budget")
	}
}

func TestCompactDropsEmptyAssistantPlaceholderBeforeToolCalls(t *testing.T) {
	h := New([]models.ConversationMessage{
		models.NewUserMessage("do it"),
		models.NewAssistantMessage(""),
		funcCall("a"),
		funcOutput("a"),
	})
	h.Compact()

	msgs := h.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected empty placeholder dropped, got %d messages: %+v", len(msgs), msgs)
	}
	if msgs[1].Kind != models.KindFunctionCall {
		t.Fatalf("expected function_call to directly follow user message, got %+v", msgs[1])
	}
}

func TestCompactKeepsAssistantTextWithContent(t *testing.T) {
	h := New([]models.ConversationMessage{
		models.NewUserMessage("do it"),
		models.NewAssistantMessage("let me check that"),
		funcCall("a"),
		funcOutput("a"),
	})
	h.Compact()

	msgs := h.Messages()
	if len(msgs) != 4 {
		t.Fatalf("expected non-empty assistant message preserved, got %d: %+v", len(msgs), msgs)
	}
}

func TestCompactIsIdempotent(t *testing.T) {
	h := New([]models.ConversationMessage{
		models.NewUserMessage("do it"),
		models.NewAssistantMessage(""),
		funcCall("a"),
		funcOutput("a"),
	})
	h.Compact()
	once := h.Messages()
	h.Compact()
	twice := h.Messages()

	if len(once) != len(twice) {
		t.Fatalf("expected compact to be idempotent, got %d then %d", len(once), len(twice))
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Fatalf("expected identical messages after second compact at index %d", i)
		}
	}
}

func TestLastAssistantHadToolCalls(t *testing.T) {
	h := New(nil)
	h.AddAssistantResponse("")
	if h.LastAssistantHadToolCalls() {
		t.Fatalf("expected false before any function_call is appended")
	}

	h.Append(funcCall("a"))
	if !h.LastAssistantHadToolCalls() {
		t.Fatalf("expected true once a function_call follows the assistant turn")
	}
}

func TestLastAssistantHadToolCallsFalseForPlainTextReply(t *testing.T) {
	h := New(nil)
	h.AddAssistantResponse("just a text answer")
	if h.LastAssistantHadToolCalls() {
		t.Fatalf("expected false for a plain text reply with no tool calls")
	}
}
