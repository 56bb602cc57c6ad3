// Package history manages the in-memory message history fed to a
// provider on every round: trimming it to a message and token budget
// without splitting a tool call from its result, and compacting away
// placeholder turns the tool loop leaves behind.
package history

import (
	"strings"
	"unicode/utf8"

	"github.com/nexuslabs/nexus/pkg/models"
)

// tokensPerChar is the conservative characters-per-token ratio used to
// estimate a message's token footprint when no provider-reported count is
// available.
const tokensPerChar = 0.25

// estimateTokens estimates the number of tokens text occupies using a
// conservative, Unicode-aware character count.
func estimateTokens(text string) int {
	chars := utf8.RuneCountInString(text)
	tokens := int(float64(chars) * tokensPerChar)
	if tokens == 0 && chars > 0 {
		return 1
	}
	return tokens
}

func messageTokens(m models.ConversationMessage) int {
	return estimateTokens(m.Content) + estimateTokens(m.Arguments) + estimateTokens(m.Result)
}

// Options configures a History's construction-time and standing-maintenance
// behavior, per the runtime's history construction contract.
type Options struct {
	// MaxMessages caps the message count Trim enforces after every
	// mutation. Zero disables message-count trimming.
	MaxMessages int
	// MaxTokens caps the estimated token footprint Trim enforces after
	// every mutation, applied alongside MaxMessages — whichever bound is
	// tighter wins. Zero disables token-budget trimming.
	MaxTokens int
	// PreserveSystemMessages, when true (the default), exempts every
	// system message from both budgets: Trim never drops one. When false,
	// system messages are trimmed like any other unit, oldest first.
	PreserveSystemMessages bool
	// CompactToolCalls, when true (the default), runs Compact after every
	// mutation alongside Trim.
	CompactToolCalls bool
}

// DefaultOptions returns the options a History built with bare New(messages)
// has: no budget limits, system messages preserved, tool-call placeholders
// compacted.
func DefaultOptions() Options {
	return Options{PreserveSystemMessages: true, CompactToolCalls: true}
}

// History is an ordered, append-only list of conversation messages. Every
// mutation (Append, AddAssistantResponse, AddMany) re-applies Trim then
// Compact per its Options, so callers never need to invoke either manually.
type History struct {
	messages []models.ConversationMessage
	opts     Options
}

// New creates a history seeded with the given messages. opts is optional;
// when omitted, DefaultOptions applies (no budget limits).
func New(messages []models.ConversationMessage, opts ...Options) *History {
	o := DefaultOptions()
	if len(opts) > 0 {
		o = opts[0]
	}
	h := &History{messages: append([]models.ConversationMessage(nil), messages...), opts: o}
	h.maintain()
	return h
}

// Messages returns a copy of the current message slice.
func (h *History) Messages() []models.ConversationMessage {
	return append([]models.ConversationMessage(nil), h.messages...)
}

// Append adds msg to the end of the history, then re-applies the standing
// Trim/Compact maintenance.
func (h *History) Append(msg models.ConversationMessage) {
	h.messages = append(h.messages, msg)
	h.maintain()
}

// AddMany appends every message in msgs in order, then re-applies the
// standing Trim/Compact maintenance once for the whole batch.
func (h *History) AddMany(msgs []models.ConversationMessage) {
	h.messages = append(h.messages, msgs...)
	h.maintain()
}

// AddAssistantResponse appends an assistant text message built from
// content. A subsequent LastAssistantHadToolCalls call returns false until
// function_call entries are appended after it.
func (h *History) AddAssistantResponse(content string) {
	h.Append(models.NewAssistantMessage(content))
}

func (h *History) maintain() {
	h.trim(h.opts.MaxMessages, h.opts.MaxTokens, h.opts.PreserveSystemMessages)
	if h.opts.CompactToolCalls {
		h.Compact()
	}
}

// LastAssistantHadToolCalls reports whether the most recent assistant
// text message was immediately followed by one or more function_call
// entries, i.e. the round it opened issued tool calls.
func (h *History) LastAssistantHadToolCalls() bool {
	lastAssistant := -1
	for i, m := range h.messages {
		if m.IsAssistant() {
			lastAssistant = i
		}
	}
	if lastAssistant == -1 || lastAssistant+1 >= len(h.messages) {
		return false
	}
	return h.messages[lastAssistant+1].Kind == models.KindFunctionCall
}

// unit is a group of messages that must be trimmed or kept together: a
// function_call and its matching function_call_output never split, so a
// budget cut always lands on a unit boundary.
type unit struct {
	messages  []models.ConversationMessage
	hasSystem bool
	tokens    int
}

func groupUnits(messages []models.ConversationMessage) []unit {
	var units []unit
	for i := 0; i < len(messages); i++ {
		m := messages[i]
		if m.Kind == models.KindFunctionCall && i+1 < len(messages) {
			next := messages[i+1]
			if next.Kind == models.KindFunctionCallOutput && next.CallID != "" && next.CallID == m.CallID {
				units = append(units, unit{
					messages: []models.ConversationMessage{m, next},
					tokens:   messageTokens(m) + messageTokens(next),
				})
				i++
				continue
			}
		}
		units = append(units, unit{
			messages:  []models.ConversationMessage{m},
			hasSystem: m.IsSystem(),
			tokens:    messageTokens(m),
		})
	}
	return units
}

// Trim keeps every system message (unless preserveSystem is false) and, of
// the remainder, the most recent messages that fit within maxMessages
// total and maxTokens estimated tokens, never splitting a function_call
// from its function_call_output. maxMessages <= 0 disables the message-
// count budget; maxTokens <= 0 disables the token budget.
func (h *History) Trim(maxMessages int) {
	h.trim(maxMessages, 0, true)
}

// TrimToBudget is Trim extended with a token budget: both maxMessages and
// maxTokens are enforced, whichever is tighter for a given cut.
func (h *History) TrimToBudget(maxMessages, maxTokens int) {
	h.trim(maxMessages, maxTokens, true)
}

func (h *History) trim(maxMessages, maxTokens int, preserveSystem bool) {
	if maxMessages <= 0 && maxTokens <= 0 {
		return
	}
	units := groupUnits(h.messages)

	var systemUnits, otherUnits []unit
	for _, u := range units {
		if preserveSystem && u.hasSystem {
			systemUnits = append(systemUnits, u)
		} else {
			otherUnits = append(otherUnits, u)
		}
	}

	systemCount, systemTokens := 0, 0
	for _, u := range systemUnits {
		systemCount += len(u.messages)
		systemTokens += u.tokens
	}

	messageBudget := maxMessages - systemCount
	tokenBudget := maxTokens - systemTokens

	var kept []unit
	count, tokens := 0, 0
	for i := len(otherUnits) - 1; i >= 0; i-- {
		u := otherUnits[i]
		size := len(u.messages)
		if maxMessages > 0 && messageBudget > 0 && count+size > messageBudget {
			break
		}
		if maxTokens > 0 && tokenBudget > 0 && tokens+u.tokens > tokenBudget {
			break
		}
		kept = append([]unit{u}, kept...)
		count += size
		tokens += u.tokens
	}

	result := make([]models.ConversationMessage, 0, len(h.messages))
	for _, u := range systemUnits {
		result = append(result, u.messages...)
	}
	for _, u := range kept {
		result = append(result, u.messages...)
	}
	h.messages = result
}

// Compact drops assistant text turns that carry no content and exist only
// as a placeholder immediately before the function_call entries they
// introduced. The function_call entries alone already represent the
// turn, so the empty placeholder is redundant. Running Compact again on
// an already-compacted history is a no-op.
func (h *History) Compact() {
	out := make([]models.ConversationMessage, 0, len(h.messages))
	for i, m := range h.messages {
		if m.IsAssistant() && strings.TrimSpace(m.Content) == "" && i+1 < len(h.messages) {
			if h.messages[i+1].Kind == models.KindFunctionCall {
				continue
			}
		}
		out = append(out, m)
	}
	h.messages = out
}
