// Package translate converts the canonical conversation model to and from
// each vendor's native message and streaming-event shapes. All functions are
// stateless and pure; the session orchestrator calls them on every round.
package translate

import (
	"github.com/aschepis/backscratcher/gateway/llm"
	llmanthropic "github.com/aschepis/backscratcher/gateway/llm/anthropic"
	llmgemini "github.com/aschepis/backscratcher/gateway/llm/gemini"
	llmopenai "github.com/aschepis/backscratcher/gateway/llm/openai"
)

// ToVendor converts canonical messages into the target vendor's native
// message list. Elements of the returned slice are vendor SDK types.
func ToVendor(vendor string, msgs []llm.Message) ([]any, error) {
	if err := llm.ValidateMessages(msgs); err != nil {
		return nil, err
	}
	switch vendor {
	case llm.VendorOpenAI:
		converted, err := llmopenai.ToMessages(msgs)
		if err != nil {
			return nil, err
		}
		return wrap(converted), nil
	case llm.VendorAnthropic:
		converted, err := llmanthropic.ToMessages(msgs)
		if err != nil {
			return nil, err
		}
		return wrap(converted), nil
	case llm.VendorGemini:
		converted, err := llmgemini.ToMessages(msgs)
		if err != nil {
			return nil, err
		}
		return wrap(converted), nil
	default:
		return nil, llm.NewUnsupportedVendorError(vendor)
	}
}

// FromVendorEvents translates raw vendor chunks into canonical stream
// events. Unparseable or foreign chunks are dropped per chunk; they are
// never fatal to the whole stream.
func FromVendorEvents(vendor string, chunks []any) ([]llm.StreamEvent, error) {
	switch vendor {
	case llm.VendorOpenAI:
		return llmopenai.FromChunks(chunks), nil
	case llm.VendorAnthropic:
		return llmanthropic.FromChunks(chunks), nil
	case llm.VendorGemini:
		return llmgemini.FromChunks(chunks), nil
	default:
		return nil, llm.NewUnsupportedVendorError(vendor)
	}
}

// BuildFollowup assembles the vendor-native message list for a follow-up
// round: the prior conversation, the assistant turn that requested the
// pending calls (with any partial text), the tool outputs, and a rendered
// text carryover of tool history from other providers.
func BuildFollowup(vendor string, prior []llm.Message, pending []llm.ToolCall, partialText string, outputs []llm.ToolOutput, history []llm.HistoryEntry) ([]any, error) {
	if !llm.KnownVendor(vendor) {
		return nil, llm.NewUnsupportedVendorError(vendor)
	}

	msgs := make([]llm.Message, 0, len(prior)+3)
	msgs = append(msgs, prior...)

	if len(pending) > 0 || partialText != "" {
		assistant := llm.Message{Role: llm.RoleAssistant, ToolCalls: pending}
		if partialText != "" {
			assistant.Content = []llm.ContentBlock{{Type: llm.ContentBlockTypeText, Text: partialText}}
		}
		msgs = append(msgs, assistant)
	}

	if len(outputs) > 0 {
		names := callNames(pending)
		results := make([]llm.ToolResultBlock, 0, len(outputs))
		for _, out := range outputs {
			results = append(results, llm.ToolResultBlock{
				CallID:  out.CallID,
				Name:    names[out.CallID],
				Payload: out.Payload,
			})
		}
		msgs = append(msgs, llm.NewToolResultMessage(results))
	}

	// Remind a vendor of tool activity it cannot natively see: rounds that
	// ran under a different provider are replayed as plain text turns.
	var carryover []llm.HistoryEntry
	for _, entry := range history {
		if entry.Provider != vendor {
			carryover = append(carryover, entry)
		}
	}
	if len(carryover) > 0 {
		for _, segment := range ChunkText(RenderHistory(carryover), historyChunkLimit) {
			msgs = append(msgs, llm.NewTextMessage(llm.RoleUser, segment))
		}
	}

	return ToVendor(vendor, msgs)
}

func callNames(calls []llm.ToolCall) map[string]string {
	names := make(map[string]string, len(calls))
	for _, c := range calls {
		names[c.ID] = c.Name
	}
	return names
}

func wrap[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
