package anthropic

import (
	"encoding/json"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/aschepis/backscratcher/gateway/llm"
)

// ToMessages converts canonical messages to Anthropic MessageParams.
// Tool results ride in user-role messages as tool_result content blocks;
// assistant tool calls become tool_use blocks appended after any text block.
func ToMessages(msgs []llm.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		converted, err := toMessage(msg)
		if err != nil {
			return nil, err
		}
		result = append(result, converted)
	}
	return result, nil
}

func toMessage(msg llm.Message) (anthropic.MessageParam, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content)+len(msg.ToolCalls))
	for _, block := range msg.Content {
		switch block.Type {
		case llm.ContentBlockTypeText:
			if block.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(block.Text))
			}
		case llm.ContentBlockTypeToolResult:
			if block.ToolResult != nil {
				blocks = append(blocks, anthropic.NewToolResultBlock(
					block.ToolResult.CallID,
					block.ToolResult.Payload,
					false,
				))
			}
		}
	}
	for _, call := range msg.ToolCalls {
		blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, parseArguments(call.Arguments), call.Name))
	}

	switch msg.Role {
	case llm.RoleAssistant:
		return anthropic.NewAssistantMessage(blocks...), nil
	default:
		// Tool results and system text go out as user turns; the Anthropic
		// message list only knows user and assistant roles.
		return anthropic.NewUserMessage(blocks...), nil
	}
}

// parseArguments parses an opaque JSON arguments payload into the structured
// input Anthropic requires. Unparseable payloads degrade to an empty object.
func parseArguments(args string) map[string]any {
	input := make(map[string]any)
	if args == "" {
		return input
	}
	if err := json.Unmarshal([]byte(args), &input); err != nil {
		return make(map[string]any)
	}
	return input
}

// FromChunks translates Anthropic streaming events into canonical events.
// Chunks that are not Anthropic stream events are dropped.
//
// Each tool_use content block start yields one FunctionCall event;
// input_json_delta fragments surface as content deltas. Usage arrives on
// message_delta with input/output token counts, mapped so that
// total = input + output.
func FromChunks(chunks []any) []llm.StreamEvent {
	var events []llm.StreamEvent
	for _, raw := range chunks {
		var event anthropic.MessageStreamEventUnion
		switch e := raw.(type) {
		case anthropic.MessageStreamEventUnion:
			event = e
		case *anthropic.MessageStreamEventUnion:
			if e == nil {
				continue
			}
			event = *e
		default:
			continue
		}

		switch evt := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			events = append(events, llm.NewThinkingEvent())

		case anthropic.ContentBlockStartEvent:
			if block, ok := evt.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				events = append(events, llm.NewFunctionCallEvent([]llm.ToolCall{{
					ID:        block.ID,
					Name:      block.Name,
					Arguments: marshalInput(block.Input),
				}}))
			}

		case anthropic.ContentBlockDeltaEvent:
			switch delta := evt.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					events = append(events, llm.NewContentDeltaEvent(delta.Text))
				}
			case anthropic.InputJSONDelta:
				if delta.PartialJSON != "" {
					events = append(events, llm.NewContentDeltaEvent(delta.PartialJSON))
				}
			}

		case anthropic.MessageDeltaEvent:
			events = append(events, llm.NewUsageEvent(llm.Usage{
				PromptTokens:     evt.Usage.InputTokens,
				CompletionTokens: evt.Usage.OutputTokens,
				TotalTokens:      evt.Usage.InputTokens + evt.Usage.OutputTokens,
			}))

		case anthropic.MessageStopEvent:
			events = append(events, llm.NewDoneEvent())
		}
	}
	return events
}

// marshalInput renders the tool_use input back into an opaque JSON string.
func marshalInput(input any) string {
	if input == nil {
		return "{}"
	}
	b, err := json.Marshal(input)
	if err != nil || len(b) == 0 || string(b) == "null" {
		return "{}"
	}
	return string(b)
}
