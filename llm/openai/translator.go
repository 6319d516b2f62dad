package openai

import (
	"github.com/aschepis/backscratcher/gateway/llm"
	openai "github.com/sashabaranov/go-openai"
	"github.com/samber/lo"
)

// ToMessages converts canonical messages to OpenAI chat message format.
// Tool results become separate role "tool" messages keyed by tool_call_id.
func ToMessages(msgs []llm.Message) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		converted, err := toMessage(msg)
		if err != nil {
			return nil, err
		}
		result = append(result, converted...)
	}
	return result, nil
}

// toMessage converts a single canonical message. A message carrying several
// tool result blocks expands into one OpenAI tool message per result.
func toMessage(msg llm.Message) ([]openai.ChatCompletionMessage, error) {
	var role string
	switch msg.Role {
	case llm.RoleUser:
		role = openai.ChatMessageRoleUser
	case llm.RoleAssistant:
		role = openai.ChatMessageRoleAssistant
	case llm.RoleSystem:
		role = openai.ChatMessageRoleSystem
	case llm.RoleTool:
		role = openai.ChatMessageRoleTool
	default:
		return nil, llm.NewInvalidMessagesError("unknown role: "+string(msg.Role), nil)
	}

	var out []openai.ChatCompletionMessage
	var content string
	for _, block := range msg.Content {
		switch block.Type {
		case llm.ContentBlockTypeText:
			if content != "" {
				content += "\n"
			}
			content += block.Text
		case llm.ContentBlockTypeToolResult:
			if block.ToolResult == nil {
				continue
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: block.ToolResult.CallID,
				Content:    block.ToolResult.Payload,
			})
		}
	}

	if len(msg.ToolCalls) > 0 {
		m := openai.ChatCompletionMessage{
			Role:      role,
			Content:   content,
			ToolCalls: ToToolCalls(msg.ToolCalls),
		}
		return append([]openai.ChatCompletionMessage{m}, out...), nil
	}

	// Pure tool-result messages produce no extra plain message.
	if content == "" && len(out) > 0 {
		return out, nil
	}

	return append([]openai.ChatCompletionMessage{{Role: role, Content: content}}, out...), nil
}

// ToToolCalls converts canonical tool calls to OpenAI tool call format.
// Arguments stay as the opaque JSON string OpenAI expects.
func ToToolCalls(calls []llm.ToolCall) []openai.ToolCall {
	return lo.Map(calls, func(c llm.ToolCall, _ int) openai.ToolCall {
		return openai.ToolCall{
			ID:   c.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      c.Name,
				Arguments: c.Arguments,
			},
		}
	})
}

// FromToolCalls converts OpenAI tool calls back to canonical form.
func FromToolCalls(calls []openai.ToolCall) []llm.ToolCall {
	return lo.Map(calls, func(c openai.ToolCall, _ int) llm.ToolCall {
		return llm.ToolCall{
			ID:        c.ID,
			Name:      c.Function.Name,
			Arguments: c.Function.Arguments,
		}
	})
}

// FromChunks translates OpenAI streaming chunks into canonical events.
// Chunks that are not OpenAI stream responses are dropped.
func FromChunks(chunks []any) []llm.StreamEvent {
	var events []llm.StreamEvent
	for _, raw := range chunks {
		var chunk openai.ChatCompletionStreamResponse
		switch c := raw.(type) {
		case openai.ChatCompletionStreamResponse:
			chunk = c
		case *openai.ChatCompletionStreamResponse:
			if c == nil {
				continue
			}
			chunk = *c
		default:
			continue
		}

		done := false
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				events = append(events, llm.NewContentDeltaEvent(choice.Delta.Content))
			}
			if len(choice.Delta.ToolCalls) > 0 {
				events = append(events, llm.NewFunctionCallEvent(FromToolCalls(choice.Delta.ToolCalls)))
			}
			if choice.FinishReason != "" {
				done = true
			}
		}
		if chunk.Usage != nil {
			events = append(events, llm.NewUsageEvent(llm.Usage{
				PromptTokens:     int64(chunk.Usage.PromptTokens),
				CompletionTokens: int64(chunk.Usage.CompletionTokens),
				TotalTokens:      int64(chunk.Usage.TotalTokens),
			}))
		}
		if done {
			events = append(events, llm.NewDoneEvent())
		}
	}
	return events
}
