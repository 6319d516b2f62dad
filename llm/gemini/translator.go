package gemini

import (
	"encoding/json"

	"github.com/aschepis/backscratcher/gateway/llm"
	"github.com/google/uuid"
	genai "google.golang.org/genai"
)

// roleTool is the content role used for functionResponse turns. The genai
// package only names user and model roles.
const roleTool = "tool"

// ToMessages converts canonical messages to Gemini Content values.
// The assistant role is remapped to "model"; tool results become role "tool"
// contents carrying functionResponse parts.
func ToMessages(msgs []llm.Message) ([]*genai.Content, error) {
	result := make([]*genai.Content, 0, len(msgs))
	for _, msg := range msgs {
		content, err := toContent(msg)
		if err != nil {
			return nil, err
		}
		if content != nil {
			result = append(result, content)
		}
	}
	return result, nil
}

func toContent(msg llm.Message) (*genai.Content, error) {
	var parts []*genai.Part
	var responses []*genai.Part
	for _, block := range msg.Content {
		switch block.Type {
		case llm.ContentBlockTypeText:
			if block.Text != "" {
				parts = append(parts, &genai.Part{Text: block.Text})
			}
		case llm.ContentBlockTypeToolResult:
			if block.ToolResult == nil {
				continue
			}
			responses = append(responses, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       block.ToolResult.CallID,
					Name:     block.ToolResult.Name,
					Response: parseResponse(block.ToolResult.Payload),
				},
			})
		}
	}

	// Text part (if any) comes before functionCall parts.
	for _, call := range msg.ToolCalls {
		parts = append(parts, &genai.Part{
			FunctionCall: &genai.FunctionCall{
				ID:   call.ID,
				Name: call.Name,
				Args: parseArguments(call.Arguments),
			},
		})
	}

	if len(responses) > 0 {
		return &genai.Content{Role: roleTool, Parts: responses}, nil
	}
	if len(parts) == 0 {
		return nil, nil
	}

	role := genai.RoleUser
	if msg.Role == llm.RoleAssistant {
		role = genai.RoleModel
	}
	return &genai.Content{Role: role, Parts: parts}, nil
}

// parseResponse parses a tool result payload into the structured response
// object Gemini requires. Non-object payloads are wrapped under "output".
func parseResponse(payload string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(payload), &obj); err == nil {
		return obj
	}
	return map[string]any{"output": payload}
}

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

// FromChunks translates Gemini streaming responses into canonical events.
// Chunks that are not GenerateContentResponses are dropped. Gemini does not
// supply call IDs on streamed function calls, so one is synthesized.
// Usage is not typically streamed and is omitted.
func FromChunks(chunks []any) []llm.StreamEvent {
	var events []llm.StreamEvent
	for _, raw := range chunks {
		chunk, ok := raw.(*genai.GenerateContentResponse)
		if !ok || chunk == nil {
			continue
		}

		done := false
		for _, cand := range chunk.Candidates {
			if cand == nil {
				continue
			}
			if cand.Content != nil {
				var calls []llm.ToolCall
				for _, part := range cand.Content.Parts {
					if part == nil {
						continue
					}
					if part.Text != "" {
						events = append(events, llm.NewContentDeltaEvent(part.Text))
					}
					if fc := part.FunctionCall; fc != nil {
						id := fc.ID
						if id == "" {
							id = uuid.NewString()
						}
						calls = append(calls, llm.ToolCall{
							ID:        id,
							Name:      fc.Name,
							Arguments: marshalArgs(fc.Args),
						})
					}
				}
				if len(calls) > 0 {
					events = append(events, llm.NewFunctionCallEvent(calls))
				}
			}
			if cand.FinishReason != "" {
				done = true
			}
		}
		if done {
			events = append(events, llm.NewDoneEvent())
		}
	}
	return events
}

func marshalArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}
