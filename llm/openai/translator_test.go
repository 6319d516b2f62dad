package openai

import (
	"testing"

	"github.com/aschepis/backscratcher/gateway/llm"
	openai "github.com/sashabaranov/go-openai"
)

func TestToMessages_Roles(t *testing.T) {
	msgs := []llm.Message{
		llm.NewTextMessage(llm.RoleSystem, "be terse"),
		llm.NewTextMessage(llm.RoleUser, "hello"),
		llm.NewTextMessage(llm.RoleAssistant, "hi"),
	}

	converted, err := ToMessages(msgs)
	if err != nil {
		t.Fatalf("ToMessages failed: %v", err)
	}
	if len(converted) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(converted))
	}
	if converted[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("expected system role, got %q", converted[0].Role)
	}
	if converted[1].Role != openai.ChatMessageRoleUser || converted[1].Content != "hello" {
		t.Errorf("unexpected user message: %+v", converted[1])
	}
	if converted[2].Role != openai.ChatMessageRoleAssistant {
		t.Errorf("expected assistant role, got %q", converted[2].Role)
	}
}

func TestToMessages_AssistantToolCalls(t *testing.T) {
	msgs := []llm.Message{
		{
			Role:    llm.RoleAssistant,
			Content: []llm.ContentBlock{{Type: llm.ContentBlockTypeText, Text: "let me check"}},
			ToolCalls: []llm.ToolCall{
				{ID: "call_1", Name: "search", Arguments: `{"q":"go"}`},
			},
		},
	}

	converted, err := ToMessages(msgs)
	if err != nil {
		t.Fatalf("ToMessages failed: %v", err)
	}
	if len(converted) != 1 {
		t.Fatalf("expected 1 message, got %d", len(converted))
	}
	m := converted[0]
	if m.Content != "let me check" {
		t.Errorf("expected partial text preserved, got %q", m.Content)
	}
	if len(m.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(m.ToolCalls))
	}
	tc := m.ToolCalls[0]
	if tc.ID != "call_1" || tc.Type != openai.ToolTypeFunction {
		t.Errorf("unexpected tool call: %+v", tc)
	}
	if tc.Function.Name != "search" || tc.Function.Arguments != `{"q":"go"}` {
		t.Errorf("unexpected function payload: %+v", tc.Function)
	}
}

func TestToMessages_ToolResultsExpand(t *testing.T) {
	msgs := []llm.Message{
		llm.NewToolResultMessage([]llm.ToolResultBlock{
			{CallID: "call_1", Payload: `{"found":true}`},
			{CallID: "call_2", Payload: `{"found":false}`},
		}),
	}

	converted, err := ToMessages(msgs)
	if err != nil {
		t.Fatalf("ToMessages failed: %v", err)
	}
	if len(converted) != 2 {
		t.Fatalf("expected one tool message per result, got %d", len(converted))
	}
	for i, id := range []string{"call_1", "call_2"} {
		if converted[i].Role != openai.ChatMessageRoleTool {
			t.Errorf("message %d: expected tool role, got %q", i, converted[i].Role)
		}
		if converted[i].ToolCallID != id {
			t.Errorf("message %d: expected tool_call_id %q, got %q", i, id, converted[i].ToolCallID)
		}
	}
}

func TestFromChunks_ContentDeltas(t *testing.T) {
	chunks := []any{
		openai.ChatCompletionStreamResponse{
			Choices: []openai.ChatCompletionStreamChoice{
				{Delta: openai.ChatCompletionStreamChoiceDelta{Content: "hel"}},
			},
		},
		&openai.ChatCompletionStreamResponse{
			Choices: []openai.ChatCompletionStreamChoice{
				{Delta: openai.ChatCompletionStreamChoiceDelta{Content: "lo"}},
			},
		},
	}

	events := FromChunks(chunks)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != llm.StreamEventTypeContentDelta || events[0].Text != "hel" {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[1].Text != "lo" {
		t.Errorf("unexpected second event: %+v", events[1])
	}
}

func TestFromChunks_ToolCallAndFinish(t *testing.T) {
	chunks := []any{
		openai.ChatCompletionStreamResponse{
			Choices: []openai.ChatCompletionStreamChoice{
				{
					Delta: openai.ChatCompletionStreamChoiceDelta{
						ToolCalls: []openai.ToolCall{
							{ID: "call_1", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "ls", Arguments: `{}`}},
						},
					},
				},
			},
		},
		openai.ChatCompletionStreamResponse{
			Choices: []openai.ChatCompletionStreamChoice{
				{FinishReason: openai.FinishReasonToolCalls},
			},
		},
	}

	events := FromChunks(chunks)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != llm.StreamEventTypeFunctionCall {
		t.Fatalf("expected function call event, got %s", events[0].Type)
	}
	if events[0].ToolCalls[0].Name != "ls" || events[0].ToolCalls[0].ID != "call_1" {
		t.Errorf("unexpected tool call: %+v", events[0].ToolCalls[0])
	}
	if events[1].Type != llm.StreamEventTypeDone {
		t.Errorf("expected done event, got %s", events[1].Type)
	}
}

func TestFromChunks_UsagePassthrough(t *testing.T) {
	chunks := []any{
		openai.ChatCompletionStreamResponse{
			Usage: &openai.Usage{PromptTokens: 10, CompletionTokens: 4, TotalTokens: 14},
		},
	}

	events := FromChunks(chunks)
	if len(events) != 1 || events[0].Type != llm.StreamEventTypeUsage {
		t.Fatalf("expected one usage event, got %+v", events)
	}
	u := events[0].Usage
	if u.PromptTokens != 10 || u.CompletionTokens != 4 || u.TotalTokens != 14 {
		t.Errorf("unexpected usage: %+v", u)
	}
}

func TestFromChunks_ForeignChunksDropped(t *testing.T) {
	events := FromChunks([]any{"not a chunk", 42, nil})
	if len(events) != 0 {
		t.Errorf("foreign chunks should be dropped, got %d events", len(events))
	}
}
