package gemini

import (
	"testing"

	"github.com/aschepis/backscratcher/gateway/llm"
	genai "google.golang.org/genai"
)

func TestToMessages_RoleMapping(t *testing.T) {
	msgs := []llm.Message{
		llm.NewTextMessage(llm.RoleUser, "hello"),
		llm.NewTextMessage(llm.RoleAssistant, "hi"),
	}

	converted, err := ToMessages(msgs)
	if err != nil {
		t.Fatalf("ToMessages failed: %v", err)
	}
	if len(converted) != 2 {
		t.Fatalf("expected 2 contents, got %d", len(converted))
	}
	if converted[0].Role != genai.RoleUser || converted[0].Parts[0].Text != "hello" {
		t.Errorf("unexpected user content: %+v", converted[0])
	}
	if converted[1].Role != genai.RoleModel {
		t.Errorf("assistant should map to model role, got %q", converted[1].Role)
	}
}

func TestToMessages_TextBeforeFunctionCalls(t *testing.T) {
	msgs := []llm.Message{
		{
			Role:    llm.RoleAssistant,
			Content: []llm.ContentBlock{{Type: llm.ContentBlockTypeText, Text: "checking"}},
			ToolCalls: []llm.ToolCall{
				{ID: "fc_1", Name: "search", Arguments: `{"q":"go"}`},
			},
		},
	}

	converted, err := ToMessages(msgs)
	if err != nil {
		t.Fatalf("ToMessages failed: %v", err)
	}
	parts := converted[0].Parts
	if len(parts) != 2 {
		t.Fatalf("expected text part plus functionCall part, got %d", len(parts))
	}
	if parts[0].Text != "checking" {
		t.Errorf("text part should come first, got %+v", parts[0])
	}
	fc := parts[1].FunctionCall
	if fc == nil || fc.Name != "search" || fc.ID != "fc_1" {
		t.Fatalf("unexpected functionCall part: %+v", parts[1])
	}
	if fc.Args["q"] != "go" {
		t.Errorf("expected structured args, got %#v", fc.Args)
	}
}

func TestToMessages_ToolResultContent(t *testing.T) {
	msgs := []llm.Message{
		llm.NewToolResultMessage([]llm.ToolResultBlock{
			{CallID: "fc_1", Name: "search", Payload: `{"found":true}`},
		}),
	}

	converted, err := ToMessages(msgs)
	if err != nil {
		t.Fatalf("ToMessages failed: %v", err)
	}
	if converted[0].Role != roleTool {
		t.Errorf("expected tool role content, got %q", converted[0].Role)
	}
	fr := converted[0].Parts[0].FunctionResponse
	if fr == nil {
		t.Fatalf("expected functionResponse part, got %+v", converted[0].Parts[0])
	}
	if fr.ID != "fc_1" || fr.Name != "search" {
		t.Errorf("unexpected response identity: %+v", fr)
	}
	if fr.Response["found"] != true {
		t.Errorf("expected parsed response object, got %#v", fr.Response)
	}
}

func TestParseResponse_WrapsNonObjects(t *testing.T) {
	wrapped := parseResponse("plain text result")
	if wrapped["output"] != "plain text result" {
		t.Errorf("non-object payloads should wrap under output, got %#v", wrapped)
	}

	obj := parseResponse(`{"a":1}`)
	if obj["a"] != float64(1) {
		t.Errorf("object payloads should pass through, got %#v", obj)
	}
}

func TestFromChunks_TextAndFinish(t *testing.T) {
	chunks := []any{
		&genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{
				{Content: &genai.Content{Parts: []*genai.Part{{Text: "hello"}}}},
			},
		},
		&genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{
				{FinishReason: genai.FinishReasonStop},
			},
		},
	}

	events := FromChunks(chunks)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != llm.StreamEventTypeContentDelta || events[0].Text != "hello" {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[1].Type != llm.StreamEventTypeDone {
		t.Errorf("expected done event, got %s", events[1].Type)
	}
}

func TestFromChunks_SynthesizesCallIDs(t *testing.T) {
	chunks := []any{
		&genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{
				{
					Content: &genai.Content{Parts: []*genai.Part{
						{FunctionCall: &genai.FunctionCall{Name: "search", Args: map[string]any{"q": "go"}}},
					}},
				},
			},
		},
	}

	events := FromChunks(chunks)
	if len(events) != 1 || events[0].Type != llm.StreamEventTypeFunctionCall {
		t.Fatalf("expected one function call event, got %+v", events)
	}
	call := events[0].ToolCalls[0]
	if call.ID == "" {
		t.Error("missing wire ID should be synthesized, got empty")
	}
	if call.Name != "search" || llm.CanonicalizeArguments(call.Arguments) != `{"q":"go"}` {
		t.Errorf("unexpected call: %+v", call)
	}
}

func TestFromChunks_ForeignChunksDropped(t *testing.T) {
	events := FromChunks([]any{"nope", nil, genai.GenerateContentResponse{}})
	if len(events) != 0 {
		t.Errorf("foreign chunks should be dropped, got %d events", len(events))
	}
}
