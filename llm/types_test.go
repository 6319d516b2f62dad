package llm

import (
	"encoding/json"
	"testing"
)

func TestToolCall_Signature_IgnoresID(t *testing.T) {
	a := ToolCall{ID: "call_1", Name: "search", Arguments: `{"q":"go"}`}
	b := ToolCall{ID: "call_99", Name: "search", Arguments: `{"q":"go"}`}

	if a.Signature() != b.Signature() {
		t.Error("signatures should be equal regardless of vendor-assigned ID")
	}
}

func TestToolCall_Signature_CanonicalizesArguments(t *testing.T) {
	a := ToolCall{Name: "search", Arguments: `{"q": "go", "limit": 5}`}
	b := ToolCall{Name: "search", Arguments: `{"limit":5,"q":"go"}`}

	if a.Signature() != b.Signature() {
		t.Errorf("key order should not affect signatures: %q vs %q", a.Signature().Arguments, b.Signature().Arguments)
	}
}

func TestToolCall_Signature_DifferentArguments(t *testing.T) {
	a := ToolCall{Name: "search", Arguments: `{"q":"go"}`}
	b := ToolCall{Name: "search", Arguments: `{"q":"rust"}`}

	if a.Signature() == b.Signature() {
		t.Error("different arguments should produce different signatures")
	}
}

func TestCanonicalizeArguments(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "{}"},
		{"sorted keys", `{"b":2,"a":1}`, `{"a":1,"b":2}`},
		{"whitespace stripped", `{ "a" : 1 }`, `{"a":1}`},
		{"unparseable passes through", `not json`, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanonicalizeArguments(tt.in); got != tt.want {
				t.Errorf("CanonicalizeArguments(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewToolError_PayloadShape(t *testing.T) {
	out := NewToolError("call_1", "command not found")

	if !out.IsError() {
		t.Error("tool error output should report IsError")
	}

	var payload struct {
		Output   string `json:"output"`
		Metadata struct {
			ExitCode        int     `json:"exit_code"`
			DurationSeconds float64 `json:"duration_seconds"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal([]byte(out.Payload), &payload); err != nil {
		t.Fatalf("error payload should be valid JSON: %v", err)
	}
	if payload.Output != "command not found" {
		t.Errorf("expected output 'command not found', got %q", payload.Output)
	}
	if payload.Metadata.ExitCode != 1 {
		t.Errorf("expected exit_code 1, got %d", payload.Metadata.ExitCode)
	}
}

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"user text", NewTextMessage(RoleUser, "hello"), false},
		{"assistant text", NewTextMessage(RoleAssistant, "hi"), false},
		{"assistant calls only", Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "ls"}}}, false},
		{"assistant empty", Message{Role: RoleAssistant}, true},
		{"unknown role", Message{Role: "narrator", Content: []ContentBlock{{Type: ContentBlockTypeText, Text: "x"}}}, true},
		{"tool result missing payload", Message{Role: RoleTool, Content: []ContentBlock{{Type: ContentBlockTypeToolResult}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestValidateMessages_Empty(t *testing.T) {
	err := ValidateMessages(nil)
	if err == nil {
		t.Fatal("empty conversation should be rejected")
	}
	if !IsInvalidInput(err) {
		t.Errorf("expected invalid input error, got %v", err)
	}
}

func TestMessage_Text(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Content: []ContentBlock{
			{Type: ContentBlockTypeText, Text: "part one"},
			{Type: ContentBlockTypeToolResult, ToolResult: &ToolResultBlock{CallID: "c1", Payload: "{}"}},
			{Type: ContentBlockTypeText, Text: " part two"},
		},
	}
	if got := msg.Text(); got != "part one part two" {
		t.Errorf("Text() = %q", got)
	}
}

func TestStreamEvent_Terminal(t *testing.T) {
	if !NewDoneEvent().Terminal() {
		t.Error("done event should be terminal")
	}
	for _, ev := range []StreamEvent{
		NewThinkingEvent(),
		NewContentDeltaEvent("x"),
		NewFunctionCallEvent(nil),
		NewUsageEvent(Usage{TotalTokens: 1}),
		NewErrorEvent("boom"),
		NewFinalizedEvent("done", nil, nil),
	} {
		if ev.Terminal() {
			t.Errorf("%s event should not be terminal", ev.Type)
		}
	}
}
