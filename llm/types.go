package llm

import (
	"encoding/json"
	"fmt"
	"time"
)

// Vendor identifiers for the upstream providers the gateway can talk to.
const (
	VendorOpenAI    = "openai"
	VendorAnthropic = "anthropic"
	VendorGemini    = "gemini"
)

// KnownVendor reports whether vendor is one of the supported upstream providers.
func KnownVendor(vendor string) bool {
	switch vendor {
	case VendorOpenAI, VendorAnthropic, VendorGemini:
		return true
	}
	return false
}

// MessageRole represents the role of a message in a conversation.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
	RoleSystem    MessageRole = "system"
)

// Message represents a single message in a conversation.
// This is provider-neutral; the translator packages convert it to and from
// each vendor's native message shapes.
type Message struct {
	Role      MessageRole    `json:"role"`
	Content   []ContentBlock `json:"content"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// ContentBlock represents a single content block within a message.
// It is either text or a tool result.
type ContentBlock struct {
	Type       ContentBlockType `json:"type"`
	Text       string           `json:"text,omitempty"`
	ToolResult *ToolResultBlock `json:"tool_result,omitempty"`
}

// ContentBlockType represents the type of content block.
type ContentBlockType string

const (
	ContentBlockTypeText       ContentBlockType = "text"
	ContentBlockTypeToolResult ContentBlockType = "tool_result"
)

// ToolResultBlock carries the result of a tool invocation back to the model.
// Name is optional; it is filled in when the originating call is known
// (Gemini requires it on the wire, the other vendors key on CallID alone).
type ToolResultBlock struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name,omitempty"`
	Payload string `json:"payload"`
}

// ToolCall represents a tool invocation requested by the assistant.
// Arguments is an opaque JSON-encoded payload. The orchestrator never parses
// it; only translators do, when a vendor requires a structured object.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// CallSignature identifies a tool call for deduplication purposes.
// Identity is (name, canonicalized arguments), never the vendor-assigned ID:
// IDs are not stable across providers or follow-up rounds.
type CallSignature struct {
	Name      string
	Arguments string
}

// Signature returns the deduplication key for this call.
func (c ToolCall) Signature() CallSignature {
	return CallSignature{Name: c.Name, Arguments: CanonicalizeArguments(c.Arguments)}
}

// CanonicalizeArguments normalizes a JSON arguments payload so that two
// semantically equal payloads compare equal as strings. Go's map marshaling
// sorts keys, which gives a stable encoding. Unparseable payloads are
// returned as-is.
func CanonicalizeArguments(args string) string {
	if args == "" {
		return "{}"
	}
	var v any
	if err := json.Unmarshal([]byte(args), &v); err != nil {
		return args
	}
	b, err := json.Marshal(v)
	if err != nil {
		return args
	}
	return string(b)
}

// ToolOutput is the result of executing a single tool call.
type ToolOutput struct {
	CallID  string `json:"call_id"`
	Payload string `json:"payload"`
	Err     string `json:"error,omitempty"`
}

// NewToolOutput creates a successful tool output.
func NewToolOutput(callID, payload string) ToolOutput {
	return ToolOutput{CallID: callID, Payload: payload}
}

// failedToolPayload is the wire shape used when tool execution failed.
// The failure is fed back to the vendor as a normal tool result so the model
// can react to its own tool's failure.
type failedToolPayload struct {
	Output   string             `json:"output"`
	Metadata failedToolMetadata `json:"metadata"`
}

type failedToolMetadata struct {
	ExitCode        int     `json:"exit_code"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// NewToolError creates a tool output for a failed execution. The error
// message is wrapped into a structured payload so it still round-trips
// through JSON like a successful result.
func NewToolError(callID, message string) ToolOutput {
	b, err := json.Marshal(failedToolPayload{
		Output:   message,
		Metadata: failedToolMetadata{ExitCode: 1, DurationSeconds: 0.0},
	})
	if err != nil {
		b = []byte(`{"output":"tool execution failed"}`)
	}
	return ToolOutput{CallID: callID, Payload: string(b), Err: message}
}

// IsError reports whether this output represents a failed execution.
func (o ToolOutput) IsError() bool {
	return o.Err != ""
}

// Usage represents token usage reported by a vendor.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// StreamEventType represents the type of canonical stream event.
type StreamEventType string

const (
	StreamEventTypeThinking     StreamEventType = "thinking"
	StreamEventTypeContentDelta StreamEventType = "content_delta"
	StreamEventTypeFunctionCall StreamEventType = "function_call"
	StreamEventTypeUsage        StreamEventType = "usage"
	StreamEventTypeError        StreamEventType = "error"
	StreamEventTypeDone         StreamEventType = "done"
	StreamEventTypeFinalized    StreamEventType = "finalized"
)

// StreamEvent is the canonical streaming event all vendor chunks are
// translated into. Exactly one event type is terminal per stream attempt:
// Done. Finalized is synthesized by the orchestrator, never by a vendor.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	Text      string          `json:"text,omitempty"`
	ToolCalls []ToolCall      `json:"tool_calls,omitempty"`
	Usage     *Usage          `json:"usage,omitempty"`
	Message   string          `json:"message,omitempty"`
	Final     *FinalResult    `json:"final,omitempty"`
}

// FinalResult carries the accumulated outcome of a finished turn.
type FinalResult struct {
	Content string         `json:"content"`
	Usage   *Usage         `json:"usage,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Terminal reports whether this event ends a stream attempt.
func (e StreamEvent) Terminal() bool {
	return e.Type == StreamEventTypeDone
}

// NewThinkingEvent creates a thinking indicator event.
func NewThinkingEvent() StreamEvent {
	return StreamEvent{Type: StreamEventTypeThinking}
}

// NewContentDeltaEvent creates a content delta event.
func NewContentDeltaEvent(text string) StreamEvent {
	return StreamEvent{Type: StreamEventTypeContentDelta, Text: text}
}

// NewFunctionCallEvent creates a function call event.
func NewFunctionCallEvent(calls []ToolCall) StreamEvent {
	return StreamEvent{Type: StreamEventTypeFunctionCall, ToolCalls: calls}
}

// NewUsageEvent creates a usage event.
func NewUsageEvent(usage Usage) StreamEvent {
	return StreamEvent{Type: StreamEventTypeUsage, Usage: &usage}
}

// NewErrorEvent creates an error event.
func NewErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: StreamEventTypeError, Message: message}
}

// NewDoneEvent creates the terminal event for a stream attempt.
func NewDoneEvent() StreamEvent {
	return StreamEvent{Type: StreamEventTypeDone}
}

// NewFinalizedEvent creates the orchestrator-synthesized finalize event.
func NewFinalizedEvent(content string, usage *Usage, meta map[string]any) StreamEvent {
	return StreamEvent{Type: StreamEventTypeFinalized, Final: &FinalResult{Content: content, Usage: usage, Meta: meta}}
}

// Envelope is the externally published unit combining session and stream
// identity with one canonical event. Created immediately before publish,
// never stored (the persisted timeline keeps its own copies).
type Envelope struct {
	SessionID string      `json:"session_id"`
	StreamID  string      `json:"stream_id"`
	Event     StreamEvent `json:"event"`
	At        time.Time   `json:"at"`
}

// HistoryEntry records one follow-up round of tool activity so it can be
// replayed as text for vendors that cannot natively see it.
type HistoryEntry struct {
	Provider string       `json:"provider"`
	At       time.Time    `json:"at"`
	Calls    []ToolCall   `json:"calls"`
	Outputs  []ToolOutput `json:"outputs"`
}

// NewTextMessage creates a new message with a single text content block.
func NewTextMessage(role MessageRole, text string) Message {
	return Message{
		Role: role,
		Content: []ContentBlock{
			{
				Type: ContentBlockTypeText,
				Text: text,
			},
		},
	}
}

// NewToolResultMessage creates a tool-role message with tool result blocks.
func NewToolResultMessage(results []ToolResultBlock) Message {
	content := make([]ContentBlock, len(results))
	for i, tr := range results {
		content[i] = ContentBlock{
			Type:       ContentBlockTypeToolResult,
			ToolResult: &tr,
		}
	}
	return Message{
		Role:    RoleTool,
		Content: content,
	}
}

// Text concatenates the text content blocks of the message.
func (m Message) Text() string {
	var out string
	for _, block := range m.Content {
		if block.Type == ContentBlockTypeText {
			out += block.Text
		}
	}
	return out
}

// Validate checks the structural invariants of a canonical message.
// An assistant message with tool calls may have empty text content, but
// never both empty content and empty tool calls.
func (m Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant, RoleTool, RoleSystem:
	default:
		return NewInvalidInputError("unknown message role: "+string(m.Role), nil)
	}
	if m.Role == RoleAssistant && len(m.Content) == 0 && len(m.ToolCalls) == 0 {
		return NewInvalidInputError("assistant message has neither content nor tool calls", nil)
	}
	for _, block := range m.Content {
		switch block.Type {
		case ContentBlockTypeText:
		case ContentBlockTypeToolResult:
			if block.ToolResult == nil {
				return NewInvalidInputError("tool result block missing payload", nil)
			}
		default:
			return NewInvalidInputError("unknown content block type: "+string(block.Type), nil)
		}
	}
	return nil
}

// ValidateMessages validates a conversation slice as dispatch input.
func ValidateMessages(msgs []Message) error {
	if len(msgs) == 0 {
		return NewInvalidMessagesError("empty message list", nil)
	}
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			return NewInvalidMessagesError(fmt.Sprintf("message %d is malformed", i), err)
		}
	}
	return nil
}

// ToJSON marshals a message to JSON for debugging/logging purposes.
func (m Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
