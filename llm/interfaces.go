package llm

import (
	"context"
	"time"
)

// Options carries per-request tuning passed through to the vendor call.
type Options struct {
	MaxTokens   int64
	Temperature *float64
	WorkingDir  string // working directory handed to tool executions
	Metadata    map[string]any
}

// ChunkStream yields vendor-native raw parsed chunks until exhausted or
// errored. Implementations are provided by the per-vendor transport layer;
// the orchestrator only consumes them.
type ChunkStream interface {
	// Next advances to the next chunk. Returns false when the stream is
	// complete or an error occurred.
	Next() bool

	// Chunk returns the current vendor-native chunk.
	// Should only be called after Next() returns true.
	Chunk() any

	// Err returns any error that occurred during streaming.
	Err() error

	// Close closes the stream and releases resources.
	Close() error
}

// Transport opens a streaming vendor call. Implementations own the HTTP/SSE
// plumbing and already yield parsed chunks, not bytes.
type Transport interface {
	Open(ctx context.Context, vendor string, credentials CredentialHandle, messages []any, model string, opts Options) (ChunkStream, error)
}

// CredentialHandle references stored credentials for one vendor session.
type CredentialHandle struct {
	Vendor   string
	Identity string // credential identity recorded on persisted turns
	APIKey   string
	BaseURL  string
}

// CredentialResolver resolves a session reference to stored credentials.
// Credential acquisition and refresh live outside the gateway core.
type CredentialResolver interface {
	ResolveSession(vendor, sessionRef string) (CredentialHandle, error)
}

// ToolExecutor runs a single tool call. Execution itself is an external
// collaborator; the orchestrator only feeds results back to the vendor.
type ToolExecutor interface {
	Exec(ctx context.Context, sessionID, toolName, argumentsJSON, workingDir string) (string, error)
}

// ToolExecutorFunc adapts a function to the ToolExecutor interface.
type ToolExecutorFunc func(ctx context.Context, sessionID, toolName, argumentsJSON, workingDir string) (string, error)

func (f ToolExecutorFunc) Exec(ctx context.Context, sessionID, toolName, argumentsJSON, workingDir string) (string, error) {
	return f(ctx, sessionID, toolName, argumentsJSON, workingDir)
}

// TurnRecord is the finalized unit handed to persistence after a turn.
type TurnRecord struct {
	SessionID   string         `json:"session_id"`
	StreamID    string         `json:"stream_id"`
	Provider    string         `json:"provider"`
	Model       string         `json:"model"`
	Credential  string         `json:"credential"`
	Content     string         `json:"content"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolHistory []HistoryEntry `json:"tool_history,omitempty"`
	Usage       *Usage         `json:"usage,omitempty"`
	Rounds      int            `json:"rounds"`
	StartedAt   time.Time      `json:"started_at"`
	LatencyMS   int64          `json:"latency_ms"`
	Timeline    []Envelope     `json:"timeline,omitempty"`
}

// TurnPersister stores finalized turn records. Failures are non-fatal to the
// orchestrator: they are logged and swallowed.
type TurnPersister interface {
	Persist(ctx context.Context, sessionID string, rec *TurnRecord) error
}
