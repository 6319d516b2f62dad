package conversations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/aschepis/backscratcher/gateway/llm"
	"github.com/aschepis/backscratcher/gateway/migrations"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// setupTestDB creates an in-memory database and runs migrations
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	migrationsPath := filepath.Join("..", "migrations")
	if err := migrations.RunMigrations(db, migrationsPath, zerolog.Nop()); err != nil {
		_ = db.Close() //nolint:errcheck // Cleanup on error
		t.Fatalf("failed to run migrations: %v", err)
	}

	return db
}

func testRecord(streamID string) *llm.TurnRecord {
	return &llm.TurnRecord{
		SessionID:  "sess-1",
		StreamID:   streamID,
		Provider:   llm.VendorOpenAI,
		Model:      "gpt-4o-mini",
		Credential: "cred-ref",
		Content:    "Hello, world",
		ToolCalls:  []llm.ToolCall{{ID: "c1", Name: "search", Arguments: `{"q":"go"}`}},
		ToolHistory: []llm.HistoryEntry{
			{
				Provider: llm.VendorOpenAI,
				At:       time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
				Calls:    []llm.ToolCall{{ID: "c1", Name: "search", Arguments: `{"q":"go"}`}},
				Outputs:  []llm.ToolOutput{{CallID: "c1", Payload: `{"found":true}`}},
			},
		},
		Usage:     &llm.Usage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8},
		Rounds:    1,
		StartedAt: time.Date(2026, 3, 14, 9, 29, 0, 0, time.UTC),
		LatencyMS: 1234,
		Timeline: []llm.Envelope{
			{SessionID: "sess-1", StreamID: streamID, Event: llm.NewContentDeltaEvent("Hello, world")},
		},
	}
}

func TestStore_PersistAndRead(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	store := NewStore(db, zerolog.Nop())
	ctx := context.Background()

	if err := store.Persist(ctx, "sess-1", testRecord("stream-1")); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	turns, err := store.RecentTurns(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("RecentTurns failed: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}

	turn := turns[0]
	if turn.StreamID != "stream-1" || turn.Provider != llm.VendorOpenAI {
		t.Errorf("unexpected identity: %+v", turn)
	}
	if turn.Content != "Hello, world" {
		t.Errorf("unexpected content: %q", turn.Content)
	}
	if len(turn.ToolCalls) != 1 || turn.ToolCalls[0].Name != "search" {
		t.Errorf("tool calls should round-trip: %+v", turn.ToolCalls)
	}
	if len(turn.ToolHistory) != 1 || turn.ToolHistory[0].Outputs[0].CallID != "c1" {
		t.Errorf("tool history should round-trip: %+v", turn.ToolHistory)
	}
	if turn.Usage == nil || turn.Usage.TotalTokens != 8 {
		t.Errorf("usage should round-trip: %+v", turn.Usage)
	}
	if turn.Rounds != 1 || turn.LatencyMS != 1234 {
		t.Errorf("unexpected counters: rounds=%d latency=%d", turn.Rounds, turn.LatencyMS)
	}
	if len(turn.Timeline) != 1 || turn.Timeline[0].Event.Type != llm.StreamEventTypeContentDelta {
		t.Errorf("timeline should round-trip: %+v", turn.Timeline)
	}
}

func TestStore_PersistIdempotentOnStreamID(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	store := NewStore(db, zerolog.Nop())
	ctx := context.Background()

	if err := store.Persist(ctx, "sess-1", testRecord("stream-1")); err != nil {
		t.Fatalf("first Persist failed: %v", err)
	}
	if err := store.Persist(ctx, "sess-1", testRecord("stream-1")); err != nil {
		t.Fatalf("retried Persist should be a no-op, got %v", err)
	}

	turns, err := store.RecentTurns(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("RecentTurns failed: %v", err)
	}
	if len(turns) != 1 {
		t.Errorf("expected a single row for the stream, got %d", len(turns))
	}
}

func TestStore_PersistNilRecord(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	store := NewStore(db, zerolog.Nop())

	err := store.Persist(context.Background(), "sess-1", nil)
	if err == nil {
		t.Fatal("nil record should be rejected")
	}
}

func TestStore_RecentTurnsOrderingAndLimit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	store := NewStore(db, zerolog.Nop())
	ctx := context.Background()

	for _, id := range []string{"stream-1", "stream-2", "stream-3"} {
		if err := store.Persist(ctx, "sess-1", testRecord(id)); err != nil {
			t.Fatalf("Persist %s failed: %v", id, err)
		}
	}

	turns, err := store.RecentTurns(ctx, "sess-1", 2)
	if err != nil {
		t.Fatalf("RecentTurns failed: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(turns))
	}
	if turns[0].StreamID != "stream-3" || turns[1].StreamID != "stream-2" {
		t.Errorf("expected newest first, got %q then %q", turns[0].StreamID, turns[1].StreamID)
	}

	other, err := store.RecentTurns(ctx, "sess-absent", 10)
	if err != nil {
		t.Fatalf("RecentTurns failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("unknown session should have no turns, got %d", len(other))
	}
}
