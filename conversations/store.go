// Package conversations persists finalized turns to sqlite.
package conversations

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/aschepis/backscratcher/gateway/llm"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	persistMaxElapsed  = 15 * time.Second
	persistMaxInterval = 2 * time.Second
)

// Store handles persistence of finalized turns.
// It implements llm.TurnPersister.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore creates a new turn store.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "conversations").Logger(),
	}
}

// Turn is one persisted row, decoded.
type Turn struct {
	ID          int64
	SessionID   string
	StreamID    string
	Provider    string
	Model       string
	Content     string
	ToolCalls   []llm.ToolCall
	ToolHistory []llm.HistoryEntry
	Usage       *llm.Usage
	Rounds      int
	StartedAt   time.Time
	LatencyMS   int64
	Timeline    []llm.Envelope
}

// Persist writes one finalized turn. Transient sqlite errors are retried
// with exponential backoff up to a bounded elapsed time; the row is keyed on
// stream_id so a retried insert after a partial failure is a no-op.
func (s *Store) Persist(ctx context.Context, sessionID string, rec *llm.TurnRecord) error {
	if rec == nil {
		return llm.NewPersistenceError("nil turn record", nil)
	}

	callsJSON, err := json.Marshal(rec.ToolCalls)
	if err != nil {
		return llm.NewPersistenceError("marshal tool calls", err)
	}
	historyJSON, err := json.Marshal(rec.ToolHistory)
	if err != nil {
		return llm.NewPersistenceError("marshal tool history", err)
	}
	timelineJSON, err := json.Marshal(rec.Timeline)
	if err != nil {
		return llm.NewPersistenceError("marshal timeline", err)
	}
	var usageJSON []byte
	if rec.Usage != nil {
		if usageJSON, err = json.Marshal(rec.Usage); err != nil {
			return llm.NewPersistenceError("marshal usage", err)
		}
	}

	query := sq.Insert("turns").
		Columns(
			"session_id", "stream_id", "provider", "model", "credential",
			"content", "tool_calls", "tool_history", "usage",
			"rounds", "started_at", "latency_ms", "timeline", "created_at",
		).
		Values(
			sessionID, rec.StreamID, rec.Provider, rec.Model, rec.Credential,
			rec.Content, string(callsJSON), string(historyJSON), nullableJSON(usageJSON),
			rec.Rounds, rec.StartedAt.Unix(), rec.LatencyMS, string(timelineJSON), time.Now().Unix(),
		)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return llm.NewPersistenceError("build query", err)
	}
	// SQLite requires "OR IGNORE" to come after "INSERT"; the unique index
	// on stream_id makes a retried insert idempotent.
	queryStr = strings.Replace(queryStr, "INSERT INTO", "INSERT OR IGNORE INTO", 1)

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = persistMaxElapsed
	policy.MaxInterval = persistMaxInterval

	attempt := 0
	op := func() error {
		attempt++
		_, execErr := s.db.ExecContext(ctx, queryStr, args...)
		if execErr != nil {
			s.logger.Debug().Err(execErr).
				Str("session_id", sessionID).
				Int("attempt", attempt).
				Msg("turn insert failed, will retry")
		}
		return execErr
	}
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return llm.NewPersistenceError(fmt.Sprintf("insert turn after %d attempts", attempt), err)
	}
	return nil
}

// RecentTurns returns up to limit finalized turns for a session, newest
// first.
func (s *Store) RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 20
	}
	query := sq.Select(
		"id", "session_id", "stream_id", "provider", "model",
		"content", "tool_calls", "tool_history", "usage",
		"rounds", "started_at", "latency_ms", "timeline",
	).
		From("turns").
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("id DESC").
		Limit(uint64(limit))

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, llm.NewPersistenceError("build query", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, llm.NewPersistenceError("query turns", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t           Turn
			callsJSON   string
			historyJSON string
			usageJSON   sql.NullString
			started     int64
			timelineRaw string
		)
		if err := rows.Scan(
			&t.ID, &t.SessionID, &t.StreamID, &t.Provider, &t.Model,
			&t.Content, &callsJSON, &historyJSON, &usageJSON,
			&t.Rounds, &started, &t.LatencyMS, &timelineRaw,
		); err != nil {
			return nil, llm.NewPersistenceError("scan turn", err)
		}
		t.StartedAt = time.Unix(started, 0).UTC()
		if err := json.Unmarshal([]byte(callsJSON), &t.ToolCalls); err != nil {
			s.logger.Warn().Err(err).Int64("turn_id", t.ID).Msg("undecodable tool calls column")
		}
		if err := json.Unmarshal([]byte(historyJSON), &t.ToolHistory); err != nil {
			s.logger.Warn().Err(err).Int64("turn_id", t.ID).Msg("undecodable tool history column")
		}
		if usageJSON.Valid {
			var u llm.Usage
			if err := json.Unmarshal([]byte(usageJSON.String), &u); err == nil {
				t.Usage = &u
			}
		}
		if err := json.Unmarshal([]byte(timelineRaw), &t.Timeline); err != nil {
			s.logger.Warn().Err(err).Int64("turn_id", t.ID).Msg("undecodable timeline column")
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
