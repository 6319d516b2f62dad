// Package session implements the per-session streaming orchestrator: the
// stateful concurrency core that supervises one upstream call per session,
// accumulates streamed deltas, and drives the bounded tool-call/follow-up
// loop before finalizing a turn.
package session

import (
	"context"
	"time"

	"github.com/aschepis/backscratcher/gateway/dispatch"
	"github.com/aschepis/backscratcher/gateway/llm"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ToolPolicy declares per-tool follow-up behavior. Tools flagged as
// idempotent lookups survive at most once per round even when the model
// requests them several times.
type ToolPolicy struct {
	IdempotentLookup bool
}

// Config tunes the orchestrator. Zero values fall back to defaults.
type Config struct {
	// MaxFollowupRounds caps the tool-call/follow-up loop per turn.
	MaxFollowupRounds int
	// DuplicateDeltaMinBytes is the size threshold above which a repeated
	// content delta is treated as upstream retry duplication and dropped.
	DuplicateDeltaMinBytes int
	// ChunkIdleTimeout bounds the wait for the next vendor chunk. Expiry is
	// treated as a transport error.
	ChunkIdleTimeout time.Duration
	// ToolPolicies maps tool names to declarative follow-up policies.
	ToolPolicies map[string]ToolPolicy
	// CommandBuffer sizes the coordinator's command queue.
	CommandBuffer int
}

const (
	defaultMaxFollowupRounds      = 3
	defaultDuplicateDeltaMinBytes = 200
	defaultChunkIdleTimeout       = 60 * time.Second
	defaultCommandBuffer          = 256
)

func (c Config) withDefaults() Config {
	if c.MaxFollowupRounds <= 0 {
		c.MaxFollowupRounds = defaultMaxFollowupRounds
	}
	if c.DuplicateDeltaMinBytes <= 0 {
		c.DuplicateDeltaMinBytes = defaultDuplicateDeltaMinBytes
	}
	if c.ChunkIdleTimeout <= 0 {
		c.ChunkIdleTimeout = defaultChunkIdleTimeout
	}
	if c.CommandBuffer <= 0 {
		c.CommandBuffer = defaultCommandBuffer
	}
	return c
}

// Orchestrator owns one entry per active session. All mutation of session
// state happens on a single coordinator goroutine fed by an ordered command
// queue; vendor I/O runs in per-stream workers that never touch the table
// directly.
type Orchestrator struct {
	cfg        Config
	dispatcher *dispatch.Dispatcher
	tools      llm.ToolExecutor
	store      llm.TurnPersister
	pubsub     *gochannel.GoChannel
	logger     zerolog.Logger

	cmds   chan any
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	sessions map[string]*sessionEntry
}

// sessionEntry tracks the live worker for one session. At most one worker is
// ever live per session; starting a new stream cancels the old worker first.
type sessionEntry struct {
	streamID string
	epoch    uint64
	cancel   context.CancelFunc
	running  bool
	acc      *accumulator
}

// New creates an orchestrator and starts its coordinator goroutine.
func New(dispatcher *dispatch.Dispatcher, tools llm.ToolExecutor, store llm.TurnPersister, logger zerolog.Logger, cfg Config) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:        cfg.withDefaults(),
		dispatcher: dispatcher,
		tools:      tools,
		store:      store,
		pubsub:     newPubSub(),
		logger:     logger.With().Str("component", "orchestrator").Logger(),
		cmds:       make(chan any, cfg.withDefaults().CommandBuffer),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		sessions:   make(map[string]*sessionEntry),
	}
	go o.loop()
	return o
}

// Close stops the coordinator and releases the pubsub.
func (o *Orchestrator) Close() error {
	o.cancel()
	<-o.done
	return o.pubsub.Close()
}

// Commands processed by the coordinator loop.

type startCmd struct {
	sessionID  string
	streamID   string
	vendor     string
	sessionRef string
	model      string
	msgs       []llm.Message
	opts       llm.Options
}

type cancelCmd struct {
	sessionID string
}

type workerEventCmd struct {
	sessionID string
	epoch     uint64
	event     llm.StreamEvent
}

type workerDoneCmd struct {
	sessionID string
	epoch     uint64
	err       error
}

type toolRoundCmd struct {
	sessionID   string
	epoch       uint64
	partialText string
	calls       []llm.ToolCall
	outputs     []llm.ToolOutput
}

type streamInfo struct {
	StreamID string
	Running  bool
	Rounds   int
}

type queryCmd struct {
	sessionID string
	reply     chan streamInfo
}

// StartStream begins a new streaming turn for a session. If the session
// already has a live worker it is forcefully cancelled first: the last
// request wins. Returns the allocated stream ID immediately.
func (o *Orchestrator) StartStream(sessionID, vendor, sessionRef string, msgs []llm.Message, model string, opts llm.Options) (string, error) {
	if sessionID == "" {
		return "", llm.NewInvalidInputError("empty session id", nil)
	}
	if !llm.KnownVendor(vendor) {
		return "", llm.NewUnsupportedVendorError(vendor)
	}
	if err := llm.ValidateMessages(msgs); err != nil {
		return "", err
	}

	streamID := uuid.NewString()
	o.enqueue(startCmd{
		sessionID:  sessionID,
		streamID:   streamID,
		vendor:     vendor,
		sessionRef: sessionRef,
		model:      model,
		msgs:       msgs,
		opts:       opts,
	})
	return streamID, nil
}

// RunFollowup begins a streaming turn from caller-managed follow-up items.
// Semantics match StartStream (cancel-then-replace, fresh turn meta); the
// internal follow-up loop does not pass through here.
func (o *Orchestrator) RunFollowup(sessionID, vendor, sessionRef string, items []llm.Message, model string, opts llm.Options) (string, error) {
	return o.StartStream(sessionID, vendor, sessionRef, items, model, opts)
}

// Cancel forcefully terminates the session's active worker, if any, and
// removes the session entry. Idempotent.
func (o *Orchestrator) Cancel(sessionID string) {
	o.enqueue(cancelCmd{sessionID: sessionID})
}

// ActiveStream reports the session's current stream ID and whether a worker
// is live. Intended for callers that need to settle state, such as tests.
func (o *Orchestrator) ActiveStream(sessionID string) (string, bool) {
	reply := make(chan streamInfo, 1)
	select {
	case o.cmds <- queryCmd{sessionID: sessionID, reply: reply}:
	case <-o.ctx.Done():
		return "", false
	}
	select {
	case info := <-reply:
		return info.StreamID, info.Running
	case <-o.ctx.Done():
		return "", false
	}
}

func (o *Orchestrator) enqueue(cmd any) {
	select {
	case o.cmds <- cmd:
	case <-o.ctx.Done():
	}
}

// loop is the coordinator: the single mutator of the session table.
func (o *Orchestrator) loop() {
	defer close(o.done)
	for {
		select {
		case <-o.ctx.Done():
			for _, entry := range o.sessions {
				if entry.cancel != nil {
					entry.cancel()
				}
			}
			return
		case cmd := <-o.cmds:
			switch c := cmd.(type) {
			case startCmd:
				o.handleStart(c)
			case cancelCmd:
				o.handleCancel(c)
			case workerEventCmd:
				o.handleWorkerEvent(c)
			case workerDoneCmd:
				o.handleWorkerDone(c)
			case toolRoundCmd:
				o.handleToolRound(c)
			case queryCmd:
				o.handleQuery(c)
			}
		}
	}
}

func (o *Orchestrator) handleStart(cmd startCmd) {
	entry := o.sessions[cmd.sessionID]
	if entry == nil {
		entry = &sessionEntry{}
		o.sessions[cmd.sessionID] = entry
	}
	if entry.running && entry.cancel != nil {
		// Last writer wins: no graceful drain for the old worker.
		entry.cancel()
	}

	entry.epoch++
	entry.streamID = cmd.streamID
	entry.running = true
	entry.acc = newAccumulator(cmd.vendor, cmd.model, cmd.sessionRef, cmd.opts, cmd.msgs)

	o.spawnWorker(cmd.sessionID, entry, &worker{
		sessionID:  cmd.sessionID,
		streamID:   cmd.streamID,
		vendor:     cmd.vendor,
		sessionRef: cmd.sessionRef,
		model:      cmd.model,
		opts:       cmd.opts,
		msgs:       cmd.msgs,
	})

	o.logger.Debug().
		Str("session_id", cmd.sessionID).
		Str("stream_id", cmd.streamID).
		Str("vendor", cmd.vendor).
		Str("model", cmd.model).
		Msg("stream started")
}

func (o *Orchestrator) handleCancel(cmd cancelCmd) {
	entry := o.sessions[cmd.sessionID]
	if entry == nil {
		return
	}
	if entry.cancel != nil {
		entry.cancel()
	}
	entry.epoch++
	delete(o.sessions, cmd.sessionID)
	o.logger.Debug().Str("session_id", cmd.sessionID).Msg("stream cancelled")
}

func (o *Orchestrator) handleQuery(cmd queryCmd) {
	entry := o.sessions[cmd.sessionID]
	if entry == nil {
		cmd.reply <- streamInfo{}
		return
	}
	info := streamInfo{StreamID: entry.streamID, Running: entry.running}
	if entry.acc != nil {
		info.Rounds = entry.acc.rounds
	}
	cmd.reply <- info
}

// handleWorkerEvent applies one canonical event to the accumulator and
// publishes it. Events from cancelled or replaced workers carry a stale
// epoch and are discarded.
func (o *Orchestrator) handleWorkerEvent(cmd workerEventCmd) {
	entry := o.sessions[cmd.sessionID]
	if entry == nil || entry.epoch != cmd.epoch || !entry.running {
		return
	}
	acc := entry.acc

	switch cmd.event.Type {
	case llm.StreamEventTypeContentDelta:
		if acc.duplicateDelta(cmd.event.Text, o.cfg.DuplicateDeltaMinBytes) {
			o.logger.Debug().
				Str("session_id", cmd.sessionID).
				Int("bytes", len(cmd.event.Text)).
				Msg("dropped duplicate content delta")
			return
		}
		acc.appendDelta(cmd.event.Text)
	case llm.StreamEventTypeFunctionCall:
		acc.toolCalls = append(acc.toolCalls, cmd.event.ToolCalls...)
	case llm.StreamEventTypeUsage:
		acc.usage = cmd.event.Usage
	}

	env := o.publish(cmd.sessionID, entry.streamID, cmd.event)
	acc.timeline = append(acc.timeline, env)
}

// handleToolRound records one executed follow-up round in the session's
// tool history and extends the conversation snapshot used to build the
// next round's follow-up messages.
func (o *Orchestrator) handleToolRound(cmd toolRoundCmd) {
	entry := o.sessions[cmd.sessionID]
	if entry == nil || entry.epoch != cmd.epoch {
		return
	}
	acc := entry.acc

	acc.history = append(acc.history, llm.HistoryEntry{
		Provider: acc.vendor,
		At:       time.Now().UTC(),
		Calls:    cmd.calls,
		Outputs:  cmd.outputs,
	})

	assistant := llm.Message{Role: llm.RoleAssistant, ToolCalls: cmd.calls}
	if cmd.partialText != "" {
		assistant.Content = []llm.ContentBlock{{Type: llm.ContentBlockTypeText, Text: cmd.partialText}}
	}
	names := make(map[string]string, len(cmd.calls))
	for _, c := range cmd.calls {
		names[c.ID] = c.Name
	}
	results := make([]llm.ToolResultBlock, 0, len(cmd.outputs))
	for _, out := range cmd.outputs {
		results = append(results, llm.ToolResultBlock{CallID: out.CallID, Name: names[out.CallID], Payload: out.Payload})
	}
	acc.messages = append(acc.messages, assistant, llm.NewToolResultMessage(results))
}

// handleWorkerDone reacts to the end of one stream attempt: either spawn the
// next follow-up round or finalize the turn. A failed attempt publishes
// Error then Done and still finalizes with whatever was accumulated.
func (o *Orchestrator) handleWorkerDone(cmd workerDoneCmd) {
	entry := o.sessions[cmd.sessionID]
	if entry == nil || entry.epoch != cmd.epoch || !entry.running {
		return
	}
	acc := entry.acc

	if cmd.err != nil {
		o.logger.Warn().Err(cmd.err).
			Str("session_id", cmd.sessionID).
			Str("stream_id", entry.streamID).
			Msg("stream attempt failed")
		env := o.publish(cmd.sessionID, entry.streamID, llm.NewErrorEvent(cmd.err.Error()))
		acc.timeline = append(acc.timeline, env)
		o.publish(cmd.sessionID, entry.streamID, llm.NewDoneEvent())
		o.finalize(cmd.sessionID, entry)
		return
	}

	o.publish(cmd.sessionID, entry.streamID, llm.NewDoneEvent())

	if len(acc.toolCalls) == 0 || acc.rounds >= o.cfg.MaxFollowupRounds {
		o.finalize(cmd.sessionID, entry)
		return
	}

	surviving := o.filterCalls(acc)
	if len(surviving) == 0 {
		// Loop guard: nothing new to run, go straight to finalize.
		o.finalize(cmd.sessionID, entry)
		return
	}

	for _, call := range surviving {
		acc.executed[call.Signature()] = struct{}{}
	}
	acc.rounds++

	w := &worker{
		sessionID:   cmd.sessionID,
		streamID:    entry.streamID,
		vendor:      acc.vendor,
		sessionRef:  acc.sessionRef,
		model:       acc.model,
		opts:        acc.opts,
		followup:    true,
		calls:       surviving,
		partialText: acc.text.String(),
		priorMsgs:   append([]llm.Message(nil), acc.messages...),
		history:     append([]llm.HistoryEntry(nil), acc.history...),
	}

	// New round under the same stream ID: subscribers see one continuous
	// stream. Text and pending calls reset; meta carries forward.
	acc.resetRound()
	if entry.cancel != nil {
		entry.cancel()
	}
	entry.epoch++
	o.spawnWorker(cmd.sessionID, entry, w)

	o.logger.Debug().
		Str("session_id", cmd.sessionID).
		Str("stream_id", entry.streamID).
		Int("round", acc.rounds).
		Int("calls", len(surviving)).
		Msg("follow-up round started")
}

// filterCalls drops calls whose signature already executed this turn, then
// applies the idempotent-lookup policy: at most one surviving call per round
// for tools flagged as such.
func (o *Orchestrator) filterCalls(acc *accumulator) []llm.ToolCall {
	var surviving []llm.ToolCall
	seenRound := make(map[llm.CallSignature]struct{})
	lookupUsed := make(map[string]bool)

	for _, call := range acc.toolCalls {
		sig := call.Signature()
		if _, done := acc.executed[sig]; done {
			continue
		}
		if _, dup := seenRound[sig]; dup {
			continue
		}
		if o.cfg.ToolPolicies[call.Name].IdempotentLookup && lookupUsed[call.Name] {
			continue
		}
		seenRound[sig] = struct{}{}
		lookupUsed[call.Name] = true
		surviving = append(surviving, call)
	}
	return surviving
}

func (o *Orchestrator) spawnWorker(sessionID string, entry *sessionEntry, w *worker) {
	ctx, cancel := context.WithCancel(o.ctx)
	entry.cancel = cancel
	entry.running = true
	w.o = o
	w.epoch = entry.epoch
	go w.run(ctx)
}

// finalize closes out the turn: publish the synthesized Finalized event,
// hand the record to persistence (failures logged and swallowed), and drop
// the worker reference. The next StartStream begins a fresh turn.
func (o *Orchestrator) finalize(sessionID string, entry *sessionEntry) {
	acc := entry.acc
	content := acc.text.String()

	meta := map[string]any{
		"provider":        acc.vendor,
		"model":           acc.model,
		"session_name":    sessionID,
		"started_at":      acc.startedAt.UTC().Format(time.RFC3339),
		"followup_rounds": acc.rounds,
	}
	o.publish(sessionID, entry.streamID, llm.NewFinalizedEvent(content, acc.usage, meta))

	if o.store != nil {
		rec := &llm.TurnRecord{
			SessionID:   sessionID,
			StreamID:    entry.streamID,
			Provider:    acc.vendor,
			Model:       acc.model,
			Credential:  acc.sessionRef,
			Content:     content,
			ToolCalls:   append([]llm.ToolCall(nil), acc.toolCalls...),
			ToolHistory: append([]llm.HistoryEntry(nil), acc.history...),
			Usage:       acc.usage,
			Rounds:      acc.rounds,
			StartedAt:   acc.startedAt,
			LatencyMS:   time.Since(acc.startedAt).Milliseconds(),
			Timeline:    append([]llm.Envelope(nil), acc.timeline...),
		}
		// Persistence must not block or wedge the coordinator.
		go func() {
			if err := o.store.Persist(context.Background(), sessionID, rec); err != nil {
				o.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to persist turn")
			}
		}()
	}

	if entry.cancel != nil {
		entry.cancel()
	}
	entry.cancel = nil
	entry.running = false
	entry.epoch++

	o.logger.Info().
		Str("session_id", sessionID).
		Str("stream_id", entry.streamID).
		Int("rounds", acc.rounds).
		Int("content_bytes", len(content)).
		Msg("turn finalized")
}
