package session

import (
	"context"
	"fmt"
	"time"

	"github.com/aschepis/backscratcher/gateway/llm"
	"github.com/aschepis/backscratcher/gateway/translate"
)

// worker drives one stream attempt: open the vendor stream, pump chunks
// through the translator, and forward canonical events to the coordinator.
// Workers never mutate session state; everything flows back as commands
// tagged with the worker's epoch so stale results are discarded.
type worker struct {
	o *Orchestrator

	sessionID  string
	streamID   string
	vendor     string
	sessionRef string
	model      string
	opts       llm.Options
	epoch      uint64

	// Initial attempts carry the canonical conversation.
	msgs []llm.Message

	// Follow-up attempts execute tools first and build vendor-native
	// follow-up messages from the prior exchange.
	followup    bool
	calls       []llm.ToolCall
	partialText string
	priorMsgs   []llm.Message
	history     []llm.HistoryEntry
}

func (w *worker) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.o.logger.Error().
				Str("session_id", w.sessionID).
				Str("stream_id", w.streamID).
				Any("panic", r).
				Msg("stream worker panicked")
			w.finish(ctx, llm.NewTransportError(fmt.Sprintf("stream worker panic: %v", r), nil))
		}
	}()

	stream, err := w.openStream(ctx)
	if err != nil {
		w.finish(ctx, err)
		return
	}
	defer stream.Close()

	w.pump(ctx, stream)
}

func (w *worker) openStream(ctx context.Context) (llm.ChunkStream, error) {
	if !w.followup {
		return w.o.dispatcher.StreamChat(ctx, w.vendor, w.sessionRef, w.msgs, w.model, w.opts)
	}

	outputs := w.execTools(ctx)
	w.send(ctx, toolRoundCmd{
		sessionID:   w.sessionID,
		epoch:       w.epoch,
		partialText: w.partialText,
		calls:       w.calls,
		outputs:     outputs,
	})

	items, err := translate.BuildFollowup(w.vendor, w.priorMsgs, w.calls, w.partialText, outputs, w.history)
	if err != nil {
		return nil, err
	}
	return w.o.dispatcher.StreamFollowup(ctx, w.vendor, w.sessionRef, items, w.model, w.opts)
}

// execTools runs the round's surviving tool calls sequentially. A failed
// execution becomes an error-shaped tool output fed back to the model, never
// a stream failure.
func (w *worker) execTools(ctx context.Context) []llm.ToolOutput {
	outputs := make([]llm.ToolOutput, 0, len(w.calls))
	for _, call := range w.calls {
		result, err := w.o.tools.Exec(ctx, w.sessionID, call.Name, call.Arguments, w.opts.WorkingDir)
		if err != nil {
			w.o.logger.Warn().Err(err).
				Str("session_id", w.sessionID).
				Str("tool", call.Name).
				Msg("tool execution failed")
			outputs = append(outputs, llm.NewToolError(call.ID, err.Error()))
			continue
		}
		outputs = append(outputs, llm.NewToolOutput(call.ID, result))
	}
	return outputs
}

// pump forwards translated chunks until the stream ends, the idle bound
// expires, or the worker is cancelled.
func (w *worker) pump(ctx context.Context, stream llm.ChunkStream) {
	chunks := make(chan any)
	var readErr error
	go func() {
		defer close(chunks)
		defer func() {
			// A panicking stream reader must not take the process down;
			// readErr is visible to the loop once the channel closes.
			if r := recover(); r != nil {
				readErr = llm.NewTransportError(fmt.Sprintf("stream read panic: %v", r), nil)
			}
		}()
		for stream.Next() {
			select {
			case chunks <- stream.Chunk():
			case <-ctx.Done():
				return
			}
		}
	}()

	idle := time.NewTimer(w.o.cfg.ChunkIdleTimeout)
	defer idle.Stop()

	// Some vendors trail usage after the finish chunk. Once the terminal
	// event is seen, keep draining for usage until the stream closes; any
	// other trailing event is noise.
	doneSeen := false
	for {
		select {
		case <-ctx.Done():
			// Cancelled or replaced: the coordinator already moved on.
			return
		case <-idle.C:
			if doneSeen {
				w.finish(ctx, nil)
				return
			}
			w.finish(ctx, llm.NewTransportError("no chunk received within idle bound", nil))
			return
		case chunk, ok := <-chunks:
			if !ok {
				if doneSeen {
					w.finish(ctx, nil)
					return
				}
				// Vendor closed without an explicit terminal event.
				err := readErr
				if err == nil {
					err = stream.Err()
				}
				w.finish(ctx, err)
				return
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(w.o.cfg.ChunkIdleTimeout)

			events, err := translate.FromVendorEvents(w.vendor, []any{chunk})
			if err != nil {
				w.finish(ctx, err)
				return
			}
			for _, ev := range events {
				switch {
				case ev.Terminal():
					doneSeen = true
				case doneSeen && ev.Type != llm.StreamEventTypeUsage:
				default:
					w.send(ctx, workerEventCmd{sessionID: w.sessionID, epoch: w.epoch, event: ev})
				}
			}
		}
	}
}

func (w *worker) finish(ctx context.Context, err error) {
	w.send(ctx, workerDoneCmd{sessionID: w.sessionID, epoch: w.epoch, err: err})
}

// send enqueues a command without wedging a cancelled worker. The
// coordinator drops stale epochs, so a racing delivery is harmless.
func (w *worker) send(ctx context.Context, cmd any) {
	select {
	case w.o.cmds <- cmd:
	case <-ctx.Done():
	case <-w.o.ctx.Done():
	}
}
