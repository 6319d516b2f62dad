package session

import (
	"strings"
	"time"

	"github.com/aschepis/backscratcher/gateway/llm"
)

// accumulator holds the per-turn working state. Only the coordinator
// goroutine touches it.
type accumulator struct {
	vendor     string
	model      string
	sessionRef string
	opts       llm.Options

	// messages is the canonical conversation snapshot, extended after each
	// tool round so follow-up requests carry the full exchange.
	messages []llm.Message

	text      strings.Builder
	lastDelta string
	toolCalls []llm.ToolCall
	usage     *llm.Usage
	timeline  []llm.Envelope

	rounds   int
	executed map[llm.CallSignature]struct{}
	history  []llm.HistoryEntry

	startedAt time.Time
}

func newAccumulator(vendor, model, sessionRef string, opts llm.Options, msgs []llm.Message) *accumulator {
	return &accumulator{
		vendor:     vendor,
		model:      model,
		sessionRef: sessionRef,
		opts:       opts,
		messages:   append([]llm.Message(nil), msgs...),
		executed:   make(map[llm.CallSignature]struct{}),
		startedAt:  time.Now().UTC(),
	}
}

// duplicateDelta reports whether text is large enough to be upstream retry
// duplication rather than legitimately repeated short output, and either
// exactly repeats the previous delta or is already a suffix of the
// accumulated text. The suffix check catches retries that re-deliver several
// previously streamed chunks combined into one.
func (a *accumulator) duplicateDelta(text string, minBytes int) bool {
	if len(text) < minBytes {
		return false
	}
	return text == a.lastDelta || strings.HasSuffix(a.text.String(), text)
}

func (a *accumulator) appendDelta(text string) {
	a.text.WriteString(text)
	a.lastDelta = text
}

// resetRound clears the per-attempt state before a follow-up round. The
// turn-scoped fields (usage, timeline, history, executed, rounds) carry
// forward.
func (a *accumulator) resetRound() {
	a.text.Reset()
	a.lastDelta = ""
	a.toolCalls = nil
}
