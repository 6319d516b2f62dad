// Package llm defines the canonical, provider-neutral model the gateway
// speaks internally: conversation messages, tool calls and outputs, stream
// events, and the collaborator contracts around them.
//
// This package holds pure data plus invariant checks. Behavior lives
// elsewhere:
//
//  1. Translation: the llm/openai, llm/anthropic, and llm/gemini packages
//     convert canonical messages to each vendor's native wire shapes and
//     vendor stream chunks back into canonical StreamEvents. The translate
//     package dispatches across them by vendor identifier.
//
//  2. Dispatch: the dispatch package validates inputs and resolves a
//     (vendor, operation) pair to a registered implementation before any
//     I/O happens.
//
//  3. Orchestration: the session package owns the per-session streaming
//     state machine, accumulates canonical events, and drives the
//     tool-call/follow-up loop.
//
// Collaborators that are external to the gateway core (vendor transport,
// tool execution, persistence, credential resolution) are expressed here as
// interfaces only, so the orchestrator can be exercised against mocks.
//
// # Errors
//
// The Error type provides a provider-neutral taxonomy. Only invalid-input
// class errors are returned synchronously by the control surface; transport
// and tool failures surface asynchronously as Error stream events so
// subscribers never hang waiting for a terminal event.
package llm
