package translate

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aschepis/backscratcher/gateway/llm"
)

const (
	// historyTruncateLimit bounds rendered argument and result previews.
	historyTruncateLimit = 200
	// historyChunkLimit keeps any single carryover message under typical
	// vendor payload limits.
	historyChunkLimit = 3500
)

// RenderHistory renders recorded tool rounds as human-readable text turns.
// One header line per round, one call line per call, one output line per
// output; argument and result previews are truncated at 200 characters.
func RenderHistory(entries []llm.HistoryEntry) string {
	var b strings.Builder
	for _, entry := range entries {
		b.WriteString("Turn @")
		b.WriteString(entry.At.UTC().Format(time.RFC3339))
		b.WriteString(" provider=")
		b.WriteString(entry.Provider)
		b.WriteString("\n")
		for _, call := range entry.Calls {
			b.WriteString("- call ")
			b.WriteString(call.Name)
			b.WriteString("(")
			b.WriteString(truncate(call.Arguments))
			b.WriteString(")\n")
		}
		for _, out := range entry.Outputs {
			b.WriteString("  output[")
			b.WriteString(out.CallID)
			b.WriteString("]: ")
			b.WriteString(truncate(out.Payload))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func truncate(s string) string {
	if len(s) <= historyTruncateLimit {
		return s
	}
	return s[:runeBoundary(s, historyTruncateLimit)] + "…"
}

// runeBoundary backs cut up to the nearest rune start so byte slicing never
// splits a multi-byte rune.
func runeBoundary(s string, cut int) int {
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return cut
}

// ChunkText splits rendered history into segments of at most max bytes,
// breaking on line boundaries where possible.
func ChunkText(s string, max int) []string {
	if s == "" {
		return nil
	}
	if len(s) <= max {
		return []string{s}
	}

	var segments []string
	var current strings.Builder
	for _, line := range strings.SplitAfter(s, "\n") {
		// A single oversized line is split hard, on a rune boundary.
		for len(line) > max {
			if current.Len() > 0 {
				segments = append(segments, current.String())
				current.Reset()
			}
			cut := runeBoundary(line, max)
			if cut == 0 {
				// Invalid UTF-8 with no boundary in reach; split anyway.
				cut = max
			}
			segments = append(segments, line[:cut])
			line = line[cut:]
		}
		if current.Len()+len(line) > max {
			segments = append(segments, current.String())
			current.Reset()
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		segments = append(segments, current.String())
	}
	return segments
}
