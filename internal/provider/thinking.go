package provider

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// ExtractThinking separates an embedded reasoning span from cumulative
// visible text. It is re-run on the whole buffer every frame, so it must be
// idempotent on text that carries no markers.
//
// Marker handling on a live stream:
//   - open marker complete, close marker not yet seen: everything after the
//     open marker is reasoning in progress and streams as thinking;
//   - both markers complete: the enclosed span is thinking, the rest is
//     content;
//   - a trailing fragment that could still become a marker is withheld from
//     content until the next chunk disambiguates it. When final is true the
//     stream is over and fragments are flushed as ordinary content.
func ExtractThinking(raw string, final bool) (content, thinking string) {
	open := strings.Index(raw, thinkOpen)
	if open < 0 {
		if !final {
			if n := partialMarkerLen(raw, thinkOpen); n > 0 {
				return raw[:len(raw)-n], ""
			}
		}
		return raw, ""
	}

	before := raw[:open]
	rest := raw[open+len(thinkOpen):]

	closeIdx := strings.Index(rest, thinkClose)
	if closeIdx < 0 {
		if !final {
			if n := partialMarkerLen(rest, thinkClose); n > 0 {
				rest = rest[:len(rest)-n]
			}
		}
		return before, strings.TrimSpace(rest)
	}

	thinking = strings.TrimSpace(rest[:closeIdx])
	after := strings.TrimLeft(rest[closeIdx+len(thinkClose):], "\n")
	return before + after, thinking
}

// partialMarkerLen returns the length of the longest proper prefix of marker
// that s ends with, or 0 if there is none.
func partialMarkerLen(s, marker string) int {
	max := len(marker) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, marker[:n]) {
			return n
		}
	}
	return 0
}
