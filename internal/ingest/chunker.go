package ingest

import (
	"strings"
	"unicode/utf8"
)

// chunkText splits text into chunks of at most budget runes, breaking at a
// paragraph boundary when one lands in the back half of the window, then at
// a line break, then at a space. Each chunk after the first repeats the
// previous chunk's last overlap runes, so a sentence cut at a boundary
// stays findable from both sides.
func chunkText(text string, budget, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= budget {
		return []string{text}
	}
	if overlap >= budget {
		overlap = budget / 4
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		if start+budget >= len(runes) {
			if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
				chunks = append(chunks, tail)
			}
			break
		}

		end := start + breakPoint(runes[start:start+budget])
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// breakPoint returns the cut position, in runes, for a full window. The
// preferred separators are tried in order; a separator only counts when it
// sits past the window's midpoint, otherwise a short first paragraph would
// produce degenerate chunks.
func breakPoint(window []rune) int {
	s := string(window)
	half := len(window) / 2
	for _, sep := range []string{"\n\n", "\n", " "} {
		if i := strings.LastIndex(s, sep); i >= 0 {
			if at := utf8.RuneCountInString(s[:i]); at > half {
				return at
			}
		}
	}
	return len(window)
}

// normalizeText trims every line and collapses blank runs, so extracted
// page text keeps its paragraph structure without the markup's indentation
// noise.
func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			blank = true
			continue
		}
		if blank && len(out) > 0 {
			out = append(out, "")
		}
		blank = false
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
