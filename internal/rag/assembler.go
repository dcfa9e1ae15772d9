// Package rag assembles retrieval context for the chat prompt.
//
// Search hits arrive ranked by similarity; the assembler packs their
// contents into a single string under a rune budget. The top hit is the one
// the ranking says matters most, so when even it alone overflows the budget
// it is truncated rather than dropped. Every later hit either fits whole or
// is skipped whole, so a chunk is never cut mid-thought past the first.
//
// Budgets are counted in runes, not bytes, because the budget models what
// the prompt window can hold and multibyte text would otherwise be
// penalized threefold.
package rag

import (
	"strings"
	"unicode/utf8"

	"github.com/supplymind/copilot/internal/search"
)

// separator sits between chunks and counts against the budget.
const (
	separator = "\n\n"
	sepRunes  = 2
)

// Assemble concatenates hit contents in the given order, separated by blank
// lines, never exceeding budget runes. A hit that does not fit is skipped;
// later, shorter hits may still be packed. Returns "" for an empty hit list
// or a non-positive budget.
func Assemble(hits []search.Hit, budget int) string {
	return assemble(hits, budget, func(h search.Hit) string { return h.Content })
}

// AssembleLabeled is Assemble with each chunk prefixed by its source marker
// on its own line. Labels count against the budget.
func AssembleLabeled(hits []search.Hit, budget int) string {
	return assemble(hits, budget, func(h search.Hit) string {
		return Label(h) + "\n" + h.Content
	})
}

// Label renders the source marker for a hit: "[document: path/to.md]", or
// "[document]" when the hit has no source reference.
func Label(h search.Hit) string {
	if h.SourceRef == "" {
		return "[" + h.SourceType + "]"
	}
	return "[" + h.SourceType + ": " + h.SourceRef + "]"
}

func assemble(hits []search.Hit, budget int, chunk func(search.Hit) string) string {
	if budget <= 0 || len(hits) == 0 {
		return ""
	}

	var b strings.Builder
	used := 0
	wrote := false
	for _, h := range hits {
		if h.Content == "" {
			continue
		}
		c := chunk(h)
		n := utf8.RuneCountInString(c)

		if !wrote {
			// The top-ranked chunk always contributes, truncated if needed.
			if n > budget {
				c = truncateRunes(c, budget)
				n = budget
			}
			b.WriteString(c)
			used = n
			wrote = true
			continue
		}

		if used+sepRunes+n > budget {
			continue
		}
		b.WriteString(separator)
		b.WriteString(c)
		used += sepRunes + n
	}
	return b.String()
}

// truncateRunes clips s to at most n runes.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
