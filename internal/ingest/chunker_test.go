package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkText_ShortTextSingleChunk(t *testing.T) {
	t.Parallel()

	got := chunkText("reorder point is 120 units", 100, 10)
	if len(got) != 1 || got[0] != "reorder point is 120 units" {
		t.Errorf("chunkText() = %v, want the text untouched", got)
	}
}

func TestChunkText_BlankReturnsNothing(t *testing.T) {
	t.Parallel()

	if got := chunkText("   \n\t  ", 100, 10); got != nil {
		t.Errorf("chunkText() = %v, want nil", got)
	}
}

func TestChunkText_PrefersParagraphBoundary(t *testing.T) {
	t.Parallel()

	para1 := strings.Repeat("a", 60)
	para2 := strings.Repeat("b", 60)
	text := para1 + "\n\n" + para2

	got := chunkText(text, 100, 10)
	if len(got) != 2 {
		t.Fatalf("len(chunks) = %d, want 2: %q", len(got), got)
	}
	if got[0] != para1 {
		t.Errorf("chunks[0] = %q, want the first paragraph alone", got[0])
	}
	if !strings.HasSuffix(got[1], para2) {
		t.Errorf("chunks[1] = %q, want it to end with the second paragraph", got[1])
	}
	// The second chunk starts inside the first paragraph's tail.
	if !strings.HasPrefix(got[1], "aaaaaaaaaa") {
		t.Errorf("chunks[1] = %q, want a 10 rune overlap from the first chunk", got[1])
	}
}

func TestChunkText_HardCutWithoutBoundaries(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 250)
	got := chunkText(text, 100, 0)
	if len(got) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(got))
	}
	for i, want := range []int{100, 100, 50} {
		if n := utf8.RuneCountInString(got[i]); n != want {
			t.Errorf("chunks[%d] is %d runes, want %d", i, n, want)
		}
	}
	if strings.Join(got, "") != text {
		t.Error("concatenated chunks do not reconstruct the input")
	}
}

func TestChunkText_OverlapRepeatsTail(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 180)
	got := chunkText(text, 100, 20)
	if len(got) != 2 {
		t.Fatalf("len(chunks) = %d, want 2", len(got))
	}
	// Second chunk starts 20 runes before the first one ended.
	if n := utf8.RuneCountInString(got[1]); n != 100 {
		t.Errorf("chunks[1] is %d runes, want 100 (80 new plus 20 repeated)", n)
	}
}

func TestChunkText_MultibyteRunes(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("倉", 300)
	got := chunkText(text, 100, 0)
	if len(got) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(got))
	}
	for i, chunk := range got {
		if n := utf8.RuneCountInString(chunk); n != 100 {
			t.Errorf("chunks[%d] is %d runes, want exactly the budget", i, n)
		}
	}
}

func TestChunkText_FrontHalfSeparatorIgnored(t *testing.T) {
	t.Parallel()

	// The only space sits in the front half, so the cut is a hard one.
	text := "ab cd" + strings.Repeat("x", 150)
	got := chunkText(text, 100, 0)
	if len(got) != 2 {
		t.Fatalf("len(chunks) = %d, want 2", len(got))
	}
	if n := utf8.RuneCountInString(got[0]); n != 100 {
		t.Errorf("chunks[0] is %d runes, want the full budget", n)
	}
}

func TestChunkText_OversizedOverlapStillTerminates(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 500)
	got := chunkText(text, 40, 100)
	if len(got) < 2 {
		t.Fatalf("len(chunks) = %d, want the text split", len(got))
	}
	for i, chunk := range got {
		if n := utf8.RuneCountInString(chunk); n > 40 {
			t.Errorf("chunks[%d] is %d runes, want at most the budget", i, n)
		}
	}
}

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "trims lines and collapses blank runs",
			in:   "  first line \n\n\n\n  second line  \n",
			want: "first line\n\nsecond line",
		},
		{
			name: "carriage returns removed",
			in:   "first\r\nsecond\r\n",
			want: "first\nsecond",
		},
		{
			name: "leading blanks dropped",
			in:   "\n\n\nonly line",
			want: "only line",
		},
		{
			name: "empty input",
			in:   "   \n \n ",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := normalizeText(tt.in); got != tt.want {
				t.Errorf("normalizeText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
