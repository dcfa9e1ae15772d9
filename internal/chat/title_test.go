package chat

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/supplymind/copilot/internal/session"
	"github.com/supplymind/copilot/internal/testutil"
)

func TestTitleFromPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		message string
		want    string
	}{
		{
			name:    "short message unchanged",
			message: "Where is order PO-1234?",
			want:    "Where is order PO-1234?",
		},
		{
			name:    "surrounding whitespace trimmed",
			message: "  reorder point for SKU-9  ",
			want:    "reorder point for SKU-9",
		},
		{
			name:    "long message breaks at word boundary",
			message: "What is the projected fill rate for the Chicago warehouse next quarter given current inbound delays",
			want:    "What is the projected fill rate for the...",
		},
		{
			name:    "empty stays empty",
			message: "   ",
			want:    "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := titleFromPrefix(tt.message)
			if got != tt.want {
				t.Errorf("titleFromPrefix() = %q, want %q", got, tt.want)
			}
			if n := utf8.RuneCountInString(got); n > session.TitleMaxLength {
				t.Errorf("title is %d runes, exceeds the store limit %d", n, session.TitleMaxLength)
			}
		})
	}
}

func TestTitleFromPrefix_NoWordBoundary(t *testing.T) {
	t.Parallel()

	// One unbroken token still clips under the store limit.
	got := titleFromPrefix(strings.Repeat("x", 200))
	if n := utf8.RuneCountInString(got); n > session.TitleMaxLength {
		t.Errorf("title is %d runes, exceeds %d", n, session.TitleMaxLength)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated title %q should end with ellipsis", got)
	}
}

func TestClipTitle(t *testing.T) {
	t.Parallel()

	short := "Inventory check"
	if got := clipTitle(short); got != short {
		t.Errorf("clipTitle(%q) = %q, want unchanged", short, got)
	}

	long := strings.Repeat("倉", 80)
	got := clipTitle(long)
	if n := utf8.RuneCountInString(got); n != session.TitleMaxLength {
		t.Errorf("clipped title is %d runes, want %d", n, session.TitleMaxLength)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("clipped title %q should end with ellipsis", got)
	}
}

func TestTitleFromModel_UsesModelReply(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{text: "  Chicago Fill Rate Outlook \n"}
	s := &Service{llm: gen, logger: testutil.DiscardLogger()}

	got := s.titleFromModel(context.Background(), "what's the fill rate outlook for Chicago?")
	if got != "Chicago Fill Rate Outlook" {
		t.Errorf("titleFromModel() = %q, want trimmed model reply", got)
	}
}

func TestTitleFromModel_FailureReturnsEmpty(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{errs: []error{permanentErr()}}
	s := &Service{llm: gen, logger: testutil.DiscardLogger()}

	if got := s.titleFromModel(context.Background(), "anything"); got != "" {
		t.Errorf("titleFromModel() = %q, want empty on failure", got)
	}
}

func TestTitleFromModel_ClipsLongReply(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{text: strings.Repeat("long title ", 20)}
	s := &Service{llm: gen, logger: testutil.DiscardLogger()}

	got := s.titleFromModel(context.Background(), "anything")
	if n := utf8.RuneCountInString(got); n > session.TitleMaxLength {
		t.Errorf("title is %d runes, exceeds %d", n, session.TitleMaxLength)
	}
}
