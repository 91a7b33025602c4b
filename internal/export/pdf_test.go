package export

import (
	"strings"
	"testing"
)

func TestChapterHTMLEscapesAndParagraphs(t *testing.T) {
	html := chapterHTML("Tom & Jerry", "First paragraph.\n\nSecond <b>paragraph</b>.")

	if !strings.Contains(html, "Tom &amp; Jerry") {
		t.Error("title not escaped")
	}
	if !strings.Contains(html, "Second &lt;b&gt;paragraph&lt;/b&gt;.") {
		t.Error("content not escaped")
	}
	if got := strings.Count(html, "<p>"); got != 2 {
		t.Errorf("expected 2 paragraphs, got %d", got)
	}
}

func TestPercentEncode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"two words", "two%20words"},
		{"a+b", "a%2Bb"},
		{"ünïcode", "%C3%BCn%C3%AFcode"},
		{"safe-._~", "safe-._~"},
	}
	for _, tt := range tests {
		if got := percentEncode(tt.in); got != tt.want {
			t.Errorf("percentEncode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
