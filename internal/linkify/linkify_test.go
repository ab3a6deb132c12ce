package linkify

import (
	"strings"
	"testing"
)

func TestLinkifyWrapsBareURL(t *testing.T) {
	got := Linkify("see https://example.com/page for details")
	want := `see <a href="https://example.com/page" target="_blank" rel="noopener noreferrer">https://example.com/page</a> for details`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLinkifyMultipleURLs(t *testing.T) {
	got := Linkify("http://a.test and https://b.test")
	if strings.Count(got, "<a ") != 2 {
		t.Fatalf("expected two anchors, got %q", got)
	}
	if !strings.Contains(got, ` and `) {
		t.Fatalf("text between URLs lost: %q", got)
	}
}

func TestLinkifyIdempotent(t *testing.T) {
	once := Linkify("visit https://example.com now")
	twice := Linkify(once)
	if once != twice {
		t.Fatalf("second pass changed output:\nonce:  %q\ntwice: %q", once, twice)
	}
}

func TestLinkifyLeavesExistingAnchorsAlone(t *testing.T) {
	input := `<a href="https://example.com">https://example.com</a>`
	if got := Linkify(input); strings.Count(got, "<a") != 1 {
		t.Fatalf("anchor got double-wrapped: %q", got)
	}
}

func TestLinkifyWrapsURLOutsideAnchor(t *testing.T) {
	input := `<a href="https://a.test" target="_blank">a</a>`
	got := Linkify(input + " plus https://b.test")
	// Marker short-circuit only fires on our own attribute order.
	if !strings.Contains(got, `href="https://b.test"`) {
		t.Fatalf("bare URL next to foreign anchor not wrapped: %q", got)
	}
}

func TestLinkifyNoURLPassthrough(t *testing.T) {
	inputs := []string{"", "plain text", "<b>bold</b> text", "ftp://not-matched.test"}
	for _, input := range inputs {
		if got := Linkify(input); got != input {
			t.Fatalf("Linkify(%q) = %q, want unchanged", input, got)
		}
	}
}

func TestLinkifyTopLevelTextBesideElements(t *testing.T) {
	got := Linkify("intro https://a.test <b>bold</b> outro https://b.test")
	if strings.Count(got, "<a ") != 2 {
		t.Fatalf("root-level text runs not wrapped: %q", got)
	}
	if !strings.Contains(got, "<b>bold</b>") {
		t.Fatalf("sibling element mangled: %q", got)
	}
	if !strings.HasPrefix(got, "intro ") || !strings.Contains(got, " outro ") {
		t.Fatalf("surrounding text lost: %q", got)
	}
}

func TestLinkifyNestedMarkup(t *testing.T) {
	got := Linkify("<p>read <em>https://example.com/doc</em></p>")
	if !strings.Contains(got, `<em><a href="https://example.com/doc"`) {
		t.Fatalf("URL inside nested element not wrapped: %q", got)
	}
}

func TestPlainText(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"plain", "plain"},
		{"<b>bold</b> and <i>italic</i>", "bold and italic"},
		{`<a href="https://x.test">label</a>`, "label"},
		{"<p>one</p><p>two</p>", "onetwo"},
	}
	for _, tc := range cases {
		if got := PlainText(tc.input); got != tc.want {
			t.Fatalf("PlainText(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}
