package turn

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/gowebpki/jcs"
)

// Truncate shortens s to at most limit runes, noting how many were dropped.
// A non-positive limit disables truncation.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	n := utf8.RuneCountInString(s)
	if n <= limit {
		return s
	}
	cut := 0
	for i := range s {
		if cut == limit {
			return s[:i] + fmt.Sprintf("\n...[truncated %d chars]", n-limit)
		}
		cut++
	}
	return s
}

// rawText renders a tool output or error field. JSON strings are unquoted,
// null is empty and anything else is kept as its JSON text.
func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// canonicalInput renders tool input. Objects and arrays use the RFC 8785
// canonical form so equal inputs always serialize to equal text.
func canonicalInput(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && (raw[0] == '{' || raw[0] == '[') {
		if out, err := jcs.Transform(raw); err == nil {
			return string(out)
		}
		return string(raw)
	}
	return rawText(raw)
}

// htmlToMarkdown converts whole HTML documents, as returned by fetch-style
// tools, to markdown. Anything else passes through untouched.
func htmlToMarkdown(s string) string {
	if !looksLikeHTML(s) {
		return s
	}
	md, err := htmltomarkdown.ConvertString(s)
	if err != nil {
		return s
	}
	return strings.TrimSpace(md)
}

func looksLikeHTML(s string) bool {
	head := strings.ToLower(strings.TrimSpace(s))
	if len(head) > 64 {
		head = head[:64]
	}
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}
