package llm

import (
	"regexp"
	"strings"
)

var bareObjectRe = regexp.MustCompile(`\{[^{}]*"class"[^{}]*\}`)

// ExtractJSON pulls the JSON object out of an assistant reply. Handles a
// ```json code fence, a bare object, and chatter around a flat object
// containing a "class" key. Returns "" when nothing JSON-shaped is found.
func ExtractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return s
	}
	if m := bareObjectRe.FindString(s); m != "" {
		return m
	}
	return ""
}
