package domain

// TruncateRunes caps s at max runes without splitting a multibyte
// sequence. Stream payloads and prompt inputs must stay valid UTF-8.
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == max {
			return s[:i]
		}
		count++
	}
	return s
}
