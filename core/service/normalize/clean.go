package normalize

import (
	"regexp"
	"strings"
)

var (
	scriptRe   = regexp.MustCompile(`(?is)<script.*?</script>`)
	styleRe    = regexp.MustCompile(`(?is)<style.*?</style>`)
	trackImgRe = regexp.MustCompile(`(?is)<img[^>]*(?:width=["']?1["']?[^>]*height=["']?1["']?|track|pixel|beacon)[^>]*>`)
	tagRe      = regexp.MustCompile(`(?s)<[^>]+>`)

	utmURLRe   = regexp.MustCompile(`https?://\S*utm_\S*`)
	pixelURLRe = regexp.MustCompile(`https?://\S*(?:pixel|track|beacon|open)\.(?:gif|png)\S*`)

	whitespaceRe = regexp.MustCompile(`\s+`)
)

var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
)

// HTMLToText strips an HTML body down to its visible text: script and
// style blocks go first, then tracking pixels, then all remaining tags.
func HTMLToText(html string) string {
	s := scriptRe.ReplaceAllString(html, " ")
	s = styleRe.ReplaceAllString(s, " ")
	s = trackImgRe.ReplaceAllString(s, " ")
	s = tagRe.ReplaceAllString(s, " ")
	s = entityReplacer.Replace(s)
	return collapse(s)
}

// CleanText removes tracking artifacts from plain text and collapses
// whitespace. The result feeds the body hash, so the same message body
// always cleans to the same string.
func CleanText(text string) string {
	s := utmURLRe.ReplaceAllString(text, " ")
	s = pixelURLRe.ReplaceAllString(s, " ")
	return collapse(s)
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
