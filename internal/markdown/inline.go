package markdown

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	codePattern     = regexp.MustCompile("`([^`]+)`")
	strongEmPattern = regexp.MustCompile(`\*\*\*(.+?)\*\*\*`)
	strongPattern   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	emPattern       = regexp.MustCompile(`\*([^*\s<](?:[^*<]*[^*\s<])?)\*`)
)

// inline escapes text and then applies code spans, strong and em, in that
// order. Code span contents are set aside so emphasis never reaches them.
// Em never spans a '<', since after escaping every '<' belongs to a tag.
func inline(text string) string {
	text = strings.ToValidUTF8(text, "\uFFFD")
	text = strings.ReplaceAll(text, "\x00", "")
	out := html.EscapeString(text)

	var spans []string
	out = codePattern.ReplaceAllStringFunc(out, func(m string) string {
		spans = append(spans, "<code>"+m[1:len(m)-1]+"</code>")
		return placeholder(len(spans) - 1)
	})

	out = strongEmPattern.ReplaceAllString(out, "<strong><em>$1</em></strong>")
	out = strongPattern.ReplaceAllString(out, "<strong>$1</strong>")
	out = emPattern.ReplaceAllString(out, "<em>$1</em>")

	for i, span := range spans {
		out = strings.Replace(out, placeholder(i), span, 1)
	}
	return out
}

func placeholder(i int) string {
	return "\x00" + strconv.Itoa(i) + "\x00"
}
