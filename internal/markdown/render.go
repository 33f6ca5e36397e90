package markdown

import (
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Renderer converts markdown text to an HTML fragment.
// The zero value is not usable; use NewRenderer.
type Renderer struct {
	policy *bluemonday.Policy
}

// NewRenderer returns a Renderer whose output is restricted to the
// elements the parser can emit.
func NewRenderer() *Renderer {
	p := bluemonday.NewPolicy()
	p.AllowElements("h1", "h2", "h3", "p", "br", "ul", "ol", "li", "strong", "em", "code")
	return &Renderer{policy: p}
}

var defaultRenderer = NewRenderer()

// Render converts src using the default renderer.
func Render(src string) string {
	return defaultRenderer.Render(src)
}

// Render converts src to HTML. Each top-level block is emitted as one
// element on its own line.
func (r *Renderer) Render(src string) string {
	return r.policy.Sanitize(RenderBlocks(Parse(src)))
}

// RenderBlocks emits blocks without sanitizing.
func RenderBlocks(blocks []Block) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, renderBlock(b))
	}
	return strings.Join(parts, "\n")
}

func renderBlock(b Block) string {
	var sb strings.Builder
	switch b.Kind {
	case KindHeading:
		tag := "h" + strconv.Itoa(b.Level)
		sb.WriteString("<" + tag + ">")
		sb.WriteString(inline(strings.Join(b.Lines, " ")))
		sb.WriteString("</" + tag + ">")
	case KindList:
		tag := "ul"
		if b.Ordered {
			tag = "ol"
		}
		sb.WriteString("<" + tag + ">")
		for _, item := range b.Lines {
			sb.WriteString("<li>" + inline(item) + "</li>")
		}
		sb.WriteString("</" + tag + ">")
	default:
		lines := make([]string, 0, len(b.Lines))
		for _, l := range b.Lines {
			lines = append(lines, inline(l))
		}
		sb.WriteString("<p>")
		sb.WriteString(strings.Join(lines, "<br>"))
		sb.WriteString("</p>")
	}
	return sb.String()
}
