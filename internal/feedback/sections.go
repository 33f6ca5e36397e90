// Package feedback assigns stable identifiers to the rendered sections of
// an assistant message and collects per-section ratings.
package feedback

import (
	"bytes"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/ashureev/aero-chat/internal/domain"
	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// SectionID returns the identifier of the ordinal-th section of a message.
func SectionID(messageID string, ordinal int) string {
	return messageID + "_section_" + strconv.Itoa(ordinal)
}

// OverallID returns the affordance identifier for rating a whole message.
func OverallID(messageID string) string {
	return messageID + "_overall"
}

// Sections walks the top-level nodes of a rendered fragment in document
// order and returns one section per block element. Whitespace-only text
// between blocks is ignored; stray top-level text becomes its own section.
func Sections(renderedHTML, messageID string) ([]domain.Section, error) {
	context := &xhtml.Node{Type: xhtml.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := xhtml.ParseFragment(strings.NewReader(renderedHTML), context)
	if err != nil {
		return nil, fmt.Errorf("parse rendered html: %w", err)
	}

	var sections []domain.Section
	for _, n := range nodes {
		var kind string
		switch n.Type {
		case xhtml.ElementNode:
			kind = n.Data
		case xhtml.TextNode:
			if strings.TrimSpace(n.Data) == "" {
				continue
			}
			kind = "text"
		default:
			continue
		}

		var buf bytes.Buffer
		if err := xhtml.Render(&buf, n); err != nil {
			return nil, fmt.Errorf("render section: %w", err)
		}

		ordinal := len(sections)
		sections = append(sections, domain.Section{
			ID:        SectionID(messageID, ordinal),
			MessageID: messageID,
			Ordinal:   ordinal,
			Kind:      kind,
			HTML:      buf.String(),
			Text:      textContent(n),
		})
	}
	return sections, nil
}

// textContent returns the visible text of n with runs of whitespace
// collapsed to single spaces.
func textContent(n *xhtml.Node) string {
	var sb strings.Builder
	var walk func(*xhtml.Node)
	walk = func(n *xhtml.Node) {
		switch n.Type {
		case xhtml.TextNode:
			sb.WriteString(n.Data)
		case xhtml.ElementNode:
			if n.DataAtom == atom.Br || n.DataAtom == atom.Li {
				sb.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// decorate wraps each section with its rating buttons and appends the
// overall affordance for the message.
func decorate(messageID string, sections []domain.Section) string {
	var b strings.Builder
	for _, s := range sections {
		fmt.Fprintf(&b, `<div class="content-section" data-section-id="%s">`, html.EscapeString(s.ID))
		b.WriteString(s.HTML)
		b.WriteString(buttons(s.ID))
		b.WriteString("</div>\n")
	}
	fmt.Fprintf(&b, `<div class="overall-feedback" data-message-id="%s">`, html.EscapeString(messageID))
	b.WriteString(buttons(OverallID(messageID)))
	b.WriteString("</div>")
	return b.String()
}

func buttons(id string) string {
	id = html.EscapeString(id)
	return `<div class="feedback-container">` +
		`<button type="button" class="feedback-btn feedback-btn-positive" data-section-id="` + id + `" data-feedback="positive" title="Helpful">&#128077;</button>` +
		`<button type="button" class="feedback-btn feedback-btn-negative" data-section-id="` + id + `" data-feedback="negative" title="Not helpful">&#128078;</button>` +
		`</div>`
}
