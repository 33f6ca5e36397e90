// Package markdown renders the markdown subset used in assistant replies
// (headings, emphasis, lists, inline code, paragraphs) into sanitized HTML.
//
// Rendering is a two step process: Parse classifies input lines and groups
// them into blocks, then each block is emitted as a single top-level HTML
// element. Literal HTML in the source is always escaped before any markup
// is produced.
package markdown

import "strings"

// Kind tags a parsed block.
type Kind int

const (
	KindParagraph Kind = iota
	KindHeading
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindHeading:
		return "heading"
	case KindList:
		return "list"
	default:
		return "paragraph"
	}
}

// Block is one top-level node of a parsed document.
type Block struct {
	Kind    Kind
	Level   int  // heading level, 1 to 3
	Ordered bool // numbered list
	// Lines holds the paragraph lines, the heading text, or the list items.
	Lines []string
}

type lineKind int

const (
	lineBlank lineKind = iota
	lineText
	lineHeading
	lineBullet
	lineNumbered
)

type line struct {
	kind  lineKind
	level int
	text  string
}

// Parse splits src into blocks. Consecutive list items of the same kind
// share one list block, consecutive text lines share one paragraph, and a
// blank line closes whatever block is open.
func Parse(src string) []Block {
	src = strings.ReplaceAll(src, "\r\n", "\n")

	var (
		blocks []Block
		cur    *Block
	)
	flush := func() {
		if cur != nil {
			blocks = append(blocks, *cur)
			cur = nil
		}
	}

	for _, raw := range strings.Split(src, "\n") {
		l := classify(raw)
		switch l.kind {
		case lineBlank:
			flush()
		case lineHeading:
			flush()
			blocks = append(blocks, Block{Kind: KindHeading, Level: l.level, Lines: []string{l.text}})
		case lineBullet, lineNumbered:
			ordered := l.kind == lineNumbered
			if cur == nil || cur.Kind != KindList || cur.Ordered != ordered {
				flush()
				cur = &Block{Kind: KindList, Ordered: ordered}
			}
			cur.Lines = append(cur.Lines, l.text)
		case lineText:
			if cur == nil || cur.Kind != KindParagraph {
				flush()
				cur = &Block{Kind: KindParagraph}
			}
			cur.Lines = append(cur.Lines, l.text)
		}
	}
	flush()

	return blocks
}

func classify(raw string) line {
	s := strings.TrimSpace(raw)
	if s == "" {
		return line{kind: lineBlank}
	}
	if level, text, ok := headingLine(s); ok {
		return line{kind: lineHeading, level: level, text: text}
	}
	if strings.HasPrefix(s, "- ") || strings.HasPrefix(s, "* ") {
		return line{kind: lineBullet, text: strings.TrimSpace(s[2:])}
	}
	if text, ok := numberedLine(s); ok {
		return line{kind: lineNumbered, text: text}
	}
	return line{kind: lineText, text: s}
}

// headingLine matches one to three '#' followed by a space and some text.
func headingLine(s string) (int, string, bool) {
	level := 0
	for level < len(s) && s[level] == '#' {
		level++
	}
	if level == 0 || level > 3 || level >= len(s) || s[level] != ' ' {
		return 0, "", false
	}
	text := strings.TrimSpace(s[level:])
	if text == "" {
		return 0, "", false
	}
	return level, text, true
}

// numberedLine matches "N. text".
func numberedLine(s string) (string, bool) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i+1 >= len(s) || s[i] != '.' || s[i+1] != ' ' {
		return "", false
	}
	return strings.TrimSpace(s[i+2:]), true
}
