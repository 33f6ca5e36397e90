package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ashureev/aero-chat/internal/domain"
	"github.com/fatih/color"
)

// termView draws the widget on a terminal. Streaming text is written as
// deltas; finished messages are reprinted section by section so each one
// can be rated by number.
type termView struct {
	mu  sync.Mutex
	out io.Writer

	printed   map[string]int
	sections  map[string][]domain.Section
	lastFinal string

	assistant *color.Color
	dim       *color.Color
	bad       *color.Color
	good      *color.Color
	note      *color.Color
}

func newTermView(out io.Writer) *termView {
	return &termView{
		out:       out,
		printed:   make(map[string]int),
		sections:  make(map[string][]domain.Section),
		assistant: color.New(color.FgCyan),
		dim:       color.New(color.Faint),
		bad:       color.New(color.FgRed),
		good:      color.New(color.FgGreen),
		note:      color.New(color.FgYellow),
	}
}

func (v *termView) ShowPlaceholder(messageID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.printed[messageID] = 0
	v.dim.Fprintln(v.out, "assistant is typing...")
}

func (v *termView) ShowStreaming(messageID, raw string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := v.printed[messageID]
	if n > len(raw) {
		n = 0
	}
	v.assistant.Fprint(v.out, raw[n:])
	v.printed[messageID] = len(raw)
}

func (v *termView) ShowFinal(messageID, _ string, sections []domain.Section) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.printed[messageID] > 0 {
		fmt.Fprintln(v.out)
	}
	delete(v.printed, messageID)
	v.sections[messageID] = sections
	v.lastFinal = messageID

	v.dim.Fprintf(v.out, "── %s ──\n", messageID)
	for i, s := range sections {
		v.dim.Fprintf(v.out, "[%d] ", i+1)
		fmt.Fprintln(v.out, strings.TrimSpace(s.Text))
	}
	v.dim.Fprintln(v.out, "rate with /rate <n> <+|-> [comment] or /overall <+|-> [comment]")
}

func (v *termView) ShowError(messageID, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.printed[messageID] > 0 {
		fmt.Fprintln(v.out)
	}
	delete(v.printed, messageID)
	v.bad.Fprintf(v.out, "assistant: %s\n", text)
}

func (v *termView) SetConnected(connected bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if connected {
		v.good.Fprintln(v.out, "● connected")
		return
	}
	v.bad.Fprintln(v.out, "○ disconnected")
}

func (v *termView) ShowUserMessage(_, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dim.Fprintf(v.out, "you: %s\n", text)
}

func (v *termView) MarkRated(affordanceID string, p domain.Polarity) {
	v.mu.Lock()
	defer v.mu.Unlock()
	mark := v.good.Sprint("👍")
	if p == domain.PolarityNegative {
		mark = v.bad.Sprint("👎")
	}
	fmt.Fprintf(v.out, "%s %s\n", mark, affordanceID)
}

func (v *termView) ShowToast(_ int, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.note.Fprintln(v.out, text)
}

// Terminal output cannot be retracted.
func (v *termView) DismissToast(int) {}

func (v *termView) Alert(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bad.Fprintf(v.out, "error: %s\n", text)
}

// section resolves a 1-based section number of the last finished message.
func (v *termView) section(n int) (domain.Section, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	secs := v.sections[v.lastFinal]
	if n < 1 || n > len(secs) {
		return domain.Section{}, false
	}
	return secs[n-1], true
}

func (v *termView) last() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastFinal
}
