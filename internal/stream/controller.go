// Package stream owns the lifecycle of assistant messages, from the typing
// placeholder through raw chunk accumulation to one-time finalization.
package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/aero-chat/internal/domain"
)

// State is the render state of one assistant message.
type State string

const (
	StateIdle               State = "idle"
	StateAwaitingFirstChunk State = "awaiting_first_chunk"
	StateStreaming          State = "streaming"
	StateFinalizing         State = "finalizing"
	StateComplete           State = "complete"
	StateErrored            State = "errored"
)

var (
	ErrBusy              = errors.New("stream: another message is streaming")
	ErrDuplicateMessage  = errors.New("stream: message already exists")
	ErrUnknownMessage    = errors.New("stream: unknown message")
	ErrInvalidTransition = errors.New("stream: invalid transition")
)

// View displays assistant messages.
type View interface {
	ShowPlaceholder(messageID string)
	// ShowStreaming replaces the placeholder with the raw text so far.
	ShowStreaming(messageID, raw string)
	ShowFinal(messageID, html string, sections []domain.Section)
	// ShowError removes the placeholder and shows an error in the
	// assistant's voice.
	ShowError(messageID, text string)
}

// Renderer converts finished markdown to HTML.
type Renderer interface {
	Render(src string) string
}

// Sectioner assigns section ids to finalized HTML.
type Sectioner interface {
	AssignSections(renderedHTML, messageID string) (string, []domain.Section)
}

// Stats are counted once per completed message.
type Stats struct {
	Responses int `json:"responses"`
	Documents int `json:"documents"`
}

type entry struct {
	state    State
	raw      strings.Builder
	final    string
	html     string
	sections []domain.Section
	errInfo  string
}

// Controller is not safe for concurrent use.
type Controller struct {
	renderer  Renderer
	sectioner Sectioner
	view      View
	log       *slog.Logger

	messages map[string]*entry
	active   string
	stats    Stats
}

// NewController wires the collaborators together.
func NewController(renderer Renderer, sectioner Sectioner, view View, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		renderer:  renderer,
		sectioner: sectioner,
		view:      view,
		log:       log,
		messages:  make(map[string]*entry),
	}
}

// Begin creates the placeholder for messageID and takes the streaming slot.
func (c *Controller) Begin(messageID string) error {
	if c.active != "" {
		return fmt.Errorf("%w: %s", ErrBusy, c.active)
	}
	if _, ok := c.messages[messageID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMessage, messageID)
	}
	c.messages[messageID] = &entry{state: StateAwaitingFirstChunk}
	c.active = messageID
	c.view.ShowPlaceholder(messageID)
	return nil
}

// AppendChunk accumulates raw text. Chunks for unknown or settled messages
// are dropped with a warning.
func (c *Controller) AppendChunk(messageID, text string) error {
	e, ok := c.messages[messageID]
	if !ok {
		c.log.Warn("Dropping chunk for unknown message", "message_id", messageID)
		return fmt.Errorf("%w: %s", ErrUnknownMessage, messageID)
	}
	if e.state != StateAwaitingFirstChunk && e.state != StateStreaming {
		c.log.Warn("Dropping chunk for settled message", "message_id", messageID, "state", e.state)
		return fmt.Errorf("%w: chunk in state %s", ErrInvalidTransition, e.state)
	}

	e.state = StateStreaming
	e.raw.WriteString(text)
	c.view.ShowStreaming(messageID, e.raw.String())
	return nil
}

// Finalize renders the full response once and attaches sections.
// Calling it again for a completed message does nothing.
func (c *Controller) Finalize(messageID, fullText string, documentsUsed int) error {
	e, ok := c.messages[messageID]
	if !ok {
		c.log.Warn("Dropping completion for unknown message", "message_id", messageID)
		return fmt.Errorf("%w: %s", ErrUnknownMessage, messageID)
	}
	switch e.state {
	case StateComplete:
		c.log.Debug("Ignoring repeated completion", "message_id", messageID)
		return nil
	case StateAwaitingFirstChunk, StateStreaming:
	default:
		c.log.Warn("Dropping completion", "message_id", messageID, "state", e.state)
		return fmt.Errorf("%w: complete in state %s", ErrInvalidTransition, e.state)
	}

	e.state = StateFinalizing
	accumulated := e.raw.String()
	if fullText == "" {
		fullText = accumulated
	} else if accumulated != "" && accumulated != fullText {
		c.log.Warn("Streamed text differs from final response",
			"message_id", messageID,
			"streamed_len", len(accumulated),
			"final_len", len(fullText))
	}

	e.final = fullText
	e.html, e.sections = c.sectioner.AssignSections(c.renderer.Render(fullText), messageID)
	e.state = StateComplete
	c.release(messageID)

	c.stats.Responses++
	if documentsUsed > c.stats.Documents {
		c.stats.Documents = documentsUsed
	}

	c.view.ShowFinal(messageID, e.html, e.sections)
	return nil
}

// Fail ends the message with a visible error. Errored is terminal.
func (c *Controller) Fail(messageID, info string) error {
	e, ok := c.messages[messageID]
	if !ok {
		c.log.Warn("Dropping error for unknown message", "message_id", messageID, "error", info)
		return fmt.Errorf("%w: %s", ErrUnknownMessage, messageID)
	}
	if e.state != StateAwaitingFirstChunk && e.state != StateStreaming {
		c.log.Warn("Dropping error for settled message", "message_id", messageID, "state", e.state)
		return fmt.Errorf("%w: fail in state %s", ErrInvalidTransition, e.state)
	}

	e.state = StateErrored
	e.errInfo = info
	c.release(messageID)
	c.view.ShowError(messageID, "An error occurred: "+info)
	return nil
}

func (c *Controller) release(messageID string) {
	if c.active == messageID {
		c.active = ""
	}
}

// Active returns the id of the streaming message, or "".
func (c *Controller) Active() string {
	return c.active
}

// State returns the render state of a message, StateIdle if unknown.
func (c *Controller) State(messageID string) State {
	if e, ok := c.messages[messageID]; ok {
		return e.state
	}
	return StateIdle
}

// Text returns the final text of a completed message, or the raw text
// accumulated so far.
func (c *Controller) Text(messageID string) string {
	e, ok := c.messages[messageID]
	if !ok {
		return ""
	}
	if e.state == StateComplete {
		return e.final
	}
	return e.raw.String()
}

// Sections returns the sections assigned at finalization.
func (c *Controller) Sections(messageID string) []domain.Section {
	if e, ok := c.messages[messageID]; ok {
		return e.sections
	}
	return nil
}

// Stats returns the running counters.
func (c *Controller) Stats() Stats {
	return c.stats
}
