// Package widget binds the chat core together: it routes transport events
// to the session state, the stream controller and the feedback tracker, and
// exposes the user actions a front end needs.
package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/aero-chat/internal/domain"
	"github.com/ashureev/aero-chat/internal/feedback"
	"github.com/ashureev/aero-chat/internal/markdown"
	"github.com/ashureev/aero-chat/internal/session"
	"github.com/ashureev/aero-chat/internal/stream"
	"github.com/ashureev/aero-chat/internal/transport"
)

var (
	ErrEmptyMessage = errors.New("widget: message is empty")
	ErrNotComplete  = errors.New("widget: message is not complete")
)

// Transport emits outbound events.
type Transport interface {
	Emit(ctx context.Context, event string, payload any) error
}

// View is everything the widget draws. Calls are serialized by the
// Client, including delayed toast dismissals.
type View interface {
	stream.View
	SetConnected(connected bool)
	ShowUserMessage(messageID, text string)
	MarkRated(affordanceID string, p domain.Polarity)
	ShowToast(id int, text string)
	DismissToast(id int)
	// Alert shows an error that is not tied to a message.
	Alert(text string)
}

// Options configures a Client. Transport and View are required.
type Options struct {
	Transport   Transport
	View        View
	Provisioner session.Provisioner
	Renderer    stream.Renderer
	Logger      *slog.Logger
	// SessionID restores an existing session.
	SessionID string
	// After schedules delayed work; defaults to time.AfterFunc.
	After func(d time.Duration, f func())
}

type outbound struct {
	text    string
	context []domain.Turn
	retried bool
}

// Client is safe for concurrent use. Inbound events and user actions are
// serialized by one mutex; message sends and session provisioning run
// outside it.
type Client struct {
	mu        sync.Mutex
	state     *session.State
	stream    *stream.Controller
	tracker   *feedback.Tracker
	transport Transport
	view      View
	log       *slog.Logger
	after     func(time.Duration, func())
	toastSeq  int
	pending   map[string]*outbound
}

// New builds a Client and its components.
func New(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	renderer := opts.Renderer
	if renderer == nil {
		renderer = markdown.NewRenderer()
	}
	after := opts.After
	if after == nil {
		after = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}

	c := &Client{
		state:     session.NewState(opts.Provisioner, log),
		transport: opts.Transport,
		view:      opts.View,
		log:       log,
		after:     after,
		pending:   make(map[string]*outbound),
	}
	if opts.SessionID != "" {
		c.state.SetSession(opts.SessionID)
	}
	c.tracker = feedback.NewTracker(feedbackSender{c}, trackerUI{c}, c.state.CurrentSession, feedback.WithLogger(log))
	c.stream = stream.NewController(renderer, c.tracker, opts.View, log)
	return c
}

// HandleEvent applies one inbound event. It is the transport.Handler of
// the socket client.
func (c *Client) HandleEvent(ctx context.Context, env transport.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch env.Event {
	case transport.EventConnect:
		c.state.OnConnect()
		c.view.SetConnected(true)

	case transport.EventDisconnect:
		// An in-flight message keeps streaming if the transport resumes.
		c.state.OnDisconnect()
		c.view.SetConnected(false)

	case transport.EventResponseChunk:
		var p transport.ResponseChunk
		if c.bind(env, &p) {
			_ = c.stream.AppendChunk(p.MessageID, p.Chunk)
		}

	case transport.EventResponseComplete:
		var p transport.ResponseComplete
		if !c.bind(env, &p) {
			return
		}
		already := c.stream.State(p.MessageID) == stream.StateComplete
		if err := c.stream.Finalize(p.MessageID, p.FullResponse, p.DocumentsUsed); err == nil && !already {
			delete(c.pending, p.MessageID)
			c.state.RecordTurn(domain.RoleAssistant, c.stream.Text(p.MessageID))
		}

	case transport.EventError:
		var p transport.ErrorPayload
		if !c.bind(env, &p) {
			return
		}
		c.handleError(ctx, p)

	case transport.EventFeedbackSaved:
		var p transport.FeedbackSaved
		if c.bind(env, &p) {
			c.toast("Feedback saved ("+p.FeedbackType+")", feedback.ToastDuration)
		}

	case transport.EventExportReady:
		var p transport.ExportReady
		if c.bind(env, &p) {
			c.toast("Report ready: "+p.Path, feedback.ToastDuration)
		}

	case transport.EventMessageReceived, transport.EventPong:
		c.log.Debug("Server acknowledgement", "event", env.Event)

	default:
		c.log.Warn("Ignoring unknown event", "event", env.Event)
	}
}

func (c *Client) bind(env transport.Envelope, v any) bool {
	if err := env.Bind(v); err != nil {
		c.log.Warn("Dropping malformed event", "event", env.Event, "error", err)
		return false
	}
	return true
}

// handleError fails the affected message. Only generation errors without
// a message id fall back to the streaming message; anything else unnamed
// is shown as an alert. A server-reported missing session for a pending
// send is recovered once by provisioning and re-sending.
func (c *Client) handleError(ctx context.Context, p transport.ErrorPayload) {
	id := p.MessageID
	if id == "" && generationError(p.Code) {
		id = c.stream.Active()
	}
	if id == "" {
		c.view.Alert(p.Text())
		return
	}

	if p.Code == transport.CodeNoSession && p.MessageID != "" {
		if out, ok := c.pending[p.MessageID]; ok && !out.retried {
			out.retried = true
			c.state.SetSession(session.NoSession)
			c.log.Info("Server lost the session, re-sending once", "message_id", id)
			go c.resend(ctx, id, out)
			return
		}
	}

	delete(c.pending, id)
	if c.stream.Fail(id, p.Text()) != nil {
		c.view.Alert(p.Text())
	}
}

func generationError(code string) bool {
	switch code {
	case transport.CodeGeneration, transport.CodeBusy, transport.CodeRateLimited:
		return true
	}
	return false
}

func (c *Client) resend(ctx context.Context, id string, out *outbound) {
	if err := c.emitMessage(ctx, id, out); err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.pending, id)
		_ = c.stream.Fail(id, err.Error())
	}
}

// SendMessage shows the user's message, opens the assistant placeholder
// and emits send_message. It returns the new message id.
func (c *Client) SendMessage(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}

	c.mu.Lock()
	if active := c.stream.Active(); active != "" {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %s", stream.ErrBusy, active)
	}
	if !c.state.Connected() {
		c.view.Alert("Not connected to the server.")
		c.mu.Unlock()
		return "", session.ErrNotConnected
	}

	id := c.state.NextMessageID()
	out := &outbound{text: text, context: c.state.Context()}
	c.state.RecordTurn(domain.RoleUser, text)
	c.view.ShowUserMessage(id, text)
	if err := c.stream.Begin(id); err != nil {
		c.mu.Unlock()
		return "", err
	}
	c.pending[id] = out
	c.mu.Unlock()

	if err := c.emitMessage(ctx, id, out); err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.pending, id)
		_ = c.stream.Fail(id, err.Error())
		return id, err
	}
	return id, nil
}

func (c *Client) emitMessage(ctx context.Context, id string, out *outbound) error {
	return c.state.Do(ctx, func(sid string) error {
		return c.transport.Emit(ctx, transport.EventSendMessage, transport.SendMessage{
			Message:   out.text,
			SessionID: sid,
			MessageID: id,
			Context:   out.context,
		})
	})
}

// ExportPDF asks the server for a report of a completed message.
func (c *Client) ExportPDF(ctx context.Context, messageID string) error {
	c.mu.Lock()
	if c.stream.State(messageID) != stream.StateComplete {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotComplete, messageID)
	}
	content := c.stream.Text(messageID)
	c.mu.Unlock()

	return c.state.Do(ctx, func(sid string) error {
		return c.transport.Emit(ctx, transport.EventExportPDF, transport.ExportPDF{
			SessionID: sid,
			MessageID: messageID,
			Content:   content,
		})
	})
}

// OpenFeedback opens the rating form for a section or overall affordance.
func (c *Client) OpenFeedback(affordanceID string) (feedback.Form, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.OpenForm(affordanceID)
}

// ChoosePolarity sets the rating direction on the open form.
func (c *Client) ChoosePolarity(p domain.Polarity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.SetPolarity(p)
}

// SetComment sets the optional comment on the open form.
func (c *Client) SetComment(comment string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.SetComment(comment)
}

// CancelFeedback discards the open form.
func (c *Client) CancelFeedback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracker.Cancel()
}

// SubmitFeedback sends the open form.
func (c *Client) SubmitFeedback(ctx context.Context) (domain.FeedbackRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracker.Submit(ctx)
}

// Rate opens, fills and submits a form in one step.
func (c *Client) Rate(ctx context.Context, affordanceID string, p domain.Polarity, comment string) (domain.FeedbackRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.tracker.OpenForm(affordanceID); err != nil {
		return domain.FeedbackRecord{}, err
	}
	if p.Valid() {
		if err := c.tracker.SetPolarity(p); err != nil {
			return domain.FeedbackRecord{}, err
		}
	}
	if err := c.tracker.SetComment(comment); err != nil {
		return domain.FeedbackRecord{}, err
	}
	return c.tracker.Submit(ctx)
}

// Session returns the active session id, or session.NoSession.
func (c *Client) Session() string {
	return c.state.CurrentSession()
}

// EnsureSession provisions a session if none is active.
func (c *Client) EnsureSession(ctx context.Context) (string, error) {
	return c.state.Ensure(ctx)
}

// ResetContext forgets the local conversation context.
func (c *Client) ResetContext() {
	c.state.ResetContext()
}

// Connected reports the connection status.
func (c *Client) Connected() bool {
	return c.state.Connected()
}

// Stats returns the response counters.
func (c *Client) Stats() stream.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream.Stats()
}

// MessageState returns the render state of an assistant message.
func (c *Client) MessageState(messageID string) stream.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream.State(messageID)
}

// Sections returns the sections of a completed message.
func (c *Client) Sections(messageID string) []domain.Section {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream.Sections(messageID)
}

// toast must be called with c.mu held.
func (c *Client) toast(text string, d time.Duration) {
	c.toastSeq++
	id := c.toastSeq
	c.view.ShowToast(id, text)
	c.after(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.view.DismissToast(id)
	})
}

type feedbackSender struct{ c *Client }

func (s feedbackSender) SendFeedback(ctx context.Context, rec domain.FeedbackRecord) error {
	return s.c.state.Do(ctx, func(sid string) error {
		rec.SessionID = sid
		return s.c.transport.Emit(ctx, transport.FeedbackEvent(rec), transport.FeedbackFromRecord(rec))
	})
}

type trackerUI struct{ c *Client }

func (u trackerUI) MarkRated(id string, p domain.Polarity) { u.c.view.MarkRated(id, p) }
func (u trackerUI) ShowToast(text string, d time.Duration) { u.c.toast(text, d) }
func (u trackerUI) Alert(text string)                      { u.c.view.Alert(text) }
