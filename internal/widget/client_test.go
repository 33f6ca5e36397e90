package widget

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/aero-chat/internal/domain"
	"github.com/ashureev/aero-chat/internal/feedback"
	"github.com/ashureev/aero-chat/internal/session"
	"github.com/ashureev/aero-chat/internal/stream"
	"github.com/ashureev/aero-chat/internal/transport"
)

type emitted struct {
	event   string
	payload any
}

type fakeTransport struct {
	mu    sync.Mutex
	sent  []emitted
	err   error
	notes chan emitted
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{notes: make(chan emitted, 16)}
}

func (f *fakeTransport) Emit(_ context.Context, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	e := emitted{event: event, payload: payload}
	f.sent = append(f.sent, e)
	f.notes <- e
	return nil
}

func (f *fakeTransport) next(t *testing.T) emitted {
	t.Helper()
	select {
	case e := <-f.notes:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for emit")
		return emitted{}
	}
}

type fakeView struct {
	connected bool
	users     map[string]string
	final     map[string]string
	errors    map[string]string
	rated     map[string]domain.Polarity
	toasts    map[int]string
	alerts    []string
}

func newFakeView() *fakeView {
	return &fakeView{
		users:  make(map[string]string),
		final:  make(map[string]string),
		errors: make(map[string]string),
		rated:  make(map[string]domain.Polarity),
		toasts: make(map[int]string),
	}
}

func (v *fakeView) ShowPlaceholder(string)                        {}
func (v *fakeView) ShowStreaming(string, string)                  {}
func (v *fakeView) ShowFinal(id, html string, _ []domain.Section) { v.final[id] = html }
func (v *fakeView) ShowError(id, text string)                     { v.errors[id] = text }
func (v *fakeView) SetConnected(connected bool)                   { v.connected = connected }
func (v *fakeView) ShowUserMessage(id, text string)               { v.users[id] = text }
func (v *fakeView) MarkRated(id string, p domain.Polarity)        { v.rated[id] = p }
func (v *fakeView) ShowToast(id int, text string)                 { v.toasts[id] = text }
func (v *fakeView) DismissToast(id int)                           { delete(v.toasts, id) }
func (v *fakeView) Alert(text string)                             { v.alerts = append(v.alerts, text) }

type fakeProvisioner struct {
	mu    sync.Mutex
	calls int
}

func (p *fakeProvisioner) ProvisionSession(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return "srv-session", nil
}

func (p *fakeProvisioner) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type harness struct {
	client    *Client
	transport *fakeTransport
	view      *fakeView
	prov      *fakeProvisioner
	timers    []func()
}

func newHarness(t *testing.T, sessionID string) *harness {
	t.Helper()
	h := &harness{transport: newFakeTransport(), view: newFakeView(), prov: &fakeProvisioner{}}
	h.client = New(Options{
		Transport:   h.transport,
		View:        h.view,
		Provisioner: h.prov,
		SessionID:   sessionID,
		After:       func(_ time.Duration, f func()) { h.timers = append(h.timers, f) },
	})
	return h
}

func (h *harness) event(t *testing.T, name string, payload any) {
	t.Helper()
	env, err := transport.NewEnvelope(name, payload)
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	h.client.HandleEvent(context.Background(), env)
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	h.event(t, transport.EventConnect, nil)
}

func TestConversationRoundTrip(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "sess-1")
	h.connect(t)
	if !h.view.connected {
		t.Fatal("expected view to show connected")
	}

	ctx := context.Background()
	id, err := h.client.SendMessage(ctx, "  What is stall speed?  ")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if h.view.users[id] != "What is stall speed?" {
		t.Fatalf("expected trimmed user message, got %q", h.view.users[id])
	}

	sent := h.transport.next(t)
	msg, ok := sent.payload.(transport.SendMessage)
	if sent.event != transport.EventSendMessage || !ok {
		t.Fatalf("expected send_message, got %s", sent.event)
	}
	if msg.SessionID != "sess-1" || msg.MessageID != id || len(msg.Context) != 0 {
		t.Fatalf("unexpected payload: %+v", msg)
	}

	if _, err := h.client.SendMessage(ctx, "again"); !errors.Is(err, stream.ErrBusy) {
		t.Fatalf("expected ErrBusy while streaming, got %v", err)
	}

	h.event(t, transport.EventResponseChunk, transport.ResponseChunk{MessageID: id, Chunk: "Stall speed is "})
	h.event(t, transport.EventResponseChunk, transport.ResponseChunk{MessageID: id, Chunk: "**slow**."})
	h.event(t, transport.EventResponseComplete, transport.ResponseComplete{MessageID: id, FullResponse: "Stall speed is **slow**.", DocumentsUsed: 2})
	h.event(t, transport.EventResponseComplete, transport.ResponseComplete{MessageID: id, FullResponse: "Stall speed is **slow**."})

	if h.client.MessageState(id) != stream.StateComplete {
		t.Fatalf("expected complete, got %s", h.client.MessageState(id))
	}
	if !strings.Contains(h.view.final[id], "<strong>slow</strong>") {
		t.Fatalf("expected rendered markdown, got %q", h.view.final[id])
	}
	if got := h.client.Stats(); got.Responses != 1 || got.Documents != 2 {
		t.Fatalf("unexpected stats: %+v", got)
	}

	next, err := h.client.SendMessage(ctx, "And flaps?")
	if err != nil {
		t.Fatalf("second SendMessage failed: %v", err)
	}
	second := h.transport.next(t).payload.(transport.SendMessage)
	if second.MessageID != next || len(second.Context) != 2 {
		t.Fatalf("expected two turns of context, got %+v", second.Context)
	}
	if second.Context[0].Role != domain.RoleUser || second.Context[1].Role != domain.RoleAssistant {
		t.Fatalf("unexpected context roles: %+v", second.Context)
	}
}

func TestSendRequiresConnection(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "sess-1")
	if _, err := h.client.SendMessage(context.Background(), "hello"); !errors.Is(err, session.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if len(h.view.alerts) != 1 {
		t.Fatalf("expected one alert, got %v", h.view.alerts)
	}
	if _, err := h.client.SendMessage(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestSendProvisionsMissingSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "")
	h.connect(t)

	if _, err := h.client.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	msg := h.transport.next(t).payload.(transport.SendMessage)
	if msg.SessionID != "srv-session" || h.prov.count() != 1 {
		t.Fatalf("expected provisioned session, got %q after %d calls", msg.SessionID, h.prov.count())
	}
	if h.client.Session() != "srv-session" {
		t.Fatalf("expected session to be kept, got %q", h.client.Session())
	}
}

func TestServerNoSessionRetriesOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "stale")
	h.connect(t)

	id, err := h.client.SendMessage(context.Background(), "hello")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	h.transport.next(t)

	h.event(t, transport.EventError, transport.ErrorPayload{MessageID: id, Code: transport.CodeNoSession, Error: "session not found"})
	retry := h.transport.next(t).payload.(transport.SendMessage)
	if retry.MessageID != id || retry.SessionID != "srv-session" {
		t.Fatalf("unexpected retry payload: %+v", retry)
	}
	if h.client.MessageState(id) != stream.StateAwaitingFirstChunk {
		t.Fatalf("expected message to keep waiting, got %s", h.client.MessageState(id))
	}

	h.event(t, transport.EventError, transport.ErrorPayload{MessageID: id, Code: transport.CodeNoSession, Error: "session not found"})
	if h.client.MessageState(id) != stream.StateErrored {
		t.Fatalf("expected errored after second no_session, got %s", h.client.MessageState(id))
	}
	if h.view.errors[id] != "An error occurred: session not found" {
		t.Fatalf("unexpected error text: %q", h.view.errors[id])
	}
}

func TestDisconnectKeepsStreaming(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "sess-1")
	h.connect(t)
	id, err := h.client.SendMessage(context.Background(), "hello")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	h.event(t, transport.EventResponseChunk, transport.ResponseChunk{MessageID: id, Chunk: "Hi"})
	h.event(t, transport.EventDisconnect, nil)

	if h.view.connected || h.client.Connected() {
		t.Fatal("expected disconnected status")
	}
	if h.client.MessageState(id) != stream.StateStreaming {
		t.Fatalf("expected streaming to survive disconnect, got %s", h.client.MessageState(id))
	}

	h.connect(t)
	h.event(t, transport.EventResponseComplete, transport.ResponseComplete{MessageID: id})
	if h.client.MessageState(id) != stream.StateComplete {
		t.Fatalf("expected completion after reconnect, got %s", h.client.MessageState(id))
	}
}

func TestErrorWithoutMessageAlerts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "sess-1")
	h.connect(t)
	h.event(t, transport.EventError, transport.ErrorPayload{Message: "rate limited", Code: transport.CodeRateLimited})
	if len(h.view.alerts) != 1 || h.view.alerts[0] != "rate limited" {
		t.Fatalf("expected alert, got %v", h.view.alerts)
	}
}

func TestRateSectionEmitsAndToasts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "sess-1")
	h.connect(t)
	ctx := context.Background()
	id, err := h.client.SendMessage(ctx, "hello")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	h.transport.next(t)
	h.event(t, transport.EventResponseComplete, transport.ResponseComplete{MessageID: id, FullResponse: "# Title\n\nBody text"})

	sections := h.client.Sections(id)
	if len(sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(sections))
	}

	rec, err := h.client.Rate(ctx, sections[1].ID, domain.PolarityNegative, "too short")
	if err != nil {
		t.Fatalf("Rate failed: %v", err)
	}
	if rec.SessionID != "sess-1" || rec.Content != "Body text" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	sent := h.transport.next(t)
	fb := sent.payload.(transport.Feedback)
	if sent.event != transport.EventSectionFeedback || fb.SectionID != sections[1].ID || fb.FeedbackType != "negative" {
		t.Fatalf("unexpected feedback emit %s: %+v", sent.event, fb)
	}
	if h.view.rated[sections[1].ID] != domain.PolarityNegative {
		t.Fatal("expected affordance to be marked rated")
	}
	if len(h.view.toasts) != 1 || len(h.timers) != 1 {
		t.Fatalf("expected one scheduled toast, got %v", h.view.toasts)
	}
	for _, text := range h.view.toasts {
		if text != feedback.ToastText(domain.PolarityNegative) {
			t.Fatalf("unexpected toast %q", text)
		}
	}

	h.timers[0]()
	if len(h.view.toasts) != 0 {
		t.Fatal("expected toast to be dismissed")
	}

	overall, err := h.client.Rate(ctx, feedback.OverallID(id), domain.PolarityPositive, "")
	if err != nil {
		t.Fatalf("overall Rate failed: %v", err)
	}
	if !overall.IsOverall() || h.transport.next(t).event != transport.EventOverallFeedback {
		t.Fatalf("expected overall feedback, got %+v", overall)
	}
}

func TestSubmitWithoutPolarityKeepsForm(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "sess-1")
	h.connect(t)
	ctx := context.Background()
	id, _ := h.client.SendMessage(ctx, "hello")
	h.transport.next(t)
	h.event(t, transport.EventResponseComplete, transport.ResponseComplete{MessageID: id, FullResponse: "Answer"})

	if _, err := h.client.OpenFeedback(feedback.SectionID(id, 0)); err != nil {
		t.Fatalf("OpenFeedback failed: %v", err)
	}
	if _, err := h.client.SubmitFeedback(ctx); !errors.Is(err, feedback.ErrNoPolarity) {
		t.Fatalf("expected ErrNoPolarity, got %v", err)
	}
	if err := h.client.ChoosePolarity(domain.PolarityPositive); err != nil {
		t.Fatalf("ChoosePolarity failed: %v", err)
	}
	if _, err := h.client.SubmitFeedback(ctx); err != nil {
		t.Fatalf("SubmitFeedback failed: %v", err)
	}
}

func TestExportRequiresCompletedMessage(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "sess-1")
	h.connect(t)
	ctx := context.Background()
	id, _ := h.client.SendMessage(ctx, "hello")
	h.transport.next(t)

	if err := h.client.ExportPDF(ctx, id); !errors.Is(err, ErrNotComplete) {
		t.Fatalf("expected ErrNotComplete, got %v", err)
	}

	h.event(t, transport.EventResponseComplete, transport.ResponseComplete{MessageID: id, FullResponse: "Answer"})
	if err := h.client.ExportPDF(ctx, id); err != nil {
		t.Fatalf("ExportPDF failed: %v", err)
	}
	sent := h.transport.next(t)
	if sent.event != transport.EventExportPDF || sent.payload.(transport.ExportPDF).Content != "Answer" {
		t.Fatalf("unexpected export emit: %+v", sent)
	}

	h.event(t, transport.EventExportReady, transport.ExportReady{MessageID: id, Path: "/exports/a.html"})
	if len(h.view.toasts) != 1 {
		t.Fatal("expected export toast")
	}
}

func TestEmitFailureFailsMessage(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "sess-1")
	h.connect(t)
	h.transport.err = errors.New("socket closed")

	id, err := h.client.SendMessage(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected emit error")
	}
	if h.client.MessageState(id) != stream.StateErrored {
		t.Fatalf("expected errored, got %s", h.client.MessageState(id))
	}
	if _, err := h.client.SendMessage(context.Background(), "retry"); errors.Is(err, stream.ErrBusy) {
		t.Fatal("expected slot to be released after emit failure")
	}
}

func (f *fakeTransport) quiet(t *testing.T) {
	t.Helper()
	select {
	case e := <-f.notes:
		t.Fatalf("unexpected emit %s: %+v", e.event, e.payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnrelatedErrorsLeaveStreamingReply(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "sess-1")
	h.connect(t)
	ctx := context.Background()

	first, err := h.client.SendMessage(ctx, "q1")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	h.transport.next(t)
	h.event(t, transport.EventResponseComplete, transport.ResponseComplete{MessageID: first, FullResponse: "Answer one"})

	if _, err := h.client.Rate(ctx, feedback.SectionID(first, 0), domain.PolarityPositive, ""); err != nil {
		t.Fatalf("Rate failed: %v", err)
	}
	h.transport.next(t)

	second, err := h.client.SendMessage(ctx, "q2")
	if err != nil {
		t.Fatalf("second SendMessage failed: %v", err)
	}
	h.transport.next(t)

	tests := []struct {
		name string
		p    transport.ErrorPayload
	}{
		{"uncoded without id", transport.ErrorPayload{Error: "failed to save feedback"}},
		{"feedback failure naming the rated message", transport.ErrorPayload{Error: "failed to save feedback", MessageID: first, Code: transport.CodeFeedback}},
		{"no_session without id", transport.ErrorPayload{Error: "session not found", Code: transport.CodeNoSession}},
		{"no_session naming a finished message", transport.ErrorPayload{Error: "session not found", MessageID: first, Code: transport.CodeNoSession}},
		{"export failure", transport.ErrorPayload{Error: "export failed", MessageID: first, Code: transport.CodeExport}},
	}
	for i, tt := range tests {
		h.event(t, transport.EventError, tt.p)
		if got := h.client.MessageState(second); got != stream.StateAwaitingFirstChunk {
			t.Fatalf("%s: streaming reply moved to %s", tt.name, got)
		}
		if len(h.view.alerts) != i+1 || h.view.alerts[i] != tt.p.Text() {
			t.Fatalf("%s: expected an alert, got %v", tt.name, h.view.alerts)
		}
	}
	h.transport.quiet(t)

	if _, ok := h.view.errors[second]; ok {
		t.Fatalf("streaming reply shows an error: %q", h.view.errors[second])
	}
	if h.client.Session() != "sess-1" {
		t.Fatalf("session must survive unrelated errors, got %q", h.client.Session())
	}
	if h.prov.count() != 0 {
		t.Fatal("unrelated no_session must not provision")
	}

	h.event(t, transport.EventResponseComplete, transport.ResponseComplete{MessageID: second, FullResponse: "Answer two"})
	if h.client.MessageState(second) != stream.StateComplete {
		t.Fatalf("expected second reply to complete, got %s", h.client.MessageState(second))
	}
}

func TestGenerationErrorWithoutIDFailsActiveReply(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "sess-1")
	h.connect(t)
	id, err := h.client.SendMessage(context.Background(), "hello")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	h.transport.next(t)

	h.event(t, transport.EventError, transport.ErrorPayload{Error: "model offline", Code: transport.CodeGeneration})
	if h.client.MessageState(id) != stream.StateErrored {
		t.Fatalf("expected errored, got %s", h.client.MessageState(id))
	}
	if h.view.errors[id] != "An error occurred: model offline" || len(h.view.alerts) != 0 {
		t.Fatalf("unexpected error display: %q alerts=%v", h.view.errors[id], h.view.alerts)
	}
}
