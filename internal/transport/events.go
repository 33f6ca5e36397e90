// Package transport defines the socket event contract shared by the chat
// client and server, and a reconnecting websocket client that carries it.
package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashureev/aero-chat/internal/domain"
)

// Event names.
const (
	EventConnect          = "connect"
	EventDisconnect       = "disconnect"
	EventResponseChunk    = "response_chunk"
	EventResponseComplete = "response_complete"
	EventError            = "error"
	EventFeedbackSaved    = "feedback_saved"
	EventMessageReceived  = "message_received"
	EventExportReady      = "export_ready"
	EventPong             = "pong"

	EventSendMessage     = "send_message"
	EventFeedback        = "feedback"
	EventSectionFeedback = "section_feedback"
	EventOverallFeedback = "overall_feedback"
	EventExportPDF       = "export_pdf"
	EventPing            = "ping"
)

// Error codes carried in ErrorPayload.Code.
const (
	CodeNoSession   = "no_session"
	CodeRateLimited = "rate_limited"
	CodeBusy        = "busy"
	CodeInvalid     = "invalid_request"
	CodeGeneration  = "generation_failed"
	CodeFeedback    = "feedback_failed"
	CodeExport      = "export_failed"
)

// Envelope is one frame on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope. A nil payload leaves
// Data empty.
func NewEnvelope(event string, payload any) (Envelope, error) {
	env := Envelope{Event: event}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	env.Data = data
	return env, nil
}

// Bind decodes the envelope payload into v.
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Event, err)
	}
	return nil
}

type ResponseChunk struct {
	MessageID string `json:"message_id"`
	Chunk     string `json:"chunk"`
}

type ResponseComplete struct {
	MessageID     string `json:"message_id"`
	FullResponse  string `json:"full_response"`
	DocumentsUsed int    `json:"documents_used,omitempty"`
}

// ErrorPayload carries either "error" or "message", depending on sender.
type ErrorPayload struct {
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Code      string `json:"code,omitempty"`
}

// Text returns whichever description field is set.
func (p ErrorPayload) Text() string {
	if p.Error != "" {
		return p.Error
	}
	if p.Message != "" {
		return p.Message
	}
	return "unknown error"
}

type FeedbackSaved struct {
	FeedbackType string `json:"feedback_type"`
}

type MessageReceived struct {
	MessageID string `json:"message_id"`
	Timestamp string `json:"timestamp"`
}

type ExportReady struct {
	MessageID string `json:"message_id"`
	Path      string `json:"path"`
}

type SendMessage struct {
	Message   string        `json:"message"`
	SessionID string        `json:"session_id"`
	MessageID string        `json:"message_id"`
	Context   []domain.Turn `json:"context"`
}

// Feedback is the payload of feedback, section_feedback and
// overall_feedback.
type Feedback struct {
	SessionID    string `json:"session_id"`
	MessageID    string `json:"message_id"`
	SectionID    string `json:"section_id,omitempty"`
	FeedbackType string `json:"feedback_type"`
	Content      string `json:"content"`
	Description  string `json:"description,omitempty"`
	Timestamp    string `json:"timestamp"`
}

type ExportPDF struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

// FeedbackEvent picks the outbound event name for a record.
func FeedbackEvent(rec domain.FeedbackRecord) string {
	if rec.IsOverall() {
		return EventOverallFeedback
	}
	return EventSectionFeedback
}

// FeedbackFromRecord converts a record to its wire payload.
func FeedbackFromRecord(rec domain.FeedbackRecord) Feedback {
	f := Feedback{
		SessionID:    rec.SessionID,
		MessageID:    rec.MessageID,
		FeedbackType: string(rec.Polarity),
		Content:      rec.Content,
		Description:  rec.Comment,
		Timestamp:    rec.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if !rec.IsOverall() {
		f.SectionID = rec.SectionID
	}
	return f
}

// Record converts a wire payload back to a record. A missing or malformed
// timestamp is replaced by now.
func (f Feedback) Record(now time.Time) (domain.FeedbackRecord, error) {
	p, err := domain.ParsePolarity(f.FeedbackType)
	if err != nil {
		return domain.FeedbackRecord{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, f.Timestamp)
	if err != nil {
		ts = now
	}
	section := f.SectionID
	if section == "" {
		section = domain.OverallSection
	}
	return domain.FeedbackRecord{
		SessionID: f.SessionID,
		MessageID: f.MessageID,
		SectionID: section,
		Polarity:  p,
		Comment:   f.Description,
		Content:   f.Content,
		Timestamp: ts.UTC(),
	}, nil
}
