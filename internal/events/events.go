// Package events publishes saved feedback to the message bus so offline
// quality tooling can consume it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/aero-chat/internal/domain"
	"github.com/nats-io/nats.go"
)

// FeedbackSignal is the bus payload for one saved rating.
type FeedbackSignal struct {
	FeedbackID int64     `json:"feedback_id"`
	SessionID  string    `json:"session_id"`
	MessageID  string    `json:"message_id"`
	SectionID  string    `json:"section_id"`
	Scope      string    `json:"scope"`
	Polarity   string    `json:"feedback_type"`
	Comment    string    `json:"description,omitempty"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewFeedbackSignal builds the payload for rec.
func NewFeedbackSignal(rec domain.FeedbackRecord) FeedbackSignal {
	scope := "section"
	if rec.IsOverall() {
		scope = "overall"
	}
	return FeedbackSignal{
		FeedbackID: rec.ID,
		SessionID:  rec.SessionID,
		MessageID:  rec.MessageID,
		SectionID:  rec.SectionID,
		Scope:      scope,
		Polarity:   string(rec.Polarity),
		Comment:    rec.Comment,
		Content:    rec.Content,
		Timestamp:  rec.Timestamp,
	}
}

// Publisher sends feedback signals.
type Publisher interface {
	PublishFeedback(ctx context.Context, rec domain.FeedbackRecord) error
	Close()
}

// NopPublisher drops every signal. It is used when no bus is configured.
type NopPublisher struct{}

func (NopPublisher) PublishFeedback(context.Context, domain.FeedbackRecord) error { return nil }
func (NopPublisher) Close()                                                       {}

// NATSPublisher publishes signals on a core NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSPublisher connects to url. The connection retries in the
// background, so a bus that is down at startup does not block the server.
func NewNATSPublisher(url, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("aero-chat"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSPublisher{conn: nc, subject: subject, logger: logger}, nil
}

// PublishFeedback marshals rec and publishes it. Publishing is
// fire-and-forget; ctx is only checked before sending.
func (p *NATSPublisher) PublishFeedback(ctx context.Context, rec domain.FeedbackRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(NewFeedbackSignal(rec))
	if err != nil {
		return fmt.Errorf("marshal feedback signal: %w", err)
	}
	if err := p.conn.Publish(p.subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	return nil
}

// Close flushes pending signals and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("nats drain failed", "error", err)
		p.conn.Close()
	}
}
