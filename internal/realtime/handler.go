package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ashureev/aero-chat/internal/agent"
	"github.com/ashureev/aero-chat/internal/domain"
	"github.com/ashureev/aero-chat/internal/events"
	"github.com/ashureev/aero-chat/internal/export"
	"github.com/ashureev/aero-chat/internal/identity"
	"github.com/ashureev/aero-chat/internal/session"
	"github.com/ashureev/aero-chat/internal/store"
	"github.com/ashureev/aero-chat/internal/transport"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const writeTimeout = 10 * time.Second

// Handler serves the chat socket.
type Handler struct {
	repo          store.Repository
	responder     agent.Responder
	publisher     events.Publisher
	exporter      *export.Exporter
	hub           *Hub
	limiter       *RateLimiter
	allowedOrigin string
	isDev         bool
	log           *slog.Logger
}

// Options configures a Handler. Repo, Responder and Hub are required.
type Options struct {
	Repo          store.Repository
	Responder     agent.Responder
	Publisher     events.Publisher
	Exporter      *export.Exporter
	Hub           *Hub
	Limiter       *RateLimiter
	AllowedOrigin string
	IsDev         bool
	Logger        *slog.Logger
}

// NewHandler creates a socket handler.
func NewHandler(opts Options) *Handler {
	h := &Handler{
		repo:          opts.Repo,
		responder:     opts.Responder,
		publisher:     opts.Publisher,
		exporter:      opts.Exporter,
		hub:           opts.Hub,
		limiter:       opts.Limiter,
		allowedOrigin: opts.AllowedOrigin,
		isDev:         opts.IsDev,
		log:           opts.Logger,
	}
	if h.publisher == nil {
		h.publisher = events.NopPublisher{}
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	return h
}

// conn is one accepted socket. At most one reply generates at a time.
type conn struct {
	ws   *websocket.Conn
	busy atomic.Bool
	log  *slog.Logger
	// session is the hub key the socket is registered under. Only the
	// read loop touches it.
	session string
}

func (c *conn) send(ctx context.Context, event string, payload any) {
	env, err := transport.NewEnvelope(event, payload)
	if err != nil {
		c.log.Error("Failed to encode event", "event", event, "error", err)
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, c.ws, env); err != nil {
		c.log.Debug("WebSocket write error", "event", event, "error", err)
	}
}

func (c *conn) fail(ctx context.Context, messageID, code, text string) {
	c.send(ctx, transport.EventError, transport.ErrorPayload{
		Error:     text,
		MessageID: messageID,
		Code:      code,
	})
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromRequest(r)
	log := h.log.With("session_id", sessionID, "ip", identity.IPFromRequest(r))
	log.Info("WebSocket connection request")

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			log.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	c := &conn{ws: ws, log: log}
	if sessionID != "" {
		h.bind(c, sessionID)
	}
	defer func() {
		if c.session != "" {
			h.hub.Unregister(c.session, ws)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.readLoop(ctx, c)
	log.Info("Chat connection ended")
}

// bind registers the socket under sessionID. Widgets usually connect
// before their session is provisioned, so the first event naming a known
// session moves the socket onto it.
func (h *Handler) bind(c *conn, sessionID string) {
	if c.session == sessionID {
		return
	}
	if c.session != "" {
		h.hub.Unregister(c.session, c.ws)
	}
	if h.hub.Active(sessionID) != c.ws {
		h.hub.Register(sessionID, c.ws)
	}
	c.session = sessionID
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.log.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, c *conn) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				c.log.Debug("WebSocket closed by client")
			} else {
				c.log.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var env transport.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.fail(ctx, "", transport.CodeInvalid, "malformed frame")
			continue
		}

		switch env.Event {
		case transport.EventSendMessage:
			h.handleSend(ctx, c, env)
		case transport.EventFeedback, transport.EventSectionFeedback, transport.EventOverallFeedback:
			h.handleFeedback(ctx, c, env)
		case transport.EventExportPDF:
			h.handleExport(ctx, c, env)
		case transport.EventPing:
			c.send(ctx, transport.EventPong, nil)
		default:
			c.log.Warn("Unknown event", "event", env.Event)
			c.fail(ctx, "", transport.CodeInvalid, "unknown event "+env.Event)
		}
	}
}

// knownSession loads the session, marks it seen and binds the socket to
// it. It reports false after answering with a no_session error.
func (h *Handler) knownSession(ctx context.Context, c *conn, sessionID, messageID string) bool {
	if identity.Sanitize(sessionID) == "" {
		c.fail(ctx, messageID, transport.CodeNoSession, "session required")
		return false
	}
	s, err := h.repo.GetSession(ctx, sessionID)
	if err != nil {
		c.log.Error("Failed to load session", "error", err)
		c.fail(ctx, messageID, transport.CodeGeneration, "failed to load session")
		return false
	}
	if s == nil {
		c.fail(ctx, messageID, transport.CodeNoSession, "session not found")
		return false
	}
	if err := h.repo.TouchSession(ctx, sessionID, time.Now()); err != nil {
		c.log.Warn("Failed to touch session", "error", err)
	}
	h.bind(c, sessionID)
	return true
}

func (h *Handler) handleSend(ctx context.Context, c *conn, env transport.Envelope) {
	var req transport.SendMessage
	if err := env.Bind(&req); err != nil {
		c.fail(ctx, "", transport.CodeInvalid, err.Error())
		return
	}
	text := strings.TrimSpace(req.Message)
	if text == "" || req.MessageID == "" {
		c.fail(ctx, req.MessageID, transport.CodeInvalid, "message and message_id are required")
		return
	}
	if !h.knownSession(ctx, c, req.SessionID, req.MessageID) {
		return
	}
	if !h.limiter.Allow(req.SessionID) {
		c.fail(ctx, req.MessageID, transport.CodeRateLimited, "too many messages, slow down")
		return
	}
	if !c.busy.CompareAndSwap(false, true) {
		c.fail(ctx, req.MessageID, transport.CodeBusy, "a reply is already in progress")
		return
	}

	go func() {
		defer c.busy.Store(false)
		h.generate(ctx, c, req.SessionID, req.MessageID, text, req.Context)
	}()
}

func (h *Handler) generate(ctx context.Context, c *conn, sessionID, messageID, text string, turns []domain.Turn) {
	log := c.log.With("message_id", messageID)
	now := time.Now()

	if err := h.repo.AppendMessage(ctx, sessionID, domain.HistoryEntry{Role: domain.RoleUser, Content: text, Timestamp: now}); err != nil {
		log.Warn("Failed to store user message", "error", err)
	}
	c.send(ctx, transport.EventMessageReceived, transport.MessageReceived{
		MessageID: messageID,
		Timestamp: now.UTC().Format(time.RFC3339),
	})

	docs, err := h.repo.ListDocuments(ctx)
	if err != nil {
		log.Warn("Failed to list documents", "error", err)
	}
	if len(turns) > session.ContextTurns {
		turns = turns[len(turns)-session.ContextTurns:]
	}

	var full strings.Builder
	documentsUsed := 0
	for chunk, err := range h.responder.Chat(ctx, agent.ChatRequest{
		Message:   text,
		SessionID: sessionID,
		Context:   turns,
		Documents: docs,
	}) {
		if err != nil {
			log.Error("Generation failed", "error", err)
			c.fail(ctx, messageID, transport.CodeGeneration, err.Error())
			return
		}
		if chunk.DocumentsUsed > documentsUsed {
			documentsUsed = chunk.DocumentsUsed
		}
		if chunk.Chunk == "" {
			continue
		}
		full.WriteString(chunk.Chunk)
		c.send(ctx, transport.EventResponseChunk, transport.ResponseChunk{MessageID: messageID, Chunk: chunk.Chunk})
	}

	reply := full.String()
	if err := h.repo.AppendMessage(ctx, sessionID, domain.HistoryEntry{Role: domain.RoleAssistant, Content: reply, Timestamp: time.Now()}); err != nil {
		log.Warn("Failed to store assistant message", "error", err)
	}
	c.send(ctx, transport.EventResponseComplete, transport.ResponseComplete{
		MessageID:     messageID,
		FullResponse:  reply,
		DocumentsUsed: documentsUsed,
	})
	log.Info("Reply complete", "chars", len(reply), "documents_used", documentsUsed)
}

func (h *Handler) handleFeedback(ctx context.Context, c *conn, env transport.Envelope) {
	var f transport.Feedback
	if err := env.Bind(&f); err != nil {
		c.fail(ctx, "", transport.CodeInvalid, err.Error())
		return
	}
	rec, err := f.Record(time.Now())
	if err != nil {
		c.fail(ctx, f.MessageID, transport.CodeInvalid, err.Error())
		return
	}
	if env.Event == transport.EventOverallFeedback {
		rec.SectionID = domain.OverallSection
	}
	if !h.knownSession(ctx, c, rec.SessionID, rec.MessageID) {
		return
	}

	if err := store.RecordFeedback(ctx, h.repo, h.publisher, &rec); err != nil {
		c.log.Error("Failed to save feedback", "message_id", rec.MessageID, "error", err)
		c.fail(ctx, rec.MessageID, transport.CodeFeedback, "failed to save feedback")
		return
	}
	c.send(ctx, transport.EventFeedbackSaved, transport.FeedbackSaved{FeedbackType: string(rec.Polarity)})
}

func (h *Handler) handleExport(ctx context.Context, c *conn, env transport.Envelope) {
	var req transport.ExportPDF
	if err := env.Bind(&req); err != nil {
		c.fail(ctx, "", transport.CodeInvalid, err.Error())
		return
	}
	if h.exporter == nil {
		c.fail(ctx, req.MessageID, transport.CodeExport, "export is disabled")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.fail(ctx, req.MessageID, transport.CodeExport, "nothing to export")
		return
	}

	name, err := h.exporter.Export(req.SessionID, req.MessageID, req.Content)
	if err != nil {
		c.log.Error("Export failed", "message_id", req.MessageID, "error", err)
		c.fail(ctx, req.MessageID, transport.CodeExport, "export failed")
		return
	}
	c.send(ctx, transport.EventExportReady, transport.ExportReady{MessageID: req.MessageID, Path: "/exports/" + name})
}
