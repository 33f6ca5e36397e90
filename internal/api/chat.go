package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/aero-chat/internal/domain"
	"github.com/ashureev/aero-chat/internal/identity"
	"github.com/ashureev/aero-chat/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

var pdfMagic = []byte("%PDF-")

// RegisterRoutes registers the chat API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", h.CreateSession)
		r.Get("/documents", h.ListDocuments)
		r.Post("/documents", h.UploadDocument)
		r.Get("/history", h.GetHistory)
		r.Delete("/history", h.ClearHistory)
		r.Get("/feedback", h.ListFeedback)
		r.Post("/feedback", h.SubmitFeedback)
	})
	r.Get("/exports/{name}", h.GetExport)
}

// CreateSession provisions a new chat session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	session := &domain.Session{ID: uuid.NewString(), CreatedAt: now, LastSeenAt: now}
	if err := h.repo.CreateSession(r.Context(), session); err != nil {
		slog.Error("Failed to create session", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	slog.Info("Session created", "session_id", session.ID)
	JSON(w, http.StatusCreated, session)
}

// ListDocuments returns the document library, newest first.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.repo.ListDocuments(r.Context())
	if err != nil {
		slog.Error("Failed to list documents", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	JSON(w, http.StatusOK, docs)
}

// UploadDocument stores a PDF under a unique name and records it.
func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		Error(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	name := filepath.Base(strings.ReplaceAll(header.Filename, "\\", "/"))
	if name == "." || name == "/" || !strings.EqualFold(filepath.Ext(name), ".pdf") {
		Error(w, http.StatusBadRequest, "only PDF files are accepted")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		Error(w, http.StatusBadRequest, "failed to read file")
		return
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		Error(w, http.StatusBadRequest, "only PDF files are accepted")
		return
	}

	doc := domain.Document{
		Name:       name,
		StoredName: uuid.NewString() + "_" + name,
		Size:       int64(len(data)),
		UploadedAt: time.Now(),
	}
	if err := h.writeUpload(doc.StoredName, data); err != nil {
		slog.Error("Failed to store upload", "error", err, "name", name)
		Error(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	if err := h.repo.AddDocument(r.Context(), doc); err != nil {
		slog.Error("Failed to record document", "error", err, "name", name)
		_ = os.Remove(filepath.Join(h.uploadDir, doc.StoredName))
		Error(w, http.StatusInternalServerError, "failed to record document")
		return
	}

	slog.Info("Document uploaded", "name", name, "size", doc.Size)
	JSON(w, http.StatusCreated, doc)
}

func (h *Handler) writeUpload(storedName string, data []byte) error {
	if err := os.MkdirAll(h.uploadDir, 0755); err != nil {
		return fmt.Errorf("create upload directory: %w", err)
	}
	return os.WriteFile(filepath.Join(h.uploadDir, storedName), data, 0644)
}

// requireSession answers with an error unless the request names a known
// session.
func requireSession(w http.ResponseWriter, r *http.Request) (string, bool) {
	sid := identity.SessionIDFromContext(r.Context())
	if sid == "" {
		Error(w, http.StatusBadRequest, "session required")
		return "", false
	}
	if !identity.SessionKnown(r.Context()) {
		Error(w, http.StatusNotFound, "session not found")
		return "", false
	}
	return sid, true
}

// GetHistory returns the stored turns of the session.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	sid, ok := requireSession(w, r)
	if !ok {
		return
	}
	entries, err := h.repo.History(r.Context(), sid)
	if err != nil {
		slog.Error("Failed to load history", "error", err, "session_id", sid)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	JSON(w, http.StatusOK, entries)
}

// ClearHistory deletes the stored turns of the session.
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	sid, ok := requireSession(w, r)
	if !ok {
		return
	}
	deleted, err := h.repo.ClearHistory(r.Context(), sid)
	if err != nil {
		slog.Error("Failed to clear history", "error", err, "session_id", sid)
		Error(w, http.StatusInternalServerError, "failed to clear history")
		return
	}
	slog.Info("History cleared", "session_id", sid, "deleted", deleted)
	JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ListFeedback returns the ratings saved for the session, oldest first.
func (h *Handler) ListFeedback(w http.ResponseWriter, r *http.Request) {
	sid, ok := requireSession(w, r)
	if !ok {
		return
	}
	recs, err := h.repo.ListFeedback(r.Context(), sid)
	if err != nil {
		slog.Error("Failed to list feedback", "error", err, "session_id", sid)
		Error(w, http.StatusInternalServerError, "failed to list feedback")
		return
	}
	JSON(w, http.StatusOK, recs)
}

// SubmitFeedback stores a rating sent over HTTP.
func (h *Handler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var rec domain.FeedbackRecord
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&rec); err != nil {
		Error(w, http.StatusBadRequest, "invalid feedback payload")
		return
	}
	if !rec.Polarity.Valid() || rec.MessageID == "" {
		Error(w, http.StatusBadRequest, "feedback_type and message_id are required")
		return
	}

	sid, ok := requireSession(w, r)
	if !ok {
		return
	}
	rec.ID = 0
	rec.SessionID = sid
	if rec.SectionID == "" {
		rec.SectionID = domain.OverallSection
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	if err := store.RecordFeedback(r.Context(), h.repo, h.publisher, &rec); err != nil {
		slog.Error("Failed to save feedback", "error", err, "session_id", sid)
		Error(w, http.StatusInternalServerError, "failed to save feedback")
		return
	}
	JSON(w, http.StatusCreated, rec)
}

// GetExport serves a generated report.
func (h *Handler) GetExport(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name != filepath.Base(name) || !strings.HasPrefix(name, "report_") || !strings.HasSuffix(name, ".html") {
		Error(w, http.StatusNotFound, "not found")
		return
	}
	path := filepath.Join(h.exportDir, name)
	if _, err := os.Stat(path); err != nil {
		Error(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeFile(w, r, path)
}
