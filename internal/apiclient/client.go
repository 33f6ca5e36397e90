// Package apiclient calls the chat server's HTTP endpoints: documents,
// history, feedback and session provisioning.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/aero-chat/internal/domain"
)

// SessionHeaderName carries the chat session id on every request.
const SessionHeaderName = "X-Chat-Session-ID"

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	session func() string
}

// New creates a client for baseURL. session supplies the id sent with
// session-scoped requests and may be nil.
func New(baseURL string, session func() string) *Client {
	if session == nil {
		session = func() string { return "" }
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		session: session,
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

type sessionResponse struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ProvisionSession creates a new session and returns its id.
func (c *Client) ProvisionSession(ctx context.Context) (string, error) {
	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/sessions", nil, &resp); err != nil {
		return "", fmt.Errorf("provision session: %w", err)
	}
	return resp.SessionID, nil
}

// Documents lists the reference documents, newest first.
func (c *Client) Documents(ctx context.Context) ([]domain.Document, error) {
	var docs []domain.Document
	if err := c.do(ctx, http.MethodGet, "/api/documents", nil, &docs); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// UploadDocument sends a PDF to the document library.
func (c *Client) UploadDocument(ctx context.Context, name string, r io.Reader) (domain.Document, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return domain.Document{}, fmt.Errorf("upload document: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return domain.Document{}, fmt.Errorf("upload document: %w", err)
	}
	if err := mw.Close(); err != nil {
		return domain.Document{}, fmt.Errorf("upload document: %w", err)
	}

	var doc domain.Document
	if err := c.send(ctx, http.MethodPost, "/api/documents", mw.FormDataContentType(), &buf, &doc); err != nil {
		return domain.Document{}, fmt.Errorf("upload document: %w", err)
	}
	return doc, nil
}

// History returns the stored messages of the current session in order.
func (c *Client) History(ctx context.Context) ([]domain.HistoryEntry, error) {
	var entries []domain.HistoryEntry
	if err := c.do(ctx, http.MethodGet, "/api/history", nil, &entries); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return entries, nil
}

// ClearHistory deletes the stored messages of the current session.
func (c *Client) ClearHistory(ctx context.Context) error {
	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.do(ctx, http.MethodDelete, "/api/history", nil, &resp); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("clear history: server reported failure")
	}
	return nil
}

// SendFeedback posts a record over HTTP instead of the socket.
func (c *Client) SendFeedback(ctx context.Context, rec domain.FeedbackRecord) error {
	if err := c.do(ctx, http.MethodPost, "/api/feedback", rec, nil); err != nil {
		return fmt.Errorf("submit feedback: %w", err)
	}
	return nil
}

// Feedback returns the ratings saved for the current session.
func (c *Client) Feedback(ctx context.Context) ([]domain.FeedbackRecord, error) {
	var recs []domain.FeedbackRecord
	if err := c.do(ctx, http.MethodGet, "/api/feedback", nil, &recs); err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	return recs, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if body == nil {
		return c.send(ctx, method, path, "", nil, out)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.send(ctx, method, path, "application/json", bytes.NewReader(data), out)
}

func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if sid := c.session(); sid != "" {
		req.Header.Set(SessionHeaderName, sid)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		return &StatusError{Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
