//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/aero-chat/internal/apiclient"
	"github.com/ashureev/aero-chat/internal/domain"
	"github.com/ashureev/aero-chat/internal/identity"
	"github.com/ashureev/aero-chat/internal/store"
	"github.com/go-chi/chi/v5"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

type testAPI struct {
	srv  *httptest.Server
	repo store.Repository
	dir  string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	dir := t.TempDir()
	repo, err := store.NewSQLite(filepath.Join(dir, "chat.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	r := chi.NewRouter()
	r.Use(identity.Middleware(repo))
	NewHandler(repo, nil, filepath.Join(dir, "uploads"), filepath.Join(dir, "exports"), 1<<20).RegisterRoutes(r)
	NewHealthHandler(repo, nil).RegisterHealth(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, repo: repo, dir: dir}
}

func TestSessionHistoryAndFeedbackFlow(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t)
	ctx := context.Background()

	var sid string
	client := apiclient.New(a.srv.URL, func() string { return sid })

	var err error
	sid, err = client.ProvisionSession(ctx)
	if err != nil || sid == "" {
		t.Fatalf("ProvisionSession failed: %q %v", sid, err)
	}

	now := time.Now()
	for _, e := range []domain.HistoryEntry{
		{Role: domain.RoleUser, Content: "What is Va?", Timestamp: now},
		{Role: domain.RoleAssistant, Content: "Maneuvering speed.", Timestamp: now},
	} {
		if err := a.repo.AppendMessage(ctx, sid, e); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	history, err := client.History(ctx)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 || history[0].Content != "What is Va?" {
		t.Fatalf("unexpected history: %+v", history)
	}

	empty, err := client.Feedback(ctx)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("expected an empty feedback list, got %v %v", empty, err)
	}

	err = client.SendFeedback(ctx, domain.FeedbackRecord{
		MessageID: "msg_1_1",
		Polarity:  domain.PolarityPositive,
		Content:   strings.Repeat("y", 300),
	})
	if err != nil {
		t.Fatalf("SendFeedback failed: %v", err)
	}
	recs, err := client.Feedback(ctx)
	if err != nil {
		t.Fatalf("Feedback failed: %v", err)
	}
	if len(recs) != 1 || !recs[0].IsOverall() || len(recs[0].Content) != 300 || recs[0].SessionID != sid {
		t.Fatalf("unexpected stored feedback: %+v", recs)
	}

	if err := client.ClearHistory(ctx); err != nil {
		t.Fatalf("ClearHistory failed: %v", err)
	}
	history, _ = client.History(ctx)
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d", len(history))
	}
}

func TestHistoryRequiresSession(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t)
	tests := []struct {
		name    string
		session string
		want    int
	}{
		{"missing", "", http.StatusBadRequest},
		{"unknown", "ghost", http.StatusNotFound},
		{"malformed", "bad id!", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, path := range []string{"/api/history", "/api/feedback"} {
				req, _ := http.NewRequest(http.MethodGet, a.srv.URL+path, nil)
				if tt.session != "" {
					req.Header.Set(identity.SessionHeaderName, tt.session)
				}
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					t.Fatalf("request failed: %v", err)
				}
				resp.Body.Close()
				if resp.StatusCode != tt.want {
					t.Errorf("%s status = %d, want %d", path, resp.StatusCode, tt.want)
				}
			}
		})
	}
}

func TestUploadDocument(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t)
	ctx := context.Background()
	client := apiclient.New(a.srv.URL, nil)

	if _, err := client.UploadDocument(ctx, "notes.txt", strings.NewReader("%PDF-1.4")); err == nil {
		t.Fatal("expected non-PDF name to be rejected")
	}
	if _, err := client.UploadDocument(ctx, "fake.pdf", strings.NewReader("hello")); err == nil {
		t.Fatal("expected non-PDF content to be rejected")
	}

	doc, err := client.UploadDocument(ctx, "poh.pdf", strings.NewReader("%PDF-1.4 body"))
	if err != nil {
		t.Fatalf("UploadDocument failed: %v", err)
	}
	if doc.Name != "poh.pdf" || doc.Size != 13 {
		t.Fatalf("unexpected document: %+v", doc)
	}

	stored, err := a.repo.ListDocuments(ctx)
	if err != nil || len(stored) != 1 {
		t.Fatalf("ListDocuments = %v, %v", stored, err)
	}
	if !strings.HasSuffix(stored[0].StoredName, "_poh.pdf") {
		t.Fatalf("expected uuid-prefixed name, got %q", stored[0].StoredName)
	}
	if _, err := os.Stat(filepath.Join(a.dir, "uploads", stored[0].StoredName)); err != nil {
		t.Fatalf("expected stored file: %v", err)
	}

	docs, err := client.Documents(ctx)
	if err != nil || len(docs) != 1 || docs[0].Name != "poh.pdf" {
		t.Fatalf("Documents = %+v, %v", docs, err)
	}
}

func TestUploadPathIsFlattened(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "../../etc/evil.pdf")
	_, _ = part.Write([]byte("%PDF-1.7"))
	_ = mw.Close()

	resp, err := http.Post(a.srv.URL+"/api/documents", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	defer resp.Body.Close()
	var doc domain.Document
	_ = json.NewDecoder(resp.Body).Decode(&doc)
	if resp.StatusCode != http.StatusCreated || doc.Name != "evil.pdf" {
		t.Fatalf("unexpected response %d %+v", resp.StatusCode, doc)
	}
}

func TestGetExport(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t)
	exports := filepath.Join(a.dir, "exports")
	if err := os.MkdirAll(exports, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(exports, "report_x.html"), []byte("<h1>ok</h1>"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/exports/report_x.html", http.StatusOK},
		{"/exports/report_missing.html", http.StatusNotFound},
		{"/exports/chat.db", http.StatusNotFound},
	}
	for _, tt := range tests {
		resp, err := http.Get(a.srv.URL + tt.path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.want)
		}
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t)
	resp, err := http.Get(a.srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	var got map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK || got["status"] != "healthy" {
		t.Fatalf("unexpected health: %d %v", resp.StatusCode, got)
	}
}
