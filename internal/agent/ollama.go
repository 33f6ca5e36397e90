package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/aero-chat/internal/domain"
)

// OllamaResponder streams replies from an Ollama /api/chat endpoint.
type OllamaResponder struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

// NewOllamaResponder creates a responder for baseURL. The timeout bounds a
// whole reply, including streaming.
func NewOllamaResponder(baseURL, model string, timeout time.Duration) *OllamaResponder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.2"
	}
	return &OllamaResponder{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		Client:  &http.Client{Timeout: timeout},
	}
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatReq struct {
	Model    string      `json:"model"`
	Messages []ollamaMsg `json:"messages"`
	Stream   bool        `json:"stream"`
}

type ollamaStreamResp struct {
	Message ollamaMsg `json:"message"`
	Done    bool      `json:"done"`
	Error   string    `json:"error,omitempty"`
}

// Chat streams the assistant content as it arrives.
func (p *OllamaResponder) Chat(ctx context.Context, req ChatRequest) iter.Seq2[*ChatResponse, error] {
	return func(yield func(*ChatResponse, error) bool) {
		if p.Client == nil {
			yield(nil, errors.New("ollama: http client is nil"))
			return
		}

		b, err := json.Marshal(ollamaChatReq{
			Model:    p.Model,
			Stream:   true,
			Messages: buildMessages(req),
		})
		if err != nil {
			yield(nil, err)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/api/chat", bytes.NewReader(b))
		if err != nil {
			yield(nil, err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := p.Client.Do(httpReq)
		if err != nil {
			yield(nil, fmt.Errorf("ollama: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			yield(nil, fmt.Errorf("ollama: status %d", resp.StatusCode))
			return
		}

		sc := bufio.NewScanner(resp.Body)
		// Increase scanner buffer for long JSON lines.
		sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}

			var decoded ollamaStreamResp
			if err := json.Unmarshal(line, &decoded); err != nil {
				yield(nil, fmt.Errorf("ollama: decode stream: %w", err))
				return
			}
			if decoded.Error != "" {
				yield(nil, errors.New(decoded.Error))
				return
			}

			chunk := &ChatResponse{Chunk: decoded.Message.Content}
			if decoded.Done {
				chunk.DocumentsUsed = len(req.Documents)
			}
			if (chunk.Chunk != "" || decoded.Done) && !yield(chunk, nil) {
				return
			}
			if decoded.Done {
				return
			}
		}

		if err := sc.Err(); err != nil {
			yield(nil, fmt.Errorf("ollama: read stream: %w", err))
		}
	}
}

func buildMessages(req ChatRequest) []ollamaMsg {
	prompt := systemPrompt
	if len(req.Documents) > 0 {
		names := make([]string, 0, len(req.Documents))
		for _, d := range req.Documents {
			names = append(names, d.Name)
		}
		prompt += "\nReference documents available: " + strings.Join(names, ", ") + "."
	}

	out := make([]ollamaMsg, 0, len(req.Context)+2)
	out = append(out, ollamaMsg{Role: "system", Content: prompt})
	for _, t := range req.Context {
		if t.Role.Valid() {
			out = append(out, ollamaMsg{Role: string(t.Role), Content: t.Content})
		}
	}
	return append(out, ollamaMsg{Role: string(domain.RoleUser), Content: req.Message})
}
