// Package agent produces assistant replies for the chat server.
package agent

import (
	"context"
	"iter"

	"github.com/ashureev/aero-chat/internal/domain"
)

// Responder generates a streamed reply to one user message.
type Responder interface {
	// Chat yields response chunks in order. A non-nil error ends the stream.
	Chat(ctx context.Context, req ChatRequest) iter.Seq2[*ChatResponse, error]
}

// ChatRequest carries a user message and the context it was asked in.
type ChatRequest struct {
	Message   string
	SessionID string
	// Context holds prior turns, oldest first.
	Context []domain.Turn
	// Documents is the reference library offered to the model.
	Documents []domain.Document
}

// ChatResponse is one streamed chunk.
type ChatResponse struct {
	Chunk string
	// DocumentsUsed is set on the final chunk when known.
	DocumentsUsed int
}

const systemPrompt = "You are an aviation ground-school assistant. Answer in Markdown using short " +
	"paragraphs, level 1-3 headings, and bullet or numbered lists. Use **bold** for key figures."

// Ensure implementations satisfy Responder.
var (
	_ Responder = (*OllamaResponder)(nil)
	_ Responder = (*EchoResponder)(nil)
)
