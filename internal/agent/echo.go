package agent

import (
	"context"
	"iter"
	"strconv"
	"strings"
	"time"
)

// EchoResponder replies without a model. It repeats the question as a
// short Markdown answer, split into word chunks, which is enough to drive
// the streaming path in development and tests.
type EchoResponder struct {
	// Delay is slept between chunks.
	Delay time.Duration
}

// Chat streams the echoed reply word by word.
func (e *EchoResponder) Chat(ctx context.Context, req ChatRequest) iter.Seq2[*ChatResponse, error] {
	return func(yield func(*ChatResponse, error) bool) {
		reply := "**You asked:** " + strings.TrimSpace(req.Message)
		if n := len(req.Context); n > 0 {
			reply += "\n\n- Earlier turns considered: " + strconv.Itoa(n)
		}
		if n := len(req.Documents); n > 0 {
			reply += "\n- Reference documents available: " + strconv.Itoa(n)
		}

		words := strings.SplitAfter(reply, " ")
		for i, w := range words {
			if e.Delay > 0 {
				select {
				case <-time.After(e.Delay):
				case <-ctx.Done():
					yield(nil, ctx.Err())
					return
				}
			}
			chunk := &ChatResponse{Chunk: w}
			if i == len(words)-1 {
				chunk.DocumentsUsed = len(req.Documents)
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}
