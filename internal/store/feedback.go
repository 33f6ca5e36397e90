package store

import (
	"context"
	"log/slog"

	"github.com/ashureev/aero-chat/internal/domain"
)

// Stored feedback snapshots are capped per scope, in runes.
const (
	SectionContentLimit = 200
	OverallContentLimit = 1000
)

// FeedbackPublisher forwards stored ratings downstream.
type FeedbackPublisher interface {
	PublishFeedback(ctx context.Context, rec domain.FeedbackRecord) error
}

// RecordFeedback truncates the content snapshot, stores rec and publishes
// it. A publish failure is logged, not returned. pub may be nil.
func RecordFeedback(ctx context.Context, repo Repository, pub FeedbackPublisher, rec *domain.FeedbackRecord) error {
	limit := SectionContentLimit
	if rec.IsOverall() {
		limit = OverallContentLimit
	}
	rec.Content = truncate(rec.Content, limit)

	if err := repo.SaveFeedback(ctx, rec); err != nil {
		return err
	}
	if pub == nil {
		return nil
	}
	if err := pub.PublishFeedback(ctx, *rec); err != nil {
		slog.Warn("Failed to publish feedback", "feedback_id", rec.ID, "error", err)
	}
	return nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
