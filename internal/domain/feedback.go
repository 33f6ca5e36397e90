package domain

import (
	"fmt"
	"time"
)

// OverallSection is the section id used for feedback about a whole message.
const OverallSection = "overall"

// Polarity is the direction of a feedback rating.
type Polarity string

const (
	PolarityNone     Polarity = ""
	PolarityPositive Polarity = "positive"
	PolarityNegative Polarity = "negative"
)

// ParsePolarity accepts the wire names plus the usual shorthands.
func ParsePolarity(s string) (Polarity, error) {
	switch s {
	case "positive", "+", "up", "good":
		return PolarityPositive, nil
	case "negative", "-", "down", "bad":
		return PolarityNegative, nil
	}
	return PolarityNone, fmt.Errorf("unknown polarity %q", s)
}

// Valid reports whether p is positive or negative.
func (p Polarity) Valid() bool {
	return p == PolarityPositive || p == PolarityNegative
}

// FeedbackRecord is a submitted rating. It is immutable once sent.
type FeedbackRecord struct {
	ID        int64     `json:"id,omitempty"`
	SessionID string    `json:"session_id"`
	MessageID string    `json:"message_id"`
	SectionID string    `json:"section_id,omitempty"`
	Polarity  Polarity  `json:"feedback_type"`
	Comment   string    `json:"description,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// IsOverall reports whether the record rates a whole message.
func (r *FeedbackRecord) IsOverall() bool {
	return r.SectionID == "" || r.SectionID == OverallSection
}
