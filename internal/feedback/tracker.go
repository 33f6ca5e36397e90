package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/aero-chat/internal/domain"
)

// ToastDuration is how long a confirmation toast stays on screen.
const ToastDuration = 3 * time.Second

var (
	ErrUnknownSection = errors.New("feedback: unknown section")
	ErrAlreadyRated   = errors.New("feedback: already rated")
	ErrNoOpenForm     = errors.New("feedback: no open form")
	ErrNoPolarity     = errors.New("feedback: polarity not selected")
	ErrSubmitFailed   = errors.New("feedback: submit failed")
)

// Sender delivers a finished record to the server.
type Sender interface {
	SendFeedback(ctx context.Context, rec domain.FeedbackRecord) error
}

// UI is the part of the view the tracker drives.
type UI interface {
	// MarkRated disables the affordance without removing it.
	MarkRated(affordanceID string, p domain.Polarity)
	// ShowToast displays text that disappears after d.
	ShowToast(text string, d time.Duration)
	Alert(text string)
}

// Form is the single in-progress rating.
type Form struct {
	AffordanceID string
	MessageID    string
	SectionID    string
	Snapshot     string
	Polarity     domain.Polarity
	Comment      string
	OpenedAt     time.Time
}

type target struct {
	messageID string
	sectionID string
	snapshot  string
}

type assignment struct {
	html     string
	sections []domain.Section
}

// Tracker owns section assignment, the feedback draft and rating history.
// It is not safe for concurrent use.
type Tracker struct {
	sender  Sender
	ui      UI
	session func() string
	now     func() time.Time
	log     *slog.Logger

	assigned map[string]*assignment
	targets  map[string]target
	rated    map[string]domain.Polarity
	form     *Form
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(t *Tracker) { t.log = log }
}

// NewTracker creates a tracker. session returns the current session id
// and may be nil.
func NewTracker(sender Sender, ui UI, session func() string, opts ...Option) *Tracker {
	t := &Tracker{
		sender:   sender,
		ui:       ui,
		session:  session,
		now:      time.Now,
		log:      slog.Default(),
		assigned: make(map[string]*assignment),
		targets:  make(map[string]target),
		rated:    make(map[string]domain.Polarity),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.session == nil {
		t.session = func() string { return "" }
	}
	return t
}

// AssignSections numbers the blocks of a finalized message and returns the
// HTML with rating affordances attached. The first call for a message
// fixes its sections; later calls return the cached result unchanged.
func (t *Tracker) AssignSections(renderedHTML, messageID string) (string, []domain.Section) {
	if a, ok := t.assigned[messageID]; ok {
		return a.html, a.sections
	}

	sections, err := Sections(renderedHTML, messageID)
	if err != nil {
		t.log.Warn("Section walk failed, rating whole message only", "message_id", messageID, "error", err)
		sections = nil
	}

	texts := make([]string, 0, len(sections))
	for _, s := range sections {
		t.targets[s.ID] = target{messageID: messageID, sectionID: s.ID, snapshot: s.Text}
		texts = append(texts, s.Text)
	}
	t.targets[OverallID(messageID)] = target{
		messageID: messageID,
		sectionID: domain.OverallSection,
		snapshot:  strings.Join(texts, "\n"),
	}

	a := &assignment{html: decorate(messageID, sections), sections: sections}
	t.assigned[messageID] = a
	return a.html, a.sections
}

// SectionsFor returns the cached sections of a message.
func (t *Tracker) SectionsFor(messageID string) ([]domain.Section, bool) {
	a, ok := t.assigned[messageID]
	if !ok {
		return nil, false
	}
	return a.sections, true
}

// OpenForm starts rating the given section or overall affordance. Any
// unsubmitted draft is discarded.
func (t *Tracker) OpenForm(affordanceID string) (Form, error) {
	tg, ok := t.targets[affordanceID]
	if !ok {
		return Form{}, fmt.Errorf("%w: %s", ErrUnknownSection, affordanceID)
	}
	if _, done := t.rated[affordanceID]; done {
		return Form{}, fmt.Errorf("%w: %s", ErrAlreadyRated, affordanceID)
	}
	if t.form != nil {
		t.log.Debug("Discarding feedback draft", "section_id", t.form.AffordanceID)
	}

	t.form = &Form{
		AffordanceID: affordanceID,
		MessageID:    tg.messageID,
		SectionID:    tg.sectionID,
		Snapshot:     tg.snapshot,
		OpenedAt:     t.now(),
	}
	return *t.form, nil
}

// Draft returns the open form, if any.
func (t *Tracker) Draft() (Form, bool) {
	if t.form == nil {
		return Form{}, false
	}
	return *t.form, true
}

// SetPolarity records the chosen direction on the open form.
func (t *Tracker) SetPolarity(p domain.Polarity) error {
	if t.form == nil {
		return ErrNoOpenForm
	}
	if !p.Valid() {
		return fmt.Errorf("feedback: invalid polarity %q", p)
	}
	t.form.Polarity = p
	return nil
}

// SetComment records the optional free-text comment.
func (t *Tracker) SetComment(comment string) error {
	if t.form == nil {
		return ErrNoOpenForm
	}
	t.form.Comment = comment
	return nil
}

// Cancel discards the open form.
func (t *Tracker) Cancel() {
	t.form = nil
}

// Rated reports whether an affordance has been rated and how.
func (t *Tracker) Rated(affordanceID string) (domain.Polarity, bool) {
	p, ok := t.rated[affordanceID]
	return p, ok
}

// Submit sends the open form. Without a polarity nothing is sent and the
// form stays open. A record that fails to send is dropped, not queued.
func (t *Tracker) Submit(ctx context.Context) (domain.FeedbackRecord, error) {
	if t.form == nil {
		return domain.FeedbackRecord{}, ErrNoOpenForm
	}
	if !t.form.Polarity.Valid() {
		t.ui.Alert("Please choose a rating before submitting.")
		return domain.FeedbackRecord{}, ErrNoPolarity
	}

	form := *t.form
	t.form = nil

	rec := domain.FeedbackRecord{
		SessionID: t.session(),
		MessageID: form.MessageID,
		SectionID: form.SectionID,
		Polarity:  form.Polarity,
		Comment:   strings.TrimSpace(form.Comment),
		Content:   form.Snapshot,
		Timestamp: t.now().UTC(),
	}

	if err := t.sender.SendFeedback(ctx, rec); err != nil {
		t.log.Warn("Feedback dropped", "message_id", rec.MessageID, "section_id", rec.SectionID, "error", err)
		t.ui.Alert("Could not save feedback: " + err.Error())
		return rec, fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}

	t.rated[form.AffordanceID] = rec.Polarity
	t.ui.MarkRated(form.AffordanceID, rec.Polarity)
	t.ui.ShowToast(ToastText(rec.Polarity), ToastDuration)
	return rec, nil
}

// ToastText is the confirmation shown after a rating is saved.
func ToastText(p domain.Polarity) string {
	if p == domain.PolarityPositive {
		return "Thanks for the positive feedback!"
	}
	return "Thanks for the feedback. We'll keep improving!"
}
