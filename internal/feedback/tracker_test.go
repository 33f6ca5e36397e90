package feedback

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/aero-chat/internal/domain"
)

type fakeSender struct {
	sent []domain.FeedbackRecord
	err  error
}

func (f *fakeSender) SendFeedback(_ context.Context, rec domain.FeedbackRecord) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, rec)
	return nil
}

type toast struct {
	text string
	d    time.Duration
}

type fakeUI struct {
	rated  map[string]domain.Polarity
	toasts []toast
	errors []string
}

func newFakeUI() *fakeUI {
	return &fakeUI{rated: make(map[string]domain.Polarity)}
}

func (f *fakeUI) MarkRated(id string, p domain.Polarity) { f.rated[id] = p }
func (f *fakeUI) ShowToast(text string, d time.Duration) { f.toasts = append(f.toasts, toast{text, d}) }
func (f *fakeUI) Alert(text string)                      { f.errors = append(f.errors, text) }

const rendered = "<h2>Stall</h2>\n<p>The <strong>critical</strong> angle.</p>\n<ul><li>flaps</li><li>slats</li></ul>"

func newTestTracker(sender Sender, ui UI) *Tracker {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return NewTracker(sender, ui, func() string { return "session-1" }, WithClock(func() time.Time { return fixed }))
}

func TestSectionsOrdinals(t *testing.T) {
	t.Parallel()

	sections, err := Sections(rendered, "msg_1_1")
	if err != nil {
		t.Fatalf("Sections failed: %v", err)
	}
	if len(sections) != 3 {
		t.Fatalf("expected 3 sections, got %d: %+v", len(sections), sections)
	}

	want := []struct {
		id   string
		kind string
		text string
	}{
		{"msg_1_1_section_0", "h2", "Stall"},
		{"msg_1_1_section_1", "p", "The critical angle."},
		{"msg_1_1_section_2", "ul", "flaps slats"},
	}
	for i, w := range want {
		s := sections[i]
		if s.ID != w.id || s.Kind != w.kind || s.Text != w.text || s.Ordinal != i {
			t.Errorf("section %d = %+v, want id=%s kind=%s text=%q", i, s, w.id, w.kind, w.text)
		}
	}
	if !strings.Contains(sections[1].HTML, "<strong>critical</strong>") {
		t.Errorf("section html lost markup: %q", sections[1].HTML)
	}
}

func TestSectionsDeterministic(t *testing.T) {
	t.Parallel()

	a, err := Sections(rendered, "m")
	if err != nil {
		t.Fatal(err)
	}
	b, err := Sections(rendered, "m")
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != len(b) {
		t.Fatalf("length differs: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("section %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestAssignSectionsCachedOnce(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(&fakeSender{}, newFakeUI())
	html1, s1 := tr.AssignSections(rendered, "m1")
	html2, s2 := tr.AssignSections("<p>different</p>", "m1")

	if html1 != html2 {
		t.Error("second assignment must return the cached html")
	}
	if len(s1) != 3 || len(s2) != 3 {
		t.Errorf("expected cached 3 sections, got %d and %d", len(s1), len(s2))
	}
	if n := strings.Count(html1, `data-feedback="positive"`); n != 4 {
		t.Errorf("expected 3 section + 1 overall positive buttons, got %d", n)
	}
	if n := strings.Count(html1, `data-feedback="negative"`); n != 4 {
		t.Errorf("expected 4 negative buttons, got %d", n)
	}
	if !strings.Contains(html1, `data-section-id="m1_overall"`) {
		t.Errorf("overall affordance missing: %s", html1)
	}
}

func TestSubmitWithoutPolarityIsRejectedLocally(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	ui := newFakeUI()
	tr := newTestTracker(sender, ui)
	tr.AssignSections(rendered, "m1")

	if _, err := tr.OpenForm("m1_section_1"); err != nil {
		t.Fatalf("OpenForm failed: %v", err)
	}
	_, err := tr.Submit(context.Background())
	if !errors.Is(err, ErrNoPolarity) {
		t.Fatalf("expected ErrNoPolarity, got %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("no network call expected, got %d", len(sender.sent))
	}
	if len(ui.errors) != 1 {
		t.Errorf("expected the user to be prompted, got %v", ui.errors)
	}
	if _, open := tr.Draft(); !open {
		t.Error("form should stay open after a missing polarity")
	}
}

func TestSubmitSuccess(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	ui := newFakeUI()
	tr := newTestTracker(sender, ui)
	tr.AssignSections(rendered, "m1")

	form, err := tr.OpenForm("m1_section_1")
	if err != nil {
		t.Fatalf("OpenForm failed: %v", err)
	}
	if form.Snapshot != "The critical angle." {
		t.Errorf("unexpected snapshot %q", form.Snapshot)
	}
	if err := tr.SetPolarity(domain.PolarityNegative); err != nil {
		t.Fatal(err)
	}
	if err := tr.SetComment("  too vague  "); err != nil {
		t.Fatal(err)
	}

	rec, err := tr.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one record sent, got %d", len(sender.sent))
	}
	if rec.SessionID != "session-1" || rec.MessageID != "m1" || rec.SectionID != "m1_section_1" {
		t.Errorf("unexpected record ids: %+v", rec)
	}
	if rec.Comment != "too vague" || rec.Content != "The critical angle." {
		t.Errorf("unexpected record content: %+v", rec)
	}
	if ui.rated["m1_section_1"] != domain.PolarityNegative {
		t.Errorf("affordance not marked rated: %v", ui.rated)
	}
	if len(ui.toasts) != 1 || ui.toasts[0].d != 3*time.Second {
		t.Errorf("expected one 3s toast, got %+v", ui.toasts)
	}
	if _, open := tr.Draft(); open {
		t.Error("form should close after submit")
	}
	if _, err := tr.OpenForm("m1_section_1"); !errors.Is(err, ErrAlreadyRated) {
		t.Errorf("rated section should not reopen, got %v", err)
	}
}

func TestSubmitOverall(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	tr := newTestTracker(sender, newFakeUI())
	tr.AssignSections(rendered, "m1")

	if _, err := tr.OpenForm(OverallID("m1")); err != nil {
		t.Fatal(err)
	}
	if err := tr.SetPolarity(domain.PolarityPositive); err != nil {
		t.Fatal(err)
	}
	rec, err := tr.Submit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !rec.IsOverall() || rec.SectionID != domain.OverallSection {
		t.Errorf("expected overall record, got %+v", rec)
	}
	if rec.Content != "Stall\nThe critical angle.\nflaps slats" {
		t.Errorf("unexpected overall snapshot %q", rec.Content)
	}
}

func TestSubmitNotConnectedDropsRecord(t *testing.T) {
	t.Parallel()

	notConnected := errors.New("not connected")
	sender := &fakeSender{err: notConnected}
	ui := newFakeUI()
	tr := newTestTracker(sender, ui)
	tr.AssignSections(rendered, "m1")

	if _, err := tr.OpenForm("m1_section_0"); err != nil {
		t.Fatal(err)
	}
	if err := tr.SetPolarity(domain.PolarityPositive); err != nil {
		t.Fatal(err)
	}
	_, err := tr.Submit(context.Background())
	if !errors.Is(err, ErrSubmitFailed) || !errors.Is(err, notConnected) {
		t.Fatalf("expected wrapped submit failure, got %v", err)
	}
	if len(ui.errors) != 1 {
		t.Errorf("expected a visible error, got %v", ui.errors)
	}
	if _, rated := tr.Rated("m1_section_0"); rated {
		t.Error("failed submit must not mark the section rated")
	}
	if _, open := tr.Draft(); open {
		t.Error("dropped record must not stay pending")
	}
}

func TestOpenFormDiscardsDraft(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(&fakeSender{}, newFakeUI())
	tr.AssignSections(rendered, "m1")

	if _, err := tr.OpenForm("m1_section_0"); err != nil {
		t.Fatal(err)
	}
	if err := tr.SetPolarity(domain.PolarityPositive); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.OpenForm("m1_section_2"); err != nil {
		t.Fatal(err)
	}

	draft, ok := tr.Draft()
	if !ok || draft.AffordanceID != "m1_section_2" {
		t.Fatalf("expected the new form to be open, got %+v", draft)
	}
	if draft.Polarity != domain.PolarityNone {
		t.Errorf("previous draft leaked polarity %q", draft.Polarity)
	}
}

func TestOpenFormUnknownSection(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(&fakeSender{}, newFakeUI())
	if _, err := tr.OpenForm("nope_section_0"); !errors.Is(err, ErrUnknownSection) {
		t.Errorf("expected ErrUnknownSection, got %v", err)
	}
	if err := tr.SetPolarity(domain.PolarityPositive); !errors.Is(err, ErrNoOpenForm) {
		t.Errorf("expected ErrNoOpenForm, got %v", err)
	}
}
