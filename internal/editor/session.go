// Package editor holds the builder's editing sessions: the survey under
// construction, the selection cursor and the load/publish round trips.
package editor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"surveyforge/api/internal/schema"
	"surveyforge/api/internal/survey"
)

var (
	ErrBusy            = errors.New("a load or publish is already in progress")
	ErrLocked          = errors.New("session is being changed by another request")
	ErrUnsavedChanges  = errors.New("session has unsaved changes")
	ErrTitleRequired   = errors.New("survey title is required")
	ErrExternalIO      = errors.New("external round trip failed")
	ErrSessionNotFound = errors.New("session not found or expired")
)

type Mode string

const (
	ModeSurvey   Mode = "survey"
	ModeSection  Mode = "section"
	ModeQuestion Mode = "question"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.TrimSpace(raw)) {
	case ModeSurvey:
		return ModeSurvey, nil
	case ModeSection:
		return ModeSection, nil
	case ModeQuestion:
		return ModeQuestion, nil
	default:
		return "", fmt.Errorf("unsupported editing mode %q", raw)
	}
}

// Cursor names the node the author is editing. The ids are lookup keys into
// the survey tree.
type Cursor struct {
	Mode       Mode `json:"mode"`
	SectionID  int  `json:"sectionId"`
	QuestionID int  `json:"questionId"`
}

// Repository is the persistence side of load and publish. Implementations
// deal only in encoded schema documents.
type Repository interface {
	ReadSchema(ctx context.Context, surveyID string) ([]byte, error)
	SaveSchema(ctx context.Context, surveyID string, document []byte) (string, error)
}

type Session struct {
	ID        string         `json:"id"`
	SurveyID  string         `json:"surveyId"`
	Survey    *survey.Survey `json:"survey"`
	Cursor    Cursor         `json:"cursor"`
	Dirty     bool           `json:"dirty"`
	Busy      bool           `json:"busy"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// New starts a session on the starter survey with the first section selected.
func New(id string) *Session {
	now := time.Now().UTC()
	s := &Session{ID: id, Survey: survey.New(), CreatedAt: now, UpdatedAt: now}
	s.resetCursor(ModeSurvey)
	return s
}

func (s *Session) resetCursor(mode Mode) {
	s.Cursor = Cursor{Mode: mode}
	if len(s.Survey.Sections) == 0 {
		return
	}
	first := s.Survey.Sections[0]
	s.Cursor.SectionID = first.ID
	if len(first.Questions) > 0 {
		s.Cursor.QuestionID = first.Questions[0].ID
	}
}

// changed records a successful edit. Only sessions bound to a stored survey
// can have unsaved changes.
func (s *Session) changed() {
	s.UpdatedAt = time.Now().UTC()
	if s.SurveyID != "" {
		s.Dirty = true
	}
}

func (s *Session) UpdateSettings(p survey.SettingsPatch) error {
	if err := s.Survey.UpdateSettings(p); err != nil {
		return err
	}
	s.changed()
	return nil
}

func (s *Session) AddSection() survey.Section {
	sec := s.Survey.AddSection()
	s.Cursor = Cursor{Mode: ModeSection, SectionID: sec.ID, QuestionID: sec.Questions[0].ID}
	s.changed()
	return sec
}

func (s *Session) DeleteSection(id int) (bool, error) {
	deleted, err := s.Survey.DeleteSection(id)
	if err != nil || !deleted {
		return deleted, err
	}
	if s.Cursor.SectionID == id {
		s.resetCursor(ModeSection)
	}
	s.changed()
	return true, nil
}

func (s *Session) UpdateSection(id int, p survey.SectionPatch) (bool, error) {
	ok, err := s.Survey.UpdateSection(id, p)
	if err != nil || !ok {
		return ok, err
	}
	s.changed()
	return true, nil
}

func (s *Session) AddQuestion(sectionID int) (survey.Question, bool) {
	q, ok := s.Survey.AddQuestion(sectionID)
	if !ok {
		return q, false
	}
	s.Cursor = Cursor{Mode: ModeQuestion, SectionID: sectionID, QuestionID: q.ID}
	s.changed()
	return q, true
}

// DeleteQuestion removes a question and, when it was selected, moves the
// cursor to the first remaining question of the same section.
func (s *Session) DeleteQuestion(sectionID, id int) (bool, error) {
	deleted, err := s.Survey.DeleteQuestion(sectionID, id)
	if err != nil || !deleted {
		return deleted, err
	}
	if s.Cursor.QuestionID == id {
		s.Cursor = Cursor{Mode: ModeSection, SectionID: sectionID}
		if sec, ok := s.Survey.Section(sectionID); ok && len(sec.Questions) > 0 {
			s.Cursor.Mode = ModeQuestion
			s.Cursor.QuestionID = sec.Questions[0].ID
		}
	}
	s.changed()
	return true, nil
}

func (s *Session) UpdateQuestion(sectionID, id int, p survey.QuestionPatch) (bool, error) {
	ok, err := s.Survey.UpdateQuestion(sectionID, id, p)
	if err != nil || !ok {
		return ok, err
	}
	s.changed()
	return true, nil
}

func (s *Session) MoveQuestion(sectionID, id int, dir survey.Direction) bool {
	if !s.Survey.MoveQuestion(sectionID, id, dir) {
		return false
	}
	s.changed()
	return true
}

func (s *Session) SetChoices(sectionID, id int, raw string) bool {
	if !s.Survey.SetChoices(sectionID, id, raw) {
		return false
	}
	s.changed()
	return true
}

func (s *Session) SelectSurvey() {
	s.Cursor.Mode = ModeSurvey
}

func (s *Session) SelectSection(id int) bool {
	sec, ok := s.Survey.Section(id)
	if !ok {
		return false
	}
	s.Cursor = Cursor{Mode: ModeSection, SectionID: id, QuestionID: sec.Questions[0].ID}
	return true
}

func (s *Session) SelectQuestion(sectionID, id int) bool {
	if _, ok := s.Survey.Question(sectionID, id); !ok {
		return false
	}
	s.Cursor = Cursor{Mode: ModeQuestion, SectionID: sectionID, QuestionID: id}
	return true
}

// Schema encodes the current survey for preview.
func (s *Session) Schema() schema.Document {
	return schema.Encode(s.Survey)
}

func (s *Session) begin() error {
	if s.Busy {
		return ErrBusy
	}
	s.Busy = true
	return nil
}

// Load replaces the session's survey with a stored one. A dirty session is
// only overwritten when force is set. On failure the session is unchanged.
func (s *Session) Load(ctx context.Context, repo Repository, surveyID string, force bool) error {
	if s.Dirty && !force {
		return ErrUnsavedChanges
	}
	if err := s.begin(); err != nil {
		return err
	}
	defer func() { s.Busy = false }()

	raw, err := repo.ReadSchema(ctx, surveyID)
	if err != nil {
		return fmt.Errorf("%w: read survey %s: %w", ErrExternalIO, surveyID, err)
	}
	decoded, err := schema.Unmarshal(raw)
	if err != nil {
		return fmt.Errorf("%w: decode survey %s: %w", ErrExternalIO, surveyID, err)
	}

	s.Survey = decoded
	s.SurveyID = surveyID
	s.Dirty = false
	s.resetCursor(ModeSurvey)
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Publish encodes the survey and hands it to the repository. The returned id
// binds the session to the stored document for later publishes.
func (s *Session) Publish(ctx context.Context, repo Repository) (string, error) {
	if strings.TrimSpace(s.Survey.Title) == "" {
		return "", ErrTitleRequired
	}
	if err := s.begin(); err != nil {
		return "", err
	}
	defer func() { s.Busy = false }()

	raw, err := schema.Marshal(s.Survey)
	if err != nil {
		return "", fmt.Errorf("encode survey: %w", err)
	}
	id, err := repo.SaveSchema(ctx, s.SurveyID, raw)
	if err != nil {
		return "", fmt.Errorf("%w: save survey: %w", ErrExternalIO, err)
	}

	s.SurveyID = id
	s.Dirty = false
	s.UpdatedAt = time.Now().UTC()
	return id, nil
}
