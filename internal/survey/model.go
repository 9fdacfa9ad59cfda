package survey

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvariantViolation is returned when an edit would leave the survey in a
// shape the renderer cannot accept (no sections, an empty section, duplicate
// names and so on). The survey is left unchanged.
var ErrInvariantViolation = errors.New("invariant violation")

const (
	DefaultTitle         = "My Survey"
	DefaultQuestionTitle = "New Question"
	UntitledSurvey       = "Untitled Survey"
)

type QuestionType string

const (
	TypeText       QuestionType = "text"
	TypeComment    QuestionType = "comment"
	TypeRadiogroup QuestionType = "radiogroup"
	TypeCheckbox   QuestionType = "checkbox"
	TypeDropdown   QuestionType = "dropdown"
	TypeRating     QuestionType = "rating"
	TypeBoolean    QuestionType = "boolean"
)

var questionTypeLabels = map[QuestionType]string{
	TypeText:       "Text Input",
	TypeComment:    "Long Text (Comment)",
	TypeRadiogroup: "Multiple Choice (Single)",
	TypeCheckbox:   "Multiple Choice (Multiple)",
	TypeDropdown:   "Dropdown",
	TypeRating:     "Rating Scale",
	TypeBoolean:    "Yes/No",
}

// QuestionTypes lists the supported types in editor display order.
func QuestionTypes() []QuestionType {
	return []QuestionType{TypeText, TypeComment, TypeRadiogroup, TypeCheckbox, TypeDropdown, TypeRating, TypeBoolean}
}

func ParseQuestionType(raw string) (QuestionType, error) {
	t := QuestionType(strings.TrimSpace(raw))
	if _, ok := questionTypeLabels[t]; !ok {
		return "", fmt.Errorf("unsupported question type %q", raw)
	}
	return t, nil
}

func (t QuestionType) Valid() bool {
	_, ok := questionTypeLabels[t]
	return ok
}

// HasChoices reports whether questions of this type carry a choice list.
func (t QuestionType) HasChoices() bool {
	switch t {
	case TypeRadiogroup, TypeCheckbox, TypeDropdown:
		return true
	default:
		return false
	}
}

func (t QuestionType) Label() string {
	if label, ok := questionTypeLabels[t]; ok {
		return label
	}
	return string(t)
}

type Locale string

const (
	LocaleEN Locale = "en"
	LocaleJA Locale = "ja"
)

func ParseLocale(raw string) (Locale, error) {
	switch Locale(strings.TrimSpace(raw)) {
	case LocaleEN:
		return LocaleEN, nil
	case LocaleJA:
		return LocaleJA, nil
	default:
		return "", fmt.Errorf("unsupported locale %q", raw)
	}
}

type Question struct {
	ID         int          `json:"id"`
	Name       string       `json:"name"`
	Title      string       `json:"title"`
	Type       QuestionType `json:"type"`
	IsRequired bool         `json:"isRequired"`
	Choices    []string     `json:"choices"`
	VisibleIf  string       `json:"visibleIf"`
}

type Section struct {
	ID        int        `json:"id"`
	Name      string     `json:"name"`
	Title     string     `json:"title"`
	VisibleIf string     `json:"visibleIf"`
	Questions []Question `json:"questions"`
}

// Survey is the editable document tree. Sections and questions share one id
// sequence; LastID only ever grows so ids are never handed out twice.
type Survey struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Locale      Locale    `json:"locale"`
	Sections    []Section `json:"sections"`
	LastID      int       `json:"lastId"`
}

// New returns the starter survey shown to an author who opens a blank editor.
func New() *Survey {
	s := &Survey{Title: DefaultTitle, Locale: LocaleEN}
	s.Sections = []Section{{
		ID:    s.nextID(),
		Name:  "section1",
		Title: "Section 1",
		Questions: []Question{{
			ID:         s.nextID(),
			Name:       "question1",
			Title:      "What is your name?",
			Type:       TypeText,
			IsRequired: true,
			Choices:    []string{},
		}},
	}}
	return s
}

func (s *Survey) nextID() int {
	s.LastID++
	return s.LastID
}

func (s *Survey) Clone() *Survey {
	if s == nil {
		return nil
	}
	out := *s
	out.Sections = make([]Section, len(s.Sections))
	for i, sec := range s.Sections {
		out.Sections[i] = sec
		out.Sections[i].Questions = make([]Question, len(sec.Questions))
		for j, q := range sec.Questions {
			out.Sections[i].Questions[j] = q
			out.Sections[i].Questions[j].Choices = append([]string{}, q.Choices...)
		}
	}
	return &out
}

func (s *Survey) sectionIndex(id int) int {
	for i := range s.Sections {
		if s.Sections[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Survey) questionIndex(sectionID, id int) (int, int) {
	si := s.sectionIndex(sectionID)
	if si < 0 {
		return -1, -1
	}
	for qi := range s.Sections[si].Questions {
		if s.Sections[si].Questions[qi].ID == id {
			return si, qi
		}
	}
	return si, -1
}

// Section returns a copy of the section with the given id.
func (s *Survey) Section(id int) (Section, bool) {
	i := s.sectionIndex(id)
	if i < 0 {
		return Section{}, false
	}
	return s.Sections[i], true
}

func (s *Survey) Question(sectionID, id int) (Question, bool) {
	si, qi := s.questionIndex(sectionID, id)
	if qi < 0 {
		return Question{}, false
	}
	return s.Sections[si].Questions[qi], true
}

// FindQuestion looks a question up by id alone and also returns its section id.
func (s *Survey) FindQuestion(id int) (Question, int, bool) {
	for _, sec := range s.Sections {
		for _, q := range sec.Questions {
			if q.ID == id {
				return q, sec.ID, true
			}
		}
	}
	return Question{}, 0, false
}

func (s *Survey) QuestionCount() int {
	n := 0
	for _, sec := range s.Sections {
		n += len(sec.Questions)
	}
	return n
}

func (s *Survey) sectionNameTaken(name string, exceptID int) bool {
	for _, sec := range s.Sections {
		if sec.ID != exceptID && sec.Name == name {
			return true
		}
	}
	return false
}

func (s *Survey) questionNameTaken(name string, exceptID int) bool {
	for _, sec := range s.Sections {
		for _, q := range sec.Questions {
			if q.ID != exceptID && q.Name == name {
				return true
			}
		}
	}
	return false
}

// UniqueSectionName returns prefix<n> for the first n >= start not already
// used by a section.
func (s *Survey) UniqueSectionName(prefix string, start int) string {
	for n := start; ; n++ {
		name := prefix + strconv.Itoa(n)
		if !s.sectionNameTaken(name, 0) {
			return name
		}
	}
}

func (s *Survey) UniqueQuestionName(prefix string, start int) string {
	for n := start; ; n++ {
		name := prefix + strconv.Itoa(n)
		if !s.questionNameTaken(name, 0) {
			return name
		}
	}
}

// Validate checks every structural invariant of the tree.
func (s *Survey) Validate() error {
	if _, err := ParseLocale(string(s.Locale)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
	}
	if len(s.Sections) == 0 {
		return fmt.Errorf("%w: survey has no sections", ErrInvariantViolation)
	}
	ids := map[int]struct{}{}
	sectionNames := map[string]struct{}{}
	questionNames := map[string]struct{}{}
	for _, sec := range s.Sections {
		if _, dup := ids[sec.ID]; dup {
			return fmt.Errorf("%w: duplicate id %d", ErrInvariantViolation, sec.ID)
		}
		ids[sec.ID] = struct{}{}
		if sec.Name == "" {
			return fmt.Errorf("%w: section %d has no name", ErrInvariantViolation, sec.ID)
		}
		if _, dup := sectionNames[sec.Name]; dup {
			return fmt.Errorf("%w: duplicate section name %q", ErrInvariantViolation, sec.Name)
		}
		sectionNames[sec.Name] = struct{}{}
		if len(sec.Questions) == 0 {
			return fmt.Errorf("%w: section %q has no questions", ErrInvariantViolation, sec.Name)
		}
		for _, q := range sec.Questions {
			if _, dup := ids[q.ID]; dup {
				return fmt.Errorf("%w: duplicate id %d", ErrInvariantViolation, q.ID)
			}
			ids[q.ID] = struct{}{}
			if q.Name == "" {
				return fmt.Errorf("%w: question %d has no name", ErrInvariantViolation, q.ID)
			}
			if _, dup := questionNames[q.Name]; dup {
				return fmt.Errorf("%w: duplicate question name %q", ErrInvariantViolation, q.Name)
			}
			questionNames[q.Name] = struct{}{}
			if !q.Type.Valid() {
				return fmt.Errorf("%w: question %q has unsupported type %q", ErrInvariantViolation, q.Name, q.Type)
			}
		}
	}
	for id := range ids {
		if id > s.LastID {
			return fmt.Errorf("%w: id %d exceeds id counter %d", ErrInvariantViolation, id, s.LastID)
		}
	}
	return nil
}

// ParseChoices turns the editor's one-choice-per-line text into a choice list.
// Lines are trimmed and blank lines dropped; order and duplicates are kept.
func ParseChoices(raw string) []string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// FormatChoices is the inverse of ParseChoices for display in a textarea.
func FormatChoices(choices []string) string {
	return strings.Join(choices, "\n")
}
