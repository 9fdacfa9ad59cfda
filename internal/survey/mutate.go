package survey

import (
	"fmt"
	"strconv"
	"strings"
)

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

func ParseDirection(raw string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(raw))) {
	case Up:
		return Up, nil
	case Down:
		return Down, nil
	default:
		return "", fmt.Errorf("unsupported direction %q", raw)
	}
}

// SettingsPatch, SectionPatch and QuestionPatch carry partial updates; nil
// fields are left untouched.
type SettingsPatch struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Locale      *string `json:"locale"`
}

type SectionPatch struct {
	Name      *string `json:"name"`
	Title     *string `json:"title"`
	VisibleIf *string `json:"visibleIf"`
}

type QuestionPatch struct {
	Name       *string   `json:"name"`
	Title      *string   `json:"title"`
	Type       *string   `json:"type"`
	IsRequired *bool     `json:"isRequired"`
	Choices    *[]string `json:"choices"`
	VisibleIf  *string   `json:"visibleIf"`
}

func (s *Survey) UpdateSettings(p SettingsPatch) error {
	locale := s.Locale
	if p.Locale != nil {
		parsed, err := ParseLocale(*p.Locale)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
		}
		locale = parsed
	}
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
	s.Locale = locale
	return nil
}

// AddSection appends a section holding one default question and returns it.
func (s *Survey) AddSection() Section {
	n := len(s.Sections) + 1
	sec := Section{
		ID:    s.nextID(),
		Name:  s.UniqueSectionName("section", n),
		Title: "Section " + strconv.Itoa(n),
	}
	sec.Questions = []Question{s.newQuestion()}
	s.Sections = append(s.Sections, sec)
	return sec
}

func (s *Survey) newQuestion() Question {
	return Question{
		ID:      s.nextID(),
		Name:    s.UniqueQuestionName("question", s.QuestionCount()+1),
		Title:   DefaultQuestionTitle,
		Type:    TypeText,
		Choices: []string{},
	}
}

// DeleteSection removes a section. An unknown id reports false without error;
// removing the only section is rejected.
func (s *Survey) DeleteSection(id int) (bool, error) {
	i := s.sectionIndex(id)
	if i < 0 {
		return false, nil
	}
	if len(s.Sections) == 1 {
		return false, fmt.Errorf("%w: cannot delete the last section", ErrInvariantViolation)
	}
	s.Sections = append(s.Sections[:i], s.Sections[i+1:]...)
	return true, nil
}

func (s *Survey) UpdateSection(id int, p SectionPatch) (bool, error) {
	i := s.sectionIndex(id)
	if i < 0 {
		return false, nil
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return false, fmt.Errorf("%w: section name is required", ErrInvariantViolation)
		}
		if s.sectionNameTaken(name, id) {
			return false, fmt.Errorf("%w: section name %q already in use", ErrInvariantViolation, name)
		}
		s.Sections[i].Name = name
	}
	if p.Title != nil {
		s.Sections[i].Title = *p.Title
	}
	if p.VisibleIf != nil {
		s.Sections[i].VisibleIf = *p.VisibleIf
	}
	return true, nil
}

// AddQuestion appends a default text question to the section. The bool is
// false when the section does not exist.
func (s *Survey) AddQuestion(sectionID int) (Question, bool) {
	i := s.sectionIndex(sectionID)
	if i < 0 {
		return Question{}, false
	}
	q := s.newQuestion()
	s.Sections[i].Questions = append(s.Sections[i].Questions, q)
	return q, true
}

func (s *Survey) DeleteQuestion(sectionID, id int) (bool, error) {
	si, qi := s.questionIndex(sectionID, id)
	if qi < 0 {
		return false, nil
	}
	questions := s.Sections[si].Questions
	if len(questions) == 1 {
		return false, fmt.Errorf("%w: cannot delete the last question in a section", ErrInvariantViolation)
	}
	s.Sections[si].Questions = append(questions[:qi], questions[qi+1:]...)
	return true, nil
}

func (s *Survey) UpdateQuestion(sectionID, id int, p QuestionPatch) (bool, error) {
	si, qi := s.questionIndex(sectionID, id)
	if qi < 0 {
		return false, nil
	}
	q := s.Sections[si].Questions[qi]
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return false, fmt.Errorf("%w: question name is required", ErrInvariantViolation)
		}
		if s.questionNameTaken(name, id) {
			return false, fmt.Errorf("%w: question name %q already in use", ErrInvariantViolation, name)
		}
		q.Name = name
	}
	if p.Type != nil {
		t, err := ParseQuestionType(*p.Type)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrInvariantViolation, err)
		}
		q.Type = t
	}
	if p.Title != nil {
		q.Title = *p.Title
	}
	if p.IsRequired != nil {
		q.IsRequired = *p.IsRequired
	}
	if p.Choices != nil {
		q.Choices = append([]string{}, (*p.Choices)...)
	}
	if p.VisibleIf != nil {
		q.VisibleIf = *p.VisibleIf
	}
	s.Sections[si].Questions[qi] = q
	return true, nil
}

// MoveQuestion swaps a question with its neighbour. Moving past either end
// of the section does nothing.
func (s *Survey) MoveQuestion(sectionID, id int, dir Direction) bool {
	si, qi := s.questionIndex(sectionID, id)
	if qi < 0 {
		return false
	}
	target := qi - 1
	if dir == Down {
		target = qi + 1
	}
	questions := s.Sections[si].Questions
	if target < 0 || target >= len(questions) {
		return false
	}
	questions[qi], questions[target] = questions[target], questions[qi]
	return true
}

func (s *Survey) SetChoices(sectionID, id int, raw string) bool {
	si, qi := s.questionIndex(sectionID, id)
	if qi < 0 {
		return false
	}
	s.Sections[si].Questions[qi].Choices = ParseChoices(raw)
	return true
}
