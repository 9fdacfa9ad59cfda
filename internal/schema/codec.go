package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"surveyforge/api/internal/survey"
)

var ErrInvalidDocument = errors.New("invalid schema document")

const (
	ProgressBarTop   = "top"
	QuestionNumbered = "on"
)

// Document is the renderer-facing form definition. Field order is the
// emitted key order.
type Document struct {
	Title               string `json:"title"`
	Description         string `json:"description"`
	ShowProgressBar     string `json:"showProgressBar"`
	ShowQuestionNumbers string `json:"showQuestionNumbers"`
	Locale              string `json:"locale"`
	Pages               []Page `json:"pages"`
}

type Page struct {
	Name      string    `json:"name"`
	Title     string    `json:"title"`
	Elements  []Element `json:"elements"`
	VisibleIf string    `json:"visibleIf,omitempty"`
}

type Element struct {
	Type       string   `json:"type"`
	Name       string   `json:"name"`
	Title      string   `json:"title"`
	IsRequired bool     `json:"isRequired"`
	Choices    []string `json:"choices,omitempty"`
	VisibleIf  string   `json:"visibleIf,omitempty"`
}

func Encode(s *survey.Survey) Document {
	doc := Document{
		Title:               s.Title,
		Description:         s.Description,
		ShowProgressBar:     ProgressBarTop,
		ShowQuestionNumbers: QuestionNumbered,
		Locale:              string(s.Locale),
		Pages:               make([]Page, 0, len(s.Sections)),
	}
	for _, sec := range s.Sections {
		page := Page{
			Name:      sec.Name,
			Title:     sec.Title,
			VisibleIf: sec.VisibleIf,
			Elements:  make([]Element, 0, len(sec.Questions)),
		}
		for _, q := range sec.Questions {
			el := Element{
				Type:       string(q.Type),
				Name:       q.Name,
				Title:      q.Title,
				IsRequired: q.IsRequired,
				VisibleIf:  q.VisibleIf,
			}
			if q.Type.HasChoices() && len(q.Choices) > 0 {
				el.Choices = append([]string{}, q.Choices...)
			}
			page.Elements = append(page.Elements, el)
		}
		doc.Pages = append(doc.Pages, page)
	}
	return doc
}

func Marshal(s *survey.Survey) ([]byte, error) {
	return json.Marshal(Encode(s))
}

func MarshalIndent(s *survey.Survey) ([]byte, error) {
	return json.MarshalIndent(Encode(s), "", "  ")
}

// Title returns the display title of a stored document without decoding the
// whole tree. Unreadable or untitled documents get the placeholder name.
func Title(raw []byte) string {
	var head struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(raw, &head); err != nil || strings.TrimSpace(head.Title) == "" {
		return survey.UntitledSurvey
	}
	return head.Title
}

// wire shapes used for decoding; pointers distinguish absent from empty.
type wireDocument struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Locale      *string    `json:"locale"`
	Pages       []wirePage `json:"pages"`
}

type wirePage struct {
	Name      *string       `json:"name"`
	Title     *string       `json:"title"`
	VisibleIf *string       `json:"visibleIf"`
	Elements  []wireElement `json:"elements"`
}

type wireElement struct {
	Type       *string           `json:"type"`
	Name       *string           `json:"name"`
	Title      *string           `json:"title"`
	IsRequired *bool             `json:"isRequired"`
	Choices    []json.RawMessage `json:"choices"`
	VisibleIf  *string           `json:"visibleIf"`
}

// Unmarshal decodes a stored or uploaded document. Identifiers are assigned
// fresh in document order; only names survive a save and reload. Unknown
// fields are dropped.
func Unmarshal(raw []byte) (*survey.Survey, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidDocument)
	}
	var doc wireDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return decode(doc)
}

func decode(doc wireDocument) (*survey.Survey, error) {
	s := &survey.Survey{
		Title:    valueOr(doc.Title, survey.DefaultTitle),
		Locale:   survey.LocaleEN,
		Sections: make([]survey.Section, 0, len(doc.Pages)),
	}
	if doc.Description != nil {
		s.Description = *doc.Description
	}
	if doc.Locale != nil && *doc.Locale != "" {
		locale, err := survey.ParseLocale(*doc.Locale)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		s.Locale = locale
	}

	for pi, page := range doc.Pages {
		s.LastID++
		sec := survey.Section{
			ID:        s.LastID,
			Name:      valueOr(page.Name, ""),
			Title:     valueOr(page.Title, ""),
			VisibleIf: valueOr(page.VisibleIf, ""),
			Questions: make([]survey.Question, 0, len(page.Elements)),
		}
		if sec.Title == "" && page.Title == nil {
			sec.Title = "Section " + strconv.Itoa(pi+1)
		}
		for ei, el := range page.Elements {
			q, err := decodeElement(el)
			if err != nil {
				return nil, fmt.Errorf("%w: page %q element %d: %v", ErrInvalidDocument, sec.Name, ei, err)
			}
			s.LastID++
			q.ID = s.LastID
			sec.Questions = append(sec.Questions, q)
		}
		s.Sections = append(s.Sections, sec)
	}
	repair(s)

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return s, nil
}

func decodeElement(el wireElement) (survey.Question, error) {
	q := survey.Question{
		Type:      survey.TypeText,
		Name:      valueOr(el.Name, ""),
		Title:     valueOr(el.Title, ""),
		VisibleIf: valueOr(el.VisibleIf, ""),
		Choices:   make([]string, 0, len(el.Choices)),
	}
	if el.Type != nil && *el.Type != "" {
		t, err := survey.ParseQuestionType(*el.Type)
		if err != nil {
			return q, err
		}
		q.Type = t
	}
	if el.IsRequired != nil {
		q.IsRequired = *el.IsRequired
	}
	for i, rawChoice := range el.Choices {
		if string(bytes.TrimSpace(rawChoice)) == "null" {
			continue
		}
		choice, err := decodeChoice(rawChoice)
		if err != nil {
			return q, fmt.Errorf("choice %d: %w", i, err)
		}
		if strings.TrimSpace(choice) == "" {
			continue
		}
		q.Choices = append(q.Choices, choice)
	}
	return q, nil
}

// decodeChoice accepts the renderer's choice spellings: a bare string, a
// number, or an item object with value and text.
func decodeChoice(raw json.RawMessage) (string, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String(), nil
	}
	var item struct {
		Value json.RawMessage `json:"value"`
		Text  *string         `json:"text"`
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		return "", fmt.Errorf("unsupported choice %s", string(raw))
	}
	if len(item.Value) > 0 && string(item.Value) != "null" {
		return decodeChoice(item.Value)
	}
	if item.Text != nil {
		return *item.Text, nil
	}
	return "", fmt.Errorf("choice item has neither value nor text")
}

// repair gives hand-written documents the editor's minimums. Missing or
// repeated names are replaced with generated ones that avoid every name
// already present, so explicit names always survive.
func repair(s *survey.Survey) {
	if len(s.Sections) == 0 {
		s.LastID++
		s.Sections = append(s.Sections, survey.Section{ID: s.LastID, Name: "section1", Title: "Section 1"})
	}
	seenSections := map[string]bool{}
	seenQuestions := map[string]bool{}
	for i := range s.Sections {
		sec := &s.Sections[i]
		switch {
		case sec.Name == "":
			sec.Name = s.UniqueSectionName("section", i+1)
		case seenSections[sec.Name]:
			sec.Name = s.UniqueSectionName(sec.Name+"_", 2)
		}
		seenSections[sec.Name] = true
		if len(sec.Questions) == 0 {
			s.LastID++
			sec.Questions = append(sec.Questions, survey.Question{
				ID:      s.LastID,
				Title:   survey.DefaultQuestionTitle,
				Type:    survey.TypeText,
				Choices: []string{},
			})
		}
		for j := range sec.Questions {
			q := &sec.Questions[j]
			if q.Name == "" || seenQuestions[q.Name] {
				q.Name = ""
				q.Name = s.UniqueQuestionName("question", s.QuestionCount())
			}
			seenQuestions[q.Name] = true
		}
	}
}

func valueOr(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}
