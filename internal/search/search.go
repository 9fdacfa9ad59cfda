package search

import (
	"strings"

	"surveyforge/api/internal/survey"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Locale  string `json:"locale,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Locale string // empty = any locale
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// SurveyRecord is the data we index for a stored survey.
type SurveyRecord struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Locale      string   `json:"locale"`
	Sections    []string `json:"sections"`
	Questions   []string `json:"questions"`
	UpdatedAt   int64    `json:"updatedAt"`
}

// RecordFromSurvey flattens a survey tree into its searchable text.
func RecordFromSurvey(id string, s *survey.Survey, updatedAt int64) SurveyRecord {
	rec := SurveyRecord{
		ID:          id,
		Title:       s.Title,
		Description: s.Description,
		Locale:      string(s.Locale),
		Sections:    make([]string, 0, len(s.Sections)),
		Questions:   make([]string, 0, s.QuestionCount()),
		UpdatedAt:   updatedAt,
	}
	for _, sec := range s.Sections {
		rec.Sections = append(rec.Sections, sec.Title)
		for _, q := range sec.Questions {
			rec.Questions = append(rec.Questions, q.Title)
		}
	}
	return rec
}

func normalizeLimits(q Query) (int, int) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
