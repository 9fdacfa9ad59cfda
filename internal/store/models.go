package store

import (
	"encoding/json"
	"time"
)

// SurveySummary is a row of the survey list; Name falls back to a placeholder
// for untitled surveys.
type SurveySummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Survey struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Content     json.RawMessage `json:"content"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type Result struct {
	ID        string          `json:"id"`
	SurveyID  string          `json:"surveyId"`
	Content   json.RawMessage `json:"results"`
	CreatedAt time.Time       `json:"createdAt"`
}
