package export

import (
	"context"
	"fmt"
	"time"

	"surveyforge/api/internal/schema"
	"surveyforge/api/internal/store"
	"surveyforge/api/internal/survey"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetSurvey(ctx context.Context, id string) (store.Survey, error)
}

type renderFunc func(ctx context.Context, html, title string) (*Result, error)

// Service provides survey export functionality
type Service struct {
	store   DataStore
	timeout time.Duration
	pdf     renderFunc
	docx    renderFunc
}

func NewService(store DataStore, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{store: store, timeout: timeout, pdf: exportPDF, docx: exportDOCX}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	stored, err := s.store.GetSurvey(ctx, req.SurveyID)
	if err != nil {
		return nil, fmt.Errorf("get survey: %w", err)
	}
	decoded, err := schema.Unmarshal(stored.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	if req.Format == FormatJSON || req.Format == "" {
		data, err := schema.MarshalIndent(decoded)
		if err != nil {
			return nil, fmt.Errorf("encode survey: %w", err)
		}
		return &Result{
			Data:     data,
			Filename: sanitizeFilename(decoded.Title) + ".json",
			MimeType: "application/json",
		}, nil
	}

	var render renderFunc
	switch req.Format {
	case FormatPDF:
		render = s.pdf
	case FormatDOCX:
		render = s.docx
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	html, err := RenderSurveyHTML(templateDataFor(decoded, stored.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return render(ctx, html, decoded.Title)
}

func templateDataFor(s *survey.Survey, updatedAt time.Time) TemplateData {
	data := TemplateData{
		Title:       s.Title,
		Description: s.Description,
		Locale:      string(s.Locale),
		UpdatedAt:   updatedAt,
		Sections:    make([]TemplateSection, 0, len(s.Sections)),
	}
	number := 0
	for _, sec := range s.Sections {
		ts := TemplateSection{Title: sec.Title, VisibleIf: sec.VisibleIf}
		for _, q := range sec.Questions {
			number++
			tq := TemplateQuestion{
				Number:    number,
				Title:     q.Title,
				Type:      string(q.Type),
				TypeLabel: q.Type.Label(),
				Required:  q.IsRequired,
				VisibleIf: q.VisibleIf,
			}
			if q.Type.HasChoices() {
				tq.Choices = q.Choices
			}
			ts.Questions = append(ts.Questions, tq)
		}
		data.Sections = append(data.Sections, ts)
	}
	return data
}
