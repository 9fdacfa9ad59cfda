package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var surveyTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			if t.IsZero() {
				return ""
			}
			return t.Format(layout)
		},
		"scale": func() []int { return []int{1, 2, 3, 4, 5} },
	}

	templateContent, err := templateFS.ReadFile("templates/questionnaire.html")
	if err != nil {
		surveyTemplate = template.Must(template.New("questionnaire").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	surveyTemplate = template.Must(template.New("questionnaire").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for questionnaire rendering
type TemplateData struct {
	Title       string
	Description string
	Locale      string
	UpdatedAt   time.Time
	Sections    []TemplateSection
}

type TemplateSection struct {
	Title     string
	VisibleIf string
	Questions []TemplateQuestion
}

type TemplateQuestion struct {
	Number    int
	Title     string
	Type      string
	TypeLabel string
	Required  bool
	Choices   []string
	VisibleIf string
}

// RenderSurveyHTML renders a printable questionnaire.
func RenderSurveyHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := surveyTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html lang="{{.Locale}}">
<head><meta charset="UTF-8"><title>{{.Title}}</title></head>
<body>
  <h1>{{.Title}}</h1>
  {{if .Description}}<p>{{.Description}}</p>{{end}}
  {{range .Sections}}<h2>{{.Title}}</h2>
  <ol>{{range .Questions}}<li>{{.Title}}{{if .Required}} *{{end}}</li>{{end}}</ol>
  {{end}}
</body>
</html>`
