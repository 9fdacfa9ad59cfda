package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"surveyforge/api/internal/schema"
)

// SQLSearch matches surveys with LIKE over the stored rows. It runs on both
// Postgres and sqlite and backs search when Meilisearch is unavailable.
type SQLSearch struct {
	db *sql.DB
}

func NewSQLSearch(db *sql.DB) *SQLSearch {
	return &SQLSearch{db: db}
}

// Healthy always returns true; without the database there is nothing to search.
func (p *SQLSearch) Healthy() bool {
	return true
}

func likePattern(text string) string {
	escaper := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + escaper.Replace(strings.ToLower(strings.TrimSpace(text))) + "%"
}

func (p *SQLSearch) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit, offset := normalizeLimits(q)
	pattern := likePattern(q.Text)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const where = `
		WHERE LOWER(title) LIKE $1 ESCAPE '\'
			OR LOWER(description) LIKE $2 ESCAPE '\'
			OR LOWER(content) LIKE $3 ESCAPE '\'`

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM survey_schemas`+where, pattern, pattern, pattern).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count search results: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description
		FROM survey_schemas`+where+`
		ORDER BY updated_at DESC, id DESC
		LIMIT $4 OFFSET $5
	`, pattern, pattern, pattern, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("search surveys: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var (
			id          int64
			title, desc string
		)
		if err := rows.Scan(&id, &title, &desc); err != nil {
			return nil, 0, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, Result{
			ID:      fmt.Sprintf("%d", id),
			Title:   firstNonBlank(title, "Untitled Survey"),
			Snippet: desc,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate search results: %w", err)
	}
	return results, total, nil
}

// LoadAllRecords reads every stored survey as an index record. Documents that
// no longer decode are indexed by title and description only.
func (p *SQLSearch) LoadAllRecords(ctx context.Context) ([]SurveyRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, title, description, content, updated_at FROM survey_schemas`)
	if err != nil {
		return nil, fmt.Errorf("load surveys: %w", err)
	}
	defer rows.Close()

	records := make([]SurveyRecord, 0)
	for rows.Next() {
		var (
			id                   int64
			title, desc, content string
			updatedAt            time.Time
		)
		if err := rows.Scan(&id, &title, &desc, &content, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan survey: %w", err)
		}
		surveyID := fmt.Sprintf("%d", id)
		decoded, err := schema.Unmarshal([]byte(content))
		if err != nil {
			records = append(records, SurveyRecord{ID: surveyID, Title: title, Description: desc, UpdatedAt: updatedAt.Unix()})
			continue
		}
		records = append(records, RecordFromSurvey(surveyID, decoded, updatedAt.Unix()))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate surveys: %w", err)
	}
	return records, nil
}
