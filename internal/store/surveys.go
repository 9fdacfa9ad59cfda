package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrNotFound = errors.New("not found")

const untitledSurvey = "Untitled Survey"

// SQLStore persists survey documents and their submissions. The same SQL
// runs on Postgres and sqlite.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// parseID turns an external survey id into a row id. Ids that cannot name a
// row are reported as not found.
func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrNotFound
	}
	return n, nil
}

func formatID(n int64) string {
	return strconv.FormatInt(n, 10)
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (s *SQLStore) ListSurveys(ctx context.Context) ([]SurveySummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, created_at, updated_at
		FROM survey_schemas
		ORDER BY updated_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list surveys: %w", err)
	}
	defer rows.Close()

	items := make([]SurveySummary, 0)
	for rows.Next() {
		var (
			id    int64
			title string
			item  SurveySummary
		)
		if err := rows.Scan(&id, &title, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan survey: %w", err)
		}
		item.ID = formatID(id)
		item.Name = title
		if strings.TrimSpace(title) == "" {
			item.Name = untitledSurvey
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLStore) GetSurvey(ctx context.Context, id string) (Survey, error) {
	rowID, err := parseID(id)
	if err != nil {
		return Survey{}, err
	}
	var (
		item    Survey
		content string
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT title, description, content, created_at, updated_at
		FROM survey_schemas
		WHERE id = $1
	`, rowID).Scan(&item.Title, &item.Description, &content, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Survey{}, ErrNotFound
	}
	if err != nil {
		return Survey{}, fmt.Errorf("get survey: %w", err)
	}
	item.ID = formatID(rowID)
	item.Content = []byte(content)
	return item, nil
}

// SaveSurvey creates a survey when id is empty and replaces the stored
// document otherwise. Updating a missing survey returns ErrNotFound.
func (s *SQLStore) SaveSurvey(ctx context.Context, id, title, description string, content []byte) (string, error) {
	ts := now()
	if strings.TrimSpace(id) == "" {
		var rowID int64
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO survey_schemas (title, description, content, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, title, description, string(content), ts, ts).Scan(&rowID)
		if err != nil {
			return "", fmt.Errorf("insert survey: %w", err)
		}
		return formatID(rowID), nil
	}

	rowID, err := parseID(id)
	if err != nil {
		return "", err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE survey_schemas
		SET title = $1, description = $2, content = $3, updated_at = $4
		WHERE id = $5
	`, title, description, string(content), ts, rowID)
	if err != nil {
		return "", fmt.Errorf("update survey: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("update survey: %w", err)
	}
	if affected == 0 {
		return "", ErrNotFound
	}
	return formatID(rowID), nil
}

// DeleteSurvey removes a survey and its results in one transaction.
func (s *SQLStore) DeleteSurvey(ctx context.Context, id string) error {
	rowID, err := parseID(id)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete survey: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM survey_results WHERE survey_schema_id = $1`, rowID); err != nil {
		return fmt.Errorf("delete survey results: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM survey_schemas WHERE id = $1`, rowID)
	if err != nil {
		return fmt.Errorf("delete survey: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete survey: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete survey: %w", err)
	}
	return nil
}

func (s *SQLStore) InsertResult(ctx context.Context, surveyID string, content []byte) (string, error) {
	rowID, err := parseID(surveyID)
	if err != nil {
		return "", err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin insert result: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM survey_schemas WHERE id = $1)`, rowID).Scan(&exists); err != nil {
		return "", fmt.Errorf("check survey: %w", err)
	}
	if !exists {
		return "", ErrNotFound
	}

	var resultID int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO survey_results (survey_schema_id, content, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, rowID, string(content), now()).Scan(&resultID); err != nil {
		return "", fmt.Errorf("insert result: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit insert result: %w", err)
	}
	return formatID(resultID), nil
}

func (s *SQLStore) ListResults(ctx context.Context, surveyID string) ([]Result, error) {
	rowID, err := parseID(surveyID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, created_at
		FROM survey_results
		WHERE survey_schema_id = $1
		ORDER BY created_at DESC, id DESC
	`, rowID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	items := make([]Result, 0)
	for rows.Next() {
		var (
			id      int64
			content string
			item    Result
		)
		if err := rows.Scan(&id, &content, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		item.ID = formatID(id)
		item.SurveyID = formatID(rowID)
		item.Content = []byte(content)
		items = append(items, item)
	}
	return items, rows.Err()
}
