package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "surveys.db") + "?_pragma=foreign_keys(1)"
	db, err := Open(ctx, "sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := ApplyMigrations(ctx, db, MigrationsDir(filepath.Join("..", "..", "db", "migrations"), DriverSQLite)); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewSQLStore(db)
}

func TestNormalizeDriver(t *testing.T) {
	cases := map[string]string{"": DriverPostgres, "postgres": DriverPostgres, "PGX": DriverPostgres, "sqlite3": DriverSQLite}
	for in, want := range cases {
		got, err := NormalizeDriver(in)
		if err != nil || got != want {
			t.Fatalf("NormalizeDriver(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := NormalizeDriver("mysql"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestSaveCreateThenUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.SaveSurvey(ctx, "", "First", "desc", []byte(`{"title":"First"}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	created, err := s.GetSurvey(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if created.Title != "First" || string(created.Content) != `{"title":"First"}` {
		t.Fatalf("unexpected survey: %+v", created)
	}

	time.Sleep(2 * time.Millisecond)
	again, err := s.SaveSurvey(ctx, id, "Second", "", []byte(`{"title":"Second"}`))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if again != id {
		t.Fatalf("update changed id from %s to %s", id, again)
	}
	updated, err := s.GetSurvey(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if updated.Title != "Second" || !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Fatalf("expected newer update, got %+v (was %+v)", updated, created)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("created_at changed on update")
	}
}

func TestSaveUpdateMissingIsNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"999", "abc", "-1"} {
		if _, err := s.SaveSurvey(ctx, id, "t", "", []byte(`{}`)); !errors.Is(err, ErrNotFound) {
			t.Fatalf("SaveSurvey(%q): expected ErrNotFound, got %v", id, err)
		}
		if _, err := s.GetSurvey(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("GetSurvey(%q): expected ErrNotFound, got %v", id, err)
		}
	}
}

func TestListSurveysNewestFirstWithFallbackName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.SaveSurvey(ctx, "", "", "", []byte(`{}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := s.SaveSurvey(ctx, "", "Named", "", []byte(`{}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := s.SaveSurvey(ctx, first, "", "", []byte(`{}`)); err != nil {
		t.Fatalf("touch: %v", err)
	}

	items, err := s.ListSurveys(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 surveys, got %d", len(items))
	}
	if items[0].ID != first || items[0].Name != untitledSurvey {
		t.Fatalf("expected touched untitled survey first, got %+v", items[0])
	}
	if items[1].ID != second || items[1].Name != "Named" {
		t.Fatalf("unexpected second item %+v", items[1])
	}
}

func TestResultsLifecycleAndCascadeDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.SaveSurvey(ctx, "", "Poll", "", []byte(`{}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.InsertResult(ctx, id, []byte(`{"q1":"a"}`)); err != nil {
		t.Fatalf("insert result: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	latest, err := s.InsertResult(ctx, id, []byte(`{"q1":"b"}`))
	if err != nil {
		t.Fatalf("insert result: %v", err)
	}

	results, err := s.ListResults(ctx, id)
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	if len(results) != 2 || results[0].ID != latest || string(results[0].Content) != `{"q1":"b"}` {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[0].SurveyID != id {
		t.Fatalf("expected survey id %s, got %s", id, results[0].SurveyID)
	}

	if _, err := s.InsertResult(ctx, "12345", []byte(`{}`)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown survey, got %v", err)
	}

	if err := s.DeleteSurvey(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteSurvey(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	var remaining int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM survey_results`).Scan(&remaining); err != nil {
		t.Fatalf("count results: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected results to be deleted, %d remain", remaining)
	}
}
