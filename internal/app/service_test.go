package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"surveyforge/api/internal/editor"
	"surveyforge/api/internal/export"
	"surveyforge/api/internal/publish"
	"surveyforge/api/internal/schema"
	"surveyforge/api/internal/search"
	"surveyforge/api/internal/store"
)

// fakeStore keeps surveys in memory. Function fields override single calls.
type fakeStore struct {
	mu      sync.Mutex
	nextID  int
	surveys map[string]store.Survey
	results map[string][]store.Result

	pingFn       func(context.Context) error
	saveSurveyFn func(context.Context, string, string, string, []byte) (string, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{surveys: map[string]store.Survey{}, results: map[string][]store.Result{}}
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) ListSurveys(context.Context) ([]store.SurveySummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := []store.SurveySummary{}
	for id, item := range f.surveys {
		items = append(items, store.SurveySummary{ID: id, Name: item.Title, CreatedAt: item.CreatedAt, UpdatedAt: item.UpdatedAt})
	}
	return items, nil
}

func (f *fakeStore) GetSurvey(_ context.Context, id string) (store.Survey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.surveys[id]
	if !ok {
		return store.Survey{}, store.ErrNotFound
	}
	return item, nil
}

func (f *fakeStore) SaveSurvey(ctx context.Context, id, title, description string, content []byte) (string, error) {
	if f.saveSurveyFn != nil {
		return f.saveSurveyFn(ctx, id, title, description, content)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	if id == "" {
		f.nextID++
		id = strconv.Itoa(f.nextID)
		f.surveys[id] = store.Survey{ID: id, Title: title, Description: description, Content: content, CreatedAt: now, UpdatedAt: now}
		return id, nil
	}
	item, ok := f.surveys[id]
	if !ok {
		return "", store.ErrNotFound
	}
	item.Title, item.Description, item.Content, item.UpdatedAt = title, description, content, now
	f.surveys[id] = item
	return id, nil
}

func (f *fakeStore) DeleteSurvey(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.surveys[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.surveys, id)
	delete(f.results, id)
	return nil
}

func (f *fakeStore) InsertResult(_ context.Context, surveyID string, content []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.surveys[surveyID]; !ok {
		return "", store.ErrNotFound
	}
	f.nextID++
	id := strconv.Itoa(f.nextID)
	f.results[surveyID] = append(f.results[surveyID], store.Result{ID: id, SurveyID: surveyID, Content: content, CreatedAt: time.Now().UTC()})
	return id, nil
}

func (f *fakeStore) ListResults(_ context.Context, surveyID string) ([]store.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results[surveyID], nil
}

type fakeBucket struct {
	mu        sync.Mutex
	objects   map[string]publish.Object
	putErr    error
	removeErr error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string]publish.Object{}}
}

func (b *fakeBucket) Put(_ context.Context, surveyID string, document []byte) error {
	if b.putErr != nil {
		return b.putErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[surveyID] = publish.Object{Data: document, UpdatedAt: time.Now().UTC()}
	return nil
}

func (b *fakeBucket) Get(_ context.Context, surveyID string) (publish.Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[surveyID]
	if !ok {
		return publish.Object{}, publish.ErrNotPublished
	}
	return obj, nil
}

func (b *fakeBucket) Remove(_ context.Context, surveyID string) error {
	if b.removeErr != nil {
		return b.removeErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, surveyID)
	return nil
}

type fakeIndex struct {
	mu      sync.Mutex
	indexed map[string]search.SurveyRecord
	deleted []string
	queries []search.Query
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{indexed: map[string]search.SurveyRecord{}}
}

func (f *fakeIndex) Search(q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	results := []search.Result{}
	for id, rec := range f.indexed {
		results = append(results, search.Result{ID: id, Title: rec.Title})
	}
	return search.Response{Results: results, Total: len(results), Query: q.Text}
}

func (f *fakeIndex) IndexSurvey(rec search.SurveyRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed[rec.ID] = rec
}

func (f *fakeIndex) DeleteSurvey(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.indexed, id)
	f.deleted = append(f.deleted, id)
}

func (f *fakeIndex) ReindexAll(context.Context) {}

type fakeExporter struct {
	exportFn func(context.Context, export.Request) (*export.Result, error)
}

func (f *fakeExporter) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	if f.exportFn != nil {
		return f.exportFn(ctx, req)
	}
	return &export.Result{Data: []byte("{}"), Filename: "survey.json", MimeType: "application/json"}, nil
}

type testEnv struct {
	service  *Service
	store    *fakeStore
	bucket   *fakeBucket
	index    *fakeIndex
	exporter *fakeExporter
	sessions *editor.RedisStore
	redis    *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	sessions, err := editor.NewRedisStore("redis://"+mr.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("failed to create session store: %v", err)
	}
	t.Cleanup(func() { _ = sessions.Close() })

	env := &testEnv{
		store:    newFakeStore(),
		bucket:   newFakeBucket(),
		index:    newFakeIndex(),
		exporter: &fakeExporter{},
		sessions: sessions,
		redis:    mr,
	}
	env.service = New(env.store, sessions, env.bucket, env.index, env.exporter)
	return env
}

const uploadedDocument = `{"title":"Lunch","description":"Friday","locale":"en","unknown":1,
	"pages":[{"name":"p1","title":"Food","elements":[{"type":"dropdown","name":"dish","title":"Dish?","choices":["Pizza",{"value":"sushi","text":"Sushi"}]}]}]}`

func TestSaveSurveyNormalizesAndPublishes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.service.SaveSurvey(ctx, "", json.RawMessage(uploadedDocument))
	if err != nil {
		t.Fatalf("SaveSurvey failed: %v", err)
	}

	stored, err := env.store.GetSurvey(ctx, id)
	if err != nil {
		t.Fatalf("survey not stored: %v", err)
	}
	if stored.Title != "Lunch" || stored.Description != "Friday" {
		t.Fatalf("unexpected stored columns: %+v", stored)
	}
	var doc map[string]any
	if err := json.Unmarshal(stored.Content, &doc); err != nil {
		t.Fatalf("stored content is not JSON: %v", err)
	}
	if _, ok := doc["unknown"]; ok {
		t.Fatal("expected unknown fields to be dropped")
	}
	if doc["showProgressBar"] != "top" {
		t.Fatalf("expected normalized document, got %v", doc)
	}

	if string(env.bucket.objects[id].Data) != string(stored.Content) {
		t.Fatalf("expected bucket copy to match stored content")
	}
	rec, ok := env.index.indexed[id]
	if !ok || rec.Title != "Lunch" || len(rec.Questions) != 1 || rec.Questions[0] != "Dish?" {
		t.Fatalf("unexpected index record: %+v", rec)
	}

	if _, err := env.service.SaveSurvey(ctx, id, json.RawMessage(`{"title":"Dinner","pages":[]}`)); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if env.index.indexed[id].Title != "Dinner" {
		t.Fatalf("expected index to follow update")
	}
}

func TestSaveSurveyRejectsInvalidDocument(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.SaveSurvey(context.Background(), "", json.RawMessage(`{"pages":[{"elements":[{"type":"matrix"}]}]}`))
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 domain error, got %v", err)
	}
	if len(env.store.surveys) != 0 {
		t.Fatal("expected nothing stored")
	}
}

func TestSaveSurveyIgnoresBucketFailure(t *testing.T) {
	env := newTestEnv(t)
	env.bucket.putErr = errors.New("bucket offline")

	id, err := env.service.SaveSurvey(context.Background(), "", json.RawMessage(uploadedDocument))
	if err != nil {
		t.Fatalf("expected save to succeed without the bucket, got %v", err)
	}
	if _, ok := env.store.surveys[id]; !ok {
		t.Fatal("expected survey stored")
	}
}

func TestFailedBucketUpdateDoesNotServeStaleCopy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id, err := env.service.SaveSurvey(ctx, "", json.RawMessage(uploadedDocument))
	if err != nil {
		t.Fatalf("SaveSurvey failed: %v", err)
	}

	env.bucket.putErr = errors.New("bucket offline")
	renamed := `{"title":"Dinner","pages":[{"name":"p1","elements":[{"type":"text","name":"q1","title":"Name"}]}]}`
	if _, err := env.service.SaveSurvey(ctx, id, json.RawMessage(renamed)); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if _, ok := env.bucket.objects[id]; ok {
		t.Fatal("expected stale bucket copy removed after failed put")
	}
	raw, err := env.service.RendererSchema(ctx, id)
	if err != nil || schema.Title(raw) != "Dinner" {
		t.Fatalf("expected updated document, got %s, %v", raw, err)
	}
}

func TestRendererSchemaSkipsOutdatedBucketCopy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id, err := env.service.SaveSurvey(ctx, "", json.RawMessage(uploadedDocument))
	if err != nil {
		t.Fatalf("SaveSurvey failed: %v", err)
	}

	env.bucket.objects[id] = publish.Object{Data: []byte(`{"title":"old"}`), UpdatedAt: time.Now().Add(-time.Hour)}
	raw, err := env.service.RendererSchema(ctx, id)
	if err != nil || schema.Title(raw) != "Lunch" {
		t.Fatalf("expected stored document, got %s, %v", raw, err)
	}
}

func TestDeletedSurveyIsNotServedFromBucket(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id, err := env.service.SaveSurvey(ctx, "", json.RawMessage(uploadedDocument))
	if err != nil {
		t.Fatalf("SaveSurvey failed: %v", err)
	}

	env.bucket.removeErr = errors.New("bucket offline")
	if err := env.service.DeleteSurvey(ctx, id); err != nil {
		t.Fatalf("DeleteSurvey failed: %v", err)
	}
	if _, ok := env.bucket.objects[id]; !ok {
		t.Fatal("expected bucket copy left behind by the failed remove")
	}
	if _, err := env.service.RendererSchema(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteSurveyRemovesCopies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id, err := env.service.SaveSurvey(ctx, "", json.RawMessage(uploadedDocument))
	if err != nil {
		t.Fatalf("SaveSurvey failed: %v", err)
	}

	if err := env.service.DeleteSurvey(ctx, id); err != nil {
		t.Fatalf("DeleteSurvey failed: %v", err)
	}
	if _, ok := env.bucket.objects[id]; ok {
		t.Fatal("expected bucket object removed")
	}
	if len(env.index.deleted) != 1 || env.index.deleted[0] != id {
		t.Fatalf("expected index delete for %s, got %v", id, env.index.deleted)
	}
	if err := env.service.DeleteSurvey(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestRendererSchemaPrefersBucket(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id, err := env.service.SaveSurvey(ctx, "", json.RawMessage(uploadedDocument))
	if err != nil {
		t.Fatalf("SaveSurvey failed: %v", err)
	}

	env.bucket.objects[id] = publish.Object{Data: []byte(`{"title":"from bucket"}`), UpdatedAt: time.Now().Add(time.Second)}
	raw, err := env.service.RendererSchema(ctx, id)
	if err != nil || string(raw) != `{"title":"from bucket"}` {
		t.Fatalf("expected bucket copy, got %s, %v", raw, err)
	}

	delete(env.bucket.objects, id)
	raw, err = env.service.RendererSchema(ctx, id)
	if err != nil {
		t.Fatalf("expected store fallback, got %v", err)
	}
	if schema.Title(raw) != "Lunch" {
		t.Fatalf("unexpected fallback document %s", raw)
	}

	if _, err := env.service.RendererSchema(ctx, "404"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmitResultRequiresObject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id, err := env.service.SaveSurvey(ctx, "", json.RawMessage(uploadedDocument))
	if err != nil {
		t.Fatalf("SaveSurvey failed: %v", err)
	}

	for _, bad := range []string{``, `null`, `[1]`, `"text"`} {
		if _, err := env.service.SubmitResult(ctx, id, json.RawMessage(bad)); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
	if _, err := env.service.SubmitResult(ctx, id, json.RawMessage(`{"dish":"sushi"}`)); err != nil {
		t.Fatalf("SubmitResult failed: %v", err)
	}
	results, err := env.service.ListResults(ctx, id)
	if err != nil || len(results) != 1 || string(results[0].Content) != `{"dish":"sushi"}` {
		t.Fatalf("unexpected results %+v, %v", results, err)
	}

	if _, err := env.service.ListResults(ctx, "999"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown survey, got %v", err)
	}
}

func TestSessionPublishThenLoad(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.service.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	sid := created.ID

	view, err := env.service.AddSection(ctx, sid)
	if err != nil {
		t.Fatalf("AddSection failed: %v", err)
	}
	if view.Cursor.Mode != editor.ModeSection || len(view.Schema.Pages) != 2 {
		t.Fatalf("unexpected view after AddSection: %+v", view.Cursor)
	}

	view, err = env.service.PublishSession(ctx, sid)
	if err != nil {
		t.Fatalf("PublishSession failed: %v", err)
	}
	if view.SurveyID == "" || view.Dirty || view.Busy {
		t.Fatalf("unexpected session after publish: id=%q dirty=%v busy=%v", view.SurveyID, view.Dirty, view.Busy)
	}
	if _, ok := env.bucket.objects[view.SurveyID]; !ok {
		t.Fatal("expected published copy in bucket")
	}

	view, err = env.service.AddSection(ctx, sid)
	if err != nil || !view.Dirty {
		t.Fatalf("expected bound session to be dirty after edit, got %v", err)
	}

	other, err := env.service.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	loaded, err := env.service.LoadSurvey(ctx, other.ID, view.SurveyID, false)
	if err != nil {
		t.Fatalf("LoadSurvey failed: %v", err)
	}
	if len(loaded.Survey.Sections) != 2 || loaded.SurveyID != view.SurveyID || loaded.Dirty {
		t.Fatalf("unexpected loaded session: %+v", loaded.Session)
	}

	persisted, err := env.service.GetSession(ctx, other.ID)
	if err != nil || persisted.SurveyID != view.SurveyID {
		t.Fatalf("expected loaded session to be saved, got %+v, %v", persisted.Session, err)
	}
}

func TestLoadRefusesUnsavedChangesUnlessForced(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, _ := env.service.CreateSession(ctx)
	published, err := env.service.PublishSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("PublishSession failed: %v", err)
	}
	if _, err := env.service.AddSection(ctx, created.ID); err != nil {
		t.Fatalf("AddSection failed: %v", err)
	}

	if _, err := env.service.LoadSurvey(ctx, created.ID, published.SurveyID, false); !errors.Is(err, editor.ErrUnsavedChanges) {
		t.Fatalf("expected ErrUnsavedChanges, got %v", err)
	}
	view, err := env.service.LoadSurvey(ctx, created.ID, published.SurveyID, true)
	if err != nil {
		t.Fatalf("forced load failed: %v", err)
	}
	if view.Dirty || len(view.Survey.Sections) != 1 {
		t.Fatalf("expected stored survey restored, got %d sections", len(view.Survey.Sections))
	}
}

func TestPublishFailureLeavesStoredSessionUnchanged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.saveSurveyFn = func(context.Context, string, string, string, []byte) (string, error) {
		return "", errors.New("connection reset")
	}

	created, _ := env.service.CreateSession(ctx)
	_, err := env.service.PublishSession(ctx, created.ID)
	if !errors.Is(err, editor.ErrExternalIO) {
		t.Fatalf("expected ErrExternalIO, got %v", err)
	}

	view, err := env.service.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if view.SurveyID != "" || view.Busy {
		t.Fatalf("expected untouched session, got id=%q busy=%v", view.SurveyID, view.Busy)
	}
}

func TestLockedSessionIsBusy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, _ := env.service.CreateSession(ctx)

	release, err := env.sessions.Lock(ctx, created.ID)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	if _, err := env.service.AddSection(ctx, created.ID); !errors.Is(err, editor.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	view, err := env.service.GetSession(ctx, created.ID)
	if err != nil || !view.Busy {
		t.Fatalf("expected busy session, got busy=%v err=%v", view.Busy, err)
	}

	release()
	if _, err := env.service.AddSection(ctx, created.ID); err != nil {
		t.Fatalf("expected edit after release, got %v", err)
	}
}

func TestSelectIgnoresUnknownIDs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, _ := env.service.CreateSession(ctx)

	view, err := env.service.Select(ctx, created.ID, SelectInput{Mode: "section", SectionID: 999})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if view.Cursor != created.Cursor {
		t.Fatalf("expected cursor unchanged, got %+v", view.Cursor)
	}

	sec := created.Survey.Sections[0]
	view, err = env.service.Select(ctx, created.ID, SelectInput{Mode: "question", SectionID: sec.ID, QuestionID: sec.Questions[0].ID})
	if err != nil || view.Cursor.Mode != editor.ModeQuestion {
		t.Fatalf("expected question mode, got %+v, %v", view.Cursor, err)
	}

	if _, err := env.service.Select(ctx, created.ID, SelectInput{Mode: "page"}); err == nil {
		t.Fatal("expected invalid mode to fail")
	}
}

func TestBootstrapPurgesExpiredBoltSessions(t *testing.T) {
	sessions, err := editor.OpenBoltStore(filepath.Join(t.TempDir(), "sessions.db"), time.Millisecond)
	if err != nil {
		t.Fatalf("OpenBoltStore failed: %v", err)
	}
	t.Cleanup(func() { _ = sessions.Close() })
	svc := New(newFakeStore(), sessions, nil, nil, nil)

	created, err := svc.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	if _, err := svc.GetSession(context.Background(), created.ID); !errors.Is(err, editor.ErrSessionNotFound) {
		t.Fatalf("expected purged session, got %v", err)
	}
}

func TestExportWithoutExporterIsUnavailable(t *testing.T) {
	svc := New(newFakeStore(), nil, nil, nil, nil)
	_, err := svc.ExportSurvey(context.Background(), "1", "pdf")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 domain error, got %v", err)
	}
}
