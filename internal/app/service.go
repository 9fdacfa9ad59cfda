package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"surveyforge/api/internal/editor"
	"surveyforge/api/internal/export"
	"surveyforge/api/internal/publish"
	"surveyforge/api/internal/schema"
	"surveyforge/api/internal/search"
	"surveyforge/api/internal/store"
	"surveyforge/api/internal/survey"
	"surveyforge/api/internal/util"
)

type dataStore interface {
	Ping(context.Context) error
	ListSurveys(context.Context) ([]store.SurveySummary, error)
	GetSurvey(context.Context, string) (store.Survey, error)
	SaveSurvey(context.Context, string, string, string, []byte) (string, error)
	DeleteSurvey(context.Context, string) error
	InsertResult(context.Context, string, []byte) (string, error)
	ListResults(context.Context, string) ([]store.Result, error)
}

type searchIndex interface {
	Search(search.Query) search.Response
	IndexSurvey(search.SurveyRecord)
	DeleteSurvey(string)
	ReindexAll(context.Context)
}

type exporter interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

// sessionPurger is implemented by session stores that do not expire keys on
// their own.
type sessionPurger interface {
	Purge(time.Time) (int, error)
}

type Service struct {
	store    dataStore
	sessions editor.Store
	bucket   publish.Bucket
	search   searchIndex
	exporter exporter
}

// New wires the service. bucket and index may be nil when object storage or
// search are not configured.
func New(dataStore dataStore, sessions editor.Store, bucket publish.Bucket, index searchIndex, exp exporter) *Service {
	return &Service{
		store:    dataStore,
		sessions: sessions,
		bucket:   bucket,
		search:   index,
		exporter: exp,
	}
}

// Bootstrap drops expired local sessions and rebuilds the search index from
// the database.
func (s *Service) Bootstrap(ctx context.Context) error {
	if purger, ok := s.sessions.(sessionPurger); ok {
		purged, err := purger.Purge(time.Now())
		if err != nil {
			return fmt.Errorf("purge sessions: %w", err)
		}
		if purged > 0 {
			log.Printf("editor: purged %d expired sessions", purged)
		}
	}
	if s.search != nil {
		s.search.ReindexAll(ctx)
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingSessions(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}

// Stored surveys

func (s *Service) ListSurveys(ctx context.Context) ([]store.SurveySummary, error) {
	items, err := s.store.ListSurveys(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []store.SurveySummary{}
	}
	return items, nil
}

func (s *Service) GetSurvey(ctx context.Context, id string) (json.RawMessage, error) {
	stored, err := s.store.GetSurvey(ctx, id)
	if err != nil {
		return nil, err
	}
	return stored.Content, nil
}

// SaveSurvey stores an uploaded schema document. The document is normalized
// through the codec before it is written, so stored content always decodes.
func (s *Service) SaveSurvey(ctx context.Context, surveyID string, document json.RawMessage) (string, error) {
	decoded, err := schema.Unmarshal(document)
	if err != nil {
		return "", domainError(http.StatusUnprocessableEntity, "INVALID_DOCUMENT", err.Error(), nil)
	}
	return s.saveDecoded(ctx, surveyID, decoded)
}

func (s *Service) saveDecoded(ctx context.Context, surveyID string, decoded *survey.Survey) (string, error) {
	raw, err := schema.Marshal(decoded)
	if err != nil {
		return "", fmt.Errorf("encode survey: %w", err)
	}
	id, err := s.store.SaveSurvey(ctx, surveyID, decoded.Title, decoded.Description, raw)
	if err != nil {
		return "", err
	}

	if s.bucket != nil {
		if err := s.bucket.Put(ctx, id, raw); err != nil {
			log.Printf("publish: put survey %s: %v", id, err)
			if err := s.bucket.Remove(ctx, id); err != nil {
				log.Printf("publish: remove stale survey %s: %v", id, err)
			}
		}
	}
	if s.search != nil {
		s.search.IndexSurvey(search.RecordFromSurvey(id, decoded, time.Now().Unix()))
	}
	return id, nil
}

func (s *Service) DeleteSurvey(ctx context.Context, id string) error {
	if err := s.store.DeleteSurvey(ctx, id); err != nil {
		return err
	}
	if s.bucket != nil {
		if err := s.bucket.Remove(ctx, id); err != nil {
			log.Printf("publish: remove survey %s: %v", id, err)
		}
	}
	if s.search != nil {
		s.search.DeleteSurvey(id)
	}
	return nil
}

// RendererSchema returns the document the form renderer displays. The
// database row decides whether the survey exists; the bucket copy is served
// only when it is at least as new as the row.
func (s *Service) RendererSchema(ctx context.Context, id string) (json.RawMessage, error) {
	stored, err := s.store.GetSurvey(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.bucket == nil {
		return stored.Content, nil
	}

	obj, err := s.bucket.Get(ctx, id)
	switch {
	case err == nil && obj.CurrentAt(stored.UpdatedAt):
		return obj.Data, nil
	case err == nil:
		log.Printf("publish: survey %s copy from %s is older than the database, serving stored content", id, obj.UpdatedAt.Format(time.RFC3339))
	case !errors.Is(err, publish.ErrNotPublished):
		log.Printf("publish: get survey %s: %v", id, err)
	}
	return stored.Content, nil
}

// SubmitResult stores one respondent's answers. The payload is kept as sent;
// only its shape (a JSON object) is checked.
func (s *Service) SubmitResult(ctx context.Context, surveyID string, results json.RawMessage) (string, error) {
	var answers map[string]json.RawMessage
	if err := json.Unmarshal(results, &answers); err != nil || answers == nil {
		return "", validationError("results must be a JSON object")
	}
	return s.store.InsertResult(ctx, surveyID, results)
}

func (s *Service) ListResults(ctx context.Context, surveyID string) ([]store.Result, error) {
	if _, err := s.store.GetSurvey(ctx, surveyID); err != nil {
		return nil, err
	}
	items, err := s.store.ListResults(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []store.Result{}
	}
	return items, nil
}

func (s *Service) ExportSurvey(ctx context.Context, id, format string) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	parsed, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, export.Request{SurveyID: id, Format: parsed})
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// Builder sessions

// SessionView is a session as reported to clients. Busy also reflects a
// load or publish running in another request.
type SessionView struct {
	*editor.Session
	Schema schema.Document `json:"schema"`
}

func (s *Service) view(ctx context.Context, sess *editor.Session) SessionView {
	view := SessionView{Session: sess, Schema: sess.Schema()}
	if locked, err := s.sessions.Locked(ctx, sess.ID); err == nil && locked {
		sess.Busy = true
	}
	return view
}

func (s *Service) CreateSession(ctx context.Context) (SessionView, error) {
	sess := editor.New(util.NewID("ses"))
	if err := s.sessions.Save(ctx, sess); err != nil {
		return SessionView{}, err
	}
	return s.view(ctx, sess), nil
}

func (s *Service) GetSession(ctx context.Context, id string) (SessionView, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	return s.view(ctx, sess), nil
}

func (s *Service) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.sessions.Get(ctx, id); err != nil {
		return err
	}
	return s.sessions.Delete(ctx, id)
}

// withSession runs fn on a session under the store lock and saves the
// result. A session held by another request fails with editor.ErrLocked. The
// session is saved only when fn succeeds.
func (s *Service) withSession(ctx context.Context, id string, fn func(*editor.Session) error) (SessionView, error) {
	release, err := s.sessions.Lock(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	defer release()

	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	if err := fn(sess); err != nil {
		return SessionView{}, err
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return SessionView{}, err
	}
	return SessionView{Session: sess, Schema: sess.Schema()}, nil
}

func (s *Service) UpdateSettings(ctx context.Context, id string, patch survey.SettingsPatch) (SessionView, error) {
	return s.withSession(ctx, id, func(sess *editor.Session) error {
		return sess.UpdateSettings(patch)
	})
}

func (s *Service) AddSection(ctx context.Context, id string) (SessionView, error) {
	return s.withSession(ctx, id, func(sess *editor.Session) error {
		sess.AddSection()
		return nil
	})
}

func (s *Service) UpdateSection(ctx context.Context, id string, sectionID int, patch survey.SectionPatch) (SessionView, error) {
	return s.withSession(ctx, id, func(sess *editor.Session) error {
		_, err := sess.UpdateSection(sectionID, patch)
		return err
	})
}

func (s *Service) DeleteSection(ctx context.Context, id string, sectionID int) (SessionView, error) {
	return s.withSession(ctx, id, func(sess *editor.Session) error {
		_, err := sess.DeleteSection(sectionID)
		return err
	})
}

func (s *Service) AddQuestion(ctx context.Context, id string, sectionID int) (SessionView, error) {
	return s.withSession(ctx, id, func(sess *editor.Session) error {
		sess.AddQuestion(sectionID)
		return nil
	})
}

func (s *Service) UpdateQuestion(ctx context.Context, id string, sectionID, questionID int, patch survey.QuestionPatch) (SessionView, error) {
	return s.withSession(ctx, id, func(sess *editor.Session) error {
		_, err := sess.UpdateQuestion(sectionID, questionID, patch)
		return err
	})
}

func (s *Service) DeleteQuestion(ctx context.Context, id string, sectionID, questionID int) (SessionView, error) {
	return s.withSession(ctx, id, func(sess *editor.Session) error {
		_, err := sess.DeleteQuestion(sectionID, questionID)
		return err
	})
}

func (s *Service) MoveQuestion(ctx context.Context, id string, sectionID, questionID int, direction string) (SessionView, error) {
	dir, err := survey.ParseDirection(direction)
	if err != nil {
		return SessionView{}, validationError(err.Error())
	}
	return s.withSession(ctx, id, func(sess *editor.Session) error {
		sess.MoveQuestion(sectionID, questionID, dir)
		return nil
	})
}

func (s *Service) SetChoices(ctx context.Context, id string, sectionID, questionID int, text string) (SessionView, error) {
	return s.withSession(ctx, id, func(sess *editor.Session) error {
		sess.SetChoices(sectionID, questionID, text)
		return nil
	})
}

type SelectInput struct {
	Mode       string `json:"mode"`
	SectionID  int    `json:"sectionId"`
	QuestionID int    `json:"questionId"`
}

// Select moves the cursor. Unknown ids leave the cursor where it was.
func (s *Service) Select(ctx context.Context, id string, input SelectInput) (SessionView, error) {
	mode, err := editor.ParseMode(input.Mode)
	if err != nil {
		return SessionView{}, validationError(err.Error())
	}
	return s.withSession(ctx, id, func(sess *editor.Session) error {
		switch mode {
		case editor.ModeSurvey:
			sess.SelectSurvey()
		case editor.ModeSection:
			sess.SelectSection(input.SectionID)
		case editor.ModeQuestion:
			sess.SelectQuestion(input.SectionID, input.QuestionID)
		}
		return nil
	})
}

func (s *Service) LoadSurvey(ctx context.Context, id, surveyID string, force bool) (SessionView, error) {
	if strings.TrimSpace(surveyID) == "" {
		return SessionView{}, validationError("surveyId is required")
	}
	return s.withSession(ctx, id, func(sess *editor.Session) error {
		return sess.Load(ctx, repository{service: s}, surveyID, force)
	})
}

func (s *Service) PublishSession(ctx context.Context, id string) (SessionView, error) {
	return s.withSession(ctx, id, func(sess *editor.Session) error {
		_, err := sess.Publish(ctx, repository{service: s})
		return err
	})
}

// repository connects editing sessions to the database and the publish
// side effects of a save.
type repository struct {
	service *Service
}

func (r repository) ReadSchema(ctx context.Context, surveyID string) ([]byte, error) {
	stored, err := r.service.store.GetSurvey(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	return stored.Content, nil
}

func (r repository) SaveSchema(ctx context.Context, surveyID string, document []byte) (string, error) {
	decoded, err := schema.Unmarshal(document)
	if err != nil {
		return "", err
	}
	return r.service.saveDecoded(ctx, surveyID, decoded)
}
