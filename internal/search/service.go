package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to SQL.
type Service struct {
	meili *Meili
	sql   *SQLSearch
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, sql *SQLSearch) *Service {
	return &Service{meili: meili, sql: sql}
}

func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to sql: %v", err)
	}

	if s.sql == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.sql.Search(q)
	if err != nil {
		log.Printf("search: sql error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexSurvey indexes a published survey (fire-and-forget to Meilisearch).
func (s *Service) IndexSurvey(rec SurveyRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexSurvey(rec); err != nil {
			log.Printf("search: index survey %s: %v", rec.ID, err)
		}
	}()
}

// DeleteSurvey removes a survey from the search index (fire-and-forget).
func (s *Service) DeleteSurvey(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteSurvey(id); err != nil {
			log.Printf("search: delete survey %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes every stored survey to Meilisearch. Called at boot.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.sql == nil {
		return
	}
	records, err := s.sql.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexSurveys(records); err != nil {
		log.Printf("search: reindex surveys: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
