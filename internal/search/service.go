package search

import "log"

// Service is the facade that tries Meilisearch first and falls back to
// Postgres.
type Service struct {
	meili *Meili
	pg    *PgSearch
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, pg *PgSearch) *Service {
	return &Service{meili: meili, pg: pg}
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}

	results, total, err := s.pg.Search(q)
	if err != nil {
		log.Printf("search: postgres error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexTimeline indexes a public timeline (fire-and-forget to Meilisearch).
func (s *Service) IndexTimeline(rec TimelineRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexTimeline(rec); err != nil {
			log.Printf("search: index timeline %s: %v", rec.ID, err)
		}
	}()
}

// RemoveTimeline drops a timeline from the index (fire-and-forget).
func (s *Service) RemoveTimeline(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteTimeline(id); err != nil {
			log.Printf("search: remove timeline %s: %v", id, err)
		}
	}()
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
