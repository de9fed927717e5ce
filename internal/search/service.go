package search

import (
	"context"

	"brokerflow/api/internal/logger"
)

// Service is the facade that tries Meilisearch first and falls back to the store.
type Service struct {
	meili    *Meili
	fallback *StoreFallback
	log      *logger.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback *StoreFallback, log *logger.Logger) *Service {
	return &Service{meili: meili, fallback: fallback, log: log}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: EngineMeili}
		}
		s.log.Warn("meilisearch error, falling back to postgres", "error", err)
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error("fallback search failed", "tenant_id", q.TenantID, "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Engine: EngineFallback}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: EngineFallback}
}

// IndexAssignment pushes an assignment to Meilisearch (fire-and-forget).
func (s *Service) IndexAssignment(record AssignmentRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexAssignment(record); err != nil {
			s.log.Warn("index assignment", "assignment_id", record.ID, "error", err)
		}
	}()
}

// DeleteAssignment removes an assignment from the search index (fire-and-forget).
func (s *Service) DeleteAssignment(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteAssignment(id); err != nil {
			s.log.Warn("delete assignment from index", "assignment_id", id, "error", err)
		}
	}()
}

// Reindex pushes every given assignment to Meilisearch. Called at startup when the index is reachable.
func (s *Service) Reindex(records []AssignmentRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if err := s.meili.IndexAssignments(records); err != nil {
		s.log.Warn("reindex assignments", "count", len(records), "error", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
