package app

import (
	"context"

	"brokerflow/api/internal/extraction"
	"brokerflow/api/internal/store"
)

// MergedPropertyData folds every completed extraction of an assignment into one view.
func (s *Service) MergedPropertyData(ctx context.Context, session Session, assignmentID string) (extraction.Merged, error) {
	if _, err := s.GetAssignment(ctx, session, assignmentID); err != nil {
		return extraction.Merged{}, err
	}
	rows, err := s.store.ListCompletedExtractions(ctx, session.TenantID, assignmentID)
	if err != nil {
		return extraction.Merged{}, err
	}
	return extraction.Merge(rows), nil
}

// ConfirmPropertyData stores the agent-approved values. Confirming again overwrites.
func (s *Service) ConfirmPropertyData(ctx context.Context, session Session, assignmentID string, data map[string]any, edited bool) (store.Assignment, error) {
	if _, err := s.GetAssignment(ctx, session, assignmentID); err != nil {
		return store.Assignment{}, err
	}
	coerced := extraction.CoerceValues(data)
	if err := s.store.UpdateConfirmedPropertyData(ctx, session.TenantID, assignmentID, coerced); err != nil {
		return store.Assignment{}, err
	}
	s.audit(ctx, session.TenantID, session.UserID, "assignment.data_confirmed", "assignment", assignmentID, map[string]any{
		"edited":      edited,
		"field_count": len(coerced),
	})
	return s.store.GetAssignment(ctx, session.TenantID, assignmentID)
}
