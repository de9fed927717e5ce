package app

import (
	"context"
	"net/http"
	"time"

	"brokerflow/api/internal/rbac"
)

type PurgeResult struct {
	DocumentsDeleted    int `json:"documents_deleted"`
	StorageFilesRemoved int `json:"storage_files_removed"`
}

// PurgeTenant erases all data of the caller's tenant except the audit trail and soft deletes the
// tenant itself. Admins only.
func (s *Service) PurgeTenant(ctx context.Context, session Session) (PurgeResult, error) {
	if !s.Can(session.Role, rbac.ActionPurgeTenant) {
		return PurgeResult{}, domainError(http.StatusForbidden, CodeForbidden, "Endast administratörer kan radera organisationens data", nil)
	}
	s.audit(ctx, session.TenantID, session.UserID, "tenant.data_deletion_requested", "tenant", session.TenantID, map[string]any{
		"requested_by": session.UserID,
		"requested_at": s.now().UTC().Format(time.RFC3339),
	})

	paths, err := s.store.PurgeTenantData(ctx, session.TenantID)
	if err != nil {
		return PurgeResult{}, err
	}
	result := PurgeResult{DocumentsDeleted: len(paths)}
	if len(paths) > 0 {
		removed, err := s.blobs.Remove(ctx, paths)
		if err != nil {
			s.log.Warn("remove tenant blobs", "tenant_id", session.TenantID, "error", err)
		}
		result.StorageFilesRemoved = removed
	}

	s.audit(ctx, session.TenantID, session.UserID, "tenant.data_deleted", "tenant", session.TenantID, map[string]any{
		"documents_deleted":     result.DocumentsDeleted,
		"storage_files_removed": result.StorageFilesRemoved,
		"completed_at":          s.now().UTC().Format(time.RFC3339),
	})
	s.log.Info("tenant data purged", "tenant_id", session.TenantID, "documents", result.DocumentsDeleted)
	return result, nil
}
