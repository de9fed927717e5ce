package app

import (
	"context"
	"time"

	"brokerflow/api/internal/store"
)

const (
	defaultRetentionRawDays     = 365
	defaultRetentionDerivedDays = 180
)

type TenantRetention struct {
	TenantID      string                `json:"tenant_id"`
	Deleted       store.RetentionResult `json:"deleted"`
	RawCutoff     time.Time             `json:"raw_cutoff"`
	DerivedCutoff time.Time             `json:"derived_cutoff"`
	Error         string                `json:"error,omitempty"`
}

type RetentionReport struct {
	Tenants []TenantRetention `json:"tenants"`
}

// RunRetention removes raw and derived data past each tenant's retention window.
// Audit logs are never touched. A failing tenant is reported and the pass continues.
func (s *Service) RunRetention(ctx context.Context) (RetentionReport, error) {
	tenants, err := s.store.ListActiveTenants(ctx)
	if err != nil {
		return RetentionReport{}, err
	}

	report := RetentionReport{Tenants: make([]TenantRetention, 0, len(tenants))}
	now := s.now().UTC()
	for _, tenant := range tenants {
		result := s.cleanupTenant(ctx, tenant, now)
		if result.Error != "" {
			s.log.Error("retention cleanup failed", "tenant_id", tenant.ID, "error", result.Error)
		} else if result.Deleted.Total() > 0 {
			s.log.Info("retention cleanup", "tenant_id", tenant.ID, "documents", result.Deleted.Documents,
				"extractions", result.Deleted.Extractions, "generations", result.Deleted.Generations)
		}
		report.Tenants = append(report.Tenants, result)
	}
	return report, nil
}

func (s *Service) cleanupTenant(ctx context.Context, tenant store.Tenant, now time.Time) TenantRetention {
	rawDays := tenant.RetentionRawDays
	if rawDays <= 0 {
		rawDays = defaultRetentionRawDays
	}
	derivedDays := tenant.RetentionDerivedDays
	if derivedDays <= 0 {
		derivedDays = defaultRetentionDerivedDays
	}
	out := TenantRetention{
		TenantID:      tenant.ID,
		RawCutoff:     now.AddDate(0, 0, -rawDays),
		DerivedCutoff: now.AddDate(0, 0, -derivedDays),
	}

	paths, err := s.store.DeleteExpiredDocuments(ctx, tenant.ID, out.RawCutoff)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Deleted.Documents = len(paths)
	if len(paths) > 0 {
		removed, err := s.blobs.Remove(ctx, paths)
		if err != nil {
			s.log.Warn("remove expired blobs", "tenant_id", tenant.ID, "error", err)
		}
		out.Deleted.StorageFiles = removed
	}

	if out.Deleted.Extractions, err = s.store.DeleteExpiredExtractions(ctx, tenant.ID, out.DerivedCutoff); err != nil {
		out.Error = err.Error()
		return out
	}
	if out.Deleted.Generations, err = s.store.DeleteExpiredGenerations(ctx, tenant.ID, out.DerivedCutoff); err != nil {
		out.Error = err.Error()
		return out
	}

	if out.Deleted.Total() > 0 {
		s.audit(ctx, tenant.ID, "", "data.retention_cleanup", "tenant", tenant.ID, map[string]any{
			"documents_deleted":     out.Deleted.Documents,
			"extractions_deleted":   out.Deleted.Extractions,
			"generations_deleted":   out.Deleted.Generations,
			"storage_files_deleted": out.Deleted.StorageFiles,
			"raw_cutoff":            out.RawCutoff.Format(time.RFC3339),
			"derived_cutoff":        out.DerivedCutoff.Format(time.RFC3339),
		})
	}
	return out
}
