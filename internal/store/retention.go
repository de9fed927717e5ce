package store

import (
	"context"
	"fmt"
	"time"
)

// DeleteExpiredDocuments hard-deletes documents created before cutoff and returns their storage paths.
// Extractions of those documents go with them through the foreign key cascade.
func (s *PostgresStore) DeleteExpiredDocuments(ctx context.Context, tenantID string, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM documents
		WHERE tenant_id=$1 AND created_at < $2
		RETURNING storage_path
	`, tenantID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete expired documents: %w", err)
	}
	defer rows.Close()

	paths := make([]string, 0)
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scan storage path: %w", err)
		}
		if path != "" {
			paths = append(paths, path)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired documents: %w", err)
	}
	return paths, nil
}

func (s *PostgresStore) DeleteExpiredExtractions(ctx context.Context, tenantID string, cutoff time.Time) (int, error) {
	return s.deleteOlderThan(ctx, "extractions", tenantID, cutoff)
}

func (s *PostgresStore) DeleteExpiredGenerations(ctx context.Context, tenantID string, cutoff time.Time) (int, error) {
	return s.deleteOlderThan(ctx, "generations", tenantID, cutoff)
}

func (s *PostgresStore) deleteOlderThan(ctx context.Context, table, tenantID string, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE tenant_id=$1 AND created_at < $2`, tenantID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired %s: %w", table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired %s rows affected: %w", table, err)
	}
	return int(affected), nil
}

// tenantPurgeOrder lists tenant tables children first; audit_logs is deliberately absent.
var tenantPurgeOrder = []string{
	"email_logs",
	"generations",
	"extractions",
	"documents",
	"tasks",
	"transactions",
	"assignments",
	"inbound_aliases",
}

// PurgeTenantData hard-deletes all tenant data except audit logs and soft-deletes the tenant.
// It returns the storage paths of the removed documents.
func (s *PostgresStore) PurgeTenantData(ctx context.Context, tenantID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tenant purge: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT storage_path FROM documents WHERE tenant_id=$1`, tenantID)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("list tenant documents: %w", err)
	}
	paths := make([]string, 0)
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			_ = tx.Rollback()
			return nil, fmt.Errorf("scan storage path: %w", err)
		}
		if path != "" {
			paths = append(paths, path)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("iterate tenant documents: %w", err)
	}

	for _, table := range tenantPurgeOrder {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE tenant_id=$1`, tenantID); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("purge %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tenants SET deleted_at=NOW() WHERE id=$1`, tenantID); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("soft delete tenant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tenant purge: %w", err)
	}
	return paths, nil
}
