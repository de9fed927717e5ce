package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetTenant(ctx context.Context, tenantID string) (Tenant, error) {
	var item Tenant
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, retention_raw_days, retention_derived_days, created_at, deleted_at
		FROM tenants
		WHERE id=$1 AND deleted_at IS NULL
	`, tenantID).Scan(&item.ID, &item.Name, &item.RetentionRawDays, &item.RetentionDerivedDays, &item.CreatedAt, &item.DeletedAt)
	if err != nil {
		return Tenant{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListActiveTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, retention_raw_days, retention_derived_days, created_at, deleted_at
		FROM tenants
		WHERE deleted_at IS NULL
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	items := make([]Tenant, 0)
	for rows.Next() {
		var item Tenant
		if err := rows.Scan(&item.ID, &item.Name, &item.RetentionRawDays, &item.RetentionDerivedDays, &item.CreatedAt, &item.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenants: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertAuditLog(ctx context.Context, entry AuditLog) error {
	metadata, err := encodeJSON(entry.Metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, tenant_id, actor_user_id, action, entity_type, entity_id, metadata_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
	`, entry.ID, entry.TenantID, entry.ActorUserID, entry.Action, entry.EntityType, entry.EntityID, metadata)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetActiveInboundAlias(ctx context.Context, alias string) (InboundAlias, error) {
	var item InboundAlias
	err := s.db.QueryRowContext(ctx, `
		SELECT a.id, a.tenant_id, a.email_alias, a.is_active
		FROM inbound_aliases a
		JOIN tenants t ON t.id = a.tenant_id AND t.deleted_at IS NULL
		WHERE a.email_alias=$1 AND a.is_active
	`, alias).Scan(&item.ID, &item.TenantID, &item.EmailAlias, &item.IsActive)
	if err != nil {
		return InboundAlias{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertEmailLog(ctx context.Context, entry EmailLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_logs (id, tenant_id, assignment_id, recipient_email, recipient_name, subject, template_name, status, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, entry.TenantID, entry.AssignmentID, entry.RecipientEmail, entry.RecipientName, entry.Subject, entry.TemplateName, entry.Status, entry.SentAt)
	if err != nil {
		return fmt.Errorf("insert email log: %w", err)
	}
	return nil
}

// encodeJSON renders nil maps as "{}" so jsonb NOT NULL columns accept them.
func encodeJSON(value map[string]any) (string, error) {
	if value == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeJSON(raw []byte) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func expectAffected(result sql.Result, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
