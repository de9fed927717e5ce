package store

import (
	"context"
	"fmt"
	"time"
)

const generationColumns = `
	id, tenant_id, assignment_id, type, prompt_version, llm_provider, llm_model, output_text, output_metadata,
	edited_text, tone, input_data_snapshot, token_count, is_approved, approved_by, approved_at, created_by, created_at`

func scanGeneration(row rowScanner) (Generation, error) {
	var item Generation
	var metadata, snapshot []byte
	err := row.Scan(
		&item.ID, &item.TenantID, &item.AssignmentID, &item.Type, &item.PromptVersion, &item.LLMProvider,
		&item.LLMModel, &item.OutputText, &metadata, &item.EditedText, &item.Tone, &snapshot, &item.TokenCount,
		&item.IsApproved, &item.ApprovedBy, &item.ApprovedAt, &item.CreatedBy, &item.CreatedAt,
	)
	if err != nil {
		return Generation{}, err
	}
	item.OutputMetadata = decodeJSON(metadata)
	item.InputDataSnapshot = decodeJSON(snapshot)
	return item, nil
}

func (s *PostgresStore) InsertGeneration(ctx context.Context, item Generation) error {
	metadata, err := encodeJSON(item.OutputMetadata)
	if err != nil {
		return fmt.Errorf("encode output metadata: %w", err)
	}
	snapshot, err := encodeJSON(item.InputDataSnapshot)
	if err != nil {
		return fmt.Errorf("encode input snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO generations (
			id, tenant_id, assignment_id, type, prompt_version, llm_provider, llm_model, output_text,
			output_metadata, tone, input_data_snapshot, token_count, is_approved, created_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11::jsonb, $12, $13, $14)
	`, item.ID, item.TenantID, item.AssignmentID, item.Type, item.PromptVersion, item.LLMProvider, item.LLMModel,
		item.OutputText, metadata, item.Tone, snapshot, item.TokenCount, item.IsApproved, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetGeneration(ctx context.Context, tenantID, generationID string) (Generation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+generationColumns+`
		FROM generations
		WHERE id=$1 AND tenant_id=$2
	`, generationID, tenantID)
	return scanGeneration(row)
}

func (s *PostgresStore) ListGenerations(ctx context.Context, tenantID, assignmentID string) ([]Generation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+generationColumns+`
		FROM generations
		WHERE tenant_id=$1 AND assignment_id=$2
		ORDER BY created_at DESC
	`, tenantID, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	items := make([]Generation, 0)
	for rows.Next() {
		item, err := scanGeneration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generations: %w", err)
	}
	return items, nil
}

// ApproveGeneration only stamps rows that are not yet approved, so approver and timestamp never move.
func (s *PostgresStore) ApproveGeneration(ctx context.Context, tenantID, generationID, approverID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE generations
		SET is_approved=TRUE, approved_by=$3, approved_at=$4
		WHERE id=$1 AND tenant_id=$2 AND NOT is_approved
	`, generationID, tenantID, approverID, at)
	if err != nil {
		return fmt.Errorf("approve generation: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateGenerationEditedText(ctx context.Context, tenantID, generationID, text string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE generations
		SET edited_text=$3
		WHERE id=$1 AND tenant_id=$2
	`, generationID, tenantID, text)
	if err != nil {
		return fmt.Errorf("edit generation: %w", err)
	}
	return expectAffected(result, "edit generation")
}
