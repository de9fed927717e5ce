package store

import (
	"context"
	"fmt"
)

// SupersedeCompletedExtractions flips every completed extraction of the document to superseded.
func (s *PostgresStore) SupersedeCompletedExtractions(ctx context.Context, documentID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE extractions
		SET status='superseded'
		WHERE document_id=$1 AND status='completed'
	`, documentID)
	if err != nil {
		return 0, fmt.Errorf("supersede extractions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("supersede extractions rows affected: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) InsertExtraction(ctx context.Context, item Extraction) error {
	extracted, err := encodeJSON(item.ExtractedJSON)
	if err != nil {
		return fmt.Errorf("encode extracted json: %w", err)
	}
	confidence, err := encodeJSON(item.ConfidenceJSON)
	if err != nil {
		return fmt.Errorf("encode confidence json: %w", err)
	}
	references, err := encodeJSON(item.SourceReferences)
	if err != nil {
		return fmt.Errorf("encode source references: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO extractions (
			id, tenant_id, assignment_id, document_id, schema_version, llm_provider, llm_model, prompt_version,
			extracted_json, confidence_json, source_references, status, processing_time_ms, token_count
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10::jsonb, $11::jsonb, $12, $13, $14)
	`, item.ID, item.TenantID, item.AssignmentID, item.DocumentID, item.SchemaVersion, item.LLMProvider, item.LLMModel,
		item.PromptVersion, extracted, confidence, references, item.Status, item.ProcessingTimeMS, item.TokenCount)
	if err != nil {
		return fmt.Errorf("insert extraction: %w", err)
	}
	return nil
}

// ListCompletedExtractions returns completed extractions oldest first, ties broken by id.
func (s *PostgresStore) ListCompletedExtractions(ctx context.Context, tenantID, assignmentID string) ([]Extraction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.tenant_id, e.assignment_id, e.document_id, e.schema_version, e.llm_provider, e.llm_model,
		       e.prompt_version, e.extracted_json, e.confidence_json, e.source_references, e.status,
		       e.processing_time_ms, e.token_count, e.created_at
		FROM extractions e
		JOIN documents d ON d.id = e.document_id AND d.deleted_at IS NULL
		WHERE e.tenant_id=$1 AND e.assignment_id=$2 AND e.status='completed'
		ORDER BY e.created_at ASC, e.id ASC
	`, tenantID, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("list extractions: %w", err)
	}
	defer rows.Close()

	items := make([]Extraction, 0)
	for rows.Next() {
		var item Extraction
		var extracted, confidence, references []byte
		if err := rows.Scan(&item.ID, &item.TenantID, &item.AssignmentID, &item.DocumentID, &item.SchemaVersion,
			&item.LLMProvider, &item.LLMModel, &item.PromptVersion, &extracted, &confidence, &references,
			&item.Status, &item.ProcessingTimeMS, &item.TokenCount, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan extraction: %w", err)
		}
		item.ExtractedJSON = decodeJSON(extracted)
		item.ConfidenceJSON = decodeJSON(confidence)
		item.SourceReferences = decodeJSON(references)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate extractions: %w", err)
	}
	return items, nil
}
