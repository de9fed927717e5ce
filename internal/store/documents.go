package store

import (
	"context"
	"fmt"
)

const documentColumns = `
	id, tenant_id, assignment_id, filename, storage_path, file_size_bytes, mime_type, doc_type,
	doc_type_confidence::float8, processing_status, processing_error, source, source_email_from,
	source_email_subject, uploaded_by, created_at, deleted_at`

func scanDocument(row rowScanner) (Document, error) {
	var item Document
	err := row.Scan(
		&item.ID, &item.TenantID, &item.AssignmentID, &item.Filename, &item.StoragePath, &item.FileSizeBytes,
		&item.MimeType, &item.DocType, &item.DocTypeConfidence, &item.ProcessingStatus, &item.ProcessingError,
		&item.Source, &item.SourceEmailFrom, &item.SourceEmailSubject, &item.UploadedBy, &item.CreatedAt, &item.DeletedAt,
	)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	if item.DocType == "" {
		item.DocType = "ovrigt"
	}
	if item.ProcessingStatus == "" {
		item.ProcessingStatus = ProcessingUploaded
	}
	if item.Source == "" {
		item.Source = SourceUpload
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (
			id, tenant_id, assignment_id, filename, storage_path, file_size_bytes, mime_type, doc_type,
			processing_status, source, source_email_from, source_email_subject, uploaded_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, item.ID, item.TenantID, item.AssignmentID, item.Filename, item.StoragePath, item.FileSizeBytes, item.MimeType,
		item.DocType, item.ProcessingStatus, item.Source, item.SourceEmailFrom, item.SourceEmailSubject, item.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, tenantID, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id=$1 AND tenant_id=$2 AND deleted_at IS NULL
	`, documentID, tenantID)
	return scanDocument(row)
}

func (s *PostgresStore) ListDocuments(ctx context.Context, tenantID, assignmentID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE tenant_id=$1 AND assignment_id=$2 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`, tenantID, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// UpdateDocumentProcessing clears processing_error when message is nil.
func (s *PostgresStore) UpdateDocumentProcessing(ctx context.Context, documentID, status string, message *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET processing_status=$2, processing_error=$3
		WHERE id=$1
	`, documentID, status, message)
	if err != nil {
		return fmt.Errorf("update document processing: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDocumentClassification(ctx context.Context, documentID, docType string, confidence float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET doc_type=$2, doc_type_confidence=$3
		WHERE id=$1
	`, documentID, docType, confidence)
	if err != nil {
		return fmt.Errorf("update document classification: %w", err)
	}
	return nil
}

func (s *PostgresStore) SoftDeleteDocument(ctx context.Context, tenantID, documentID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET deleted_at=NOW()
		WHERE id=$1 AND tenant_id=$2 AND deleted_at IS NULL
	`, documentID, tenantID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return expectAffected(result, "delete document")
}
