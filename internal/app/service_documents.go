package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"brokerflow/api/internal/blob"
	"brokerflow/api/internal/extraction"
	"brokerflow/api/internal/pdftext"
	"brokerflow/api/internal/store"
	"brokerflow/api/internal/util"
)

const signedURLExpiry = time.Hour

type UploadInput struct {
	Filename    string
	ContentType string
	Data        []byte
}

func (s *Service) UploadDocument(ctx context.Context, session Session, assignmentID string, input UploadInput) (store.Document, error) {
	if _, err := s.GetAssignment(ctx, session, assignmentID); err != nil {
		return store.Document{}, err
	}
	if len(input.Data) == 0 {
		return store.Document{}, validationError("Filen är tom", nil)
	}
	filename := strings.TrimSpace(input.Filename)
	if filename == "" {
		filename = "dokument"
	}

	doc, err := s.storeDocument(ctx, session.TenantID, assignmentID, filename, input.ContentType, input.Data)
	if err != nil {
		return store.Document{}, err
	}
	doc.Source = store.SourceUpload
	doc.UploadedBy = optionalString(session.UserID)
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return store.Document{}, err
	}

	s.audit(ctx, session.TenantID, session.UserID, "document.uploaded", "document", doc.ID, map[string]any{
		"assignment_id":   assignmentID,
		"filename":        doc.Filename,
		"file_size_bytes": doc.FileSizeBytes,
		"mime_type":       doc.MimeType,
	})
	return doc, nil
}

// storeDocument uploads the bytes and returns an unsaved document row for them.
func (s *Service) storeDocument(ctx context.Context, tenantID, assignmentID, filename, contentType string, data []byte) (store.Document, error) {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = pdftext.DetectMIME(data)
	}
	objectPath := blob.ObjectPath(tenantID, assignmentID, filename)
	if err := s.blobs.Upload(ctx, objectPath, data, contentType); err != nil {
		return store.Document{}, upstreamFailure("Kunde inte spara filen i lagringen", err)
	}
	return store.Document{
		ID:               util.NewID("doc"),
		TenantID:         tenantID,
		AssignmentID:     optionalString(assignmentID),
		Filename:         filename,
		StoragePath:      objectPath,
		FileSizeBytes:    int64(len(data)),
		MimeType:         contentType,
		DocType:          extraction.DocOvrigt,
		ProcessingStatus: store.ProcessingUploaded,
	}, nil
}

func (s *Service) ListDocuments(ctx context.Context, session Session, assignmentID string) ([]store.Document, error) {
	if _, err := s.GetAssignment(ctx, session, assignmentID); err != nil {
		return nil, err
	}
	return s.store.ListDocuments(ctx, session.TenantID, assignmentID)
}

func (s *Service) getDocument(ctx context.Context, session Session, documentID string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, session.TenantID, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, notFound("Dokumentet hittades inte")
	}
	return doc, err
}

// DocumentURL returns a download link valid for one hour.
func (s *Service) DocumentURL(ctx context.Context, session Session, documentID string) (string, error) {
	doc, err := s.getDocument(ctx, session, documentID)
	if err != nil {
		return "", err
	}
	url, err := s.blobs.SignedURL(ctx, doc.StoragePath, signedURLExpiry)
	if err != nil {
		return "", upstreamFailure("Kunde inte skapa nedladdningslänk", err)
	}
	return url, nil
}

func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) error {
	doc, err := s.getDocument(ctx, session, documentID)
	if err != nil {
		return err
	}
	if err := s.store.SoftDeleteDocument(ctx, session.TenantID, documentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Dokumentet hittades inte")
		}
		return err
	}
	s.audit(ctx, session.TenantID, session.UserID, "document.deleted", "document", documentID, map[string]any{
		"assignment_id": derefString(doc.AssignmentID),
		"filename":      doc.Filename,
	})
	return nil
}
