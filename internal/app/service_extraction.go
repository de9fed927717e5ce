package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"brokerflow/api/internal/blob"
	"brokerflow/api/internal/extraction"
	"brokerflow/api/internal/lock"
	"brokerflow/api/internal/metrics"
	"brokerflow/api/internal/pdftext"
	"brokerflow/api/internal/store"
	"brokerflow/api/internal/util"
)

const (
	msgDownloadFailed  = "Kunde inte ladda ner fil från lagringen"
	msgOnlyPDF         = "Bara PDF-filer kan extraheras just nu"
	msgUnreadablePDF   = "PDF-filen kunde inte läsas"
	msgScanned         = "Dokumentet verkar vara en inskannad bild. OCR-stöd är inte tillgängligt ännu."
	msgLLMFailed       = "AI-tjänsten kunde inte behandla dokumentet"
	msgExtractionSaved = "Kunde inte spara extraktionen"
)

type ExtractionResult struct {
	ExtractionID      string         `json:"extraction_id"`
	DocumentID        string         `json:"document_id"`
	AssignmentID      string         `json:"assignment_id"`
	DocType           string         `json:"doc_type"`
	DocTypeConfidence float64        `json:"doc_type_confidence"`
	FieldCount        int            `json:"field_count"`
	ProcessingTimeMS  int64          `json:"processing_time_ms"`
	PageCount         int            `json:"page_count"`
	Data              map[string]any `json:"data"`
	Confidence        map[string]any `json:"confidence"`
}

// RunExtraction classifies a stored PDF and extracts property fields from it. Earlier completed
// extractions of the same document are superseded. Every failure after the document enters
// processing leaves it in error and can be retried.
func (s *Service) RunExtraction(ctx context.Context, session Session, documentID, assignmentID string) (ExtractionResult, error) {
	doc, err := s.getDocument(ctx, session, documentID)
	if err != nil {
		return ExtractionResult{}, err
	}
	if doc.AssignmentID != nil {
		if assignmentID != "" && assignmentID != *doc.AssignmentID {
			return ExtractionResult{}, notFound("Dokumentet hittades inte i uppdraget")
		}
		assignmentID = *doc.AssignmentID
	}
	if assignmentID == "" {
		return ExtractionResult{}, validationError("Dokumentet är inte kopplat till ett uppdrag", nil)
	}
	if _, err := s.GetAssignment(ctx, session, assignmentID); err != nil {
		return ExtractionResult{}, err
	}

	if s.locker != nil {
		lease, err := s.locker.Acquire(ctx, documentID, s.cfg.ExtractionLockTTL)
		switch {
		case errors.Is(err, lock.ErrNotAcquired):
			return ExtractionResult{}, domainError(http.StatusConflict, CodeExtractionInProgress,
				"Extraktion pågår redan för dokumentet", map[string]any{"document_id": documentID})
		case err != nil:
			s.log.Warn("extraction lock unavailable, continuing unguarded", "document_id", documentID, "error", err)
		default:
			defer func() {
				if err := lease.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, lock.ErrNotHeld) {
					s.log.Warn("release extraction lock", "document_id", documentID, "error", err)
				}
			}()
		}
	}

	started := s.now()
	if err := s.store.UpdateDocumentProcessing(ctx, documentID, store.ProcessingRunning, nil); err != nil {
		return ExtractionResult{}, err
	}

	fail := func(outcome string, cause error, message string) error {
		metrics.ExtractionsTotal.WithLabelValues(outcome).Inc()
		if err := s.store.UpdateDocumentProcessing(context.WithoutCancel(ctx), documentID, store.ProcessingError, &message); err != nil {
			s.log.Error("mark document failed", "document_id", documentID, "error", err)
		}
		s.audit(ctx, session.TenantID, session.UserID, "extraction.failed", "document", documentID, map[string]any{
			"assignment_id": assignmentID,
			"error":         message,
		})
		s.log.Warn("extraction failed", "document_id", documentID, "outcome", outcome, "error", cause)
		return cause
	}

	data, err := s.blobs.Download(ctx, doc.StoragePath)
	switch {
	case errors.Is(err, blob.ErrNotFound) || (err == nil && len(data) == 0):
		return ExtractionResult{}, fail("not_found", notFound(msgDownloadFailed), msgDownloadFailed)
	case err != nil:
		return ExtractionResult{}, fail("upstream_error", upstreamFailure(msgDownloadFailed, err), msgDownloadFailed)
	}

	if !pdftext.IsPDF(doc.MimeType, data) {
		return ExtractionResult{}, fail("unsupported",
			domainError(http.StatusUnprocessableEntity, CodeUnsupportedFormat, msgOnlyPDF, map[string]any{"mime_type": doc.MimeType}),
			msgOnlyPDF)
	}

	parsed, err := pdftext.Extract(data)
	if err != nil {
		return ExtractionResult{}, fail("unsupported",
			domainError(http.StatusUnprocessableEntity, CodeUnsupportedFormat, msgUnreadablePDF, nil), msgUnreadablePDF)
	}
	if parsed.IsScannedImage {
		return ExtractionResult{}, fail("scanned",
			domainError(http.StatusUnprocessableEntity, CodeScannedDocument, msgScanned, map[string]any{"page_count": parsed.PageCount}),
			msgScanned)
	}

	llmCtx, cancel := s.llmContext(ctx)
	defer cancel()

	classification, err := extraction.Classify(llmCtx, s.llm, parsed.Text)
	if err != nil {
		return ExtractionResult{}, fail("upstream_error", upstreamFailure(msgLLMFailed, err), msgLLMFailed)
	}
	if err := s.store.UpdateDocumentClassification(ctx, documentID, classification.DocType, classification.Confidence); err != nil {
		return ExtractionResult{}, fail("error", err, msgExtractionSaved)
	}

	fields, err := extraction.ExtractFields(llmCtx, s.llm, parsed.Text)
	if err != nil {
		return ExtractionResult{}, fail("upstream_error", upstreamFailure(msgLLMFailed, err), msgLLMFailed)
	}

	elapsed := s.now().Sub(started)
	row := store.Extraction{
		ID:               util.NewID("ext"),
		TenantID:         session.TenantID,
		AssignmentID:     assignmentID,
		DocumentID:       documentID,
		SchemaVersion:    extraction.SchemaVersion,
		LLMProvider:      s.llm.Name(),
		LLMModel:         s.llm.Model(),
		PromptVersion:    fields.PromptVersion,
		ExtractedJSON:    fields.Data,
		ConfidenceJSON:   fields.Confidence,
		SourceReferences: fields.SourceReferences,
		Status:           store.ExtractionCompleted,
		ProcessingTimeMS: elapsed.Milliseconds(),
		TokenCount:       classification.TokenCount + fields.TokenCount,
	}
	if _, err := s.store.SupersedeCompletedExtractions(ctx, documentID); err != nil {
		return ExtractionResult{}, fail("error", err, msgExtractionSaved)
	}
	if err := s.store.InsertExtraction(ctx, row); err != nil {
		return ExtractionResult{}, fail("error", fmt.Errorf("save extraction: %w", err), msgExtractionSaved)
	}
	if err := s.store.UpdateDocumentProcessing(ctx, documentID, store.ProcessingExtracted, nil); err != nil {
		return ExtractionResult{}, fail("error", err, msgExtractionSaved)
	}

	s.audit(ctx, session.TenantID, session.UserID, "extraction.completed", "extraction", row.ID, map[string]any{
		"document_id":         documentID,
		"assignment_id":       assignmentID,
		"doc_type":            classification.DocType,
		"doc_type_confidence": classification.Confidence,
		"field_count":         len(fields.Data),
		"processing_time_ms":  row.ProcessingTimeMS,
		"llm_provider":        row.LLMProvider,
		"llm_model":           row.LLMModel,
	})
	metrics.ExtractionsTotal.WithLabelValues("completed").Inc()
	metrics.ExtractionDuration.Observe(elapsed.Seconds())

	return ExtractionResult{
		ExtractionID:      row.ID,
		DocumentID:        documentID,
		AssignmentID:      assignmentID,
		DocType:           classification.DocType,
		DocTypeConfidence: classification.Confidence,
		FieldCount:        len(fields.Data),
		ProcessingTimeMS:  row.ProcessingTimeMS,
		PageCount:         parsed.PageCount,
		Data:              fields.Data,
		Confidence:        fields.Confidence,
	}, nil
}
