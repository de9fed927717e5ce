package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"brokerflow/api/internal/blob"
	"brokerflow/api/internal/extraction"
	"brokerflow/api/internal/pdftext"
	"brokerflow/api/internal/store"
	"brokerflow/api/internal/util"
)

const msgContractFailed = "Kontraktet kunde inte behandlas"

type ContractOutcome struct {
	Transaction  store.Transaction `json:"transaction"`
	ContractData map[string]any    `json:"contract_data"`
	Confidence   map[string]any    `json:"confidence"`
	ExtractionID string            `json:"extraction_id"`
	TasksCreated int               `json:"tasks_created"`
}

// ProcessContract reads a purchase contract and records the deal it describes: the extraction,
// the current transaction and, for draft or active assignments, the move to under_contract.
func (s *Service) ProcessContract(ctx context.Context, session Session, documentID, assignmentID string) (ContractOutcome, error) {
	doc, err := s.getDocument(ctx, session, documentID)
	if err != nil {
		return ContractOutcome{}, err
	}
	if assignmentID == "" {
		assignmentID = derefString(doc.AssignmentID)
	}
	if assignmentID == "" {
		return ContractOutcome{}, validationError("Dokumentet är inte kopplat till ett uppdrag", nil)
	}
	assignment, err := s.GetAssignment(ctx, session, assignmentID)
	if err != nil {
		return ContractOutcome{}, err
	}

	fail := func(cause error, message string) error {
		if err := s.store.UpdateDocumentProcessing(context.WithoutCancel(ctx), documentID, store.ProcessingError, &message); err != nil {
			s.log.Error("mark contract failed", "document_id", documentID, "error", err)
		}
		s.log.Warn("contract processing failed", "document_id", documentID, "error", cause)
		return cause
	}

	data, err := s.blobs.Download(ctx, doc.StoragePath)
	switch {
	case errors.Is(err, blob.ErrNotFound) || (err == nil && len(data) == 0):
		return ContractOutcome{}, fail(notFound(msgDownloadFailed), msgDownloadFailed)
	case err != nil:
		return ContractOutcome{}, fail(upstreamFailure(msgDownloadFailed, err), msgDownloadFailed)
	}
	parsed, err := pdftext.Extract(data)
	if err != nil || parsed.Text == "" {
		return ContractOutcome{}, fail(domainError(http.StatusUnprocessableEntity, CodeScannedDocument,
			"Kunde inte läsa text från dokumentet", nil), msgContractFailed)
	}

	started := s.now()
	llmCtx, cancel := s.llmContext(ctx)
	defer cancel()
	contract, err := extraction.ExtractContract(llmCtx, s.llm, parsed.Text)
	if err != nil {
		return ContractOutcome{}, fail(upstreamFailure(msgLLMFailed, err), msgContractFailed)
	}

	row := store.Extraction{
		ID:               util.NewID("ext"),
		TenantID:         session.TenantID,
		AssignmentID:     assignmentID,
		DocumentID:       documentID,
		SchemaVersion:    extraction.SchemaVersion,
		LLMProvider:      s.llm.Name(),
		LLMModel:         s.llm.Model(),
		PromptVersion:    contract.PromptVersion,
		ExtractedJSON:    contract.Data,
		ConfidenceJSON:   contract.Confidence,
		SourceReferences: map[string]any{},
		Status:           store.ExtractionCompleted,
		ProcessingTimeMS: s.now().Sub(started).Milliseconds(),
		TokenCount:       contract.TokenCount,
	}
	if _, err := s.store.SupersedeCompletedExtractions(ctx, documentID); err != nil {
		return ContractOutcome{}, fail(err, msgContractFailed)
	}
	if err := s.store.InsertExtraction(ctx, row); err != nil {
		return ContractOutcome{}, fail(fmt.Errorf("save contract extraction: %w", err), msgContractFailed)
	}
	if err := s.store.UpdateDocumentClassification(ctx, documentID, extraction.DocKontrakt, 1.0); err != nil {
		return ContractOutcome{}, fail(err, msgContractFailed)
	}
	if err := s.store.UpdateDocumentProcessing(ctx, documentID, store.ProcessingExtracted, nil); err != nil {
		return ContractOutcome{}, fail(err, msgContractFailed)
	}

	tx, err := s.upsertContractTransaction(ctx, session.TenantID, assignment, contract.Data)
	if err != nil {
		return ContractOutcome{}, fail(err, msgContractFailed)
	}

	tasksCreated := 0
	if assignment.Status == store.AssignmentDraft || assignment.Status == store.AssignmentActive {
		result, err := s.ChangeAssignmentStatus(ctx, session, assignmentID, store.AssignmentUnderContract)
		if err != nil {
			return ContractOutcome{}, err
		}
		tasksCreated = result.TasksCreated
	}

	s.audit(ctx, session.TenantID, session.UserID, "contract.processed", "transaction", tx.ID, map[string]any{
		"document_id":      documentID,
		"assignment_id":    assignmentID,
		"extracted_fields": presentFields(contract.Data),
	})

	return ContractOutcome{
		Transaction:  tx,
		ContractData: contract.Data,
		Confidence:   contract.Confidence,
		ExtractionID: row.ID,
		TasksCreated: tasksCreated,
	}, nil
}

// upsertContractTransaction overwrites the current transaction with contract values or creates one.
// Seller contact falls back to the assignment.
func (s *Service) upsertContractTransaction(ctx context.Context, tenantID string, assignment store.Assignment, data map[string]any) (store.Transaction, error) {
	tx, err := s.store.GetCurrentTransaction(ctx, tenantID, assignment.ID)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return store.Transaction{}, err
	}
	if !exists {
		tx = store.Transaction{
			ID:           util.NewID("tx"),
			TenantID:     tenantID,
			AssignmentID: assignment.ID,
		}
	}

	tx.BuyerName = stringField(data, "buyer_name")
	tx.BuyerEmail = stringField(data, "buyer_email")
	tx.BuyerPhone = stringField(data, "buyer_phone")
	tx.SellerName = stringField(data, "seller_name")
	if tx.SellerName == nil {
		tx.SellerName = assignment.SellerName
	}
	tx.SellerEmail = stringField(data, "seller_email")
	if tx.SellerEmail == nil {
		tx.SellerEmail = assignment.SellerEmail
	}
	tx.SalePrice = floatField(data, "sale_price")
	tx.DepositAmount = floatField(data, "deposit_amount")
	tx.DepositDueDate = stringField(data, "deposit_due_date")
	tx.ContractDate = stringField(data, "contract_date")
	tx.AccessDate = stringField(data, "access_date")
	tx.Status = store.TransactionContractSigned

	if exists {
		err = s.store.UpdateTransaction(ctx, tx)
	} else {
		err = s.store.InsertTransaction(ctx, tx)
	}
	if err != nil {
		return store.Transaction{}, err
	}
	saved, err := s.store.GetCurrentTransaction(ctx, tenantID, assignment.ID)
	if err != nil {
		return tx, nil
	}
	return saved, nil
}

func presentFields(data map[string]any) []string {
	out := make([]string, 0, len(data))
	for key, value := range data {
		if value != nil {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

func stringField(data map[string]any, key string) *string {
	value, ok := data[key].(string)
	if !ok || value == "" {
		return nil
	}
	return &value
}

func floatField(data map[string]any, key string) *float64 {
	coerced := extraction.CoerceValues(map[string]any{key: data[key]})
	value, ok := coerced[key].(float64)
	if !ok {
		return nil
	}
	return &value
}
