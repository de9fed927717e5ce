package app

import (
	"context"
	"database/sql"
	"errors"

	"brokerflow/api/internal/store"
)

var transactionPipeline = []string{
	store.TransactionPending,
	store.TransactionContractSigned,
	store.TransactionDepositPaid,
	store.TransactionBRFApproved,
	store.TransactionAccessScheduled,
	store.TransactionCompleted,
}

func isTransactionStatus(status string) bool {
	for _, item := range transactionPipeline {
		if item == status {
			return true
		}
	}
	return false
}

func (s *Service) GetTransaction(ctx context.Context, session Session, assignmentID string) (store.Transaction, error) {
	if _, err := s.GetAssignment(ctx, session, assignmentID); err != nil {
		return store.Transaction{}, err
	}
	tx, err := s.store.GetCurrentTransaction(ctx, session.TenantID, assignmentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Transaction{}, notFound("Ingen transaktion hittades")
	}
	return tx, err
}

// UpdateTransactionStatus moves the current transaction to any pipeline status.
func (s *Service) UpdateTransactionStatus(ctx context.Context, session Session, assignmentID, status string) (store.Transaction, error) {
	if !isTransactionStatus(status) {
		return store.Transaction{}, validationError("Okänd transaktionsstatus", map[string]any{
			"status":  status,
			"allowed": transactionPipeline,
		})
	}
	tx, err := s.GetTransaction(ctx, session, assignmentID)
	if err != nil {
		return store.Transaction{}, err
	}
	if tx.Status == status {
		return tx, nil
	}
	if err := s.store.UpdateTransactionStatus(ctx, session.TenantID, tx.ID, status); err != nil {
		return store.Transaction{}, err
	}
	s.audit(ctx, session.TenantID, session.UserID, "transaction.status_changed", "transaction", tx.ID, map[string]any{
		"assignment_id": assignmentID,
		"from":          tx.Status,
		"to":            status,
	})
	return s.GetTransaction(ctx, session, assignmentID)
}
