package store

import (
	"context"
	"fmt"
)

const transactionColumns = `
	id, tenant_id, assignment_id, buyer_name, buyer_email, buyer_phone, seller_name, seller_email,
	sale_price::float8, deposit_amount::float8, deposit_due_date, contract_date, access_date, status,
	created_at, updated_at, deleted_at`

func scanTransaction(row rowScanner) (Transaction, error) {
	var item Transaction
	err := row.Scan(&item.ID, &item.TenantID, &item.AssignmentID, &item.BuyerName, &item.BuyerEmail, &item.BuyerPhone,
		&item.SellerName, &item.SellerEmail, &item.SalePrice, &item.DepositAmount, &item.DepositDueDate,
		&item.ContractDate, &item.AccessDate, &item.Status, &item.CreatedAt, &item.UpdatedAt, &item.DeletedAt)
	if err != nil {
		return Transaction{}, err
	}
	return item, nil
}

// GetCurrentTransaction returns the most recently created non-deleted transaction.
func (s *PostgresStore) GetCurrentTransaction(ctx context.Context, tenantID, assignmentID string) (Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE tenant_id=$1 AND assignment_id=$2 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`, tenantID, assignmentID)
	return scanTransaction(row)
}

func (s *PostgresStore) InsertTransaction(ctx context.Context, item Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, tenant_id, assignment_id, buyer_name, buyer_email, buyer_phone, seller_name, seller_email,
			sale_price, deposit_amount, deposit_due_date, contract_date, access_date, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, item.ID, item.TenantID, item.AssignmentID, item.BuyerName, item.BuyerEmail, item.BuyerPhone, item.SellerName,
		item.SellerEmail, item.SalePrice, item.DepositAmount, item.DepositDueDate, item.ContractDate, item.AccessDate,
		item.Status)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// UpdateTransaction overwrites the contract fields and status of an existing row.
func (s *PostgresStore) UpdateTransaction(ctx context.Context, item Transaction) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET buyer_name=$3, buyer_email=$4, buyer_phone=$5, seller_name=$6, seller_email=$7, sale_price=$8,
		    deposit_amount=$9, deposit_due_date=$10, contract_date=$11, access_date=$12, status=$13, updated_at=NOW()
		WHERE id=$1 AND tenant_id=$2 AND deleted_at IS NULL
	`, item.ID, item.TenantID, item.BuyerName, item.BuyerEmail, item.BuyerPhone, item.SellerName, item.SellerEmail,
		item.SalePrice, item.DepositAmount, item.DepositDueDate, item.ContractDate, item.AccessDate, item.Status)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return expectAffected(result, "update transaction")
}

func (s *PostgresStore) UpdateTransactionStatus(ctx context.Context, tenantID, transactionID, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET status=$3, updated_at=NOW()
		WHERE id=$1 AND tenant_id=$2 AND deleted_at IS NULL
	`, transactionID, tenantID, status)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	return expectAffected(result, "update transaction status")
}
