package store

import (
	"context"
	"fmt"
	"strings"
)

const assignmentColumns = `
	id, tenant_id, created_by, assigned_to, status, address, city, postal_code, property_type,
	rooms::float8, living_area_sqm::float8, floor, total_floors, build_year, monthly_fee::float8, asking_price::float8,
	seller_name, seller_email, seller_phone, association_name, association_org_number,
	confirmed_property_data, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssignment(row rowScanner) (Assignment, error) {
	var item Assignment
	var confirmed []byte
	err := row.Scan(
		&item.ID, &item.TenantID, &item.CreatedBy, &item.AssignedTo, &item.Status, &item.Address, &item.City,
		&item.PostalCode, &item.PropertyType, &item.Rooms, &item.LivingAreaSqm, &item.Floor, &item.TotalFloors,
		&item.BuildYear, &item.MonthlyFee, &item.AskingPrice, &item.SellerName, &item.SellerEmail, &item.SellerPhone,
		&item.AssociationName, &item.AssociationOrgNumber, &confirmed, &item.CreatedAt, &item.UpdatedAt, &item.DeletedAt,
	)
	if err != nil {
		return Assignment{}, err
	}
	if len(confirmed) > 0 {
		item.ConfirmedPropertyData = decodeJSON(confirmed)
	}
	return item, nil
}

func (s *PostgresStore) InsertAssignment(ctx context.Context, item Assignment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assignments (
			id, tenant_id, created_by, assigned_to, status, address, city, postal_code, property_type,
			rooms, living_area_sqm, floor, total_floors, build_year, monthly_fee, asking_price,
			seller_name, seller_email, seller_phone, association_name, association_org_number
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, item.ID, item.TenantID, item.CreatedBy, item.AssignedTo, item.Status, item.Address, item.City, item.PostalCode,
		item.PropertyType, item.Rooms, item.LivingAreaSqm, item.Floor, item.TotalFloors, item.BuildYear, item.MonthlyFee,
		item.AskingPrice, item.SellerName, item.SellerEmail, item.SellerPhone, item.AssociationName, item.AssociationOrgNumber)
	if err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAssignment(ctx context.Context, tenantID, assignmentID string) (Assignment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+assignmentColumns+`
		FROM assignments
		WHERE id=$1 AND tenant_id=$2 AND deleted_at IS NULL
	`, assignmentID, tenantID)
	return scanAssignment(row)
}

// ListAssignments matches Query case-insensitively against address, city and seller name.
func (s *PostgresStore) ListAssignments(ctx context.Context, tenantID string, filter AssignmentFilter) ([]Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE tenant_id=$1 AND deleted_at IS NULL`
	args := []any{tenantID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+escapeLike(q)+"%")
		n := len(args)
		query += fmt.Sprintf(" AND (address ILIKE $%d OR city ILIKE $%d OR seller_name ILIKE $%d)", n, n, n)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	items := make([]Assignment, 0)
	for rows.Next() {
		item, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateAssignmentStatus(ctx context.Context, tenantID, assignmentID, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE assignments
		SET status=$3, updated_at=NOW()
		WHERE id=$1 AND tenant_id=$2 AND deleted_at IS NULL
	`, assignmentID, tenantID, status)
	if err != nil {
		return fmt.Errorf("update assignment status: %w", err)
	}
	return expectAffected(result, "update assignment status")
}

func (s *PostgresStore) UpdateConfirmedPropertyData(ctx context.Context, tenantID, assignmentID string, data map[string]any) error {
	encoded, err := encodeJSON(data)
	if err != nil {
		return fmt.Errorf("encode confirmed data: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE assignments
		SET confirmed_property_data=$3::jsonb, updated_at=NOW()
		WHERE id=$1 AND tenant_id=$2 AND deleted_at IS NULL
	`, assignmentID, tenantID, encoded)
	if err != nil {
		return fmt.Errorf("update confirmed data: %w", err)
	}
	return expectAffected(result, "update confirmed data")
}

func (s *PostgresStore) SoftDeleteAssignment(ctx context.Context, tenantID, assignmentID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE assignments
		SET deleted_at=NOW()
		WHERE id=$1 AND tenant_id=$2 AND deleted_at IS NULL
	`, assignmentID, tenantID)
	if err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	return expectAffected(result, "delete assignment")
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
