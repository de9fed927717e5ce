package store

import (
	"context"
	"fmt"
	"time"
)

const taskColumns = `
	id, tenant_id, assignment_id, title, description, category, status, assigned_to, due_date, sort_order,
	is_auto_generated, trigger_status, created_at`

func scanTask(row rowScanner) (Task, error) {
	var item Task
	err := row.Scan(&item.ID, &item.TenantID, &item.AssignmentID, &item.Title, &item.Description, &item.Category,
		&item.Status, &item.AssignedTo, &item.DueDate, &item.SortOrder, &item.IsAutoGenerated, &item.TriggerStatus,
		&item.CreatedAt)
	if err != nil {
		return Task{}, err
	}
	return item, nil
}

// TaskPatch carries optional task changes; nil fields are left untouched.
type TaskPatch struct {
	Status     *string
	AssignedTo *string
	DueDate    *time.Time
}

// InsertTasks writes all rows in one transaction.
func (s *PostgresStore) InsertTasks(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin task insert: %w", err)
	}
	for _, task := range tasks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (
				id, tenant_id, assignment_id, title, description, category, status, assigned_to, due_date,
				sort_order, is_auto_generated, trigger_status
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, task.ID, task.TenantID, task.AssignmentID, task.Title, task.Description, task.Category, task.Status,
			task.AssignedTo, task.DueDate, task.SortOrder, task.IsAutoGenerated, task.TriggerStatus); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert task: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tasks: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, tenantID, assignmentID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE tenant_id=$1 AND assignment_id=$2
		ORDER BY sort_order ASC, created_at ASC
	`, tenantID, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		item, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, tenantID, taskID string, patch TaskPatch) (Task, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET status=COALESCE($3, status),
		    assigned_to=COALESCE($4, assigned_to),
		    due_date=COALESCE($5, due_date)
		WHERE id=$1 AND tenant_id=$2
		RETURNING `+taskColumns, taskID, tenantID, patch.Status, patch.AssignedTo, patch.DueDate)
	return scanTask(row)
}

// ListReminderCandidates returns open, assigned tasks due within [from, to] across all tenants.
func (s *PostgresStore) ListReminderCandidates(ctx context.Context, from, to time.Time) ([]ReminderCandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.tenant_id, t.assignment_id, t.title, t.description, t.category, t.status, t.assigned_to,
		       t.due_date, t.sort_order, t.is_auto_generated, t.trigger_status, t.created_at,
		       u.email, u.full_name, a.address, a.city
		FROM tasks t
		JOIN users u ON u.id = t.assigned_to
		JOIN assignments a ON a.id = t.assignment_id AND a.deleted_at IS NULL
		WHERE t.status IN ('todo', 'in_progress')
		  AND t.assigned_to IS NOT NULL
		  AND t.due_date IS NOT NULL
		  AND t.due_date >= $1 AND t.due_date <= $2
		ORDER BY t.due_date ASC
	`, dateOnly(from), dateOnly(to))
	if err != nil {
		return nil, fmt.Errorf("list reminder candidates: %w", err)
	}
	defer rows.Close()

	items := make([]ReminderCandidate, 0)
	for rows.Next() {
		var item ReminderCandidate
		t := &item.Task
		if err := rows.Scan(&t.ID, &t.TenantID, &t.AssignmentID, &t.Title, &t.Description, &t.Category, &t.Status,
			&t.AssignedTo, &t.DueDate, &t.SortOrder, &t.IsAutoGenerated, &t.TriggerStatus, &t.CreatedAt,
			&item.RecipientEmail, &item.RecipientName, &item.AssignmentAddress, &item.AssignmentCity); err != nil {
			return nil, fmt.Errorf("scan reminder candidate: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reminder candidates: %w", err)
	}
	return items, nil
}
