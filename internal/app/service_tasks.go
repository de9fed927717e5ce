package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"brokerflow/api/internal/store"
	"brokerflow/api/internal/util"
)

type CreateTaskInput struct {
	Title       string  `json:"title" validate:"required,max=200"`
	Description *string `json:"description"`
	Category    string  `json:"category" validate:"omitempty,oneof=docs marketing transaction closing general"`
	AssignedTo  *string `json:"assigned_to"`
	DueDate     *string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	SortOrder   int     `json:"sort_order"`
}

type UpdateTaskInput struct {
	Status     *string `json:"status" validate:"omitempty,oneof=todo in_progress done skipped"`
	AssignedTo *string `json:"assigned_to"`
	DueDate    *string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
}

func (s *Service) CreateTask(ctx context.Context, session Session, assignmentID string, input CreateTaskInput) (store.Task, error) {
	if _, err := s.GetAssignment(ctx, session, assignmentID); err != nil {
		return store.Task{}, err
	}
	due, err := parseDate(input.DueDate)
	if err != nil {
		return store.Task{}, err
	}
	category := input.Category
	if category == "" {
		category = "general"
	}
	task := store.Task{
		ID:           util.NewID("task"),
		TenantID:     session.TenantID,
		AssignmentID: assignmentID,
		Title:        strings.TrimSpace(input.Title),
		Description:  input.Description,
		Category:     category,
		Status:       store.TaskTodo,
		AssignedTo:   input.AssignedTo,
		DueDate:      due,
		SortOrder:    input.SortOrder,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.InsertTasks(ctx, []store.Task{task}); err != nil {
		return store.Task{}, err
	}
	s.audit(ctx, session.TenantID, session.UserID, "task.created", "task", task.ID, map[string]any{
		"assignment_id": assignmentID,
		"title":         task.Title,
	})
	return task, nil
}

func (s *Service) ListTasks(ctx context.Context, session Session, assignmentID string) ([]store.Task, error) {
	if _, err := s.GetAssignment(ctx, session, assignmentID); err != nil {
		return nil, err
	}
	return s.store.ListTasks(ctx, session.TenantID, assignmentID)
}

// UpdateTask changes status, assignee or due date. Tasks are never deleted.
func (s *Service) UpdateTask(ctx context.Context, session Session, taskID string, input UpdateTaskInput) (store.Task, error) {
	due, err := parseDate(input.DueDate)
	if err != nil {
		return store.Task{}, err
	}
	task, err := s.store.UpdateTask(ctx, session.TenantID, taskID, store.TaskPatch{
		Status:     input.Status,
		AssignedTo: input.AssignedTo,
		DueDate:    due,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return store.Task{}, notFound("Uppgiften hittades inte")
	}
	if err != nil {
		return store.Task{}, err
	}
	if input.Status != nil {
		s.audit(ctx, session.TenantID, session.UserID, "task.status_changed", "task", taskID, map[string]any{
			"assignment_id": task.AssignmentID,
			"new_status":    *input.Status,
		})
	}
	return task, nil
}

func parseDate(value *string) (*time.Time, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", strings.TrimSpace(*value))
	if err != nil {
		return nil, validationError("Ogiltigt datum", map[string]any{"due_date": *value})
	}
	return &parsed, nil
}
