package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"brokerflow/api/internal/metrics"
	"brokerflow/api/internal/search"
	"brokerflow/api/internal/store"
	"brokerflow/api/internal/util"
	"brokerflow/api/internal/workflow"
)

type CreateAssignmentInput struct {
	Address              string   `json:"address" validate:"required,max=200"`
	City                 string   `json:"city" validate:"required,max=100"`
	PostalCode           *string  `json:"postal_code" validate:"omitempty,max=10"`
	PropertyType         string   `json:"property_type" validate:"omitempty,oneof=bostadsratt villa radhus fritidshus tomt ovrigt"`
	Rooms                *float64 `json:"rooms" validate:"omitempty,gte=0"`
	LivingAreaSqm        *float64 `json:"living_area_sqm" validate:"omitempty,gte=0"`
	Floor                *int     `json:"floor"`
	TotalFloors          *int     `json:"total_floors" validate:"omitempty,gte=0"`
	BuildYear            *int     `json:"build_year" validate:"omitempty,gte=1000,lte=2100"`
	MonthlyFee           *float64 `json:"monthly_fee" validate:"omitempty,gte=0"`
	AskingPrice          *float64 `json:"asking_price" validate:"omitempty,gte=0"`
	SellerName           *string  `json:"seller_name"`
	SellerEmail          *string  `json:"seller_email" validate:"omitempty,email"`
	SellerPhone          *string  `json:"seller_phone"`
	AssociationName      *string  `json:"association_name"`
	AssociationOrgNumber *string  `json:"association_org_number"`
	AssignedTo           *string  `json:"assigned_to"`
}

type StatusChangeResult struct {
	Assignment   store.Assignment `json:"assignment"`
	TasksCreated int              `json:"tasks_created"`
}

func (s *Service) CreateAssignment(ctx context.Context, session Session, input CreateAssignmentInput) (store.Assignment, error) {
	propertyType := input.PropertyType
	if propertyType == "" {
		propertyType = "bostadsratt"
	}
	item := store.Assignment{
		ID:                   util.NewID(""),
		TenantID:             session.TenantID,
		CreatedBy:            session.UserID,
		AssignedTo:           input.AssignedTo,
		Status:               store.AssignmentDraft,
		Address:              strings.TrimSpace(input.Address),
		City:                 strings.TrimSpace(input.City),
		PostalCode:           input.PostalCode,
		PropertyType:         propertyType,
		Rooms:                input.Rooms,
		LivingAreaSqm:        input.LivingAreaSqm,
		Floor:                input.Floor,
		TotalFloors:          input.TotalFloors,
		BuildYear:            input.BuildYear,
		MonthlyFee:           input.MonthlyFee,
		AskingPrice:          input.AskingPrice,
		SellerName:           input.SellerName,
		SellerEmail:          input.SellerEmail,
		SellerPhone:          input.SellerPhone,
		AssociationName:      input.AssociationName,
		AssociationOrgNumber: input.AssociationOrgNumber,
	}
	if err := s.store.InsertAssignment(ctx, item); err != nil {
		return store.Assignment{}, err
	}
	created, err := s.store.GetAssignment(ctx, session.TenantID, item.ID)
	if err != nil {
		return store.Assignment{}, fmt.Errorf("reload assignment: %w", err)
	}

	s.audit(ctx, session.TenantID, session.UserID, "assignment.created", "assignment", created.ID, map[string]any{
		"address": created.Address,
		"city":    created.City,
	})
	s.search.IndexAssignment(search.RecordFromAssignment(created))
	return created, nil
}

func (s *Service) GetAssignment(ctx context.Context, session Session, assignmentID string) (store.Assignment, error) {
	item, err := s.store.GetAssignment(ctx, session.TenantID, assignmentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Assignment{}, notFound("Uppdraget hittades inte")
	}
	return item, err
}

func (s *Service) ListAssignments(ctx context.Context, session Session, filter store.AssignmentFilter) ([]store.Assignment, error) {
	if filter.Status != "" && !workflow.IsKnownStatus(filter.Status) {
		return nil, validationError("Okänd status", map[string]any{"status": filter.Status})
	}
	return s.store.ListAssignments(ctx, session.TenantID, filter)
}

func (s *Service) SearchAssignments(ctx context.Context, session Session, text, status string, limit int) search.Response {
	return s.search.Search(ctx, search.Query{
		TenantID: session.TenantID,
		Text:     strings.TrimSpace(text),
		Status:   status,
		Limit:    limit,
	})
}

func (s *Service) DeleteAssignment(ctx context.Context, session Session, assignmentID string) error {
	if err := s.store.SoftDeleteAssignment(ctx, session.TenantID, assignmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Uppdraget hittades inte")
		}
		return err
	}
	s.audit(ctx, session.TenantID, session.UserID, "assignment.deleted", "assignment", assignmentID, nil)
	s.search.DeleteAssignment(assignmentID)
	return nil
}

// ChangeAssignmentStatus commits the status before running the task engine. A failing engine
// is logged and leaves the new status in place.
func (s *Service) ChangeAssignmentStatus(ctx context.Context, session Session, assignmentID, status string) (StatusChangeResult, error) {
	if !workflow.IsKnownStatus(status) {
		return StatusChangeResult{}, validationError("Okänd status", map[string]any{"status": status})
	}
	current, err := s.GetAssignment(ctx, session, assignmentID)
	if err != nil {
		return StatusChangeResult{}, err
	}
	if current.Status == status {
		return StatusChangeResult{Assignment: current}, nil
	}
	if err := s.store.UpdateAssignmentStatus(ctx, session.TenantID, assignmentID, status); err != nil {
		return StatusChangeResult{}, err
	}

	tasks, err := s.GenerateTasksForStatus(ctx, assignmentID, session.TenantID, status, session.UserID)
	if err != nil {
		s.log.Error("generate tasks for status", "assignment_id", assignmentID, "status", status, "error", err)
	}

	updated, err := s.store.GetAssignment(ctx, session.TenantID, assignmentID)
	if err != nil {
		return StatusChangeResult{}, fmt.Errorf("reload assignment: %w", err)
	}
	s.search.IndexAssignment(search.RecordFromAssignment(updated))
	return StatusChangeResult{Assignment: updated, TasksCreated: len(tasks)}, nil
}

// GenerateTasksForStatus creates the checklist for a status the assignment just entered.
// Statuses without templates are a no-op. The audit row is written even when the insert fails.
func (s *Service) GenerateTasksForStatus(ctx context.Context, assignmentID, tenantID, newStatus, userID string) ([]store.Task, error) {
	if !workflow.IsKnownStatus(newStatus) {
		return nil, validationError("Okänd status", map[string]any{"status": newStatus})
	}
	tasks := workflow.BuildTasks(newStatus, assignmentID, tenantID, s.today())
	if len(tasks) == 0 {
		return nil, nil
	}

	insertErr := s.store.InsertTasks(ctx, tasks)
	created := len(tasks)
	if insertErr != nil {
		created = 0
	}
	s.audit(ctx, tenantID, userID, "assignment.status_changed", "assignment", assignmentID, map[string]any{
		"new_status":    newStatus,
		"tasks_created": created,
	})
	if insertErr != nil {
		return nil, fmt.Errorf("insert tasks: %w", insertErr)
	}
	metrics.TasksGeneratedTotal.WithLabelValues(newStatus).Add(float64(created))
	return tasks, nil
}

// ReindexSearch pushes every live assignment to the search index.
func (s *Service) ReindexSearch(ctx context.Context, index func([]search.AssignmentRecord)) error {
	tenants, err := s.store.ListActiveTenants(ctx)
	if err != nil {
		return err
	}
	records := make([]search.AssignmentRecord, 0)
	for _, tenant := range tenants {
		items, err := s.store.ListAssignments(ctx, tenant.ID, store.AssignmentFilter{})
		if err != nil {
			return fmt.Errorf("list assignments for %s: %w", tenant.ID, err)
		}
		for _, item := range items {
			records = append(records, search.RecordFromAssignment(item))
		}
	}
	index(records)
	return nil
}
