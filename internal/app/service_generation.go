package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"brokerflow/api/internal/export"
	"brokerflow/api/internal/generation"
	"brokerflow/api/internal/llm"
	"brokerflow/api/internal/metrics"
	"brokerflow/api/internal/store"
	"brokerflow/api/internal/util"
)

type GenerateInput struct {
	Type string `json:"type" validate:"required"`
	Tone string `json:"tone"`
}

// RunGeneration produces a new draft text for an assignment. Regenerating always adds a row.
func (s *Service) RunGeneration(ctx context.Context, session Session, assignmentID, genType, tone string) (store.Generation, error) {
	if !generation.IsType(genType) {
		return store.Generation{}, validationError("Okänd genereringstyp", map[string]any{
			"type":    genType,
			"allowed": generation.Types(),
		})
	}
	tone = generation.NormalizeTone(tone)
	assignment, err := s.GetAssignment(ctx, session, assignmentID)
	if err != nil {
		return store.Generation{}, err
	}

	property := propertySnapshot(assignment)
	snapshot := make(map[string]any, len(property)+1)
	for key, value := range property {
		snapshot[key] = value
	}

	var txData map[string]any
	if generation.RequiresTransaction(genType) || genType == generation.TypeBRFApplication {
		tx, err := s.store.GetCurrentTransaction(ctx, session.TenantID, assignmentID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if generation.RequiresTransaction(genType) {
				return store.Generation{}, notFound("Ingen transaktion hittades")
			}
		case err != nil:
			return store.Generation{}, err
		default:
			txData = transactionSnapshot(tx)
			snapshot["transaction"] = txData
		}
	}

	prompt, err := generation.BuildPrompt(generation.Request{
		Type:             genType,
		Tone:             tone,
		Property:         property,
		Transaction:      txData,
		AssignmentStatus: assignment.Status,
	})
	if errors.Is(err, generation.ErrMissingTransaction) {
		return store.Generation{}, notFound("Ingen transaktion hittades")
	}
	if err != nil {
		return store.Generation{}, err
	}

	llmCtx, cancel := s.llmContext(ctx)
	defer cancel()
	response, err := s.llm.Complete(llmCtx, llm.Request{
		SystemPrompt: prompt.System,
		UserPrompt:   prompt.User,
		MaxTokens:    prompt.MaxTokens,
		Temperature:  prompt.Temperature,
	})
	if err != nil {
		metrics.GenerationsTotal.WithLabelValues(genType, "upstream_error").Inc()
		return store.Generation{}, upstreamFailure("Generering misslyckades", err)
	}

	text, metadata := generation.Render(genType, response.Text)
	item := store.Generation{
		ID:                util.NewID("gen"),
		TenantID:          session.TenantID,
		AssignmentID:      assignmentID,
		Type:              genType,
		PromptVersion:     prompt.Version,
		LLMProvider:       s.llm.Name(),
		LLMModel:          s.llm.Model(),
		OutputText:        text,
		OutputMetadata:    metadata,
		Tone:              tone,
		InputDataSnapshot: snapshot,
		TokenCount:        response.TokenCount,
		CreatedBy:         optionalString(session.UserID),
	}
	if err := s.store.InsertGeneration(ctx, item); err != nil {
		metrics.GenerationsTotal.WithLabelValues(genType, "error").Inc()
		return store.Generation{}, err
	}
	metrics.GenerationsTotal.WithLabelValues(genType, "completed").Inc()

	s.audit(ctx, session.TenantID, session.UserID, "generation.created", "generation", item.ID, map[string]any{
		"assignment_id": assignmentID,
		"type":          genType,
		"tone":          tone,
		"token_count":   response.TokenCount,
		"llm_provider":  item.LLMProvider,
		"llm_model":     item.LLMModel,
	})

	saved, err := s.store.GetGeneration(ctx, session.TenantID, item.ID)
	if err != nil {
		return item, nil
	}
	return saved, nil
}

func (s *Service) getGeneration(ctx context.Context, session Session, generationID string) (store.Generation, error) {
	item, err := s.store.GetGeneration(ctx, session.TenantID, generationID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Generation{}, notFound("Genereringen hittades inte")
	}
	return item, err
}

func (s *Service) ListGenerations(ctx context.Context, session Session, assignmentID string) ([]store.Generation, error) {
	if _, err := s.GetAssignment(ctx, session, assignmentID); err != nil {
		return nil, err
	}
	return s.store.ListGenerations(ctx, session.TenantID, assignmentID)
}

// ApproveGeneration is idempotent: an approved generation is returned unchanged.
func (s *Service) ApproveGeneration(ctx context.Context, session Session, generationID string) (store.Generation, error) {
	item, err := s.getGeneration(ctx, session, generationID)
	if err != nil {
		return store.Generation{}, err
	}
	if item.IsApproved {
		return item, nil
	}
	if err := s.store.ApproveGeneration(ctx, session.TenantID, generationID, session.UserID, s.now().UTC()); err != nil {
		return store.Generation{}, err
	}
	s.audit(ctx, session.TenantID, session.UserID, "generation.approved", "generation", generationID, map[string]any{
		"assignment_id": item.AssignmentID,
		"type":          item.Type,
	})
	return s.getGeneration(ctx, session, generationID)
}

// EditGeneration stores the agent's revision. Approved generations stay editable.
func (s *Service) EditGeneration(ctx context.Context, session Session, generationID, text string) (store.Generation, error) {
	item, err := s.getGeneration(ctx, session, generationID)
	if err != nil {
		return store.Generation{}, err
	}
	if err := s.store.UpdateGenerationEditedText(ctx, session.TenantID, generationID, text); err != nil {
		return store.Generation{}, err
	}
	s.audit(ctx, session.TenantID, session.UserID, "generation.edited", "generation", generationID, map[string]any{
		"assignment_id": item.AssignmentID,
		"was_approved":  item.IsApproved,
	})
	return s.getGeneration(ctx, session, generationID)
}

// ExportGenerationPDF renders an approved generation to PDF.
func (s *Service) ExportGenerationPDF(ctx context.Context, session Session, generationID string) (*export.Result, error) {
	item, err := s.getGeneration(ctx, session, generationID)
	if err != nil {
		return nil, err
	}
	if !item.IsApproved {
		return nil, validationError("Texten måste godkännas innan den kan exporteras", nil)
	}
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, CodeServerError, "PDF-export är inte tillgänglig", nil)
	}
	assignment, err := s.GetAssignment(ctx, session, item.AssignmentID)
	if err != nil {
		return nil, err
	}
	tenantName := ""
	if tenant, err := s.store.GetTenant(ctx, session.TenantID); err == nil {
		tenantName = tenant.Name
	}

	result, err := s.exporter.Export(ctx, export.Request{Generation: item, Assignment: assignment, TenantName: tenantName})
	switch {
	case errors.Is(err, export.ErrNotApproved):
		return nil, validationError("Texten måste godkännas innan den kan exporteras", nil)
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return nil, domainError(http.StatusServiceUnavailable, CodeServerError, "PDF-export är inte tillgänglig", nil)
	case err != nil:
		return nil, err
	}
	s.audit(ctx, session.TenantID, session.UserID, "generation.exported", "generation", generationID, map[string]any{
		"assignment_id": item.AssignmentID,
		"format":        "pdf",
	})
	return result, nil
}

// propertySnapshot is the assignment's base columns overlaid with the confirmed data.
func propertySnapshot(a store.Assignment) map[string]any {
	out := map[string]any{
		"address":       a.Address,
		"city":          a.City,
		"property_type": a.PropertyType,
	}
	putString(out, "postal_code", a.PostalCode)
	putFloat(out, "rooms", a.Rooms)
	putFloat(out, "living_area_sqm", a.LivingAreaSqm)
	putInt(out, "floor", a.Floor)
	putInt(out, "build_year", a.BuildYear)
	putFloat(out, "monthly_fee", a.MonthlyFee)
	putFloat(out, "asking_price", a.AskingPrice)
	putString(out, "seller_name", a.SellerName)
	putString(out, "association_name", a.AssociationName)
	putString(out, "association_org_number", a.AssociationOrgNumber)
	for key, value := range a.ConfirmedPropertyData {
		out[key] = value
	}
	return out
}

func transactionSnapshot(tx store.Transaction) map[string]any {
	out := map[string]any{"status": tx.Status}
	putString(out, "buyer_name", tx.BuyerName)
	putString(out, "buyer_email", tx.BuyerEmail)
	putString(out, "buyer_phone", tx.BuyerPhone)
	putString(out, "seller_name", tx.SellerName)
	putString(out, "seller_email", tx.SellerEmail)
	putFloat(out, "sale_price", tx.SalePrice)
	putFloat(out, "deposit_amount", tx.DepositAmount)
	putString(out, "deposit_due_date", tx.DepositDueDate)
	putString(out, "contract_date", tx.ContractDate)
	putString(out, "access_date", tx.AccessDate)
	return out
}

func putString(out map[string]any, key string, value *string) {
	if value != nil {
		out[key] = *value
	} else {
		out[key] = nil
	}
}

func putFloat(out map[string]any, key string, value *float64) {
	if value != nil {
		out[key] = *value
	} else {
		out[key] = nil
	}
}

func putInt(out map[string]any, key string, value *int) {
	if value != nil {
		out[key] = *value
	} else {
		out[key] = nil
	}
}
