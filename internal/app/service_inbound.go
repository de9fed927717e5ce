package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/mail"
	"regexp"
	"strings"

	"brokerflow/api/internal/auth"
	"brokerflow/api/internal/store"
)

var subjectTag = regexp.MustCompile(`(?i)\[BF-([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})\]`)

type InboundAttachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// InboundEmail is one Mailgun route delivery.
type InboundEmail struct {
	From        string
	Subject     string
	Recipient   string
	Timestamp   string
	Token       string
	Signature   string
	Attachments []InboundAttachment
}

type InboundResult struct {
	TenantID     string   `json:"tenant_id"`
	AssignmentID *string  `json:"assignment_id"`
	DocumentIDs  []string `json:"document_ids"`
	Message      string   `json:"message,omitempty"`
}

// AliasFromRecipient returns the local part of the recipient address.
func AliasFromRecipient(recipient string) string {
	recipient = strings.TrimSpace(recipient)
	if parsed, err := mail.ParseAddress(recipient); err == nil {
		recipient = parsed.Address
	}
	local, _, ok := strings.Cut(recipient, "@")
	if !ok {
		return ""
	}
	return strings.TrimSpace(local)
}

// AssignmentIDFromSubject finds a [BF-<uuid>] tag.
func AssignmentIDFromSubject(subject string) string {
	match := subjectTag.FindStringSubmatch(subject)
	if match == nil {
		return ""
	}
	return strings.ToLower(match[1])
}

// ReceiveInboundEmail files the attachments of a forwarded email as documents of the tenant
// owning the recipient alias. Mail without a valid subject tag lands in the unmatched folder.
func (s *Service) ReceiveInboundEmail(ctx context.Context, msg InboundEmail) (InboundResult, error) {
	if s.cfg.MailgunSigningKey != "" && !auth.VerifyWebhookSignature(s.cfg.MailgunSigningKey, msg.Timestamp, msg.Token, msg.Signature) {
		return InboundResult{}, domainError(http.StatusForbidden, CodeForbidden, "Invalid signature", nil)
	}

	alias := AliasFromRecipient(msg.Recipient)
	if alias == "" {
		return InboundResult{}, validationError("No alias found in recipient", map[string]any{"recipient": msg.Recipient})
	}
	record, err := s.store.GetActiveInboundAlias(ctx, alias)
	if errors.Is(err, sql.ErrNoRows) {
		return InboundResult{}, notFound("Unknown alias")
	}
	if err != nil {
		return InboundResult{}, err
	}
	tenantID := record.TenantID

	assignmentID := ""
	if tagged := AssignmentIDFromSubject(msg.Subject); tagged != "" {
		if _, err := s.store.GetAssignment(ctx, tenantID, tagged); err == nil {
			assignmentID = tagged
		} else if !errors.Is(err, sql.ErrNoRows) {
			return InboundResult{}, err
		}
	}
	result := InboundResult{TenantID: tenantID, AssignmentID: optionalString(assignmentID), DocumentIDs: []string{}}

	if len(msg.Attachments) == 0 {
		s.audit(ctx, tenantID, "", "email.received_no_attachments", "inbound_email", "", map[string]any{
			"from":          msg.From,
			"subject":       msg.Subject,
			"recipient":     msg.Recipient,
			"assignment_id": assignmentID,
		})
		result.Message = "No attachments to process"
		return result, nil
	}

	for _, attachment := range msg.Attachments {
		if len(attachment.Data) == 0 {
			continue
		}
		filename := firstNonBlank(strings.TrimSpace(attachment.Filename), "bilaga")
		doc, err := s.storeDocument(ctx, tenantID, assignmentID, filename, attachment.ContentType, attachment.Data)
		if err != nil {
			s.log.Warn("store inbound attachment", "tenant_id", tenantID, "filename", filename, "error", err)
			continue
		}
		doc.Source = store.SourceEmail
		doc.SourceEmailFrom = optionalString(msg.From)
		doc.SourceEmailSubject = optionalString(msg.Subject)
		if err := s.store.InsertDocument(ctx, doc); err != nil {
			s.log.Warn("record inbound document", "tenant_id", tenantID, "filename", filename, "error", err)
			continue
		}
		result.DocumentIDs = append(result.DocumentIDs, doc.ID)
	}

	s.audit(ctx, tenantID, "", "email.received", "inbound_email", "", map[string]any{
		"from":             msg.From,
		"subject":          msg.Subject,
		"recipient":        msg.Recipient,
		"attachment_count": len(result.DocumentIDs),
		"assignment_id":    assignmentID,
	})
	return result, nil
}
