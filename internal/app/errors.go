package app

import (
	"fmt"
	"net/http"
)

const (
	CodeNotFound             = "NOT_FOUND"
	CodeUnsupportedFormat    = "UNSUPPORTED_FORMAT"
	CodeScannedDocument      = "SCANNED_DOCUMENT"
	CodeUpstreamFailure      = "UPSTREAM_FAILURE"
	CodeValidation           = "VALIDATION_ERROR"
	CodeExtractionInProgress = "EXTRACTION_IN_PROGRESS"
	CodeForbidden            = "FORBIDDEN"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeServerError          = "SERVER_ERROR"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, message, nil)
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, details)
}

// upstreamFailure keeps the collaborator's error text in details for the caller.
func upstreamFailure(message string, err error) *DomainError {
	var details any
	if err != nil {
		details = map[string]any{"error": err.Error()}
	}
	return domainError(http.StatusBadGateway, CodeUpstreamFailure, message, details)
}
