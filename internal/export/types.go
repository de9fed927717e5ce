// Package export renders approved generations as printable PDFs.
package export

import (
	"errors"

	"brokerflow/api/internal/store"
)

// Request carries everything one export needs; the caller loads it tenant-scoped.
type Request struct {
	Generation store.Generation
	Assignment store.Assignment
	TenantName string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrNotApproved is returned for generations that have not been approved yet.
	ErrNotApproved = errors.New("generation not approved")
	// ErrPDFDependencyMissing indicates no Chrome binary is available for rendering.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)

var typeLabels = map[string]string{
	"ad_copy":          "Annonstext",
	"email_brf":        "E-post till förening",
	"email_buyer":      "E-post till köpare",
	"email_seller":     "E-post till säljare",
	"brf_application":  "Medlemsansökan",
	"access_request":   "Tillträde",
	"settlement_draft": "Likvidavräkning (utkast)",
}

func typeLabel(genType string) string {
	if label, ok := typeLabels[genType]; ok {
		return label
	}
	return genType
}
