package export

import (
	"context"
	"fmt"
)

// Service renders approved generations to PDF through headless Chrome.
type Service struct {
	chromePath string
}

// NewService creates an export service. An empty chromePath searches PATH at export time.
func NewService(chromePath string) *Service {
	return &Service{chromePath: chromePath}
}

// BuildHTML renders the printable page without launching Chrome.
func BuildHTML(req Request) (string, error) {
	if !req.Generation.IsApproved {
		return "", ErrNotApproved
	}
	label := typeLabel(req.Generation.Type)
	data := TemplateData{
		Title:      label + " " + req.Assignment.Address,
		TypeLabel:  label,
		Address:    req.Assignment.Address,
		City:       req.Assignment.City,
		TenantName: req.TenantName,
		ApprovedAt: req.Generation.ApprovedAt,
		Blocks:     TextToBlocks(req.Generation.DisplayText()),
	}
	html, err := RenderGenerationHTML(data)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return html, nil
}

func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	html, err := BuildHTML(req)
	if err != nil {
		return nil, err
	}
	chromePath, err := locateChrome(s.chromePath)
	if err != nil {
		return nil, err
	}
	data, err := renderPDF(ctx, chromePath, html)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:     data,
		Filename: sanitizeFilename(typeLabel(req.Generation.Type)+" "+req.Assignment.Address) + ".pdf",
		MimeType: "application/pdf",
	}, nil
}
