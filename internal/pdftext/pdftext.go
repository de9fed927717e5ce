// Package pdftext pulls the text layer out of digital PDFs.
package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

const (
	MimePDF = "application/pdf"

	// MinTextLength is the shortest text layer treated as a digital document.
	// Anything shorter is assumed to be a scanned image.
	MinTextLength = 50
)

var ErrUnreadable = errors.New("pdf unreadable")

type Result struct {
	Text           string
	PageCount      int
	IsScannedImage bool
}

// Extract returns the trimmed plain text of every page.
func Extract(data []byte) (result Result, err error) {
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			result = Result{}
			err = fmt.Errorf("%w: %v", ErrUnreadable, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return Result{}, fmt.Errorf("read pdf text: %w", err)
	}

	text := strings.TrimSpace(string(raw))
	return Result{
		Text:           text,
		PageCount:      reader.NumPage(),
		IsScannedImage: len([]rune(text)) < MinTextLength,
	}, nil
}

// DetectMIME sniffs the content type from the leading bytes.
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}

// IsPDF trusts a declared type when present and sniffs otherwise.
func IsPDF(declared string, data []byte) bool {
	declared = strings.TrimSpace(strings.ToLower(declared))
	if declared != "" && declared != "application/octet-stream" {
		return strings.HasPrefix(declared, MimePDF)
	}
	return mimetype.Detect(data).Is(MimePDF)
}
