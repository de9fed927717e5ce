package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF writes a single-page PDF with one Helvetica text run and a correct xref table.
func buildPDF(text string) []byte {
	content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestExtractDigitalPDF(t *testing.T) {
	line := "Bostadsrattsforeningen Solgarden arsavgift 4250 kronor per manad boarea 72 kvm"
	result, err := Extract(buildPDF(line))
	require.NoError(t, err)
	assert.Equal(t, 1, result.PageCount)
	assert.Contains(t, strings.Join(strings.Fields(result.Text), " "), "Solgarden")
	assert.False(t, result.IsScannedImage)
}

func TestExtractShortTextLayerIsScanned(t *testing.T) {
	result, err := Extract(buildPDF("Sida 1"))
	require.NoError(t, err)
	assert.True(t, result.IsScannedImage)
}

func TestExtractGarbage(t *testing.T) {
	_, err := Extract([]byte("definitely not a pdf"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnreadable))
}

func TestIsPDF(t *testing.T) {
	pdfBytes := buildPDF("hello")
	assert.True(t, IsPDF("application/pdf", nil))
	assert.False(t, IsPDF("image/jpeg", pdfBytes))
	assert.True(t, IsPDF("", pdfBytes))
	assert.True(t, IsPDF("application/octet-stream", pdfBytes))
	assert.False(t, IsPDF("", []byte("plain text body")))
	assert.Equal(t, "application/pdf", DetectMIME(pdfBytes))
}
