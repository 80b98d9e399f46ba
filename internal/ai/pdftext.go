package ai

import (
	"context"
	"fmt"

	"docsense/internal/pipeline"
	"docsense/internal/pkg/pdfextract"
)

// PDFText reads the embedded text layer of PDFs without calling any
// provider. Scanned images are rejected.
type PDFText struct{}

func NewPDFText() *PDFText { return &PDFText{} }

func (*PDFText) Name() string { return "pdftext" }

func (*PDFText) Process(ctx context.Context, content []byte, mimeType string) (*pipeline.OCRResult, error) {
	if mimeType != "application/pdf" {
		return nil, fmt.Errorf("unsupported format %s: local text extraction reads PDFs only", mimeType)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := pdfextract.Extract(content)
	if err != nil {
		return nil, fmt.Errorf("corrupted document: %w", err)
	}
	return &pipeline.OCRResult{Text: res.Text, PageCount: res.Pages}, nil
}
