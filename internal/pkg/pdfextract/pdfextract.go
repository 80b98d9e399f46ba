package pdfextract

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

// Result is the text layer of a PDF and its page count.
type Result struct {
	Text  string
	Pages int
}

// Extract reads the text layer of the PDF in b. A PDF without a text layer
// returns an empty Text and a nil error.
func Extract(b []byte) (*Result, error) {
	if len(b) == 0 {
		return &Result{}, nil
	}
	pdfReader, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("open pdf failed: %w", err)
	}
	plainReader, err := pdfReader.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("read pdf text failed: %w", err)
	}
	out, err := io.ReadAll(plainReader)
	if err != nil {
		return nil, fmt.Errorf("read pdf text failed: %w", err)
	}
	return &Result{Text: string(out), Pages: pdfReader.NumPage()}, nil
}

// ExtractText reads r fully and returns the PDF's plain text.
func ExtractText(r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	res, err := Extract(b)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}
