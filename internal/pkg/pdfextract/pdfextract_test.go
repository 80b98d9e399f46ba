package pdfextract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractEmptyInput(t *testing.T) {
	res, err := Extract(nil)
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.Zero(t, res.Pages)
}

func TestExtractRejectsNonPDF(t *testing.T) {
	_, err := Extract([]byte("definitely not a pdf"))
	assert.Error(t, err)

	_, err = ExtractText(strings.NewReader("still not a pdf"))
	assert.Error(t, err)
}
