package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsense/internal/pipeline"
)

func TestPDFTextRejectsImages(t *testing.T) {
	_, err := NewPDFText().Process(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "image/png")
	require.Error(t, err)

	kind, _ := pipeline.Classify(err.Error())
	assert.Equal(t, pipeline.KindInvalidDocument, kind)
}

func TestPDFTextReportsBrokenPDFAsCorrupted(t *testing.T) {
	_, err := NewPDFText().Process(context.Background(), []byte("%PDF-1.4 truncated"), "application/pdf")
	require.Error(t, err)

	kind, _ := pipeline.Classify(err.Error())
	assert.Equal(t, pipeline.KindCorruptedDocument, kind)
}

func TestVertexProviderRequiresProject(t *testing.T) {
	_, err := NewVertexProvider("").Client(context.Background(), "us-central1")
	assert.Error(t, err)
}
