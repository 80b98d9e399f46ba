package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsense/internal/pipeline"
)

type fakeEngine struct {
	result *pipeline.OCRResult
	err    error
	delay  time.Duration
	calls  int
	mime   string
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Process(ctx context.Context, _ []byte, mimeType string) (*pipeline.OCRResult, error) {
	e.calls++
	e.mime = mimeType
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return e.result, e.err
}

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n%%EOF")

func requireKind(t *testing.T, err error, kind pipeline.ErrorKind) *pipeline.ExtractionError {
	t.Helper()
	extractErr, ok := pipeline.AsExtractionError(err)
	require.True(t, ok, "expected *ExtractionError, got %v", err)
	assert.Equal(t, kind, extractErr.Kind)
	assert.NotEmpty(t, extractErr.UserMessage)
	return extractErr
}

func TestExtractEmptyFileNeverCallsEngine(t *testing.T) {
	engine := &fakeEngine{result: &pipeline.OCRResult{Text: "unused"}}
	_, err := pipeline.NewExtractor(engine, pipeline.ExtractorConfig{}).Extract(context.Background(), nil, "application/pdf")

	requireKind(t, err, pipeline.KindEmptyFile)
	assert.Zero(t, engine.calls)
}

func TestExtractOversizeNeverCallsEngine(t *testing.T) {
	engine := &fakeEngine{}
	_, err := pipeline.NewExtractor(engine, pipeline.ExtractorConfig{MaxFileSize: 8}).Extract(context.Background(), pdfBytes, "application/pdf")

	requireKind(t, err, pipeline.KindFileSizeExceeded)
	assert.Zero(t, engine.calls)
}

func TestExtractRejectsUnsupportedType(t *testing.T) {
	engine := &fakeEngine{}
	_, err := pipeline.NewExtractor(engine, pipeline.ExtractorConfig{}).Extract(context.Background(), []byte("PK\x03\x04zip"), "application/zip")

	requireKind(t, err, pipeline.KindInvalidDocument)
	assert.Zero(t, engine.calls)
}

func TestExtractSniffsGenericContentType(t *testing.T) {
	engine := &fakeEngine{result: &pipeline.OCRResult{Text: "hello", PageCount: 1}}
	res, err := pipeline.NewExtractor(engine, pipeline.ExtractorConfig{}).Extract(context.Background(), pdfBytes, "application/octet-stream")

	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text)
	assert.Equal(t, "application/pdf", engine.mime)
}

func TestExtractClassifiesProviderErrors(t *testing.T) {
	engine := &fakeEngine{err: errors.New("400 PAGE_LIMIT_EXCEEDED: limit 15 got 30")}
	_, err := pipeline.NewExtractor(engine, pipeline.ExtractorConfig{}).Extract(context.Background(), pdfBytes, "application/pdf")

	extractErr := requireKind(t, err, pipeline.KindPageLimitExceeded)
	assert.False(t, extractErr.Retryable)
	assert.Contains(t, extractErr.UserMessage, "30")
	assert.NotContains(t, extractErr.UserMessage, "400")
}

func TestExtractTimeoutIsRetryable(t *testing.T) {
	engine := &fakeEngine{delay: time.Second, result: &pipeline.OCRResult{Text: "late"}}
	_, err := pipeline.NewExtractor(engine, pipeline.ExtractorConfig{Timeout: 10 * time.Millisecond}).
		Extract(context.Background(), pdfBytes, "application/pdf")

	extractErr := requireKind(t, err, pipeline.KindProviderTimeout)
	assert.True(t, extractErr.Retryable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExtractEmptyTextIsCorrupted(t *testing.T) {
	engine := &fakeEngine{result: &pipeline.OCRResult{Text: "  \n "}}
	_, err := pipeline.NewExtractor(engine, pipeline.ExtractorConfig{}).Extract(context.Background(), pdfBytes, "application/pdf")

	requireKind(t, err, pipeline.KindCorruptedDocument)
}

func TestNormalizeContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", pipeline.NormalizeContentType("image/JPG"))
	assert.Equal(t, "application/pdf", pipeline.NormalizeContentType("application/pdf; charset=binary"))
	assert.Equal(t, "", pipeline.NormalizeContentType(""))
	assert.Equal(t, "", pipeline.NormalizeContentType(";;"))
}

func TestValidateUploadOrder(t *testing.T) {
	// Emptiness is checked before the content type.
	err := pipeline.ValidateUpload(0, "application/zip", 10)
	requireKind(t, err, pipeline.KindEmptyFile)

	err = pipeline.ValidateUpload(11, "application/zip", 10)
	requireKind(t, err, pipeline.KindFileSizeExceeded)

	assert.NoError(t, pipeline.ValidateUpload(10, "image/webp", 10))
}
