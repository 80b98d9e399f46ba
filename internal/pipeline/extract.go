package pipeline

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMaxFileSize       = 20 << 20 // 20 MiB
	defaultExtractionTimeout = 120 * time.Second
)

var allowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/tiff":      true,
	"image/gif":       true,
	"image/bmp":       true,
	"image/webp":      true,
}

var contentTypeAliases = map[string]string{
	"image/jpg":      "image/jpeg",
	"image/pjpeg":    "image/jpeg",
	"image/x-png":    "image/png",
	"image/tif":      "image/tiff",
	"image/x-ms-bmp": "image/bmp",
}

// Entity is a typed span the OCR engine recognized in the document.
type Entity struct {
	Type        string `json:"type"`
	MentionText string `json:"mention_text"`
}

// OCRResult is what an OCR engine returns for one document.
type OCRResult struct {
	Text      string
	PageCount int
	Entities  []Entity
}

// OCREngine turns document bytes into text. Errors carry provider text that
// is run through Classify.
type OCREngine interface {
	Name() string
	Process(ctx context.Context, content []byte, mimeType string) (*OCRResult, error)
}

type ExtractorConfig struct {
	MaxFileSize int64
	Timeout     time.Duration
}

// Extractor validates documents locally and submits them to an OCR engine.
type Extractor struct {
	engine OCREngine
	cfg    ExtractorConfig
}

func NewExtractor(engine OCREngine, cfg ExtractorConfig) *Extractor {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultExtractionTimeout
	}
	return &Extractor{engine: engine, cfg: cfg}
}

// MaxFileSize is the configured upload limit in bytes.
func (e *Extractor) MaxFileSize() int64 { return e.cfg.MaxFileSize }

// Extract validates content and runs it through the OCR engine. Every
// failure is an *ExtractionError.
func (e *Extractor) Extract(ctx context.Context, content []byte, contentType string) (*OCRResult, error) {
	contentType = DetectContentType(content, contentType)
	if err := ValidateUpload(int64(len(content)), contentType, e.cfg.MaxFileSize); err != nil {
		return nil, err
	}

	log := logrus.WithFields(logrus.Fields{
		"engine":       e.engine.Name(),
		"content_type": contentType,
		"size_bytes":   len(content),
	})

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	started := time.Now()
	result, err := e.engine.Process(callCtx, content, contentType)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			log.WithError(err).Warn("ocr call timed out")
			return nil, &ExtractionError{
				Kind:        KindProviderTimeout,
				UserMessage: "Document processing timed out. Please try again.",
				Retryable:   true,
				Err:         err,
			}
		}
		kind, msg := Classify(err.Error())
		log.WithError(err).WithField("error_code", kind).Error("ocr call failed")
		return nil, &ExtractionError{Kind: kind, UserMessage: msg, Err: err}
	}
	if result == nil || strings.TrimSpace(result.Text) == "" {
		log.Warn("ocr returned no text")
		return nil, &ExtractionError{
			Kind:        KindCorruptedDocument,
			UserMessage: "No text could be extracted from the document. Please try a clearer or text-based file.",
		}
	}

	log.WithFields(logrus.Fields{
		"pages":    result.PageCount,
		"chars":    len(result.Text),
		"duration": time.Since(started).String(),
	}).Info("ocr completed")
	return result, nil
}

// ValidateUpload runs the local checks that must pass before any provider
// is called.
func ValidateUpload(size int64, contentType string, maxSize int64) error {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if size <= 0 {
		return newValidationError(KindEmptyFile, "The uploaded file is empty.")
	}
	if size > maxSize {
		return newValidationError(KindFileSizeExceeded,
			fmt.Sprintf("Document file size is too large. Please use a file smaller than %dMB.", maxSize>>20))
	}
	if !allowedContentTypes[NormalizeContentType(contentType)] {
		return newValidationError(KindInvalidDocument, msgInvalidDocument)
	}
	return nil
}

// NormalizeContentType lowercases a media type, drops its parameters and
// resolves common aliases. Unparseable input yields "".
func NormalizeContentType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if alias, ok := contentTypeAliases[mediaType]; ok {
		return alias
	}
	return mediaType
}

// DetectContentType returns the declared type unless it is missing or
// generic, in which case the type is sniffed from content.
func DetectContentType(content []byte, declared string) string {
	normalized := NormalizeContentType(declared)
	if normalized != "" && normalized != "application/octet-stream" {
		return normalized
	}
	if len(content) == 0 {
		return normalized
	}
	return NormalizeContentType(mimetype.Detect(content).String())
}
