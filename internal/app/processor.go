package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"docsense/internal/model"
	"docsense/internal/pipeline"
	"docsense/internal/repository"
)

const maxStoredEntities = 100

// BlobStore holds uploaded document bytes by path.
type BlobStore interface {
	Download(ctx context.Context, path string) ([]byte, error)
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	Delete(ctx context.Context, path string) error
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// DocumentCache is a read-through cache for single documents.
type DocumentCache interface {
	GetDocument(ctx context.Context, id string) (*model.Document, bool, error)
	SetDocument(ctx context.Context, doc *model.Document) error
	DeleteDocument(ctx context.Context, id string) error
}

// ProcessResult is returned by Process and by every terminal write.
type ProcessResult struct {
	DocumentID          string                 `json:"document_id"`
	Status              model.DocumentStatus   `json:"status"`
	ExtractedText       string                 `json:"extracted_text"`
	Summary             string                 `json:"summary"`
	DetailedExplanation string                 `json:"detailed_explanation"`
	Metadata            model.DocumentMetadata `json:"metadata"`
	Degraded            bool                   `json:"degraded"`
	ChunkCount          int                    `json:"chunk_count"`
	ErrorCode           string                 `json:"error_code,omitempty"`
	ErrorMessage        string                 `json:"error_message,omitempty"`
}

func resultFromDocument(doc *model.Document) *ProcessResult {
	meta := doc.Metadata.Data()
	return &ProcessResult{
		DocumentID:          doc.ID,
		Status:              doc.Status,
		ExtractedText:       doc.ExtractedText,
		Summary:             doc.Summary,
		DetailedExplanation: doc.DetailedExplanation,
		Metadata:            meta,
		Degraded:            meta.AnalysisDegraded,
		ErrorCode:           doc.ErrorCode,
		ErrorMessage:        doc.ErrorMessage,
	}
}

// Processor drives one claimed document from processing to a terminal
// state: download, extract, chunk, analyze, write.
type Processor struct {
	docs          *repository.DocumentRepository
	blobs         BlobStore
	extractor     *pipeline.Extractor
	analyzer      *pipeline.Analyzer
	cache         DocumentCache
	chunkMaxChars int
}

func NewProcessor(
	docs *repository.DocumentRepository,
	blobs BlobStore,
	extractor *pipeline.Extractor,
	analyzer *pipeline.Analyzer,
	cache DocumentCache,
	chunkMaxChars int,
) *Processor {
	if cache == nil {
		cache = noopCache{}
	}
	if chunkMaxChars <= 0 {
		chunkMaxChars = pipeline.DefaultChunkMaxChars
	}
	return &Processor{
		docs:          docs,
		blobs:         blobs,
		extractor:     extractor,
		analyzer:      analyzer,
		cache:         cache,
		chunkMaxChars: chunkMaxChars,
	}
}

// Run processes doc, which the caller must already have claimed. An
// extraction failure marks the document failed and is returned as a
// *pipeline.ExtractionError; analysis failures only degrade the summary.
//
// Provider calls follow ctx, but the terminal write does not: a caller that
// goes away mid-run still leaves the document processed or failed.
func (p *Processor) Run(ctx context.Context, doc *model.Document) (*ProcessResult, error) {
	log := logrus.WithField("document_id", doc.ID)
	writeCtx := context.WithoutCancel(ctx)
	p.invalidate(writeCtx, doc.ID)

	data, err := p.blobs.Download(ctx, doc.BucketPath)
	if err != nil {
		log.WithError(err).WithField("bucket_path", doc.BucketPath).Error("download document failed")
		return nil, p.fail(writeCtx, doc, &pipeline.ExtractionError{
			Kind:        pipeline.KindUnknown,
			UserMessage: "The uploaded file could not be read from storage. Please upload it again.",
			Retryable:   true,
			Err:         err,
		})
	}

	extracted, err := p.extractor.Extract(ctx, data, doc.ContentType)
	if err != nil {
		extractErr, ok := pipeline.AsExtractionError(err)
		if !ok {
			extractErr = &pipeline.ExtractionError{Kind: pipeline.KindUnknown, Err: err}
			extractErr.Kind, extractErr.UserMessage = pipeline.Classify(err.Error())
		}
		return nil, p.fail(writeCtx, doc, extractErr)
	}

	chunks := pipeline.Chunk(extracted.Text, p.chunkMaxChars)
	analysis := p.analyzer.Analyze(ctx, extracted.Text, extracted.PageCount)
	analysis.Metadata.Entities = documentEntities(extracted.Entities)

	result := repository.ProcessedResult{
		ExtractedText:       extracted.Text,
		Summary:             analysis.Summary,
		DetailedExplanation: analysis.DetailedExplanation,
		Metadata:            analysis.Metadata,
		PageCount:           extracted.PageCount,
	}
	if err := p.docs.MarkProcessed(writeCtx, doc.ID, result, chunks); err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			return nil, fmt.Errorf("complete document %s: %w", doc.ID, err)
		}
		log.WithError(err).Error("persist processing result failed")
		return nil, p.fail(writeCtx, doc, &pipeline.ExtractionError{
			Kind:        pipeline.KindUnknown,
			UserMessage: "Document processing failed. Please try again or contact support.",
			Retryable:   true,
			Err:         err,
		})
	}

	log.WithFields(logrus.Fields{
		"chunks":   len(chunks),
		"entities": len(analysis.Metadata.Entities),
		"degraded": analysis.Degraded,
		"model":    analysis.Metadata.Model,
	}).Info("document processed")
	p.remember(writeCtx, doc.ID)

	return &ProcessResult{
		DocumentID:          doc.ID,
		Status:              model.StatusProcessed,
		ExtractedText:       extracted.Text,
		Summary:             analysis.Summary,
		DetailedExplanation: analysis.DetailedExplanation,
		Metadata:            analysis.Metadata,
		Degraded:            analysis.Degraded,
		ChunkCount:          len(chunks),
	}, nil
}

// fail writes the failed state and returns cause, or the write error when
// the state could not be recorded.
func (p *Processor) fail(ctx context.Context, doc *model.Document, cause *pipeline.ExtractionError) error {
	log := logrus.WithFields(logrus.Fields{"document_id": doc.ID, "error_code": cause.Kind})
	if err := p.docs.MarkFailed(ctx, doc.ID, string(cause.Kind), cause.UserMessage); err != nil {
		log.WithError(err).Error("mark document failed could not be written")
		return fmt.Errorf("record failure of document %s: %w", doc.ID, err)
	}
	log.Warn("document processing failed")
	p.remember(ctx, doc.ID)
	return cause
}

func (p *Processor) invalidate(ctx context.Context, id string) {
	if err := p.cache.DeleteDocument(ctx, id); err != nil {
		logrus.WithError(err).WithField("document_id", id).Warn("invalidate document cache failed")
	}
}

// remember caches the row as the terminal write left it. This is the only
// place documents enter the cache.
func (p *Processor) remember(ctx context.Context, id string) {
	doc, err := p.docs.GetByID(ctx, id)
	if err != nil || doc == nil {
		return
	}
	if err := p.cache.SetDocument(ctx, doc); err != nil {
		logrus.WithError(err).WithField("document_id", id).Warn("write document cache failed")
	}
}

// documentEntities keeps the first maxStoredEntities entities that carry text.
func documentEntities(entities []pipeline.Entity) []model.DocumentEntity {
	out := make([]model.DocumentEntity, 0, len(entities))
	for _, e := range entities {
		if len(out) == maxStoredEntities {
			break
		}
		text := strings.TrimSpace(e.MentionText)
		if text == "" {
			continue
		}
		out = append(out, model.DocumentEntity{Type: e.Type, MentionText: text})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

type noopCache struct{}

func (noopCache) GetDocument(context.Context, string) (*model.Document, bool, error) {
	return nil, false, nil
}
func (noopCache) SetDocument(context.Context, *model.Document) error { return nil }
func (noopCache) DeleteDocument(context.Context, string) error { return nil }
