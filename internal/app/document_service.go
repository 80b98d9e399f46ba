package app

import (
	"context"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"docsense/internal/model"
	"docsense/internal/pipeline"
	"docsense/internal/repository"
)

const defaultSignedURLTTL = time.Hour

// QueuePublisher announces that a document became eligible for workers.
type QueuePublisher interface {
	PublishQueued(ctx context.Context, documentID string) error
}

type DocumentService struct {
	docs        *repository.DocumentRepository
	chunks      *repository.ChunkRepository
	resolver    *Resolver
	processor   *Processor
	blobs       BlobStore
	cache       DocumentCache
	publisher   QueuePublisher
	maxFileSize int64
}

func NewDocumentService(
	docs *repository.DocumentRepository,
	chunks *repository.ChunkRepository,
	processor *Processor,
	blobs BlobStore,
	cache DocumentCache,
	publisher QueuePublisher,
	maxFileSize int64,
) *DocumentService {
	if cache == nil {
		cache = noopCache{}
	}
	if maxFileSize <= 0 {
		maxFileSize = pipeline.DefaultMaxFileSize
	}
	return &DocumentService{
		docs:        docs,
		chunks:      chunks,
		resolver:    NewResolver(docs),
		processor:   processor,
		blobs:       blobs,
		cache:       cache,
		publisher:   publisher,
		maxFileSize: maxFileSize,
	}
}

type EnqueueInput struct {
	OwnerID     string
	FileName    string
	BucketPath  string
	ContentType string
	SizeBytes   int64
}

type EnqueueResult struct {
	Document   *model.Document `json:"document"`
	IsExisting bool            `json:"is_existing"`
}

// Enqueue registers an uploaded document and queues it for processing. A
// second call for the same owner and file name returns the stored document
// with IsExisting set and queues nothing.
func (s *DocumentService) Enqueue(ctx context.Context, input EnqueueInput) (*EnqueueResult, error) {
	ownerID := strings.TrimSpace(input.OwnerID)
	fileName := strings.TrimSpace(input.FileName)
	bucketPath := strings.TrimSpace(input.BucketPath)
	if ownerID == "" || fileName == "" || bucketPath == "" {
		return nil, ErrInvalidInput
	}
	contentType := resolveContentType(input.ContentType, fileName)
	if err := pipeline.ValidateUpload(input.SizeBytes, contentType, s.maxFileSize); err != nil {
		return nil, err
	}
	bucketPath, ok := ownerBucketPath(ownerID, bucketPath)
	if !ok {
		return nil, ErrNotOwner
	}

	doc, existing, err := s.resolver.Resolve(ctx, &model.Document{
		OwnerID:     ownerID,
		FileName:    fileName,
		BucketPath:  bucketPath,
		ContentType: contentType,
		SizeBytes:   input.SizeBytes,
	})
	if err != nil {
		return nil, err
	}
	if existing {
		return &EnqueueResult{Document: doc, IsExisting: true}, nil
	}

	queued, err := s.docs.Transition(ctx, doc.ID, model.StatusQueued, model.StatusUploaded)
	if err != nil {
		return nil, err
	}
	if queued {
		doc.Status = model.StatusQueued
		s.announce(ctx, doc.ID)
	}
	return &EnqueueResult{Document: doc}, nil
}

type UploadInput struct {
	OwnerID     string
	FileName    string
	ContentType string
	Data        []byte
}

// Upload stores the bytes under owner/file name and enqueues the document.
// Known documents are returned without touching the blob store.
func (s *DocumentService) Upload(ctx context.Context, input UploadInput) (*EnqueueResult, error) {
	ownerID := strings.TrimSpace(input.OwnerID)
	fileName := path.Base(filepath.ToSlash(strings.TrimSpace(input.FileName)))
	if ownerID == "" || fileName == "" || fileName == "." || fileName == "/" {
		return nil, ErrInvalidInput
	}
	contentType := pipeline.DetectContentType(input.Data, resolveContentType(input.ContentType, fileName))
	if err := pipeline.ValidateUpload(int64(len(input.Data)), contentType, s.maxFileSize); err != nil {
		return nil, err
	}

	existing, err := s.docs.GetByUniqueFileKey(ctx, model.UniqueFileKey(ownerID, fileName))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &EnqueueResult{Document: existing, IsExisting: true}, nil
	}

	bucketPath := ownerID + "/" + fileName
	if err := s.blobs.Upload(ctx, bucketPath, input.Data, contentType); err != nil {
		return nil, fmt.Errorf("upload document blob failed: %w", err)
	}
	return s.Enqueue(ctx, EnqueueInput{
		OwnerID:     ownerID,
		FileName:    fileName,
		BucketPath:  bucketPath,
		ContentType: contentType,
		SizeBytes:   int64(len(input.Data)),
	})
}

// Process runs the pipeline for one document on behalf of its owner.
// Uploaded, queued and failed documents are claimed; processed documents
// return their stored result without any provider call.
func (s *DocumentService) Process(ctx context.Context, ownerID, documentID string) (*ProcessResult, error) {
	doc, err := s.ownedDocument(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}

	switch doc.Status {
	case model.StatusProcessed:
		return resultFromDocument(doc), nil
	case model.StatusProcessing:
		return nil, ErrAlreadyProcessing
	}

	claimed, err := s.docs.Transition(ctx, doc.ID, model.StatusProcessing,
		model.StatusUploaded, model.StatusQueued, model.StatusFailed)
	if err != nil {
		return nil, err
	}
	if !claimed {
		current, err := s.docs.GetByID(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		if current != nil && current.Status == model.StatusProcessed {
			return resultFromDocument(current), nil
		}
		return nil, ErrAlreadyProcessing
	}
	doc.Status = model.StatusProcessing

	return s.processor.Run(ctx, doc)
}

// Get returns one document of the owner. Terminal writes populate the
// cache; a miss reads the row without caching it, since the row may already
// be claimed again.
func (s *DocumentService) Get(ctx context.Context, ownerID, documentID string) (*model.Document, error) {
	if cached, ok, err := s.cache.GetDocument(ctx, documentID); err != nil {
		logrus.WithError(err).WithField("document_id", documentID).Warn("read document cache failed")
	} else if ok {
		if cached.OwnerID != ownerID {
			return nil, ErrNotOwner
		}
		return cached, nil
	}
	return s.ownedDocument(ctx, ownerID, documentID)
}

func (s *DocumentService) List(ctx context.Context, ownerID string) ([]model.Document, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrInvalidInput
	}
	return s.docs.ListByOwnerID(ctx, ownerID)
}

// Chunks returns the document's chunks in index order.
func (s *DocumentService) Chunks(ctx context.Context, ownerID, documentID string) ([]model.DocumentChunk, error) {
	if _, err := s.ownedDocument(ctx, ownerID, documentID); err != nil {
		return nil, err
	}
	return s.chunks.ListByDocumentID(ctx, documentID)
}

func (s *DocumentService) SignedURL(ctx context.Context, ownerID, documentID string, ttl time.Duration) (string, error) {
	doc, err := s.ownedDocument(ctx, ownerID, documentID)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = defaultSignedURLTTL
	}
	url, err := s.blobs.SignedURL(ctx, doc.BucketPath, ttl)
	if err != nil {
		return "", fmt.Errorf("create signed url failed: %w", err)
	}
	return url, nil
}

// Delete removes the blob, the chunks and the document. Documents being
// processed cannot be deleted.
func (s *DocumentService) Delete(ctx context.Context, ownerID, documentID string) error {
	doc, err := s.ownedDocument(ctx, ownerID, documentID)
	if err != nil {
		return err
	}
	if doc.Status == model.StatusProcessing {
		return ErrAlreadyProcessing
	}
	if err := s.blobs.Delete(ctx, doc.BucketPath); err != nil {
		logrus.WithError(err).WithField("document_id", doc.ID).Warn("delete document blob failed")
	}
	if err := s.docs.DeleteByID(ctx, doc.ID); err != nil {
		return err
	}
	if err := s.cache.DeleteDocument(ctx, doc.ID); err != nil {
		logrus.WithError(err).WithField("document_id", doc.ID).Warn("invalidate document cache failed")
	}
	return nil
}

func (s *DocumentService) ownedDocument(ctx context.Context, ownerID, documentID string) (*model.Document, error) {
	if strings.TrimSpace(ownerID) == "" || strings.TrimSpace(documentID) == "" {
		return nil, ErrInvalidInput
	}
	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	if doc.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return doc, nil
}

// ownerBucketPath cleans p and reports whether it lies under the owner's
// prefix.
func ownerBucketPath(ownerID, p string) (string, bool) {
	clean := path.Clean("/" + p)[1:]
	return clean, strings.HasPrefix(clean, ownerID+"/")
}

func (s *DocumentService) announce(ctx context.Context, documentID string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishQueued(ctx, documentID); err != nil {
		// Workers still find the document on their next poll.
		logrus.WithError(err).WithField("document_id", documentID).Warn("publish queued notification failed")
	}
}

// resolveContentType normalizes the declared type, falling back to the
// file extension.
func resolveContentType(declared, fileName string) string {
	if ct := pipeline.NormalizeContentType(declared); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	if byExt := pipeline.NormalizeContentType(mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName)))); byExt != "" {
		return byExt
	}
	return pipeline.NormalizeContentType(declared)
}
