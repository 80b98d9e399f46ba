package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"docsense/internal/model"
)

const chunkInsertBatchSize = 200

type ChunkRepository struct {
	db *gorm.DB
}

func NewChunkRepository(db *gorm.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

func (r *ChunkRepository) ListByDocumentID(ctx context.Context, documentID string) ([]model.DocumentChunk, error) {
	var chunks []model.DocumentChunk
	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("chunk_index ASC").
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("list document chunks failed: %w", err)
	}
	return chunks, nil
}

// Replace deletes the document's chunks and inserts contents with indexes
// 0..n-1. Callers that need atomicity pass a transaction handle.
func (r *ChunkRepository) Replace(ctx context.Context, documentID string, contents []string) error {
	if err := r.DeleteByDocumentID(ctx, documentID); err != nil {
		return err
	}
	if len(contents) == 0 {
		return nil
	}
	chunks := make([]model.DocumentChunk, len(contents))
	for i, c := range contents {
		chunks[i] = model.DocumentChunk{DocumentID: documentID, ChunkIndex: i, Content: c}
	}
	if err := r.db.WithContext(ctx).CreateInBatches(&chunks, chunkInsertBatchSize).Error; err != nil {
		return fmt.Errorf("create document chunks failed: %w", err)
	}
	return nil
}

func (r *ChunkRepository) DeleteByDocumentID(ctx context.Context, documentID string) error {
	if err := r.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&model.DocumentChunk{}).Error; err != nil {
		return fmt.Errorf("delete document chunks failed: %w", err)
	}
	return nil
}
