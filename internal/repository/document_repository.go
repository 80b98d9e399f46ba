package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"docsense/internal/model"
)

var (
	// ErrDuplicateKey is returned by Create when the unique file key is taken.
	ErrDuplicateKey = errors.New("document unique file key already exists")
	// ErrStateConflict means the document left the expected state before the write.
	ErrStateConflict = errors.New("document state changed concurrently")
)

// ProcessedResult is the terminal payload of a successful processing attempt.
type ProcessedResult struct {
	ExtractedText       string
	Summary             string
	DetailedExplanation string
	Metadata            model.DocumentMetadata
	PageCount           int
}

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("create document failed: %w", ErrDuplicateKey)
		}
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) GetByUniqueFileKey(ctx context.Context, key string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).Where("unique_file_key = ?", key).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document by unique key failed: %w", err)
	}
	return &doc, nil
}

// ListByOwnerID returns the owner's documents, newest first, without the
// large text columns.
func (r *DocumentRepository) ListByOwnerID(ctx context.Context, ownerID string) ([]model.Document, error) {
	var list []model.Document
	err := r.db.WithContext(ctx).
		Omit("extracted_text", "detailed_explanation").
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return list, nil
}

// Transition moves the document to `to` only if its current status is one
// of from. It reports whether this call performed the transition.
func (r *DocumentRepository) Transition(ctx context.Context, id string, to model.DocumentStatus, from ...model.DocumentStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Document{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, fmt.Errorf("transition document to %s failed: %w", to, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ClaimNextQueued atomically moves the oldest queued document to processing
// and returns it, or returns nil when nothing is queued. Losing a race to
// another worker moves on to the next candidate; every lost race means some
// other claim succeeded, so the loop ends once the queue is drained.
func (r *DocumentRepository) ClaimNextQueued(ctx context.Context) (*model.Document, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var candidate model.Document
		err := r.db.WithContext(ctx).
			Select("id").
			Where("status = ?", model.StatusQueued).
			Order("created_at ASC").
			Order("id ASC").
			Take(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("select queued document failed: %w", err)
		}

		claimed, err := r.Transition(ctx, candidate.ID, model.StatusProcessing, model.StatusQueued)
		if err != nil {
			return nil, err
		}
		if !claimed {
			continue
		}
		return r.GetByID(ctx, candidate.ID)
	}
}

// MarkProcessed stores the results, replaces the chunk set and sets the
// document to processed in one transaction.
func (r *DocumentRepository) MarkProcessed(ctx context.Context, id string, result ProcessedResult, chunks []string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":               model.StatusProcessed,
		"extracted_text":       result.ExtractedText,
		"summary":              result.Summary,
		"detailed_explanation": result.DetailedExplanation,
		"metadata":             datatypes.NewJSONType(result.Metadata),
		"error_code":           "",
		"error_message":        "",
		"processed_at":         now,
	}
	if result.PageCount > 0 {
		updates["page_count"] = result.PageCount
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Document{}).
			Where("id = ? AND status = ?", id, model.StatusProcessing).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("mark document processed failed: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return ErrStateConflict
		}
		return NewChunkRepository(tx).Replace(ctx, id, chunks)
	})
}

// MarkFailed records a classified failure. Text, summary and chunks of the
// failed attempt are never written.
func (r *DocumentRepository) MarkFailed(ctx context.Context, id, code, message string) error {
	res := r.db.WithContext(ctx).
		Model(&model.Document{}).
		Where("id = ? AND status = ?", id, model.StatusProcessing).
		Updates(map[string]interface{}{
			"status":        model.StatusFailed,
			"error_code":    code,
			"error_message": truncate(message, 512),
			"processed_at":  time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("mark document failed failed: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return ErrStateConflict
	}
	return nil
}

// DeleteByID removes the document row together with its chunks.
func (r *DocumentRepository) DeleteByID(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := NewChunkRepository(tx).DeleteByDocumentID(ctx, id); err != nil {
			return err
		}
		if err := tx.Where("id = ?", id).Delete(&model.Document{}).Error; err != nil {
			return fmt.Errorf("delete document failed: %w", err)
		}
		return nil
	})
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
