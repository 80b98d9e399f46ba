package model

import "time"

// DocumentChunk is a bounded slice of a document's extracted text.
// ChunkIndex is 0-based and contiguous per document.
type DocumentChunk struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DocumentID string    `gorm:"type:char(36);not null;uniqueIndex:idx_chunk_document_index,priority:1" json:"document_id"`
	ChunkIndex int       `gorm:"not null;uniqueIndex:idx_chunk_document_index,priority:2" json:"chunk_index"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

func (DocumentChunk) TableName() string { return "document_chunks" }
