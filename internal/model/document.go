package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusQueued     DocumentStatus = "queued"
	StatusProcessing DocumentStatus = "processing"
	StatusProcessed  DocumentStatus = "processed"
	StatusFailed     DocumentStatus = "failed"
)

// Terminal reports whether no worker will move the document further on its own.
func (s DocumentStatus) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// DocumentEntity is an entity reported by the OCR engine.
type DocumentEntity struct {
	Type        string `json:"type"`
	MentionText string `json:"mention_text"`
}

// DocumentMetadata is the structured analysis stored alongside the summary.
type DocumentMetadata struct {
	DocumentType     string   `json:"document_type"`
	Complexity       string   `json:"complexity"`
	RiskLevel        string   `json:"risk_level"`
	RiskFactors      []string `json:"risk_factors"`
	KeyParties       []string `json:"key_parties"`
	WordCount        int      `json:"word_count"`
	PageCount        string   `json:"page_count"`
	AnalysisDegraded bool     `json:"analysis_degraded"`
	InputTruncated   bool     `json:"input_truncated"`
	AnalyzedChars    int      `json:"analyzed_chars"`
	Region           string   `json:"region,omitempty"`
	Model            string   `json:"model,omitempty"`

	Entities []DocumentEntity `json:"entities,omitempty"`
}

type Document struct {
	ID                  string                               `gorm:"type:char(36);primaryKey" json:"id"`
	OwnerID             string                               `gorm:"size:128;not null;index" json:"owner_id"`
	FileName            string                               `gorm:"size:255;not null" json:"file_name"`
	UniqueFileKey       string                               `gorm:"size:384;not null;uniqueIndex" json:"unique_file_key"`
	BucketPath          string                               `gorm:"size:512;not null" json:"bucket_path"`
	ContentType         string                               `gorm:"size:128" json:"content_type"`
	SizeBytes           int64                                `json:"size_bytes"`
	PageCount           *int                                 `json:"page_count"`
	Status              DocumentStatus                       `gorm:"size:16;not null;index:idx_documents_status_created,priority:1" json:"status"`
	ExtractedText       string                               `gorm:"type:longtext" json:"extracted_text,omitempty"`
	Summary             string                               `gorm:"type:text" json:"summary,omitempty"`
	DetailedExplanation string                               `gorm:"type:text" json:"detailed_explanation,omitempty"`
	Metadata            datatypes.JSONType[DocumentMetadata] `json:"metadata"`
	ErrorCode           string                               `gorm:"size:32" json:"error_code,omitempty"`
	ErrorMessage        string                               `gorm:"size:512" json:"error_message,omitempty"`
	CreatedAt           time.Time                            `gorm:"index:idx_documents_status_created,priority:2" json:"created_at"`
	UpdatedAt           time.Time                            `json:"updated_at"`
	ProcessedAt         *time.Time                           `json:"processed_at"`
}

// UniqueFileKey identifies at most one live document per owner and file name.
func UniqueFileKey(ownerID, fileName string) string {
	return ownerID + ":" + fileName
}

func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.UniqueFileKey == "" {
		d.UniqueFileKey = UniqueFileKey(d.OwnerID, d.FileName)
	}
	return nil
}
