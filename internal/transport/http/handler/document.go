package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"docsense/internal/app"
	"docsense/internal/pipeline"
	"docsense/internal/transport/http/middleware"
	"docsense/internal/transport/http/response"
)

type DocumentHandler struct {
	documents    *app.DocumentService
	maxFileSize  int64
	signedURLTTL time.Duration
}

type EnqueueDocumentRequest struct {
	FileName    string `json:"file_name" binding:"required,max=255"`
	BucketPath  string `json:"bucket_path" binding:"required,max=512"`
	ContentType string `json:"content_type" binding:"max=128"`
	SizeBytes   int64  `json:"size_bytes" binding:"min=0"`
}

type signedURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewDocumentHandler(documents *app.DocumentService, maxFileSize int64, signedURLTTL time.Duration) *DocumentHandler {
	if maxFileSize <= 0 {
		maxFileSize = pipeline.DefaultMaxFileSize
	}
	if signedURLTTL <= 0 {
		signedURLTTL = time.Hour
	}
	return &DocumentHandler{documents: documents, maxFileSize: maxFileSize, signedURLTTL: signedURLTTL}
}

func (h *DocumentHandler) Enqueue(c *gin.Context) {
	var req EnqueueDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.documents.Enqueue(c.Request.Context(), app.EnqueueInput{
		OwnerID:     middleware.OwnerID(c),
		FileName:    req.FileName,
		BucketPath:  req.BucketPath,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
	})
	if err != nil {
		writeError(c, err, "enqueue document failed")
		return
	}
	writeEnqueued(c, result)
}

// Upload accepts a multipart form with "file" and stores it before
// enqueueing.
func (h *DocumentHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file (form field 'file')")
		return
	}
	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "failed to open uploaded file")
		return
	}
	defer f.Close()

	// One byte past the limit is enough for the service to reject it.
	data, err := io.ReadAll(io.LimitReader(f, h.maxFileSize+1))
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "failed to read uploaded file")
		return
	}

	result, err := h.documents.Upload(c.Request.Context(), app.UploadInput{
		OwnerID:     middleware.OwnerID(c),
		FileName:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		writeError(c, err, "upload document failed")
		return
	}
	writeEnqueued(c, result)
}

func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.documents.List(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		writeError(c, err, "list documents failed")
		return
	}
	response.OK(c, docs)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.documents.Get(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		writeError(c, err, "get document failed")
		return
	}
	response.OK(c, doc)
}

func (h *DocumentHandler) Chunks(c *gin.Context) {
	chunks, err := h.documents.Chunks(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		writeError(c, err, "list chunks failed")
		return
	}
	response.OK(c, chunks)
}

func (h *DocumentHandler) Process(c *gin.Context) {
	result, err := h.documents.Process(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if extractErr, ok := pipeline.AsExtractionError(err); ok {
		response.ErrorWithData(c, http.StatusUnprocessableEntity, response.CodeProcessingFailed, extractErr.UserMessage, gin.H{
			"document_id": c.Param("id"),
			"status":      "failed",
			"error_code":  extractErr.Kind,
			"retryable":   extractErr.Retryable,
		})
		return
	}
	if err != nil {
		writeError(c, err, "process document failed")
		return
	}
	response.OK(c, result)
}

// SignedURL accepts an optional ttl_minutes query parameter.
func (h *DocumentHandler) SignedURL(c *gin.Context) {
	ttl := h.signedURLTTL
	if raw := c.Query("ttl_minutes"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 || minutes > 7*24*60 {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "ttl_minutes must be between 1 and 10080")
			return
		}
		ttl = time.Duration(minutes) * time.Minute
	}

	url, err := h.documents.SignedURL(c.Request.Context(), middleware.OwnerID(c), c.Param("id"), ttl)
	if err != nil {
		writeError(c, err, "create signed url failed")
		return
	}
	response.OK(c, signedURLResponse{URL: url, ExpiresAt: time.Now().Add(ttl).UTC()})
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.documents.Delete(c.Request.Context(), middleware.OwnerID(c), c.Param("id")); err != nil {
		writeError(c, err, "delete document failed")
		return
	}
	response.OK(c, gin.H{"deleted": true})
}

func writeEnqueued(c *gin.Context, result *app.EnqueueResult) {
	if result.IsExisting {
		response.OK(c, result)
		return
	}
	response.Created(c, result)
}

// writeError maps service errors onto the response envelope. Extraction
// errors seen here are upload validation failures.
func writeError(c *gin.Context, err error, fallback string) {
	if extractErr, ok := pipeline.AsExtractionError(err); ok {
		data := gin.H{"error_code": extractErr.Kind, "retryable": extractErr.Retryable}
		code := response.CodeBadRequest
		switch extractErr.Kind {
		case pipeline.KindEmptyFile:
			code = response.CodeEmptyFile
		case pipeline.KindFileSizeExceeded:
			code = response.CodeFileTooLarge
		case pipeline.KindInvalidDocument:
			code = response.CodeUnsupportedDocument
		}
		response.ErrorWithData(c, http.StatusBadRequest, code, extractErr.UserMessage, data)
		return
	}

	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrNotFound):
		response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, "document not found")
	case errors.Is(err, app.ErrNotOwner):
		response.Error(c, http.StatusForbidden, response.CodeForbidden, "document belongs to another owner")
	case errors.Is(err, app.ErrAlreadyProcessing):
		response.Error(c, http.StatusConflict, response.CodeAlreadyProcessing, "document is already being processed")
	default:
		logrus.WithError(err).WithField("path", c.FullPath()).Error(fallback)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
