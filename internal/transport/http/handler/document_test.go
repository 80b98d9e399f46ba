package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"docsense/internal/app"
	"docsense/internal/model"
	"docsense/internal/pipeline"
	"docsense/internal/pkg/jwtutil"
	"docsense/internal/repository"
	"docsense/internal/storage"
	httptransport "docsense/internal/transport/http"
	"docsense/internal/transport/http/handler"
	"docsense/internal/transport/http/response"
)

const testSecret = "test-secret"

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n%%EOF")

type stubEngine struct {
	text string
	err  error
}

func (stubEngine) Name() string { return "stub" }

func (e stubEngine) Process(context.Context, []byte, string) (*pipeline.OCRResult, error) {
	if e.err != nil {
		return nil, e.err
	}
	return &pipeline.OCRResult{Text: e.text, PageCount: 1}, nil
}

type testServer struct {
	router *gin.Engine
	docs   *repository.DocumentRepository
	blobs  *storage.Local
}

func newTestServer(t *testing.T, engine pipeline.OCREngine) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "docsense.db")+"?_pragma=busy_timeout(5000)"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.Document{}, &model.DocumentChunk{}))

	blobs, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	docs := repository.NewDocumentRepository(db)
	processor := app.NewProcessor(
		docs,
		blobs,
		pipeline.NewExtractor(engine, pipeline.ExtractorConfig{}),
		pipeline.NewAnalyzer(nil, pipeline.AnalyzerConfig{}),
		nil,
		0,
	)
	service := app.NewDocumentService(docs, repository.NewChunkRepository(db), processor, blobs, nil, nil, 0)

	router := gin.New()
	httptransport.RegisterDocumentRoutes(router.Group("/api/v1"), handler.NewDocumentHandler(service, 0, time.Hour), testSecret)
	return &testServer{router: router, docs: docs, blobs: blobs}
}

func bearer(t *testing.T, owner string) string {
	t.Helper()
	token, err := jwtutil.GenerateToken(testSecret, time.Hour, owner, owner+"@example.com")
	require.NoError(t, err)
	return "Bearer " + token
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path, owner string, body []byte, contentType string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if owner != "" {
		req.Header.Set("Authorization", bearer(t, owner))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func (s *testServer) enqueue(t *testing.T, owner, file string, size int64) (int, envelope) {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"file_name":   file,
		"bucket_path": owner + "/" + file,
		"size_bytes":  size,
	})
	require.NoError(t, err)
	return s.do(t, http.MethodPost, "/api/v1/documents", owner, body, "application/json")
}

func decodeEnqueue(t *testing.T, env envelope) app.EnqueueResult {
	t.Helper()
	var res app.EnqueueResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	return res
}

func TestRequiresBearerToken(t *testing.T) {
	s := newTestServer(t, stubEngine{text: "x"})

	status, env := s.do(t, http.MethodGet, "/api/v1/documents", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, response.CodeUnauthorized, env.Code)
}

func TestEnqueueCreatedThenExisting(t *testing.T) {
	s := newTestServer(t, stubEngine{text: "x"})

	status, env := s.enqueue(t, "owner-1", "lease.pdf", 100)
	require.Equal(t, http.StatusCreated, status)
	first := decodeEnqueue(t, env)
	assert.False(t, first.IsExisting)
	assert.Equal(t, model.StatusQueued, first.Document.Status)

	status, env = s.enqueue(t, "owner-1", "lease.pdf", 100)
	require.Equal(t, http.StatusOK, status)
	second := decodeEnqueue(t, env)
	assert.True(t, second.IsExisting)
	assert.Equal(t, first.Document.ID, second.Document.ID)
}

func TestEnqueueValidationErrors(t *testing.T) {
	s := newTestServer(t, stubEngine{text: "x"})

	status, env := s.enqueue(t, "owner-1", "empty.pdf", 0)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, response.CodeEmptyFile, env.Code)

	status, env = s.enqueue(t, "owner-1", "huge.pdf", 21<<20)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, response.CodeFileTooLarge, env.Code)

	status, env = s.do(t, http.MethodPost, "/api/v1/documents", "owner-1", []byte(`{"file_name":""}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, response.CodeBadRequest, env.Code)
}

func TestGetOwnershipAndMissing(t *testing.T) {
	s := newTestServer(t, stubEngine{text: "x"})
	_, env := s.enqueue(t, "owner-1", "a.pdf", 10)
	id := decodeEnqueue(t, env).Document.ID

	status, _ := s.do(t, http.MethodGet, "/api/v1/documents/"+id, "owner-1", nil, "")
	assert.Equal(t, http.StatusOK, status)

	status, env = s.do(t, http.MethodGet, "/api/v1/documents/"+id, "owner-2", nil, "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, response.CodeForbidden, env.Code)

	status, env = s.do(t, http.MethodGet, "/api/v1/documents/missing", "owner-1", nil, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, response.CodeDocumentNotFound, env.Code)
}

func uploadBody(t *testing.T, name string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadAndProcess(t *testing.T) {
	s := newTestServer(t, stubEngine{text: "one two three"})

	body, ct := uploadBody(t, "contract.pdf", pdfBytes)
	status, env := s.do(t, http.MethodPost, "/api/v1/documents/upload", "owner-1", body.Bytes(), ct)
	require.Equal(t, http.StatusCreated, status, env.Message)
	id := decodeEnqueue(t, env).Document.ID

	status, env = s.do(t, http.MethodPost, "/api/v1/documents/"+id+"/process", "owner-1", nil, "")
	require.Equal(t, http.StatusOK, status, env.Message)
	var result app.ProcessResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, model.StatusProcessed, result.Status)
	assert.Equal(t, "one two three", result.ExtractedText)
	assert.True(t, result.Degraded)
	assert.Contains(t, result.Summary, "3 words")

	status, env = s.do(t, http.MethodGet, "/api/v1/documents/"+id+"/chunks", "owner-1", nil, "")
	require.Equal(t, http.StatusOK, status)
	var chunks []model.DocumentChunk
	require.NoError(t, json.Unmarshal(env.Data, &chunks))
	require.Len(t, chunks, 1)
	assert.Equal(t, "one two three", chunks[0].Content)
}

func TestProcessExtractionFailureIs422(t *testing.T) {
	s := newTestServer(t, stubEngine{err: errors.New("PERMISSION_DENIED: service account lacks documentai.processors.process")})

	body, ct := uploadBody(t, "contract.pdf", pdfBytes)
	_, env := s.do(t, http.MethodPost, "/api/v1/documents/upload", "owner-1", body.Bytes(), ct)
	id := decodeEnqueue(t, env).Document.ID

	status, env := s.do(t, http.MethodPost, "/api/v1/documents/"+id+"/process", "owner-1", nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, response.CodeProcessingFailed, env.Code)
	assert.NotContains(t, env.Message, "documentai.processors.process")

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, string(pipeline.KindPermissionDenied), data["error_code"])
}

func TestProcessWhileProcessingIs409(t *testing.T) {
	s := newTestServer(t, stubEngine{text: "x"})
	_, env := s.enqueue(t, "owner-1", "a.pdf", 10)
	id := decodeEnqueue(t, env).Document.ID

	ok, err := s.docs.Transition(context.Background(), id, model.StatusProcessing, model.StatusQueued)
	require.NoError(t, err)
	require.True(t, ok)

	status, env := s.do(t, http.MethodPost, "/api/v1/documents/"+id+"/process", "owner-1", nil, "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, response.CodeAlreadyProcessing, env.Code)
}

func TestSignedURLAndDelete(t *testing.T) {
	s := newTestServer(t, stubEngine{text: "x"})
	body, ct := uploadBody(t, "a.pdf", pdfBytes)
	_, env := s.do(t, http.MethodPost, "/api/v1/documents/upload", "owner-1", body.Bytes(), ct)
	id := decodeEnqueue(t, env).Document.ID

	status, _ := s.do(t, http.MethodGet, "/api/v1/documents/"+id+"/signed-url?ttl_minutes=0", "owner-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = s.do(t, http.MethodGet, "/api/v1/documents/"+id+"/signed-url?ttl_minutes=15", "owner-1", nil, "")
	require.Equal(t, http.StatusOK, status)
	var signed struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &signed))
	assert.Contains(t, signed.URL, "owner-1/a.pdf")

	status, _ = s.do(t, http.MethodDelete, "/api/v1/documents/"+id, "owner-1", nil, "")
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodGet, "/api/v1/documents/"+id, "owner-1", nil, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestEnqueueForeignBucketPathIs403(t *testing.T) {
	s := newTestServer(t, stubEngine{text: "x"})

	body, err := json.Marshal(map[string]interface{}{
		"file_name":   "lease.pdf",
		"bucket_path": "victim/lease.pdf",
		"size_bytes":  10,
	})
	require.NoError(t, err)
	status, env := s.do(t, http.MethodPost, "/api/v1/documents", "attacker", body, "application/json")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, response.CodeForbidden, env.Code)
}
