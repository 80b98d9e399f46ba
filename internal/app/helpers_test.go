package app_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"docsense/internal/app"
	"docsense/internal/model"
	"docsense/internal/pipeline"
	"docsense/internal/repository"
)

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n%%EOF")

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "docsense.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.Document{}, &model.DocumentChunk{}))
	return db
}

type memBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploads   int
	failReads bool
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (b *memBlobs) Download(_ context.Context, path string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[path]
	if !ok || b.failReads {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (b *memBlobs) Upload(_ context.Context, path string, data []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads++
	b.objects[path] = data
	return nil
}

func (b *memBlobs) Delete(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, path)
	return nil
}

func (b *memBlobs) SignedURL(_ context.Context, path string, ttl time.Duration) (string, error) {
	return "https://blobs.test/" + path + "?ttl=" + ttl.String(), nil
}

type fakeEngine struct {
	mu     sync.Mutex
	result *pipeline.OCRResult
	err    error
	calls  int
	// cancel, when set, is called mid-call and the call returns ctx.Err().
	cancel context.CancelFunc
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Process(ctx context.Context, _ []byte, _ string) (*pipeline.OCRResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.cancel != nil {
		e.cancel()
		return nil, ctx.Err()
	}
	return e.result, e.err
}

func (e *fakeEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type staticProvider struct {
	text string
	err  error
}

func (p staticProvider) Client(context.Context, string) (pipeline.ModelClient, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p, nil
}

func (p staticProvider) Generate(context.Context, string, string, pipeline.GenerationParams) (*pipeline.GenerationResponse, error) {
	return &pipeline.GenerationResponse{Text: p.text}, nil
}

type memCache struct {
	mu   sync.Mutex
	docs map[string]model.Document
	sets int
}

func newMemCache() *memCache { return &memCache{docs: map[string]model.Document{}} }

func (c *memCache) GetDocument(_ context.Context, id string) (*model.Document, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[id]
	if !ok {
		return nil, false, nil
	}
	return &doc, true, nil
}

func (c *memCache) SetDocument(_ context.Context, doc *model.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.docs[doc.ID] = *doc
	return nil
}

func (c *memCache) DeleteDocument(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.docs, id)
	return nil
}

func (c *memCache) Sets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}

type recordingPublisher struct {
	mu  sync.Mutex
	ids []string
}

func (p *recordingPublisher) PublishQueued(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, id)
	return nil
}

func (p *recordingPublisher) IDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ids...)
}

type fixture struct {
	db        *gorm.DB
	docs      *repository.DocumentRepository
	chunks    *repository.ChunkRepository
	blobs     *memBlobs
	cache     *memCache
	engine    *fakeEngine
	publisher *recordingPublisher
	processor *app.Processor
	service   *app.DocumentService
}

func newFixture(t *testing.T, engine *fakeEngine, provider pipeline.ModelProvider) *fixture {
	t.Helper()
	db := newTestDB(t)
	f := &fixture{
		db:        db,
		docs:      repository.NewDocumentRepository(db),
		chunks:    repository.NewChunkRepository(db),
		blobs:     newMemBlobs(),
		cache:     newMemCache(),
		engine:    engine,
		publisher: &recordingPublisher{},
	}
	extractor := pipeline.NewExtractor(engine, pipeline.ExtractorConfig{})
	analyzer := pipeline.NewAnalyzer(provider, pipeline.AnalyzerConfig{})
	f.processor = app.NewProcessor(f.docs, f.blobs, extractor, analyzer, f.cache, 40)
	f.service = app.NewDocumentService(f.docs, f.chunks, f.processor, f.blobs, f.cache, f.publisher, 0)
	return f
}

const structuredReply = "DETAILED EXPLANATION:\nRent is due monthly.\nSUMMARY:\nA simple lease.\nMETADATA:\nDocument Type: Lease\nRisk Level: Low"
