package bootstrap

import (
	"context"
	"fmt"
	"io"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"docsense/internal/ai"
	appsvc "docsense/internal/app"
	"docsense/internal/cache"
	"docsense/internal/config"
	"docsense/internal/model"
	"docsense/internal/pipeline"
	mysqlClient "docsense/internal/platform/mysql"
	rabbitmqClient "docsense/internal/platform/rabbitmq"
	redisClient "docsense/internal/platform/redis"
	"docsense/internal/repository"
	"docsense/internal/storage"
	"docsense/internal/worker"
)

type App struct {
	Config    *config.Config
	MySQL     *gorm.DB
	Redis     *redis.Client
	MQConn    *amqp.Connection
	Documents *appsvc.DocumentService
	Worker    *worker.DocumentWorker

	closers   []io.Closer
	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	setupLogging(cfg.App)

	a := &App{Config: cfg, StartedAt: time.Now()}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return err
	}
	a.MySQL = mysqlDB
	if err := mysqlDB.AutoMigrate(&model.Document{}, &model.DocumentChunk{}); err != nil {
		return fmt.Errorf("auto migrate tables failed: %w", err)
	}

	docCache := a.connectCache(ctx)
	publisher := a.connectBroker(ctx)

	blobs, err := a.blobStore(ctx)
	if err != nil {
		return err
	}
	engine, err := a.ocrEngine(ctx)
	if err != nil {
		return err
	}

	docRepo := repository.NewDocumentRepository(mysqlDB)
	chunkRepo := repository.NewChunkRepository(mysqlDB)

	extractor := pipeline.NewExtractor(engine, pipeline.ExtractorConfig{
		MaxFileSize: cfg.Pipeline.MaxFileSizeBytes,
		Timeout:     time.Duration(cfg.DocumentAI.TimeoutSeconds) * time.Second,
	})
	analyzer := pipeline.NewAnalyzer(ai.NewVertexProvider(cfg.Vertex.ProjectID), pipeline.AnalyzerConfig{
		Region:          cfg.Vertex.Region,
		Model:           cfg.Vertex.Model,
		PlainSummary:    cfg.Vertex.PlainSummary,
		Temperature:     float32(cfg.Vertex.Temperature),
		MaxOutputTokens: int32(cfg.Vertex.MaxOutputTokens),
		Timeout:         time.Duration(cfg.Vertex.TimeoutSeconds) * time.Second,
		MaxInputChars:   cfg.Pipeline.MaxAnalysisChars,
	})

	processor := appsvc.NewProcessor(docRepo, blobs, extractor, analyzer, docCache, cfg.Pipeline.ChunkMaxChars)
	a.Documents = appsvc.NewDocumentService(docRepo, chunkRepo, processor, blobs, docCache, publisher, cfg.Pipeline.MaxFileSizeBytes)
	a.Worker = worker.NewDocumentWorker(
		docRepo,
		processor,
		a.MQConn,
		cfg.RabbitMQ.QueuedQueue,
		time.Duration(cfg.Pipeline.PollIntervalSeconds)*time.Second,
	)

	logrus.WithFields(logrus.Fields{
		"cache":      a.Redis != nil,
		"broker":     a.MQConn != nil,
		"storage":    cfg.Storage.Driver,
		"ocr_engine": engine.Name(),
		"region":     cfg.Vertex.Region,
		"model":      cfg.Vertex.Model,
	}).Info("pipeline configured")
	return nil
}

// connectCache returns the Redis document cache, or nil when Redis is
// unreachable. Reads then go straight to MySQL.
func (a *App) connectCache(ctx context.Context) appsvc.DocumentCache {
	cfg := a.Config.Redis
	client, err := redisClient.New(ctx, cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		logrus.WithError(err).Warn("redis unavailable, document cache disabled")
		return nil
	}
	a.Redis = client
	return cache.NewDocumentCache(client, time.Duration(cfg.DocumentTTLSeconds)*time.Second)
}

// connectBroker returns the queued-document publisher, or nil when RabbitMQ
// is unreachable. Workers then find documents by polling alone.
func (a *App) connectBroker(ctx context.Context) appsvc.QueuePublisher {
	cfg := a.Config.RabbitMQ
	conn, err := rabbitmqClient.New(ctx, cfg.URL)
	if err != nil {
		logrus.WithError(err).Warn("rabbitmq unavailable, workers will only poll")
		return nil
	}
	a.MQConn = conn
	return rabbitmqClient.NewDocumentPublisher(conn, cfg.QueuedQueue)
}

// StartWorker starts the polling worker for this process.
func (a *App) StartWorker(ctx context.Context) error {
	if err := a.Worker.Start(ctx); err != nil {
		return fmt.Errorf("start document worker failed: %w", err)
	}
	return nil
}

func (a *App) blobStore(ctx context.Context) (appsvc.BlobStore, error) {
	cfg := a.Config.Storage
	if cfg.Driver == "gcs" {
		store, err := storage.NewGCS(ctx, cfg.Bucket, cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store)
		return store, nil
	}
	return storage.NewLocal(cfg.LocalRoot)
}

func (a *App) ocrEngine(ctx context.Context) (pipeline.OCREngine, error) {
	if a.Config.OCR.Engine == "pdftext" {
		return ai.NewPDFText(), nil
	}
	cfg := a.Config.DocumentAI
	engine, err := ai.NewDocumentAI(ctx, ai.DocumentAIConfig{
		ProjectID:       cfg.ProjectID,
		Location:        cfg.Location,
		ProcessorID:     cfg.ProcessorID,
		CredentialsFile: cfg.CredentialsFile,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, engine)
	return engine, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.Worker != nil {
		a.Worker.Close()
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}

func setupLogging(cfg config.AppConfig) {
	if cfg.Env != "dev" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}
