package app

import (
	"context"
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/parsast/ytassist-backend/internal/batch"
	"github.com/parsast/ytassist-backend/internal/clients/openai"
	redisclient "github.com/parsast/ytassist-backend/internal/clients/redis"
	"github.com/parsast/ytassist-backend/internal/data/db"
	"github.com/parsast/ytassist-backend/internal/data/repos/videos"
	httpserver "github.com/parsast/ytassist-backend/internal/http"
	httpH "github.com/parsast/ytassist-backend/internal/http/handlers"
	"github.com/parsast/ytassist-backend/internal/pkg/logger"
	"github.com/parsast/ytassist-backend/internal/rag"
	"github.com/parsast/ytassist-backend/internal/services"
)

type App struct {
	Log    *logger.Logger
	DB     *gorm.DB
	Server *httpserver.Server
	Cfg    Config

	bus    redisclient.ProgressBus
	cancel context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	sqlite, err := db.NewSQLiteService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init sqlite: %w", err)
	}
	if err := sqlite.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("sqlite automigrate: %w", err)
	}
	theDB := sqlite.DB()

	videoRepo := videos.NewVideoRepo(theDB, log)
	transcriptRepo := videos.NewTranscriptRepo(theDB, log)

	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init openai client: %w", err)
	}

	ragService, err := services.NewRAGService(log, openaiClient, videoRepo, transcriptRepo, services.RAGConfig{
		DataDir:      cfg.DataDir,
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		Dimension:    rag.EmbeddingDimension,
	})
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init rag service: %w", err)
	}

	cleanupService, err := services.NewCleanupService(log, openaiClient, transcriptRepo)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init cleanup service: %w", err)
	}

	// Speech-to-text and caption upload stay unwired until their backends
	// land; the batch endpoints report the absence per request.
	var transcriber services.Transcriber
	var uploader services.CaptionUploader

	runner := batch.NewRunner(log)
	batchService, err := services.NewBatchService(log, runner, videoRepo, transcriptRepo, cleanupService, transcriber, uploader)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init batch service: %w", err)
	}

	tracker := services.NewProgressTracker()

	ctx, cancel := context.WithCancel(context.Background())

	var bus redisclient.ProgressBus
	if os.Getenv("REDIS_ADDR") != "" {
		bus, err = redisclient.NewProgressBus(log)
		if err != nil {
			log.Warn("Redis progress bus unavailable; events stay process-local", "error", err)
			bus = nil
		}
	}
	if bus != nil {
		// Mirror runs started by sibling processes into the local tracker so
		// /api/batch/status/runs reports the whole deployment. Our own
		// published events come back too; the tracker folds them in place.
		err := bus.StartForwarder(ctx, func(m redisclient.ProgressMessage) {
			tracker.Record(m.RunID, m.Operation, m.Event)
		})
		if err != nil {
			log.Warn("Redis progress forwarder unavailable; run status stays process-local", "error", err)
		}
	}

	server := httpserver.NewServer(httpserver.RouterConfig{
		Log:           log,
		HealthHandler: httpH.NewHealthHandler(),
		RAGHandler:    httpH.NewRAGHandler(log, ragService, cfg.TopK),
		BatchHandler:  httpH.NewBatchHandler(log, batchService, bus, tracker, cfg.BatchWorkers),
	})

	return &App{
		Log:    log,
		DB:     theDB,
		Server: server,
		Cfg:    cfg,
		bus:    bus,
		cancel: cancel,
	}, nil
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("Server listening", "port", a.Cfg.Port)
	return a.Server.Run(":" + a.Cfg.Port)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.bus != nil {
		_ = a.bus.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
