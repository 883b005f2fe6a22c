package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/parsast/ytassist-backend/internal/http/handlers"
	httpMW "github.com/parsast/ytassist-backend/internal/http/middleware"
	"github.com/parsast/ytassist-backend/internal/pkg/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	HealthHandler *httpH.HealthHandler
	RAGHandler    *httpH.RAGHandler
	BatchHandler  *httpH.BatchHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.RAGHandler != nil {
			rag := api.Group("/rag")
			rag.POST("/ask", cfg.RAGHandler.Ask)
			rag.POST("/search", cfg.RAGHandler.Search)
			rag.GET("/stats", cfg.RAGHandler.Stats)
			rag.POST("/index/all", cfg.RAGHandler.IndexAll)
			rag.POST("/index/video/:id", cfg.RAGHandler.IndexVideo)
			rag.DELETE("/clear", cfg.RAGHandler.Clear)
		}

		if cfg.BatchHandler != nil {
			b := api.Group("/batch")
			b.GET("/status/summary", cfg.BatchHandler.StatusSummary)
			b.GET("/status/runs", cfg.BatchHandler.StatusRuns)

			// Run endpoints are GET so browsers can consume them with
			// EventSource.
			b.GET("/whisper/candidates", cfg.BatchHandler.WhisperCandidates)
			b.GET("/whisper/run", cfg.BatchHandler.RunWhisper)

			b.GET("/cleanup/candidates", cfg.BatchHandler.CleanupCandidates)
			b.GET("/cleanup/run", cfg.BatchHandler.RunCleanup)

			b.GET("/upload/candidates", cfg.BatchHandler.UploadCandidates)
			b.GET("/upload/run", cfg.BatchHandler.RunUpload)
		}
	}

	return r
}
