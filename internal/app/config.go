package app

import (
	"github.com/parsast/ytassist-backend/internal/batch"
	"github.com/parsast/ytassist-backend/internal/pkg/logger"
	"github.com/parsast/ytassist-backend/internal/rag"
	"github.com/parsast/ytassist-backend/internal/utils"
)

type Config struct {
	Port         string
	DataDir      string
	ChunkSize    int
	ChunkOverlap int
	TopK         int
	BatchWorkers int
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		Port:         utils.GetEnv("PORT", "8080", log),
		DataDir:      utils.GetEnv("DATA_DIR", "data", log),
		ChunkSize:    utils.GetEnvAsInt("RAG_CHUNK_SIZE", rag.DefaultChunkSize, log),
		ChunkOverlap: utils.GetEnvAsInt("RAG_CHUNK_OVERLAP", rag.DefaultChunkOverlap, log),
		TopK:         utils.GetEnvAsInt("RAG_TOP_K", 5, log),
		BatchWorkers: utils.GetEnvAsInt("BATCH_WORKERS", batch.DefaultConcurrency, log),
	}
}
