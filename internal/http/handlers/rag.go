package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/parsast/ytassist-backend/internal/http/response"
	"github.com/parsast/ytassist-backend/internal/pkg/logger"
	"github.com/parsast/ytassist-backend/internal/services"
)

const defaultTopK = 5

type RAGHandler struct {
	log  *logger.Logger
	rag  services.RAGService
	topK int
}

func NewRAGHandler(log *logger.Logger, rag services.RAGService, topK int) *RAGHandler {
	if topK < 1 {
		topK = defaultTopK
	}
	return &RAGHandler{log: log.With("handler", "RAGHandler"), rag: rag, topK: topK}
}

// POST /api/rag/ask
// body: { "question": "...", "top_k": 5 }
func (h *RAGHandler) Ask(c *gin.Context) {
	var req struct {
		Question string `json:"question"`
		TopK     int    `json:"top_k"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("question is required"))
		return
	}
	if req.TopK <= 0 {
		req.TopK = h.topK
	}

	answer, err := h.rag.Ask(c.Request.Context(), req.Question, req.TopK)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "ask_failed", err)
		return
	}
	response.RespondOK(c, answer)
}

// POST /api/rag/search
// body: { "query": "...", "top_k": 5 }
func (h *RAGHandler) Search(c *gin.Context) {
	var req struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("query is required"))
		return
	}
	if req.TopK <= 0 {
		req.TopK = h.topK
	}

	results, err := h.rag.Search(c.Request.Context(), req.Query, req.TopK)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "search_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"results": results, "count": len(results)})
}

// GET /api/rag/stats
func (h *RAGHandler) Stats(c *gin.Context) {
	response.RespondOK(c, h.rag.Stats())
}

// POST /api/rag/index/all
func (h *RAGHandler) IndexAll(c *gin.Context) {
	result, err := h.rag.ReindexAllVideos(c.Request.Context())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "reindex_failed", err)
		return
	}
	response.RespondOK(c, result)
}

// POST /api/rag/index/video/:id
func (h *RAGHandler) IndexVideo(c *gin.Context) {
	videoID := strings.TrimSpace(c.Param("id"))
	if videoID == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("video id is required"))
		return
	}

	result, err := h.rag.IndexVideo(c.Request.Context(), videoID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "index_failed", err)
		return
	}
	response.RespondOK(c, result)
}

// DELETE /api/rag/clear
func (h *RAGHandler) Clear(c *gin.Context) {
	if err := h.rag.Clear(c.Request.Context()); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "clear_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"message": "index cleared"})
}
