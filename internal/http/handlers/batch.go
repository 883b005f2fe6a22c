package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/parsast/ytassist-backend/internal/batch"
	redisclient "github.com/parsast/ytassist-backend/internal/clients/redis"
	"github.com/parsast/ytassist-backend/internal/http/response"
	"github.com/parsast/ytassist-backend/internal/pkg/logger"
	"github.com/parsast/ytassist-backend/internal/services"
)

type BatchHandler struct {
	log             *logger.Logger
	batch           services.BatchService
	bus             redisclient.ProgressBus // nil when redis is not configured
	tracker         *services.ProgressTracker
	defaultParallel int
}

func NewBatchHandler(log *logger.Logger, batchService services.BatchService, bus redisclient.ProgressBus, tracker *services.ProgressTracker, defaultParallel int) *BatchHandler {
	if defaultParallel < 1 || defaultParallel > batch.MaxConcurrency {
		defaultParallel = batch.DefaultConcurrency
	}
	return &BatchHandler{
		log:             log.With("handler", "BatchHandler"),
		batch:           batchService,
		bus:             bus,
		tracker:         tracker,
		defaultParallel: defaultParallel,
	}
}

// GET /api/batch/status/summary
func (h *BatchHandler) StatusSummary(c *gin.Context) {
	summary, err := h.batch.Summary(c.Request.Context())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "summary_failed", err)
		return
	}
	response.RespondOK(c, summary)
}

// GET /api/batch/status/runs
func (h *BatchHandler) StatusRuns(c *gin.Context) {
	runs := []services.RunStatus{}
	if h.tracker != nil {
		runs = h.tracker.Runs()
	}
	response.RespondOK(c, gin.H{"runs": runs, "count": len(runs)})
}

func (h *BatchHandler) candidates(c *gin.Context, op services.BatchOperation) {
	candidates, err := h.batch.Candidates(c.Request.Context(), op)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "candidates_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"candidates": candidates, "count": len(candidates)})
}

// GET /api/batch/whisper/candidates
func (h *BatchHandler) WhisperCandidates(c *gin.Context) { h.candidates(c, services.OpWhisper) }

// GET /api/batch/cleanup/candidates
func (h *BatchHandler) CleanupCandidates(c *gin.Context) { h.candidates(c, services.OpCleanup) }

// GET /api/batch/upload/candidates
func (h *BatchHandler) UploadCandidates(c *gin.Context) { h.candidates(c, services.OpUpload) }

// GET /api/batch/whisper/run?parallel=2&video_ids=a,b,c
func (h *BatchHandler) RunWhisper(c *gin.Context) { h.run(c, services.OpWhisper) }

// GET /api/batch/cleanup/run
func (h *BatchHandler) RunCleanup(c *gin.Context) { h.run(c, services.OpCleanup) }

// GET /api/batch/upload/run
func (h *BatchHandler) RunUpload(c *gin.Context) { h.run(c, services.OpUpload) }

// run streams batch progress as server-sent events. A missing collaborator
// becomes an SSE error event rather than an HTTP error, so stream consumers
// need only one code path.
func (h *BatchHandler) run(c *gin.Context, op services.BatchOperation) {
	parallel := h.defaultParallel
	if raw := strings.TrimSpace(c.Query("parallel")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
		parallel = n
	}
	if parallel < 1 {
		parallel = 1
	}
	if parallel > batch.MaxConcurrency {
		parallel = batch.MaxConcurrency
	}

	var ids []string
	if raw := strings.TrimSpace(c.Query("video_ids")); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}

	runID := uuid.NewString()
	h.log.Info("Batch run requested", "run_id", runID, "operation", op, "parallel", parallel, "explicit_ids", len(ids))

	setSSEHeaders(c)

	// The batch must not die with the HTTP connection; it runs on a detached
	// context and the loop below keeps draining after the client leaves.
	events, err := h.batch.Run(context.WithoutCancel(c.Request.Context()), op, ids, parallel)
	if err != nil {
		if !errors.Is(err, services.ErrNotConfigured) {
			h.log.Error("Batch start failed", "operation", op, "error", err)
		}
		c.SSEvent("error", gin.H{"message": err.Error()})
		c.Writer.Flush()
		return
	}

	clientGone := c.Request.Context().Done()
	writable := true
	for ev := range events {
		if h.tracker != nil {
			h.tracker.Record(runID, string(op), ev)
		}
		if h.bus != nil {
			if err := h.bus.Publish(context.Background(), redisclient.ProgressMessage{
				RunID:     runID,
				Operation: string(op),
				Event:     ev,
			}); err != nil {
				h.log.Warn("Progress publish failed", "run_id", runID, "operation", op, "error", err)
			}
		}
		if !writable {
			continue
		}
		select {
		case <-clientGone:
			writable = false
			h.log.Info("SSE client disconnected mid-batch", "operation", op)
			continue
		default:
		}
		c.SSEvent(string(ev.Kind), ev)
		c.Writer.Flush()
	}
}

func setSSEHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
}
