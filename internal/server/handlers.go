package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"concept-rag/internal/metrics"
	"concept-rag/internal/rag"
)

const (
	defaultConceptLimit = 50
	maxConceptLimit     = 200
	healthTimeout       = 5 * time.Second

	statusHealthy       = "healthy"
	statusDegraded      = "degraded"
	statusConnected     = "connected"
	statusNotConfigured = "not configured"
	statusConfigured    = "configured"
)

var errInvalidLimit = fmt.Errorf("limit must be an integer between 1 and %d", maxConceptLimit)

type handler struct {
	pipeline Pipeline
	notes    NoteCatalog
	vectors  Pinger
	model    ModelInfo
	metrics  *metrics.Counters
}

type HealthResponse struct {
	Status            string `json:"status"`
	DatabaseStatus    string `json:"database_status"`
	VectorStoreStatus string `json:"vector_store_status"`
	AIModelStatus     string `json:"ai_model_status"`
}

type StatsResponse struct {
	TotalConcepts     int     `json:"total_concepts"`
	CorpusConcepts    int     `json:"corpus_concepts"`
	WikipediaConcepts int     `json:"wikipedia_concepts"`
	SystemConcepts    int     `json:"system_concepts"`
	OtherConcepts     int     `json:"other_concepts"`
	CacheHitRate      float64 `json:"cache_hit_rate"`
	AvgProcessingMs   float64 `json:"avg_processing_time_ms"`
	TotalQueries      int64   `json:"total_queries"`
}

func (h *handler) root(c *gin.Context) {
	respondOK(c, gin.H{
		"service": ServiceName,
		"version": Version,
		"status":  "running",
		"endpoints": gin.H{
			"health":   "GET /health",
			"metrics":  "GET /metrics",
			"stats":    "GET /stats",
			"concepts": "GET /concepts?limit=N",
			"query":    "POST /query",
			"seed":     "POST /seed",
		},
	})
}

// health probes the database, the vector store and the model in parallel.
func (h *handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{}
	var g errgroup.Group
	g.Go(func() error {
		resp.DatabaseStatus = probe(ctx, h.notes)
		return nil
	})
	g.Go(func() error {
		resp.VectorStoreStatus = probe(ctx, h.vectors)
		return nil
	})
	g.Go(func() error {
		resp.AIModelStatus = modelStatus(h.model)
		return nil
	})
	_ = g.Wait()

	resp.Status = statusHealthy
	if resp.DatabaseStatus != statusConnected || resp.VectorStoreStatus != statusConnected {
		resp.Status = statusDegraded
	}
	respondOK(c, resp)
}

func probe(ctx context.Context, p Pinger) string {
	if p == nil {
		return statusNotConfigured
	}
	if err := p.Ping(ctx); err != nil {
		return "error: " + err.Error()
	}
	return statusConnected
}

// modelStatus reports whether a model client exists without calling it.
func modelStatus(m ModelInfo) string {
	if m == nil || !m.Available() {
		return statusNotConfigured
	}
	return statusConfigured
}

func (h *handler) getMetrics(c *gin.Context) {
	respondOK(c, h.metrics.Snapshot())
}

func (h *handler) stats(c *gin.Context) {
	counts, err := h.notes.Stats(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "internal_error", err)
		return
	}
	snap := h.metrics.Snapshot()
	respondOK(c, StatsResponse{
		TotalConcepts:     counts.Total,
		CorpusConcepts:    counts.Corpus,
		WikipediaConcepts: counts.Wikipedia,
		SystemConcepts:    counts.System,
		OtherConcepts:     counts.Other,
		CacheHitRate:      snap.CacheHitRate,
		AvgProcessingMs:   snap.AvgProcessingMs,
		TotalQueries:      snap.TotalQueries,
	})
}

func (h *handler) listConcepts(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_limit", err)
		return
	}
	notes, err := h.notes.List(c.Request.Context(), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "internal_error", err)
		return
	}
	respondOK(c, notes)
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultConceptLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxConceptLimit {
		return 0, errInvalidLimit
	}
	return n, nil
}

func (h *handler) query(c *gin.Context) {
	var req rag.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	resp, err := h.pipeline.Query(c.Request.Context(), req)
	if err != nil {
		respondPipelineError(c, err)
		return
	}
	respondOK(c, resp)
}

func (h *handler) seed(c *gin.Context) {
	var req rag.SeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if len(req.Concepts) == 0 {
		respondPipelineError(c, rag.ErrNoConcepts)
		return
	}
	res, err := h.pipeline.Seed(c.Request.Context(), req, nil)
	if err != nil {
		respondPipelineError(c, err)
		return
	}
	respondOK(c, res)
}
