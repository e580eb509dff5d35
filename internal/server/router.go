package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"concept-rag/internal/config"
	"concept-rag/internal/db"
	"concept-rag/internal/metrics"
	"concept-rag/internal/models"
	"concept-rag/internal/rag"
)

const (
	ServiceName = "Financial Concept Note API"
	Version     = "1.0.0"
)

// Pipeline answers concept queries and seed requests.
type Pipeline interface {
	Query(ctx context.Context, req rag.Request) (*rag.Response, error)
	Seed(ctx context.Context, req rag.SeedRequest, progress rag.Progress) (*rag.SeedResult, error)
}

// NoteCatalog is the read side of the note cache.
type NoteCatalog interface {
	List(ctx context.Context, limit int) ([]*models.ConceptNote, error)
	Stats(ctx context.Context) (db.NoteStats, error)
	Ping(ctx context.Context) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// ModelInfo reports whether a language model is configured.
type ModelInfo interface {
	ModelName() string
	Available() bool
}

type RouterConfig struct {
	Pipeline Pipeline
	Notes    NoteCatalog
	Vectors  Pinger
	Model    ModelInfo
	Metrics  *metrics.Counters
}

func NewRouter(cfg *config.ServerConfig, rc RouterConfig) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	router := gin.New()
	router.Use(requestID(), requestLogger(), gin.Recovery())

	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", requestIDHeader},
		MaxAge:       12 * time.Hour,
	}
	if len(cfg.CORSOrigins) == 0 || (len(cfg.CORSOrigins) == 1 && cfg.CORSOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORSOrigins
	}
	router.Use(cors.New(corsCfg))

	h := &handler{
		pipeline: rc.Pipeline,
		notes:    rc.Notes,
		vectors:  rc.Vectors,
		model:    rc.Model,
		metrics:  rc.Metrics,
	}
	if h.metrics == nil {
		h.metrics = metrics.New()
	}

	router.GET("/", h.root)
	router.GET("/health", h.health)
	router.GET("/metrics", h.getMetrics)
	router.GET("/stats", h.stats)
	router.GET("/concepts", h.listConcepts)
	router.POST("/query", h.query)
	router.POST("/seed", h.seed)

	return router
}

// Run serves handler on addr until ctx is canceled, then shuts down
// gracefully.
func Run(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
