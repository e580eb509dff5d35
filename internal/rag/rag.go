package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"concept-rag/internal/config"
	"concept-rag/internal/db"
	"concept-rag/internal/llmservice"
	"concept-rag/internal/metrics"
	"concept-rag/internal/models"
	"concept-rag/internal/retriever"
)

var (
	ErrEmptyConcept        = errors.New("concept name is required")
	ErrNoConcepts          = errors.New("at least one concept required")
	ErrOffDomain           = errors.New("concept is not related to finance")
	ErrFallbackUnavailable = errors.New("no fallback content found")
)

const (
	// PathCache marks a response served from the note cache.
	PathCache = "cache"

	wikipediaChunkID = "Wikipedia"
)

// NoteStore is the concept note cache.
type NoteStore interface {
	Get(ctx context.Context, name string) (*models.ConceptNote, error)
	Create(ctx context.Context, fields models.NoteFields) (*models.ConceptNote, error)
	Update(ctx context.Context, existing *models.ConceptNote, fields models.NoteFields) (*models.ConceptNote, error)
}

type Retriever interface {
	Query(ctx context.Context, text string, opts retriever.Options) ([]models.RetrievedChunk, error)
}

type Generator interface {
	GenerateNote(ctx context.Context, concept string, chunks []models.RetrievedChunk, source string) llmservice.Generation
	CheckRelevance(ctx context.Context, concept string) (bool, error)
	ModelName() string
}

// FallbackSource supplies context text when the corpus has no good match.
type FallbackSource interface {
	Content(ctx context.Context, term string) (string, error)
}

// RAG answers concept queries: cache check, retrieval, routing on the best
// score, generation and persistence.
type RAG struct {
	notes     NoteStore
	retriever Retriever
	generator Generator
	fallback  FallbackSource
	metrics   metrics.Sink

	threshold        float64
	corpusSource     string
	relevanceEnabled bool
	limiter          *rate.Limiter
}

func NewRAG(notes NoteStore, r Retriever, g Generator, f FallbackSource, sink metrics.Sink, cfg *config.Config) *RAG {
	if sink == nil {
		sink = metrics.Discard{}
	}
	burst := max(cfg.Seed.Burst, 1)
	limit := rate.Inf
	if cfg.Seed.Interval > 0 {
		limit = rate.Every(cfg.Seed.Interval)
	}
	return &RAG{
		notes:            notes,
		retriever:        r,
		generator:        g,
		fallback:         f,
		metrics:          sink,
		threshold:        cfg.RAG.RouteThreshold,
		corpusSource:     cfg.RAG.CorpusSource,
		relevanceEnabled: cfg.Relevance.Enabled,
		limiter:          rate.NewLimiter(limit, burst),
	}
}

type Request struct {
	Concept      string `json:"concept"`
	ForceRefresh bool   `json:"force_refresh"`
}

type Response struct {
	Note             *models.ConceptNote `json:"concept_note"`
	Cached           bool                `json:"cached"`
	ProcessingTimeMs float64             `json:"processing_time_ms"`
	Source           string              `json:"source"`
	PDFPages         []int               `json:"pdf_pages"`
	ChunksRetrieved  int                 `json:"chunks_retrieved"`
	FallbackUsed     bool                `json:"fallback_used"`
	MaxScore         float64             `json:"max_score"`
	AIModel          string              `json:"ai_model,omitempty"`
	GenerationPath   string              `json:"generation_path"`
}

// Query runs the pipeline for one concept. A cached note is returned as is
// unless ForceRefresh is set.
func (r *RAG) Query(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	concept := strings.TrimSpace(req.Concept)
	if concept == "" {
		return nil, ErrEmptyConcept
	}

	// every validated query is counted, including rejected and failed ones
	hit := false
	defer func() { r.metrics.QueryServed(hit, time.Since(start)) }()

	existing, err := r.cached(ctx, concept)
	if err != nil {
		return nil, err
	}
	if existing != nil && !req.ForceRefresh {
		log.Info().Str("concept", concept).Msg("Cache hit")
		hit = true
		resp := cachedResponse(existing)
		resp.ProcessingTimeMs = elapsedMs(start)
		return resp, nil
	}

	resp, err := r.generate(ctx, concept, existing)
	if err != nil {
		return nil, err
	}
	resp.ProcessingTimeMs = elapsedMs(start)
	return resp, nil
}

func (r *RAG) cached(ctx context.Context, concept string) (*models.ConceptNote, error) {
	existing, err := r.notes.Get(ctx, concept)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache lookup failed: %w", err)
	}
	return existing, nil
}

// generate runs retrieve, route, generate and persist. existing, when set,
// is the cache row to overwrite.
func (r *RAG) generate(ctx context.Context, concept string, existing *models.ConceptNote) (*Response, error) {
	chunks, err := r.retriever.Query(ctx, concept, retriever.Options{})
	r.metrics.VectorQueried()
	if err != nil {
		// an unreachable corpus routes to the fallback like an empty match
		log.Warn().Err(err).Str("concept", concept).Msg("Retrieval failed")
		chunks = nil
	}
	maxScore := retriever.MaxScore(chunks)
	resp := &Response{ChunksRetrieved: len(chunks), MaxScore: maxScore}

	var (
		source    string
		pages     []int
		grounding = chunks
	)
	if maxScore >= r.threshold {
		source = r.corpusSource
		pages = retriever.Pages(chunks)
		log.Info().Str("concept", concept).Float64("max_score", maxScore).Ints("pages", pages).Msg("Routing to corpus")
	} else {
		log.Info().Str("concept", concept).Float64("max_score", maxScore).Float64("threshold", r.threshold).Msg("Routing to fallback")
		r.metrics.FallbackUsed()
		resp.FallbackUsed = true

		if err := r.checkRelevance(ctx, concept); err != nil {
			return nil, err
		}
		text, err := r.fallback.Content(ctx, concept)
		if err != nil {
			log.Warn().Err(err).Str("concept", concept).Msg("Fallback lookup failed")
			return nil, fmt.Errorf("%w for %q: %v", ErrFallbackUnavailable, concept, err)
		}
		source = models.SourceWikipedia
		grounding = []models.RetrievedChunk{{ID: wikipediaChunkID, Text: text, Score: 1}}
	}

	r.metrics.GenerationCalled()
	gen := r.generator.GenerateNote(ctx, concept, grounding, source)
	fields := gen.Fields
	fields.ConceptName = concept
	fields.Source = source
	fields.PDFReferences = pages

	var note *models.ConceptNote
	if existing != nil {
		note, err = r.notes.Update(ctx, existing, fields)
	} else {
		note, err = r.notes.Create(ctx, fields)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save concept note: %w", err)
	}

	resp.Note = note
	resp.Source = note.Source
	resp.PDFPages = note.PDFReferences
	resp.AIModel = gen.Model
	resp.GenerationPath = gen.Path
	return resp, nil
}

// checkRelevance rejects off-domain concepts. A failing check lets the
// concept through so an outage never blocks the fallback.
func (r *RAG) checkRelevance(ctx context.Context, concept string) error {
	if !r.relevanceEnabled {
		return nil
	}
	relevant, err := r.generator.CheckRelevance(ctx, concept)
	if err != nil {
		log.Warn().Err(err).Str("concept", concept).Msg("Relevance check failed, continuing")
		return nil
	}
	if !relevant {
		r.metrics.Rejected()
		log.Info().Str("concept", concept).Msg("Rejected off-domain concept")
		return fmt.Errorf("%w: %q", ErrOffDomain, concept)
	}
	return nil
}

func cachedResponse(note *models.ConceptNote) *Response {
	return &Response{
		Note:           note,
		Cached:         true,
		Source:         note.Source,
		PDFPages:       note.PDFReferences,
		GenerationPath: PathCache,
	}
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
