package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"concept-rag/internal/config"
	"concept-rag/internal/models"
)

var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Status tells whether a chunk got a vector.
type Status int

const (
	Embedded Status = iota
	Failed
)

func (s Status) String() string {
	if s == Embedded {
		return "embedded"
	}
	return "failed"
}

// Result pairs a chunk with its vector. Failed results carry no vector and
// must not be indexed.
type Result struct {
	Chunk  models.Chunk
	Vector []float32
	Status Status
	Err    error
}

// Cache stores computed vectors per chunking strategy.
type Cache interface {
	Embeddings(strategy string) (map[string][]float32, bool, error)
	PutEmbeddings(strategy string, vectors map[string][]float32) error
}

// NewEmbedder builds a langchaingo embedder for the configured provider.
func NewEmbedder(cfg *config.LLMConfig, batchSize int) (embeddings.Embedder, error) {
	log.Debug().Str("provider", cfg.Provider).Str("base_url", cfg.BaseURL).
		Str("model", cfg.Model).Msg("Creating embedder")

	var client embeddings.EmbedderClient
	switch cfg.Provider {
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama: %w", err)
		}
		client = llm
	case "openai", "":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithEmbeddingModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai: %w", err)
		}
		client = llm
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(batchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}

// Service embeds chunks in paced batches and queries one at a time.
type Service struct {
	embedder  embeddings.Embedder
	cache     Cache
	dimension int
	batchSize int
	delay     time.Duration
}

func NewService(e embeddings.Embedder, cfg *config.Config, cache Cache) *Service {
	batch := cfg.RAG.EmbedBatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Service{
		embedder:  e,
		cache:     cache,
		dimension: cfg.EmbedLLM.Dimension,
		batchSize: batch,
		delay:     cfg.RAG.EmbedBatchDelay,
	}
}

func (s *Service) Dimension() int {
	return s.dimension
}

// EmbedQuery returns the vector for a single query string.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if err := s.checkDimension(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedChunks embeds chunks, reusing cached vectors for strategy. A failed
// batch marks its chunks Failed and the run continues; a vector of the wrong
// dimension aborts the run.
func (s *Service) EmbedChunks(ctx context.Context, strategy string, chunks []models.Chunk) ([]Result, error) {
	results := make([]Result, len(chunks))
	for i, ch := range chunks {
		results[i] = Result{Chunk: ch, Status: Failed}
	}

	cached := map[string][]float32{}
	if s.cache != nil {
		vecs, ok, err := s.cache.Embeddings(strategy)
		if err != nil {
			log.Warn().Err(err).Str("strategy", strategy).Msg("Error reading embedding cache")
		} else if ok {
			cached = vecs
			log.Info().Str("strategy", strategy).Int("vectors", len(vecs)).Msg("Loaded cached embeddings")
		}
	}

	var pending []int
	for i, ch := range chunks {
		if vec, ok := cached[ch.ID]; ok && len(vec) == s.dimension {
			results[i].Vector = vec
			results[i].Status = Embedded
			continue
		}
		pending = append(pending, i)
	}

	computed := 0
	for start := 0; start < len(pending); start += s.batchSize {
		if start > 0 && s.delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.delay):
			}
		}
		end := min(start+s.batchSize, len(pending))
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for j, idx := range batch {
			texts[j] = chunks[idx].Text
		}
		vecs, err := s.embedder.EmbedDocuments(ctx, texts)
		if err == nil && len(vecs) != len(texts) {
			err = fmt.Errorf("expected %d vectors, got %d", len(texts), len(vecs))
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Err(err).Int("batch_start", start).Int("batch_size", len(batch)).Msg("Embedding batch failed")
			for _, idx := range batch {
				results[idx].Err = err
			}
			continue
		}
		for j, idx := range batch {
			if err := s.checkDimension(vecs[j]); err != nil {
				return nil, fmt.Errorf("chunk %s: %w", chunks[idx].ID, err)
			}
			results[idx].Vector = vecs[j]
			results[idx].Status = Embedded
			computed++
		}
		log.Debug().Int("done", end).Int("total", len(pending)).Msg("Embedded batch")
	}

	if s.cache != nil && computed > 0 {
		all := make(map[string][]float32, len(results))
		for _, r := range results {
			if r.Status == Embedded {
				all[r.Chunk.ID] = r.Vector
			}
		}
		if err := s.cache.PutEmbeddings(strategy, all); err != nil {
			log.Warn().Err(err).Str("strategy", strategy).Msg("Error saving embedding cache")
		}
	}

	failed := CountFailed(results)
	log.Info().Str("strategy", strategy).Int("chunks", len(chunks)).Int("computed", computed).
		Int("failed", failed).Msg("Embedding complete")
	return results, nil
}

func (s *Service) checkDimension(vec []float32) error {
	if s.dimension > 0 && len(vec) != s.dimension {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, s.dimension, len(vec))
	}
	return nil
}

func CountFailed(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Status == Failed {
			n++
		}
	}
	return n
}

// CosineSimilarity returns 0 when either vector has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type Stats struct {
	Count     int     `json:"count"`
	Failed    int     `json:"failed"`
	Dimension int     `json:"dimension"`
	MeanNorm  float64 `json:"mean_norm"`
	StdNorm   float64 `json:"std_norm"`
	MinValue  float64 `json:"min_value"`
	MaxValue  float64 `json:"max_value"`
	MeanValue float64 `json:"mean_value"`
}

// ComputeStats summarizes the embedded vectors of results.
func ComputeStats(results []Result) Stats {
	st := Stats{Failed: CountFailed(results)}
	var norms []float64
	var sum float64
	values := 0
	st.MinValue = math.Inf(1)
	st.MaxValue = math.Inf(-1)
	for _, r := range results {
		if r.Status != Embedded {
			continue
		}
		st.Count++
		st.Dimension = len(r.Vector)
		var sq float64
		for _, v := range r.Vector {
			f := float64(v)
			sq += f * f
			sum += f
			values++
			st.MinValue = math.Min(st.MinValue, f)
			st.MaxValue = math.Max(st.MaxValue, f)
		}
		norms = append(norms, math.Sqrt(sq))
	}
	if st.Count == 0 {
		st.MinValue, st.MaxValue = 0, 0
		return st
	}
	for _, n := range norms {
		st.MeanNorm += n
	}
	st.MeanNorm /= float64(len(norms))
	for _, n := range norms {
		st.StdNorm += (n - st.MeanNorm) * (n - st.MeanNorm)
	}
	st.StdNorm = math.Sqrt(st.StdNorm / float64(len(norms)))
	if values > 0 {
		st.MeanValue = sum / float64(values)
	}
	return st
}
