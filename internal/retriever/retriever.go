package retriever

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"concept-rag/internal/config"
	"concept-rag/internal/models"
	"concept-rag/internal/vectorstore"
)

// genericQuery anchors page lookups, which rank by filter rather than meaning.
const genericQuery = "financial document"

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Retriever embeds a query and searches the vector store. Nothing is cached
// here; every call re-embeds and re-queries.
type Retriever struct {
	embedder QueryEmbedder
	store    vectorstore.Store
	topK     int
	minScore float64
}

func New(e QueryEmbedder, s vectorstore.Store, cfg *config.RAGConfig) *Retriever {
	return &Retriever{embedder: e, store: s, topK: cfg.TopK, minScore: cfg.MinScore}
}

// Options narrows one query. Zero values fall back to the configured top-k
// and similarity floor; a negative MinScore disables the floor.
type Options struct {
	TopK     int
	Filter   vectorstore.Filter
	MinScore float64
}

// Query returns matches scoring at or above the floor, best first.
func (r *Retriever) Query(ctx context.Context, text string, opts Options) ([]models.RetrievedChunk, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = r.topK
	}
	floor := opts.MinScore
	if floor == 0 {
		floor = r.minScore
	}

	vec, err := r.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	matches, err := r.store.Query(ctx, vec, topK, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	kept := matches[:0]
	for _, m := range matches {
		if m.Score >= floor {
			kept = append(kept, m)
		}
	}
	log.Debug().Str("query", text).Int("matches", len(matches)).Int("kept", len(kept)).Float64("max_score", MaxScore(kept)).Msg("Retrieved chunks")
	return kept, nil
}

// Context is the joined text of a retrieval plus the pages it cites.
type Context struct {
	Text    string                  `json:"context"`
	Sources []string                `json:"sources"`
	Chunks  []models.RetrievedChunk `json:"chunks"`
}

// QueryWithContext joins retained chunk texts with blank lines and lists the
// distinct pages as sorted "Page N" labels.
func (r *Retriever) QueryWithContext(ctx context.Context, text string, opts Options) (*Context, error) {
	chunks, err := r.Query(ctx, text, opts)
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(chunks))
	pages := make([]int, 0, len(chunks))
	for _, c := range chunks {
		texts = append(texts, c.Text)
		pages = append(pages, c.Page)
	}
	pages = models.NormalizePages(pages)
	sources := make([]string, 0, len(pages))
	for _, p := range pages {
		sources = append(sources, fmt.Sprintf("Page %d", p))
	}
	return &Context{
		Text:    strings.Join(texts, models.ContextSeparator),
		Sources: sources,
		Chunks:  chunks,
	}, nil
}

// GetByPage returns chunks stored for one page.
func (r *Retriever) GetByPage(ctx context.Context, page, topK int) ([]models.RetrievedChunk, error) {
	return r.Query(ctx, genericQuery, Options{
		TopK:     topK,
		Filter:   vectorstore.Filter{"page": page},
		MinScore: -1,
	})
}

// GetBySection searches for name and keeps chunks whose section contains it,
// ignoring case.
func (r *Retriever) GetBySection(ctx context.Context, name string, topK int) ([]models.RetrievedChunk, error) {
	if topK <= 0 {
		topK = r.topK
	}
	// over-fetch since the section match happens after ranking
	chunks, err := r.Query(ctx, name, Options{TopK: topK * 2, MinScore: -1})
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(name))
	out := make([]models.RetrievedChunk, 0, topK)
	for _, c := range chunks {
		if strings.Contains(strings.ToLower(c.Section), needle) {
			out = append(out, c)
			if len(out) == topK {
				break
			}
		}
	}
	return out, nil
}

func (r *Retriever) Stats(ctx context.Context) (vectorstore.IndexStats, error) {
	return r.store.Stats(ctx)
}

// MaxScore is the best score in chunks, or 0 when there are none.
func MaxScore(chunks []models.RetrievedChunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	best := chunks[0].Score
	for _, c := range chunks[1:] {
		best = max(best, c.Score)
	}
	return best
}

// Pages lists the distinct positive pages cited by chunks, ascending.
func Pages(chunks []models.RetrievedChunk) []int {
	pages := make([]int, 0, len(chunks))
	for _, c := range chunks {
		pages = append(pages, c.Page)
	}
	return models.NormalizePages(pages)
}
