package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/uptrace/bun"

	"concept-rag/internal/chromemdb"
	"concept-rag/internal/config"
	"concept-rag/internal/db"
	"concept-rag/internal/embedding"
	"concept-rag/internal/llmservice"
	"concept-rag/internal/metrics"
	"concept-rag/internal/pinecone"
	"concept-rag/internal/rag"
	"concept-rag/internal/retriever"
	"concept-rag/internal/vectorstore"
	"concept-rag/internal/wikipedia"
)

// app holds every wired component of one CLI run.
type app struct {
	cfg       *config.Config
	db        *bun.DB
	notes     *db.NoteRepository
	vectors   vectorstore.Store
	embedder  *embedding.Service
	retriever *retriever.Retriever
	llm       *llmservice.Client
	wiki      *wikipedia.Client
	metrics   *metrics.Counters
	rag       *rag.RAG
}

// openNotes connects to the relational cache and makes sure its schema exists.
func openNotes(ctx context.Context, cfg *config.Config) (*bun.DB, *db.NoteRepository, error) {
	bunDB, err := db.Connect(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	notes := db.NewNoteRepository(bunDB)
	if err := notes.InitSchema(ctx, cfg.Database.SeedSample); err != nil {
		bunDB.Close()
		return nil, nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return bunDB, notes, nil
}

// newVectorStore builds the configured backend. pgvector shares bunDB.
func newVectorStore(cfg *config.Config, bunDB *bun.DB) (vectorstore.Store, error) {
	dim := cfg.EmbedLLM.Dimension
	switch cfg.VectorStore.Backend {
	case vectorstore.BackendPinecone, "":
		return pinecone.New(&cfg.VectorStore.Pinecone, dim)
	case vectorstore.BackendChromem:
		return chromemdb.NewVectorDBManager(&cfg.VectorStore.Chromem, dim)
	case vectorstore.BackendPGVector:
		if bunDB == nil {
			return nil, errors.New("pgvector backend needs a database connection")
		}
		return db.NewPGVectorStore(bunDB, cfg.VectorStore.PGVector.Table, dim), nil
	default:
		return nil, fmt.Errorf("unsupported vector store backend: %s", cfg.VectorStore.Backend)
	}
}

func newEmbeddingService(cfg *config.Config, cache embedding.Cache) (*embedding.Service, error) {
	e, err := embedding.NewEmbedder(&cfg.EmbedLLM, cfg.RAG.EmbedBatchSize)
	if err != nil {
		return nil, err
	}
	return embedding.NewService(e, cfg, cache), nil
}

// newApp wires the full query pipeline. A chat model that cannot be built
// leaves generation on the template path.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	bunDB, notes, err := openNotes(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: bunDB, notes: notes, metrics: metrics.New()}

	a.vectors, err = newVectorStore(cfg, bunDB)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	if err := a.vectors.EnsureIndex(ctx); err != nil {
		log.Warn().Err(err).Str("backend", a.vectors.Name()).Msg("Vector index unavailable, queries will use the fallback")
	}

	a.embedder, err = newEmbeddingService(cfg, nil)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	a.retriever = retriever.New(a.embedder, a.vectors, &cfg.RAG)

	var model llms.Model
	if m, err := llmservice.NewModel(&cfg.InferenceLLM); err != nil {
		log.Warn().Err(err).Msg("Chat model unavailable, notes will use the template")
	} else {
		model = m
	}
	a.llm = llmservice.New(model, cfg)
	a.wiki = wikipedia.New(&cfg.Wikipedia)
	a.rag = rag.NewRAG(a.notes, a.retriever, a.llm, a.wiki, a.metrics, cfg)
	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing database")
		}
	}
}
