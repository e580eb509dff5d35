package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"concept-rag/internal/config"
	"concept-rag/internal/helper"
	"concept-rag/internal/models"
	"concept-rag/internal/vectorstore"
)

// VectorDBManager is the embedded chromem-go backend of vectorstore.Store.
type VectorDBManager struct {
	db             *chromem.DB
	collection     *chromem.Collection
	collectionName string
	dimension      int
	inMemory       bool
	compress       bool
	encryptionKey  string
	filePath       string
}

var _ vectorstore.Store = (*VectorDBManager)(nil)

// NewVectorDBManager opens a persistent database under cfg.Path, or an
// in-memory one that is imported from and exported to an encrypted file.
func NewVectorDBManager(cfg *config.ChromemConfig, dimension int) (*VectorDBManager, error) {
	m := &VectorDBManager{
		collectionName: cfg.Collection,
		dimension:      dimension,
		inMemory:       cfg.InMemory,
		compress:       cfg.Compress,
		encryptionKey:  cfg.EncryptionKey,
		filePath:       filepath.Join(cfg.Path, cfg.Collection+".chromem"),
	}
	if err := helper.CreateFolder(cfg.Path); err != nil {
		return nil, err
	}
	if cfg.InMemory {
		m.db = chromem.NewDB()
		if _, err := os.Stat(m.filePath); err == nil {
			if err := m.db.ImportFromFile(m.filePath, m.encryptionKey); err != nil {
				return nil, fmt.Errorf("failed to import database: %w", err)
			}
			log.Info().Str("file", m.filePath).Msg("Imported vector collection")
		}
	} else {
		db, err := chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		m.db = db
	}
	return m, nil
}

func (m *VectorDBManager) Name() string {
	return vectorstore.BackendChromem
}

// EnsureIndex opens the collection, creating it if needed.
func (m *VectorDBManager) EnsureIndex(ctx context.Context) error {
	if m.collection != nil {
		return nil
	}
	// vectors always arrive precomputed, so no embedding func is needed
	c, err := m.db.GetOrCreateCollection(m.collectionName, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	log.Debug().Str("collection", m.collectionName).Int("count", c.Count()).Msg("Opened collection")
	return nil
}

// Upsert adds documents, replacing any with the same id.
func (m *VectorDBManager) Upsert(ctx context.Context, records []vectorstore.Record) (int, error) {
	if err := m.EnsureIndex(ctx); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	docs := make([]chromem.Document, 0, len(records))
	for _, r := range records {
		docs = append(docs, chromem.Document{
			ID:        r.ID,
			Content:   fmt.Sprint(r.Metadata["text"]),
			Metadata:  stringMetadata(r.Metadata),
			Embedding: r.Vector,
		})
	}
	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return 0, fmt.Errorf("failed to add documents: %w", err)
	}
	if m.inMemory && m.encryptionKey != "" {
		if err := m.Export(ctx); err != nil {
			return len(docs), err
		}
	}
	return len(docs), nil
}

// Query runs a similarity search. nResults is clamped to the collection size
// because chromem rejects larger values.
func (m *VectorDBManager) Query(ctx context.Context, vector []float32, topK int, filter vectorstore.Filter) ([]models.RetrievedChunk, error) {
	if len(vector) == 0 {
		return nil, errors.New("query embedding must be provided")
	}
	if err := m.EnsureIndex(ctx); err != nil {
		return nil, err
	}
	n := min(topK, m.collection.Count())
	if n <= 0 {
		return nil, nil
	}
	opts := chromem.QueryOptions{
		QueryEmbedding: vector,
		NResults:       n,
	}
	if len(filter) > 0 {
		opts.Where = stringMetadata(filter)
	}
	results, err := m.collection.QueryWithOptions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	out := make([]models.RetrievedChunk, 0, len(results))
	for _, r := range results {
		out = append(out, vectorstore.Normalize(r.ID, float64(r.Similarity), anyMetadata(r.Metadata, r.Content)))
	}
	return out, nil
}

func (m *VectorDBManager) Fetch(ctx context.Context, id string) (*models.RetrievedChunk, error) {
	if err := m.EnsureIndex(ctx); err != nil {
		return nil, err
	}
	doc, err := m.collection.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrNotFound, id)
	}
	rc := vectorstore.Normalize(doc.ID, 1, anyMetadata(doc.Metadata, doc.Content))
	return &rc, nil
}

func (m *VectorDBManager) Stats(ctx context.Context) (vectorstore.IndexStats, error) {
	if err := m.EnsureIndex(ctx); err != nil {
		return vectorstore.IndexStats{}, err
	}
	return vectorstore.IndexStats{
		Backend:   m.Name(),
		Count:     m.collection.Count(),
		Dimension: m.dimension,
	}, nil
}

// DeleteAll drops the collection and recreates it empty.
func (m *VectorDBManager) DeleteAll(ctx context.Context) error {
	log.Warn().Str("collection", m.collectionName).Msg("Deleting all vectors")
	if err := m.db.DeleteCollection(m.collectionName); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	m.collection = nil
	return m.EnsureIndex(ctx)
}

func (m *VectorDBManager) Ping(ctx context.Context) error {
	return m.EnsureIndex(ctx)
}

// Export writes the collection to an encrypted file.
func (m *VectorDBManager) Export(ctx context.Context) error {
	if m.encryptionKey == "" {
		return errors.New("encryption key is required")
	}
	if m.collection == nil {
		return errors.New("collection is required")
	}
	log.Debug().Str("file", m.filePath).Bool("compress", m.compress).Msg("Exporting collection")
	if err := m.db.ExportToFile(m.filePath, m.compress, m.encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

func stringMetadata[V any](in map[string]V) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func anyMetadata(in map[string]string, content string) map[string]any {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	if _, ok := out["text"]; !ok && content != "" {
		out["text"] = content
	}
	return out
}
