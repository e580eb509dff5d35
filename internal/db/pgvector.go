package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"concept-rag/internal/models"
	"concept-rag/internal/vectorstore"
)

type chunkRow struct {
	bun.BaseModel `bun:"alias:c"`

	ID        string           `bun:"id,pk"`
	Embedding *pgvector.Vector `bun:"embedding"`
	Metadata  map[string]any   `bun:"metadata,type:jsonb"`
	Score     float64          `bun:"score,scanonly"`
}

// PGVectorStore keeps corpus vectors in Postgres next to the note cache.
type PGVectorStore struct {
	db        *bun.DB
	table     string
	dimension int
}

var _ vectorstore.Store = (*PGVectorStore)(nil)

func NewPGVectorStore(db *bun.DB, table string, dimension int) *PGVectorStore {
	if table == "" {
		table = "corpus_chunks"
	}
	return &PGVectorStore{db: db, table: table, dimension: dimension}
}

func (s *PGVectorStore) Name() string {
	return vectorstore.BackendPGVector
}

func (s *PGVectorStore) EnsureIndex(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS ? (id text PRIMARY KEY, embedding vector(?) NOT NULL, metadata jsonb NOT NULL DEFAULT '{}'::jsonb)",
		bun.Ident(s.table), s.dimension)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", s.table, err)
	}
	log.Debug().Str("table", s.table).Int("dimension", s.dimension).Msg("pgvector table ready")
	return nil
}

func (s *PGVectorStore) Upsert(ctx context.Context, records []vectorstore.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	rows := make([]chunkRow, 0, len(records))
	for _, r := range records {
		v := pgvector.NewVector(r.Vector)
		rows = append(rows, chunkRow{ID: r.ID, Embedding: &v, Metadata: r.Metadata})
	}
	_, err := s.db.NewInsert().
		Model(&rows).
		ModelTableExpr("?", bun.Ident(s.table)).
		Column("id", "embedding", "metadata").
		On("CONFLICT (id) DO UPDATE").
		Set("embedding = EXCLUDED.embedding").
		Set("metadata = EXCLUDED.metadata").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("pgvector upsert: %w", err)
	}
	log.Info().Int("upserted", len(rows)).Str("table", s.table).Msg("Upserted vectors to pgvector")
	return len(rows), nil
}

func (s *PGVectorStore) Query(ctx context.Context, vec []float32, topK int, filter vectorstore.Filter) ([]models.RetrievedChunk, error) {
	if len(vec) == 0 {
		return nil, errors.New("query vector required")
	}
	if topK <= 0 {
		topK = 10
	}
	qv := pgvector.NewVector(vec)
	var rows []chunkRow
	q := s.db.NewSelect().
		Model(&rows).
		ModelTableExpr("? AS c", bun.Ident(s.table)).
		Column("id", "metadata").
		ColumnExpr("1 - (embedding <=> ?) AS score", qv).
		OrderExpr("embedding <=> ?", qv).
		Limit(topK)
	for k, v := range filter {
		q = q.Where("metadata->>? = ?", k, fmt.Sprint(v))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("pgvector query: %w", err)
	}
	matches := make([]models.RetrievedChunk, 0, len(rows))
	for _, r := range rows {
		matches = append(matches, vectorstore.Normalize(r.ID, r.Score, r.Metadata))
	}
	return matches, nil
}

func (s *PGVectorStore) Fetch(ctx context.Context, id string) (*models.RetrievedChunk, error) {
	row := new(chunkRow)
	err := s.db.NewSelect().
		Model(row).
		ModelTableExpr("? AS c", bun.Ident(s.table)).
		Column("id", "metadata").
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	rc := vectorstore.Normalize(row.ID, 1, row.Metadata)
	return &rc, nil
}

func (s *PGVectorStore) Stats(ctx context.Context) (vectorstore.IndexStats, error) {
	count, err := s.db.NewSelect().TableExpr("?", bun.Ident(s.table)).Count(ctx)
	if err != nil {
		return vectorstore.IndexStats{}, err
	}
	return vectorstore.IndexStats{Backend: s.Name(), Count: count, Dimension: s.dimension}, nil
}

func (s *PGVectorStore) DeleteAll(ctx context.Context) error {
	log.Warn().Str("table", s.table).Msg("Deleting all vectors from table")
	_, err := s.db.ExecContext(ctx, "TRUNCATE TABLE ?", bun.Ident(s.table))
	return err
}

func (s *PGVectorStore) Ping(ctx context.Context) error {
	return Ping(ctx, s.db)
}
