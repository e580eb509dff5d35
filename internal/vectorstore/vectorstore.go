package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"concept-rag/internal/embedding"
	"concept-rag/internal/helper"
	"concept-rag/internal/models"
)

const (
	MaxSectionChars = 500

	BackendPinecone = "pinecone"
	BackendChromem  = "chromem"
	BackendPGVector = "pgvector"
)

var ErrNotFound = errors.New("vector not found")

// Record is one vector ready to be written to an index.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// Filter restricts a query to records whose metadata equals every entry.
type Filter map[string]any

type IndexStats struct {
	Backend   string  `json:"backend"`
	Count     int     `json:"total_vector_count"`
	Dimension int     `json:"dimension"`
	Fullness  float64 `json:"index_fullness"`
}

// Store is a cosine-similarity vector index. Scores returned by Query are
// similarities: higher is closer.
type Store interface {
	Name() string
	EnsureIndex(ctx context.Context) error
	Upsert(ctx context.Context, records []Record) (int, error)
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]models.RetrievedChunk, error)
	Fetch(ctx context.Context, id string) (*models.RetrievedChunk, error)
	Stats(ctx context.Context) (IndexStats, error)
	DeleteAll(ctx context.Context) error
	Ping(ctx context.Context) error
}

// BuildRecords turns embedding results into index records. Failed results
// are skipped, text is cut to textLimit runes and section to 500.
func BuildRecords(results []embedding.Result, textLimit int) []Record {
	records := make([]Record, 0, len(results))
	for _, r := range results {
		if r.Status != embedding.Embedded {
			continue
		}
		ch := r.Chunk
		chunkType := ch.Type
		if chunkType == "" {
			chunkType = models.ChunkText
		}
		records = append(records, Record{
			ID:     ch.ID,
			Vector: r.Vector,
			Metadata: map[string]any{
				"text":        helper.Truncate(ch.Text, textLimit),
				"page":        ch.PageNumber,
				"chunk_type":  string(chunkType),
				"strategy":    ch.Strategy,
				"token_count": ch.TokenCount,
				"chunk_index": ch.Ordinal,
				"section":     helper.Truncate(ch.Section, MaxSectionChars),
			},
		})
	}
	return records
}

// Normalize maps a raw match into the canonical record. Older indexes store
// page_num and content instead of page and text.
func Normalize(id string, score float64, meta map[string]any) models.RetrievedChunk {
	rc := models.RetrievedChunk{ID: id, Score: score, Metadata: meta}
	if meta == nil {
		rc.Type = models.ChunkText
		return rc
	}
	rc.Text = firstString(meta, "text", "content")
	for _, key := range []string{"page", "page_num"} {
		if p, ok := helper.ParsePage(meta[key]); ok {
			rc.Page = p
			break
		}
	}
	rc.Type = models.ChunkType(firstString(meta, "chunk_type"))
	if rc.Type == "" {
		rc.Type = models.ChunkText
	}
	rc.Strategy = firstString(meta, "strategy")
	rc.Section = firstString(meta, "section")
	if n, ok := helper.ParsePage(meta["token_count"]); ok {
		rc.TokenCount = n
	}
	return rc
}

// Matches reports whether meta satisfies every filter entry. Numbers are
// compared after page-style coercion so 5, 5.0 and "5" agree.
func (f Filter) Matches(meta map[string]any) bool {
	for k, want := range f {
		got, ok := meta[k]
		if !ok {
			return false
		}
		wn, wok := helper.ParsePage(want)
		gn, gok := helper.ParsePage(got)
		if wok && gok {
			if wn != gn {
				return false
			}
			continue
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func firstString(meta map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := meta[k]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s != "" {
			return s
		}
	}
	return ""
}
