package vectorstore

import (
	"strings"
	"testing"

	"concept-rag/internal/embedding"
	"concept-rag/internal/models"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		meta     map[string]any
		wantText string
		wantPage int
		wantType models.ChunkType
	}{
		{"current fields", map[string]any{"text": "Duration", "page": 25.0, "chunk_type": "table"}, "Duration", 25, models.ChunkTable},
		{"legacy fields", map[string]any{"content": "Convexity", "page_num": "1851.0"}, "Convexity", 1851, models.ChunkText},
		{"unparsable page", map[string]any{"text": "Beta", "page": "N/A"}, "Beta", 0, models.ChunkText},
		{"unparsable page falls back", map[string]any{"page": "N/A", "page_num": 12}, "", 12, models.ChunkText},
		{"nil metadata", nil, "", 0, models.ChunkText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := Normalize("chunk_00001", 0.5, tt.meta)
			if rc.Text != tt.wantText || rc.Page != tt.wantPage || rc.Type != tt.wantType {
				t.Errorf("got text=%q page=%d type=%s", rc.Text, rc.Page, rc.Type)
			}
			if rc.ID != "chunk_00001" || rc.Score != 0.5 {
				t.Errorf("id/score not carried: %+v", rc)
			}
		})
	}
}

func TestBuildRecordsSkipsFailed(t *testing.T) {
	long := strings.Repeat("x", 1500)
	results := []embedding.Result{
		{Chunk: models.Chunk{ID: "chunk_00000", Text: long, PageNumber: 3, Section: strings.Repeat("s", 700)}, Vector: []float32{1}, Status: embedding.Embedded},
		{Chunk: models.Chunk{ID: "chunk_00001", Text: "lost"}, Status: embedding.Failed},
	}
	records := BuildRecords(results, 1000)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	meta := records[0].Metadata
	if len(meta["text"].(string)) != 1000 {
		t.Errorf("expected text truncated to 1000, got %d", len(meta["text"].(string)))
	}
	if len(meta["section"].(string)) != MaxSectionChars {
		t.Errorf("expected section truncated to %d", MaxSectionChars)
	}
	if meta["page"] != 3 || meta["chunk_type"] != "text" {
		t.Errorf("unexpected metadata %v", meta)
	}
}

func TestFilterMatches(t *testing.T) {
	meta := map[string]any{"page": 5.0, "chunk_type": "table"}
	tests := []struct {
		f    Filter
		want bool
	}{
		{Filter{"page": 5}, true},
		{Filter{"page": "5"}, true},
		{Filter{"page": 6}, false},
		{Filter{"chunk_type": "table", "page": 5}, true},
		{Filter{"chunk_type": "text"}, false},
		{Filter{"section": "Bonds"}, false},
		{nil, true},
	}
	for i, tt := range tests {
		if got := tt.f.Matches(meta); got != tt.want {
			t.Errorf("case %d: expected %v, got %v", i, tt.want, got)
		}
	}
}
