package models

// ChunkType tags what a chunk was cut from
type ChunkType string

const (
	ChunkText    ChunkType = "text"
	ChunkTable   ChunkType = "table"
	ChunkFigure  ChunkType = "figure"
	ChunkSection ChunkType = "section"
)

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	ID         string    `json:"chunk_id"`
	Ordinal    int       `json:"chunk_index"`
	Text       string    `json:"text"`
	PageNumber int       `json:"page"`
	Type       ChunkType `json:"chunk_type"`
	Strategy   string    `json:"strategy"`
	Section    string    `json:"section,omitempty"`
	ElementID  string    `json:"element_id,omitempty"`
	TokenCount int       `json:"token_count"`
}

// ParsedDocument is the output of ingestion: one entry per source page.
type ParsedDocument struct {
	Source    string `json:"source"`
	Title     string `json:"title"`
	PageCount int    `json:"page_count"`
	Pages     []Page `json:"pages"`
}

type Page struct {
	Number  int      `json:"page_num"`
	Text    string   `json:"text"`
	Tables  []Table  `json:"tables,omitempty"`
	Figures []Figure `json:"figures,omitempty"`
}

type Table struct {
	ID   string     `json:"table_id"`
	Rows [][]string `json:"data"`
}

type Figure struct {
	ID      string `json:"figure_id"`
	Caption string `json:"caption"`
	Path    string `json:"path,omitempty"`
}

// RetrievedChunk is the canonical shape of a vector-store match, whatever the
// backend or the metadata field names it was stored under.
type RetrievedChunk struct {
	ID         string         `json:"chunk_id"`
	Text       string         `json:"text"`
	Score      float64        `json:"score"`
	Page       int            `json:"page"`
	Type       ChunkType      `json:"chunk_type"`
	Strategy   string         `json:"strategy,omitempty"`
	Section    string         `json:"section,omitempty"`
	TokenCount int            `json:"token_count,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
