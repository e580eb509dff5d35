package chunker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/textsplitter"

	"concept-rag/internal/config"
	"concept-rag/internal/models"
)

const (
	StrategyRecursive = "recursive"
	StrategyMarkdown  = "markdown"
	StrategySection   = "section"
	StrategyHybrid    = "hybrid"
)

var ErrUnknownStrategy = errors.New("unknown chunking strategy")

// recursive separator cascade: paragraph, line, sentence, word, character
var recursiveSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// ChunkSink receives the finalized chunk set of a strategy.
type ChunkSink interface {
	PutChunks(strategy string, chunks []models.Chunk) error
}

type Chunker struct {
	chunkSize    int
	chunkOverlap int
	minChunkSize int
	countTokens  func(string) int
	sink         ChunkSink
}

type Option func(*Chunker)

// WithTokenCounter replaces the tiktoken encoder.
func WithTokenCounter(fn func(string) int) Option {
	return func(c *Chunker) { c.countTokens = fn }
}

// WithSink persists every finalized chunk set.
func WithSink(s ChunkSink) Option {
	return func(c *Chunker) { c.sink = s }
}

func New(cfg *config.RAGConfig, opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
		minChunkSize: cfg.MinChunkSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.countTokens == nil {
		c.countTokens = NewTokenCounter()
	}
	return c
}

// Strategies lists the strategies Chunk accepts.
func Strategies() []string {
	return []string{StrategyRecursive, StrategyMarkdown, StrategySection, StrategyHybrid}
}

// Chunk splits doc with the named strategy, drops degenerate chunks, assigns
// ids and token counts, and hands the result to the sink if one is set.
func (c *Chunker) Chunk(doc *models.ParsedDocument, strategy string) ([]models.Chunk, error) {
	log.Info().Str("strategy", strategy).Int("pages", len(doc.Pages)).Msg("Starting chunking")

	var (
		raw []models.Chunk
		err error
	)
	switch strategy {
	case StrategyRecursive:
		raw, err = c.chunkRecursive(doc)
	case StrategyMarkdown:
		raw, err = c.chunkMarkdown(doc)
	case StrategySection:
		raw, err = c.chunkBySection(doc, StrategySection)
	case StrategyHybrid:
		raw, err = c.chunkBySection(doc, StrategyHybrid)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategy)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to chunk with %s: %w", strategy, err)
	}

	chunks := c.finalize(raw)
	if c.sink != nil {
		if err := c.sink.PutChunks(strategy, chunks); err != nil {
			return nil, fmt.Errorf("failed to save chunks: %w", err)
		}
	}
	log.Info().Str("strategy", strategy).Int("chunks", len(chunks)).Msg("Created chunks")
	return chunks, nil
}

// StrategyStats summarizes one strategy's output.
type StrategyStats struct {
	Strategy  string  `json:"strategy"`
	Chunks    int     `json:"chunks"`
	AvgLength float64 `json:"avg_length"`
	AvgTokens float64 `json:"avg_tokens"`
}

// Compare runs the recursive, markdown and section strategies over doc.
// Nothing is written to the sink.
func (c *Chunker) Compare(doc *models.ParsedDocument) ([]StrategyStats, error) {
	dry := *c
	dry.sink = nil

	var out []StrategyStats
	for _, strategy := range []string{StrategyRecursive, StrategyMarkdown, StrategySection} {
		chunks, err := dry.Chunk(doc, strategy)
		if err != nil {
			return nil, err
		}
		st := StrategyStats{Strategy: strategy, Chunks: len(chunks)}
		if len(chunks) > 0 {
			var chars, tokens int
			for _, ch := range chunks {
				chars += len(ch.Text)
				tokens += ch.TokenCount
			}
			st.AvgLength = float64(chars) / float64(len(chunks))
			st.AvgTokens = float64(tokens) / float64(len(chunks))
		}
		log.Info().Str("strategy", strategy).Int("chunks", st.Chunks).
			Float64("avg_length", st.AvgLength).Float64("avg_tokens", st.AvgTokens).Msg("Strategy stats")
		out = append(out, st)
	}
	return out, nil
}

// finalize numbers chunks by their position before filtering, so ids stay
// stable when a neighbour is dropped.
func (c *Chunker) finalize(raw []models.Chunk) []models.Chunk {
	out := make([]models.Chunk, 0, len(raw))
	for i, ch := range raw {
		if len(strings.TrimSpace(ch.Text)) < c.minChunkSize {
			continue
		}
		ch.Ordinal = i
		ch.ID = fmt.Sprintf("chunk_%05d", i)
		ch.TokenCount = c.countTokens(ch.Text)
		out = append(out, ch)
	}
	return out
}

func (c *Chunker) splitter(separators []string) textsplitter.RecursiveCharacter {
	opts := []textsplitter.Option{
		textsplitter.WithChunkSize(c.chunkSize),
		textsplitter.WithChunkOverlap(c.chunkOverlap),
	}
	if separators != nil {
		opts = append(opts, textsplitter.WithSeparators(separators))
	}
	return textsplitter.NewRecursiveCharacter(opts...)
}

// elementChunks renders tables and figures of a page as atomic chunks.
func elementChunks(page models.Page, strategy string) []models.Chunk {
	var out []models.Chunk
	for _, t := range page.Tables {
		out = append(out, models.Chunk{
			Text:       tableToText(t),
			PageNumber: page.Number,
			Type:       models.ChunkTable,
			Strategy:   strategy,
			ElementID:  t.ID,
		})
	}
	for _, f := range page.Figures {
		caption := f.Caption
		if caption == "" {
			caption = "No caption"
		}
		out = append(out, models.Chunk{
			Text:       fmt.Sprintf("[Figure: %s]", caption),
			PageNumber: page.Number,
			Type:       models.ChunkFigure,
			Strategy:   strategy,
			ElementID:  f.ID,
		})
	}
	return out
}

func tableToText(t models.Table) string {
	id := t.ID
	if id == "" {
		id = "unknown"
	}
	if len(t.Rows) == 0 {
		return fmt.Sprintf("[Table %s: No data]", id)
	}
	lines := []string{"Table: " + id, strings.Join(t.Rows[0], " | "), strings.Repeat("-", 50)}
	for _, row := range t.Rows[1:] {
		lines = append(lines, strings.Join(row, " | "))
	}
	return strings.Join(lines, "\n")
}

// NewTokenCounter returns a cl100k counter, or a whitespace word count when
// the encoding cannot be loaded.
func NewTokenCounter() func(string) int {
	enc, err := tiktoken.EncodingForModel("gpt-4")
	if err != nil {
		log.Warn().Err(err).Msg("tiktoken unavailable, counting words instead")
		return WordCount
	}
	return func(s string) int {
		return len(enc.Encode(s, nil, nil))
	}
}

func WordCount(s string) int {
	return len(strings.Fields(s))
}
