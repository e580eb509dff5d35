package chunker

import (
	"concept-rag/internal/models"
)

func (c *Chunker) chunkRecursive(doc *models.ParsedDocument) ([]models.Chunk, error) {
	sp := c.splitter(recursiveSeparators)

	var chunks []models.Chunk
	for _, page := range doc.Pages {
		if page.Text != "" {
			parts, err := sp.SplitText(page.Text)
			if err != nil {
				return nil, err
			}
			for _, text := range parts {
				chunks = append(chunks, models.Chunk{
					Text:       text,
					PageNumber: page.Number,
					Type:       models.ChunkText,
					Strategy:   StrategyRecursive,
				})
			}
		}
		// tables and figures are kept whole
		chunks = append(chunks, elementChunks(page, StrategyRecursive)...)
	}
	return chunks, nil
}
