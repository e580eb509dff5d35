package chunker

import (
	"regexp"
	"strings"
	"unicode"

	"concept-rag/internal/models"
)

var sectionPrefixRe = regexp.MustCompile(models.SectionPrefixRegex)

type sectionState struct {
	section   string
	startPage int
	lines     []string
	result    []models.Chunk
}

// chunkBySection accumulates lines until the next heading-like line and
// re-splits sections that exceed the chunk size. Tables and figures are
// emitted as their own chunks.
func (c *Chunker) chunkBySection(doc *models.ParsedDocument, strategy string) ([]models.Chunk, error) {
	var state sectionState
	var elements []models.Chunk
	for _, page := range doc.Pages {
		for _, line := range strings.Split(page.Text, "\n") {
			if err := c.processSectionLine(line, page.Number, strategy, &state); err != nil {
				return nil, err
			}
		}
		elements = append(elements, elementChunks(page, strategy)...)
	}
	if err := c.flushSection(&state, strategy); err != nil { // last section
		return nil, err
	}
	return append(state.result, elements...), nil
}

func (c *Chunker) processSectionLine(line string, page int, strategy string, state *sectionState) error {
	if isSectionHeading(line) {
		if err := c.flushSection(state, strategy); err != nil {
			return err
		}
		state.section = strings.TrimSpace(line)
		state.startPage = page
		state.lines = []string{line}
		return nil
	}
	if len(state.lines) == 0 {
		state.startPage = page
	}
	state.lines = append(state.lines, line)
	return nil
}

// flushSection saves the accumulated section and resets the buffer
func (c *Chunker) flushSection(state *sectionState, strategy string) error {
	if len(state.lines) == 0 {
		return nil
	}
	text := strings.Join(state.lines, "\n")
	state.lines = nil

	parts := []string{text}
	if len(text) > c.chunkSize {
		var err error
		if parts, err = c.splitter(nil).SplitText(text); err != nil {
			return err
		}
	}
	for _, p := range parts {
		state.result = append(state.result, models.Chunk{
			Text:       p,
			PageNumber: state.startPage,
			Type:       models.ChunkSection,
			Strategy:   strategy,
			Section:    state.section,
		})
	}
	return nil
}

// isSectionHeading matches ALL-CAPS lines longer than five characters and
// lines opening with Chapter or Section.
func isSectionHeading(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if sectionPrefixRe.MatchString(line) {
		return true
	}
	return len(line) > 5 && isUpper(line)
}

// isUpper reports whether s has at least one cased letter and no lower-case
// ones.
func isUpper(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) || unicode.IsTitle(r) {
			cased = true
		}
	}
	return cased
}
