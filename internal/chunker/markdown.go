package chunker

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"concept-rag/internal/models"
)

const maxSplitHeading = 3

var pageHeadingRe = regexp.MustCompile(models.PageHeadingRegex)

type mdSection struct {
	headers [maxSplitHeading]string
	page    int
	text    string
}

// name is the deepest heading the section sits under.
func (s mdSection) name() string {
	for i := len(s.headers) - 1; i >= 0; i-- {
		if s.headers[i] != "" {
			return s.headers[i]
		}
	}
	return ""
}

func (c *Chunker) chunkMarkdown(doc *models.ParsedDocument) ([]models.Chunk, error) {
	sp := c.splitter(nil)

	var chunks []models.Chunk
	for _, sec := range splitOnHeadings([]byte(renderMarkdown(doc))) {
		body := strings.TrimSpace(sec.text)
		if body == "" {
			continue
		}
		parts := []string{body}
		if len(body) > c.chunkSize {
			var err error
			if parts, err = sp.SplitText(body); err != nil {
				return nil, err
			}
		}
		for _, p := range parts {
			chunks = append(chunks, models.Chunk{
				Text:       p,
				PageNumber: sec.page,
				Type:       models.ChunkText,
				Strategy:   StrategyMarkdown,
				Section:    sec.name(),
			})
		}
	}
	for _, page := range doc.Pages {
		chunks = append(chunks, elementChunks(page, StrategyMarkdown)...)
	}
	return chunks, nil
}

func renderMarkdown(doc *models.ParsedDocument) string {
	title := doc.Title
	if title == "" {
		title = "Financial Document"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	for _, p := range doc.Pages {
		fmt.Fprintf(&b, "## Page %d\n%s\n\n", p.Number, p.Text)
	}
	return b.String()
}

// splitOnHeadings cuts src at ATX headings of level 1 to 3. Heading lines
// are not part of any section body.
func splitOnHeadings(src []byte) []mdSection {
	root := goldmark.DefaultParser().Parse(text.NewReader(src))

	type mark struct {
		level      int
		title      string
		start, end int
	}
	var marks []mark
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level > maxSplitHeading || h.Lines().Len() == 0 {
			continue
		}
		seg := h.Lines().At(0)
		start := lineStart(src, seg.Start)
		// setext headings would turn table rules into boundaries
		if !bytes.HasPrefix(bytes.TrimLeft(src[start:seg.Start], " "), []byte("#")) {
			continue
		}
		marks = append(marks, mark{
			level: h.Level,
			title: strings.TrimSpace(string(seg.Value(src))),
			start: start,
			end:   lineEnd(src, seg.Stop),
		})
	}

	var (
		out []mdSection
		cur mdSection
	)
	bodyStart := 0
	for _, m := range marks {
		cur.text = string(src[bodyStart:m.start])
		out = append(out, cur)

		cur.headers[m.level-1] = m.title
		for i := m.level; i < maxSplitHeading; i++ {
			cur.headers[i] = ""
		}
		if pm := pageHeadingRe.FindStringSubmatch(m.title); pm != nil {
			cur.page, _ = strconv.Atoi(pm[1])
		}
		bodyStart = m.end
	}
	cur.text = string(src[bodyStart:])
	return append(out, cur)
}

func lineStart(src []byte, pos int) int {
	return bytes.LastIndexByte(src[:pos], '\n') + 1
}

func lineEnd(src []byte, pos int) int {
	if i := bytes.IndexByte(src[pos:], '\n'); i >= 0 {
		return pos + i + 1
	}
	return len(src)
}
