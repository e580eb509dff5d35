package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"concept-rag/internal/models"
	"concept-rag/internal/rag"
)

var (
	cardStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle    = lipgloss.NewStyle().Bold(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	formulaStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	corpusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	fallbackStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// RenderNote draws a note as a card. width <= 0 leaves lines unwrapped.
func RenderNote(n *models.ConceptNote, width int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(n.ConceptName))
	b.WriteString("\n" + sourceBadge(n) + "\n\n")

	b.WriteString(labelStyle.Render("Definition") + "\n" + n.Definition + "\n")
	if n.Formula != nil && *n.Formula != "" {
		b.WriteString("\n" + labelStyle.Render("Formula") + "\n" + formulaStyle.Render(*n.Formula) + "\n")
	}
	if n.Example != "" {
		b.WriteString("\n" + labelStyle.Render("Example") + "\n" + n.Example + "\n")
	}
	if len(n.Applications) > 0 {
		b.WriteString("\n" + labelStyle.Render("Applications") + "\n")
		for _, a := range n.Applications {
			b.WriteString("  • " + a + "\n")
		}
	}

	style := cardStyle
	if width > 0 {
		style = style.Width(width)
	}
	return style.Render(strings.TrimRight(b.String(), "\n"))
}

// RenderResponse is RenderNote plus the routing details of a query.
func RenderResponse(resp *rag.Response, width int) string {
	meta := []string{fmt.Sprintf("%.0f ms", resp.ProcessingTimeMs)}
	if resp.Cached {
		meta = append(meta, "cached")
	} else {
		meta = append(meta, "path "+resp.GenerationPath)
		if resp.AIModel != "" {
			meta = append(meta, "model "+resp.AIModel)
		}
		meta = append(meta, fmt.Sprintf("%d chunks, max score %.3f", resp.ChunksRetrieved, resp.MaxScore))
	}
	return RenderNote(resp.Note, width) + "\n" + mutedStyle.Render(strings.Join(meta, " · "))
}

func sourceBadge(n *models.ConceptNote) string {
	if models.IsCorpusSource(n.Source) {
		label := "Source: " + n.Source
		if len(n.PDFReferences) > 0 {
			label += " (pages " + joinPages(n.PDFReferences) + ")"
		}
		return corpusStyle.Render(label)
	}
	return fallbackStyle.Render("Source: " + n.Source)
}

func joinPages(pages []int) string {
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = strconv.Itoa(p)
	}
	return strings.Join(out, ", ")
}
