package export

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"concept-rag/internal/models"
)

const (
	NotesSheet   = "Concepts"
	SummarySheet = "Summary"
)

var noteHeader = []any{"ID", "Concept", "Definition", "Formula", "Example", "Applications", "Source", "PDF Pages", "Updated"}

// Workbook lays cached notes out as one row each, plus a per-source summary
// sheet.
func Workbook(notes []*models.ConceptNote) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", NotesSheet); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeNotes(f, notes); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write notes sheet: %w", err)
	}
	if err := writeSummary(f, notes); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write summary sheet: %w", err)
	}
	return f, nil
}

// WriteFile saves the workbook for notes at path.
func WriteFile(notes []*models.ConceptNote, path string) error {
	f, err := Workbook(notes)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", path, err)
	}
	log.Info().Str("path", path).Int("notes", len(notes)).Msg("Exported concept notes")
	return nil
}

// Write streams the workbook for notes to w.
func Write(notes []*models.ConceptNote, w io.Writer) error {
	f, err := Workbook(notes)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

func writeNotes(f *excelize.File, notes []*models.ConceptNote) error {
	if err := f.SetSheetRow(NotesSheet, "A1", &noteHeader); err != nil {
		return err
	}
	for i, n := range notes {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			n.ID,
			n.ConceptName,
			n.Definition,
			formula(n.Formula),
			n.Example,
			strings.Join(n.Applications, "; "),
			n.Source,
			pages(n.PDFReferences),
			n.UpdatedAt.Format(time.RFC3339),
		}
		if err := f.SetSheetRow(NotesSheet, cell, &row); err != nil {
			return err
		}
	}

	if err := boldHeader(f, NotesSheet, len(noteHeader)); err != nil {
		return err
	}
	if err := f.SetColWidth(NotesSheet, "B", "B", 28); err != nil {
		return err
	}
	if err := f.SetColWidth(NotesSheet, "C", "F", 60); err != nil {
		return err
	}
	return f.SetPanes(NotesSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func writeSummary(f *excelize.File, notes []*models.ConceptNote) error {
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return err
	}
	counts := map[string]int{}
	for _, n := range notes {
		counts[n.Source]++
	}
	sources := make([]string, 0, len(counts))
	for s := range counts {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	header := []any{"Source", "Notes"}
	if err := f.SetSheetRow(SummarySheet, "A1", &header); err != nil {
		return err
	}
	row := 2
	for _, s := range sources {
		values := []any{s, counts[s]}
		if err := f.SetSheetRow(SummarySheet, "A"+strconv.Itoa(row), &values); err != nil {
			return err
		}
		row++
	}
	total := []any{"Total", len(notes)}
	if err := f.SetSheetRow(SummarySheet, "A"+strconv.Itoa(row), &total); err != nil {
		return err
	}
	return boldHeader(f, SummarySheet, len(header))
}

func boldHeader(f *excelize.File, sheet string, cols int) error {
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DCE6F1"}},
	})
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(cols, 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", last, style)
}

func formula(f *string) string {
	if f == nil {
		return ""
	}
	return *f
}

func pages(p []int) string {
	out := make([]string, len(p))
	for i, n := range p {
		out[i] = strconv.Itoa(n)
	}
	return strings.Join(out, ", ")
}
