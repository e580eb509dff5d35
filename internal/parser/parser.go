package parser

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"concept-rag/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
)

const defaultPageNumber = 1

var (
	xmlTagRe     = regexp.MustCompile(`<[^>]+>`)
	docxTableRe  = regexp.MustCompile(`(?s)<w:tbl>.*?</w:tbl>`)
	docxRowRe    = regexp.MustCompile(`(?s)<w:tr[ >].*?</w:tr>`)
	docxCellRe   = regexp.MustCompile(`(?s)<w:tc[ >].*?</w:tc>`)
	docxBreakRe  = regexp.MustCompile(`<w:br w:type="page"/>`)
	slideNumRe   = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
	multiSpaceRe = regexp.MustCompile(`[ \t]+`)
)

// ParseDocument dispatches on file extension and returns per-page text,
// tables and figures.
func ParseDocument(filePath string) (*models.ParsedDocument, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	var (
		doc *models.ParsedDocument
		err error
	)
	switch ext {
	case ".pdf":
		doc, err = parsePDF(filePath)
	case ".docx":
		doc, err = parseDOCX(filePath)
	case ".pptx":
		doc, err = parsePPTX(filePath)
	case ".xlsx":
		doc, err = parseXLSX(filePath)
	case ".txt", ".md":
		doc, err = parseText(filePath)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
	if err != nil {
		return nil, err
	}
	doc.Source = filepath.Base(filePath)
	if doc.Title == "" {
		doc.Title = strings.TrimSuffix(doc.Source, filepath.Ext(doc.Source))
	}
	doc.PageCount = len(doc.Pages)
	log.Info().Str("file", filePath).Int("pages", doc.PageCount).Msg("Parsed document")
	return doc, nil
}

// SaveJSON writes the parse result to path for inspection.
func SaveJSON(doc *models.ParsedDocument, path string) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func parsePDF(filePath string) (*models.ParsedDocument, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Get file size for reader initialization
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	doc := &models.ParsedDocument{Title: pdfTitle(reader)}
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			// one unreadable page should not sink the whole document
			log.Warn().Err(err).Int("page", i).Msg("Error extracting page text")
			pageText = ""
		}
		doc.Pages = append(doc.Pages, models.Page{
			Number: i,
			Text:   cleanText(pageText),
		})
	}
	return doc, nil
}

func pdfTitle(r *pdf.Reader) string {
	defer func() {
		// malformed trailers panic inside the pdf package
		_ = recover()
	}()
	return strings.TrimSpace(r.Trailer().Key("Info").Key("Title").Text())
}

func parseDOCX(filePath string) (*models.ParsedDocument, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content := r.Editable().GetContent()
	doc := &models.ParsedDocument{}
	for i, part := range docxBreakRe.Split(content, -1) {
		page := models.Page{Number: i + 1}
		for j, tbl := range docxTableRe.FindAllString(part, -1) {
			page.Tables = append(page.Tables, models.Table{
				ID:   fmt.Sprintf("page_%d_table_%d", page.Number, j),
				Rows: docxTableRows(tbl),
			})
		}
		part = docxTableRe.ReplaceAllString(part, "")
		var paragraphs []string
		for _, p := range strings.Split(part, "</w:p>") {
			text := strings.TrimSpace(xmlTagRe.ReplaceAllString(p, ""))
			if text != "" {
				paragraphs = append(paragraphs, text)
			}
		}
		page.Text = strings.Join(paragraphs, "\n\n")
		if page.Text != "" || len(page.Tables) > 0 {
			doc.Pages = append(doc.Pages, page)
		}
	}
	return doc, nil
}

func docxTableRows(tbl string) [][]string {
	var rows [][]string
	for _, tr := range docxRowRe.FindAllString(tbl, -1) {
		var cells []string
		for _, tc := range docxCellRe.FindAllString(tr, -1) {
			cells = append(cells, strings.TrimSpace(xmlTagRe.ReplaceAllString(tc, "")))
		}
		rows = append(rows, cells)
	}
	return rows
}

func parsePPTX(filePath string) (*models.ParsedDocument, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc := &models.ParsedDocument{}
	for _, file := range f.File {
		m := slideNumRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		var num int
		fmt.Sscanf(m[1], "%d", &num)
		text := strings.TrimSpace(extractTextFromXML(string(data)))
		if text == "" {
			continue
		}
		doc.Pages = append(doc.Pages, models.Page{Number: num, Text: text})
	}
	// zip entries are not ordered by slide number
	sort.Slice(doc.Pages, func(i, j int) bool { return doc.Pages[i].Number < doc.Pages[j].Number })
	return doc, nil
}

func parseXLSX(filePath string) (*models.ParsedDocument, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	doc := &models.ParsedDocument{}
	for sheetNum, sheet := range f.Sheets {
		table := models.Table{ID: fmt.Sprintf("sheet_%s", sheet.Name)}
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			var cells []string
			empty := true
			for _, cell := range row.Cells {
				v := strings.TrimSpace(cell.String())
				if v != "" {
					empty = false
				}
				cells = append(cells, v)
			}
			if !empty {
				table.Rows = append(table.Rows, cells)
			}
		}
		if len(table.Rows) == 0 {
			continue
		}
		doc.Pages = append(doc.Pages, models.Page{
			Number: sheetNum + 1, // 1-based indexing
			Text:   "Sheet: " + sheet.Name,
			Tables: []models.Table{table},
		})
	}
	return doc, nil
}

func parseText(filePath string) (*models.ParsedDocument, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return &models.ParsedDocument{}, nil
	}
	var pages []models.Page
	// form feeds mark page breaks in plain-text exports
	for i, part := range strings.Split(text, "\f") {
		pages = append(pages, models.Page{Number: defaultPageNumber + i, Text: strings.TrimSpace(part)})
	}
	return &models.ParsedDocument{Pages: pages}, nil
}

func extractTextFromXML(xmlContent string) string {
	var text strings.Builder
	parts := strings.Split(xmlContent, "<a:t>")
	for i, part := range parts {
		if i == 0 {
			continue
		}
		endIdx := strings.Index(part, "</a:t>")
		if endIdx >= 0 {
			text.WriteString(part[:endIdx] + " ")
		}
	}
	return text.String()
}

// cleanText collapses runs of blanks on each line and drops trailing space.
func cleanText(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(multiSpaceRe.ReplaceAllString(l, " "), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
