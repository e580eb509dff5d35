package parser

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseText_FormFeedPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	content := "CHAPTER 1\nDuration basics\f  Page two text  \f"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := ParseDocument(path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Source != "notes.txt" || doc.Title != "notes" {
		t.Errorf("unexpected source/title %q %q", doc.Source, doc.Title)
	}
	if doc.PageCount != 2 {
		t.Fatalf("expected 2 pages, got %d", doc.PageCount)
	}
	if doc.Pages[1].Number != 2 || doc.Pages[1].Text != "Page two text" {
		t.Errorf("unexpected second page %+v", doc.Pages[1])
	}
}

func TestParseText_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	if err := os.WriteFile(path, []byte("   \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := ParseDocument(path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.PageCount != 0 {
		t.Errorf("expected no pages, got %d", doc.PageCount)
	}
}

func TestParseDocument_Unsupported(t *testing.T) {
	if _, err := ParseDocument("report.odt"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestDocxTableRows(t *testing.T) {
	tbl := `<w:tbl><w:tr><w:tc><w:p><w:r><w:t>Metric</w:t></w:r></w:p></w:tc><w:tc><w:p><w:t>Value</w:t></w:p></w:tc></w:tr>` +
		`<w:tr><w:tc><w:t>Beta</w:t></w:tc><w:tc><w:t>1.2</w:t></w:tc></w:tr></w:tbl>`
	rows := docxTableRows(tbl)
	want := [][]string{{"Metric", "Value"}, {"Beta", "1.2"}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("expected %v, got %v", want, rows)
	}
}

func TestCleanText(t *testing.T) {
	got := cleanText("  Sharpe    Ratio  \r\nmeasures\t\trisk   \n\n")
	want := "Sharpe Ratio\nmeasures risk"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestExtractTextFromXML(t *testing.T) {
	got := extractTextFromXML(`<p:sp><a:t>Yield</a:t><a:t>Curve</a:t></p:sp>`)
	if got != "Yield Curve " {
		t.Errorf("unexpected text %q", got)
	}
}

func TestSaveJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "parsed.json")
	doc, err := parseText(writeTemp(t, "a\fb"))
	if err != nil {
		t.Fatal(err)
	}
	if err := SaveJSON(doc, path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected file written: %v", err)
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
