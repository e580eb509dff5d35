package models

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"
)

const (
	SourceWikipedia = "wikipedia"
	SourceSystem    = "system"
	SourceUnknown   = "unknown"

	DefaultDefinition  = "Definition not available."
	DefaultExample     = "Example not available."
	DefaultApplication = "General financial analysis"

	MaxApplications = 5
)

var ErrEmptyConceptName = errors.New("concept name is required")

// ConceptNote is the cached, structured note for one concept.
type ConceptNote struct {
	ID            int64     `json:"id"`
	ConceptName   string    `json:"concept_name"`
	Definition    string    `json:"definition"`
	Formula       *string   `json:"formula"`
	Example       string    `json:"example"`
	Applications  []string  `json:"applications"`
	Source        string    `json:"source"`
	PDFReferences []int     `json:"pdf_references"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NoteFields is the allow-list of writable note fields. Decoding arbitrary
// JSON into it drops every other key.
type NoteFields struct {
	ConceptName   string   `json:"concept_name"`
	Definition    string   `json:"definition"`
	Formula       *string  `json:"formula"`
	Example       string   `json:"example"`
	Applications  []string `json:"applications"`
	Source        string   `json:"source"`
	PDFReferences []int    `json:"pdf_references"`
}

// DecodeNoteFields parses a JSON object into NoteFields, ignoring unknown keys.
func DecodeNoteFields(raw []byte) (NoteFields, error) {
	var f NoteFields
	if err := json.Unmarshal(raw, &f); err != nil {
		return NoteFields{}, err
	}
	return f, nil
}

// IsCorpusSource reports whether source names an ingested document rather
// than one of the fixed non-corpus tags.
func IsCorpusSource(source string) bool {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "", SourceWikipedia, SourceSystem, SourceUnknown:
		return false
	}
	return true
}

// NewConceptNote validates fields and fills every required text field, so a
// note built here is always safe to persist.
func NewConceptNote(f NoteFields) (*ConceptNote, error) {
	name := strings.TrimSpace(f.ConceptName)
	if name == "" {
		return nil, ErrEmptyConceptName
	}
	n := &ConceptNote{ConceptName: name}
	n.Apply(f)
	return n, nil
}

// Apply overwrites the note's content fields from f with the same defaulting
// rules as NewConceptNote. The concept name is left untouched.
func (n *ConceptNote) Apply(f NoteFields) {
	n.Definition = orDefault(f.Definition, DefaultDefinition)
	n.Example = orDefault(f.Example, DefaultExample)
	n.Formula = normalizeFormula(f.Formula)
	n.Applications = normalizeApplications(f.Applications)
	n.Source = strings.TrimSpace(f.Source)
	if n.Source == "" {
		n.Source = SourceUnknown
	}
	if IsCorpusSource(n.Source) {
		n.PDFReferences = NormalizePages(f.PDFReferences)
	} else {
		n.PDFReferences = []int{}
	}
}

// Fields returns the writable part of the note.
func (n *ConceptNote) Fields() NoteFields {
	return NoteFields{
		ConceptName:   n.ConceptName,
		Definition:    n.Definition,
		Formula:       n.Formula,
		Example:       n.Example,
		Applications:  append([]string(nil), n.Applications...),
		Source:        n.Source,
		PDFReferences: append([]int(nil), n.PDFReferences...),
	}
}

// NormalizePages keeps positive page numbers, deduplicated and ascending.
func NormalizePages(pages []int) []int {
	seen := make(map[int]struct{}, len(pages))
	out := make([]int, 0, len(pages))
	for _, p := range pages {
		if p <= 0 {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

func orDefault(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

func normalizeFormula(f *string) *string {
	if f == nil {
		return nil
	}
	v := strings.TrimSpace(*f)
	if v == "" || strings.EqualFold(v, "null") || strings.EqualFold(v, "none") {
		return nil
	}
	return &v
}

func normalizeApplications(apps []string) []string {
	out := make([]string, 0, len(apps))
	for _, a := range apps {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		out = append(out, a)
		if len(out) == MaxApplications {
			break
		}
	}
	if len(out) == 0 {
		out = append(out, DefaultApplication)
	}
	return out
}
