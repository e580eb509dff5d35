package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"concept-rag/internal/models"
)

var ErrNotFound = errors.New("concept note not found")

// ConceptNoteRecord is the concept_notes row.
type ConceptNoteRecord struct {
	bun.BaseModel `bun:"table:concept_notes,alias:cn"`

	ID            int64     `bun:"id,pk,autoincrement"`
	ConceptName   string    `bun:"concept_name,notnull"`
	Definition    string    `bun:"definition,notnull"`
	Formula       *string   `bun:"formula"`
	Example       string    `bun:"example,notnull"`
	Applications  []string  `bun:"applications,type:jsonb"`
	Source        string    `bun:"source,notnull"`
	PDFReferences []int     `bun:"pdf_references,type:jsonb"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

var _ bun.BeforeAppendModelHook = (*ConceptNoteRecord)(nil)

func (r *ConceptNoteRecord) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		r.CreatedAt = now
		r.UpdatedAt = now
	case *bun.UpdateQuery:
		r.UpdatedAt = now
	}
	return nil
}

func (r *ConceptNoteRecord) toNote() *models.ConceptNote {
	return &models.ConceptNote{
		ID:            r.ID,
		ConceptName:   r.ConceptName,
		Definition:    r.Definition,
		Formula:       r.Formula,
		Example:       r.Example,
		Applications:  nonNil(r.Applications),
		Source:        r.Source,
		PDFReferences: nonNil(r.PDFReferences),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func recordFrom(n *models.ConceptNote) *ConceptNoteRecord {
	return &ConceptNoteRecord{
		ID:            n.ID,
		ConceptName:   n.ConceptName,
		Definition:    n.Definition,
		Formula:       n.Formula,
		Example:       n.Example,
		Applications:  n.Applications,
		Source:        n.Source,
		PDFReferences: n.PDFReferences,
		CreatedAt:     n.CreatedAt,
	}
}

// NoteStats counts cached notes by source group.
type NoteStats struct {
	Total     int `json:"total_concepts"`
	Corpus    int `json:"corpus_concepts"`
	Wikipedia int `json:"wikipedia_concepts"`
	System    int `json:"system_concepts"`
	Other     int `json:"other_concepts"`
}

// NoteRepository is the concept note cache. Names match case-insensitively.
type NoteRepository struct {
	db *bun.DB
}

func NewNoteRepository(db *bun.DB) *NoteRepository {
	return &NoteRepository{db: db}
}

// InitSchema creates the table and the unique lower(concept_name) index. With
// seedSample it inserts a Duration note when the table is empty.
func (r *NoteRepository) InitSchema(ctx context.Context, seedSample bool) error {
	if _, err := r.db.NewCreateTable().Model((*ConceptNoteRecord)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create concept_notes: %w", err)
	}
	_, err := r.db.NewCreateIndex().
		Model((*ConceptNoteRecord)(nil)).
		Index("concept_notes_name_lower_idx").
		Unique().
		IfNotExists().
		ColumnExpr("lower(concept_name)").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create concept name index: %w", err)
	}
	if !seedSample {
		return nil
	}

	count, err := r.db.NewSelect().Model((*ConceptNoteRecord)(nil)).Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	formula := "Modified Duration = Macaulay Duration / (1 + YTM/n)"
	_, err = r.Create(ctx, models.NoteFields{
		ConceptName:  "Duration",
		Definition:   "Duration measures the price sensitivity of a bond to changes in interest rates.",
		Formula:      &formula,
		Example:      "A bond with duration of 5 years will decrease in price by approximately 5% for each 1% increase in interest rates.",
		Applications: []string{"Interest rate risk management", "Portfolio immunization"},
		Source:       models.SourceSystem,
	})
	if err == nil {
		log.Info().Msg("Seeded sample concept note")
	}
	return err
}

// Get returns the note whose name equals name ignoring case.
func (r *NoteRepository) Get(ctx context.Context, name string) (*models.ConceptNote, error) {
	rec := new(ConceptNoteRecord)
	err := r.db.NewSelect().
		Model(rec).
		Where("lower(concept_name) = lower(?)", strings.TrimSpace(name)).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec.toNote(), nil
}

// Create inserts a note built from fields. If a row with the same name was
// inserted concurrently, that row is updated instead.
func (r *NoteRepository) Create(ctx context.Context, fields models.NoteFields) (*models.ConceptNote, error) {
	note, err := models.NewConceptNote(fields)
	if err != nil {
		return nil, err
	}
	rec := recordFrom(note)
	_, err = r.db.NewInsert().Model(rec).Exec(ctx)
	if err == nil {
		return rec.toNote(), nil
	}
	if !isUniqueViolation(err) {
		return nil, err
	}

	log.Debug().Str("concept", note.ConceptName).Msg("Concept inserted concurrently, updating instead")
	existing, getErr := r.Get(ctx, note.ConceptName)
	if getErr != nil {
		return nil, fmt.Errorf("%w (re-read failed: %v)", err, getErr)
	}
	return r.Update(ctx, existing, fields)
}

// Update overwrites existing in place. A non-empty fields.ConceptName
// replaces the stored spelling.
func (r *NoteRepository) Update(ctx context.Context, existing *models.ConceptNote, fields models.NoteFields) (*models.ConceptNote, error) {
	updated := *existing
	if name := strings.TrimSpace(fields.ConceptName); name != "" {
		updated.ConceptName = name
	}
	updated.Apply(fields)
	rec := recordFrom(&updated)
	_, err := r.db.NewUpdate().
		Model(rec).
		Column("concept_name", "definition", "formula", "example", "applications", "source", "pdf_references", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	return rec.toNote(), nil
}

// Save updates the row for fields.ConceptName if one exists, else inserts.
func (r *NoteRepository) Save(ctx context.Context, fields models.NoteFields) (*models.ConceptNote, error) {
	existing, err := r.Get(ctx, fields.ConceptName)
	switch {
	case err == nil:
		return r.Update(ctx, existing, fields)
	case errors.Is(err, ErrNotFound):
		return r.Create(ctx, fields)
	default:
		return nil, err
	}
}

// List returns up to limit notes, most recently updated first.
func (r *NoteRepository) List(ctx context.Context, limit int) ([]*models.ConceptNote, error) {
	var recs []ConceptNoteRecord
	err := r.db.NewSelect().
		Model(&recs).
		OrderExpr("updated_at DESC").
		OrderExpr("id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	notes := make([]*models.ConceptNote, 0, len(recs))
	for i := range recs {
		notes = append(notes, recs[i].toNote())
	}
	return notes, nil
}

func (r *NoteRepository) Stats(ctx context.Context) (NoteStats, error) {
	var rows []struct {
		Source string `bun:"source"`
		Count  int    `bun:"count"`
	}
	err := r.db.NewSelect().
		Model((*ConceptNoteRecord)(nil)).
		Column("source").
		ColumnExpr("count(*) AS count").
		Group("source").
		Scan(ctx, &rows)
	if err != nil {
		return NoteStats{}, err
	}

	var st NoteStats
	for _, row := range rows {
		st.Total += row.Count
		switch {
		case strings.EqualFold(row.Source, models.SourceWikipedia):
			st.Wikipedia += row.Count
		case strings.EqualFold(row.Source, models.SourceSystem):
			st.System += row.Count
		case models.IsCorpusSource(row.Source):
			st.Corpus += row.Count
		default:
			st.Other += row.Count
		}
	}
	return st, nil
}

func (r *NoteRepository) Ping(ctx context.Context) error {
	return Ping(ctx, r.db)
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// sqlite reports constraint failures only through the message
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
