package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/uptrace/bun/driver/sqliteshim"

	"concept-rag/internal/models"
)

func newTestRepo(t *testing.T, seed bool) *NoteRepository {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:")
	if err != nil {
		t.Fatal(err)
	}
	sqldb.SetMaxOpenConns(1)
	db := NewDB(sqldb, DriverSQLite, false)
	t.Cleanup(func() { db.Close() })

	repo := NewNoteRepository(db)
	if err := repo.InitSchema(context.Background(), seed); err != nil {
		t.Fatal(err)
	}
	return repo
}

func TestGetIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, false)

	created, err := repo.Create(ctx, models.NoteFields{
		ConceptName:   "Sharpe Ratio",
		Definition:    "Risk-adjusted return.",
		Source:        "fintbx.pdf",
		PDFReferences: []int{47, 12, 47},
	})
	if err != nil {
		t.Fatal(err)
	}
	if created.ID == 0 {
		t.Error("expected generated id")
	}

	for _, name := range []string{"sharpe ratio", "SHARPE RATIO", "  Sharpe Ratio "} {
		got, err := repo.Get(ctx, name)
		if err != nil {
			t.Fatalf("%q: %v", name, err)
		}
		if got.ID != created.ID {
			t.Errorf("%q: expected row %d, got %d", name, created.ID, got.ID)
		}
		if len(got.PDFReferences) != 2 || got.PDFReferences[0] != 12 {
			t.Errorf("unexpected references %v", got.PDFReferences)
		}
		if got.Example != models.DefaultExample {
			t.Errorf("expected default example, got %q", got.Example)
		}
	}

	if _, err := repo.Get(ctx, "Alpha"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateDuplicateUpdatesExisting(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, false)

	first, err := repo.Create(ctx, models.NoteFields{ConceptName: "Beta", Definition: "first", Source: models.SourceWikipedia})
	if err != nil {
		t.Fatal(err)
	}
	second, err := repo.Create(ctx, models.NoteFields{ConceptName: "BETA", Definition: "second", Source: models.SourceWikipedia})
	if err != nil {
		t.Fatalf("duplicate insert should fall back to update: %v", err)
	}
	if second.ID != first.ID || second.ConceptName != "BETA" || second.Definition != "second" {
		t.Errorf("unexpected note after duplicate create %+v", second)
	}

	st, err := repo.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 1 {
		t.Errorf("expected a single row, got %d", st.Total)
	}
}

func TestSaveAndListOrder(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, false)

	for _, name := range []string{"Alpha", "Gamma"} {
		if _, err := repo.Save(ctx, models.NoteFields{ConceptName: name, Source: models.SourceWikipedia}); err != nil {
			t.Fatal(err)
		}
	}
	updated, err := repo.Save(ctx, models.NoteFields{ConceptName: "alpha", Definition: "refreshed", Source: "fintbx.pdf", PDFReferences: []int{3}})
	if err != nil {
		t.Fatal(err)
	}
	if updated.ConceptName != "alpha" || updated.Source != "fintbx.pdf" {
		t.Errorf("unexpected update %+v", updated)
	}

	notes, err := repo.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 2 || notes[0].ConceptName != "alpha" || notes[1].ConceptName != "Gamma" {
		t.Fatalf("expected alpha then Gamma, got %+v", notes)
	}
	if notes[0].Definition != "refreshed" || len(notes[0].PDFReferences) != 1 || notes[0].PDFReferences[0] != 3 {
		t.Errorf("round trip lost fields: %+v", notes[0])
	}
	if len(notes[1].Applications) != 1 || notes[1].Applications[0] != models.DefaultApplication {
		t.Errorf("expected default application, got %v", notes[1].Applications)
	}

	limited, err := repo.List(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Errorf("expected one note, got %d (%v)", len(limited), err)
	}
}

func TestStatsGroupsSources(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, true)

	for _, f := range []models.NoteFields{
		{ConceptName: "Beta", Source: "fintbx.pdf"},
		{ConceptName: "Alpha", Source: "fintbx.pdf"},
		{ConceptName: "Bitcoin", Source: models.SourceWikipedia},
		{ConceptName: "Misc"},
	} {
		if _, err := repo.Create(ctx, f); err != nil {
			t.Fatal(err)
		}
	}

	st, err := repo.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := NoteStats{Total: 5, Corpus: 2, Wikipedia: 1, System: 1, Other: 1}
	if st != want {
		t.Errorf("expected %+v, got %+v", want, st)
	}
}

func TestInitSchemaSeedsSampleOnce(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, true)

	note, err := repo.Get(ctx, "duration")
	if err != nil {
		t.Fatal(err)
	}
	if note.Source != models.SourceSystem || note.Formula == nil || len(note.Applications) != 2 {
		t.Errorf("unexpected sample note %+v", note)
	}

	if err := repo.InitSchema(ctx, true); err != nil {
		t.Fatal(err)
	}
	st, _ := repo.Stats(ctx)
	if st.Total != 1 {
		t.Errorf("sample must be seeded once, got %d rows", st.Total)
	}
	if err := repo.Ping(ctx); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if isUniqueViolation(errors.New("connection refused")) {
		t.Error("plain error is not a unique violation")
	}
	if !isUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: index 'x' (2067)")) {
		t.Error("sqlite unique error not detected")
	}
}
