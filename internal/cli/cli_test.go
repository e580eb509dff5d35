package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"concept-rag/internal/artifacts"
	"concept-rag/internal/config"
	"concept-rag/internal/models"
	"concept-rag/internal/vectorstore"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.pdf"))
	touch(t, filepath.Join(dir, "nested", "b.pdf"))
	touch(t, filepath.Join(dir, "nested", "c.txt"))

	files, err := expandInputs([]string{
		filepath.Join(dir, "**", "*.pdf"),
		filepath.Join(dir, "a.pdf"),
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(dir, "a.pdf"), filepath.Join(dir, "nested", "b.pdf")}
	if strings.Join(files, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, files)
	}

	if _, err := expandInputs([]string{filepath.Join(dir, "*.docx")}); err == nil {
		t.Error("expected an error when nothing matches")
	}
}

func TestKeyedSink(t *testing.T) {
	store, err := artifacts.Open(filepath.Join(t.TempDir(), "artifacts.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	sink := keyedSink{store: store, prefix: "fintbx/"}
	if err := sink.PutChunks("recursive", []models.Chunk{{ID: "chunk_00000", Text: "t"}}); err != nil {
		t.Fatal(err)
	}
	got, err := store.Chunks("fintbx/recursive")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "chunk_00000" {
		t.Errorf("unexpected chunks %+v", got)
	}
}

func TestNewVectorStore(t *testing.T) {
	c := config.Default()
	c.VectorStore.Backend = "faiss"
	if _, err := newVectorStore(c, nil); err == nil {
		t.Error("expected an error for an unknown backend")
	}

	c.VectorStore.Backend = vectorstore.BackendPGVector
	if _, err := newVectorStore(c, nil); err == nil {
		t.Error("pgvector without a database must fail")
	}

	c.VectorStore.Backend = vectorstore.BackendChromem
	c.VectorStore.Chromem.Path = t.TempDir()
	s, err := newVectorStore(c, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.Name() != vectorstore.BackendChromem {
		t.Errorf("expected chromem backend, got %s", s.Name())
	}
}

func TestSetupLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	setupLogging(&config.LoggingConfig{Level: "warn"})
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Errorf("expected warn, got %s", zerolog.GlobalLevel())
	}
	setupLogging(&config.LoggingConfig{Level: "nonsense", Pretty: true})
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("unknown level must fall back to info, got %s", zerolog.GlobalLevel())
	}
}

func TestCommandTree(t *testing.T) {
	want := []string{"concepts", "dashboard", "export", "ingest", "query", "retrieve", "seed", "serve"}
	have := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("missing command %q", name)
		}
	}
	sub, _, err := rootCmd.Find([]string{"concepts", "export"})
	if err != nil || sub.Name() != "export" {
		t.Errorf("expected concepts export subcommand, got %v, %v", sub, err)
	}
}
