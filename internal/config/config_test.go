package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.RAG.ChunkSize != 512 {
		t.Errorf("expected ChunkSize=512, got %d", cfg.RAG.ChunkSize)
	}
	if cfg.RAG.ChunkOverlap != 50 {
		t.Errorf("expected ChunkOverlap=50, got %d", cfg.RAG.ChunkOverlap)
	}
	if cfg.RAG.RouteThreshold != 0.7 {
		t.Errorf("expected RouteThreshold=0.7, got %f", cfg.RAG.RouteThreshold)
	}
	if cfg.EmbedLLM.Dimension != 3072 {
		t.Errorf("expected Dimension=3072, got %d", cfg.EmbedLLM.Dimension)
	}
	if cfg.VectorStore.Backend != "pinecone" {
		t.Errorf("expected pinecone backend, got %s", cfg.VectorStore.Backend)
	}
	if !cfg.Relevance.Enabled || cfg.Relevance.Prompt == "" {
		t.Error("expected relevance check enabled with a default prompt")
	}
}

func TestLoadConfig_NonExistent(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if cfg.Server.Addr != ":8000" {
		t.Errorf("expected default addr, got %s", cfg.Server.Addr)
	}
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
vector_store:
  backend: chromem
  chromem:
    path: /tmp/chroma
rag:
  chunk_size: 256
  route_threshold: 0.8
  embed_batch_delay: 250ms
relevance:
  enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.VectorStore.Backend != "chromem" || cfg.VectorStore.Chromem.Path != "/tmp/chroma" {
		t.Errorf("unexpected vector store config %+v", cfg.VectorStore)
	}
	if cfg.RAG.ChunkSize != 256 {
		t.Errorf("expected ChunkSize=256, got %d", cfg.RAG.ChunkSize)
	}
	if cfg.RAG.ChunkOverlap != 50 {
		t.Errorf("expected default overlap to survive, got %d", cfg.RAG.ChunkOverlap)
	}
	if cfg.RAG.RouteThreshold != 0.8 {
		t.Errorf("expected RouteThreshold=0.8, got %f", cfg.RAG.RouteThreshold)
	}
	if cfg.RAG.EmbedBatchDelay != 250*time.Millisecond {
		t.Errorf("expected 250ms delay, got %s", cfg.RAG.EmbedBatchDelay)
	}
	if cfg.Relevance.Enabled {
		t.Error("expected relevance check disabled")
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("rag: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for invalid yaml")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("PINECONE_API_KEY", "pc-test")
	t.Setenv("DATABASE_URL", "postgres://x@y/z")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.EmbedLLM.Key != "sk-test" || cfg.InferenceLLM.Key != "sk-test" {
		t.Errorf("expected openai key from env")
	}
	if cfg.VectorStore.Pinecone.APIKey != "pc-test" {
		t.Errorf("expected pinecone key from env")
	}
	if cfg.Database.DSN != "postgres://x@y/z" {
		t.Errorf("expected dsn from env, got %s", cfg.Database.DSN)
	}

	masked := cfg.Masked()
	if masked.EmbedLLM.Key != "****" || masked.VectorStore.Pinecone.APIKey != "****" {
		t.Error("expected masked secrets")
	}
	if cfg.EmbedLLM.Key != "sk-test" {
		t.Error("Masked must not modify the original")
	}
}
