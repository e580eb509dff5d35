package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"concept-rag/internal/models"
)

type Config struct {
	Server       ServerConfig      `yaml:"server"`
	Database     DatabaseConfig    `yaml:"database"`
	EmbedLLM     LLMConfig         `yaml:"embed_llm"`
	InferenceLLM LLMConfig         `yaml:"inference_llm"`
	VectorStore  VectorStoreConfig `yaml:"vector_store"`
	RAG          RAGConfig         `yaml:"rag"`
	Relevance    RelevanceConfig   `yaml:"relevance"`
	Wikipedia    WikipediaConfig   `yaml:"wikipedia"`
	Seed         SeedConfig        `yaml:"seed"`
	Logging      LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	Mode        string   `yaml:"mode"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver"` // pgdriver or pq
	DSN        string `yaml:"dsn"`
	Password   string `yaml:"password"`
	Debug      bool   `yaml:"debug"`
	SeedSample bool   `yaml:"seed_sample"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider"` // openai or ollama
	BaseURL     string        `yaml:"base_url"`
	Key         string        `yaml:"key"`
	Model       string        `yaml:"model"`
	Dimension   int           `yaml:"dimension"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

type VectorStoreConfig struct {
	Backend  string         `yaml:"backend"` // pinecone, chromem or pgvector
	Pinecone PineconeConfig `yaml:"pinecone"`
	Chromem  ChromemConfig  `yaml:"chromem"`
	PGVector PGVectorConfig `yaml:"pgvector"`
}

type PineconeConfig struct {
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	APIVersion string        `yaml:"api_version"`
	Index      string        `yaml:"index"`
	Host       string        `yaml:"host"`
	Namespace  string        `yaml:"namespace"`
	Cloud      string        `yaml:"cloud"`
	Region     string        `yaml:"region"`
	BatchSize  int           `yaml:"batch_size"`
	Timeout    time.Duration `yaml:"timeout"`
}

type ChromemConfig struct {
	Path          string `yaml:"path"`
	Collection    string `yaml:"collection"`
	InMemory      bool   `yaml:"in_memory"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
}

type PGVectorConfig struct {
	Table string `yaml:"table"`
}

type RAGConfig struct {
	ChunkSize         int           `yaml:"chunk_size"`
	ChunkOverlap      int           `yaml:"chunk_overlap"`
	MinChunkSize      int           `yaml:"min_chunk_size"`
	Strategy          string        `yaml:"strategy"`
	TopK              int           `yaml:"top_k"`
	MinScore          float64       `yaml:"min_score"`
	RouteThreshold    float64       `yaml:"route_threshold"`
	EmbedBatchSize    int           `yaml:"embed_batch_size"`
	EmbedBatchDelay   time.Duration `yaml:"embed_batch_delay"`
	MetadataTextLimit int           `yaml:"metadata_text_limit"`
	CorpusSource      string        `yaml:"corpus_source"`
	ArtifactPath      string        `yaml:"artifact_path"`
}

type RelevanceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Prompt  string `yaml:"prompt"`
}

type WikipediaConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Lang     string        `yaml:"lang"`
	MaxChars int           `yaml:"max_chars"`
	Timeout  time.Duration `yaml:"timeout"`
}

type SeedConfig struct {
	Interval time.Duration `yaml:"interval"`
	Burst    int           `yaml:"burst"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// LoadConfig reads .env, then the yaml file at path, then environment
// overrides. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{
		Relevance: RelevanceConfig{Enabled: true},
		Database:  DatabaseConfig{SeedSample: true},
		Logging:   LoggingConfig{Pretty: true},
	}
	applyDefaults(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	if v := firstEnv("OPENAI_API_KEY", "OPENAI_KEY"); v != "" {
		if cfg.EmbedLLM.Key == "" {
			cfg.EmbedLLM.Key = v
		}
		if cfg.InferenceLLM.Key == "" {
			cfg.InferenceLLM.Key = v
		}
	}
	if v := firstEnv("PINECONE_API_KEY", "PINECONE_KEY"); v != "" && cfg.VectorStore.Pinecone.APIKey == "" {
		cfg.VectorStore.Pinecone.APIKey = v
	}
	if v := firstEnv("PINECONE_INDEX"); v != "" {
		cfg.VectorStore.Pinecone.Index = v
	}
	if v := firstEnv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := firstEnv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := firstEnv("VECTOR_STORE_TYPE"); v != "" {
		cfg.VectorStore.Backend = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "pgdriver"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "postgres://postgres@127.0.0.1:5432/concept_notes?sslmode=disable"
	}

	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = "openai"
	}
	if cfg.EmbedLLM.Model == "" {
		cfg.EmbedLLM.Model = "text-embedding-3-large"
	}
	if cfg.EmbedLLM.Dimension == 0 {
		cfg.EmbedLLM.Dimension = 3072
	}
	if cfg.InferenceLLM.Provider == "" {
		cfg.InferenceLLM.Provider = "openai"
	}
	if cfg.InferenceLLM.Model == "" {
		cfg.InferenceLLM.Model = "gpt-4o-mini"
	}
	if cfg.InferenceLLM.Temperature == 0 {
		cfg.InferenceLLM.Temperature = 0.3
	}
	if cfg.InferenceLLM.MaxTokens == 0 {
		cfg.InferenceLLM.MaxTokens = 2048
	}

	vs := &cfg.VectorStore
	if vs.Backend == "" {
		vs.Backend = "pinecone"
	}
	if vs.Pinecone.Index == "" {
		vs.Pinecone.Index = "financial-toolbox"
	}
	if vs.Pinecone.Cloud == "" {
		vs.Pinecone.Cloud = "aws"
	}
	if vs.Pinecone.Region == "" {
		vs.Pinecone.Region = "us-east-1"
	}
	if vs.Pinecone.BatchSize == 0 {
		vs.Pinecone.BatchSize = 100
	}
	if vs.Chromem.Path == "" {
		vs.Chromem.Path = "./chromemdb"
	}
	if vs.Chromem.Collection == "" {
		vs.Chromem.Collection = "financial_concepts"
	}
	if vs.PGVector.Table == "" {
		vs.PGVector.Table = "corpus_chunks"
	}

	r := &cfg.RAG
	if r.ChunkSize == 0 {
		r.ChunkSize = 512
	}
	if r.ChunkOverlap == 0 {
		r.ChunkOverlap = 50
	}
	if r.MinChunkSize == 0 {
		r.MinChunkSize = 50
	}
	if r.Strategy == "" {
		r.Strategy = "recursive"
	}
	if r.TopK == 0 {
		r.TopK = 5
	}
	if r.MinScore == 0 {
		r.MinScore = 0.3
	}
	if r.RouteThreshold == 0 {
		r.RouteThreshold = 0.7
	}
	if r.EmbedBatchSize == 0 {
		r.EmbedBatchSize = 100
	}
	if r.EmbedBatchDelay == 0 {
		r.EmbedBatchDelay = time.Second
	}
	if r.MetadataTextLimit == 0 {
		r.MetadataTextLimit = 1000
	}
	if r.CorpusSource == "" {
		r.CorpusSource = "fintbx.pdf"
	}
	if r.ArtifactPath == "" {
		r.ArtifactPath = "./data/artifacts.db"
	}

	if cfg.Relevance.Prompt == "" {
		cfg.Relevance.Prompt = models.RelevancePromptTemplate
	}

	if cfg.Wikipedia.Lang == "" {
		cfg.Wikipedia.Lang = "en"
	}
	if cfg.Wikipedia.MaxChars == 0 {
		cfg.Wikipedia.MaxChars = 4000
	}
	if cfg.Wikipedia.Timeout == 0 {
		cfg.Wikipedia.Timeout = 15 * time.Second
	}

	if cfg.Seed.Interval == 0 {
		cfg.Seed.Interval = 200 * time.Millisecond
	}
	if cfg.Seed.Burst == 0 {
		cfg.Seed.Burst = 1
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Masked returns a copy safe to log.
func (c *Config) Masked() Config {
	out := *c
	out.EmbedLLM.Key = mask(out.EmbedLLM.Key)
	out.InferenceLLM.Key = mask(out.InferenceLLM.Key)
	out.VectorStore.Pinecone.APIKey = mask(out.VectorStore.Pinecone.APIKey)
	out.VectorStore.Chromem.EncryptionKey = mask(out.VectorStore.Chromem.EncryptionKey)
	out.Database.Password = mask(out.Database.Password)
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}
