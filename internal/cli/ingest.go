package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"concept-rag/internal/artifacts"
	"concept-rag/internal/chromemdb"
	"concept-rag/internal/chunker"
	"concept-rag/internal/db"
	"concept-rag/internal/embedding"
	"concept-rag/internal/models"
	"concept-rag/internal/parser"
	"concept-rag/internal/vectorstore"
)

var (
	ingestStrategy   string
	ingestDeleteAll  bool
	ingestCompare    bool
	ingestDryRun     bool
	ingestSaveParsed string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file or glob>...",
	Short: "Parse, chunk, embed and index documents",
	Long: `Parse documents (PDF, DOCX, PPTX, XLSX, TXT), split them into chunks, embed
the chunks and upsert them into the configured vector store. Arguments may be
glob patterns such as "data/**/*.pdf".

Examples:
  concept-rag ingest ./data/fintbx.pdf
  concept-rag ingest "data/**/*.pdf" --strategy markdown
  concept-rag ingest ./data/fintbx.pdf --compare
  concept-rag ingest ./data/fintbx.pdf --delete-all`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVarP(&ingestStrategy, "strategy", "s", "", "chunking strategy: "+strings.Join(chunker.Strategies(), ", ")+" (default from config)")
	ingestCmd.Flags().BoolVar(&ingestDeleteAll, "delete-all", false, "delete every vector in the index before upserting")
	ingestCmd.Flags().BoolVar(&ingestCompare, "compare", false, "compare chunking strategies and exit")
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "parse and chunk only")
	ingestCmd.Flags().StringVar(&ingestSaveParsed, "save-parsed", "", "directory to write the parse result as JSON")
}

// keyedSink stores chunk sets under a per-document prefix.
type keyedSink struct {
	store  *artifacts.Store
	prefix string
}

func (k keyedSink) PutChunks(strategy string, chunks []models.Chunk) error {
	return k.store.PutChunks(k.prefix+strategy, chunks)
}

// expandInputs resolves glob patterns into a sorted, de-duplicated file list.
func expandInputs(args []string) ([]string, error) {
	seen := map[string]bool{}
	var files []string
	for _, arg := range args {
		matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %q", arg)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	strategy := ingestStrategy
	if strategy == "" {
		strategy = cfg.RAG.Strategy
	}

	files, err := expandInputs(args)
	if err != nil {
		return err
	}

	store, err := artifacts.Open(cfg.RAG.ArtifactPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if ingestCompare {
		return compareStrategies(cmd, files)
	}

	var (
		bunDB   *bun.DB
		vectors vectorstore.Store
		embed   *embedding.Service
	)
	if !ingestDryRun {
		if cfg.VectorStore.Backend == vectorstore.BackendPGVector {
			bunDB, err = db.Connect(&cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer bunDB.Close()
		}
		vectors, err = newVectorStore(cfg, bunDB)
		if err != nil {
			return fmt.Errorf("failed to create vector store: %w", err)
		}
		if err := vectors.EnsureIndex(ctx); err != nil {
			return fmt.Errorf("failed to prepare vector index: %w", err)
		}
		if ingestDeleteAll {
			log.Warn().Str("backend", vectors.Name()).Msg("Deleting every vector in the index")
			if err := vectors.DeleteAll(ctx); err != nil {
				return fmt.Errorf("failed to clear index: %w", err)
			}
		}
		embed, err = newEmbeddingService(cfg, store)
		if err != nil {
			return fmt.Errorf("failed to create embedder: %w", err)
		}
	}

	multi := len(files) > 1
	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan]Ingesting[reset]"),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(cmd.ErrOrStderr()) }),
	)

	var totals ingestTotals
	for _, file := range files {
		bar.Describe(fmt.Sprintf("[cyan]Ingesting[reset] %s", filepath.Base(file)))
		t, err := ingestFile(ctx, file, strategy, multi, store, embed, vectors)
		if err != nil {
			return fmt.Errorf("failed to ingest %s: %w", file, err)
		}
		totals.add(t)
		_ = bar.Add(1)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nIngestion complete (%s):\n", strategy)
	fmt.Fprintf(out, "  Documents:  %d\n", len(files))
	fmt.Fprintf(out, "  Pages:      %d\n", totals.pages)
	fmt.Fprintf(out, "  Chunks:     %d\n", totals.chunks)
	if !ingestDryRun {
		fmt.Fprintf(out, "  Embedded:   %d\n", totals.chunks-totals.failed)
		fmt.Fprintf(out, "  Failed:     %d\n", totals.failed)
		fmt.Fprintf(out, "  Upserted:   %d\n", totals.upserted)
		if st, err := vectors.Stats(ctx); err == nil {
			fmt.Fprintf(out, "  Index:      %s, %d vectors, dimension %d\n", st.Backend, st.Count, st.Dimension)
		}
	}
	return nil
}

type ingestTotals struct {
	pages, chunks, failed, upserted int
}

func (t *ingestTotals) add(o ingestTotals) {
	t.pages += o.pages
	t.chunks += o.chunks
	t.failed += o.failed
	t.upserted += o.upserted
}

// ingestFile runs one document through parse, chunk, embed and upsert. When
// several documents are ingested together, chunk ids and artifact keys are
// prefixed with the file stem so they stay distinct.
func ingestFile(ctx context.Context, file, strategy string, multi bool, store *artifacts.Store, embed *embedding.Service, vectors vectorstore.Store) (ingestTotals, error) {
	var t ingestTotals
	doc, err := parser.ParseDocument(file)
	if err != nil {
		return t, err
	}
	t.pages = doc.PageCount
	if ingestSaveParsed != "" {
		path := filepath.Join(ingestSaveParsed, strings.TrimSuffix(doc.Source, filepath.Ext(doc.Source))+".json")
		if err := parser.SaveJSON(doc, path); err != nil {
			return t, err
		}
	}

	prefix := ""
	if multi {
		prefix = strings.TrimSuffix(doc.Source, filepath.Ext(doc.Source)) + "/"
	}
	c := chunker.New(&cfg.RAG, chunker.WithSink(keyedSink{store: store, prefix: prefix}))
	chunks, err := c.Chunk(doc, strategy)
	if err != nil {
		return t, err
	}
	if prefix != "" {
		for i := range chunks {
			chunks[i].ID = prefix + chunks[i].ID
		}
	}
	t.chunks = len(chunks)
	if embed == nil {
		return t, nil
	}

	results, err := embed.EmbedChunks(ctx, prefix+strategy, chunks)
	if err != nil {
		return t, err
	}
	t.failed = embedding.CountFailed(results)
	stats := embedding.ComputeStats(results)
	log.Info().Int("count", stats.Count).Int("dimension", stats.Dimension).
		Float64("mean_norm", stats.MeanNorm).Msg("Embedding stats")

	records := vectorstore.BuildRecords(results, cfg.RAG.MetadataTextLimit)
	t.upserted, err = vectors.Upsert(ctx, records)
	if err != nil {
		return t, err
	}

	if mgr, ok := vectors.(*chromemdb.VectorDBManager); ok && cfg.VectorStore.Chromem.InMemory {
		if err := mgr.Export(ctx); err != nil {
			return t, err
		}
	}
	return t, nil
}

func compareStrategies(cmd *cobra.Command, files []string) error {
	c := chunker.New(&cfg.RAG)
	out := cmd.OutOrStdout()
	for _, file := range files {
		doc, err := parser.ParseDocument(file)
		if err != nil {
			return err
		}
		stats, err := c.Compare(doc)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%s (%d pages)\n", doc.Source, doc.PageCount)
		fmt.Fprintf(out, "  %-10s %8s %12s %12s\n", "strategy", "chunks", "avg length", "avg tokens")
		for _, s := range stats {
			fmt.Fprintf(out, "  %-10s %8d %12.1f %12.1f\n", s.Strategy, s.Chunks, s.AvgLength, s.AvgTokens)
		}
	}
	return nil
}
