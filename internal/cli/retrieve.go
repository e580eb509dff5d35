package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"concept-rag/internal/helper"
	"concept-rag/internal/models"
	"concept-rag/internal/retriever"
)

var (
	retrievePage    int
	retrieveSection string
	retrieveTopK    int
	retrieveStats   bool
	retrieveJSON    bool
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve [text]",
	Short: "Search the vector index without generating a note",
	Long: `Inspect what the retriever returns for a query, a page or a section.

Examples:
  concept-rag retrieve "modified duration" --top-k 10
  concept-rag retrieve --page 47
  concept-rag retrieve --section "Portfolio Optimization"
  concept-rag retrieve --stats`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		out := cmd.OutOrStdout()

		if retrieveStats {
			st, err := a.retriever.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %d vectors, dimension %d, fullness %.4f\n", st.Backend, st.Count, st.Dimension, st.Fullness)
			return nil
		}

		var chunks []models.RetrievedChunk
		switch {
		case retrievePage > 0:
			chunks, err = a.retriever.GetByPage(ctx, retrievePage, retrieveTopK)
		case retrieveSection != "":
			chunks, err = a.retriever.GetBySection(ctx, retrieveSection, retrieveTopK)
		case len(args) > 0:
			var rc *retriever.Context
			rc, err = a.retriever.QueryWithContext(ctx, strings.Join(args, " "), retriever.Options{TopK: retrieveTopK})
			if rc != nil {
				chunks = rc.Chunks
				if !retrieveJSON {
					fmt.Fprintf(out, "Sources: %s\n\n", strings.Join(rc.Sources, ", "))
				}
			}
		default:
			return errors.New("give a query, --page, --section or --stats")
		}
		if err != nil {
			return err
		}

		if retrieveJSON {
			return helper.PrettyPrint(out, chunks)
		}
		for _, c := range chunks {
			fmt.Fprintf(out, "[%.3f] %s page %d %s\n  %s\n\n", c.Score, c.ID, c.Page, c.Type, helper.Truncate(strings.ReplaceAll(c.Text, "\n", " "), 200))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(retrieveCmd)
	retrieveCmd.Flags().IntVar(&retrievePage, "page", 0, "return chunks from this page")
	retrieveCmd.Flags().StringVar(&retrieveSection, "section", "", "return chunks whose section contains this name")
	retrieveCmd.Flags().IntVarP(&retrieveTopK, "top-k", "k", 0, "number of results (default from config)")
	retrieveCmd.Flags().BoolVar(&retrieveStats, "stats", false, "print index statistics")
	retrieveCmd.Flags().BoolVar(&retrieveJSON, "json", false, "output as JSON")
}
