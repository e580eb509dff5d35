package cli

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"concept-rag/internal/helper"
	"concept-rag/internal/rag"
)

var (
	seedFile      string
	seedOverwrite bool
	seedJSON      bool
)

var seedCmd = &cobra.Command{
	Use:   "seed [concept]...",
	Short: "Generate notes for a list of concepts",
	Long: `Generate notes for every concept given as an argument or listed in a file
(one per line, # for comments). Existing notes are skipped unless --overwrite.

Examples:
  concept-rag seed Beta Duration "Sharpe Ratio"
  concept-rag seed --file concepts.txt --overwrite`,
	RunE: func(cmd *cobra.Command, args []string) error {
		concepts := append([]string(nil), args...)
		if seedFile != "" {
			raw, err := os.ReadFile(seedFile)
			if err != nil {
				return fmt.Errorf("failed to read concept list: %w", err)
			}
			concepts = append(concepts, rag.ReadConcepts(string(raw))...)
		}
		if len(concepts) == 0 {
			return rag.ErrNoConcepts
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		bar := progressbar.NewOptions(len(concepts),
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("[cyan]Seeding[reset]"),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(cmd.ErrOrStderr()) }),
		)
		res, err := a.rag.Seed(ctx, rag.SeedRequest{Concepts: concepts, Overwrite: seedOverwrite}, func(done, total int, item rag.SeedItem) {
			bar.Describe(fmt.Sprintf("[cyan]Seeding[reset] %s", item.Concept))
			_ = bar.Set(done)
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if seedJSON {
			return helper.PrettyPrint(out, res)
		}
		for _, item := range res.Results {
			mark := "✓"
			if !item.Success {
				mark = "✗"
			}
			fmt.Fprintf(out, "  %s %-32s %s\n", mark, item.Concept, item.Message)
		}
		fmt.Fprintf(out, "\nRequested %d: %d successful (%d skipped), %d failed in %.0f ms\n",
			res.TotalRequested, res.Successful, res.Skipped, res.Failed, res.ProcessingTimeMs)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringVar(&seedFile, "file", "", "file with one concept per line")
	seedCmd.Flags().BoolVar(&seedOverwrite, "overwrite", false, "regenerate notes that already exist")
	seedCmd.Flags().BoolVar(&seedJSON, "json", false, "output as JSON")
}
