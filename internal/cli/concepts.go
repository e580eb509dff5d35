package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"concept-rag/internal/export"
	"concept-rag/internal/helper"
)

var (
	conceptsLimit int
	conceptsJSON  bool
	conceptsStats bool
)

var conceptsCmd = &cobra.Command{
	Use:   "concepts",
	Short: "List cached concept notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		bunDB, notes, err := openNotes(ctx, cfg)
		if err != nil {
			return err
		}
		defer bunDB.Close()

		out := cmd.OutOrStdout()
		if conceptsStats {
			st, err := notes.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Total %d: corpus %d, wikipedia %d, system %d, other %d\n",
				st.Total, st.Corpus, st.Wikipedia, st.System, st.Other)
			return nil
		}

		list, err := notes.List(ctx, conceptsLimit)
		if err != nil {
			return err
		}
		if conceptsJSON {
			return helper.PrettyPrint(out, list)
		}
		for _, n := range list {
			fmt.Fprintf(out, "%-32s %-16s %v  %s\n", n.ConceptName, n.Source, n.PDFReferences, n.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

// newExportCmd is shared by "export" and "concepts export".
func newExportCmd() *cobra.Command {
	var (
		path  string
		limit int
	)
	c := &cobra.Command{
		Use:   "export",
		Short: "Export cached notes to an xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			bunDB, notes, err := openNotes(ctx, cfg)
			if err != nil {
				return err
			}
			defer bunDB.Close()

			list, err := notes.List(ctx, limit)
			if err != nil {
				return err
			}
			if err := export.WriteFile(list, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d notes to %s\n", len(list), path)
			return nil
		},
	}
	c.Flags().StringVarP(&path, "out", "o", "concept_notes.xlsx", "output workbook path")
	c.Flags().IntVar(&limit, "limit", 10000, "maximum notes to export")
	return c
}

func init() {
	rootCmd.AddCommand(conceptsCmd)
	conceptsCmd.Flags().IntVarP(&conceptsLimit, "limit", "n", 50, "maximum notes to list")
	conceptsCmd.Flags().BoolVar(&conceptsJSON, "json", false, "output as JSON")
	conceptsCmd.Flags().BoolVar(&conceptsStats, "stats", false, "print counts by source instead")
	conceptsCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newExportCmd())
}
