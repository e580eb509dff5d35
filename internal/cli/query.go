package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"concept-rag/internal/helper"
	"concept-rag/internal/rag"
	"concept-rag/internal/tui"
)

var (
	queryForce bool
	queryJSON  bool
)

var queryCmd = &cobra.Command{
	Use:   "query <concept>",
	Short: "Generate or fetch the note for one concept",
	Long: `Look a concept up in the note cache, or generate it from the indexed
document (falling back to Wikipedia when the document has no good match).

Examples:
  concept-rag query "Sharpe Ratio"
  concept-rag query Duration --force-refresh --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		resp, err := a.rag.Query(ctx, rag.Request{Concept: strings.Join(args, " "), ForceRefresh: queryForce})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if queryJSON {
			return helper.PrettyPrint(out, resp)
		}
		fmt.Fprintln(out, tui.RenderResponse(resp, 0))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().BoolVarP(&queryForce, "force-refresh", "f", false, "regenerate even when cached")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
}
