package cli

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"concept-rag/internal/tui"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Open the terminal dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		// log lines would tear the alternate screen
		logger := log.Logger
		log.Logger = log.Logger.Level(zerolog.Disabled)
		defer func() { log.Logger = logger }()

		return tui.Run(a.rag, a.notes)
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
