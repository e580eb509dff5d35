package cli

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"concept-rag/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}
		router := server.NewRouter(&cfg.Server, server.RouterConfig{
			Pipeline: a.rag,
			Notes:    a.notes,
			Vectors:  a.vectors,
			Model:    a.llm,
			Metrics:  a.metrics,
		})
		log.Info().Str("backend", a.vectors.Name()).Str("model", a.llm.ModelName()).Msg("Pipeline ready")
		return server.Run(ctx, addr, router)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}
