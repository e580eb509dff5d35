package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"concept-rag/internal/config"
)

const defaultConfigPath = "./configs/config.yaml"

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "concept-rag",
	Short: "Financial concept notes grounded in a reference PDF",
	Long: `concept-rag ingests a financial reference document into a vector index and
answers concept queries with structured notes. Concepts the document does not
cover fall back to Wikipedia after a finance relevance check.

Example usage:
  concept-rag ingest ./data/fintbx.pdf         # Parse, chunk, embed and index
  concept-rag query "Sharpe Ratio"             # Generate or fetch a note
  concept-rag seed --file concepts.txt         # Pre-generate a list of notes
  concept-rag serve                            # Start the HTTP API
  concept-rag dashboard                        # Open the terminal dashboard`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		setupLogging(&cfg.Logging)
		masked := cfg.Masked()
		log.Debug().Interface("config", masked).Msg("Loaded config")
		return nil
	},
}

// Execute runs the command tree. Interrupts cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath, "config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
}

// setupLogging configures the global zerolog logger once per process.
func setupLogging(lc *config.LoggingConfig) {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil || lc.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if lc.Pretty {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()
		return
	}
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}
