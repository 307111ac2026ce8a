// Command mail-dispatcher sends queued mail requests exactly once per queue
// message. It runs as an SQS-triggered Lambda function or as a long-poll
// worker, and carries a few operator tools.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sungwon/mail-dispatcher/internal/config"
	"github.com/sungwon/mail-dispatcher/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configDir string

	root := &cobra.Command{
		Use:   "mail-dispatcher",
		Short: "Idempotent SQS mail dispatcher",
		// A Lambda custom runtime starts the bootstrap binary without
		// arguments.
		RunE: func(cmd *cobra.Command, args []string) error {
			if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
				return runLambda(cmd.Context(), configDir)
			}
			return cmd.Help()
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configDir, "config", "config", "directory containing config.yaml (optional)")

	root.AddCommand(
		newLambdaCmd(&configDir),
		newPollCmd(&configDir),
		newEnqueueCmd(&configDir),
		newSinkCmd(&configDir),
		newMigrateCmd(&configDir),
	)
	return root
}

// setup loads configuration and builds the process logger.
func setup(configDir string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}

	log := logger.NewFromConfig(logger.Config{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})
	return cfg, log, nil
}
