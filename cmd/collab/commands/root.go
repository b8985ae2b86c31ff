package commands

import (
	"fmt"
	"log/slog"

	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/cobra"
)

var (
	cfg    Config
	logger *slog.Logger
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var loadErr error
	root := &cobra.Command{
		Use:           "collab",
		Short:         "End-to-end encrypted study session client",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if loadErr != nil {
				return fmt.Errorf("invalid COLLAB_* environment: %w", loadErr)
			}
			logger = logs.GetLoggerFromString(cfg.LogLevel)
			color.Enable = cfg.Colours
			return nil
		},
	}

	_ = godotenv.Load()
	var loaded Config
	loaded, loadErr = LoadConfig()
	if loadErr == nil {
		cfg = loaded
	}

	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (DEBUG, INFO, WARN, ERROR)")
	root.PersistentFlags().BoolVar(&cfg.Colours, "colours", cfg.Colours, "colourize output")
	root.AddCommand(keygenCmd(), tokenCmd(), joinCmd())
	return root
}
