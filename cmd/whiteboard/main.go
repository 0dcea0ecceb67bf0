package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"collabcanvas/api/internal/config"
	"collabcanvas/api/internal/logging"
)

var (
	cfg    config.Config
	logger *zap.Logger

	rootCmd = &cobra.Command{
		Use:           "whiteboard",
		Short:         "Collaborative whiteboard sync server and tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.Load()
			var err error
			logger, err = logging.New(cfg.LogLevel, cfg.LogDev)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}
)

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, watchCmd, commandCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
