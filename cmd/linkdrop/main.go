package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"

	"github.com/bjarneo/linkdrop/internal/config"
	"github.com/bjarneo/linkdrop/internal/logging"
	"github.com/bjarneo/linkdrop/internal/ui"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()
	root := &cobra.Command{
		Use:          "linkdrop",
		Short:        "Send files between two devices over a direct link",
		Long:         "linkdrop opens an interactive console for one transfer session. Pick host or client, wait for the link, then /send files.",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			// The console owns the terminal, so logs always go to a file.
			if cfg.LogFile == "" {
				cfg.LogFile = filepath.Join(os.TempDir(), "linkdrop.log")
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync()

			if err := ui.StartInitialUI(cfg, log, tally.NoopScope); err != nil {
				return fmt.Errorf("console: %w", err)
			}
			return nil
		},
	}
	config.BindFlags(root.PersistentFlags(), &cfg)
	root.AddCommand(newSendCmd(&cfg), newReceiveCmd(&cfg), newSumCmd())
	return root
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	log, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return log, nil
}
