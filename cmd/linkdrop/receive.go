package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bjarneo/linkdrop/internal/config"
	"github.com/bjarneo/linkdrop/internal/core"
	"github.com/bjarneo/linkdrop/internal/filetransfer"
	"github.com/bjarneo/linkdrop/internal/network"
	"github.com/bjarneo/linkdrop/internal/session"
)

func newReceiveCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "receive",
		Short: "Accept files on the transfer port until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			log, err := newLogger(*cfg)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			l, err := network.Listen(ctx, network.ListenConfig{
				Host:       cfg.ListenHost,
				Port:       cfg.Port,
				Attempts:   cfg.BindAttempts,
				RetryDelay: cfg.BindRetryDelay,
			}, nil, log, nil)
			if err != nil {
				return err
			}
			recv := &filetransfer.Receiver{
				Storage:          session.DefaultStorage(*cfg),
				HeaderTimeout:    cfg.HeaderTimeout,
				ChunkSize:        cfg.ChunkSize,
				ProgressInterval: cfg.ProgressInterval,
				Log:              log,
				Notify:           core.NewLogSender(log),
			}
			fmt.Fprintf(os.Stderr, "receiving on %s into %s, Ctrl+C to stop\n", l.Addr(), cfg.DownloadDir)

			go func() {
				<-ctx.Done()
				l.Close()
			}()
			if err := l.Serve(ctx, recv); err != nil {
				log.Error("listener stopped", zap.Error(err))
				return err
			}
			l.Wait()
			return nil
		},
	}
}
