package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/bjarneo/linkdrop/internal/config"
	"github.com/bjarneo/linkdrop/internal/core"
	"github.com/bjarneo/linkdrop/internal/filetransfer"
	"github.com/bjarneo/linkdrop/internal/progress"
	"github.com/bjarneo/linkdrop/internal/storage"
)

// consoleSender prints transfer progress on one rewritten line.
type consoleSender struct {
	core.NopSender
}

func (consoleSender) SendProgress(t core.Transfer, sample progress.Sample) {
	fmt.Fprintf(os.Stderr, "\r%s %3d%% %s of %s, %s   ", t.Name, sample.Percent(),
		progress.FormatSize(sample.BytesMoved), progress.FormatSize(sample.TotalBytes),
		progress.FormatRate(sample.RateBytesPerSec))
}

func (consoleSender) SendTransferComplete(done core.Completion) {
	fmt.Fprintf(os.Stderr, "\rsent %s (%s) to %s in %s, blake2b %s\n", done.Transfer.Name,
		progress.FormatSize(done.Transfer.Size), done.Location, done.Elapsed.Round(time.Millisecond), done.Digest)
}

func (consoleSender) SendTransferFailed(t core.Transfer, err error) {
	fmt.Fprintf(os.Stderr, "\rsending %s failed: %v\n", t.Name, err)
}

func newSendCmd(cfg *config.Config) *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "send --to <address> <file>...",
		Short: "Send files straight to a peer's listener without a session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := netip.ParseAddr(to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log, err := newLogger(*cfg)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			sender := &filetransfer.Sender{
				ConnectTimeout:   cfg.ConnectTimeout,
				ChunkSize:        cfg.ChunkSize,
				ProgressInterval: cfg.ProgressInterval,
				MaxFileSize:      cfg.MaxFileSize,
				Log:              log,
				Notify:           consoleSender{},
			}
			target := netip.AddrPortFrom(addr, uint16(cfg.Port))
			return sendAll(ctx, sender, storage.FileSource{}, target, args)
		},
	}
	cmd.Flags().StringVarP(&to, "to", "t", "", "IPv4 address of the receiving device")
	cmd.MarkFlagRequired("to")
	return cmd
}

// sendAll sends each file in turn and stops at the first failure.
func sendAll(ctx context.Context, sender *filetransfer.Sender, source storage.Source, target netip.AddrPort, refs []string) error {
	for _, ref := range refs {
		item, err := source.Resolve(ref)
		if err != nil {
			return err
		}
		_, err = sender.Send(ctx, target, item.Name, item.Size, item.Body)
		item.Body.Close()
		if err != nil {
			return fmt.Errorf("send %s: %w", ref, err)
		}
	}
	return nil
}
