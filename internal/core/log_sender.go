package core

import (
	"net/netip"

	"go.uber.org/zap"

	"github.com/bjarneo/linkdrop/internal/progress"
)

// LogSender reports operator messages through a zap logger. Used by the
// headless daemon, where the log is the operator channel.
type LogSender struct {
	Log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSender{Log: log}
}

func (s *LogSender) SendError(err error) {
	s.Log.Error("session error", zap.Error(err))
}

func (s *LogSender) SendWarning(warning string) {
	s.Log.Warn(warning)
}

func (s *LogSender) SendInfo(info string) {
	s.Log.Info(info)
}

func (s *LogSender) SendStateChanged(state State) {
	s.Log.Info("state changed", zap.Stringer("state", state))
}

func (s *LogSender) SendPeerAddress(addr netip.Addr) {
	s.Log.Info("peer address learned", zap.Stringer("peer", addr))
}

func (s *LogSender) SendPeers(peers []Peer) {
	names := make([]string, 0, len(peers))
	for _, p := range peers {
		names = append(names, p.Name+"@"+p.Address)
	}
	s.Log.Info("peer list changed", zap.Strings("peers", names))
}

func (s *LogSender) SendProgress(t Transfer, sample progress.Sample) {
	s.Log.Debug("transfer progress",
		zap.String("transfer_id", t.ID),
		zap.String("name", t.Name),
		zap.Stringer("direction", t.Direction),
		zap.Int64("bytes", sample.BytesMoved),
		zap.Int64("total", sample.TotalBytes),
		zap.String("rate", progress.FormatRate(sample.RateBytesPerSec)))
}

func (s *LogSender) SendTransferComplete(done Completion) {
	s.Log.Info("transfer complete",
		zap.String("transfer_id", done.Transfer.ID),
		zap.String("name", done.Transfer.Name),
		zap.Stringer("direction", done.Transfer.Direction),
		zap.String("size", progress.FormatSize(done.Transfer.Size)),
		zap.String("location", done.Location),
		zap.String("mime", done.MIMEType),
		zap.String("blake2b", done.Digest),
		zap.Duration("elapsed", done.Elapsed))
}

func (s *LogSender) SendTransferFailed(t Transfer, err error) {
	s.Log.Error("transfer failed",
		zap.String("transfer_id", t.ID),
		zap.String("name", t.Name),
		zap.Stringer("direction", t.Direction),
		zap.String("peer", t.Peer),
		zap.Error(err))
}
