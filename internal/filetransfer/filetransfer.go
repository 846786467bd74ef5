// Package filetransfer moves a single file over a single connection: the
// Sender pushes one file frame, the Receiver handles one accepted
// connection carrying either a handshake or a file.
package filetransfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/google/uuid"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"

	"github.com/bjarneo/linkdrop/internal/core"
	"github.com/bjarneo/linkdrop/internal/crypto"
	"github.com/bjarneo/linkdrop/internal/network"
	"github.com/bjarneo/linkdrop/internal/progress"
	"github.com/bjarneo/linkdrop/internal/protocol"
)

const (
	DefaultChunkSize      = 8 << 20
	DefaultConnectTimeout = 10 * time.Second
)

// Sender pushes files to a peer's listener, one connection per file.
type Sender struct {
	ConnectTimeout   time.Duration
	ChunkSize        int
	ProgressInterval time.Duration
	// MaxFileSize refuses larger sends before connecting. Zero means unlimited.
	MaxFileSize int64

	Clock  clock.Clock
	Log    *zap.Logger
	Scope  tally.Scope
	Notify core.MessageSender
}

// NewTransfer describes an outbound file before it is sent.
func NewTransfer(name string, size int64, peer string, now time.Time) core.Transfer {
	return core.Transfer{
		ID:        uuid.NewString(),
		Name:      name,
		Size:      size,
		Direction: core.Sending,
		Peer:      peer,
		StartedAt: now,
	}
}

// Send connects once to target and streams size bytes of body as name.
func (s *Sender) Send(ctx context.Context, target netip.AddrPort, name string, size int64, body io.Reader) (core.Completion, error) {
	t := NewTransfer(name, size, target.Addr().String(), s.clock().Now())
	return s.SendTransfer(ctx, target, t, body)
}

// SendTransfer is Send for a transfer whose identity the caller already
// assigned. Failures are reported through Notify and returned.
func (s *Sender) SendTransfer(ctx context.Context, target netip.AddrPort, t core.Transfer, body io.Reader) (core.Completion, error) {
	c := s.withDefaults()
	done, err := c.send(ctx, target, t, body)
	scope := c.Scope.Tagged(map[string]string{"direction": core.Sending.String()})
	if err != nil {
		scope.Counter("transfers_failed").Inc(1)
		c.Log.Warn("send failed",
			zap.String("transfer_id", t.ID),
			zap.String("peer", target.String()),
			zap.String("name", t.Name),
			zap.Error(err))
		c.Notify.SendTransferFailed(t, err)
		return core.Completion{}, err
	}
	scope.Counter("transfers_completed").Inc(1)
	scope.Timer("transfer_duration").Record(done.Elapsed)
	c.Log.Info("file sent",
		zap.String("transfer_id", t.ID),
		zap.String("peer", target.String()),
		zap.String("name", t.Name),
		zap.Int64("size", t.Size),
		zap.Duration("elapsed", done.Elapsed))
	c.Notify.SendTransferComplete(done)
	return done, nil
}

func (s *Sender) send(ctx context.Context, target netip.AddrPort, t core.Transfer, body io.Reader) (core.Completion, error) {
	if t.Size < 0 {
		return core.Completion{}, fmt.Errorf("%w: negative size %d", core.ErrTransferAborted, t.Size)
	}
	if s.MaxFileSize > 0 && t.Size > s.MaxFileSize {
		return core.Completion{}, fmt.Errorf("%w: %s exceeds the limit of %s",
			core.ErrFileTooLarge, progress.FormatSize(t.Size), progress.FormatSize(s.MaxFileSize))
	}

	conn, err := network.Dial(ctx, target, s.ConnectTimeout)
	if err != nil {
		return core.Completion{}, err
	}
	defer conn.Close()
	// Cancelling ctx unblocks a stalled write.
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	chunk := s.ChunkSize
	bw := bufio.NewWriterSize(conn, 64<<10)
	if err := protocol.WriteFileHeader(bw, t.Name, t.Size); err != nil {
		return core.Completion{}, fmt.Errorf("%w: write header: %w", core.ErrTransferAborted, err)
	}

	digest := crypto.NewDigest()
	tracker := progress.NewTracker(s.Clock, t.Size, s.ProgressInterval, func(sample progress.Sample) {
		s.Notify.SendProgress(t, sample)
	})
	sent := s.Scope.Counter("bytes_sent")

	buf := make([]byte, min(int64(chunk), max(t.Size, 1)))
	remaining := t.Size
	for remaining > 0 {
		n := int(min(int64(len(buf)), remaining))
		read, err := io.ReadFull(body, buf[:n])
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return core.Completion{}, fmt.Errorf("%w: source ended after %d of %d bytes",
					core.ErrTransferAborted, tracker.Moved()+int64(read), t.Size)
			}
			return core.Completion{}, fmt.Errorf("%w: read source: %w", core.ErrTransferAborted, err)
		}
		if _, err := bw.Write(buf[:read]); err != nil {
			return core.Completion{}, fmt.Errorf("%w: write: %w", core.ErrTransferAborted, err)
		}
		digest.Write(buf[:read])
		remaining -= int64(read)
		sent.Inc(int64(read))
		tracker.Advance(int64(read))
	}
	if err := bw.Flush(); err != nil {
		return core.Completion{}, fmt.Errorf("%w: flush: %w", core.ErrTransferAborted, err)
	}
	if err := conn.Close(); err != nil {
		return core.Completion{}, fmt.Errorf("%w: close: %w", core.ErrTransferAborted, err)
	}
	tracker.Finish()

	return core.Completion{
		Transfer: t,
		Location: target.String(),
		Digest:   digest.Sum(),
		Elapsed:  tracker.Elapsed(),
		Rate:     tracker.AverageRate(),
	}, nil
}

func (s *Sender) clock() clock.Clock {
	if s.Clock == nil {
		return clock.New()
	}
	return s.Clock
}

func (s *Sender) withDefaults() Sender {
	c := *s
	c.Clock = s.clock()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = progress.DefaultInterval
	}
	if c.Log == nil {
		c.Log = zap.NewNop()
	}
	if c.Scope == nil {
		c.Scope = tally.NoopScope
	}
	if c.Notify == nil {
		c.Notify = core.NopSender{}
	}
	return c
}

// SendHandshake makes one connection to target and announces self on it.
func SendHandshake(ctx context.Context, target netip.AddrPort, self netip.Addr, timeout time.Duration) error {
	conn, err := network.Dial(ctx, target, timeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	if timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if err := protocol.WriteHandshake(conn, self); err != nil {
		return fmt.Errorf("write handshake to %s: %w", target, err)
	}
	return conn.Close()
}
