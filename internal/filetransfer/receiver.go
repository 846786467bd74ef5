package filetransfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
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
	"github.com/bjarneo/linkdrop/internal/storage"
)

const DefaultHeaderTimeout = 30 * time.Second

// Receiver handles accepted connections. Each connection carries either a
// handshake or a single file.
type Receiver struct {
	Storage          storage.Chain
	HeaderTimeout    time.Duration
	ChunkSize        int
	ProgressInterval time.Duration

	// OnHandshake is called with the address a client announced.
	OnHandshake func(addr netip.Addr)
	// OnFilePeer is called with the remote address of every inbound file.
	OnFilePeer func(addr netip.Addr)

	Clock  clock.Clock
	Log    *zap.Logger
	Scope  tally.Scope
	Notify core.MessageSender
}

// Result is what one handled connection carried.
type Result struct {
	Kind       protocol.Kind
	Handshake  netip.Addr
	Completion core.Completion
}

// ServeConn implements network.Handler. Outcomes are reported through Notify.
func (r *Receiver) ServeConn(ctx context.Context, conn net.Conn) {
	r.Handle(ctx, conn)
}

// Handle reads one frame from conn and acts on it. conn is closed on return.
func (r *Receiver) Handle(ctx context.Context, conn net.Conn) (Result, error) {
	c := r.withDefaults()
	defer conn.Close()
	remote := conn.RemoteAddr().String()

	if c.HeaderTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.HeaderTimeout))
	}
	br := protocol.NewReader(conn)
	frame, err := protocol.ReadFrame(br)
	if err != nil {
		c.Log.Warn("unreadable frame", zap.String("peer", remote), zap.Error(err))
		c.Notify.SendError(fmt.Errorf("connection from %s: %w", remote, err))
		return Result{}, err
	}
	conn.SetReadDeadline(time.Time{})

	if frame.Kind == protocol.KindHandshake {
		c.Scope.Counter("handshakes_received").Inc(1)
		c.Log.Info("handshake received", zap.String("peer", remote), zap.Stringer("client", frame.Address))
		if c.OnHandshake != nil {
			c.OnHandshake(frame.Address)
		}
		return Result{Kind: protocol.KindHandshake, Handshake: frame.Address}, nil
	}

	if addr, ok := network.RemoteIPv4(conn); ok && c.OnFilePeer != nil {
		c.OnFilePeer(addr)
	}
	t := core.Transfer{
		ID:        uuid.NewString(),
		Name:      frame.Name,
		Size:      frame.Size,
		Direction: core.Receiving,
		Peer:      remote,
		StartedAt: c.Clock.Now(),
	}
	c.Log.Info("receiving file",
		zap.String("transfer_id", t.ID),
		zap.String("peer", remote),
		zap.String("name", t.Name),
		zap.Int64("size", t.Size))

	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Unix(1, 0)) })
	defer stop()

	scope := c.Scope.Tagged(map[string]string{"direction": core.Receiving.String()})
	done, err := c.receive(br, t)
	if err != nil {
		scope.Counter("transfers_failed").Inc(1)
		c.Log.Warn("receive failed", zap.String("transfer_id", t.ID), zap.String("peer", remote), zap.Error(err))
		c.Notify.SendTransferFailed(t, err)
		return Result{Kind: protocol.KindFile}, err
	}
	scope.Counter("transfers_completed").Inc(1)
	scope.Timer("transfer_duration").Record(done.Elapsed)
	c.Log.Info("file received",
		zap.String("transfer_id", t.ID),
		zap.String("location", done.Location),
		zap.String("mime", done.MIMEType),
		zap.Int64("size", t.Size),
		zap.Duration("elapsed", done.Elapsed))
	c.Notify.SendTransferComplete(done)
	return Result{Kind: protocol.KindFile, Completion: done}, nil
}

// receive streams exactly t.Size bytes from src into storage.
func (r *Receiver) receive(src io.Reader, t core.Transfer) (core.Completion, error) {
	sink, idx, err := r.Storage.Open(0, t.Name, t.Size)
	if err != nil {
		return core.Completion{}, err
	}

	digest := crypto.NewDigest()
	tracker := progress.NewTracker(r.Clock, t.Size, r.ProgressInterval, func(sample progress.Sample) {
		r.Notify.SendProgress(t, sample)
	})
	received := r.Scope.Counter("bytes_received")

	buf := make([]byte, min(int64(r.ChunkSize), max(t.Size, 1)))
	remaining := t.Size
	for remaining > 0 {
		n := int(min(int64(len(buf)), remaining))
		read, rerr := src.Read(buf[:n])
		if read > 0 {
			p := buf[:read]
			for len(p) > 0 {
				w, werr := sink.Write(p)
				p = p[w:]
				if werr == nil && w == 0 {
					werr = io.ErrShortWrite
				}
				if werr != nil {
					sink, idx, err = r.fallback(sink, idx, t, werr)
					if err != nil {
						return core.Completion{}, err
					}
				}
			}
			digest.Write(buf[:read])
			remaining -= int64(read)
			received.Inc(int64(read))
			tracker.Advance(int64(read))
		}
		if remaining > 0 && rerr != nil {
			sink.Abort()
			if errors.Is(rerr, io.EOF) {
				return core.Completion{}, fmt.Errorf("%w: received %d of %d bytes",
					core.ErrIncompleteTransfer, t.Size-remaining, t.Size)
			}
			return core.Completion{}, fmt.Errorf("%w: received %d of %d bytes: %w",
				core.ErrIncompleteTransfer, t.Size-remaining, t.Size, rerr)
		}
	}

	if err := sink.Flush(); err != nil {
		sink.Abort()
		return core.Completion{}, fmt.Errorf("%w: flush %s: %w", core.ErrStorageFailure, sink.Location(), err)
	}
	if err := sink.Finalize(); err != nil {
		return core.Completion{}, fmt.Errorf("%w: finalize %s: %w", core.ErrStorageFailure, sink.Location(), err)
	}
	tracker.Finish()

	return core.Completion{
		Transfer: t,
		Location: sink.Location(),
		MIMEType: storage.MIMEType(t.Name),
		Digest:   digest.Sum(),
		Elapsed:  tracker.Elapsed(),
		Rate:     tracker.AverageRate(),
	}, nil
}

// fallback moves a transfer whose sink failed mid-stream onto the next
// strategy, carrying over the bytes the failed sink already committed.
func (r *Receiver) fallback(failed storage.Sink, idx int, t core.Transfer, cause error) (storage.Sink, int, error) {
	defer failed.Abort()
	replayer, ok := failed.(storage.Replayer)
	if !ok {
		return nil, -1, fmt.Errorf("%w: write %s: %w", core.ErrStorageFailure, failed.Location(), cause)
	}
	prefix, n, err := replayer.Replay()
	if err != nil {
		return nil, -1, fmt.Errorf("%w: write %s: %w (replay: %w)", core.ErrStorageFailure, failed.Location(), cause, err)
	}
	defer prefix.Close()

	next, nextIdx, err := r.Storage.Open(idx+1, t.Name, t.Size)
	if err != nil {
		return nil, -1, fmt.Errorf("write %s: %w: %w", failed.Location(), cause, err)
	}
	if _, err := io.CopyN(next, prefix, n); err != nil {
		next.Abort()
		return nil, -1, fmt.Errorf("%w: replay into %s: %w", core.ErrStorageFailure, next.Location(), err)
	}

	r.Log.Warn("storage failed mid-transfer, switched to fallback",
		zap.String("transfer_id", t.ID),
		zap.String("failed", failed.Location()),
		zap.String("fallback", next.Location()),
		zap.Int64("replayed", n),
		zap.Error(cause))
	r.Notify.SendWarning(fmt.Sprintf("storage failed for %s, continuing in %s", t.Name, next.Location()))
	return next, nextIdx, nil
}

func (r *Receiver) withDefaults() Receiver {
	c := *r
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = progress.DefaultInterval
	}
	if c.Clock == nil {
		c.Clock = clock.New()
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
