package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"

	"github.com/bjarneo/linkdrop/internal/core"
)

// Handler serves one accepted connection. The listener closes conn after
// ServeConn returns.
type Handler interface {
	ServeConn(ctx context.Context, conn net.Conn)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, conn net.Conn)

func (f HandlerFunc) ServeConn(ctx context.Context, conn net.Conn) { f(ctx, conn) }

// ListenConfig describes where and how persistently to bind.
type ListenConfig struct {
	Host       string
	Port       int
	Attempts   int
	RetryDelay time.Duration
}

// Listener is the single live binding of a session.
type Listener struct {
	ln    net.Listener
	log   *zap.Logger
	scope tally.Scope

	ready     atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

type listenFunc func(ctx context.Context, network, address string) (net.Listener, error)

// Listen binds cfg.Host:cfg.Port, retrying up to cfg.Attempts times with
// cfg.RetryDelay between attempts so the OS can release a just-closed
// socket. Go enables SO_REUSEADDR on TCP listeners. Exhausting the
// attempts returns core.ErrBindFailure.
func Listen(ctx context.Context, cfg ListenConfig, clk clock.Clock, log *zap.Logger, scope tally.Scope) (*Listener, error) {
	var lc net.ListenConfig
	return listen(ctx, cfg, clk, log, scope, lc.Listen)
}

func listen(ctx context.Context, cfg ListenConfig, clk clock.Clock, log *zap.Logger, scope tally.Scope, bind listenFunc) (*Listener, error) {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if scope == nil {
		scope = tally.NoopScope
	}
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		scope.Counter("bind_attempts").Inc(1)
		ln, err := bind(ctx, "tcp", addr)
		if err == nil {
			l := &Listener{ln: ln, log: log, scope: scope}
			l.ready.Store(true)
			log.Info("listener ready", zap.String("addr", ln.Addr().String()), zap.Int("attempt", attempt))
			return l, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		log.Warn("port busy, retrying",
			zap.String("addr", addr),
			zap.Int("attempt", attempt),
			zap.Duration("delay", cfg.RetryDelay),
			zap.Error(err))
		if err := Sleep(ctx, clk, cfg.RetryDelay); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", core.ErrBindFailure, addr, err)
		}
	}
	log.Error("failed to bind port", zap.String("addr", addr), zap.Int("attempts", attempts), zap.Error(lastErr))
	return nil, fmt.Errorf("%w: %s after %d attempts: %w", core.ErrBindFailure, addr, attempts, lastErr)
}

// Serve accepts connections until the listener is closed, running h for
// each one on its own goroutine. A close through Close is a normal
// shutdown and returns nil; any other accept failure is returned.
func (l *Listener) Serve(ctx context.Context, h Handler) error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if l.closing.Load() {
				l.log.Debug("listener closed")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			l.ready.Store(false)
			l.log.Error("accept failed", zap.Error(err))
			return fmt.Errorf("accept: %w", err)
		}
		if l.closing.Load() {
			conn.Close()
			return nil
		}

		l.scope.Counter("connections_accepted").Inc(1)
		l.log.Debug("incoming connection", zap.String("remote", conn.RemoteAddr().String()))

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer conn.Close()
			h.ServeConn(ctx, conn)
		}()
	}
}

// Close stops accepting. In-flight handlers keep running.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.closing.Store(true)
		l.ready.Store(false)
		l.closeErr = l.ln.Close()
	})
	return l.closeErr
}

// Ready reports whether the binding is live and accepting.
func (l *Listener) Ready() bool {
	return l.ready.Load()
}

// Wait blocks until every dispatched handler has returned.
func (l *Listener) Wait() {
	l.wg.Wait()
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Sleep pauses for d on clk, returning early with ctx's error if it is cancelled.
func Sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clk.After(d):
		return nil
	}
}
