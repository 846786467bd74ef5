package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/spf13/pflag"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"

	"github.com/bjarneo/linkdrop/internal/config"
	"github.com/bjarneo/linkdrop/internal/core"
	"github.com/bjarneo/linkdrop/internal/discovery"
	"github.com/bjarneo/linkdrop/internal/logging"
	"github.com/bjarneo/linkdrop/internal/network"
	"github.com/bjarneo/linkdrop/internal/session"
)

const defaultRejoinDelay = 2 * time.Second

// Daemon keeps one session open in a fixed role, opening a fresh one
// whenever the link is lost.
type Daemon struct {
	cfg         config.Config
	role        core.Role
	log         *zap.Logger
	clk         clock.Clock
	session     *session.Manager
	lost        chan struct{}
	rejoinDelay time.Duration

	mu   sync.Mutex
	link discovery.LinkDiscovery
}

// daemonSender logs every notification and flags session endings.
type daemonSender struct {
	*core.LogSender
	lost chan<- struct{}
}

func (s daemonSender) SendStateChanged(state core.State) {
	s.LogSender.SendStateChanged(state)
	if state == core.StateDisconnected {
		select {
		case s.lost <- struct{}{}:
		default:
		}
	}
}

// NewDaemon validates the role and builds an idle daemon.
func NewDaemon(cfg config.Config, log *zap.Logger, scope tally.Scope) (*Daemon, error) {
	role, ok := core.ParseRole(cfg.Role)
	if !ok {
		return nil, fmt.Errorf("role must be host or client, got %q", cfg.Role)
	}
	d := &Daemon{
		cfg:         cfg,
		role:        role,
		log:         log,
		clk:         clock.New(),
		lost:        make(chan struct{}, 1),
		rejoinDelay: defaultRejoinDelay,
	}
	d.session = session.New(session.Options{
		Config: cfg,
		Clock:  d.clk,
		Log:    log,
		Scope:  scope,
		Notify: daemonSender{LogSender: core.NewLogSender(log), lost: d.lost},
	})
	return d, nil
}

// Run opens the session and keeps it alive until ctx is done. Only a
// failure to open the first session is returned.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.open(ctx); err != nil {
		return err
	}
	defer d.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.lost:
		}
		d.log.Info("session ended, rejoining", zap.Duration("delay", d.rejoinDelay))
		d.closeLink()
		d.session.Reset()
		if err := network.Sleep(ctx, d.clk, d.rejoinDelay); err != nil {
			return nil
		}
		if err := d.open(ctx); err != nil {
			d.log.Error("rejoin failed", zap.Error(err))
			select {
			case d.lost <- struct{}{}:
			default:
			}
		}
	}
}

func (d *Daemon) open(ctx context.Context) error {
	link, err := d.session.Open(ctx, d.role)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.link = link
	d.mu.Unlock()
	d.log.Info("session open",
		zap.Stringer("role", d.role),
		zap.String("discovery", d.cfg.Discovery),
		zap.Int("port", d.cfg.Port))
	return nil
}

func (d *Daemon) closeLink() {
	d.mu.Lock()
	link := d.link
	d.link = nil
	d.mu.Unlock()
	if link != nil {
		link.Close()
	}
}

func (d *Daemon) shutdown() {
	d.closeLink()
	d.session.Disconnect()
	d.session.Wait()
	d.log.Info("daemon stopped")
}

// Link returns the discovery backend of the current session.
func (d *Daemon) Link() discovery.LinkDiscovery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.link
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg := config.Default()
	fs := pflag.NewFlagSet("linkdropd", pflag.ContinueOnError)
	config.BindFlags(fs, &cfg)
	rejoinDelay := fs.Duration("rejoin-delay", defaultRejoinDelay, "pause before opening a new session after the link is lost")
	metricsInterval := fs.Duration("metrics-interval", time.Minute, "interval between metric reports in the log")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "linkdropd:", err)
		return 2
	}

	log, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, "linkdropd:", err)
		return 1
	}
	defer log.Sync()

	scope, closer := logging.NewMetricsScope(log, "linkdrop", *metricsInterval)
	defer closer.Close()

	d, err := NewDaemon(cfg, log, scope)
	if err != nil {
		log.Error("invalid configuration", zap.Error(err))
		return 2
	}
	d.rejoinDelay = *rejoinDelay

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := d.Run(ctx); err != nil {
		log.Error("daemon failed", zap.Error(err))
		return 1
	}
	return 0
}
