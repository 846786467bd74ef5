// Package session runs one transfer session: it owns the listener, tracks
// the peer's address and drives the lifecycle from role selection through
// link formation to teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"

	"github.com/bjarneo/linkdrop/internal/config"
	"github.com/bjarneo/linkdrop/internal/core"
	"github.com/bjarneo/linkdrop/internal/discovery"
	"github.com/bjarneo/linkdrop/internal/filetransfer"
	"github.com/bjarneo/linkdrop/internal/network"
	"github.com/bjarneo/linkdrop/internal/storage"
)

// Options wires a Manager. Only Config is required.
type Options struct {
	Config config.Config
	Clock  clock.Clock
	Log    *zap.Logger
	Scope  tally.Scope
	Notify core.MessageSender
	// Storage defaults to DownloadDir followed by FallbackDir.
	Storage storage.Chain
	// Source defaults to local files.
	Source storage.Source
}

// Manager is the session state machine. All methods are safe for
// concurrent use; none of them holds the lock across network I/O or sleeps.
type Manager struct {
	cfg     config.Config
	clk     clock.Clock
	log     *zap.Logger
	scope   tally.Scope
	notify  core.MessageSender
	storage storage.Chain
	source  storage.Source

	mu       sync.Mutex
	state    core.State
	role     core.Role
	starting bool
	listener *network.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	peer     atomic.Pointer[netip.Addr]
	active   atomic.Int64
	sends    sync.WaitGroup
	handlers sync.WaitGroup
	bg       sync.WaitGroup
}

// New returns an idle session.
func New(opts Options) *Manager {
	m := &Manager{
		cfg:     opts.Config,
		clk:     opts.Clock,
		log:     opts.Log,
		scope:   opts.Scope,
		notify:  opts.Notify,
		storage: opts.Storage,
		source:  opts.Source,
		state:   core.StateIdle,
	}
	if m.clk == nil {
		m.clk = clock.New()
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.scope == nil {
		m.scope = tally.NoopScope
	}
	if m.notify == nil {
		m.notify = core.NopSender{}
	}
	if m.storage == nil {
		m.storage = DefaultStorage(m.cfg)
	}
	if m.source == nil {
		m.source = storage.FileSource{}
	}
	return m
}

// DefaultStorage persists into the download directory and falls back to the
// fallback directory.
func DefaultStorage(cfg config.Config) storage.Chain {
	var chain storage.Chain
	if cfg.DownloadDir != "" {
		chain = append(chain, storage.NewDir("downloads", cfg.DownloadDir))
	}
	if cfg.FallbackDir != "" && cfg.FallbackDir != cfg.DownloadDir {
		chain = append(chain, storage.NewDir("fallback", cfg.FallbackDir))
	}
	return chain
}

// SelectRole picks the device's role for a new session.
func (m *Manager) SelectRole(role core.Role) error {
	if role != core.RoleHost && role != core.RoleClient {
		return fmt.Errorf("%w: role %s", core.ErrInvalidTransition, role)
	}
	m.mu.Lock()
	if m.state != core.StateIdle && m.state != core.StateDisconnected {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot select a role while %s", core.ErrInvalidTransition, state)
	}
	m.role = role
	m.peer.Store(nil)
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.state = core.StateRoleSelected
	m.mu.Unlock()

	m.log.Info("role selected", zap.Stringer("role", role))
	m.notify.SendStateChanged(core.StateRoleSelected)
	return nil
}

// Start binds the listener and begins accepting connections. A bind
// failure ends the session.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	switch {
	case m.starting || m.listener != nil:
		m.mu.Unlock()
		return core.ErrListenerActive
	case m.state == core.StateDisconnected:
		m.mu.Unlock()
		return core.ErrSessionClosed
	case m.state != core.StateRoleSelected:
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot start while %s", core.ErrInvalidTransition, state)
	}
	m.starting = true
	sessCtx := m.ctx
	m.mu.Unlock()

	l, err := network.Listen(ctx, network.ListenConfig{
		Host:       m.cfg.ListenHost,
		Port:       m.cfg.Port,
		Attempts:   m.cfg.BindAttempts,
		RetryDelay: m.cfg.BindRetryDelay,
	}, m.clk, m.log, m.scope)

	m.mu.Lock()
	m.starting = false
	if err != nil {
		m.mu.Unlock()
		m.teardown("listener could not bind")
		m.notify.SendError(err)
		return err
	}
	if m.state != core.StateRoleSelected || m.ctx != sessCtx {
		m.mu.Unlock()
		l.Close()
		return core.ErrSessionClosed
	}
	m.listener = l
	m.state = core.StateListening
	m.mu.Unlock()

	go func() {
		if err := l.Serve(context.WithoutCancel(sessCtx), m.handler(sessCtx)); err != nil {
			m.listenerFailed(l, err)
		}
	}()
	m.notify.SendStateChanged(core.StateListening)
	return nil
}

// handler serves connections accepted for the session whose context is
// sessCtx. Peer addresses they carry are dropped once that session ends.
func (m *Manager) handler(sessCtx context.Context) network.Handler {
	recv := &filetransfer.Receiver{
		Storage:          m.storage,
		HeaderTimeout:    m.cfg.HeaderTimeout,
		ChunkSize:        m.cfg.ChunkSize,
		ProgressInterval: m.cfg.ProgressInterval,
		OnHandshake:      func(addr netip.Addr) { m.onHandshake(sessCtx, addr) },
		OnFilePeer:       func(addr netip.Addr) { m.onFilePeer(sessCtx, addr) },
		Clock:            m.clk,
		Log:              m.log,
		Scope:            m.scope,
		Notify:           m.notify,
	}
	return network.HandlerFunc(func(ctx context.Context, conn net.Conn) {
		m.handlers.Add(1)
		defer m.handlers.Done()
		m.active.Add(1)
		defer m.active.Add(-1)
		recv.ServeConn(ctx, conn)
	})
}

// hostSession reports whether sessCtx is still the live session and this
// device hosts it. Callers hold m.mu.
func (m *Manager) hostSession(sessCtx context.Context) (live, host bool) {
	live = sessCtx != nil && m.ctx == sessCtx && sessCtx.Err() == nil
	return live, m.role == core.RoleHost
}

// onHandshake records the address a client announced. Only a host takes
// it: a client's peer is the group owner the link reported.
func (m *Manager) onHandshake(sessCtx context.Context, addr netip.Addr) {
	m.mu.Lock()
	live, host := m.hostSession(sessCtx)
	if live && host {
		m.peer.Store(&addr)
	}
	m.mu.Unlock()

	switch {
	case !live:
		m.log.Info("handshake for an ended session ignored", zap.Stringer("peer", addr))
	case !host:
		m.log.Warn("handshake received in client role ignored", zap.Stringer("peer", addr))
		m.notify.SendWarning(fmt.Sprintf("ignored handshake from %s: this device is not the host", addr))
	default:
		m.log.Info("peer address from handshake", zap.Stringer("peer", addr))
		m.notify.SendPeerAddress(addr)
	}
}

// onFilePeer lets a host that never received a handshake learn the
// client's address from its first inbound file.
func (m *Manager) onFilePeer(sessCtx context.Context, addr netip.Addr) {
	m.mu.Lock()
	live, host := m.hostSession(sessCtx)
	learned := live && host && m.peer.CompareAndSwap(nil, &addr)
	m.mu.Unlock()
	if learned {
		m.log.Info("peer address from inbound file", zap.Stringer("peer", addr))
		m.notify.SendPeerAddress(addr)
	}
}

func (m *Manager) listenerFailed(l *network.Listener, err error) {
	m.mu.Lock()
	current := m.listener == l
	m.mu.Unlock()
	if !current {
		return
	}
	m.teardown("listener failed")
	m.notify.SendError(fmt.Errorf("listener stopped: %w", err))
}

// HandleEvent applies one link event.
func (m *Manager) HandleEvent(ctx context.Context, ev discovery.Event) error {
	switch ev.Kind {
	case discovery.EventPeerListChanged:
		m.notify.SendPeers(ev.Peers)
		return nil
	case discovery.EventConnectionFormed:
		return m.connectionFormed(ctx, ev.IsGroupOwner, ev.GroupOwner)
	case discovery.EventConnectionLost:
		m.log.Info("link lost")
		m.teardown("link lost")
		return nil
	}
	return fmt.Errorf("unknown link event %d", ev.Kind)
}

func (m *Manager) connectionFormed(ctx context.Context, isGroupOwner bool, groupOwner netip.Addr) error {
	linkRole := core.RoleClient
	if isGroupOwner {
		linkRole = core.RoleHost
	}

	m.mu.Lock()
	state, role := m.state, m.role
	m.mu.Unlock()
	switch state {
	case core.StateConnected:
		return nil
	case core.StateDisconnected:
		m.notify.SendWarning("link formed again; reset the session to use it")
		return core.ErrSessionClosed
	case core.StateIdle:
		if err := m.SelectRole(linkRole); err != nil {
			return err
		}
		role = linkRole
	}
	if role != linkRole {
		m.notify.SendWarning(fmt.Sprintf("selected role %s but the link made this device the %s; following the link", role, linkRole))
		m.mu.Lock()
		m.role = linkRole
		m.mu.Unlock()
	}
	if linkRole == core.RoleClient && !groupOwner.IsValid() {
		return fmt.Errorf("%w: link formed without a group owner address", core.ErrNoPeer)
	}

	if !m.ListenerReady() {
		if err := m.Start(ctx); err != nil && !errors.Is(err, core.ErrListenerActive) {
			return err
		}
	}

	m.mu.Lock()
	if m.state == core.StateConnected {
		m.mu.Unlock()
		return nil
	}
	if m.state != core.StateListening {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: link formed while %s", core.ErrInvalidTransition, state)
	}
	m.state = core.StateConnected
	sessCtx := m.ctx
	if linkRole == core.RoleClient {
		m.peer.Store(&groupOwner)
	}
	m.mu.Unlock()

	m.log.Info("link formed", zap.Stringer("role", linkRole), zap.Stringer("group_owner", groupOwner))
	m.notify.SendStateChanged(core.StateConnected)

	if linkRole == core.RoleClient {
		m.notify.SendPeerAddress(groupOwner)
		m.bg.Add(1)
		go func() {
			defer m.bg.Done()
			m.exchangeHandshake(sessCtx, groupOwner)
		}()
	}
	return nil
}

// Run applies events until ctx is done or the channel is closed.
func (m *Manager) Run(ctx context.Context, events <-chan discovery.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := m.HandleEvent(ctx, ev); err != nil {
				if !errors.Is(err, core.ErrBindFailure) && !errors.Is(err, core.ErrSessionClosed) {
					m.notify.SendError(err)
				}
				m.log.Warn("link event not applied", zap.Stringer("event", ev.Kind), zap.Error(err))
			}
		}
	}
}

// Open selects role, binds the listener and starts the configured discovery
// backend. Link events are applied in the background until ctx is done or
// the returned backend is closed.
func (m *Manager) Open(ctx context.Context, role core.Role) (discovery.LinkDiscovery, error) {
	if err := m.SelectRole(role); err != nil {
		return nil, err
	}
	if err := m.Start(ctx); err != nil {
		return nil, err
	}
	link, err := discovery.New(ctx, m.cfg, role, m.LocalAddr(), m.clk, m.log)
	if err != nil {
		m.teardown("discovery unavailable")
		return nil, fmt.Errorf("start %s discovery: %w", m.cfg.Discovery, err)
	}
	// A link formed before the backend started is applied now.
	if info, ok := link.ConnectionInfo(); ok {
		if err := m.HandleEvent(ctx, discovery.ConnectionFormed(info.IsGroupOwner, info.GroupOwner)); err != nil {
			link.Close()
			m.teardown("link unusable")
			return nil, err
		}
	}
	go m.Run(ctx, link.Events())
	return link, nil
}

// SendFile starts sending the file ref to the peer and returns the
// transfer ID without waiting for the transfer.
func (m *Manager) SendFile(ctx context.Context, ref string) (string, error) {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	switch state {
	case core.StateConnected:
	case core.StateDisconnected:
		return "", core.ErrSessionClosed
	default:
		return "", fmt.Errorf("%w: cannot send while %s", core.ErrInvalidTransition, state)
	}
	peer := m.peer.Load()
	if peer == nil {
		return "", fmt.Errorf("%w: the client must handshake or send a file first", core.ErrNoPeer)
	}

	item, err := m.source.Resolve(ref)
	if err != nil {
		return "", err
	}
	target := netip.AddrPortFrom(*peer, uint16(m.cfg.Port))
	t := filetransfer.NewTransfer(item.Name, item.Size, target.String(), m.clk.Now())
	sender := &filetransfer.Sender{
		ConnectTimeout:   m.cfg.ConnectTimeout,
		ChunkSize:        m.cfg.ChunkSize,
		ProgressInterval: m.cfg.ProgressInterval,
		MaxFileSize:      m.cfg.MaxFileSize,
		Clock:            m.clk,
		Log:              m.log,
		Scope:            m.scope,
		Notify:           m.notify,
	}

	m.log.Info("sending file", zap.String("transfer_id", t.ID), zap.String("name", t.Name), zap.String("peer", target.String()))
	m.sends.Add(1)
	m.active.Add(1)
	go func() {
		defer m.sends.Done()
		defer m.active.Add(-1)
		defer item.Body.Close()
		sender.SendTransfer(context.WithoutCancel(ctx), target, t, item.Body)
	}()
	return t.ID, nil
}

// Disconnect tears the session down. In-flight transfers are left to
// finish or fail on their own.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	if state == core.StateIdle {
		return fmt.Errorf("%w: nothing to disconnect", core.ErrInvalidTransition)
	}
	m.teardown("disconnected by operator")
	return nil
}

func (m *Manager) teardown(reason string) {
	m.mu.Lock()
	if m.state == core.StateDisconnected || m.state == core.StateIdle {
		m.mu.Unlock()
		return
	}
	l := m.listener
	m.listener = nil
	if m.cancel != nil {
		m.cancel()
	}
	m.peer.Store(nil)
	m.state = core.StateDisconnected
	m.mu.Unlock()

	if l != nil {
		l.Close()
	}
	m.log.Info("session disconnected", zap.String("reason", reason))
	m.notify.SendStateChanged(core.StateDisconnected)
}

// Reset tears down any live session and returns to Idle.
func (m *Manager) Reset() {
	m.teardown("reset")
	m.mu.Lock()
	m.state = core.StateIdle
	m.role = core.RoleNone
	m.ctx, m.cancel = nil, nil
	m.mu.Unlock()
	m.peer.Store(nil)
	m.notify.SendStateChanged(core.StateIdle)
}

func (m *Manager) State() core.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Role() core.Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role
}

// PeerAddress returns the address files are sent to, once known.
func (m *Manager) PeerAddress() (netip.Addr, bool) {
	if p := m.peer.Load(); p != nil {
		return *p, true
	}
	return netip.Addr{}, false
}

func (m *Manager) ListenerReady() bool {
	m.mu.Lock()
	l := m.listener
	m.mu.Unlock()
	return l != nil && l.Ready()
}

// ActiveTransfers counts sends in flight and inbound connections being handled.
func (m *Manager) ActiveTransfers() int {
	return int(m.active.Load())
}

// Wait blocks until sends, inbound handlers and the handshake exchange
// have finished. The accept loop is not waited for.
func (m *Manager) Wait() {
	m.sends.Wait()
	m.bg.Wait()
	m.handlers.Wait()
}
