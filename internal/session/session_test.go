package session

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/bjarneo/linkdrop/internal/config"
	"github.com/bjarneo/linkdrop/internal/core"
	"github.com/bjarneo/linkdrop/internal/discovery"
	"github.com/bjarneo/linkdrop/internal/protocol"
)

type recorder struct {
	core.NopSender
	mu       sync.Mutex
	warnings []string
	errs     []error
	states   []core.State
	done     chan core.Completion
}

func newRecorder() *recorder {
	return &recorder{done: make(chan core.Completion, 8)}
}

func (r *recorder) SendWarning(w string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, w)
}

func (r *recorder) SendError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) SendStateChanged(s core.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) SendTransferComplete(c core.Completion) {
	r.done <- c
}

func (r *recorder) hasWarning(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func (r *recorder) warningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.warnings)
}

func (r *recorder) waitCompletion(t *testing.T, dir core.Direction) core.Completion {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-r.done:
			if c.Transfer.Direction == dir {
				return c
			}
		case <-deadline:
			t.Fatalf("timed out waiting for a %s completion", dir)
			return core.Completion{}
		}
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T, host string, port int) config.Config {
	c := config.Default()
	c.ListenHost = host
	c.Port = port
	c.BindRetryDelay = 10 * time.Millisecond
	c.ReadyPollInterval = 10 * time.Millisecond
	c.ReadyPollTimeout = 500 * time.Millisecond
	c.ReadyGrace = 10 * time.Millisecond
	c.HandshakeRetryDelay = 20 * time.Millisecond
	c.HandshakeConnectTimeout = time.Second
	c.ConnectTimeout = time.Second
	c.HeaderTimeout = 2 * time.Second
	c.ChunkSize = 64
	c.DownloadDir = t.TempDir()
	c.FallbackDir = ""
	return c
}

func newManager(t *testing.T, cfg config.Config) (*Manager, *recorder) {
	rec := newRecorder()
	m := New(Options{Config: cfg, Log: zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)), Notify: rec})
	t.Cleanup(func() {
		m.Disconnect()
		m.Wait()
	})
	return m, rec
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestEndToEndHostClient(t *testing.T) {
	ctx := context.Background()
	port := freePort(t)
	hostAddr := netip.MustParseAddr("127.0.0.1")
	clientAddr := netip.MustParseAddr("127.0.0.2")

	hostCfg := testConfig(t, hostAddr.String(), port)
	host, hostRec := newManager(t, hostCfg)
	clientCfg := testConfig(t, clientAddr.String(), port)
	clientCfg.AdvertiseAddr = clientAddr.String()
	client, clientRec := newManager(t, clientCfg)

	if err := host.SelectRole(core.RoleHost); err != nil {
		t.Fatalf("host SelectRole: %v", err)
	}
	if err := host.HandleEvent(ctx, discovery.ConnectionFormed(true, hostAddr)); err != nil {
		t.Fatalf("host link: %v", err)
	}
	if err := client.SelectRole(core.RoleClient); err != nil {
		t.Fatalf("client SelectRole: %v", err)
	}
	if err := client.HandleEvent(ctx, discovery.ConnectionFormed(false, hostAddr)); err != nil {
		t.Fatalf("client link: %v", err)
	}
	if host.State() != core.StateConnected || client.State() != core.StateConnected {
		t.Fatalf("expected both connected, got host %s client %s", host.State(), client.State())
	}
	if peer, _ := client.PeerAddress(); peer != hostAddr {
		t.Errorf("client should target the group owner, got %s", peer)
	}

	eventually(t, "host to learn the client address", func() bool {
		peer, ok := host.PeerAddress()
		return ok && peer == clientAddr
	})

	if _, err := host.SendFile(ctx, writeFile(t, "a.txt", "abc")); err != nil {
		t.Fatalf("host SendFile: %v", err)
	}
	got := clientRec.waitCompletion(t, core.Receiving)
	if got.Transfer.Name != "a.txt" || got.Transfer.Size != 3 || got.MIMEType != "text/plain" {
		t.Errorf("unexpected completion %+v", got)
	}
	data, err := os.ReadFile(filepath.Join(clientCfg.DownloadDir, "a.txt"))
	if err != nil || string(data) != "abc" {
		t.Fatalf("client copy: %q, %v", data, err)
	}

	if _, err := client.SendFile(ctx, writeFile(t, "reply.txt", "hello host")); err != nil {
		t.Fatalf("client SendFile: %v", err)
	}
	hostRec.waitCompletion(t, core.Receiving)
	data, err = os.ReadFile(filepath.Join(hostCfg.DownloadDir, "reply.txt"))
	if err != nil || string(data) != "hello host" {
		t.Fatalf("host copy: %q, %v", data, err)
	}

	if peer, _ := host.PeerAddress(); peer != clientAddr {
		t.Errorf("an inbound file must not replace a handshake address, got %s", peer)
	}
}

func startHost(t *testing.T) (*Manager, *recorder, string) {
	t.Helper()
	cfg := testConfig(t, "127.0.0.1", freePort(t))
	m, rec := newManager(t, cfg)
	if err := m.SelectRole(core.RoleHost); err != nil {
		t.Fatalf("SelectRole: %v", err)
	}
	if err := m.HandleEvent(context.Background(), discovery.ConnectionFormed(true, netip.MustParseAddr("127.0.0.1"))); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	return m, rec, net.JoinHostPort(cfg.ListenHost, strconv.Itoa(cfg.Port))
}

func TestRawHandshakeSetsPeerAddress(t *testing.T) {
	host, _, addr := startHost(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	protocol.WriteString(conn, "CLIENT_IP::10.0.0.2")
	conn.Close()

	eventually(t, "peer address 10.0.0.2", func() bool {
		peer, ok := host.PeerAddress()
		return ok && peer == netip.MustParseAddr("10.0.0.2")
	})
}

func TestHostLearnsPeerFromInboundFile(t *testing.T) {
	host, rec, addr := startHost(t)
	if _, err := host.SendFile(context.Background(), writeFile(t, "x.txt", "x")); !errors.Is(err, core.ErrNoPeer) {
		t.Fatalf("expected ErrNoPeer before any handshake, got %v", err)
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	protocol.WriteFileHeader(conn, "b.txt", 2)
	conn.Write([]byte("hi"))
	conn.Close()
	rec.waitCompletion(t, core.Receiving)

	peer, ok := host.PeerAddress()
	if !ok || peer != netip.MustParseAddr("127.0.0.1") {
		t.Fatalf("expected the file's source address, got %s (ok=%v)", peer, ok)
	}

	conn, err = net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	protocol.WriteString(conn, "CLIENT_IP::10.0.0.9")
	conn.Close()
	eventually(t, "handshake to override the learned address", func() bool {
		peer, _ := host.PeerAddress()
		return peer == netip.MustParseAddr("10.0.0.9")
	})
}

func TestStateTransitions(t *testing.T) {
	ctx := context.Background()
	m, rec := newManager(t, testConfig(t, "127.0.0.1", freePort(t)))

	if m.State() != core.StateIdle {
		t.Fatalf("expected IDLE, got %s", m.State())
	}
	if err := m.Start(ctx); !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("Start from IDLE: expected ErrInvalidTransition, got %v", err)
	}
	if err := m.SelectRole(core.RoleHost); err != nil {
		t.Fatalf("SelectRole: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.State() != core.StateListening || !m.ListenerReady() {
		t.Fatalf("expected a ready LISTENING session, got %s", m.State())
	}
	if err := m.Start(ctx); !errors.Is(err, core.ErrListenerActive) {
		t.Errorf("second Start: expected ErrListenerActive, got %v", err)
	}
	if err := m.SelectRole(core.RoleClient); !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("SelectRole while listening: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := m.SendFile(ctx, "whatever"); !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("SendFile while listening: expected ErrInvalidTransition, got %v", err)
	}

	if err := m.HandleEvent(ctx, discovery.ConnectionFormed(true, netip.MustParseAddr("127.0.0.1"))); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if err := m.HandleEvent(ctx, discovery.ConnectionFormed(true, netip.MustParseAddr("127.0.0.1"))); err != nil {
		t.Errorf("repeated formation should be a no-op, got %v", err)
	}

	if err := m.HandleEvent(ctx, discovery.ConnectionLost()); err != nil {
		t.Fatalf("HandleEvent lost: %v", err)
	}
	if m.State() != core.StateDisconnected || m.ListenerReady() {
		t.Fatalf("expected DISCONNECTED without a listener, got %s", m.State())
	}
	if _, ok := m.PeerAddress(); ok {
		t.Error("teardown must clear the peer address")
	}
	if _, err := m.SendFile(ctx, "whatever"); !errors.Is(err, core.ErrSessionClosed) {
		t.Errorf("SendFile after teardown: expected ErrSessionClosed, got %v", err)
	}

	m.Reset()
	if m.State() != core.StateIdle || m.Role() != core.RoleNone {
		t.Fatalf("expected IDLE after reset, got %s / %s", m.State(), m.Role())
	}
	if err := m.SelectRole(core.RoleClient); err != nil {
		t.Fatalf("SelectRole after reset: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("rebinding the same port after reset: %v", err)
	}

	want := []core.State{
		core.StateRoleSelected, core.StateListening, core.StateConnected, core.StateDisconnected,
		core.StateIdle, core.StateRoleSelected, core.StateListening,
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.states) != len(want) {
		t.Fatalf("expected states %v, got %v", want, rec.states)
	}
	for i := range want {
		if rec.states[i] != want[i] {
			t.Errorf("state %d: expected %s, got %s", i, want[i], rec.states[i])
		}
	}
}

func TestBindFailureEndsSession(t *testing.T) {
	occupier, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer occupier.Close()

	m, rec := newManager(t, testConfig(t, "127.0.0.1", occupier.Addr().(*net.TCPAddr).Port))
	m.SelectRole(core.RoleHost)
	err = m.Start(context.Background())
	if !errors.Is(err, core.ErrBindFailure) {
		t.Fatalf("expected ErrBindFailure, got %v", err)
	}
	if m.State() != core.StateDisconnected {
		t.Errorf("expected DISCONNECTED after a bind failure, got %s", m.State())
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.errs) != 1 {
		t.Errorf("expected the bind failure to be reported once, got %v", rec.errs)
	}
}

func TestLinkOverridesSelectedRole(t *testing.T) {
	m, rec := newManager(t, testConfig(t, "127.0.0.1", freePort(t)))
	m.SelectRole(core.RoleClient)
	if err := m.HandleEvent(context.Background(), discovery.ConnectionFormed(true, netip.MustParseAddr("127.0.0.1"))); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if m.Role() != core.RoleHost {
		t.Errorf("expected the link's role to win, got %s", m.Role())
	}
	if rec.warningCount() != 1 {
		t.Errorf("expected a role mismatch warning")
	}
	if _, ok := m.PeerAddress(); ok {
		t.Error("a host has no peer address until the client announces itself")
	}
}

func TestHandshakeExhaustionWarns(t *testing.T) {
	port := freePort(t)
	cfg := testConfig(t, "127.0.0.2", port)
	cfg.AdvertiseAddr = "127.0.0.2"
	m, rec := newManager(t, cfg)
	m.SelectRole(core.RoleClient)

	// Nothing listens on 127.0.0.1 at this port.
	if err := m.HandleEvent(context.Background(), discovery.ConnectionFormed(false, netip.MustParseAddr("127.0.0.1"))); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	eventually(t, "handshake exhaustion warning", func() bool { return rec.warningCount() == 1 })
	if m.State() != core.StateConnected {
		t.Errorf("handshake failure must not end the session, got %s", m.State())
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !strings.Contains(rec.warnings[0], "5 attempts") {
		t.Errorf("unexpected warning %q", rec.warnings[0])
	}
}

func TestRunAppliesDiscoveryEvents(t *testing.T) {
	m, _ := newManager(t, testConfig(t, "127.0.0.1", freePort(t)))
	link, err := discovery.NewStatic(core.RoleHost, netip.MustParseAddr("127.0.0.1"), netip.Addr{})
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, link.Events()) }()

	eventually(t, "link formation", func() bool { return m.State() == core.StateConnected })
	if m.Role() != core.RoleHost {
		t.Errorf("expected the link to select the host role, got %s", m.Role())
	}

	link.Drop()
	eventually(t, "link loss", func() bool { return m.State() == core.StateDisconnected })

	link.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v after the events channel closed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestOpenStaticHostConnects(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1", freePort(t))
	cfg.Discovery = config.DiscoveryStatic
	cfg.AdvertiseAddr = "127.0.0.1"
	m, _ := newManager(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	link, err := m.Open(ctx, core.RoleHost)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer link.Close()

	// The static link is already formed, so Open applies it before returning.
	if got := m.State(); got != core.StateConnected {
		t.Fatalf("state after Open = %s, want CONNECTED", got)
	}
	if !m.ListenerReady() {
		t.Errorf("listener not ready after Open")
	}
}

func TestOpenStaticClientWithoutPeerFails(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1", freePort(t))
	cfg.Discovery = config.DiscoveryStatic
	cfg.PeerAddr = ""
	m, _ := newManager(t, cfg)

	if _, err := m.Open(context.Background(), core.RoleClient); err == nil {
		t.Fatalf("Open succeeded without a group owner address")
	}
	if got := m.State(); got != core.StateDisconnected {
		t.Errorf("state = %s, want DISCONNECTED", got)
	}
}

func TestLocalAddrPrefersAdvertised(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1", freePort(t))
	cfg.AdvertiseAddr = "192.168.49.7"
	m, _ := newManager(t, cfg)
	if got := m.LocalAddr(); got != netip.MustParseAddr("192.168.49.7") {
		t.Errorf("LocalAddr = %s, want 192.168.49.7", got)
	}
}

func TestHandshakeOnEndedSessionIsDropped(t *testing.T) {
	host, _, addr := startHost(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	eventually(t, "connection dispatched", func() bool { return host.ActiveTransfers() == 1 })

	if err := host.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	host.Reset()
	if err := host.SelectRole(core.RoleHost); err != nil {
		t.Fatalf("SelectRole: %v", err)
	}

	protocol.WriteString(conn, "CLIENT_IP::10.9.9.9")
	conn.Close()
	eventually(t, "old connection handled", func() bool { return host.ActiveTransfers() == 0 })

	if peer, ok := host.PeerAddress(); ok {
		t.Fatalf("handshake from an ended session set the peer address to %s", peer)
	}
}

func TestClientIgnoresInboundHandshake(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1", freePort(t))
	m, rec := newManager(t, cfg)
	groupOwner := netip.MustParseAddr("127.0.0.3")

	if err := m.SelectRole(core.RoleClient); err != nil {
		t.Fatalf("SelectRole: %v", err)
	}
	if err := m.HandleEvent(context.Background(), discovery.ConnectionFormed(false, groupOwner)); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	conn, err := net.Dial("tcp", net.JoinHostPort(cfg.ListenHost, strconv.Itoa(cfg.Port)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	protocol.WriteString(conn, "CLIENT_IP::10.6.6.6")
	conn.Close()

	eventually(t, "ignored handshake warning", func() bool { return rec.hasWarning("ignored handshake from 10.6.6.6") })
	if peer, ok := m.PeerAddress(); !ok || peer != groupOwner {
		t.Errorf("peer address = %s (set %t), want group owner %s", peer, ok, groupOwner)
	}
}
