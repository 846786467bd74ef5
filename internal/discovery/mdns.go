package discovery

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"sync"

	"github.com/andres-erbsen/clock"
	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/bjarneo/linkdrop/internal/core"
)

const (
	DefaultService = "_linkdrop._tcp"
	DefaultDomain  = "local."
)

// MDNSConfig configures DNS-SD discovery.
type MDNSConfig struct {
	Service  string
	Domain   string
	ID       string
	Name     string
	Role     core.Role
	Port     int
	SelfAddr netip.Addr
}

// MDNS advertises this device as a DNS-SD service and browses for the
// other side of the link. zeroconf does not report departures reliably, so
// a link is only lost when a goodbye record arrives or on Close.
type MDNS struct {
	cfg    MDNSConfig
	clk    clock.Clock
	log    *zap.Logger
	server *zeroconf.Server
	cancel context.CancelFunc

	mu    sync.Mutex
	state *linkState

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewMDNS registers the service and starts browsing until Close.
func NewMDNS(ctx context.Context, cfg MDNSConfig, clk clock.Clock, log *zap.Logger) (*MDNS, error) {
	m := newMDNS(cfg, clk, log)

	txt := []string{
		"id=" + m.cfg.ID,
		"name=" + m.cfg.Name,
		"role=" + m.cfg.Role.String(),
	}
	server, err := zeroconf.Register(m.cfg.Name, m.cfg.Service, m.cfg.Domain, m.cfg.Port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("advertise %s: %w", m.cfg.Service, err)
	}
	m.server = server

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		server.Shutdown()
		return nil, fmt.Errorf("create resolver: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	entries := make(chan *zeroconf.ServiceEntry, 32)
	m.wg.Add(1)
	go m.consume(ctx, entries)
	if err := resolver.Browse(ctx, m.cfg.Service, m.cfg.Domain, entries); err != nil {
		m.Close()
		return nil, fmt.Errorf("browse %s: %w", m.cfg.Service, err)
	}
	m.log.Info("mdns discovery started", zap.String("service", m.cfg.Service), zap.String("instance", m.cfg.Name))
	return m, nil
}

func newMDNS(cfg MDNSConfig, clk clock.Clock, log *zap.Logger) *MDNS {
	if cfg.Service == "" {
		cfg.Service = DefaultService
	}
	if cfg.Domain == "" {
		cfg.Domain = DefaultDomain
	}
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MDNS{
		cfg:    cfg,
		clk:    clk,
		log:    log,
		cancel: func() {},
		state:  newLinkState(cfg.ID, cfg.Role, cfg.SelfAddr, 0),
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
}

func (m *MDNS) Events() <-chan Event {
	return m.events
}

func (m *MDNS) ConnectionInfo() (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.connection()
}

func (m *MDNS) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		m.cancel()
		if m.server != nil {
			m.server.Shutdown()
		}
		m.wg.Wait()
		close(m.events)
	})
	return nil
}

func (m *MDNS) consume(ctx context.Context, entries <-chan *zeroconf.ServiceEntry) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			m.handle(entry)
		}
	}
}

func (m *MDNS) handle(entry *zeroconf.ServiceEntry) {
	peer, addr, ok := peerFromEntry(entry)
	if !ok {
		return
	}
	m.mu.Lock()
	var events []Event
	if entry.TTL == 0 {
		events = m.state.forget(peer.ID)
	} else {
		events = m.state.observe(peer, addr, m.clk.Now())
	}
	m.mu.Unlock()

	for _, e := range events {
		select {
		case m.events <- e:
		case <-m.done:
			return
		}
	}
}

// peerFromEntry reads the peer a service entry describes. Entries without
// an IPv4 address are ignored, the transfer protocol is IPv4 only.
func peerFromEntry(entry *zeroconf.ServiceEntry) (core.Peer, netip.Addr, bool) {
	if entry == nil || len(entry.AddrIPv4) == 0 {
		return core.Peer{}, netip.Addr{}, false
	}
	addr, ok := netip.AddrFromSlice(entry.AddrIPv4[0])
	if !ok {
		return core.Peer{}, netip.Addr{}, false
	}
	addr = addr.Unmap()

	p := core.Peer{Name: entry.Instance}
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		switch key {
		case "id":
			p.ID = value
		case "name":
			p.Name = value
		case "role":
			p.Role, _ = core.ParseRole(value)
		}
	}
	if p.ID == "" {
		p.ID = entry.Instance
	}
	p.Address = addr.String()
	if entry.Port > 0 {
		p.Address = netip.AddrPortFrom(addr, uint16(entry.Port)).String()
	}
	return p, addr, true
}
