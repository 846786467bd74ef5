package discovery

import (
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"github.com/bjarneo/linkdrop/internal/core"
)

const beaconVersion = 1

// Beacon types.
const (
	beaconAnnounce = "AN"
	beaconQuery    = "QR"
	beaconBye      = "BY"
)

type beacon struct {
	Type    string `json:"t"`
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role,omitempty"`
	Port    int    `json:"port,omitempty"`
	Version int    `json:"v"`
}

// MulticastConfig configures beacon discovery on an IPv4 multicast group.
type MulticastConfig struct {
	Group    netip.AddrPort
	ID       string
	Name     string
	Role     core.Role
	Port     int
	SelfAddr netip.Addr
	Interval time.Duration
	PeerTTL  time.Duration
}

// Multicast discovers peers by exchanging JSON beacons on a multicast
// group. Peers that stop announcing are dropped after PeerTTL.
type Multicast struct {
	cfg MulticastConfig
	clk clock.Clock
	log *zap.Logger

	conn  *net.UDPConn
	pc    *ipv4.PacketConn
	write func([]byte) error

	mu    sync.Mutex
	state *linkState

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewMulticast joins the group on every up multicast interface and starts
// announcing.
func NewMulticast(cfg MulticastConfig, clk clock.Clock, log *zap.Logger) (*Multicast, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(cfg.Group.Port())})
	if err != nil {
		return nil, fmt.Errorf("listen for beacons: %w", err)
	}
	pc := ipv4.NewPacketConn(conn)
	group := &net.UDPAddr{IP: net.IP(cfg.Group.Addr().AsSlice())}

	ifaces, err := net.Interfaces()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	joined := 0
	for i := range ifaces {
		iface := &ifaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := pc.JoinGroup(iface, group); err == nil {
			joined++
		}
	}
	if joined == 0 {
		conn.Close()
		return nil, fmt.Errorf("join %s: no usable interface", cfg.Group.Addr())
	}
	pc.SetMulticastTTL(1)
	pc.SetMulticastLoopback(true)

	m := newMulticast(cfg, clk, log)
	m.conn = conn
	m.pc = pc
	dst := &net.UDPAddr{IP: group.IP, Port: int(cfg.Group.Port())}
	m.write = func(b []byte) error {
		_, err := pc.WriteTo(b, nil, dst)
		return err
	}
	m.log.Info("multicast discovery started", zap.Stringer("group", cfg.Group), zap.Int("interfaces", joined))

	m.wg.Add(2)
	go m.readLoop()
	go m.announceLoop()
	return m, nil
}

func newMulticast(cfg MulticastConfig, clk clock.Clock, log *zap.Logger) *Multicast {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Multicast{
		cfg:    cfg,
		clk:    clk,
		log:    log,
		write:  func([]byte) error { return nil },
		state:  newLinkState(cfg.ID, cfg.Role, cfg.SelfAddr, cfg.PeerTTL),
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
}

func (m *Multicast) Events() <-chan Event {
	return m.events
}

func (m *Multicast) ConnectionInfo() (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.connection()
}

// Close says goodbye, leaves the group and closes the event channel.
func (m *Multicast) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.send(beaconBye)
		close(m.done)
		if m.conn != nil {
			err = m.conn.Close()
		}
		m.wg.Wait()
		close(m.events)
	})
	return err
}

func (m *Multicast) send(kind string) {
	b := beacon{Type: kind, ID: m.cfg.ID, Version: beaconVersion}
	if kind != beaconBye {
		b.Name = m.cfg.Name
		b.Role = m.cfg.Role.String()
		b.Port = m.cfg.Port
	}
	data, err := json.Marshal(b)
	if err != nil {
		return
	}
	if err := m.write(data); err != nil {
		m.log.Debug("beacon send failed", zap.String("type", kind), zap.Error(err))
	}
}

func (m *Multicast) readLoop() {
	defer m.wg.Done()
	buf := make([]byte, 2048)
	for {
		n, _, src, err := m.pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-m.done:
			default:
				m.log.Warn("beacon read failed", zap.Error(err))
			}
			return
		}
		udp, ok := src.(*net.UDPAddr)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(udp.IP)
		if !ok {
			continue
		}
		var b beacon
		if err := json.Unmarshal(buf[:n], &b); err != nil {
			continue
		}
		m.handle(b, addr.Unmap())
	}
}

func (m *Multicast) announceLoop() {
	defer m.wg.Done()
	ticker := m.clk.Ticker(m.cfg.Interval)
	defer ticker.Stop()
	m.send(beaconQuery)
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.send(beaconAnnounce)
			m.mu.Lock()
			events := m.state.expire(m.clk.Now())
			m.mu.Unlock()
			m.emit(events)
		}
	}
}

func (m *Multicast) handle(b beacon, src netip.Addr) {
	if b.ID == "" || b.ID == m.cfg.ID {
		return
	}
	var events []Event
	m.mu.Lock()
	switch b.Type {
	case beaconBye:
		events = m.state.forget(b.ID)
	case beaconAnnounce, beaconQuery:
		role, _ := core.ParseRole(b.Role)
		name := b.Name
		if name == "" {
			name = src.String()
		}
		addr := src.String()
		if b.Port > 0 {
			addr = net.JoinHostPort(addr, strconv.Itoa(b.Port))
		}
		events = m.state.observe(core.Peer{ID: b.ID, Name: name, Address: addr, Role: role}, src, m.clk.Now())
	}
	m.mu.Unlock()

	if b.Type == beaconQuery {
		m.send(beaconAnnounce)
	}
	m.emit(events)
}

func (m *Multicast) emit(events []Event) {
	for _, e := range events {
		select {
		case m.events <- e:
		case <-m.done:
			return
		}
	}
}
