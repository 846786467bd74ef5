package session

import (
	"context"
	"fmt"
	"net/netip"

	"go.uber.org/zap"

	"github.com/bjarneo/linkdrop/internal/filetransfer"
	"github.com/bjarneo/linkdrop/internal/network"
)

// exchangeHandshake tells the group owner this client's address so the host
// can send files back. It waits for the local listener first, because the
// host may answer with a file as soon as it learns the address.
func (m *Manager) exchangeHandshake(ctx context.Context, groupOwner netip.Addr) {
	deadline := m.clk.Now().Add(m.cfg.ReadyPollTimeout)
	for !m.ListenerReady() && m.clk.Now().Before(deadline) {
		if err := network.Sleep(ctx, m.clk, m.cfg.ReadyPollInterval); err != nil {
			return
		}
	}
	if !m.ListenerReady() {
		m.log.Warn("listener not ready before handshake, waiting a grace period", zap.Duration("grace", m.cfg.ReadyGrace))
		if err := network.Sleep(ctx, m.clk, m.cfg.ReadyGrace); err != nil {
			return
		}
	}

	self, err := m.advertiseAddr(groupOwner)
	if err != nil {
		m.log.Warn("no local address to announce", zap.Error(err))
		m.notify.SendWarning(fmt.Sprintf("could not determine this device's address, skipping handshake: %v", err))
		return
	}

	target := netip.AddrPortFrom(groupOwner, uint16(m.cfg.Port))
	attempts := max(m.cfg.HandshakeAttempts, 1)
	counter := m.scope.Counter("handshake_attempts")
	for attempt := 1; attempt <= attempts; attempt++ {
		counter.Inc(1)
		err := filetransfer.SendHandshake(ctx, target, self, m.cfg.HandshakeConnectTimeout)
		if err == nil {
			m.log.Info("handshake sent", zap.Stringer("host", target), zap.Stringer("self", self), zap.Int("attempt", attempt))
			m.notify.SendInfo(fmt.Sprintf("announced %s to the host", self))
			return
		}
		if ctx.Err() != nil {
			return
		}
		m.log.Warn("handshake failed",
			zap.Stringer("host", target),
			zap.Int("attempt", attempt),
			zap.Int("attempts", attempts),
			zap.Error(err))
		if attempt < attempts {
			if err := network.Sleep(ctx, m.clk, m.cfg.HandshakeRetryDelay); err != nil {
				return
			}
		}
	}
	m.notify.SendWarning(fmt.Sprintf("handshake with %s failed after %d attempts; the host can still learn this address from a file sent to it", target, attempts))
}

// advertiseAddr picks the address announced in the handshake: the
// configured override, else an interface address in the link subnet, else
// one in the group owner's /24.
func (m *Manager) advertiseAddr(groupOwner netip.Addr) (netip.Addr, error) {
	if m.cfg.AdvertiseAddr != "" {
		addr, err := netip.ParseAddr(m.cfg.AdvertiseAddr)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("advertise address: %w", err)
		}
		return addr, nil
	}
	if subnet := m.cfg.Subnet(); subnet.IsValid() {
		if addr, err := network.LocalIPv4(subnet); err == nil {
			return addr, nil
		}
	}
	return network.LocalIPv4(network.Slash24(groupOwner))
}

// LocalAddr is this device's address on the link as far as it is known
// before the link forms. It is invalid when unknown.
func (m *Manager) LocalAddr() netip.Addr {
	if addr, err := netip.ParseAddr(m.cfg.AdvertiseAddr); err == nil {
		return addr
	}
	if subnet := m.cfg.Subnet(); subnet.IsValid() {
		if addr, err := network.LocalIPv4(subnet); err == nil {
			return addr
		}
	}
	return netip.Addr{}
}
