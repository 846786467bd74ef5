package discovery

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/andres-erbsen/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bjarneo/linkdrop/internal/config"
	"github.com/bjarneo/linkdrop/internal/core"
)

// New starts the backend cfg.Discovery names. self is this device's address
// on the link and may be invalid when unknown.
func New(ctx context.Context, cfg config.Config, role core.Role, self netip.Addr, clk clock.Clock, log *zap.Logger) (LinkDiscovery, error) {
	id := uuid.NewString()
	switch cfg.Discovery {
	case config.DiscoveryStatic, "":
		var peer netip.Addr
		if cfg.PeerAddr != "" {
			p, err := netip.ParseAddr(cfg.PeerAddr)
			if err != nil {
				return nil, fmt.Errorf("peer address: %w", err)
			}
			peer = p
		}
		return NewStatic(role, self, peer)
	case config.DiscoveryMulticast:
		group, err := netip.ParseAddrPort(cfg.MulticastAddr)
		if err != nil {
			return nil, fmt.Errorf("multicast address: %w", err)
		}
		return NewMulticast(MulticastConfig{
			Group:    group,
			ID:       id,
			Name:     cfg.DeviceName,
			Role:     role,
			Port:     cfg.Port,
			SelfAddr: self,
			Interval: cfg.AnnounceInterval,
			PeerTTL:  cfg.PeerTTL,
		}, clk, log)
	case config.DiscoveryMDNS:
		return NewMDNS(ctx, MDNSConfig{
			ID:       id,
			Name:     cfg.DeviceName,
			Role:     role,
			Port:     cfg.Port,
			SelfAddr: self,
		}, clk, log)
	}
	return nil, fmt.Errorf("unknown discovery backend %q", cfg.Discovery)
}
