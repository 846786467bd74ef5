package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/bjarneo/linkdrop/internal/core"
)

// Dial makes one connection attempt to target. Failures wrap
// core.ErrConnectFailure; timeouts additionally wrap core.ErrConnectTimeout.
func Dial(ctx context.Context, target netip.AddrPort, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", target.String())
	if err == nil {
		return conn, nil
	}
	var ne net.Error
	if (errors.As(err, &ne) && ne.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %w: %s: %w", core.ErrConnectFailure, core.ErrConnectTimeout, target, err)
	}
	return nil, fmt.Errorf("%w: %s: %w", core.ErrConnectFailure, target, err)
}

// RemoteIPv4 returns the peer's IPv4 address for TCP connections.
func RemoteIPv4(conn net.Conn) (netip.Addr, bool) {
	tcp, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return netip.Addr{}, false
	}
	addr, ok := netip.AddrFromSlice(tcp.IP)
	if !ok {
		return netip.Addr{}, false
	}
	addr = addr.Unmap()
	return addr, addr.Is4()
}
