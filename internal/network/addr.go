package network

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
)

var ErrNoLocalAddress = errors.New("no usable local IPv4 address")

// LocalIPv4 returns the first non-loopback IPv4 address of an up interface
// that lies in subnet. With an invalid subnet any non-loopback IPv4 matches.
func LocalIPv4(subnet netip.Prefix) (netip.Addr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("list interfaces: %w", err)
	}
	var addrs []net.Addr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		ifAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		addrs = append(addrs, ifAddrs...)
	}
	if addr, ok := pickIPv4(addrs, subnet); ok {
		return addr, nil
	}
	if subnet.IsValid() {
		return netip.Addr{}, fmt.Errorf("%w in %s", ErrNoLocalAddress, subnet)
	}
	return netip.Addr{}, ErrNoLocalAddress
}

func pickIPv4(addrs []net.Addr, subnet netip.Prefix) (netip.Addr, bool) {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		default:
			continue
		}
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		if !addr.Is4() || addr.IsLoopback() {
			continue
		}
		if subnet.IsValid() && !subnet.Contains(addr) {
			continue
		}
		return addr, true
	}
	return netip.Addr{}, false
}

// Slash24 returns the /24 containing addr, the usual shape of a link's group subnet.
func Slash24(addr netip.Addr) netip.Prefix {
	p, err := addr.Prefix(24)
	if err != nil {
		return netip.Prefix{}
	}
	return p
}
