// Package config collects every tunable of the transfer engine with the
// defaults the protocol was designed around.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/bjarneo/linkdrop/internal/protocol"
)

// Discovery backends.
const (
	DiscoveryStatic    = "static"
	DiscoveryMulticast = "multicast"
	DiscoveryMDNS      = "mdns"
)

// Config holds the engine settings.
type Config struct {
	Role       string
	DeviceName string

	// Listener
	ListenHost     string
	Port           int
	BindAttempts   int
	BindRetryDelay time.Duration

	// Transfers
	ChunkSize        int
	ProgressInterval time.Duration
	ConnectTimeout   time.Duration
	HeaderTimeout    time.Duration
	MaxFileSize      int64

	// Handshake exchange
	ReadyPollInterval       time.Duration
	ReadyPollTimeout        time.Duration
	ReadyGrace              time.Duration
	HandshakeAttempts       int
	HandshakeRetryDelay     time.Duration
	HandshakeConnectTimeout time.Duration

	// Link
	LinkSubnet    string
	AdvertiseAddr string
	Discovery     string
	PeerAddr      string

	// Multicast discovery
	MulticastAddr    string
	AnnounceInterval time.Duration
	PeerTTL          time.Duration

	// Storage
	DownloadDir string
	FallbackDir string

	// Logging
	LogLevel string
	LogFile  string
}

// Default returns the stock configuration.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		Port:                    protocol.DefaultPort,
		BindAttempts:            3,
		BindRetryDelay:          time.Second,
		ChunkSize:               8 * 1024 * 1024,
		ProgressInterval:        100 * time.Millisecond,
		ConnectTimeout:          10 * time.Second,
		HeaderTimeout:           30 * time.Second,
		ReadyPollInterval:       100 * time.Millisecond,
		ReadyPollTimeout:        5 * time.Second,
		ReadyGrace:              2 * time.Second,
		HandshakeAttempts:       5,
		HandshakeRetryDelay:     time.Second,
		HandshakeConnectTimeout: 5 * time.Second,
		LinkSubnet:              "192.168.49.0/24",
		Discovery:               DiscoveryStatic,
		MulticastAddr:           "239.255.42.88:8989",
		AnnounceInterval:        5 * time.Second,
		PeerTTL:                 30 * time.Second,
		DownloadDir:             filepath.Join(home, "Downloads"),
		FallbackDir:             filepath.Join(os.TempDir(), "linkdrop"),
		LogLevel:                "info",
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("port %d out of range", c.Port)
	case c.BindAttempts < 1:
		return errors.New("bind attempts must be at least 1")
	case c.HandshakeAttempts < 1:
		return errors.New("handshake attempts must be at least 1")
	case c.ChunkSize < 1:
		return errors.New("chunk size must be positive")
	case c.ConnectTimeout <= 0 || c.HandshakeConnectTimeout <= 0:
		return errors.New("connect timeouts must be positive")
	case c.MaxFileSize < 0:
		return errors.New("max file size cannot be negative")
	case c.DownloadDir == "" && c.FallbackDir == "":
		return errors.New("at least one of download dir and fallback dir is required")
	}
	if c.LinkSubnet != "" {
		if _, err := netip.ParsePrefix(c.LinkSubnet); err != nil {
			return fmt.Errorf("link subnet: %w", err)
		}
	}
	if c.AdvertiseAddr != "" {
		addr, err := netip.ParseAddr(c.AdvertiseAddr)
		if err != nil || !addr.Is4() {
			return fmt.Errorf("advertise address %q is not IPv4", c.AdvertiseAddr)
		}
	}
	switch c.Discovery {
	case DiscoveryStatic, DiscoveryMulticast, DiscoveryMDNS:
	default:
		return fmt.Errorf("unknown discovery backend %q", c.Discovery)
	}
	if c.Discovery == DiscoveryMulticast {
		ap, err := netip.ParseAddrPort(c.MulticastAddr)
		if err != nil || !ap.Addr().Is4() || !ap.Addr().IsMulticast() {
			return fmt.Errorf("multicast address %q is not an IPv4 group:port", c.MulticastAddr)
		}
	}
	return nil
}

// Subnet returns the parsed link subnet, or the zero prefix when unset.
func (c Config) Subnet() netip.Prefix {
	p, err := netip.ParsePrefix(c.LinkSubnet)
	if err != nil {
		return netip.Prefix{}
	}
	return p.Masked()
}

// BindFlags registers every setting on fs, using the current values as defaults.
func BindFlags(fs *pflag.FlagSet, c *Config) {
	fs.StringVarP(&c.Role, "role", "r", c.Role, "session role: host or client")
	fs.StringVarP(&c.DeviceName, "name", "n", c.DeviceName, "device name announced to peers (random if empty)")

	fs.StringVar(&c.ListenHost, "listen-host", c.ListenHost, "local address to bind (all interfaces if empty)")
	fs.IntVarP(&c.Port, "port", "p", c.Port, "transfer port")
	fs.IntVar(&c.BindAttempts, "bind-attempts", c.BindAttempts, "listener bind attempts before giving up")
	fs.DurationVar(&c.BindRetryDelay, "bind-retry-delay", c.BindRetryDelay, "pause between bind attempts")

	fs.IntVar(&c.ChunkSize, "chunk-size", c.ChunkSize, "bytes per read/write while streaming")
	fs.DurationVar(&c.ProgressInterval, "progress-interval", c.ProgressInterval, "minimum spacing of progress reports")
	fs.DurationVar(&c.ConnectTimeout, "connect-timeout", c.ConnectTimeout, "connect timeout for file sends")
	fs.DurationVar(&c.HeaderTimeout, "header-timeout", c.HeaderTimeout, "deadline for reading the first frame of a connection")
	fs.Int64Var(&c.MaxFileSize, "max-file-size", c.MaxFileSize, "largest file this device will send in bytes (0 = unlimited)")

	fs.DurationVar(&c.ReadyPollInterval, "ready-poll-interval", c.ReadyPollInterval, "listener readiness poll interval before the handshake")
	fs.DurationVar(&c.ReadyPollTimeout, "ready-poll-timeout", c.ReadyPollTimeout, "how long to poll listener readiness")
	fs.DurationVar(&c.ReadyGrace, "ready-grace", c.ReadyGrace, "extra wait when the listener is still not ready")
	fs.IntVar(&c.HandshakeAttempts, "handshake-attempts", c.HandshakeAttempts, "handshake connect attempts")
	fs.DurationVar(&c.HandshakeRetryDelay, "handshake-retry-delay", c.HandshakeRetryDelay, "pause between handshake attempts")
	fs.DurationVar(&c.HandshakeConnectTimeout, "handshake-connect-timeout", c.HandshakeConnectTimeout, "connect timeout for each handshake attempt")

	fs.StringVar(&c.LinkSubnet, "link-subnet", c.LinkSubnet, "subnet the link assigns addresses from")
	fs.StringVar(&c.AdvertiseAddr, "advertise-addr", c.AdvertiseAddr, "IPv4 address to send in the handshake (auto-detected if empty)")
	fs.StringVarP(&c.Discovery, "discovery", "d", c.Discovery, "link discovery backend: static, multicast or mdns")
	fs.StringVar(&c.PeerAddr, "peer", c.PeerAddr, "group owner address for static discovery (client role)")
	fs.StringVar(&c.MulticastAddr, "multicast-addr", c.MulticastAddr, "group:port for multicast discovery beacons")
	fs.DurationVar(&c.AnnounceInterval, "announce-interval", c.AnnounceInterval, "interval between discovery beacons")
	fs.DurationVar(&c.PeerTTL, "peer-ttl", c.PeerTTL, "forget peers not heard from for this long")

	fs.StringVar(&c.DownloadDir, "download-dir", c.DownloadDir, "primary directory for received files")
	fs.StringVar(&c.FallbackDir, "fallback-dir", c.FallbackDir, "alternate directory used when the primary fails")

	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "write logs to this file instead of stderr")
}
