package core

import (
	"strings"
	"time"
)

// Role is the part a device plays on the link.
type Role int

const (
	RoleNone Role = iota
	RoleHost
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleClient:
		return "client"
	default:
		return "none"
	}
}

// ParseRole accepts "host"/"h" and "client"/"c" (case-insensitive).
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "host", "h":
		return RoleHost, true
	case "client", "c":
		return RoleClient, true
	}
	return RoleNone, false
}

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRoleSelected
	StateListening
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRoleSelected:
		return "ROLE_SELECTED"
	case StateListening:
		return "LISTENING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Direction tells whether a transfer is outbound or inbound.
type Direction int

const (
	Sending Direction = iota
	Receiving
)

func (d Direction) String() string {
	if d == Receiving {
		return "receive"
	}
	return "send"
}

// Transfer describes one file moving over one connection.
type Transfer struct {
	ID        string
	Name      string
	Size      int64
	Direction Direction
	Peer      string
	StartedAt time.Time
}

// Completion is reported once a transfer's bytes are fully stored or sent.
type Completion struct {
	Transfer Transfer
	Location string
	MIMEType string
	Digest   string
	Elapsed  time.Duration
	// Rate is the average throughput in bytes per second.
	Rate float64
}

// Peer is a device reported by link discovery.
type Peer struct {
	ID      string
	Name    string
	Address string
	Role    Role
}
