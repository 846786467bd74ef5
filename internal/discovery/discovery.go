// Package discovery reports the state of the point-to-point link a session
// runs over: who is visible, when a link forms and when it is lost.
package discovery

import (
	"net/netip"

	"github.com/bjarneo/linkdrop/internal/core"
)

// EventKind discriminates link events.
type EventKind int

const (
	EventPeerListChanged EventKind = iota + 1
	EventConnectionFormed
	EventConnectionLost
)

func (k EventKind) String() string {
	switch k {
	case EventPeerListChanged:
		return "peer-list-changed"
	case EventConnectionFormed:
		return "connection-formed"
	case EventConnectionLost:
		return "connection-lost"
	default:
		return "unknown"
	}
}

// Event is one notification from the link layer.
type Event struct {
	Kind EventKind
	// Peers is set for EventPeerListChanged.
	Peers []core.Peer
	// IsGroupOwner and GroupOwner are set for EventConnectionFormed.
	IsGroupOwner bool
	GroupOwner   netip.Addr
}

func PeerListChanged(peers []core.Peer) Event {
	return Event{Kind: EventPeerListChanged, Peers: peers}
}

func ConnectionFormed(isGroupOwner bool, groupOwner netip.Addr) Event {
	return Event{Kind: EventConnectionFormed, IsGroupOwner: isGroupOwner, GroupOwner: groupOwner}
}

func ConnectionLost() Event {
	return Event{Kind: EventConnectionLost}
}

// Info describes a formed link.
type Info struct {
	IsGroupOwner bool
	GroupOwner   netip.Addr
}

// LinkDiscovery is a source of link events. The channel is closed by Close.
type LinkDiscovery interface {
	Events() <-chan Event
	// ConnectionInfo returns the current link, if one is formed.
	ConnectionInfo() (Info, bool)
	Close() error
}
