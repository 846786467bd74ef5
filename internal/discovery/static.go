package discovery

import (
	"errors"
	"net/netip"
	"sync"

	"github.com/google/uuid"

	"github.com/bjarneo/linkdrop/internal/core"
)

// Static stands in for a link formed outside this program: the operator
// names the group owner and the link is reported as formed immediately.
type Static struct {
	mu     sync.Mutex
	events chan Event
	info   Info
	closed bool
}

// NewStatic builds a formed link. A client needs the group owner's address;
// a host is its own group owner and peer may be left invalid.
func NewStatic(role core.Role, self, peer netip.Addr) (*Static, error) {
	s := &Static{events: make(chan Event, 4)}
	switch role {
	case core.RoleHost:
		s.info = Info{IsGroupOwner: true, GroupOwner: self}
	case core.RoleClient:
		if !peer.IsValid() {
			return nil, errors.New("static discovery needs the group owner address in client role")
		}
		s.info = Info{IsGroupOwner: false, GroupOwner: peer}
	default:
		return nil, errors.New("static discovery needs a role")
	}
	if peer.IsValid() {
		peerRole := core.RoleClient
		if role == core.RoleClient {
			peerRole = core.RoleHost
		}
		s.events <- PeerListChanged([]core.Peer{{
			ID:      uuid.NewString(),
			Name:    peer.String(),
			Address: peer.String(),
			Role:    peerRole,
		}})
	}
	s.events <- ConnectionFormed(s.info.IsGroupOwner, s.info.GroupOwner)
	return s, nil
}

func (s *Static) Events() <-chan Event {
	return s.events
}

func (s *Static) ConnectionInfo() (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info, !s.closed
}

// Drop reports the link as lost.
func (s *Static) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ConnectionLost():
	default:
	}
}

func (s *Static) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}
