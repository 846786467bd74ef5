package discovery

import (
	"net/netip"
	"sort"
	"time"

	"github.com/bjarneo/linkdrop/internal/core"
)

type peerEntry struct {
	peer core.Peer
	addr netip.Addr
	seen time.Time
}

// linkState keeps the peer table of a beacon based backend and decides when
// a link forms. A host links with the first client it sees and a client
// with the first host. Not safe for concurrent use.
type linkState struct {
	selfID   string
	role     core.Role
	selfAddr netip.Addr
	// ttl of zero keeps peers until they say goodbye.
	ttl time.Duration

	peers  map[string]*peerEntry
	formed string
	info   Info
}

func newLinkState(selfID string, role core.Role, selfAddr netip.Addr, ttl time.Duration) *linkState {
	return &linkState{
		selfID:   selfID,
		role:     role,
		selfAddr: selfAddr,
		ttl:      ttl,
		peers:    make(map[string]*peerEntry),
	}
}

func (s *linkState) observe(p core.Peer, addr netip.Addr, now time.Time) []Event {
	if p.ID == "" || p.ID == s.selfID {
		return nil
	}
	var events []Event
	e, ok := s.peers[p.ID]
	if !ok || e.peer != p {
		s.peers[p.ID] = &peerEntry{peer: p, addr: addr, seen: now}
		events = append(events, PeerListChanged(s.list()))
	} else {
		e.seen = now
	}

	if s.formed == "" && complementary(s.role, p.Role) {
		s.formed = p.ID
		if s.role == core.RoleHost {
			s.info = Info{IsGroupOwner: true, GroupOwner: s.selfAddr}
		} else {
			s.info = Info{IsGroupOwner: false, GroupOwner: addr}
		}
		events = append(events, ConnectionFormed(s.info.IsGroupOwner, s.info.GroupOwner))
	}
	return events
}

func (s *linkState) forget(id string) []Event {
	if _, ok := s.peers[id]; !ok {
		return nil
	}
	delete(s.peers, id)
	events := []Event{PeerListChanged(s.list())}
	if s.formed == id {
		s.formed = ""
		s.info = Info{}
		events = append(events, ConnectionLost())
	}
	return events
}

func (s *linkState) expire(now time.Time) []Event {
	if s.ttl <= 0 {
		return nil
	}
	var events []Event
	for id, e := range s.peers {
		if now.Sub(e.seen) >= s.ttl {
			events = append(events, s.forget(id)...)
		}
	}
	return events
}

func (s *linkState) connection() (Info, bool) {
	return s.info, s.formed != ""
}

func (s *linkState) list() []core.Peer {
	peers := make([]core.Peer, 0, len(s.peers))
	for _, e := range s.peers {
		peers = append(peers, e.peer)
	}
	sort.Slice(peers, func(i, j int) bool {
		if peers[i].Name != peers[j].Name {
			return peers[i].Name < peers[j].Name
		}
		return peers[i].ID < peers[j].ID
	})
	return peers
}

func complementary(self, other core.Role) bool {
	return (self == core.RoleHost && other == core.RoleClient) ||
		(self == core.RoleClient && other == core.RoleHost)
}
