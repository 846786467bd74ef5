package ui

import (
	"net/netip"

	"github.com/bjarneo/linkdrop/internal/core"
	"github.com/bjarneo/linkdrop/internal/discovery"
	linkprogress "github.com/bjarneo/linkdrop/internal/progress"
)

// --- Bubbletea Messages ---

type (
	ErrorMsg          struct{ Err error }
	WarningMsg        struct{ Warning string }
	InfoMsg           struct{ Info string }
	StateMsg          struct{ State core.State }
	PeerAddressMsg    struct{ Addr netip.Addr }
	PeersMsg          struct{ Peers []core.Peer }
	TransferDoneMsg   struct{ Done core.Completion }
	TransferFailedMsg struct {
		Transfer core.Transfer
		Err      error
	}
	ProgressMsg struct {
		Transfer core.Transfer
		Sample   linkprogress.Sample
	}
	linkStartedMsg struct{ link discovery.LinkDiscovery }
	resetDoneMsg   struct{}
)
