package ui

import (
	"net/netip"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bjarneo/linkdrop/internal/core"
	linkprogress "github.com/bjarneo/linkdrop/internal/progress"
)

// programMessageSender forwards session notifications into the Bubble Tea
// event loop. It must not be called from inside Update.
type programMessageSender struct {
	program *tea.Program
}

func (pms *programMessageSender) send(msg tea.Msg) {
	if pms.program != nil {
		pms.program.Send(msg)
	}
}

func (pms *programMessageSender) SendError(err error) {
	pms.send(ErrorMsg{Err: err})
}

func (pms *programMessageSender) SendWarning(warning string) {
	pms.send(WarningMsg{Warning: warning})
}

func (pms *programMessageSender) SendInfo(info string) {
	pms.send(InfoMsg{Info: info})
}

func (pms *programMessageSender) SendStateChanged(state core.State) {
	pms.send(StateMsg{State: state})
}

func (pms *programMessageSender) SendPeerAddress(addr netip.Addr) {
	pms.send(PeerAddressMsg{Addr: addr})
}

func (pms *programMessageSender) SendPeers(peers []core.Peer) {
	pms.send(PeersMsg{Peers: peers})
}

func (pms *programMessageSender) SendProgress(t core.Transfer, sample linkprogress.Sample) {
	pms.send(ProgressMsg{Transfer: t, Sample: sample})
}

func (pms *programMessageSender) SendTransferComplete(done core.Completion) {
	pms.send(TransferDoneMsg{Done: done})
}

func (pms *programMessageSender) SendTransferFailed(t core.Transfer, err error) {
	pms.send(TransferFailedMsg{Transfer: t, Err: err})
}
