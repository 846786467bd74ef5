package core

import (
	"net/netip"

	"github.com/bjarneo/linkdrop/internal/progress"
)

// MessageSender defines an interface for sending messages to the operator-facing layer.
type MessageSender interface {
	SendError(err error)
	SendWarning(warning string)
	SendInfo(info string)
	SendStateChanged(state State)
	SendPeerAddress(addr netip.Addr)
	SendPeers(peers []Peer)
	SendProgress(transfer Transfer, sample progress.Sample)
	SendTransferComplete(done Completion)
	SendTransferFailed(transfer Transfer, err error)
}

// NopSender discards every message.
type NopSender struct{}

func (NopSender) SendError(error)                        {}
func (NopSender) SendWarning(string)                     {}
func (NopSender) SendInfo(string)                        {}
func (NopSender) SendStateChanged(State)                 {}
func (NopSender) SendPeerAddress(netip.Addr)             {}
func (NopSender) SendPeers([]Peer)                       {}
func (NopSender) SendProgress(Transfer, progress.Sample) {}
func (NopSender) SendTransferComplete(Completion)        {}
func (NopSender) SendTransferFailed(Transfer, error)     {}
