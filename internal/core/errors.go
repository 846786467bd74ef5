package core

import "errors"

// Failure taxonomy shared by the listener, handlers, sender and session.
var (
	ErrBindFailure        = errors.New("bind failure")
	ErrConnectFailure     = errors.New("connect failure")
	ErrConnectTimeout     = errors.New("connect timeout")
	ErrMalformedFrame     = errors.New("malformed frame")
	ErrIncompleteTransfer = errors.New("incomplete transfer")
	ErrStorageFailure     = errors.New("storage failure")
	ErrTransferAborted    = errors.New("transfer aborted")
)

var (
	ErrNoPeer            = errors.New("peer address unknown")
	ErrSessionClosed     = errors.New("session closed")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrFileTooLarge      = errors.New("file too large")
	ErrListenerActive    = errors.New("listener already bound")
)
