package negotiator

import "errors"

var (
	// ErrSignalingUnavailable means the relay could not be reached or kept
	// dropping the link before the direct channel opened.
	ErrSignalingUnavailable = errors.New("negotiator: signaling unavailable")
	ErrNegotiationTimeout   = errors.New("negotiator: negotiation timed out")
	ErrConnectionDegraded   = errors.New("negotiator: connection degraded")

	ErrNotConnected = errors.New("negotiator: not connected")
	ErrClosed       = errors.New("negotiator: closed")
)
