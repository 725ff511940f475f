package negotiator

import "fmt"

// State is the lifecycle of the direct connection between the two peers.
type State int

const (
	Idle State = iota
	SignalingConnected
	Negotiating
	Connected
	Degraded
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case SignalingConnected:
		return "signaling_connected"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal states accept no further transitions except Failed→Closed.
func (s State) Terminal() bool {
	return s == Failed || s == Closed
}

// canTransition encodes the only legal moves. Connected never goes straight
// back to Negotiating; it has to pass through Degraded.
func (s State) canTransition(to State) bool {
	if to == Closed {
		return s != Closed
	}
	if to == Failed {
		return !s.Terminal()
	}
	switch s {
	case Idle:
		return to == SignalingConnected
	case SignalingConnected:
		return to == Negotiating || to == Degraded
	case Negotiating:
		return to == Connected || to == Degraded
	case Connected:
		return to == Degraded
	case Degraded:
		return to == Negotiating
	default:
		return false
	}
}
