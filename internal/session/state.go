package session

import (
	"errors"
	"fmt"
)

// State is the match lifecycle as seen by one peer.
type State int

const (
	Lobby State = iota
	Ready
	Playing
	Paused
	GameOver
	Closed
)

func (s State) String() string {
	switch s {
	case Lobby:
		return "lobby"
	case Ready:
		return "ready"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case GameOver:
		return "game_over"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrNotPauseOwner is returned when the peer that did not pause tries to
	// resume.
	ErrNotPauseOwner = errors.New("session: only the pausing player can resume")
	// ErrPeerLeft is the close reason when the opponent exits. It is a normal
	// end of session, not a failure.
	ErrPeerLeft = errors.New("session: opponent left")
	// ErrWrongState is returned for a collaborator call the current state
	// does not allow.
	ErrWrongState = errors.New("session: action not allowed in current state")
	ErrClosed     = errors.New("session: closed")
)

func wrongState(action string, s State) error {
	return fmt.Errorf("%w: %s while %s", ErrWrongState, action, s)
}
