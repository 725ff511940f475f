package session

import (
	"time"

	"github.com/PASBarbari/Trascendence-sub000/internal/game"
	"github.com/PASBarbari/Trascendence-sub000/internal/negotiator"
	"github.com/PASBarbari/Trascendence-sub000/internal/statesync"
	"github.com/PASBarbari/Trascendence-sub000/internal/syncproto"
)

// Observer receives outbound notifications. Every call happens on the peer's
// event loop, so implementations may call Controller methods directly but
// must not block.
type Observer interface {
	OnConnectionStatus(state negotiator.State, message string)
	OnRoleAssigned(isHost bool)
	OnSessionState(State)
	OnBothReady()
	OnRemoteEntityState(statesync.EntityUpdate)
	OnRemotePaddleState(syncproto.PaddleState)
	OnScoreUpdate(syncproto.ScoreUpdate)
	OnGameOver(winner string, scores syncproto.ScoreUpdate)
	OnPaused(by syncproto.Player)
	OnResumed()
	OnOpponentLeft()
	// OnClosed fires once per session. err is nil after Leave, ErrPeerLeft
	// when the opponent exits, and the negotiator's error on failure.
	OnClosed(err error)
}

// NopObserver ignores everything. Embed it to implement only some callbacks.
type NopObserver struct{}

func (NopObserver) OnConnectionStatus(negotiator.State, string) {}
func (NopObserver) OnRoleAssigned(bool)                         {}
func (NopObserver) OnSessionState(State)                        {}
func (NopObserver) OnBothReady()                                {}
func (NopObserver) OnRemoteEntityState(statesync.EntityUpdate)  {}
func (NopObserver) OnRemotePaddleState(syncproto.PaddleState)   {}
func (NopObserver) OnScoreUpdate(syncproto.ScoreUpdate)         {}
func (NopObserver) OnGameOver(string, syncproto.ScoreUpdate)    {}
func (NopObserver) OnPaused(syncproto.Player)                   {}
func (NopObserver) OnResumed()                                  {}
func (NopObserver) OnOpponentLeft()                             {}
func (NopObserver) OnClosed(error)                              {}

// Simulation is the game the session drives. The Host steps it; the Guest
// only feeds it remote state. *game.Sim implements it.
type Simulation interface {
	Field() syncproto.FieldDimensions
	Step(dt time.Duration) game.Snapshot
	Snapshot() game.Snapshot
	SetPaddle(p syncproto.Player, pos syncproto.Vec3)
	SetBall(pos, vel syncproto.Vec3)
	SetScore(a, b int)
	Winner(target int) (syncproto.Player, bool)
	Reset()
}

// Transport carries game channel bytes. *negotiator.Negotiator implements
// it.
type Transport interface {
	Send([]byte) error
	// CloseAfterFlush closes once queued messages have gone out, within a
	// bounded linger.
	CloseAfterFlush()
	Close()
}

var (
	_ Simulation = (*game.Sim)(nil)
	_ Transport  = (*negotiator.Negotiator)(nil)
)
