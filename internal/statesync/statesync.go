// Package statesync streams authoritative game state from the Host to the
// Guest and decides which inbound updates may be applied.
//
// The game channel drops and reorders freely, so the Guest orders ball state
// by the Host's timestamp and throws away anything stale, older than what it
// already applied, or outside the field. Moderately late updates are blended
// into the rendered position instead of snapping to it.
package statesync

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/PASBarbari/Trascendence-sub000/internal/metrics"
	"github.com/PASBarbari/Trascendence-sub000/internal/syncproto"
)

const (
	DefaultBallStateThrottle  = 50 * time.Millisecond
	DefaultPaddleSendInterval = 50 * time.Millisecond
	DefaultStaleAfter         = 200 * time.Millisecond
	DefaultDirectApplyAge     = 50 * time.Millisecond
	DefaultBoundsFactor       = 1.2
	DefaultEpsilon            = 0.001
	DefaultWinScore           = 5
)

// Blend factor for late updates: 0.8 at zero age, falling by 0.1 every
// 25ms, never below 0.1.
const (
	blendBase    = 0.8
	blendFalloff = 200 * time.Millisecond
	blendMinimum = 0.1
	blendMaximum = 1.0
)

// ErrInvalidStateMessage wraps every rejection. Rejections are expected on a
// lossy channel and never end the session.
var ErrInvalidStateMessage = errors.New("statesync: invalid state message")

type Config struct {
	Host        bool
	LocalPlayer syncproto.Player
	Field       syncproto.FieldDimensions

	BoundsFactor       float64
	Epsilon            float64
	BallStateThrottle  time.Duration
	PaddleSendInterval time.Duration
	StaleAfter         time.Duration
	DirectApplyAge     time.Duration
	WinScore           int

	// Send transmits one message over the game channel.
	Send func(syncproto.Message) error

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (c Config) withDefaults() Config {
	if c.BoundsFactor <= 0 {
		c.BoundsFactor = DefaultBoundsFactor
	}
	if c.Epsilon <= 0 {
		c.Epsilon = DefaultEpsilon
	}
	if c.BallStateThrottle <= 0 {
		c.BallStateThrottle = DefaultBallStateThrottle
	}
	if c.PaddleSendInterval <= 0 {
		c.PaddleSendInterval = DefaultPaddleSendInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.DirectApplyAge <= 0 {
		c.DirectApplyAge = DefaultDirectApplyAge
	}
	if c.WinScore <= 0 {
		c.WinScore = DefaultWinScore
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// EntityUpdate is the Guest's ball state after applying an EntityState.
type EntityUpdate struct {
	Position syncproto.Vec3
	Velocity syncproto.Vec3
	Age      time.Duration
	// Blended is false when the update was applied as-is.
	Blended bool
	Factor  float64
}

// Engine is not safe for concurrent use.
type Engine struct {
	cfg Config
	log *slog.Logger

	// Host side.
	lastEntitySentAt time.Time
	lastEntitySent   *syncproto.Vec3
	lastScoreSent    *syncproto.ScoreUpdate

	// Both sides.
	lastPaddleSentAt time.Time

	// Guest side.
	lastAppliedTS int64
	entity        *EntityUpdate
}

func New(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg: cfg,
		log: cfg.Logger.With("component", "statesync"),
	}
}

func (e *Engine) Field() syncproto.FieldDimensions {
	return e.cfg.Field
}

// SetField replaces the bounds used for validation.
func (e *Engine) SetField(f syncproto.FieldDimensions) {
	e.cfg.Field = f
}

// Reset clears every per-game buffer. The field is kept.
func (e *Engine) Reset() {
	e.lastEntitySentAt = time.Time{}
	e.lastEntitySent = nil
	e.lastScoreSent = nil
	e.lastPaddleSentAt = time.Time{}
	e.lastAppliedTS = 0
	e.entity = nil
}

// InBounds reports whether p lies within BoundsFactor times the field's
// half-extents on every checked axis.
func (e *Engine) InBounds(p syncproto.Vec3) bool {
	f := e.cfg.Field
	for _, axis := range [...]struct{ v, half float64 }{{p.X, f.HalfX}, {p.Y, f.HalfY}, {p.Z, f.HalfZ}} {
		if axis.half <= 0 {
			continue
		}
		if math.Abs(axis.v) > axis.half*e.cfg.BoundsFactor {
			return false
		}
	}
	return true
}

func (e *Engine) reject(counter, reason string, args ...any) error {
	e.cfg.Metrics.Inc(counter)
	e.log.Debug("dropping state message", append([]any{"reason", reason}, args...)...)
	return fmt.Errorf("%w: %s", ErrInvalidStateMessage, reason)
}

func (e *Engine) send(m syncproto.Message) error {
	if e.cfg.Send == nil {
		return nil
	}
	return e.cfg.Send(m)
}

// PublishEntity sends the Host's ball state if it moved more than Epsilon and
// the throttle interval has passed. It reports whether a message went out.
func (e *Engine) PublishEntity(now time.Time, pos, vel syncproto.Vec3) (bool, error) {
	if !e.cfg.Host {
		return false, e.reject(metrics.SyncDropWrongRole, "guest cannot publish entity state")
	}
	if !e.InBounds(pos) {
		return false, e.reject(metrics.SyncDropOutOfBounds, "entity out of bounds", "position", pos)
	}
	if !e.lastEntitySentAt.IsZero() && now.Sub(e.lastEntitySentAt) < e.cfg.BallStateThrottle {
		return false, nil
	}
	if e.lastEntitySent != nil && pos.Sub(*e.lastEntitySent).Len() <= e.cfg.Epsilon {
		return false, nil
	}

	msg := syncproto.Entity(syncproto.EntityState{
		Position:  pos,
		Velocity:  vel,
		Timestamp: now.UnixMilli(),
	})
	if err := e.send(msg); err != nil {
		return false, err
	}
	e.lastEntitySentAt = now
	e.lastEntitySent = &pos
	return true, nil
}

// PublishPaddle sends the local paddle at most once per PaddleSendInterval.
// The caller applies its own paddle immediately; this only feeds the peer.
func (e *Engine) PublishPaddle(now time.Time, pos, vel syncproto.Vec3) (bool, error) {
	if !e.lastPaddleSentAt.IsZero() && now.Sub(e.lastPaddleSentAt) < e.cfg.PaddleSendInterval {
		return false, nil
	}
	msg := syncproto.Paddle(syncproto.PaddleState{
		Player:   e.cfg.LocalPlayer,
		Position: pos,
		Velocity: vel,
	})
	if err := e.send(msg); err != nil {
		return false, err
	}
	e.lastPaddleSentAt = now
	return true, nil
}

// PublishScore sends the score when it differs from the last one sent.
func (e *Engine) PublishScore(scoreA, scoreB int) (bool, error) {
	if !e.cfg.Host {
		return false, e.reject(metrics.SyncDropWrongRole, "guest cannot publish score")
	}
	s := syncproto.ScoreUpdate{ScoreA: scoreA, ScoreB: scoreB}
	if e.lastScoreSent != nil && *e.lastScoreSent == s {
		return false, nil
	}
	if err := e.send(syncproto.Score(s)); err != nil {
		return false, err
	}
	e.lastScoreSent = &s
	return true, nil
}

// HandleEntity applies a Host ball update on the Guest.
func (e *Engine) HandleEntity(now time.Time, msg syncproto.EntityState) (EntityUpdate, error) {
	if e.cfg.Host {
		return EntityUpdate{}, e.reject(metrics.SyncDropWrongRole, "host received entity state")
	}

	age := max(now.Sub(time.UnixMilli(msg.Timestamp)), 0)
	if age > e.cfg.StaleAfter {
		return EntityUpdate{}, e.reject(metrics.SyncDropStale, "stale entity state", "age", age)
	}
	if msg.Timestamp <= e.lastAppliedTS {
		return EntityUpdate{}, e.reject(metrics.SyncDropOutOfOrder, "entity state not newer than last applied",
			"timestamp", msg.Timestamp, "last_applied", e.lastAppliedTS)
	}
	if !e.InBounds(msg.Position) {
		return EntityUpdate{}, e.reject(metrics.SyncDropOutOfBounds, "entity out of bounds", "position", msg.Position)
	}

	u := EntityUpdate{
		Position: msg.Position,
		Velocity: msg.Velocity,
		Age:      age,
		Factor:   1,
	}
	if age >= e.cfg.DirectApplyAge && e.entity != nil {
		u.Factor = BlendFactor(age)
		u.Position = e.entity.Position.Lerp(msg.Position, u.Factor)
		u.Blended = true
	}

	e.lastAppliedTS = msg.Timestamp
	e.entity = &u
	return u, nil
}

// BlendFactor is clamp(0.8 - age/200ms, 0.1, 1.0).
func BlendFactor(age time.Duration) float64 {
	f := blendBase - float64(age)/float64(blendFalloff)
	return min(max(f, blendMinimum), blendMaximum)
}

// HandlePaddle validates the opponent's paddle. A paddle claiming to be the
// local player is dropped.
func (e *Engine) HandlePaddle(msg syncproto.PaddleState) (syncproto.PaddleState, error) {
	if msg.Player == e.cfg.LocalPlayer {
		return syncproto.PaddleState{}, e.reject(metrics.SyncDropWrongRole, "paddle for the local player", "player", msg.Player.String())
	}
	if !e.InBounds(msg.Position) {
		return syncproto.PaddleState{}, e.reject(metrics.SyncDropOutOfBounds, "paddle out of bounds", "position", msg.Position)
	}
	return msg, nil
}

// HandleScore applies a Host score on the Guest. reached reports whether
// either side hit WinScore; the Guest still waits for game_over.
func (e *Engine) HandleScore(msg syncproto.ScoreUpdate) (reached bool, err error) {
	if e.cfg.Host {
		return false, e.reject(metrics.SyncDropWrongRole, "host received score update")
	}
	return max(msg.ScoreA, msg.ScoreB) >= e.cfg.WinScore, nil
}
