// Package game is a small deterministic paddle-and-ball simulation used by
// the headless peer. Physics fidelity is not a goal; it only has to produce
// plausible, bounded state for the sync protocol to carry.
package game

import (
	"math"
	"time"

	"github.com/PASBarbari/Trascendence-sub000/internal/syncproto"
)

const (
	DefaultBallSpeed   = 30.0
	DefaultPaddleDepth = 8.0
	// paddleInset is how far each paddle sits from its end of the field.
	paddleInset = 3.0
	maxStep     = 100 * time.Millisecond
)

// DefaultField matches the reference table: 120 x 10 x 80 units.
var DefaultField = syncproto.FieldDimensions{HalfX: 60, HalfY: 5, HalfZ: 40}

// Snapshot is the simulation state after a step.
type Snapshot struct {
	Ball         syncproto.Vec3
	BallVelocity syncproto.Vec3
	Paddles      [2]syncproto.Vec3
	ScoreA       int
	ScoreB       int
	// Scored is set on the step a point was won.
	Scored bool
}

func (s Snapshot) Paddle(p syncproto.Player) syncproto.Vec3 {
	return s.Paddles[p-1]
}

// Sim plays along the X axis: PlayerOne defends -HalfX, PlayerTwo +HalfX.
type Sim struct {
	field       syncproto.FieldDimensions
	speed       float64
	paddleDepth float64

	ball    syncproto.Vec3
	vel     syncproto.Vec3
	paddles [2]syncproto.Vec3
	scoreA  int
	scoreB  int
	serves  int
}

func New(field syncproto.FieldDimensions) *Sim {
	s := &Sim{
		field:       field,
		speed:       DefaultBallSpeed,
		paddleDepth: DefaultPaddleDepth,
	}
	s.Reset()
	return s
}

func (s *Sim) Field() syncproto.FieldDimensions {
	return s.field
}

// Reset returns scores, paddles and ball to their starting positions.
func (s *Sim) Reset() {
	s.scoreA, s.scoreB = 0, 0
	s.serves = 0
	s.paddles[0] = syncproto.Vec3{X: -(s.field.HalfX - paddleInset)}
	s.paddles[1] = syncproto.Vec3{X: s.field.HalfX - paddleInset}
	s.serve()
}

// serve alternates direction and angle so consecutive rallies differ.
func (s *Sim) serve() {
	dir := 1.0
	if s.serves%2 == 1 {
		dir = -1
	}
	angle := []float64{0.2, -0.35, 0.5, -0.1}[s.serves%4]
	s.serves++
	s.ball = syncproto.Vec3{}
	s.vel = syncproto.Vec3{
		X: dir * s.speed * math.Cos(angle),
		Z: s.speed * math.Sin(angle),
	}
}

// SetPaddle moves a paddle, clamped to the field.
func (s *Sim) SetPaddle(p syncproto.Player, pos syncproto.Vec3) {
	if !p.Valid() {
		return
	}
	limit := s.field.HalfZ - s.paddleDepth/2
	pos.Z = min(max(pos.Z, -limit), limit)
	pos.X = s.paddles[p-1].X
	s.paddles[p-1] = pos
}

// SetBall overrides the ball, for a Guest rendering Host state.
func (s *Sim) SetBall(pos, vel syncproto.Vec3) {
	s.ball, s.vel = pos, vel
}

func (s *Sim) SetScore(a, b int) {
	s.scoreA, s.scoreB = a, b
}

func (s *Sim) Snapshot() Snapshot {
	return Snapshot{
		Ball:         s.ball,
		BallVelocity: s.vel,
		Paddles:      s.paddles,
		ScoreA:       s.scoreA,
		ScoreB:       s.scoreB,
	}
}

// Step advances the ball by dt. Long gaps are capped so a stalled loop does
// not tunnel the ball through a paddle.
func (s *Sim) Step(dt time.Duration) Snapshot {
	dt = min(dt, maxStep)
	sec := dt.Seconds()
	s.ball.X += s.vel.X * sec
	s.ball.Z += s.vel.Z * sec

	if math.Abs(s.ball.Z) > s.field.HalfZ {
		s.ball.Z = math.Copysign(s.field.HalfZ, s.ball.Z)
		s.vel.Z = -s.vel.Z
	}

	scored := false
	switch {
	case s.vel.X < 0 && s.ball.X <= s.paddles[0].X:
		scored = s.rebound(0)
	case s.vel.X > 0 && s.ball.X >= s.paddles[1].X:
		scored = s.rebound(1)
	}

	out := s.Snapshot()
	out.Scored = scored
	return out
}

// rebound bounces off paddle i when it covers the ball, otherwise awards the
// point to the other side and serves again. It reports whether a point was
// scored.
func (s *Sim) rebound(i int) bool {
	if math.Abs(s.ball.Z-s.paddles[i].Z) <= s.paddleDepth/2 {
		s.ball.X = s.paddles[i].X
		s.vel.X = -s.vel.X
		// Hitting off-centre steers the ball.
		s.vel.Z += (s.ball.Z - s.paddles[i].Z) * 2
		s.vel.Z = min(max(s.vel.Z, -s.speed), s.speed)
		return false
	}
	if i == 0 {
		s.scoreB++
	} else {
		s.scoreA++
	}
	s.serve()
	return true
}

// Winner returns the player that reached target, if any.
func (s *Sim) Winner(target int) (syncproto.Player, bool) {
	switch {
	case s.scoreA >= target:
		return syncproto.PlayerOne, true
	case s.scoreB >= target:
		return syncproto.PlayerTwo, true
	}
	return 0, false
}

// Track moves p's paddle toward the ball at speed units per second. The
// headless peer uses it as stand-in input.
func (s *Sim) Track(p syncproto.Player, ball syncproto.Vec3, speed float64, dt time.Duration) syncproto.Vec3 {
	cur := s.paddles[p-1]
	step := speed * dt.Seconds()
	delta := ball.Z - cur.Z
	delta = min(max(delta, -step), step)
	s.SetPaddle(p, syncproto.Vec3{X: cur.X, Z: cur.Z + delta})
	return s.paddles[p-1]
}
