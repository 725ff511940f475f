package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/PASBarbari/Trascendence-sub000/internal/config"
	"github.com/PASBarbari/Trascendence-sub000/internal/game"
	"github.com/PASBarbari/Trascendence-sub000/internal/negotiator"
	"github.com/PASBarbari/Trascendence-sub000/internal/session"
	"github.com/PASBarbari/Trascendence-sub000/internal/statesync"
	"github.com/PASBarbari/Trascendence-sub000/internal/syncproto"
)

// paddleSpeed keeps the bot beatable: slower than the ball's top speed.
const paddleSpeed = game.DefaultBallSpeed * 0.8

// bot is the headless player. It logs what the session reports, readies up
// and rematches on its own when configured to, and tracks the ball with its
// paddle. Its callbacks run on the peer's loop.
type bot struct {
	session.NopObserver

	sim         *game.Sim
	log         *slog.Logger
	autoReady   bool
	autoRematch bool

	ctrl *session.Controller
}

func newBot(sim *game.Sim, cfg config.Config, logger *slog.Logger) *bot {
	return &bot{
		sim:         sim,
		log:         logger.With("component", "bot"),
		autoReady:   cfg.AutoReady,
		autoRematch: cfg.AutoRematch,
	}
}

func (b *bot) attach(ctrl *session.Controller) {
	b.ctrl = ctrl
}

func (b *bot) OnConnectionStatus(state negotiator.State, message string) {
	b.log.Info("connection status", "state", state.String(), "message", message)
}

func (b *bot) OnRoleAssigned(isHost bool) {
	b.log.Info("role assigned", "host", isHost)
}

func (b *bot) OnSessionState(s session.State) {
	b.log.Info("session state", "state", s.String())
	if s == session.Ready && b.autoReady && b.ctrl != nil {
		if err := b.ctrl.MarkLocalReady(); err != nil {
			b.log.Warn("auto ready failed", "err", err)
		}
	}
}

func (b *bot) OnBothReady() {
	b.log.Info("both players ready")
}

func (b *bot) OnRemoteEntityState(u statesync.EntityUpdate) {
	if u.Blended {
		b.log.Debug("blended remote ball state", "age", u.Age, "factor", u.Factor)
	}
}

func (b *bot) OnScoreUpdate(s syncproto.ScoreUpdate) {
	b.log.Info("score", "a", s.ScoreA, "b", s.ScoreB)
}

func (b *bot) OnGameOver(winner string, s syncproto.ScoreUpdate) {
	b.log.Info("game over", "winner", winner, "a", s.ScoreA, "b", s.ScoreB)
	if b.autoRematch && b.ctrl != nil {
		if err := b.ctrl.RequestRematch(); err != nil {
			b.log.Warn("auto rematch failed", "err", err)
		}
	}
}

func (b *bot) OnPaused(by syncproto.Player) {
	b.log.Info("paused", "by", by.String())
}

func (b *bot) OnResumed() {
	b.log.Info("resumed")
}

func (b *bot) OnOpponentLeft() {
	b.log.Info("opponent left")
}

func (b *bot) OnClosed(err error) {
	b.log.Info("session closed", "err", err)
}

// steer moves the local paddle toward the ball and returns its new position
// and velocity. It must run on the loop.
func (b *bot) steer(ctrl *session.Controller, dt time.Duration) (syncproto.Vec3, syncproto.Vec3) {
	p := ctrl.LocalPlayer()
	before := b.sim.Snapshot().Paddle(p)
	pos := b.sim.Track(p, b.sim.Snapshot().Ball, paddleSpeed, dt)
	var vel syncproto.Vec3
	if s := dt.Seconds(); s > 0 {
		vel = syncproto.Vec3{Z: (pos.Z - before.Z) / s}
	}
	return pos, vel
}

// drivePaddle feeds steer's output into the session until ctx ends or the
// peer stops.
func (b *bot) drivePaddle(ctx context.Context, peer *session.Peer, interval time.Duration) {
	if interval <= 0 {
		interval = statesync.DefaultPaddleSendInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-peer.Closed():
			return
		case <-ticker.C:
			ok := peer.Do(func(c *session.Controller) {
				if c.State() != session.Playing {
					return
				}
				pos, vel := b.steer(c, interval)
				c.SetLocalPaddle(pos, vel)
			})
			if !ok {
				return
			}
		}
	}
}
