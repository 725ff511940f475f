// Package readiness implements the mutual ready handshake that gates the
// start of every round.
//
// Ready events travel over the lossy game channel, so the local side keeps
// re-sending until it has seen the peer's, and answers a peer that is still
// re-sending with one echo. Events carry the round number; anything for
// another round is ignored, which keeps stale ready messages from a previous
// game from starting the next one.
package readiness

import (
	"log/slog"
	"time"

	"github.com/PASBarbari/Trascendence-sub000/internal/eventloop"
)

const DefaultResendInterval = 500 * time.Millisecond

type State struct {
	LocalReady  bool
	RemoteReady bool
}

func (s State) Both() bool {
	return s.LocalReady && s.RemoteReady
}

type Config struct {
	ResendInterval time.Duration
	Scheduler      eventloop.Scheduler

	// Send transmits a ready event for round.
	Send func(round int) error
	// OnBothReady fires exactly once per round.
	OnBothReady func(round int)

	Logger *slog.Logger
}

// Coordinator must be used from a single goroutine (the peer's loop).
type Coordinator struct {
	cfg   Config
	log   *slog.Logger
	round int
	state State
	fired bool

	resend eventloop.Timer
}

func New(cfg Config) *Coordinator {
	if cfg.ResendInterval <= 0 {
		cfg.ResendInterval = DefaultResendInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{
		cfg: cfg,
		log: cfg.Logger.With("component", "readiness"),
	}
}

func (c *Coordinator) Round() int   { return c.round }
func (c *Coordinator) State() State { return c.state }

// MarkLocalReady is idempotent within a round.
func (c *Coordinator) MarkLocalReady() {
	if c.state.LocalReady {
		return
	}
	c.state.LocalReady = true
	c.send()
	if !c.checkBoth() {
		c.armResend()
	}
}

// HandleRemoteReady records the peer's ready for round.
func (c *Coordinator) HandleRemoteReady(round int) {
	if round != c.round {
		c.log.Debug("ignoring ready for another round", "round", round, "current", c.round)
		return
	}
	duplicate := c.state.RemoteReady
	c.state.RemoteReady = true

	// A repeat means the peer is still re-sending and has not seen ours.
	if duplicate && c.state.LocalReady {
		c.send()
	}
	c.checkBoth()
}

// Reset starts a new round with both flags cleared.
func (c *Coordinator) Reset(round int) {
	c.Stop()
	c.round = round
	c.state = State{}
	c.fired = false
}

// Stop cancels any pending resend.
func (c *Coordinator) Stop() {
	if c.resend != nil {
		c.resend.Stop()
		c.resend = nil
	}
}

func (c *Coordinator) send() {
	if c.cfg.Send == nil {
		return
	}
	if err := c.cfg.Send(c.round); err != nil {
		c.log.Debug("ready send failed", "round", c.round, "err", err)
	}
}

func (c *Coordinator) checkBoth() bool {
	if !c.state.Both() {
		return false
	}
	c.Stop()
	if !c.fired {
		c.fired = true
		if c.cfg.OnBothReady != nil {
			c.cfg.OnBothReady(c.round)
		}
	}
	return true
}

func (c *Coordinator) armResend() {
	c.Stop()
	round := c.round
	c.resend = c.cfg.Scheduler.AfterFunc(c.cfg.ResendInterval, func() {
		c.resend = nil
		if round != c.round || !c.state.LocalReady || c.state.Both() {
			return
		}
		c.send()
		c.armResend()
	})
}
