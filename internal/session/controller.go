// Package session runs one match between a Host and a Guest: it turns
// connection progress, ready handshakes and game channel events into the
// Lobby → Ready → Playing → GameOver lifecycle, drives the simulation tick,
// and tears everything down exactly once when the match ends.
package session

import (
	"errors"
	"log/slog"
	"time"

	"github.com/PASBarbari/Trascendence-sub000/internal/eventloop"
	"github.com/PASBarbari/Trascendence-sub000/internal/metrics"
	"github.com/PASBarbari/Trascendence-sub000/internal/negotiator"
	"github.com/PASBarbari/Trascendence-sub000/internal/readiness"
	"github.com/PASBarbari/Trascendence-sub000/internal/statesync"
	"github.com/PASBarbari/Trascendence-sub000/internal/syncproto"
)

const (
	DefaultTickInterval = time.Second / 60
	// DefaultEventRepeats is how many copies of a lifecycle event are sent.
	// The game channel never retransmits, and every event handler tolerates
	// duplicates.
	DefaultEventRepeats = 3
)

type Config struct {
	RoomID      string
	Host        bool
	LocalPeerID string

	WinScore            int
	TickInterval        time.Duration
	ReadyResendInterval time.Duration
	EventRepeats        int

	// Sync tunes the state sync engine. Role, player, field, Send, Logger
	// and Metrics are filled in by the controller.
	Sync statesync.Config

	Scheduler eventloop.Scheduler
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Controller is the per-session state machine. It is not safe for concurrent
// use: everything, including the Observer callbacks, runs on one loop.
type Controller struct {
	cfg Config
	log *slog.Logger

	transport Transport
	sim       Simulation
	obs       Observer

	enc   syncproto.Encoder
	sync  *statesync.Engine
	ready *readiness.Coordinator

	state    State
	conn     negotiator.State
	round    int
	pausedBy syncproto.Player

	localPaddle    syncproto.Vec3
	localPaddleVel syncproto.Vec3
	score          syncproto.ScoreUpdate

	tick     eventloop.Timer
	lastTick time.Time

	closeErr error
}

// New builds a controller in Lobby. transport may be nil until the owner
// attaches one with SetTransport.
func New(cfg Config, transport Transport, sim Simulation, obs Observer) (*Controller, error) {
	if cfg.Scheduler == nil {
		return nil, errors.New("session: Scheduler is required")
	}
	if sim == nil {
		return nil, errors.New("session: Simulation is required")
	}
	if obs == nil {
		obs = NopObserver{}
	}
	if cfg.WinScore <= 0 {
		cfg.WinScore = statesync.DefaultWinScore
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.EventRepeats <= 0 {
		cfg.EventRepeats = DefaultEventRepeats
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	role := "guest"
	if cfg.Host {
		role = "host"
	}
	c := &Controller{
		cfg:       cfg,
		log:       cfg.Logger.With("component", "session", "room_id", cfg.RoomID, "role", role, "peer_id", cfg.LocalPeerID),
		transport: transport,
		sim:       sim,
		obs:       obs,
		state:     Lobby,
		conn:      negotiator.Idle,
	}

	sc := cfg.Sync
	sc.Host = cfg.Host
	sc.LocalPlayer = c.LocalPlayer()
	sc.Field = sim.Field()
	sc.WinScore = cfg.WinScore
	sc.Send = c.send
	sc.Logger = cfg.Logger
	sc.Metrics = cfg.Metrics
	c.sync = statesync.New(sc)

	c.ready = readiness.New(readiness.Config{
		ResendInterval: cfg.ReadyResendInterval,
		Scheduler:      cfg.Scheduler,
		Send: func(round int) error {
			return c.send(syncproto.Event(syncproto.GameEvent{Kind: syncproto.EventReady, Round: round}))
		},
		OnBothReady: c.onBothReady,
		Logger:      cfg.Logger,
	})
	return c, nil
}

// SetTransport attaches the game channel. It exists because the negotiator
// needs the controller as its Events before it can be built.
func (c *Controller) SetTransport(t Transport) {
	c.transport = t
}

func (c *Controller) IsHost() bool                 { return c.cfg.Host }
func (c *Controller) State() State                 { return c.state }
func (c *Controller) Round() int                   { return c.round }
func (c *Controller) PausedBy() syncproto.Player   { return c.pausedBy }
func (c *Controller) Readiness() readiness.State   { return c.ready.State() }
func (c *Controller) Score() syncproto.ScoreUpdate { return c.score }

// LocalPlayer is PlayerOne for the Host and PlayerTwo for the Guest.
func (c *Controller) LocalPlayer() syncproto.Player {
	if c.cfg.Host {
		return syncproto.PlayerOne
	}
	return syncproto.PlayerTwo
}

func (c *Controller) remotePlayer() syncproto.Player {
	if c.cfg.Host {
		return syncproto.PlayerTwo
	}
	return syncproto.PlayerOne
}

// Start announces the role and begins ticking.
func (c *Controller) Start() {
	c.obs.OnRoleAssigned(c.cfg.Host)
	c.obs.OnSessionState(c.state)
	c.lastTick = c.cfg.Scheduler.Now()
	c.scheduleTick()
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.log.Info("session state changed", "from", c.state.String(), "to", s.String())
	c.state = s
	c.obs.OnSessionState(s)
}

func (c *Controller) send(m syncproto.Message) error {
	if c.transport == nil {
		return negotiator.ErrNotConnected
	}
	data, err := c.enc.Encode(m)
	if err != nil {
		return err
	}
	return c.transport.Send(data)
}

// sendEvent sends EventRepeats copies of ev. Failures are logged; the
// protocol recovers from lost events by repetition and state checks.
func (c *Controller) sendEvent(ev syncproto.GameEvent) {
	for range c.cfg.EventRepeats {
		if err := c.send(syncproto.Event(ev)); err != nil {
			c.log.Debug("event send failed", "kind", string(ev.Kind), "err", err)
			return
		}
	}
}

// --- negotiator.Events ---

func (c *Controller) OnStateChange(s negotiator.State) {
	c.conn = s
	c.obs.OnConnectionStatus(s, connectionMessage(s))
	if s == negotiator.Connected && c.state != Closed {
		c.onConnected()
	}
}

func (c *Controller) OnChannelMessage(data []byte) {
	if c.state == Closed {
		return
	}
	msg, err := syncproto.Parse(data)
	if err != nil {
		c.cfg.Metrics.Inc(metrics.SyncDropMalformed)
		c.log.Debug("dropping malformed game message", "err", err)
		return
	}
	c.handle(msg)
}

func (c *Controller) OnFailed(err error) {
	c.closeWith(err)
}

// OnPeerLeft is the relay noticing the opponent's departure. It stands in
// for a player_left that never arrived on the game channel.
func (c *Controller) OnPeerLeft() {
	if c.state == Closed {
		return
	}
	c.opponentLeft()
}

func connectionMessage(s negotiator.State) string {
	switch s {
	case negotiator.Idle:
		return "Waiting to connect"
	case negotiator.SignalingConnected:
		return "Connected to signaling server, waiting for opponent"
	case negotiator.Negotiating:
		return "Negotiating peer connection"
	case negotiator.Connected:
		return "Connected to opponent"
	case negotiator.Degraded:
		return "Connection lost, retrying"
	case negotiator.Failed:
		return "Could not connect to opponent"
	case negotiator.Closed:
		return "Disconnected"
	default:
		return s.String()
	}
}

func (c *Controller) onConnected() {
	if c.cfg.Host {
		field := c.sim.Field()
		c.sendEvent(syncproto.GameEvent{Kind: syncproto.EventFieldDimensions, Field: &field})
	}
	if c.state == Lobby {
		c.setState(Ready)
		// The opponent's ready can be handled before our own Connected
		// event, in which case the handshake already completed in Lobby.
		if c.ready.Round() == c.round && c.ready.State().Both() {
			c.onBothReady(c.round)
		}
	}
}

// --- collaborator calls ---

// MarkLocalReady is allowed before the channel opens; the ready event is
// re-sent until the peer answers.
func (c *Controller) MarkLocalReady() error {
	switch c.state {
	case Lobby, Ready:
		c.ready.MarkLocalReady()
		return nil
	case Closed:
		return ErrClosed
	}
	return wrongState("ready", c.state)
}

func (c *Controller) RequestPause() error {
	if c.state == Closed {
		return ErrClosed
	}
	if c.state != Playing {
		return wrongState("pause", c.state)
	}
	me := c.LocalPlayer()
	c.sendEvent(syncproto.GameEvent{Kind: syncproto.EventPause, ByPlayer: me})
	c.enterPaused(me)
	return nil
}

func (c *Controller) RequestResume() error {
	if c.state == Closed {
		return ErrClosed
	}
	if c.state != Paused {
		return wrongState("resume", c.state)
	}
	me := c.LocalPlayer()
	if c.pausedBy != me {
		return ErrNotPauseOwner
	}
	c.sendEvent(syncproto.GameEvent{Kind: syncproto.EventResume, ByPlayer: me})
	c.enterPlaying()
	c.obs.OnResumed()
	return nil
}

// RequestRematch restarts the match on the Host, or asks the Host to.
func (c *Controller) RequestRematch() error {
	switch c.state {
	case Playing, Paused, GameOver:
	case Closed:
		return ErrClosed
	default:
		return wrongState("rematch", c.state)
	}
	if !c.cfg.Host {
		c.sendEvent(syncproto.GameEvent{Kind: syncproto.EventRematchRequest, Round: c.round})
		return nil
	}
	c.hostRematch()
	return nil
}

// Leave tells the opponent and closes the session.
func (c *Controller) Leave() error {
	if c.state == Closed {
		return ErrClosed
	}
	c.sendEvent(syncproto.GameEvent{Kind: syncproto.EventPlayerLeft})
	c.close(nil, true)
	return nil
}

// SetLocalPaddle applies local input immediately; the tick forwards it to
// the opponent at the paddle rate.
func (c *Controller) SetLocalPaddle(pos, vel syncproto.Vec3) {
	c.sim.SetPaddle(c.LocalPlayer(), pos)
	c.localPaddle = c.sim.Snapshot().Paddle(c.LocalPlayer())
	c.localPaddleVel = vel
}

// --- transitions ---

func (c *Controller) onBothReady(round int) {
	if c.state != Ready || round != c.round {
		return
	}
	c.obs.OnBothReady()
	c.enterPlaying()
}

func (c *Controller) enterPlaying() {
	c.pausedBy = 0
	c.lastTick = c.cfg.Scheduler.Now()
	c.setState(Playing)
}

func (c *Controller) enterPaused(by syncproto.Player) {
	c.pausedBy = by
	c.setState(Paused)
	c.obs.OnPaused(by)
}

func (c *Controller) hostRematch() {
	c.beginRound(c.round + 1)
	c.sendEvent(syncproto.GameEvent{Kind: syncproto.EventRematch, Round: c.round})
}

// beginRound resets everything that belongs to one game and waits for a
// fresh ready handshake.
func (c *Controller) beginRound(round int) {
	c.round = round
	c.pausedBy = 0
	c.score = syncproto.ScoreUpdate{}
	c.sim.Reset()
	c.sync.Reset()
	c.ready.Reset(round)
	c.localPaddle = c.sim.Snapshot().Paddle(c.LocalPlayer())
	c.localPaddleVel = syncproto.Vec3{}
	c.log.Info("starting round", "round", round)
	c.setState(Ready)
	c.obs.OnScoreUpdate(c.score)
}

func (c *Controller) hostGameOver(winner syncproto.Player) {
	scores := c.score
	c.setState(GameOver)
	c.sendEvent(syncproto.GameEvent{Kind: syncproto.EventGameOver, Winner: winner.String(), Scores: &scores})
	c.obs.OnGameOver(winner.String(), scores)
}

func (c *Controller) opponentLeft() {
	c.obs.OnOpponentLeft()
	c.closeWith(ErrPeerLeft)
}

func (c *Controller) closeWith(err error) {
	c.close(err, false)
}

// close ends the session once. flush lets queued game messages drain
// before the transport goes away.
func (c *Controller) close(err error, flush bool) {
	if c.state == Closed {
		return
	}
	c.closeErr = err
	if c.tick != nil {
		c.tick.Stop()
		c.tick = nil
	}
	c.ready.Stop()
	c.setState(Closed)
	if c.transport != nil {
		if flush {
			c.transport.CloseAfterFlush()
		} else {
			c.transport.Close()
		}
	}
	if err != nil {
		c.log.Info("session closed", "reason", err)
	} else {
		c.log.Info("session closed")
	}
	c.obs.OnClosed(err)
}

// Err is the close reason once the session is Closed.
func (c *Controller) Err() error {
	return c.closeErr
}

// --- tick ---

func (c *Controller) scheduleTick() {
	c.tick = c.cfg.Scheduler.AfterFunc(c.cfg.TickInterval, func() {
		if c.state == Closed {
			return
		}
		now := c.cfg.Scheduler.Now()
		dt := now.Sub(c.lastTick)
		c.lastTick = now
		c.Tick(now, dt)
		if c.state != Closed {
			c.scheduleTick()
		}
	})
}

// Tick advances one frame. The Host steps the simulation and publishes
// authoritative state; both sides forward their own paddle.
func (c *Controller) Tick(now time.Time, dt time.Duration) {
	if c.state != Playing {
		return
	}
	if c.cfg.Host {
		c.hostStep(now, dt)
		if c.state != Playing {
			return
		}
	}
	if _, err := c.sync.PublishPaddle(now, c.localPaddle, c.localPaddleVel); err != nil {
		c.log.Debug("paddle send failed", "err", err)
	}
}

func (c *Controller) hostStep(now time.Time, dt time.Duration) {
	snap := c.sim.Step(dt)
	if _, err := c.sync.PublishEntity(now, snap.Ball, snap.BallVelocity); err != nil && !errors.Is(err, statesync.ErrInvalidStateMessage) {
		c.log.Debug("entity send failed", "err", err)
	}

	score := syncproto.ScoreUpdate{ScoreA: snap.ScoreA, ScoreB: snap.ScoreB}
	if score == c.score {
		return
	}
	c.score = score
	if _, err := c.sync.PublishScore(score.ScoreA, score.ScoreB); err != nil {
		c.log.Debug("score send failed", "err", err)
	}
	c.obs.OnScoreUpdate(score)
	if winner, ok := c.sim.Winner(c.cfg.WinScore); ok {
		c.hostGameOver(winner)
	}
}

// --- inbound ---

func (c *Controller) handle(msg syncproto.Message) {
	switch msg.Type {
	case syncproto.TypePaddle:
		c.handlePaddle(*msg.Paddle)
	case syncproto.TypeEntity:
		c.handleEntity(*msg.Entity)
	case syncproto.TypeScore:
		c.handleScore(*msg.Score)
	case syncproto.TypeEvent:
		c.handleEvent(*msg.Event)
	}
}

func (c *Controller) handlePaddle(p syncproto.PaddleState) {
	p, err := c.sync.HandlePaddle(p)
	if err != nil {
		return
	}
	c.sim.SetPaddle(p.Player, p.Position)
	c.obs.OnRemotePaddleState(p)
}

func (c *Controller) handleEntity(e syncproto.EntityState) {
	if c.state != Playing && c.state != Paused && !c.cfg.Host {
		c.log.Debug("ignoring entity state outside play", "state", c.state.String())
		return
	}
	u, err := c.sync.HandleEntity(c.cfg.Scheduler.Now(), e)
	if err != nil {
		return
	}
	c.sim.SetBall(u.Position, u.Velocity)
	c.obs.OnRemoteEntityState(u)
}

func (c *Controller) handleScore(s syncproto.ScoreUpdate) {
	reached, err := c.sync.HandleScore(s)
	if err != nil {
		return
	}
	if s == c.score {
		return
	}
	c.score = s
	c.sim.SetScore(s.ScoreA, s.ScoreB)
	c.obs.OnScoreUpdate(s)
	if reached {
		c.log.Debug("win score reached, waiting for game_over", "score_a", s.ScoreA, "score_b", s.ScoreB)
	}
}

func (c *Controller) handleEvent(ev syncproto.GameEvent) {
	switch ev.Kind {
	case syncproto.EventReady:
		c.onRemoteReady(ev.Round)
	case syncproto.EventPause:
		c.onRemotePause(ev.ByPlayer)
	case syncproto.EventResume:
		c.onRemoteResume(ev.ByPlayer)
	case syncproto.EventRematchRequest:
		c.onRematchRequest(ev.Round)
	case syncproto.EventRematch:
		c.onRematch(ev.Round)
	case syncproto.EventGameOver:
		c.onGameOver(ev)
	case syncproto.EventPlayerLeft:
		c.opponentLeft()
	case syncproto.EventFieldDimensions:
		c.onFieldDimensions(*ev.Field)
	default:
		c.log.Debug("ignoring unknown event", "kind", string(ev.Kind))
	}
}

func (c *Controller) onRemoteReady(round int) {
	// A Guest that missed the rematch event learns about the new round from
	// the Host's ready.
	if !c.cfg.Host && round > c.round && (c.state == GameOver || c.state == Playing || c.state == Paused) {
		c.beginRound(round)
	}
	c.ready.HandleRemoteReady(round)
}

// onRemotePause handles the opponent's pause. If both sides paused at once,
// the Host owns the pause on both peers.
func (c *Controller) onRemotePause(by syncproto.Player) {
	switch c.state {
	case Playing:
		if by != c.remotePlayer() {
			c.log.Debug("ignoring pause claiming the local player")
			return
		}
		c.enterPaused(by)
	case Paused:
		if c.pausedBy == by || c.pausedBy == syncproto.PlayerOne {
			return
		}
		c.log.Info("simultaneous pause, host keeps ownership")
		c.enterPaused(syncproto.PlayerOne)
	}
}

func (c *Controller) onRemoteResume(by syncproto.Player) {
	if c.state != Paused {
		return
	}
	if by != c.pausedBy || by == c.LocalPlayer() {
		c.log.Debug("ignoring resume from a player that does not own the pause", "by", by.String())
		return
	}
	c.enterPlaying()
	c.obs.OnResumed()
}

// onRematchRequest honours a request made during the current round only.
// The request is repeated on a lossy, unordered channel, so a copy can
// arrive after the rematch it asked for has already started.
func (c *Controller) onRematchRequest(round int) {
	if !c.cfg.Host {
		return
	}
	if round != c.round {
		c.log.Debug("ignoring rematch request for another round", "round", round, "current", c.round)
		return
	}
	switch c.state {
	case Playing, Paused, GameOver:
		c.hostRematch()
	default:
		// Duplicates of a request already honoured arrive while Ready.
		c.log.Debug("ignoring rematch request", "state", c.state.String())
	}
}

func (c *Controller) onRematch(round int) {
	if c.cfg.Host || round <= c.round {
		return
	}
	c.beginRound(round)
}

func (c *Controller) onGameOver(ev syncproto.GameEvent) {
	if c.cfg.Host {
		c.cfg.Metrics.Inc(metrics.SyncDropWrongRole)
		return
	}
	if c.state != Playing && c.state != Paused {
		return
	}
	if ev.Scores != nil {
		c.score = *ev.Scores
		c.sim.SetScore(c.score.ScoreA, c.score.ScoreB)
	}
	c.setState(GameOver)
	c.obs.OnGameOver(ev.Winner, c.score)
}

func (c *Controller) onFieldDimensions(f syncproto.FieldDimensions) {
	if c.cfg.Host {
		return
	}
	if f != c.sync.Field() {
		c.log.Info("using host field dimensions", "half_x", f.HalfX, "half_y", f.HalfY, "half_z", f.HalfZ)
	}
	c.sync.SetField(f)
}
