// Package negotiator drives one peer's side of connection setup: it holds
// the signaling link, creates the PeerConnection, exchanges SDP and ICE
// candidates, and retries with backoff until the game channel opens or the
// attempt budget runs out.
//
// A Negotiator is not safe for concurrent use. Every method, and every
// callback it receives through Config.Post, runs on the owner's event loop.
package negotiator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/PASBarbari/Trascendence-sub000/internal/eventloop"
	"github.com/PASBarbari/Trascendence-sub000/internal/metrics"
	"github.com/PASBarbari/Trascendence-sub000/internal/signaling"
	"github.com/PASBarbari/Trascendence-sub000/internal/webrtcpeer"
)

const (
	DefaultConnectionTimeout      = 15 * time.Second
	DefaultMaxReconnectAttempts   = 3
	DefaultRetryBackoffStep       = 2 * time.Second
	DefaultReconnectBaseDelay     = 2 * time.Second
	DefaultHealthCheckInterval    = 10 * time.Second
	DefaultCandidateGatherTimeout = 3 * time.Second
	DefaultMinGatheredCandidates  = 2
	DefaultCloseLinger            = 500 * time.Millisecond

	closePollInterval = 10 * time.Millisecond
)

// Conn is the direct transport. *webrtcpeer.Peer implements it.
type Conn interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(webrtc.ICECandidateInit) error
	Send([]byte) error
	// BufferedAmount is the number of game channel bytes not yet sent.
	BufferedAmount() uint64
	ChannelOpen() bool
	ConnectionState() webrtc.PeerConnectionState
	Close() error
}

// Signaler is the relay link. *signaling.Client implements it.
type Signaler interface {
	Send(signaling.Message) error
	Close() error
}

// ConnFactory builds a fresh Conn per attempt. Hooks fire on transport
// goroutines.
type ConnFactory func(initiator bool, hooks webrtcpeer.Hooks) (Conn, error)

// SignalerFactory dials the relay. It may block; the negotiator calls it off
// the loop.
type SignalerFactory func(ctx context.Context, handler signaling.Handler) (Signaler, error)

// Events is how the negotiator reports upwards. Calls happen on the loop.
type Events interface {
	OnStateChange(State)
	// OnChannelMessage delivers one game channel message.
	OnChannelMessage([]byte)
	// OnFailed is called once, when the negotiator gives up.
	OnFailed(error)
	// OnPeerLeft reports that the opponent left the relay room while the
	// game channel was up.
	OnPeerLeft()
}

type Config struct {
	Initiator bool

	ConnectionTimeout      time.Duration
	MaxReconnectAttempts   int
	RetryBackoffStep       time.Duration
	ReconnectBaseDelay     time.Duration
	HealthCheckInterval    time.Duration
	CandidateGatherTimeout time.Duration
	MinGatheredCandidates  int
	// CloseLinger bounds how long CloseAfterFlush keeps the connection open
	// for queued messages.
	CloseLinger time.Duration

	NewConn       ConnFactory
	DialSignaling SignalerFactory

	Scheduler eventloop.Scheduler
	// Post moves a callback from a transport goroutine onto the loop.
	Post func(func()) bool
	// Spawn runs blocking work (dialing) off the loop. Defaults to a
	// goroutine.
	Spawn func(func())

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (c Config) withDefaults() Config {
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = DefaultConnectionTimeout
	}
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 0
	}
	if c.RetryBackoffStep <= 0 {
		c.RetryBackoffStep = DefaultRetryBackoffStep
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.CandidateGatherTimeout <= 0 {
		c.CandidateGatherTimeout = DefaultCandidateGatherTimeout
	}
	if c.MinGatheredCandidates < 0 {
		c.MinGatheredCandidates = 0
	}
	if c.CloseLinger <= 0 {
		c.CloseLinger = DefaultCloseLinger
	}
	if c.Spawn == nil {
		c.Spawn = func(fn func()) { go fn() }
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// attempt is everything that belongs to one PeerConnection. It is thrown
// away wholesale on retry.
type attempt struct {
	conn Conn

	// Local candidates in discovery order. The initiator keeps all of them
	// so a late peer-ready can be answered with a full replay.
	localCandidates []webrtc.ICECandidateInit
	remotePending   []webrtc.ICECandidateInit

	// Initiator.
	offer       *webrtc.SessionDescription
	gatherReady bool
	remoteReady bool
	offerSent   bool

	// Non-initiator.
	answerSent bool
}

type Negotiator struct {
	cfg    Config
	events Events
	log    *slog.Logger

	state  State
	sig    Signaler
	cur    *attempt
	remote string

	// linkGen and connGen invalidate callbacks from torn-down links and
	// connections.
	linkGen uint64
	connGen uint64

	retries    int
	sigRetries int

	timeoutTimer eventloop.Timer
	gatherTimer  eventloop.Timer
	backoffTimer eventloop.Timer
	healthTimer  eventloop.Timer

	dialCancel     context.CancelFunc
	failedReported bool

	// draining is a connection kept open by CloseAfterFlush.
	draining   Conn
	drainTimer eventloop.Timer
	done       chan struct{}
	doneClosed bool
}

func New(cfg Config, events Events) (*Negotiator, error) {
	if cfg.NewConn == nil || cfg.DialSignaling == nil {
		return nil, errors.New("negotiator: NewConn and DialSignaling are required")
	}
	if cfg.Scheduler == nil || cfg.Post == nil {
		return nil, errors.New("negotiator: Scheduler and Post are required")
	}
	if events == nil {
		return nil, errors.New("negotiator: events are required")
	}
	cfg = cfg.withDefaults()
	role := "guest"
	if cfg.Initiator {
		role = "host"
	}
	return &Negotiator{
		cfg:    cfg,
		events: events,
		log:    cfg.Logger.With("component", "negotiator", "role", role),
		state:  Idle,
		done:   make(chan struct{}),
	}, nil
}

func (n *Negotiator) State() State {
	return n.state
}

// RemotePeerID is the relay-assigned id of the opponent, once seen.
func (n *Negotiator) RemotePeerID() string {
	return n.remote
}

// Start dials the relay. It may be called once, from Idle.
func (n *Negotiator) Start() error {
	if n.state != Idle || n.linkGen != 0 {
		return fmt.Errorf("negotiator: start from %s", n.state)
	}
	n.dial()
	return nil
}

// Send writes one message to the game channel.
func (n *Negotiator) Send(data []byte) error {
	switch {
	case n.state.Terminal():
		return ErrClosed
	case n.state != Connected || n.cur == nil:
		return ErrNotConnected
	}
	return n.cur.conn.Send(data)
}

// Close tears everything down. No events follow except the Closed state
// change. A connection still draining after CloseAfterFlush is closed too.
func (n *Negotiator) Close() {
	n.stopDrain()
	if n.state == Closed {
		return
	}
	n.teardown()
	n.transition(Closed)
	n.markDone()
}

// CloseAfterFlush is Close for a voluntary exit. Signaling and timers stop
// at once, but an open game channel stays up until its send buffer drains
// or CloseLinger passes, so the final messages still reach the opponent.
func (n *Negotiator) CloseAfterFlush() {
	if n.state != Connected || n.cur == nil {
		n.Close()
		return
	}
	n.draining = n.cur.conn
	n.cur = nil
	n.teardown()
	n.transition(Closed)
	n.drainUntil(n.cfg.Scheduler.Now().Add(n.cfg.CloseLinger))
}

// Done is closed once the connection is released, including any drain
// started by CloseAfterFlush.
func (n *Negotiator) Done() <-chan struct{} {
	return n.done
}

func (n *Negotiator) drainUntil(deadline time.Time) {
	n.drainTimer = nil
	if n.draining == nil {
		return
	}
	if n.draining.BufferedAmount() == 0 || !n.cfg.Scheduler.Now().Before(deadline) {
		n.stopDrain()
		return
	}
	n.drainTimer = n.cfg.Scheduler.AfterFunc(closePollInterval, func() {
		n.drainUntil(deadline)
	})
}

func (n *Negotiator) stopDrain() {
	if n.drainTimer != nil {
		n.drainTimer.Stop()
		n.drainTimer = nil
	}
	if n.draining != nil {
		_ = n.draining.Close()
		n.draining = nil
		n.markDone()
	}
}

func (n *Negotiator) markDone() {
	if !n.doneClosed {
		n.doneClosed = true
		close(n.done)
	}
}

func (n *Negotiator) transition(to State) bool {
	from := n.state
	if !from.canTransition(to) {
		n.log.Warn("refusing illegal state transition", "from", from.String(), "to", to.String())
		return false
	}
	n.state = to
	n.log.Info("connection state changed", "from", from.String(), "to", to.String())
	n.events.OnStateChange(to)
	return true
}

func (n *Negotiator) stopTimers() {
	for _, t := range []*eventloop.Timer{&n.timeoutTimer, &n.gatherTimer, &n.backoffTimer, &n.healthTimer} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
}

// teardown closes the current connection and link and bumps both
// generations so anything still in flight from them is ignored.
func (n *Negotiator) teardown() {
	n.stopTimers()
	n.linkGen++
	n.connGen++
	if n.dialCancel != nil {
		n.dialCancel()
		n.dialCancel = nil
	}
	if n.cur != nil {
		_ = n.cur.conn.Close()
		n.cur = nil
	}
	if n.sig != nil {
		_ = n.sig.Close()
		n.sig = nil
	}
}

func (n *Negotiator) fail(err error) {
	if n.state.Terminal() {
		return
	}
	n.teardown()
	n.cfg.Metrics.Inc(metrics.NegotiationFailures)
	n.log.Error("giving up on connection", "err", err)
	n.transition(Failed)
	if !n.failedReported {
		n.failedReported = true
		n.events.OnFailed(err)
	}
}

// dial connects to the relay off the loop and posts the result back.
func (n *Negotiator) dial() {
	n.linkGen++
	gen := n.linkGen
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.ConnectionTimeout)
	n.dialCancel = cancel
	handler := &linkHandler{n: n, gen: gen}

	n.cfg.Spawn(func() {
		sig, err := n.cfg.DialSignaling(ctx, handler)
		cancel()
		posted := n.cfg.Post(func() { n.onDialed(gen, sig, err) })
		if !posted && sig != nil {
			_ = sig.Close()
		}
	})
}

func (n *Negotiator) onDialed(gen uint64, sig Signaler, err error) {
	if gen != n.linkGen || n.state.Terminal() {
		if sig != nil {
			_ = sig.Close()
		}
		return
	}
	n.dialCancel = nil
	if err != nil {
		n.log.Warn("signaling dial failed", "err", err)
		n.signalingLost(err)
		return
	}
	n.sig = sig

	if n.state == Idle {
		n.transition(SignalingConnected)
	}
	n.sendSignal(signaling.PeerReady(n.cfg.Initiator, n.cfg.Scheduler.Now()))
	n.beginAttempt()
}

// beginAttempt creates a fresh connection over the current link and arms
// the attempt timeout.
func (n *Negotiator) beginAttempt() {
	for _, t := range []*eventloop.Timer{&n.gatherTimer, &n.healthTimer} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
	if n.cur != nil {
		_ = n.cur.conn.Close()
		n.cur = nil
	}
	n.connGen++
	conn, err := n.cfg.NewConn(n.cfg.Initiator, n.hooks(n.connGen))
	if err != nil {
		n.fail(fmt.Errorf("create connection: %w", err))
		return
	}
	n.cur = &attempt{conn: conn}

	if n.state != Negotiating && !n.transition(Negotiating) {
		return
	}
	n.armTimeout()

	if n.cfg.Initiator {
		offer, err := conn.CreateOffer()
		if err != nil {
			n.retry(fmt.Errorf("%w: %v", ErrConnectionDegraded, err))
			return
		}
		n.cur.offer = &offer
		gen := n.connGen
		n.gatherTimer = n.cfg.Scheduler.AfterFunc(n.cfg.CandidateGatherTimeout, func() {
			if gen != n.connGen || n.cur == nil {
				return
			}
			n.gatherTimer = nil
			n.cur.gatherReady = true
			n.maybeSendOffer()
		})
	}
}

func (n *Negotiator) armTimeout() {
	if n.timeoutTimer != nil {
		n.timeoutTimer.Stop()
	}
	gen := n.connGen
	n.timeoutTimer = n.cfg.Scheduler.AfterFunc(n.cfg.ConnectionTimeout, func() {
		if gen != n.connGen || n.state != Negotiating {
			return
		}
		n.timeoutTimer = nil
		n.retry(ErrNegotiationTimeout)
	})
}

func (n *Negotiator) hooks(gen uint64) webrtcpeer.Hooks {
	onLoop := func(fn func()) {
		n.cfg.Post(func() {
			if gen != n.connGen || n.cur == nil {
				return
			}
			fn()
		})
	}
	return webrtcpeer.Hooks{
		OnLocalCandidate: func(c webrtc.ICECandidateInit) {
			onLoop(func() { n.onLocalCandidate(c) })
		},
		OnGatheringComplete: func() {
			onLoop(n.onGatheringComplete)
		},
		OnStateChange: func(s webrtc.PeerConnectionState) {
			onLoop(func() { n.onConnState(s) })
		},
		OnChannelOpen: func() {
			onLoop(n.onChannelOpen)
		},
		OnChannelClose: func() {
			onLoop(func() { n.log.Debug("game channel closed", "state", n.state.String()) })
		},
		OnMessage: func(b []byte) {
			onLoop(func() { n.events.OnChannelMessage(b) })
		},
	}
}

func (n *Negotiator) sendSignal(m signaling.Message) {
	if n.sig == nil {
		return
	}
	if err := n.sig.Send(m); err != nil {
		n.log.Warn("signaling send failed", "type", string(m.Type), "err", err)
	}
}

func (n *Negotiator) onLocalCandidate(c webrtc.ICECandidateInit) {
	a := n.cur
	a.localCandidates = append(a.localCandidates, c)

	if n.cfg.Initiator {
		if a.offerSent {
			n.sendSignal(signaling.ICECandidate(c))
			return
		}
		if len(a.localCandidates) >= n.cfg.MinGatheredCandidates {
			a.gatherReady = true
		}
		n.maybeSendOffer()
		return
	}

	if a.answerSent {
		n.sendSignal(signaling.ICECandidate(c))
	}
}

func (n *Negotiator) onGatheringComplete() {
	if n.cfg.Initiator {
		n.cur.gatherReady = true
		n.maybeSendOffer()
	}
}

// maybeSendOffer sends the offer once both gates are open: enough local
// candidates (or the gather timeout) and a peer-ready from the other side.
func (n *Negotiator) maybeSendOffer() {
	a := n.cur
	if a.offer == nil || a.offerSent || !a.gatherReady || !a.remoteReady {
		return
	}
	if n.gatherTimer != nil {
		n.gatherTimer.Stop()
		n.gatherTimer = nil
	}
	a.offerSent = true
	n.sendOfferAndCandidates()
}

func (n *Negotiator) sendOfferAndCandidates() {
	a := n.cur
	n.log.Debug("sending offer", "candidates", len(a.localCandidates))
	n.sendSignal(signaling.Offer(*a.offer))
	for _, c := range a.localCandidates {
		n.sendSignal(signaling.ICECandidate(c))
	}
}

func (n *Negotiator) onConnState(s webrtc.PeerConnectionState) {
	switch s {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		if n.state == Negotiating || n.state == Connected {
			n.retry(fmt.Errorf("%w: peer connection %s", ErrConnectionDegraded, s))
		}
	}
}

func (n *Negotiator) onChannelOpen() {
	if n.state != Negotiating {
		return
	}
	n.stopTimers()
	n.retries = 0
	n.sigRetries = 0
	if n.transition(Connected) {
		n.armHealthCheck()
	}
}

func (n *Negotiator) armHealthCheck() {
	gen := n.connGen
	n.healthTimer = n.cfg.Scheduler.AfterFunc(n.cfg.HealthCheckInterval, func() {
		if gen != n.connGen || n.state != Connected || n.cur == nil {
			return
		}
		n.healthTimer = nil
		conn := n.cur.conn
		if !conn.ChannelOpen() || conn.ConnectionState() != webrtc.PeerConnectionStateConnected {
			n.cfg.Metrics.Inc(metrics.HealthCheckFailures)
			n.retry(fmt.Errorf("%w: health check failed (channel_open=%v pc=%s)", ErrConnectionDegraded, conn.ChannelOpen(), conn.ConnectionState()))
			return
		}
		n.armHealthCheck()
	})
}

// retry is the shared degradation path: drop the connection and the link,
// wait attempt × RetryBackoffStep, then start over.
func (n *Negotiator) retry(cause error) {
	if n.state.Terminal() || n.state == Degraded {
		return
	}
	n.retries++
	if n.retries > n.cfg.MaxReconnectAttempts {
		n.fail(fmt.Errorf("%w (after %d retries)", cause, n.retries-1))
		return
	}
	n.cfg.Metrics.Inc(metrics.NegotiationRetries)
	n.log.Warn("connection attempt failed, retrying", "attempt", n.retries, "err", cause)

	n.teardown()
	n.transition(Degraded)
	n.scheduleDial(time.Duration(n.retries) * n.cfg.RetryBackoffStep)
}

// signalingLost handles a failed dial or an abrupt relay close before the
// channel opened.
func (n *Negotiator) signalingLost(cause error) {
	n.sigRetries++
	if n.sigRetries > n.cfg.MaxReconnectAttempts {
		n.fail(fmt.Errorf("%w: %v", ErrSignalingUnavailable, cause))
		return
	}
	n.cfg.Metrics.Inc(metrics.SignalingReconnects)
	n.log.Warn("signaling lost, reconnecting", "attempt", n.sigRetries, "err", cause)

	n.teardown()
	if n.state != Idle && n.state != Degraded {
		n.transition(Degraded)
	}
	n.scheduleDial(time.Duration(n.sigRetries) * n.cfg.ReconnectBaseDelay)
}

func (n *Negotiator) scheduleDial(delay time.Duration) {
	gen := n.linkGen
	n.backoffTimer = n.cfg.Scheduler.AfterFunc(delay, func() {
		if gen != n.linkGen || n.state.Terminal() {
			return
		}
		n.backoffTimer = nil
		n.dial()
	})
}

func (n *Negotiator) onSignalClosed(err error) {
	n.sig = nil
	switch {
	case err == nil:
		return
	case n.state == Connected:
		// The game channel no longer needs the relay.
		n.log.Info("signaling link closed after connect", "err", err)
		return
	}
	n.signalingLost(err)
}

func (n *Negotiator) onSignal(m signaling.Message) {
	if m.From != "" && m.From != n.remote {
		n.remote = m.From
	}
	if n.cur == nil {
		return
	}

	switch m.Type {
	case signaling.TypePeerReady:
		n.onRemotePeerReady(m)
	case signaling.TypeOffer:
		n.onOffer(m)
	case signaling.TypeAnswer:
		n.onAnswer(m)
	case signaling.TypeICECandidate:
		n.onRemoteCandidate(m.Candidate.ToPion())
	case signaling.TypePeerJoined:
		n.log.Info("peer joined room", "peer_id", m.PeerID)
	case signaling.TypePeerLeft:
		n.onPeerLeft(m)
	case signaling.TypeError:
		n.log.Warn("relay reported error", "code", m.Code, "message", m.Message)
		if m.Code == signaling.ErrorCodeRoomFull || m.Code == signaling.ErrorCodeUnauthorized {
			n.fail(fmt.Errorf("%w: %s: %s", ErrSignalingUnavailable, m.Code, m.Message))
		}
	}
}

func (n *Negotiator) onRemotePeerReady(m signaling.Message) {
	if m.Initiator() == n.cfg.Initiator {
		n.log.Warn("ignoring peer-ready from a peer with the same role", "initiator", m.Initiator())
		return
	}
	a := n.cur
	if n.cfg.Initiator {
		if a.offerSent {
			if n.state == Negotiating {
				n.sendOfferAndCandidates()
			}
			return
		}
		a.remoteReady = true
		n.maybeSendOffer()
		return
	}
	// The initiator may have joined after our own peer-ready went out.
	if !a.conn.HasRemoteDescription() {
		n.sendSignal(signaling.PeerReady(false, n.cfg.Scheduler.Now()))
	}
}

func (n *Negotiator) onOffer(m signaling.Message) {
	if n.cfg.Initiator {
		n.log.Warn("initiator ignoring offer")
		return
	}
	desc, err := m.Offer.ToPion()
	if err != nil {
		n.log.Warn("ignoring invalid offer", "err", err)
		return
	}

	if n.cur.conn.HasRemoteDescription() {
		if n.state != Negotiating {
			n.log.Info("ignoring offer outside negotiation", "state", n.state.String())
			return
		}
		// The initiator retried with a new connection; follow it.
		n.log.Info("new offer on a negotiated connection, recreating")
		n.beginAttempt()
		if n.cur == nil {
			return
		}
	}

	a := n.cur
	if err := a.conn.SetRemoteDescription(desc); err != nil {
		n.log.Warn("failed to apply offer", "err", err)
		return
	}
	n.flushRemoteCandidates()

	answer, err := a.conn.CreateAnswer()
	if err != nil {
		n.retry(fmt.Errorf("%w: %v", ErrConnectionDegraded, err))
		return
	}
	n.sendSignal(signaling.Answer(answer))
	a.answerSent = true
	for _, c := range a.localCandidates {
		n.sendSignal(signaling.ICECandidate(c))
	}
}

func (n *Negotiator) onAnswer(m signaling.Message) {
	if !n.cfg.Initiator {
		n.log.Warn("non-initiator ignoring answer")
		return
	}
	a := n.cur
	if !a.offerSent {
		n.log.Warn("ignoring answer before offer")
		return
	}
	if a.conn.HasRemoteDescription() {
		n.log.Debug("ignoring duplicate answer")
		return
	}
	desc, err := m.Answer.ToPion()
	if err != nil {
		n.log.Warn("ignoring invalid answer", "err", err)
		return
	}
	if err := a.conn.SetRemoteDescription(desc); err != nil {
		n.log.Warn("failed to apply answer", "err", err)
		return
	}
	n.flushRemoteCandidates()
}

func (n *Negotiator) onRemoteCandidate(c webrtc.ICECandidateInit) {
	a := n.cur
	if !a.conn.HasRemoteDescription() {
		a.remotePending = append(a.remotePending, c)
		n.cfg.Metrics.Inc(metrics.CandidatesBuffered)
		return
	}
	if err := a.conn.AddICECandidate(c); err != nil {
		n.log.Warn("failed to add remote candidate", "err", err)
	}
}

func (n *Negotiator) flushRemoteCandidates() {
	a := n.cur
	pending := a.remotePending
	a.remotePending = nil
	for _, c := range pending {
		if err := a.conn.AddICECandidate(c); err != nil {
			n.log.Warn("failed to add buffered remote candidate", "err", err)
		}
	}
}

// onPeerLeft reports a departure during play upwards. Before the channel
// opens it restarts an initiator whose answered connection lost its
// opponent, so the returning peer gets a fresh offer.
func (n *Negotiator) onPeerLeft(m signaling.Message) {
	n.log.Info("peer left room", "peer_id", m.PeerID, "state", n.state.String())
	switch n.state {
	case Connected:
		if n.remote != "" && m.PeerID != "" && m.PeerID != n.remote {
			return
		}
		n.events.OnPeerLeft()
		return
	case Negotiating:
	default:
		return
	}
	if n.cfg.Initiator && n.cur.conn.HasRemoteDescription() {
		n.beginAttempt()
		return
	}
	if n.cfg.Initiator {
		n.cur.remoteReady = false
	}
}

type linkHandler struct {
	n   *Negotiator
	gen uint64
}

func (h *linkHandler) OnMessage(m signaling.Message) {
	h.n.cfg.Post(func() {
		if h.gen != h.n.linkGen || h.n.state.Terminal() {
			return
		}
		h.n.onSignal(m)
	})
}

func (h *linkHandler) OnClose(err error) {
	h.n.cfg.Post(func() {
		if h.gen != h.n.linkGen || h.n.state.Terminal() {
			return
		}
		h.n.onSignalClosed(err)
	})
}
