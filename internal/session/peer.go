package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/PASBarbari/Trascendence-sub000/internal/auth"
	"github.com/PASBarbari/Trascendence-sub000/internal/config"
	"github.com/PASBarbari/Trascendence-sub000/internal/eventloop"
	"github.com/PASBarbari/Trascendence-sub000/internal/metrics"
	"github.com/PASBarbari/Trascendence-sub000/internal/negotiator"
	"github.com/PASBarbari/Trascendence-sub000/internal/signaling"
	"github.com/PASBarbari/Trascendence-sub000/internal/statesync"
	"github.com/PASBarbari/Trascendence-sub000/internal/syncproto"
	"github.com/PASBarbari/Trascendence-sub000/internal/webrtcpeer"
)

type PeerOptions struct {
	Config   config.Config
	Sim      Simulation
	Observer Observer

	// API overrides the WebRTC API built from Config.
	API *webrtc.API
	// Dialer overrides the signaling WebSocket dialer.
	Dialer *websocket.Dialer

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Peer is one side of a match: an event loop, the negotiator that owns the
// connection, and the controller that owns the game.
type Peer struct {
	loop *eventloop.Loop
	ctrl *Controller
	neg  *negotiator.Negotiator
	log  *slog.Logger

	peerID string
	closed chan struct{}
}

func NewPeer(opts PeerOptions) (*Peer, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	if opts.Sim == nil {
		return nil, errors.New("session: Sim is required")
	}

	cfg, err := ResolveIdentity(cfg, time.Now())
	if err != nil {
		return nil, err
	}
	peerID, token := cfg.PeerID, cfg.Token

	api := opts.API
	if api == nil {
		api, err = webrtcpeer.NewAPI(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	loop := eventloop.New(0)
	p := &Peer{
		loop:   loop,
		log:    logger.With("room_id", cfg.RoomID, "peer_id", peerID),
		peerID: peerID,
		closed: make(chan struct{}),
	}

	obs := opts.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	var once sync.Once
	ctrl, err := New(Config{
		RoomID:              cfg.RoomID,
		Host:                cfg.Initiator,
		LocalPeerID:         peerID,
		WinScore:            cfg.WinScore,
		TickInterval:        cfg.TickInterval(),
		ReadyResendInterval: cfg.ReadyResendInterval,
		Sync: statesync.Config{
			BoundsFactor:       cfg.BoundsFactor,
			Epsilon:            cfg.PositionEpsilon,
			BallStateThrottle:  cfg.BallStateThrottle,
			PaddleSendInterval: cfg.PaddleSendInterval,
			StaleAfter:         cfg.StaleAfter,
			DirectApplyAge:     cfg.DirectApplyAge,
		},
		Scheduler: loop,
		Logger:    logger,
		Metrics:   m,
	}, nil, opts.Sim, closeNotifier{Observer: obs, notify: func() {
		once.Do(func() { close(p.closed) })
	}})
	if err != nil {
		return nil, err
	}

	neg, err := negotiator.New(negotiator.Config{
		Initiator:              cfg.Initiator,
		ConnectionTimeout:      cfg.ConnectionTimeout,
		MaxReconnectAttempts:   cfg.MaxReconnectAttempts,
		RetryBackoffStep:       cfg.RetryBackoffStep,
		ReconnectBaseDelay:     cfg.ReconnectBaseDelay,
		HealthCheckInterval:    cfg.HealthCheckInterval,
		CandidateGatherTimeout: cfg.CandidateGatherTimeout,
		MinGatheredCandidates:  cfg.MinGatheredCandidates,
		NewConn: negotiator.PeerConns(api, webrtcpeer.Options{
			ICEServers:      cfg.ICEServers,
			MaxMessageBytes: cfg.DataChannelMaxMessageBytes,
			Logger:          logger,
			Metrics:         m,
		}),
		DialSignaling: negotiator.RelayDialer(signaling.DialConfig{
			URL:     cfg.SignalingURL,
			RoomID:  cfg.RoomID,
			Token:   token,
			PeerID:  peerID,
			Dialer:  opts.Dialer,
			Logger:  logger,
			Metrics: m,
		}),
		Scheduler: loop,
		Post:      loop.Post,
		Logger:    logger,
		Metrics:   m,
	}, ctrl)
	if err != nil {
		return nil, err
	}
	ctrl.SetTransport(neg)

	p.ctrl = ctrl
	p.neg = neg
	return p, nil
}

// ResolveIdentity fills in a random PeerID and, when only a JWT secret is
// configured, a self-issued room token.
func ResolveIdentity(cfg config.Config, now time.Time) (config.Config, error) {
	if cfg.PeerID == "" {
		cfg.PeerID = uuid.NewString()
	}
	if cfg.Token == "" && cfg.JWTSecret != "" {
		t, err := auth.IssueRoomToken(cfg.JWTSecret, cfg.RoomID, cfg.PeerID, now, auth.DefaultRoomTokenTTL)
		if err != nil {
			return config.Config{}, fmt.Errorf("issue room token: %w", err)
		}
		cfg.Token = t
	}
	return cfg, nil
}

func (p *Peer) PeerID() string { return p.peerID }

// Controller is only safe to use from Observer callbacks, which run on the
// loop. Other goroutines use the Peer methods.
func (p *Peer) Controller() *Controller { return p.ctrl }

// Closed is closed once the session ends.
func (p *Peer) Closed() <-chan struct{} { return p.closed }

// Run drives the session until it closes or ctx is cancelled. It returns the
// close reason: nil after Leave, ErrPeerLeft, a negotiator error, or the
// context's error.
func (p *Peer) Run(ctx context.Context) error {
	p.loop.Post(func() {
		p.ctrl.Start()
		if err := p.neg.Start(); err != nil {
			p.ctrl.closeWith(err)
		}
	})

	loopErr := make(chan error, 1)
	go func() { loopErr <- p.loop.Run(ctx) }()

	select {
	case <-p.closed:
		// A voluntary leave keeps the game channel up on the loop until its
		// send buffer drains.
		select {
		case <-p.neg.Done():
			p.loop.Stop()
			<-loopErr
		case <-loopErr:
			p.neg.Close()
		}
		return p.ctrl.Err()
	case err := <-loopErr:
		// The loop goroutine is gone, so the controller can be closed from
		// here without racing it.
		p.log.Info("peer stopping", "reason", err)
		p.ctrl.closeWith(err)
		return err
	}
}

func (p *Peer) MarkLocalReady() error { return p.call(p.ctrl.MarkLocalReady) }
func (p *Peer) RequestPause() error   { return p.call(p.ctrl.RequestPause) }
func (p *Peer) RequestResume() error  { return p.call(p.ctrl.RequestResume) }
func (p *Peer) RequestRematch() error { return p.call(p.ctrl.RequestRematch) }
func (p *Peer) Leave() error          { return p.call(p.ctrl.Leave) }

func (p *Peer) SetLocalPaddle(pos, vel syncproto.Vec3) {
	p.loop.Post(func() { p.ctrl.SetLocalPaddle(pos, vel) })
}

// Do runs fn on the loop, where it may use the Controller and the
// Simulation freely. It reports false once the peer has stopped.
func (p *Peer) Do(fn func(*Controller)) bool {
	return p.loop.Post(func() { fn(p.ctrl) })
}

// call runs fn on the loop and waits for its result.
func (p *Peer) call(fn func() error) error {
	res := make(chan error, 1)
	if !p.loop.Post(func() { res <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-res:
		return err
	case <-p.loop.Done():
		select {
		case err := <-res:
			return err
		default:
			return ErrClosed
		}
	}
}

// closeNotifier forwards to the caller's observer and signals the Peer once
// the controller has closed.
type closeNotifier struct {
	Observer
	notify func()
}

func (n closeNotifier) OnClosed(err error) {
	n.Observer.OnClosed(err)
	n.notify()
}
