package webrtcpeer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/PASBarbari/Trascendence-sub000/internal/metrics"
)

var (
	ErrChannelNotOpen  = errors.New("webrtcpeer: game channel not open")
	ErrMessageTooLarge = errors.New("webrtcpeer: message exceeds channel limit")
	ErrClosed          = errors.New("webrtcpeer: peer closed")
)

// Hooks receive transport events. They are invoked on pion's goroutines;
// callers serialize them onto their own loop. Nil hooks are skipped.
type Hooks struct {
	// OnLocalCandidate is called once per gathered candidate, in discovery
	// order. End of gathering is reported through OnGatheringComplete.
	OnLocalCandidate    func(webrtc.ICECandidateInit)
	OnGatheringComplete func()
	OnStateChange       func(webrtc.PeerConnectionState)
	OnChannelOpen       func()
	OnChannelClose      func()
	OnMessage           func([]byte)
}

type Options struct {
	ICEServers []webrtc.ICEServer
	// Initiator creates the game channel; the other side accepts it.
	Initiator       bool
	MaxMessageBytes int
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
}

// Peer is one PeerConnection plus its game DataChannel. A Peer is never
// reused: retries close it and build a new one.
type Peer struct {
	pc      *webrtc.PeerConnection
	hooks   Hooks
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	dc        *webrtc.DataChannel
	open      bool
	closed    bool
	closeOnce sync.Once
}

func New(api *webrtc.API, opts Options, hooks Hooks) (*Peer, error) {
	if api == nil {
		api = webrtc.NewAPI()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: opts.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	p := &Peer{
		pc:      pc,
		hooks:   hooks,
		opts:    opts,
		log:     logger,
		metrics: opts.Metrics,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		h := p.currentHooks()
		if c == nil {
			if h.OnGatheringComplete != nil {
				h.OnGatheringComplete()
			}
			return
		}
		if h.OnLocalCandidate != nil {
			h.OnLocalCandidate(c.ToJSON())
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debug("peer connection state changed", "state", state.String())
		if h := p.currentHooks(); h.OnStateChange != nil {
			h.OnStateChange(state)
		}
	})

	if opts.Initiator {
		dc, err := pc.CreateDataChannel(DataChannelLabelGame, gameDataChannelInit())
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("create game datachannel: %w", err)
		}
		p.bindChannel(dc)
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if err := validateGameDataChannel(dc); err != nil {
				p.metrics.Inc(metrics.DataChannelRejected)
				p.log.Warn("rejecting datachannel",
					"label", dc.Label(),
					"ordered", dc.Ordered(),
					"err", err,
				)
				_ = dc.Close()
				return
			}
			p.bindChannel(dc)
		})
	}

	return p, nil
}

func (p *Peer) bindChannel(dc *webrtc.DataChannel) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = dc.Close()
		return
	}
	prev := p.dc
	p.dc = dc
	p.open = false
	p.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	dc.OnOpen(func() {
		p.mu.Lock()
		current := p.dc == dc
		if current {
			p.open = true
		}
		h := p.hooks
		p.mu.Unlock()
		if current && h.OnChannelOpen != nil {
			h.OnChannelOpen()
		}
	})
	dc.OnClose(func() {
		p.mu.Lock()
		current := p.dc == dc
		if current {
			p.open = false
		}
		h := p.hooks
		p.mu.Unlock()
		if current && h.OnChannelClose != nil {
			h.OnChannelClose()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if p.opts.MaxMessageBytes > 0 && len(msg.Data) > p.opts.MaxMessageBytes {
			p.metrics.Inc(metrics.DataChannelOversize)
			return
		}
		if h := p.currentHooks(); h.OnMessage != nil {
			// Copy because pion reuses internal buffers.
			h.OnMessage(append([]byte(nil), msg.Data...))
		}
	})
}

func (p *Peer) currentHooks() Hooks {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hooks
}

// CreateOffer creates an offer and installs it as the local description,
// which starts candidate gathering.
func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	return offer, nil
}

// CreateAnswer must follow SetRemoteDescription with an offer.
func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return answer, nil
}

func (p *Peer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote %s: %w", desc.Type, err)
	}
	return nil
}

func (p *Peer) HasRemoteDescription() bool {
	return p.pc.RemoteDescription() != nil
}

func (p *Peer) AddICECandidate(c webrtc.ICECandidateInit) error {
	if err := p.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// Send writes one message to the game channel. Delivery is best effort.
func (p *Peer) Send(data []byte) error {
	if p.opts.MaxMessageBytes > 0 && len(data) > p.opts.MaxMessageBytes {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), p.opts.MaxMessageBytes)
	}
	p.mu.Lock()
	dc, open, closed := p.dc, p.open, p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if dc == nil || !open {
		p.metrics.Inc(metrics.DataChannelSendNotOpen)
		return ErrChannelNotOpen
	}
	return dc.Send(data)
}

// BufferedAmount is the number of game channel bytes queued but not yet
// sent.
func (p *Peer) BufferedAmount() uint64 {
	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()
	if dc == nil {
		return 0
	}
	return dc.BufferedAmount()
}

func (p *Peer) ChannelOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open && p.dc != nil && p.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	return p.pc.ConnectionState()
}

func (p *Peer) PeerConnection() *webrtc.PeerConnection {
	return p.pc
}

// Close tears down the channel and connection and detaches the hooks.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		dc := p.dc
		p.dc = nil
		p.open = false
		p.hooks = Hooks{}
		p.mu.Unlock()
		if dc != nil {
			_ = dc.Close()
		}
		err = p.pc.Close()
	})
	return err
}
