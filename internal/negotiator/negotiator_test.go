package negotiator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/PASBarbari/Trascendence-sub000/internal/eventloop"
	"github.com/PASBarbari/Trascendence-sub000/internal/metrics"
	"github.com/PASBarbari/Trascendence-sub000/internal/signaling"
	"github.com/PASBarbari/Trascendence-sub000/internal/webrtcpeer"
)

type fakeConn struct {
	hooks      webrtcpeer.Hooks
	remoteDesc *webrtc.SessionDescription
	added      []string
	sent       [][]byte
	open       bool
	state      webrtc.PeerConnectionState
	closed     bool
	buffered   uint64
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	if c.remoteDesc == nil {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (c *fakeConn) SetRemoteDescription(d webrtc.SessionDescription) error {
	c.remoteDesc = &d
	return nil
}

func (c *fakeConn) HasRemoteDescription() bool { return c.remoteDesc != nil }

func (c *fakeConn) AddICECandidate(init webrtc.ICECandidateInit) error {
	if c.remoteDesc == nil {
		return errors.New("candidate before remote description")
	}
	c.added = append(c.added, init.Candidate)
	return nil
}

func (c *fakeConn) Send(b []byte) error {
	c.sent = append(c.sent, b)
	return nil
}

func (c *fakeConn) BufferedAmount() uint64                      { return c.buffered }
func (c *fakeConn) ChannelOpen() bool                           { return c.open }
func (c *fakeConn) ConnectionState() webrtc.PeerConnectionState { return c.state }
func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeLink struct {
	handler signaling.Handler
	sent    []signaling.Message
	closed  bool
}

func (l *fakeLink) Send(m signaling.Message) error {
	if l.closed {
		return signaling.ErrClientClosed
	}
	l.sent = append(l.sent, m)
	return nil
}

func (l *fakeLink) Close() error {
	l.closed = true
	return nil
}

func (l *fakeLink) types() []signaling.MessageType {
	out := make([]signaling.MessageType, 0, len(l.sent))
	for _, m := range l.sent {
		out = append(out, m.Type)
	}
	return out
}

type harness struct {
	t       *testing.T
	clock   *eventloop.Manual
	metrics *metrics.Metrics
	n       *Negotiator

	conns    []*fakeConn
	links    []*fakeLink
	dialErrs []error

	states    []State
	failures  []error
	messages  [][]byte
	peerLefts int
}

func (h *harness) OnStateChange(s State)     { h.states = append(h.states, s) }
func (h *harness) OnChannelMessage(b []byte) { h.messages = append(h.messages, b) }
func (h *harness) OnFailed(err error)        { h.failures = append(h.failures, err) }
func (h *harness) OnPeerLeft()               { h.peerLefts++ }

func newHarness(t *testing.T, initiator bool) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		clock:   eventloop.NewManual(time.Unix(1_700_000_000, 0)),
		metrics: metrics.New(),
	}
	n, err := New(Config{
		Initiator:              initiator,
		ConnectionTimeout:      15 * time.Second,
		MaxReconnectAttempts:   3,
		RetryBackoffStep:       2 * time.Second,
		ReconnectBaseDelay:     2 * time.Second,
		HealthCheckInterval:    10 * time.Second,
		CandidateGatherTimeout: 3 * time.Second,
		MinGatheredCandidates:  2,
		NewConn: func(_ bool, hooks webrtcpeer.Hooks) (Conn, error) {
			c := &fakeConn{hooks: hooks, state: webrtc.PeerConnectionStateNew}
			h.conns = append(h.conns, c)
			return c, nil
		},
		DialSignaling: func(_ context.Context, handler signaling.Handler) (Signaler, error) {
			if len(h.dialErrs) > 0 {
				err := h.dialErrs[0]
				h.dialErrs = h.dialErrs[1:]
				if err != nil {
					return nil, err
				}
			}
			l := &fakeLink{handler: handler}
			h.links = append(h.links, l)
			return l, nil
		},
		Scheduler: h.clock,
		Post:      func(fn func()) bool { fn(); return true },
		Spawn:     func(fn func()) { fn() },
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:   h.metrics,
	}, h)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.n = n
	return h
}

func (h *harness) conn() *fakeConn { return h.conns[len(h.conns)-1] }
func (h *harness) link() *fakeLink { return h.links[len(h.links)-1] }

func (h *harness) deliver(m signaling.Message) {
	h.t.Helper()
	h.link().handler.OnMessage(m)
}

func (h *harness) localCandidate(name string) {
	h.conn().hooks.OnLocalCandidate(webrtc.ICECandidateInit{Candidate: name})
}

func (h *harness) start() {
	h.t.Helper()
	if err := h.n.Start(); err != nil {
		h.t.Fatalf("Start: %v", err)
	}
}

func (h *harness) requireState(want State) {
	h.t.Helper()
	if got := h.n.State(); got != want {
		h.t.Fatalf("state=%s, want %s (history %v)", got, want, h.states)
	}
}

func candidate(name string) signaling.Message {
	return signaling.ICECandidate(webrtc.ICECandidateInit{Candidate: name})
}

func offerMsg() signaling.Message {
	return signaling.Offer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"})
}

func answerMsg() signaling.Message {
	return signaling.Answer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"})
}

func TestStart_SendsPeerReadyAndNegotiates(t *testing.T) {
	h := newHarness(t, true)
	h.start()

	h.requireState(Negotiating)
	if fmt.Sprint(h.states) != "[signaling_connected negotiating]" {
		t.Fatalf("states=%v", h.states)
	}
	sent := h.link().sent
	if len(sent) != 1 || sent[0].Type != signaling.TypePeerReady || !sent[0].Initiator() {
		t.Fatalf("sent=%v", sent)
	}
	if err := h.n.Start(); err == nil {
		t.Fatal("second Start should fail")
	}
}

func TestInitiator_OfferWaitsForCandidatesAndPeerReady(t *testing.T) {
	h := newHarness(t, true)
	h.start()

	h.localCandidate("c1")
	h.deliver(signaling.PeerReady(false, h.clock.Now()))
	if got := h.link().types(); len(got) != 1 {
		t.Fatalf("offer sent too early: %v", got)
	}

	h.localCandidate("c2")
	want := "[peer-ready offer ice-candidate ice-candidate]"
	if got := fmt.Sprint(h.link().types()); got != want {
		t.Fatalf("sent=%s, want %s", got, want)
	}
	if h.link().sent[2].Candidate.Candidate != "c1" || h.link().sent[3].Candidate.Candidate != "c2" {
		t.Fatal("candidates must follow the offer in discovery order")
	}

	h.localCandidate("c3")
	last := h.link().sent[len(h.link().sent)-1]
	if last.Type != signaling.TypeICECandidate || last.Candidate.Candidate != "c3" {
		t.Fatalf("later candidate not relayed immediately: %#v", last)
	}
}

func TestInitiator_GatherTimeoutReleasesOffer(t *testing.T) {
	h := newHarness(t, true)
	h.start()
	h.deliver(signaling.PeerReady(false, h.clock.Now()))

	h.clock.Advance(2999 * time.Millisecond)
	if len(h.link().sent) != 1 {
		t.Fatalf("offer sent before gather timeout: %v", h.link().types())
	}
	h.clock.Advance(time.Millisecond)
	if got := fmt.Sprint(h.link().types()); got != "[peer-ready offer]" {
		t.Fatalf("sent=%s", got)
	}
}

func TestInitiator_OfferWaitsForRemotePeerReady(t *testing.T) {
	h := newHarness(t, true)
	h.start()
	h.localCandidate("c1")
	h.localCandidate("c2")
	h.clock.Advance(5 * time.Second)
	if len(h.link().sent) != 1 {
		t.Fatalf("offer sent without a remote peer: %v", h.link().types())
	}

	h.deliver(signaling.PeerReady(false, h.clock.Now()))
	if got := fmt.Sprint(h.link().types()); got != "[peer-ready offer ice-candidate ice-candidate]" {
		t.Fatalf("sent=%s", got)
	}
}

func TestInitiator_RepeatedPeerReadyResendsOffer(t *testing.T) {
	h := newHarness(t, true)
	h.start()
	h.localCandidate("c1")
	h.localCandidate("c2")
	h.deliver(signaling.PeerReady(false, h.clock.Now()))
	h.deliver(signaling.PeerReady(false, h.clock.Now()))

	want := "[peer-ready offer ice-candidate ice-candidate offer ice-candidate ice-candidate]"
	if got := fmt.Sprint(h.link().types()); got != want {
		t.Fatalf("sent=%s, want %s", got, want)
	}
	if h.link().sent[1].Offer.SDP != h.link().sent[4].Offer.SDP {
		t.Fatal("re-sent offer must be the same offer")
	}
	if len(h.conns) != 1 {
		t.Fatalf("re-sending must not recreate the connection (conns=%d)", len(h.conns))
	}
}

func TestInitiator_IgnoresSameRolePeerReady(t *testing.T) {
	h := newHarness(t, true)
	h.start()
	h.localCandidate("c1")
	h.localCandidate("c2")
	h.deliver(signaling.PeerReady(true, h.clock.Now()))
	if len(h.link().sent) != 1 {
		t.Fatalf("offer sent to a second initiator: %v", h.link().types())
	}
}

func TestInitiator_AnswerFlushesBufferedCandidates(t *testing.T) {
	h := newHarness(t, true)
	h.start()
	h.localCandidate("c1")
	h.localCandidate("c2")

	h.deliver(candidate("early"))
	h.deliver(signaling.PeerReady(false, h.clock.Now()))
	h.deliver(candidate("r1"))
	if len(h.conn().added) != 0 {
		t.Fatalf("candidates applied before remote description: %v", h.conn().added)
	}

	h.deliver(answerMsg())
	h.deliver(candidate("r2"))
	if got := fmt.Sprint(h.conn().added); got != "[early r1 r2]" {
		t.Fatalf("added=%s", got)
	}
	if h.metrics.Get(metrics.CandidatesBuffered) != 2 {
		t.Fatalf("buffered=%d", h.metrics.Get(metrics.CandidatesBuffered))
	}

	h.deliver(answerMsg())
	if h.conn().remoteDesc.SDP != "remote-answer" {
		t.Fatal("duplicate answer must be ignored")
	}
}

func TestGuest_CandidatesBeforeOfferAreNeverDropped(t *testing.T) {
	h := newHarness(t, false)
	h.start()

	h.deliver(candidate("r1"))
	h.deliver(candidate("r2"))
	h.localCandidate("l1")

	h.deliver(offerMsg())
	if h.conn().remoteDesc == nil || h.conn().remoteDesc.SDP != "remote-offer" {
		t.Fatal("offer not applied")
	}
	if got := fmt.Sprint(h.conn().added); got != "[r1 r2]" {
		t.Fatalf("added=%s", got)
	}
	h.localCandidate("l2")

	want := "[peer-ready answer ice-candidate ice-candidate]"
	if got := fmt.Sprint(h.link().types()); got != want {
		t.Fatalf("sent=%s, want %s", got, want)
	}
	if h.link().sent[2].Candidate.Candidate != "l1" || h.link().sent[3].Candidate.Candidate != "l2" {
		t.Fatal("local candidates out of order")
	}
}

func TestGuest_RepliesToInitiatorPeerReadyUntilOffered(t *testing.T) {
	h := newHarness(t, false)
	h.start()

	h.deliver(signaling.PeerReady(true, h.clock.Now()))
	if got := fmt.Sprint(h.link().types()); got != "[peer-ready peer-ready]" {
		t.Fatalf("sent=%s", got)
	}
	if h.link().sent[1].Initiator() {
		t.Fatal("guest must announce itself as non-initiator")
	}

	h.deliver(offerMsg())
	h.deliver(signaling.PeerReady(true, h.clock.Now()))
	if got := fmt.Sprint(h.link().types()); got != "[peer-ready peer-ready answer]" {
		t.Fatalf("sent=%s", got)
	}
}

func TestGuest_NewOfferRecreatesConnection(t *testing.T) {
	h := newHarness(t, false)
	h.start()
	h.deliver(offerMsg())
	first := h.conn()

	h.deliver(offerMsg())
	if len(h.conns) != 2 || !first.closed {
		t.Fatalf("expected a fresh connection (conns=%d first closed=%v)", len(h.conns), first.closed)
	}
	if h.conn().remoteDesc == nil {
		t.Fatal("new offer not applied to the new connection")
	}
	h.requireState(Negotiating)

	// Hooks from the replaced connection are ignored.
	first.hooks.OnChannelOpen()
	h.requireState(Negotiating)
}

func TestChannelOpen_ConnectsAndCancelsTimeout(t *testing.T) {
	h := newHarness(t, true)
	h.start()
	h.conn().open = true
	h.conn().state = webrtc.PeerConnectionStateConnected
	h.conn().hooks.OnChannelOpen()
	h.requireState(Connected)

	h.clock.Advance(30 * time.Second)
	h.requireState(Connected)

	if err := h.n.Send([]byte("x")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	h.conn().hooks.OnMessage([]byte("hello"))
	if len(h.messages) != 1 || string(h.messages[0]) != "hello" {
		t.Fatalf("messages=%q", h.messages)
	}
}

func TestSend_RequiresConnected(t *testing.T) {
	h := newHarness(t, true)
	h.start()
	if err := h.n.Send([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err=%v, want ErrNotConnected", err)
	}
	h.n.Close()
	if err := h.n.Send([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v, want ErrClosed", err)
	}
}

// Relay up, peer never answers: retries with growing backoff, then fails.
func TestTimeout_RetriesWithBackoffThenFails(t *testing.T) {
	h := newHarness(t, true)
	h.start()

	for attempt := 1; attempt <= 3; attempt++ {
		h.clock.Advance(15 * time.Second)
		h.requireState(Degraded)
		if !h.conns[attempt-1].closed || !h.links[attempt-1].closed {
			t.Fatalf("attempt %d: connection and link must be torn down", attempt)
		}

		backoff := time.Duration(attempt) * 2 * time.Second
		h.clock.Advance(backoff - time.Millisecond)
		h.requireState(Degraded)
		h.clock.Advance(time.Millisecond)
		h.requireState(Negotiating)
		if len(h.conns) != attempt+1 || len(h.links) != attempt+1 {
			t.Fatalf("attempt %d: conns=%d links=%d", attempt, len(h.conns), len(h.links))
		}
	}

	h.clock.Advance(15 * time.Second)
	h.requireState(Failed)
	if len(h.failures) != 1 || !errors.Is(h.failures[0], ErrNegotiationTimeout) {
		t.Fatalf("failures=%v", h.failures)
	}
	if h.metrics.Get(metrics.NegotiationRetries) != 3 {
		t.Fatalf("retries=%d", h.metrics.Get(metrics.NegotiationRetries))
	}

	h.clock.Advance(time.Minute)
	if len(h.failures) != 1 || len(h.conns) != 4 {
		t.Fatalf("nothing may happen after Failed (failures=%d conns=%d)", len(h.failures), len(h.conns))
	}

	h.n.Close()
	h.requireState(Closed)
}

func TestPeerConnectionFailure_TriggersRetry(t *testing.T) {
	h := newHarness(t, false)
	h.start()
	h.conn().hooks.OnStateChange(webrtc.PeerConnectionStateFailed)
	h.requireState(Degraded)
	h.clock.Advance(2 * time.Second)
	h.requireState(Negotiating)
}

func TestHealthCheck_FailureDegradesThenRenegotiates(t *testing.T) {
	h := newHarness(t, true)
	h.start()
	c := h.conn()
	c.open = true
	c.state = webrtc.PeerConnectionStateConnected
	c.hooks.OnChannelOpen()

	h.clock.Advance(10 * time.Second)
	h.requireState(Connected)

	c.open = false
	h.clock.Advance(10 * time.Second)
	h.requireState(Degraded)
	if h.metrics.Get(metrics.HealthCheckFailures) != 1 {
		t.Fatalf("health failures=%d", h.metrics.Get(metrics.HealthCheckFailures))
	}
	h.clock.Advance(2 * time.Second)
	h.requireState(Negotiating)

	for i := 1; i < len(h.states); i++ {
		if h.states[i-1] == Connected && h.states[i] == Negotiating {
			t.Fatalf("connected went straight back to negotiating: %v", h.states)
		}
	}
}

func TestSignalingDrop_BeforeConnectReconnects(t *testing.T) {
	h := newHarness(t, true)
	h.start()

	h.link().handler.OnClose(errors.New("connection reset"))
	h.requireState(Degraded)
	h.clock.Advance(2 * time.Second)
	h.requireState(Negotiating)
	if len(h.links) != 2 {
		t.Fatalf("links=%d", len(h.links))
	}

	h.link().handler.OnClose(errors.New("connection reset"))
	h.clock.Advance(4 * time.Second)
	h.requireState(Negotiating)
	h.link().handler.OnClose(errors.New("connection reset"))
	h.clock.Advance(6 * time.Second)
	h.requireState(Negotiating)

	h.link().handler.OnClose(errors.New("connection reset"))
	h.requireState(Failed)
	if len(h.failures) != 1 || !errors.Is(h.failures[0], ErrSignalingUnavailable) {
		t.Fatalf("failures=%v", h.failures)
	}
}

func TestSignalingDrop_AfterConnectIsIgnored(t *testing.T) {
	h := newHarness(t, true)
	h.start()
	h.conn().open = true
	h.conn().state = webrtc.PeerConnectionStateConnected
	h.conn().hooks.OnChannelOpen()

	h.link().handler.OnClose(errors.New("relay restarted"))
	h.requireState(Connected)
	h.clock.Advance(time.Minute)
	h.requireState(Connected)
}

func TestDialFailure_RetriesFromIdleThenFails(t *testing.T) {
	h := newHarness(t, false)
	boom := errors.New("connection refused")
	h.dialErrs = []error{boom, boom, boom, boom}
	h.start()

	h.requireState(Idle)
	h.clock.Advance(2 * time.Second)
	h.clock.Advance(4 * time.Second)
	h.clock.Advance(6 * time.Second)
	h.requireState(Failed)
	if len(h.failures) != 1 || !errors.Is(h.failures[0], ErrSignalingUnavailable) {
		t.Fatalf("failures=%v", h.failures)
	}
	if fmt.Sprint(h.states) != "[failed]" {
		t.Fatalf("states=%v", h.states)
	}
}

func TestDialFailure_RecoversWithinBudget(t *testing.T) {
	h := newHarness(t, false)
	h.dialErrs = []error{errors.New("connection refused")}
	h.start()
	h.requireState(Idle)
	h.clock.Advance(2 * time.Second)
	h.requireState(Negotiating)
}

func TestRelayError_RoomFullFails(t *testing.T) {
	h := newHarness(t, false)
	h.start()
	h.deliver(signaling.Error("room_full", "room already has two peers"))
	h.requireState(Failed)
	if len(h.failures) != 1 || !errors.Is(h.failures[0], ErrSignalingUnavailable) {
		t.Fatalf("failures=%v", h.failures)
	}
}

func TestRemotePeerID_LearnedFromRelay(t *testing.T) {
	h := newHarness(t, false)
	h.start()
	m := signaling.PeerReady(true, h.clock.Now())
	m.From = "peer-42"
	h.deliver(m)
	if h.n.RemotePeerID() != "peer-42" {
		t.Fatalf("RemotePeerID=%q", h.n.RemotePeerID())
	}
}

func TestInitiator_PeerLeftAfterAnswerRestartsAttempt(t *testing.T) {
	h := newHarness(t, true)
	h.start()
	h.localCandidate("c1")
	h.localCandidate("c2")
	h.deliver(signaling.PeerReady(false, h.clock.Now()))
	h.deliver(answerMsg())

	h.deliver(signaling.PeerLeft("guest"))
	if len(h.conns) != 2 || !h.conns[0].closed {
		t.Fatalf("expected a fresh connection (conns=%d)", len(h.conns))
	}
	h.requireState(Negotiating)

	// The returning guest gets a fresh offer.
	h.localCandidate("n1")
	h.localCandidate("n2")
	before := len(h.link().sent)
	h.deliver(signaling.PeerReady(false, h.clock.Now()))
	if got := h.link().sent[before].Type; got != signaling.TypeOffer {
		t.Fatalf("expected offer, got %s", got)
	}
}

func TestClose_StopsEverything(t *testing.T) {
	h := newHarness(t, true)
	h.start()
	c, l := h.conn(), h.link()

	h.n.Close()
	h.requireState(Closed)
	if !c.closed || !l.closed {
		t.Fatal("close must tear down connection and link")
	}

	c.hooks.OnChannelOpen()
	l.handler.OnClose(errors.New("late"))
	h.clock.Advance(time.Minute)
	h.requireState(Closed)
	if len(h.failures) != 0 {
		t.Fatalf("close must not report failure: %v", h.failures)
	}
}

func connected(t *testing.T, initiator bool) *harness {
	t.Helper()
	h := newHarness(t, initiator)
	h.start()
	h.conn().open = true
	h.conn().state = webrtc.PeerConnectionStateConnected
	h.conn().hooks.OnChannelOpen()
	h.requireState(Connected)
	return h
}

func TestPeerLeft_WhileConnectedIsReported(t *testing.T) {
	h := connected(t, true)
	late := candidate("late")
	late.From = "guest"
	h.deliver(late)

	h.deliver(signaling.PeerLeft("stranger"))
	if h.peerLefts != 0 {
		t.Fatalf("departure of another peer reported: %d", h.peerLefts)
	}

	h.deliver(signaling.PeerLeft("guest"))
	if h.peerLefts != 1 {
		t.Fatalf("peerLefts=%d, want 1", h.peerLefts)
	}
	h.requireState(Connected)
	if len(h.conns) != 1 || h.conn().closed {
		t.Fatal("the negotiator must leave teardown to its owner")
	}
}

func TestCloseAfterFlush_WaitsForSendBuffer(t *testing.T) {
	h := connected(t, true)
	c, l := h.conn(), h.link()
	c.buffered = 64

	h.n.CloseAfterFlush()
	h.requireState(Closed)
	if !l.closed {
		t.Fatal("signaling must close immediately")
	}
	if c.closed {
		t.Fatal("connection closed before its buffer drained")
	}
	if err := h.n.Send([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after close: err=%v, want ErrClosed", err)
	}

	h.clock.Advance(100 * time.Millisecond)
	select {
	case <-h.n.Done():
		t.Fatal("Done closed while draining")
	default:
	}

	c.buffered = 0
	h.clock.Advance(closePollInterval)
	if !c.closed {
		t.Fatal("connection not closed once drained")
	}
	select {
	case <-h.n.Done():
	default:
		t.Fatal("Done not closed after drain")
	}
}

func TestCloseAfterFlush_BoundedByLinger(t *testing.T) {
	h := connected(t, false)
	c := h.conn()
	c.buffered = 64

	h.n.CloseAfterFlush()
	h.clock.Advance(DefaultCloseLinger - closePollInterval)
	if c.closed {
		t.Fatal("connection closed before the linger elapsed")
	}
	h.clock.Advance(closePollInterval)
	if !c.closed {
		t.Fatal("connection still open after the linger")
	}
}

func TestClose_AbortsDrain(t *testing.T) {
	h := connected(t, true)
	c := h.conn()
	c.buffered = 64

	h.n.CloseAfterFlush()
	h.n.Close()
	if !c.closed {
		t.Fatal("Close must release a draining connection")
	}
	<-h.n.Done()
	if fmt.Sprint(h.states[len(h.states)-1:]) != "[closed]" {
		t.Fatalf("states=%v", h.states)
	}
}

func TestCloseAfterFlush_NotConnectedClosesAtOnce(t *testing.T) {
	h := newHarness(t, true)
	h.start()
	c := h.conn()
	h.n.CloseAfterFlush()
	if !c.closed {
		t.Fatal("negotiating connection must close at once")
	}
	<-h.n.Done()
}

func TestStateTransitions(t *testing.T) {
	legal := map[[2]State]bool{
		{Idle, SignalingConnected}:        true,
		{SignalingConnected, Negotiating}: true,
		{Negotiating, Connected}:          true,
		{Connected, Degraded}:             true,
		{Negotiating, Degraded}:           true,
		{SignalingConnected, Degraded}:    true,
		{Degraded, Negotiating}:           true,
		{Failed, Closed}:                  true,
	}
	for _, s := range []State{Idle, SignalingConnected, Negotiating, Connected, Degraded} {
		legal[[2]State{s, Failed}] = true
		legal[[2]State{s, Closed}] = true
	}

	all := []State{Idle, SignalingConnected, Negotiating, Connected, Degraded, Failed, Closed}
	for _, from := range all {
		for _, to := range all {
			if got := from.canTransition(to); got != legal[[2]State{from, to}] {
				t.Fatalf("%s -> %s: got %v", from, to, got)
			}
		}
	}
}
