package signaling

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/PASBarbari/Trascendence-sub000/internal/metrics"
)

type recordingHandler struct {
	messages chan Message
	closed   chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		messages: make(chan Message, 16),
		closed:   make(chan error, 1),
	}
}

func (h *recordingHandler) OnMessage(m Message) { h.messages <- m }
func (h *recordingHandler) OnClose(err error)   { h.closed <- err }

// newRoomServer serves one websocket per request and hands the server side
// of it to the test.
func newRoomServer(t *testing.T) (string, <-chan *websocket.Conn, <-chan *http.Request) {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	reqs := make(chan *http.Request, 1)
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		reqs <- r
		conns <- c
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http"), conns, reqs
}

func TestRoomURL(t *testing.T) {
	got, err := RoomURL("ws://relay.example:8080/", "room 1", "tok", "p1")
	if err != nil {
		t.Fatalf("RoomURL: %v", err)
	}
	if got != "ws://relay.example:8080/ws/signal/room%201?peerId=p1&token=tok" {
		t.Fatalf("RoomURL=%q", got)
	}
	if _, err := RoomURL("http://relay.example", "r", "", ""); err == nil {
		t.Fatal("expected scheme error")
	}
	if _, err := RoomURL("ws://relay.example", " ", "", ""); err == nil {
		t.Fatal("expected room error")
	}
}

func TestClient_SendReceiveInOrder(t *testing.T) {
	base, conns, reqs := newRoomServer(t)
	h := newRecordingHandler()
	m := metrics.New()

	c, err := Dial(context.Background(), DialConfig{URL: base, RoomID: "r1", Token: "secret", Metrics: m}, h)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	srv := <-conns
	defer srv.Close()
	r := <-reqs
	if r.URL.Path != "/ws/signal/r1" || r.URL.Query().Get("token") != "secret" {
		t.Fatalf("unexpected request: %s", r.URL)
	}

	if err := c.Send(PeerReady(true, time.UnixMilli(1))); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_, data, err := srv.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if got, err := Parse(data); err != nil || got.Type != TypePeerReady {
		t.Fatalf("server got %s (err=%v)", data, err)
	}

	frames := []string{
		`{"type":"peer-joined","peerId":"p2"}`,
		`{"type":"bogus"}`,
		`{"type":"peer-ready","isInitiator":false,"timestamp":5,"from":"p2"}`,
	}
	for _, f := range frames {
		if err := srv.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("server write: %v", err)
		}
	}

	for _, want := range []MessageType{TypePeerJoined, TypePeerReady} {
		select {
		case got := <-h.messages:
			if got.Type != want {
				t.Fatalf("got %s, want %s", got.Type, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	if got := m.Get(metrics.SignalingMessageRejected); got != 1 {
		t.Fatalf("rejected=%d, want 1", got)
	}
}

func TestClient_AbruptCloseReportsError(t *testing.T) {
	base, conns, _ := newRoomServer(t)
	h := newRecordingHandler()

	c, err := Dial(context.Background(), DialConfig{URL: base, RoomID: "r1"}, h)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	srv := <-conns
	_ = srv.Close()

	select {
	case err := <-h.closed:
		if err == nil {
			t.Fatal("expected a non-nil error for an abrupt close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnClose")
	}
	if err := c.Send(PeerReady(false, time.Now())); err != ErrClientClosed {
		t.Fatalf("Send after close: err=%v, want ErrClientClosed", err)
	}
}

func TestClient_LocalCloseReportsNil(t *testing.T) {
	base, conns, _ := newRoomServer(t)
	h := newRecordingHandler()

	c, err := Dial(context.Background(), DialConfig{URL: base, RoomID: "r1"}, h)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	srv := <-conns
	defer srv.Close()
	go func() {
		// Drain so the close frame is answered.
		for {
			if _, _, err := srv.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-h.closed:
		if err != nil {
			t.Fatalf("OnClose err=%v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnClose")
	}
	<-c.Done()
}

func TestClient_CloseFlushesQueuedMessages(t *testing.T) {
	base, conns, _ := newRoomServer(t)
	h := newRecordingHandler()

	c, err := Dial(context.Background(), DialConfig{URL: base, RoomID: "r1"}, h)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	srv := <-conns
	defer srv.Close()

	for _, m := range []Message{ICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:1"}), PeerReady(true, time.UnixMilli(2))} {
		if err := c.Send(m); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	_ = c.Close()

	for _, want := range []MessageType{TypeICECandidate, TypePeerReady} {
		_, data, err := srv.ReadMessage()
		if err != nil {
			t.Fatalf("server read before %s: %v", want, err)
		}
		if got, err := Parse(data); err != nil || got.Type != want {
			t.Fatalf("server got %s (err=%v), want %s", data, err, want)
		}
	}
	var ce *websocket.CloseError
	if _, _, err := srv.ReadMessage(); !errors.As(err, &ce) || ce.Code != websocket.CloseNormalClosure {
		t.Fatalf("server read after messages: %v, want normal close", err)
	}
}

func TestClient_SendDoesNotBlockOnStalledRelay(t *testing.T) {
	base, conns, _ := newRoomServer(t)
	h := newRecordingHandler()

	c, err := Dial(context.Background(), DialConfig{URL: base, RoomID: "r1", SendQueue: 1, WriteWait: 10 * time.Second}, h)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	srv := <-conns
	defer srv.Close()

	// The relay never reads, so the writer stalls on the first large offer.
	big := Offer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: strings.Repeat("a", 16<<20)})
	start := time.Now()
	var sendErr error
	for i := 0; i < 3 && sendErr == nil; i++ {
		sendErr = c.Send(big)
	}
	if !errors.Is(sendErr, ErrSendQueueFull) {
		t.Fatalf("Send err=%v, want ErrSendQueueFull", sendErr)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Send blocked for %s", elapsed)
	}

	select {
	case err := <-h.closed:
		if err == nil {
			t.Fatal("expected a non-nil error after dropping a stalled link")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OnClose")
	}
}
