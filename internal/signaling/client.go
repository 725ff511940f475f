package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PASBarbari/Trascendence-sub000/internal/metrics"
)

const (
	DefaultWriteWait       = 1 * time.Second
	DefaultPingInterval    = 20 * time.Second
	DefaultMaxMessageBytes = 64 * 1024
	DefaultSendQueue       = 64

	// SignalPathPrefix is where the relay serves room sockets.
	SignalPathPrefix = "/ws/signal/"
)

var (
	ErrClientClosed  = errors.New("signaling: client closed")
	ErrSendQueueFull = errors.New("signaling: send queue full")
)

// Handler receives everything the relay sends, in arrival order, on the
// client's reader goroutine.
type Handler interface {
	OnMessage(Message)
	// OnClose is called exactly once. err is nil when Close was called
	// locally and non-nil when the link dropped.
	OnClose(err error)
}

type DialConfig struct {
	// URL is the relay base, e.g. ws://relay.example:8080.
	URL    string
	RoomID string
	Token  string
	PeerID string

	PingInterval    time.Duration
	WriteWait       time.Duration
	MaxMessageBytes int64
	// SendQueue bounds messages waiting for the writer.
	SendQueue int

	Dialer  *websocket.Dialer
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (c DialConfig) withDefaults() DialConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.WriteWait <= 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.SendQueue <= 0 {
		c.SendQueue = DefaultSendQueue
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// RoomURL joins the relay base URL, the room path and the credentials.
func RoomURL(base, roomID, token, peerID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parse signaling url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return "", fmt.Errorf("signaling url scheme %q must be ws or wss", u.Scheme)
	}
	if strings.TrimSpace(roomID) == "" {
		return "", errors.New("room id is required")
	}
	u.RawPath = u.EscapedPath() + SignalPathPrefix + url.PathEscape(roomID)
	u.Path += SignalPathPrefix + roomID
	q := u.Query()
	if token != "" {
		q.Set("token", token)
	}
	if peerID != "" {
		q.Set("peerId", peerID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Client is a room-scoped link to the relay. Send is safe for concurrent use
// and never blocks: writes happen on the client's writer goroutine.
type Client struct {
	conn    *websocket.Conn
	cfg     DialConfig
	handler Handler
	log     *slog.Logger

	send chan []byte

	closeOnce sync.Once
	localStop chan struct{}
	done      chan struct{}
}

// Dial connects to the room and starts the reader and keepalive goroutines.
func Dial(ctx context.Context, cfg DialConfig, handler Handler) (*Client, error) {
	cfg = cfg.withDefaults()
	target, err := RoomURL(cfg.URL, cfg.RoomID, cfg.Token, cfg.PeerID)
	if err != nil {
		return nil, err
	}

	conn, resp, err := cfg.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial signaling relay: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial signaling relay: %w", err)
	}

	c := &Client{
		conn:      conn,
		cfg:       cfg,
		handler:   handler,
		log:       cfg.Logger.With("component", "signaling", "room_id", cfg.RoomID),
		send:      make(chan []byte, cfg.SendQueue),
		localStop: make(chan struct{}),
		done:      make(chan struct{}),
	}

	pongWait := cfg.PingInterval * 3
	conn.SetReadLimit(cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readLoop(pongWait)
	go c.writePump()
	return c, nil
}

func (c *Client) readLoop(pongWait time.Duration) {
	var readErr error
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.TextMessage {
			c.cfg.Metrics.Inc(metrics.SignalingMessageRejected)
			c.log.Warn("dropping non-text signaling frame")
			continue
		}
		msg, err := Parse(data)
		if err != nil {
			c.cfg.Metrics.Inc(metrics.SignalingMessageRejected)
			c.log.Warn("dropping invalid signaling message", "err", err)
			continue
		}
		c.handler.OnMessage(msg)
	}

	select {
	case <-c.localStop:
		readErr = nil
	default:
		c.log.Info("signaling link closed", "err", readErr)
	}
	_ = c.conn.Close()
	close(c.done)
	c.handler.OnClose(readErr)
}

// Done is closed once the reader has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// writePump owns every write to the socket: queued messages, pings and the
// closing handshake.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case data := <-c.send:
			if err := c.write(data); err != nil {
				c.log.Debug("signaling write failed", "err", err)
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-c.localStop:
			c.flushQueued()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteWait))
			_ = c.conn.Close()
			return
		case <-c.done:
			return
		}
	}
}

// flushQueued writes what was sent before Close.
func (c *Client) flushQueued() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Send queues one message. Messages are delivered in Send order. A relay
// that stops reading fills the queue; the link is then dropped and OnClose
// reports the failure.
func (c *Client) Send(msg Message) error {
	payload, err := msg.Marshal()
	if err != nil {
		return err
	}

	select {
	case <-c.localStop:
		return ErrClientClosed
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.cfg.Metrics.Inc(metrics.SignalingMessageRejected)
		c.log.Warn("signaling send queue full; dropping link", "type", msg.Type)
		_ = c.conn.Close()
		return fmt.Errorf("send %s: %w", msg.Type, ErrSendQueueFull)
	}
}

// Close starts the closing handshake without waiting for it, so it is safe
// to call from a handler. Messages already queued are written first. OnClose
// follows asynchronously with a nil error.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.localStop)
	})
	return nil
}
