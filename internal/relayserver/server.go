package relayserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/PASBarbari/Trascendence-sub000/internal/auth"
	"github.com/PASBarbari/Trascendence-sub000/internal/config"
	"github.com/PASBarbari/Trascendence-sub000/internal/metrics"
	"github.com/PASBarbari/Trascendence-sub000/internal/ratelimit"
	"github.com/PASBarbari/Trascendence-sub000/internal/signaling"
	"github.com/PASBarbari/Trascendence-sub000/internal/turnrest"
)

var ErrServerClosed = http.ErrServerClosed

const (
	maxRoomIDLen = 128
	maxPeerIDLen = 64

	// presenceTimeout bounds each presence call so a slow Redis cannot hold
	// up the websocket handler.
	presenceTimeout = 2 * time.Second
)

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

type Options struct {
	// Presence defaults to an in-memory store.
	Presence Presence
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Build    BuildInfo
	// Clock drives the per-connection rate limiter.
	Clock ratelimit.Clock
}

type Server struct {
	cfg      config.RelayConfig
	log      *slog.Logger
	metrics  *metrics.Metrics
	build    BuildInfo
	clock    ratelimit.Clock
	verifier auth.Verifier
	presence Presence
	hub      *hub

	iceServers []webrtc.ICEServer
	turn       *turnrest.Issuer

	upgrader websocket.Upgrader
	engine   *gin.Engine
	srv      *http.Server

	ready atomic.Bool
}

func New(cfg config.RelayConfig, opts Options) (*Server, error) {
	verifier, err := auth.NewVerifier(cfg)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Presence == nil {
		opts.Presence = NewMemoryPresence()
	}
	if opts.Clock == nil {
		opts.Clock = ratelimit.RealClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	turn, err := newTURNIssuer(cfg)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		log:      opts.Logger.With("component", "signal_relay"),
		metrics:  opts.Metrics,
		build:    opts.Build,
		clock:    opts.Clock,
		verifier: verifier,
		presence: opts.Presence,
		hub:      newHub(),

		iceServers: iceServersFromConfig(cfg),
		turn:       turn,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	s.engine = gin.New()
	s.engine.Use(
		recoverMiddleware(s.log),
		requestIDMiddleware(),
		requestLoggerMiddleware(s.log),
	)
	s.registerRoutes()

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Handler exposes the routes, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Serve(l net.Listener) error {
	s.ready.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

// Shutdown stops accepting requests and closes every open room socket.
// Hijacked websocket connections are not tracked by http.Server, so they are
// closed here explicitly.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	err := s.srv.Shutdown(ctx)
	for _, c := range s.hub.all() {
		c.close()
	}
	return err
}

func (s *Server) gauges() map[string]float64 {
	rooms, conns := s.hub.stats()
	return map[string]float64{
		"rooms":       float64(rooms),
		"connections": float64(conns),
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	s.engine.GET("/readyz", func(c *gin.Context) {
		if !s.ready.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ready": true})
	})
	s.engine.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.build)
	})
	s.engine.GET("/metrics", gin.WrapH(metrics.PrometheusHandler(s.metrics, metrics.Exposition{
		Namespace: "pong_relay",
		Gauges:    s.gauges,
	})))

	api := s.engine.Group("/", s.originFilter())
	api.GET("rooms/:roomId", s.handleRoom)
	api.OPTIONS("rooms/:roomId", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	api.GET(strings.TrimPrefix(signaling.ICEPath, "/"), s.handleICE)
	api.OPTIONS(strings.TrimPrefix(signaling.ICEPath, "/"), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	s.engine.GET(signaling.SignalPathPrefix+":roomId", s.handleSignal)
}

func (s *Server) handleRoom(c *gin.Context) {
	roomID := c.Param("roomId")
	if !validID(roomID, maxRoomIDLen) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), presenceTimeout)
	defer cancel()
	peers, err := s.presence.Peers(ctx, roomID)
	if err != nil {
		s.log.Error("presence lookup failed", "room_id", roomID, "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"roomId":   roomID,
		"peers":    len(peers),
		"capacity": RoomCapacity,
		"full":     len(peers) >= RoomCapacity,
	})
}

func (s *Server) handleSignal(c *gin.Context) {
	roomID := c.Param("roomId")
	if !validID(roomID, maxRoomIDLen) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Debug("websocket upgrade failed", "room_id", roomID, "err", err)
		return
	}

	// Credentials are checked after the upgrade so the client receives a
	// structured error instead of a bare HTTP status.
	identity, err := s.authenticate(c.Request, roomID)
	if err != nil {
		s.metrics.Inc(metrics.RelayAuthFailure)
		s.log.Warn("signaling auth failed", "room_id", roomID, "err", err)
		writeErrorAndClose(ws, signaling.ErrorCodeUnauthorized, err.Error())
		return
	}

	peerID := resolvePeerID(identity, c.Query("peerId"))

	var limiter *ratelimit.TokenBucket
	if rate := int64(s.cfg.MaxMessagesPerSecond); rate > 0 {
		limiter = ratelimit.NewTokenBucket(s.clock, rate, rate)
	}
	conn := newPeerConn(ws, roomID, peerID, limiter, s.log)

	others, replaced, err := s.hub.join(conn)
	if errors.Is(err, errRoomFull) {
		s.metrics.Inc(metrics.RelayRoomFull)
		conn.log.Info("room full; rejecting peer")
		conn.sendErrorAndClose(signaling.ErrorCodeRoomFull, fmt.Sprintf("room already has %d peers", RoomCapacity))
		return
	}
	if replaced != nil {
		conn.log.Info("peer reconnected; closing stale socket")
		replaced.close()
	}
	s.metrics.Inc(metrics.RelayConnections)
	conn.log.Info("peer joined room", "occupancy", len(others)+1)

	s.presenceCall(conn, "join", s.presence.Join)
	for _, other := range others {
		other.enqueueMessage(signaling.PeerJoined(conn.id))
		conn.enqueueMessage(signaling.PeerJoined(other.id))
	}

	go conn.writePump(s.cfg.PingInterval)
	s.readPump(conn)
	conn.close()

	remaining, owned := s.hub.leave(conn)
	if !owned {
		return
	}
	s.presenceCall(conn, "leave", s.presence.Leave)
	for _, other := range remaining {
		other.enqueueMessage(signaling.PeerLeft(conn.id))
	}
	conn.log.Info("peer left room")
}

func (s *Server) authenticate(r *http.Request, roomID string) (auth.Identity, error) {
	cred, err := auth.CredentialFromQuery(s.cfg.AuthMode, r.URL.Query())
	if err != nil {
		return auth.Identity{}, err
	}
	identity, err := s.verifier.Verify(cred, roomID)
	if err != nil {
		return auth.Identity{}, err
	}
	if identity.PeerID != "" && !validID(identity.PeerID, maxPeerIDLen) {
		return auth.Identity{}, fmt.Errorf("%w: peer id in token is not usable", auth.ErrInvalidCredentials)
	}
	return identity, nil
}

// resolvePeerID prefers the id proven by the credential, then the one the
// client asked for, then a fresh one.
func resolvePeerID(identity auth.Identity, requested string) string {
	if identity.PeerID != "" {
		return identity.PeerID
	}
	if validID(requested, maxPeerIDLen) {
		return requested
	}
	return uuid.NewString()
}

func (s *Server) presenceCall(c *peerConn, op string, fn func(ctx context.Context, roomID, peerID string) error) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := fn(ctx, c.roomID, c.id); err != nil {
		c.log.Warn("presence update failed", "op", op, "err", err)
	}
}

// readPump forwards the client's messages until the socket closes. The relay
// never inspects SDP or candidates beyond envelope validation.
func (s *Server) readPump(c *peerConn) {
	idle := s.cfg.IdleTimeout
	c.ws.SetReadLimit(int64(s.cfg.MaxMessageBytes))
	_ = c.ws.SetReadDeadline(time.Now().Add(idle))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("websocket read ended", "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(idle))

		if c.limiter != nil && !c.limiter.Allow(1) {
			s.metrics.Inc(metrics.DropReasonRateLimited)
			c.enqueueMessage(signaling.Error(signaling.ErrorCodeRateLimited, "message dropped: rate limit exceeded"))
			continue
		}
		if msgType != websocket.TextMessage {
			s.reject(c, "binary frames are not supported")
			continue
		}
		msg, err := signaling.Parse(data)
		if err != nil {
			s.reject(c, err.Error())
			continue
		}
		if !msg.Type.ClientOriginated() {
			s.reject(c, fmt.Sprintf("%s messages are sent by the relay only", msg.Type))
			continue
		}

		msg.From = c.id
		out, err := msg.Marshal()
		if err != nil {
			s.reject(c, err.Error())
			continue
		}
		s.metrics.Inc(metrics.RelayMessages)
		for _, other := range s.hub.others(c) {
			other.enqueue(out)
		}
	}
}

func (s *Server) reject(c *peerConn, reason string) {
	s.metrics.Inc(metrics.SignalingMessageRejected)
	c.log.Debug("rejected signaling message", "reason", reason)
	c.enqueueMessage(signaling.Error(signaling.ErrorCodeBadMessage, reason))
}

// validID accepts short identifiers made of letters, digits, '.', '_' and '-'.
func validID(id string, maxLen int) bool {
	if id == "" || len(id) > maxLen {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}
