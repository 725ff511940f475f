package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	EnvPeerMode          = "PONG_PEER_MODE"
	EnvPeerLogFormat     = "PONG_PEER_LOG_FORMAT"
	EnvPeerLogLevel      = "PONG_PEER_LOG_LEVEL"
	EnvPeerSignalingURL  = "PONG_PEER_SIGNALING_URL"
	EnvPeerRoomID        = "PONG_PEER_ROOM_ID"
	EnvPeerInitiator     = "PONG_PEER_INITIATOR"
	EnvPeerToken         = "PONG_PEER_TOKEN"
	EnvPeerJWTSecret     = "PONG_PEER_JWT_SECRET"
	EnvPeerID            = "PONG_PEER_ID"
	EnvPeerMetricsAddr   = "PONG_PEER_METRICS_ADDR"
	EnvPeerAutoReady     = "PONG_PEER_AUTO_READY"
	EnvPeerAutoRematch   = "PONG_PEER_AUTO_REMATCH"
	EnvPeerTickRate      = "PONG_PEER_TICK_RATE"
	EnvPeerWinScore      = "PONG_PEER_WIN_SCORE"
	EnvPeerFieldHalfX    = "PONG_PEER_FIELD_HALF_X"
	EnvPeerFieldHalfY    = "PONG_PEER_FIELD_HALF_Y"
	EnvPeerFieldHalfZ    = "PONG_PEER_FIELD_HALF_Z"
	EnvPeerBoundsFactor  = "PONG_PEER_BOUNDS_FACTOR"
	EnvPeerEpsilon       = "PONG_PEER_POSITION_EPSILON"
	EnvPeerBallThrottle  = "PONG_PEER_BALL_STATE_THROTTLE"
	EnvPeerPaddleSend    = "PONG_PEER_PADDLE_SEND_INTERVAL"
	EnvPeerStaleAfter    = "PONG_PEER_STALE_AFTER"
	EnvPeerDirectApply   = "PONG_PEER_DIRECT_APPLY_AGE"
	EnvPeerConnTimeout   = "PONG_PEER_CONNECTION_TIMEOUT"
	EnvPeerMaxReconnects = "PONG_PEER_MAX_RECONNECT_ATTEMPTS"
	EnvPeerRetryStep     = "PONG_PEER_RETRY_BACKOFF_STEP"
	EnvPeerReconnectBase = "PONG_PEER_RECONNECT_BASE_DELAY"
	EnvPeerHealthCheck   = "PONG_PEER_HEALTH_CHECK_INTERVAL"
	EnvPeerGatherTimeout = "PONG_PEER_CANDIDATE_GATHER_TIMEOUT"
	EnvPeerMinCandidates = "PONG_PEER_MIN_GATHERED_CANDIDATES"
	EnvPeerReadyResend   = "PONG_PEER_READY_RESEND_INTERVAL"
	EnvPeerICEFromRelay  = "PONG_PEER_ICE_FROM_RELAY"

	EnvWebRTCUDPPortMin              = "PONG_WEBRTC_UDP_PORT_MIN"
	EnvWebRTCUDPPortMax              = "PONG_WEBRTC_UDP_PORT_MAX"
	EnvWebRTCUDPListenIP             = "PONG_WEBRTC_UDP_LISTEN_IP"
	EnvWebRTCNAT1To1IPs              = "PONG_WEBRTC_NAT_1TO1_IPS"
	EnvWebRTCNAT1To1IPCandidateType  = "PONG_WEBRTC_NAT_1TO1_IP_CANDIDATE_TYPE"
	EnvWebRTCDataChannelMaxMessage   = "PONG_WEBRTC_DATACHANNEL_MAX_MESSAGE_BYTES"
	EnvWebRTCSCTPMaxReceiveBufferLen = "PONG_WEBRTC_SCTP_MAX_RECEIVE_BUFFER_BYTES"
)

const (
	DefaultSignalingURL = "ws://127.0.0.1:8080"

	DefaultConnectionTimeout      = 15 * time.Second
	DefaultMaxReconnectAttempts   = 3
	DefaultRetryBackoffStep       = 2 * time.Second
	DefaultReconnectBaseDelay     = 2 * time.Second
	DefaultHealthCheckInterval    = 10 * time.Second
	DefaultCandidateGatherTimeout = 3 * time.Second
	DefaultMinGatheredCandidates  = 2
	DefaultReadyResendInterval    = 500 * time.Millisecond

	DefaultBallStateThrottle  = 50 * time.Millisecond
	DefaultPaddleSendInterval = 50 * time.Millisecond
	DefaultStaleAfter         = 200 * time.Millisecond
	DefaultDirectApplyAge     = 50 * time.Millisecond
	DefaultBoundsFactor       = 1.2
	DefaultPositionEpsilon    = 0.001

	DefaultFieldHalfX = 60.0
	DefaultFieldHalfY = 0.0
	DefaultFieldHalfZ = 40.0
	DefaultWinScore   = 5
	DefaultTickRate   = 60

	// DefaultDataChannelMaxMessageOverheadBytes is headroom above the largest
	// sync message for future fields.
	DefaultDataChannelMaxMessageOverheadBytes = 2 * 1024
	DefaultSCTPMaxReceiveBufferBytes          = 64 * 1024
)

// Config is the headless peer's configuration.
type Config struct {
	Logging

	SignalingURL string
	RoomID       string
	Initiator    bool
	// Token is sent to the relay as-is. When empty and JWTSecret is set, the
	// peer mints its own room token.
	Token     string
	JWTSecret string
	PeerID    string

	ICEServers                   []webrtc.ICEServer
	WebRTCUDPPortRange           *UDPPortRange
	WebRTCUDPListenIP            net.IP
	WebRTCNAT1To1IPs             []string
	WebRTCNAT1To1IPCandidateType NAT1To1IPCandidateType
	DataChannelMaxMessageBytes   int
	SCTPMaxReceiveBufferBytes    int

	ConnectionTimeout      time.Duration
	MaxReconnectAttempts   int
	RetryBackoffStep       time.Duration
	ReconnectBaseDelay     time.Duration
	HealthCheckInterval    time.Duration
	CandidateGatherTimeout time.Duration
	MinGatheredCandidates  int
	ReadyResendInterval    time.Duration

	BallStateThrottle  time.Duration
	PaddleSendInterval time.Duration
	StaleAfter         time.Duration
	DirectApplyAge     time.Duration
	BoundsFactor       float64
	PositionEpsilon    float64

	FieldHalfX float64
	FieldHalfY float64
	FieldHalfZ float64
	WinScore   int
	TickRate   int

	MetricsAddr string
	AutoReady   bool
	AutoRematch bool

	// ICEFromRelay replaces ICEServers with the relay's /webrtc/ice answer,
	// which carries short-lived TURN credentials.
	ICEFromRelay bool
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	env := &envReader{lookup: lookup}

	modeStr := env.str(EnvPeerMode, string(ModeDev))
	logFormatStr := env.str(EnvPeerLogFormat, "")
	logLevelStr := env.str(EnvPeerLogLevel, "")
	logFormatSet := logFormatStr != ""
	logLevelSet := logLevelStr != ""

	cfg := Config{
		SignalingURL: env.str(EnvPeerSignalingURL, DefaultSignalingURL),
		RoomID:       env.str(EnvPeerRoomID, ""),
		Initiator:    env.boolean(EnvPeerInitiator, false),
		Token:        env.str(EnvPeerToken, ""),
		JWTSecret:    env.str(EnvPeerJWTSecret, ""),
		PeerID:       env.str(EnvPeerID, ""),

		ConnectionTimeout:      env.duration(EnvPeerConnTimeout, DefaultConnectionTimeout),
		MaxReconnectAttempts:   env.integer(EnvPeerMaxReconnects, DefaultMaxReconnectAttempts),
		RetryBackoffStep:       env.duration(EnvPeerRetryStep, DefaultRetryBackoffStep),
		ReconnectBaseDelay:     env.duration(EnvPeerReconnectBase, DefaultReconnectBaseDelay),
		HealthCheckInterval:    env.duration(EnvPeerHealthCheck, DefaultHealthCheckInterval),
		CandidateGatherTimeout: env.duration(EnvPeerGatherTimeout, DefaultCandidateGatherTimeout),
		MinGatheredCandidates:  env.integer(EnvPeerMinCandidates, DefaultMinGatheredCandidates),
		ReadyResendInterval:    env.duration(EnvPeerReadyResend, DefaultReadyResendInterval),

		BallStateThrottle:  env.duration(EnvPeerBallThrottle, DefaultBallStateThrottle),
		PaddleSendInterval: env.duration(EnvPeerPaddleSend, DefaultPaddleSendInterval),
		StaleAfter:         env.duration(EnvPeerStaleAfter, DefaultStaleAfter),
		DirectApplyAge:     env.duration(EnvPeerDirectApply, DefaultDirectApplyAge),
		BoundsFactor:       env.float(EnvPeerBoundsFactor, DefaultBoundsFactor),
		PositionEpsilon:    env.float(EnvPeerEpsilon, DefaultPositionEpsilon),

		FieldHalfX: env.float(EnvPeerFieldHalfX, DefaultFieldHalfX),
		FieldHalfY: env.float(EnvPeerFieldHalfY, DefaultFieldHalfY),
		FieldHalfZ: env.float(EnvPeerFieldHalfZ, DefaultFieldHalfZ),
		WinScore:   env.integer(EnvPeerWinScore, DefaultWinScore),
		TickRate:   env.integer(EnvPeerTickRate, DefaultTickRate),

		MetricsAddr: env.str(EnvPeerMetricsAddr, ""),
		AutoReady:   env.boolean(EnvPeerAutoReady, true),
		AutoRematch: env.boolean(EnvPeerAutoRematch, false),

		ICEFromRelay: env.boolean(EnvPeerICEFromRelay, false),

		DataChannelMaxMessageBytes: env.integer(EnvWebRTCDataChannelMaxMessage, 0),
		SCTPMaxReceiveBufferBytes:  env.integer(EnvWebRTCSCTPMaxReceiveBufferLen, 0),
	}

	portMin := env.integer(EnvWebRTCUDPPortMin, 0)
	portMax := env.integer(EnvWebRTCUDPPortMax, 0)
	listenIPStr := env.str(EnvWebRTCUDPListenIP, "")
	natIPsStr := env.str(EnvWebRTCNAT1To1IPs, "")
	natTypeStr := env.str(EnvWebRTCNAT1To1IPCandidateType, string(NAT1To1CandidateTypeHost))
	if env.err != nil {
		return Config{}, env.err
	}

	iceServers, err := iceServersFromEnv(env)
	if err != nil {
		return Config{}, err
	}
	cfg.ICEServers = iceServers

	fs := flag.NewFlagSet("pong-peer", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fs.StringVar(&modeStr, "mode", modeStr, "Runtime mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatStr, "Log format: text or json (default depends on mode)")
	fs.StringVar(&logLevelStr, "log-level", logLevelStr, "Log level: debug, info, warn, error (default depends on mode)")
	fs.StringVar(&cfg.SignalingURL, "signaling-url", cfg.SignalingURL, "Base ws:// or wss:// URL of the signaling relay")
	fs.StringVar(&cfg.RoomID, "room", cfg.RoomID, "Room to join (required)")
	fs.BoolVar(&cfg.Initiator, "initiator", cfg.Initiator, "Act as Host: create the offer and run the authoritative simulation")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "Room token passed to the relay")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "HMAC secret used to mint a room token when -token is empty")
	fs.StringVar(&cfg.PeerID, "peer-id", cfg.PeerID, "Local peer id (default: random uuid)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address when set")
	fs.BoolVar(&cfg.AutoReady, "auto-ready", cfg.AutoReady, "Mark ready as soon as the channel opens")
	fs.BoolVar(&cfg.AutoRematch, "auto-rematch", cfg.AutoRematch, "Request a rematch after each game over")
	fs.BoolVar(&cfg.ICEFromRelay, "ice-from-relay", cfg.ICEFromRelay, "Fetch ICE servers (with TURN credentials) from the relay")
	fs.IntVar(&cfg.TickRate, "tick-rate", cfg.TickRate, "Simulation ticks per second")
	fs.IntVar(&cfg.WinScore, "win-score", cfg.WinScore, "Score that ends a game")
	fs.DurationVar(&cfg.ConnectionTimeout, "connection-timeout", cfg.ConnectionTimeout, "Negotiation attempt timeout")
	fs.IntVar(&cfg.MaxReconnectAttempts, "max-reconnect-attempts", cfg.MaxReconnectAttempts, "Retries after the initial attempt before giving up")

	var portMinFlag, portMaxFlag uint
	fs.UintVar(&portMinFlag, "webrtc-udp-port-min", uint(max(portMin, 0)), "Minimum UDP port for ICE (0 = unset)")
	fs.UintVar(&portMaxFlag, "webrtc-udp-port-max", uint(max(portMax, 0)), "Maximum UDP port for ICE (0 = unset)")
	fs.StringVar(&listenIPStr, "webrtc-udp-listen-ip", listenIPStr, "Local IP to bind ICE UDP sockets to")
	fs.StringVar(&natIPsStr, "webrtc-nat-1to1-ips", natIPsStr, "Comma-separated public IPs to advertise")
	fs.StringVar(&natTypeStr, "webrtc-nat-1to1-ip-candidate-type", natTypeStr, "Candidate type for NAT 1:1 IPs: host or srflx")
	fs.IntVar(&cfg.DataChannelMaxMessageBytes, "webrtc-datachannel-max-message-bytes", cfg.DataChannelMaxMessageBytes, "Max inbound DataChannel message size (0 = auto)")
	fs.IntVar(&cfg.SCTPMaxReceiveBufferBytes, "webrtc-sctp-max-receive-buffer-bytes", cfg.SCTPMaxReceiveBufferBytes, "SCTP receive buffer size (0 = auto)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-format":
			logFormatSet = true
		case "log-level":
			logLevelSet = true
		}
	})

	cfg.Logging, err = resolveLogging(modeStr, logFormatStr, logLevelStr, logFormatSet, logLevelSet)
	if err != nil {
		return Config{}, err
	}

	if portMinFlag != 0 || portMaxFlag != 0 {
		if portMinFlag == 0 || portMaxFlag == 0 {
			return Config{}, errors.New("webrtc udp port range requires both min and max")
		}
		minPort, err := parsePortUint(portMinFlag)
		if err != nil {
			return Config{}, fmt.Errorf("webrtc-udp-port-min: %w", err)
		}
		maxPort, err := parsePortUint(portMaxFlag)
		if err != nil {
			return Config{}, fmt.Errorf("webrtc-udp-port-max: %w", err)
		}
		if minPort > maxPort {
			return Config{}, fmt.Errorf("webrtc udp port range min %d exceeds max %d", minPort, maxPort)
		}
		cfg.WebRTCUDPPortRange = &UDPPortRange{Min: minPort, Max: maxPort}
	}

	if listenIPStr != "" {
		ip := net.ParseIP(listenIPStr)
		if ip == nil {
			return Config{}, fmt.Errorf("invalid webrtc udp listen ip %q", listenIPStr)
		}
		cfg.WebRTCUDPListenIP = ip
	}

	if strings.TrimSpace(natIPsStr) != "" {
		ips, err := parseIPList(natIPsStr)
		if err != nil {
			return Config{}, fmt.Errorf("webrtc-nat-1to1-ips: %w", err)
		}
		cfg.WebRTCNAT1To1IPs = ips
	}
	cfg.WebRTCNAT1To1IPCandidateType, err = parseCandidateType(natTypeStr)
	if err != nil {
		return Config{}, fmt.Errorf("webrtc-nat-1to1-ip-candidate-type: %w", err)
	}

	if cfg.DataChannelMaxMessageBytes == 0 {
		cfg.DataChannelMaxMessageBytes = defaultWebRTCDataChannelMaxMessageBytes()
	}
	if cfg.SCTPMaxReceiveBufferBytes == 0 {
		cfg.SCTPMaxReceiveBufferBytes = defaultWebRTCSCTPMaxReceiveBufferBytes(cfg.DataChannelMaxMessageBytes)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.RoomID) == "" {
		return errors.New("room is required (set -room or " + EnvPeerRoomID + ")")
	}
	if !strings.HasPrefix(c.SignalingURL, "ws://") && !strings.HasPrefix(c.SignalingURL, "wss://") {
		return fmt.Errorf("signaling url %q must use ws:// or wss://", c.SignalingURL)
	}
	if c.DataChannelMaxMessageBytes < 0 {
		return fmt.Errorf("%s must be >= 0", EnvWebRTCDataChannelMaxMessage)
	}
	if c.SCTPMaxReceiveBufferBytes < minWebRTCSCTPReceiveBufferBytes {
		return fmt.Errorf("%s must be >= %d", EnvWebRTCSCTPMaxReceiveBufferLen, minWebRTCSCTPReceiveBufferBytes)
	}
	if c.SCTPMaxReceiveBufferBytes < c.DataChannelMaxMessageBytes {
		return fmt.Errorf("%s (%d) must be >= %s (%d)", EnvWebRTCSCTPMaxReceiveBufferLen, c.SCTPMaxReceiveBufferBytes, EnvWebRTCDataChannelMaxMessage, c.DataChannelMaxMessageBytes)
	}

	for name, d := range map[string]time.Duration{
		"connection timeout":       c.ConnectionTimeout,
		"retry backoff step":       c.RetryBackoffStep,
		"reconnect base delay":     c.ReconnectBaseDelay,
		"health check interval":    c.HealthCheckInterval,
		"candidate gather timeout": c.CandidateGatherTimeout,
		"ready resend interval":    c.ReadyResendInterval,
		"ball state throttle":      c.BallStateThrottle,
		"paddle send interval":     c.PaddleSendInterval,
		"stale after":              c.StaleAfter,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if c.DirectApplyAge < 0 || c.DirectApplyAge > c.StaleAfter {
		return fmt.Errorf("direct apply age %s must be within [0, %s]", c.DirectApplyAge, c.StaleAfter)
	}
	if c.MaxReconnectAttempts < 0 {
		return errors.New("max reconnect attempts must be >= 0")
	}
	if c.MinGatheredCandidates < 0 {
		return errors.New("min gathered candidates must be >= 0")
	}
	if c.BoundsFactor < 1 {
		return fmt.Errorf("bounds factor %v must be >= 1", c.BoundsFactor)
	}
	if c.PositionEpsilon < 0 {
		return errors.New("position epsilon must be >= 0")
	}
	if c.FieldHalfX < 0 || c.FieldHalfY < 0 || c.FieldHalfZ < 0 {
		return errors.New("field half extents must be >= 0")
	}
	if c.WinScore <= 0 {
		return errors.New("win score must be > 0")
	}
	if c.TickRate <= 0 || c.TickRate > 1000 {
		return fmt.Errorf("tick rate %d out of range (1-1000)", c.TickRate)
	}
	return nil
}

// TickInterval is the wall-clock period of one simulation step.
func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}
