package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

const (
	EnvRelayMode                 = "PONG_RELAY_MODE"
	EnvRelayLogFormat            = "PONG_RELAY_LOG_FORMAT"
	EnvRelayLogLevel             = "PONG_RELAY_LOG_LEVEL"
	EnvRelayListenAddr           = "PONG_RELAY_LISTEN_ADDR"
	EnvRelayAllowedOrigins       = "PONG_RELAY_ALLOWED_ORIGINS"
	EnvRelayAuthMode             = "PONG_RELAY_AUTH_MODE"
	EnvRelayJWTSecret            = "PONG_RELAY_JWT_SECRET"
	EnvRelayRedisAddr            = "PONG_RELAY_REDIS_ADDR"
	EnvRelayRedisPassword        = "PONG_RELAY_REDIS_PASSWORD"
	EnvRelayRedisDB              = "PONG_RELAY_REDIS_DB"
	EnvRelayPresenceTTL          = "PONG_RELAY_PRESENCE_TTL"
	EnvRelayMaxMessageBytes      = "PONG_RELAY_MAX_MESSAGE_BYTES"
	EnvRelayMaxMessagesPerSecond = "PONG_RELAY_MAX_MESSAGES_PER_SECOND"
	EnvRelayPingInterval         = "PONG_RELAY_PING_INTERVAL"
	EnvRelayIdleTimeout          = "PONG_RELAY_IDLE_TIMEOUT"
	EnvRelayShutdownTimeout      = "PONG_RELAY_SHUTDOWN_TIMEOUT"
	EnvRelaySTUNURLs             = "PONG_RELAY_STUN_URLS"
	EnvRelayTURNURLs             = "PONG_RELAY_TURN_URLS"
	EnvRelayTURNRESTSecret       = "PONG_RELAY_TURN_REST_SHARED_SECRET"
	EnvRelayTURNRESTTTL          = "PONG_RELAY_TURN_REST_TTL"
	EnvRelayTURNRESTPrefix       = "PONG_RELAY_TURN_REST_USERNAME_PREFIX"
)

const (
	DefaultRelayListenAddr           = "127.0.0.1:8080"
	DefaultRelayMaxMessageBytes      = 64 * 1024
	DefaultRelayMaxMessagesPerSecond = 50
	DefaultRelayPingInterval         = 20 * time.Second
	DefaultRelayIdleTimeout          = 60 * time.Second
	DefaultRelayShutdownTimeout      = 15 * time.Second
	DefaultRelayPresenceTTL          = 24 * time.Hour
	DefaultRelayTURNRESTTTL          = time.Hour
	DefaultRelayTURNRESTPrefix       = "pong"
)

type AuthMode string

const (
	AuthModeNone AuthMode = "none"
	AuthModeJWT  AuthMode = "jwt"
)

// RelayConfig configures the signaling relay.
type RelayConfig struct {
	Logging

	ListenAddr     string
	AllowedOrigins []string

	AuthMode  AuthMode
	JWTSecret string

	// RedisAddr selects the Redis presence store; empty means in-memory.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PresenceTTL   time.Duration

	MaxMessageBytes      int
	MaxMessagesPerSecond int
	PingInterval         time.Duration
	IdleTimeout          time.Duration
	ShutdownTimeout      time.Duration

	// ICE servers handed to peers by GET /webrtc/ice. TURN URLs get
	// per-request credentials minted from TURNRESTSecret.
	STUNURLs       []string
	TURNURLs       []string
	TURNRESTSecret string
	TURNRESTTTL    time.Duration
	TURNRESTPrefix string
}

func (c RelayConfig) TURNRESTEnabled() bool {
	return c.TURNRESTSecret != ""
}

func LoadRelay(args []string) (RelayConfig, error) {
	return loadRelay(os.LookupEnv, args)
}

func loadRelay(lookup func(string) (string, bool), args []string) (RelayConfig, error) {
	env := &envReader{lookup: lookup}

	modeStr := env.str(EnvRelayMode, string(ModeDev))
	logFormatStr := env.str(EnvRelayLogFormat, "")
	logLevelStr := env.str(EnvRelayLogLevel, "")
	logFormatSet := logFormatStr != ""
	logLevelSet := logLevelStr != ""
	originsStr := env.str(EnvRelayAllowedOrigins, "")
	authModeStr := env.str(EnvRelayAuthMode, string(AuthModeNone))
	stunStr := env.str(EnvRelaySTUNURLs, "")
	turnStr := env.str(EnvRelayTURNURLs, "")

	cfg := RelayConfig{
		ListenAddr:           env.str(EnvRelayListenAddr, DefaultRelayListenAddr),
		JWTSecret:            env.str(EnvRelayJWTSecret, ""),
		RedisAddr:            env.str(EnvRelayRedisAddr, ""),
		RedisPassword:        env.str(EnvRelayRedisPassword, ""),
		RedisDB:              env.integer(EnvRelayRedisDB, 0),
		PresenceTTL:          env.duration(EnvRelayPresenceTTL, DefaultRelayPresenceTTL),
		MaxMessageBytes:      env.integer(EnvRelayMaxMessageBytes, DefaultRelayMaxMessageBytes),
		MaxMessagesPerSecond: env.integer(EnvRelayMaxMessagesPerSecond, DefaultRelayMaxMessagesPerSecond),
		PingInterval:         env.duration(EnvRelayPingInterval, DefaultRelayPingInterval),
		IdleTimeout:          env.duration(EnvRelayIdleTimeout, DefaultRelayIdleTimeout),
		ShutdownTimeout:      env.duration(EnvRelayShutdownTimeout, DefaultRelayShutdownTimeout),
		TURNRESTSecret:       env.str(EnvRelayTURNRESTSecret, ""),
		TURNRESTTTL:          env.duration(EnvRelayTURNRESTTTL, DefaultRelayTURNRESTTTL),
		TURNRESTPrefix:       env.str(EnvRelayTURNRESTPrefix, DefaultRelayTURNRESTPrefix),
	}
	if env.err != nil {
		return RelayConfig{}, env.err
	}

	fs := flag.NewFlagSet("pong-signal-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fs.StringVar(&modeStr, "mode", modeStr, "Runtime mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatStr, "Log format: text or json (default depends on mode)")
	fs.StringVar(&logLevelStr, "log-level", logLevelStr, "Log level: debug, info, warn, error (default depends on mode)")
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "HTTP listen address")
	fs.StringVar(&originsStr, "allowed-origins", originsStr, "Comma-separated browser origins allowed to open signaling sockets (empty = same host only)")
	fs.StringVar(&authModeStr, "auth-mode", authModeStr, "Room auth mode: none or jwt")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "HMAC secret for room tokens (auth-mode=jwt)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for room presence (empty = in-memory)")
	fs.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "Redis database index")
	fs.DurationVar(&cfg.PresenceTTL, "presence-ttl", cfg.PresenceTTL, "Expiry of a room's presence set")
	fs.IntVar(&cfg.MaxMessageBytes, "max-message-bytes", cfg.MaxMessageBytes, "Largest signaling message accepted from a client")
	fs.IntVar(&cfg.MaxMessagesPerSecond, "max-messages-per-second", cfg.MaxMessagesPerSecond, "Per-connection message rate limit (0 = unlimited)")
	fs.DurationVar(&cfg.PingInterval, "ping-interval", cfg.PingInterval, "Websocket ping interval")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Close connections idle for longer than this")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Graceful shutdown timeout")
	fs.StringVar(&stunStr, "stun-urls", stunStr, "Comma-separated STUN URLs served at /webrtc/ice")
	fs.StringVar(&turnStr, "turn-urls", turnStr, "Comma-separated TURN URLs served at /webrtc/ice (requires TURN REST secret)")
	fs.StringVar(&cfg.TURNRESTSecret, "turn-rest-shared-secret", cfg.TURNRESTSecret, "coturn static-auth-secret used to mint TURN credentials")
	fs.DurationVar(&cfg.TURNRESTTTL, "turn-rest-ttl", cfg.TURNRESTTTL, "Lifetime of minted TURN credentials")
	fs.StringVar(&cfg.TURNRESTPrefix, "turn-rest-username-prefix", cfg.TURNRESTPrefix, "Prefix embedded in minted TURN usernames")

	if err := fs.Parse(args); err != nil {
		return RelayConfig{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-format":
			logFormatSet = true
		case "log-level":
			logLevelSet = true
		}
	})

	var err error
	cfg.Logging, err = resolveLogging(modeStr, logFormatStr, logLevelStr, logFormatSet, logLevelSet)
	if err != nil {
		return RelayConfig{}, err
	}

	cfg.AllowedOrigins = splitCommaSeparated(originsStr)
	cfg.STUNURLs = splitCommaSeparated(stunStr)
	cfg.TURNURLs = splitCommaSeparated(turnStr)
	switch AuthMode(strings.ToLower(strings.TrimSpace(authModeStr))) {
	case AuthModeNone:
		cfg.AuthMode = AuthModeNone
	case AuthModeJWT:
		cfg.AuthMode = AuthModeJWT
	default:
		return RelayConfig{}, fmt.Errorf("invalid auth mode %q (expected none or jwt)", authModeStr)
	}

	if err := cfg.validate(); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

func (c RelayConfig) validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen addr %q: %w", c.ListenAddr, err)
	}
	if c.AuthMode == AuthModeJWT && strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("jwt secret is required when auth mode is jwt (set -jwt-secret or " + EnvRelayJWTSecret + ")")
	}
	if c.MaxMessageBytes <= 0 {
		return errors.New("max message bytes must be > 0")
	}
	if c.MaxMessagesPerSecond < 0 {
		return errors.New("max messages per second must be >= 0")
	}
	if c.PingInterval <= 0 {
		return errors.New("ping interval must be > 0")
	}
	if c.IdleTimeout <= c.PingInterval {
		return fmt.Errorf("idle timeout %s must exceed ping interval %s", c.IdleTimeout, c.PingInterval)
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be > 0")
	}
	if c.PresenceTTL <= 0 {
		return errors.New("presence ttl must be > 0")
	}
	if c.RedisDB < 0 {
		return errors.New("redis db must be >= 0")
	}
	for _, u := range append(append([]string(nil), c.STUNURLs...), c.TURNURLs...) {
		if !isAllowedICEScheme(u) {
			return fmt.Errorf("unsupported ice url scheme: %q", u)
		}
	}
	if len(c.TURNURLs) > 0 && !c.TURNRESTEnabled() {
		return errors.New("turn urls require a TURN REST shared secret (set -turn-rest-shared-secret or " + EnvRelayTURNRESTSecret + ")")
	}
	if c.TURNRESTEnabled() {
		if c.TURNRESTTTL <= 0 {
			return errors.New("turn rest ttl must be > 0")
		}
		if c.TURNRESTPrefix == "" || strings.Contains(c.TURNRESTPrefix, ":") {
			return fmt.Errorf("turn rest username prefix %q must be non-empty and contain no ':'", c.TURNRESTPrefix)
		}
	}
	return nil
}
