package config

import (
	"errors"
	"flag"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{EnvPeerRoomID: "room-1"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Mode != ModeDev || cfg.LogFormat != LogFormatText || cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.SignalingURL != DefaultSignalingURL {
		t.Fatalf("SignalingURL=%q", cfg.SignalingURL)
	}
	if cfg.ConnectionTimeout != 15*time.Second || cfg.MaxReconnectAttempts != 3 || cfg.RetryBackoffStep != 2*time.Second {
		t.Fatalf("unexpected negotiation defaults: %+v", cfg)
	}
	if cfg.StaleAfter != 200*time.Millisecond || cfg.DirectApplyAge != 50*time.Millisecond || cfg.BoundsFactor != 1.2 {
		t.Fatalf("unexpected sync defaults: %+v", cfg)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].URLs[0] != DefaultSTUNURL {
		t.Fatalf("unexpected ice servers: %#v", cfg.ICEServers)
	}
	if cfg.DataChannelMaxMessageBytes != maxSyncMessageBytes+DefaultDataChannelMaxMessageOverheadBytes {
		t.Fatalf("DataChannelMaxMessageBytes=%d", cfg.DataChannelMaxMessageBytes)
	}
	if cfg.SCTPMaxReceiveBufferBytes != DefaultSCTPMaxReceiveBufferBytes {
		t.Fatalf("SCTPMaxReceiveBufferBytes=%d", cfg.SCTPMaxReceiveBufferBytes)
	}
	if cfg.TickInterval() != time.Second/60 {
		t.Fatalf("TickInterval=%s", cfg.TickInterval())
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	env := map[string]string{
		EnvPeerRoomID:      "from-env",
		EnvPeerMode:        "prod",
		EnvPeerConnTimeout: "5s",
		EnvPeerInitiator:   "true",
	}
	cfg, err := load(lookupFrom(env), []string{"-room", "from-flag", "-connection-timeout", "7s", "-log-level", "warn"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RoomID != "from-flag" {
		t.Fatalf("RoomID=%q", cfg.RoomID)
	}
	if cfg.ConnectionTimeout != 7*time.Second {
		t.Fatalf("ConnectionTimeout=%s", cfg.ConnectionTimeout)
	}
	if !cfg.Initiator {
		t.Fatal("expected initiator from env")
	}
	if cfg.LogFormat != LogFormatJSON || cfg.LogLevel != slog.LevelWarn {
		t.Fatalf("unexpected logging: %+v", cfg.Logging)
	}
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
		want string
	}{
		{name: "missing room", want: "room is required"},
		{name: "bad duration", env: map[string]string{EnvPeerRoomID: "r", EnvPeerStaleAfter: "soon"}, want: EnvPeerStaleAfter},
		{name: "bad url", env: map[string]string{EnvPeerRoomID: "r"}, args: []string{"-signaling-url", "http://x"}, want: "ws://"},
		{name: "half port range", env: map[string]string{EnvPeerRoomID: "r", EnvWebRTCUDPPortMin: "5000"}, want: "both min and max"},
		{name: "inverted port range", env: map[string]string{EnvPeerRoomID: "r"}, args: []string{"-webrtc-udp-port-min", "6000", "-webrtc-udp-port-max", "5000"}, want: "exceeds"},
		{name: "bounds factor", env: map[string]string{EnvPeerRoomID: "r", EnvPeerBoundsFactor: "0.5"}, want: "bounds factor"},
		{name: "turn without creds", env: map[string]string{EnvPeerRoomID: "r", EnvTurnURLs: "turn:t.example.com"}, want: EnvTurnUsername},
		{name: "bad mode", env: map[string]string{EnvPeerRoomID: "r", EnvPeerMode: "staging"}, want: "invalid mode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(lookupFrom(tc.env), tc.args)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoad_Help(t *testing.T) {
	_, err := load(lookupFrom(nil), []string{"-h"})
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("err=%v, want flag.ErrHelp", err)
	}
}

func TestLoad_NAT1To1(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		EnvPeerRoomID:                   "r",
		EnvWebRTCNAT1To1IPs:             "203.0.113.1, 203.0.113.2",
		EnvWebRTCNAT1To1IPCandidateType: "srflx",
		EnvWebRTCUDPListenIP:            "0.0.0.0",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.WebRTCNAT1To1IPs) != 2 || cfg.WebRTCNAT1To1IPCandidateType != NAT1To1CandidateTypeSrflx {
		t.Fatalf("unexpected nat config: %v %v", cfg.WebRTCNAT1To1IPs, cfg.WebRTCNAT1To1IPCandidateType)
	}
	if !IsUnspecifiedIP(cfg.WebRTCUDPListenIP) {
		t.Fatalf("listen ip=%v", cfg.WebRTCUDPListenIP)
	}
}

func TestLoadRelay_Defaults(t *testing.T) {
	cfg, err := loadRelay(lookupFrom(nil), nil)
	if err != nil {
		t.Fatalf("loadRelay: %v", err)
	}
	if cfg.ListenAddr != DefaultRelayListenAddr || cfg.AuthMode != AuthModeNone {
		t.Fatalf("unexpected relay defaults: %+v", cfg)
	}
	if cfg.RedisAddr != "" || cfg.MaxMessagesPerSecond != DefaultRelayMaxMessagesPerSecond {
		t.Fatalf("unexpected relay defaults: %+v", cfg)
	}
}

func TestLoadRelay_JWTRequiresSecret(t *testing.T) {
	_, err := loadRelay(lookupFrom(map[string]string{EnvRelayAuthMode: "jwt"}), nil)
	if err == nil || !strings.Contains(err.Error(), "jwt secret") {
		t.Fatalf("err=%v", err)
	}

	cfg, err := loadRelay(lookupFrom(map[string]string{EnvRelayAuthMode: "JWT"}), []string{"-jwt-secret", "s3cret", "-allowed-origins", "https://a.example, https://b.example"})
	if err != nil {
		t.Fatalf("loadRelay: %v", err)
	}
	if cfg.AuthMode != AuthModeJWT || len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadRelay_IdleMustExceedPing(t *testing.T) {
	_, err := loadRelay(lookupFrom(nil), []string{"-ping-interval", "30s", "-idle-timeout", "10s"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadRelay_TURNREST(t *testing.T) {
	_, err := loadRelay(lookupFrom(map[string]string{EnvRelayTURNURLs: "turn:turn.example:3478"}), nil)
	if err == nil || !strings.Contains(err.Error(), "TURN REST") {
		t.Fatalf("err=%v, want missing secret error", err)
	}

	_, err = loadRelay(lookupFrom(map[string]string{EnvRelaySTUNURLs: "http://stun.example"}), nil)
	if err == nil {
		t.Fatal("expected scheme error")
	}

	cfg, err := loadRelay(lookupFrom(map[string]string{
		EnvRelaySTUNURLs:       "stun:stun.example:3478",
		EnvRelayTURNURLs:       "turn:turn.example:3478?transport=udp, turns:turn.example:5349",
		EnvRelayTURNRESTSecret: "shared",
	}), []string{"-turn-rest-ttl", "10m"})
	if err != nil {
		t.Fatalf("loadRelay: %v", err)
	}
	if !cfg.TURNRESTEnabled() || len(cfg.TURNURLs) != 2 || cfg.TURNRESTTTL != 10*time.Minute {
		t.Fatalf("unexpected turn config: %+v", cfg)
	}
	if cfg.TURNRESTPrefix != DefaultRelayTURNRESTPrefix {
		t.Fatalf("prefix=%q", cfg.TURNRESTPrefix)
	}

	_, err = loadRelay(lookupFrom(map[string]string{EnvRelayTURNRESTSecret: "shared"}), []string{"-turn-rest-username-prefix", "a:b"})
	if err == nil {
		t.Fatal("expected prefix error")
	}
}
