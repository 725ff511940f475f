package relayserver

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/PASBarbari/Trascendence-sub000/internal/auth"
	"github.com/PASBarbari/Trascendence-sub000/internal/config"
	"github.com/PASBarbari/Trascendence-sub000/internal/metrics"
	"github.com/PASBarbari/Trascendence-sub000/internal/signaling"
)

func TestRelay_ICEWithTURNREST(t *testing.T) {
	cfg := testRelayConfig()
	cfg.STUNURLs = []string{"stun:stun.example:3478"}
	cfg.TURNURLs = []string{"turn:turn.example:3478"}
	cfg.TURNRESTSecret = "shared"
	cfg.TURNRESTTTL = time.Hour
	cfg.TURNRESTPrefix = "pong"
	r := newTestRelay(t, cfg, nil)

	var resp signaling.ICEResponse
	getJSON(t, r.base+signaling.ICEPath+"?peerId=p1", http.StatusOK, &resp)
	if len(resp.ICEServers) != 2 {
		t.Fatalf("iceServers=%+v", resp.ICEServers)
	}
	if resp.ICEServers[0].Username != "" {
		t.Fatalf("stun entry has credentials: %+v", resp.ICEServers[0])
	}
	turn := resp.ICEServers[1]
	if !strings.HasSuffix(turn.Username, ":pong:p1") || turn.Credential == "" {
		t.Fatalf("turn entry=%+v", turn)
	}
	if resp.ExpiresAt <= time.Now().Unix() {
		t.Fatalf("expiresAt=%d is not in the future", resp.ExpiresAt)
	}

	// The peer-side fetch decodes the same payload.
	servers, err := signaling.FetchICEServers(context.Background(), nil, "ws"+strings.TrimPrefix(r.base, "http"), "room1", "", "p2")
	if err != nil {
		t.Fatalf("FetchICEServers: %v", err)
	}
	if err := config.ValidateICEServers(servers); err != nil {
		t.Fatalf("fetched servers invalid: %v", err)
	}
}

func TestRelay_ICERequiresTokenInJWTMode(t *testing.T) {
	cfg := testRelayConfig()
	cfg.AuthMode = config.AuthModeJWT
	cfg.JWTSecret = "test-secret"
	cfg.STUNURLs = []string{"stun:stun.example:3478"}
	r := newTestRelay(t, cfg, nil)

	resp, err := http.Get(r.base + signaling.ICEPath + "?roomId=room1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", resp.StatusCode)
	}
	if n := r.metrics.Get(metrics.RelayAuthFailure); n != 1 {
		t.Fatalf("auth failures=%d, want 1", n)
	}

	tok, err := auth.IssueRoomToken(cfg.JWTSecret, "room1", "alice", time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("IssueRoomToken: %v", err)
	}
	var ice signaling.ICEResponse
	getJSON(t, r.base+signaling.ICEPath+"?roomId=room1&token="+tok, http.StatusOK, &ice)
	if len(ice.ICEServers) != 1 || ice.ExpiresAt != 0 {
		t.Fatalf("ice=%+v", ice)
	}
}
