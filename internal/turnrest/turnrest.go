// Package turnrest mints coturn-compatible ephemeral TURN credentials
// (draft-uberti-behave-turn-rest):
//
//	username   = <unix expiry>:<prefix>:<peer id>
//	credential = base64(hmac-sha1(shared secret, username))
//
// The TURN server only needs the shared secret to verify them, so the relay
// can hand out per-peer credentials without any state.
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

var ErrInvalidPeerID = errors.New("turnrest: peer id must be non-empty and contain no ':'")

type Config struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string
	Now            func() time.Time
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

type Credentials struct {
	Username   string
	Credential string
	Expires    time.Time
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("turnrest: shared secret is required")
	}
	if cfg.TTL < time.Second {
		return nil, errors.New("turnrest: ttl must be at least one second")
	}
	if cfg.UsernamePrefix == "" || strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("turnrest: username prefix must be non-empty and contain no ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Issuer{
		secret: []byte(cfg.SharedSecret),
		ttl:    cfg.TTL,
		prefix: cfg.UsernamePrefix,
		now:    cfg.Now,
	}, nil
}

// Issue mints credentials for peerID. The expiry is truncated to whole
// seconds since that is all the username can carry.
func (i *Issuer) Issue(peerID string) (Credentials, error) {
	if peerID == "" || strings.Contains(peerID, ":") {
		return Credentials{}, ErrInvalidPeerID
	}
	expires := i.now().UTC().Add(i.ttl).Truncate(time.Second)
	username := strconv.FormatInt(expires.Unix(), 10) + ":" + i.prefix + ":" + peerID
	return Credentials{
		Username:   username,
		Credential: sign(i.secret, username),
		Expires:    expires,
	}, nil
}

// Apply returns a copy of servers with fresh credentials on every TURN
// entry. STUN-only entries pass through unchanged.
func (i *Issuer) Apply(servers []webrtc.ICEServer, peerID string) ([]webrtc.ICEServer, Credentials, error) {
	creds, err := i.Issue(peerID)
	if err != nil {
		return nil, Credentials{}, err
	}
	out := make([]webrtc.ICEServer, len(servers))
	for n, server := range servers {
		out[n] = server
		if IsTURN(server) {
			out[n].Username = creds.Username
			out[n].Credential = creds.Credential
		}
	}
	return out, creds, nil
}

// IsTURN reports whether any of the server's URLs is turn: or turns:.
func IsTURN(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		u := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}

func sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
