package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pion/webrtc/v4"
)

// ICEPath serves the relay's ICE server list.
const ICEPath = "/webrtc/ice"

const maxICEResponseBytes = 64 * 1024

// ICEServer is the browser RTCIceServer shape.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

func ICEServerFromPion(s webrtc.ICEServer) ICEServer {
	out := ICEServer{URLs: s.URLs, Username: s.Username}
	if cred, ok := s.Credential.(string); ok {
		out.Credential = cred
	}
	return out
}

func (s ICEServer) ToPion() webrtc.ICEServer {
	out := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
	if s.Credential != "" {
		out.Credential = s.Credential
	}
	return out
}

type ICEResponse struct {
	ICEServers []ICEServer `json:"iceServers"`
	// ExpiresAt is the Unix time at which TURN credentials lapse; zero when
	// no TURN server is listed.
	ExpiresAt int64 `json:"expiresAt,omitempty"`
}

// ICEURL maps the relay's ws(s) base URL to its http(s) ICE endpoint.
func ICEURL(base, roomID, token, peerID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parse signaling url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("signaling url scheme %q must be ws or wss", u.Scheme)
	}
	u.Path += ICEPath
	u.RawPath = ""
	q := url.Values{}
	if roomID != "" {
		q.Set("roomId", roomID)
	}
	if token != "" {
		q.Set("token", token)
	}
	if peerID != "" {
		q.Set("peerId", peerID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FetchICEServers asks the relay for ICE servers. A nil client uses
// http.DefaultClient.
func FetchICEServers(ctx context.Context, client *http.Client, base, roomID, token, peerID string) ([]webrtc.ICEServer, error) {
	if client == nil {
		client = http.DefaultClient
	}
	target, err := ICEURL(base, roomID, token, peerID)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch ice servers: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxICEResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch ice servers: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch ice servers: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload ICEResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode ice servers: %w", err)
	}
	out := make([]webrtc.ICEServer, 0, len(payload.ICEServers))
	for _, s := range payload.ICEServers {
		out = append(out, s.ToPion())
	}
	return out, nil
}
