package relayserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"

	"github.com/PASBarbari/Trascendence-sub000/internal/auth"
	"github.com/PASBarbari/Trascendence-sub000/internal/config"
	"github.com/PASBarbari/Trascendence-sub000/internal/metrics"
	"github.com/PASBarbari/Trascendence-sub000/internal/signaling"
	"github.com/PASBarbari/Trascendence-sub000/internal/turnrest"
)

func iceServersFromConfig(cfg config.RelayConfig) []webrtc.ICEServer {
	var out []webrtc.ICEServer
	if len(cfg.STUNURLs) > 0 {
		out = append(out, webrtc.ICEServer{URLs: cfg.STUNURLs})
	}
	if len(cfg.TURNURLs) > 0 {
		out = append(out, webrtc.ICEServer{URLs: cfg.TURNURLs})
	}
	return out
}

func newTURNIssuer(cfg config.RelayConfig) (*turnrest.Issuer, error) {
	if !cfg.TURNRESTEnabled() {
		return nil, nil
	}
	return turnrest.NewIssuer(turnrest.Config{
		SharedSecret:   cfg.TURNRESTSecret,
		TTL:            cfg.TURNRESTTTL,
		UsernamePrefix: cfg.TURNRESTPrefix,
	})
}

// handleICE returns the ICE servers a peer should use. TURN entries carry
// credentials minted for the requesting peer. In jwt mode the request must
// carry a valid room token, since TURN bandwidth is not free.
func (s *Server) handleICE(c *gin.Context) {
	roomID := c.Query("roomId")
	var identity auth.Identity
	if s.cfg.AuthMode != config.AuthModeNone || roomID != "" {
		if !validID(roomID, maxRoomIDLen) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
			return
		}
		var err error
		identity, err = s.authenticate(c.Request, roomID)
		if err != nil {
			s.metrics.Inc(metrics.RelayAuthFailure)
			c.JSON(http.StatusUnauthorized, gin.H{"error": signaling.ErrorCodeUnauthorized})
			return
		}
	}
	peerID := resolvePeerID(identity, c.Query("peerId"))

	servers := s.iceServers
	var resp signaling.ICEResponse
	if s.turn != nil && len(s.cfg.TURNURLs) > 0 {
		withCreds, creds, err := s.turn.Apply(servers, peerID)
		if err != nil {
			s.log.Error("mint turn credentials", "peer_id", peerID, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "turn credentials unavailable"})
			return
		}
		servers = withCreds
		resp.ExpiresAt = creds.Expires.Unix()
	}

	resp.ICEServers = make([]signaling.ICEServer, 0, len(servers))
	for _, server := range servers {
		resp.ICEServers = append(resp.ICEServers, signaling.ICEServerFromPion(server))
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, resp)
}
