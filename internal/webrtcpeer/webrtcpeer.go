// Package webrtcpeer owns the direct transport between two players: a pion
// PeerConnection carrying one unordered, unreliable DataChannel.
package webrtcpeer

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/pion/webrtc/v4"

	"github.com/PASBarbari/Trascendence-sub000/internal/config"
)

// NewSettingEngine builds the SettingEngine shared by every PeerConnection
// the peer creates. Tests layer SetNet on top of it.
func NewSettingEngine(cfg config.Config, logger *slog.Logger) (webrtc.SettingEngine, error) {
	se := webrtc.SettingEngine{}
	if err := ApplyNetworkSettings(&se, cfg); err != nil {
		return webrtc.SettingEngine{}, err
	}
	if cfg.SCTPMaxReceiveBufferBytes > 0 {
		se.SetSCTPMaxReceiveBufferSize(uint32(cfg.SCTPMaxReceiveBufferBytes))
	}
	if logger != nil {
		se.LoggerFactory = NewLoggerFactory(logger)
	}
	return se, nil
}

func NewAPI(cfg config.Config, logger *slog.Logger) (*webrtc.API, error) {
	se, err := NewSettingEngine(cfg, logger)
	if err != nil {
		return nil, err
	}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se)), nil
}

func ApplyNetworkSettings(se *webrtc.SettingEngine, cfg config.Config) error {
	if cfg.WebRTCUDPPortRange != nil {
		if err := se.SetEphemeralUDPPortRange(cfg.WebRTCUDPPortRange.Min, cfg.WebRTCUDPPortRange.Max); err != nil {
			return fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}

	if len(cfg.WebRTCNAT1To1IPs) > 0 {
		var candidateType webrtc.ICECandidateType
		switch cfg.WebRTCNAT1To1IPCandidateType {
		case config.NAT1To1CandidateTypeHost:
			candidateType = webrtc.ICECandidateTypeHost
		case config.NAT1To1CandidateTypeSrflx:
			candidateType = webrtc.ICECandidateTypeSrflx
		default:
			return fmt.Errorf("invalid NAT 1:1 IP candidate type %q", cfg.WebRTCNAT1To1IPCandidateType)
		}
		se.SetNAT1To1IPs(cfg.WebRTCNAT1To1IPs, candidateType)
	}

	// There is no "bind to this address" toggle; restrict gathering with an
	// IP filter instead.
	if !config.IsUnspecifiedIP(cfg.WebRTCUDPListenIP) {
		listenIP := cfg.WebRTCUDPListenIP
		se.SetIPFilter(func(ip net.IP) bool {
			return ip.Equal(listenIP)
		})
	}

	return nil
}
