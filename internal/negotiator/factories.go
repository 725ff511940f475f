package negotiator

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/PASBarbari/Trascendence-sub000/internal/signaling"
	"github.com/PASBarbari/Trascendence-sub000/internal/webrtcpeer"
)

// PeerConns builds webrtcpeer.Peer connections from one shared API.
func PeerConns(api *webrtc.API, opts webrtcpeer.Options) ConnFactory {
	return func(initiator bool, hooks webrtcpeer.Hooks) (Conn, error) {
		o := opts
		o.Initiator = initiator
		p, err := webrtcpeer.New(api, o, hooks)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// RelayDialer dials the signaling relay with a fixed room and credentials.
func RelayDialer(cfg signaling.DialConfig) SignalerFactory {
	return func(ctx context.Context, handler signaling.Handler) (Signaler, error) {
		c, err := signaling.Dial(ctx, cfg, handler)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}
