package webrtcpeer

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// DataChannelLabelGame is the label of the single channel carrying sync
// messages between the two players.
const DataChannelLabelGame = "game"

// gameDataChannelInit emulates UDP: unordered and never retransmitted. Late
// state is worthless, and statesync rejects stale or reordered updates.
func gameDataChannelInit() *webrtc.DataChannelInit {
	ordered := false
	maxRetransmits := uint16(0)
	return &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	}
}

func validateGameDataChannel(dc *webrtc.DataChannel) error {
	if dc.Label() != DataChannelLabelGame {
		return fmt.Errorf("expected label=%q (got %q)", DataChannelLabelGame, dc.Label())
	}
	if dc.Ordered() {
		return fmt.Errorf("game datachannel must be unordered (ordered=true)")
	}
	if dc.MaxPacketLifeTime() != nil {
		return fmt.Errorf("game datachannel must not set maxPacketLifeTime (use maxRetransmits=0)")
	}
	maxRetransmits := dc.MaxRetransmits()
	if maxRetransmits == nil || *maxRetransmits != 0 {
		return fmt.Errorf("game datachannel must set maxRetransmits=0")
	}
	return nil
}
