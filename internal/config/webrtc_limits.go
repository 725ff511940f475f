package config

// minWebRTCSCTPReceiveBufferBytes is the smallest receive buffer pion/sctp
// accepts during association setup; smaller values break INIT/INIT-ACK.
const minWebRTCSCTPReceiveBufferBytes = 1500

// maxSyncMessageBytes bounds the largest SyncMessage the game channel
// carries (a game_over event with scores and field dimensions is well under
// 1 KiB). The channel cap adds headroom on top.
const maxSyncMessageBytes = 2 * 1024

func defaultWebRTCDataChannelMaxMessageBytes() int {
	return maxSyncMessageBytes + DefaultDataChannelMaxMessageOverheadBytes
}

func defaultWebRTCSCTPMaxReceiveBufferBytes(maxMessageBytes int) int {
	maxMessageBytes = max(maxMessageBytes, 0)
	buf := DefaultSCTPMaxReceiveBufferBytes

	// Keep the buffer comfortably above the per-message cap so a few
	// in-flight messages do not stall the association.
	buf = max(buf, maxMessageBytes*2, minWebRTCSCTPReceiveBufferBytes)
	return buf
}
