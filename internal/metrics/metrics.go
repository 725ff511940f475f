package metrics

import "sync"

// Event names shared by the peer runtime and the signaling relay.
const (
	SyncDropStale       = "sync_drop_stale"
	SyncDropOutOfOrder  = "sync_drop_out_of_order"
	SyncDropOutOfBounds = "sync_drop_out_of_bounds"
	SyncDropWrongRole   = "sync_drop_wrong_role"
	SyncDropMalformed   = "sync_drop_malformed"

	NegotiationRetries  = "negotiation_retries"
	NegotiationFailures = "negotiation_failures"
	SignalingReconnects = "signaling_reconnects"
	HealthCheckFailures = "health_check_failures"
	CandidatesBuffered  = "candidates_buffered"

	DataChannelRejected      = "datachannel_rejected"
	DataChannelOversize      = "datachannel_oversize"
	DataChannelSendNotOpen   = "datachannel_send_not_open"
	SignalingMessageRejected = "signaling_message_rejected"

	RelayConnections      = "relay_connections"
	RelayMessages         = "relay_messages"
	RelayRoomFull         = "relay_room_full"
	RelayAuthFailure      = "relay_auth_failure"
	DropReasonRateLimited = "rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

// Inc is safe to call on a nil *Metrics.
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
