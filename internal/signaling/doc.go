// Package signaling is the reliable side channel two peers use to find each
// other: a websocket to the relay, scoped to one room, carrying SDP offers,
// answers and ICE candidates until the direct channel is up.
//
// The same message types are parsed by the relay, which stamps "from" on
// everything it forwards and emits peer-joined, peer-left and error notices
// of its own.
package signaling
