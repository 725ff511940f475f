// Package relayserver is the signaling relay peers use to find each other.
//
// Each room holds at most two peers. The relay never interprets SDP or ICE:
// it validates the envelope, stamps the sender's id into "from", and hands
// the message to the other peer. Joins and departures are announced with
// peer-joined and peer-left notices so a waiting peer can re-announce itself.
package relayserver
