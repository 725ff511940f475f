package signaling

import (
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func TestParse_PeerReady(t *testing.T) {
	got, err := Parse([]byte(`{"type":"peer-ready","isInitiator":true,"timestamp":1700000000000,"from":"abc"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Type != TypePeerReady || !got.Initiator() || got.From != "abc" || got.Timestamp != 1700000000000 {
		t.Fatalf("unexpected message: %#v", got)
	}
}

func TestParse_Candidate(t *testing.T) {
	raw := []byte(`{
		"type":"ice-candidate",
		"candidate":{
			"candidate":"candidate:1 1 udp 1 127.0.0.1 9 typ host",
			"sdpMid":"0",
			"sdpMLineIndex":0
		}
	}`)

	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	init := got.Candidate.ToPion()
	if init.SDPMid == nil || *init.SDPMid != "0" || init.SDPMLineIndex == nil || *init.SDPMLineIndex != 0 {
		t.Fatalf("unexpected candidate: %#v", init)
	}
}

func TestParse_Rejects(t *testing.T) {
	for name, raw := range map[string]string{
		"unknown field":          `{"type":"peer-left","unexpected":true}`,
		"trailing data":          `{"type":"peer-left"}{}`,
		"unknown type":           `{"type":"hello"}`,
		"peer-ready no flag":     `{"type":"peer-ready","timestamp":1}`,
		"offer wrong sdp type":   `{"type":"offer","offer":{"type":"answer","sdp":"v=0"}}`,
		"offer empty sdp":        `{"type":"offer","offer":{"type":"offer","sdp":""}}`,
		"answer with candidate":  `{"type":"answer","answer":{"type":"answer","sdp":"v=0"},"candidate":{"candidate":"x"}}`,
		"candidate missing":      `{"type":"ice-candidate"}`,
		"error missing message":  `{"type":"error","code":"room_full"}`,
		"peer-joined with offer": `{"type":"peer-joined","offer":{"type":"offer","sdp":"v=0"}}`,
	} {
		if _, err := Parse([]byte(raw)); !errors.Is(err, ErrInvalidMessage) {
			t.Fatalf("%s: err=%v, want ErrInvalidMessage", name, err)
		}
	}
}

func TestMessage_OfferRoundTripsToPion(t *testing.T) {
	msg := Offer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	b, err := msg.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := Parse(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	desc, err := got.Offer.ToPion()
	if err != nil {
		t.Fatalf("ToPion: %v", err)
	}
	if desc.Type != webrtc.SDPTypeOffer || desc.SDP != "v=0" {
		t.Fatalf("unexpected description: %#v", desc)
	}
}

func TestPeerReady_FalseInitiatorIsExplicit(t *testing.T) {
	b, err := PeerReady(false, time.UnixMilli(42)).Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"type":"peer-ready","isInitiator":false,"timestamp":42}` {
		t.Fatalf("unexpected encoding: %s", b)
	}
}

func TestMessageType_ClientOriginated(t *testing.T) {
	for _, typ := range []MessageType{TypePeerReady, TypeOffer, TypeAnswer, TypeICECandidate} {
		if !typ.ClientOriginated() {
			t.Fatalf("%s should be client originated", typ)
		}
	}
	for _, typ := range []MessageType{TypePeerJoined, TypePeerLeft, TypeError} {
		if typ.ClientOriginated() {
			t.Fatalf("%s should be relay originated", typ)
		}
	}
}
