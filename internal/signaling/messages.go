package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/webrtc/v4"
)

type MessageType string

const (
	TypePeerReady    MessageType = "peer-ready"
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice-candidate"

	// Relay notices; clients never send these.
	TypePeerJoined MessageType = "peer-joined"
	TypePeerLeft   MessageType = "peer-left"
	TypeError      MessageType = "error"
)

// ClientOriginated reports whether peers may send this type to the relay.
func (t MessageType) ClientOriginated() bool {
	switch t {
	case TypePeerReady, TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	default:
		return false
	}
}

// Error codes the relay reports. The first two are fatal for the session.
const (
	ErrorCodeRoomFull     = "room_full"
	ErrorCodeUnauthorized = "unauthorized"
	ErrorCodeBadMessage   = "bad_message"
	ErrorCodeRateLimited  = "rate_limited"
)

var ErrInvalidMessage = errors.New("signaling: invalid message")

type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func sessionDescriptionFromPion(desc webrtc.SessionDescription) *SessionDescription {
	return &SessionDescription{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (s SessionDescription) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func candidateFromPion(init webrtc.ICECandidateInit) *Candidate {
	return &Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// Message is the single JSON envelope used in both directions. Exactly the
// fields belonging to Type may be set.
type Message struct {
	Type MessageType `json:"type"`
	// From is stamped by the relay on forwarded messages.
	From string `json:"from,omitempty"`

	IsInitiator *bool `json:"isInitiator,omitempty"`
	Timestamp   int64 `json:"timestamp,omitempty"`

	Offer     *SessionDescription `json:"offer,omitempty"`
	Answer    *SessionDescription `json:"answer,omitempty"`
	Candidate *Candidate          `json:"candidate,omitempty"`

	PeerID string `json:"peerId,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func PeerReady(isInitiator bool, now time.Time) Message {
	return Message{Type: TypePeerReady, IsInitiator: &isInitiator, Timestamp: now.UnixMilli()}
}

func Offer(desc webrtc.SessionDescription) Message {
	return Message{Type: TypeOffer, Offer: sessionDescriptionFromPion(desc)}
}

func Answer(desc webrtc.SessionDescription) Message {
	return Message{Type: TypeAnswer, Answer: sessionDescriptionFromPion(desc)}
}

func ICECandidate(init webrtc.ICECandidateInit) Message {
	return Message{Type: TypeICECandidate, Candidate: candidateFromPion(init)}
}

func PeerJoined(peerID string) Message {
	return Message{Type: TypePeerJoined, PeerID: peerID}
}

func PeerLeft(peerID string) Message {
	return Message{Type: TypePeerLeft, PeerID: peerID}
}

func Error(code, message string) Message {
	return Message{Type: TypeError, Code: code, Message: message}
}

// Initiator is false when the field is absent.
func (m Message) Initiator() bool {
	return m.IsInitiator != nil && *m.IsInitiator
}

// Parse decodes one message, rejecting unknown fields, trailing data, and
// field combinations that do not belong to the type.
func Parse(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("%w: unexpected trailing data", ErrInvalidMessage)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (m Message) Marshal() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

func (m Message) Validate() error {
	if err := m.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

func (m Message) validate() error {
	hasPeerReady := m.IsInitiator != nil || m.Timestamp != 0
	hasError := m.Code != "" || m.Message != ""

	switch m.Type {
	case TypePeerReady:
		if m.IsInitiator == nil {
			return fmt.Errorf("peer-ready message missing isInitiator")
		}
		if m.Offer != nil || m.Answer != nil || m.Candidate != nil || m.PeerID != "" || hasError {
			return fmt.Errorf("peer-ready message has unexpected fields")
		}
	case TypeOffer:
		if m.Offer == nil {
			return fmt.Errorf("offer message missing offer")
		}
		if m.Offer.Type != "offer" || m.Offer.SDP == "" {
			return fmt.Errorf("offer message has sdp type %q", m.Offer.Type)
		}
		if hasPeerReady || m.Answer != nil || m.Candidate != nil || m.PeerID != "" || hasError {
			return fmt.Errorf("offer message has unexpected fields")
		}
	case TypeAnswer:
		if m.Answer == nil {
			return fmt.Errorf("answer message missing answer")
		}
		if m.Answer.Type != "answer" || m.Answer.SDP == "" {
			return fmt.Errorf("answer message has sdp type %q", m.Answer.Type)
		}
		if hasPeerReady || m.Offer != nil || m.Candidate != nil || m.PeerID != "" || hasError {
			return fmt.Errorf("answer message has unexpected fields")
		}
	case TypeICECandidate:
		if m.Candidate == nil {
			return fmt.Errorf("ice-candidate message missing candidate")
		}
		if hasPeerReady || m.Offer != nil || m.Answer != nil || m.PeerID != "" || hasError {
			return fmt.Errorf("ice-candidate message has unexpected fields")
		}
	case TypePeerJoined, TypePeerLeft:
		if hasPeerReady || m.Offer != nil || m.Answer != nil || m.Candidate != nil || hasError {
			return fmt.Errorf("%s message has unexpected fields", m.Type)
		}
	case TypeError:
		if m.Code == "" || m.Message == "" {
			return fmt.Errorf("error message missing code/message")
		}
		if hasPeerReady || m.Offer != nil || m.Answer != nil || m.Candidate != nil || m.PeerID != "" {
			return fmt.Errorf("error message has unexpected fields")
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}
