// Package syncproto defines the JSON messages exchanged over the game
// DataChannel once the peer link is open.
//
// Every message carries an incrementing id. The id is for diagnostics only:
// the channel is unordered and unreliable, so receivers order entity state by
// timestamp, never by id.
package syncproto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
)

type Type string

const (
	TypePaddle Type = "paddle"
	TypeEntity Type = "entity"
	TypeScore  Type = "score"
	TypeEvent  Type = "event"
)

type EventKind string

const (
	EventReady           EventKind = "ready"
	EventPause           EventKind = "pause"
	EventResume          EventKind = "resume"
	EventRematch         EventKind = "rematch"
	EventRematchRequest  EventKind = "rematch_request"
	EventGameOver        EventKind = "game_over"
	EventPlayerLeft      EventKind = "player_left"
	EventFieldDimensions EventKind = "field_dimensions"
)

// Player identifies a paddle. The Host always plays PlayerOne.
type Player int

const (
	PlayerOne Player = 1
	PlayerTwo Player = 2
)

func (p Player) Valid() bool {
	return p == PlayerOne || p == PlayerTwo
}

func (p Player) String() string {
	return fmt.Sprintf("Player %d", int(p))
}

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) finite() bool {
	for _, f := range [...]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Sub returns v-o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Lerp moves v toward o by factor t.
func (v Vec3) Lerp(o Vec3, t float64) Vec3 {
	return Vec3{
		X: v.X + (o.X-v.X)*t,
		Y: v.Y + (o.Y-v.Y)*t,
		Z: v.Z + (o.Z-v.Z)*t,
	}
}

// Len is the Euclidean length of v.
func (v Vec3) Len() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

type PaddleState struct {
	Player   Player `json:"player"`
	Position Vec3   `json:"position"`
	Velocity Vec3   `json:"velocity"`
}

// EntityState is the authoritative ball state. Timestamp is the Host's wall
// clock in Unix milliseconds.
type EntityState struct {
	Position  Vec3  `json:"position"`
	Velocity  Vec3  `json:"velocity"`
	Timestamp int64 `json:"timestamp"`
}

type ScoreUpdate struct {
	ScoreA int `json:"scoreA"`
	ScoreB int `json:"scoreB"`
}

// FieldDimensions are the play-field half-extents per axis. An axis with a
// non-positive extent is not bounds-checked.
type FieldDimensions struct {
	HalfX float64 `json:"halfX"`
	HalfY float64 `json:"halfY"`
	HalfZ float64 `json:"halfZ"`
}

type GameEvent struct {
	Kind EventKind `json:"kind"`

	// Round is the rematch generation for ready/rematch events.
	Round int `json:"round,omitempty"`

	ByPlayer Player           `json:"byPlayer,omitempty"`
	Winner   string           `json:"winner,omitempty"`
	Scores   *ScoreUpdate     `json:"scores,omitempty"`
	Field    *FieldDimensions `json:"field,omitempty"`
}

type Message struct {
	ID   uint64 `json:"id"`
	Type Type   `json:"type"`

	Paddle *PaddleState `json:"paddle,omitempty"`
	Entity *EntityState `json:"entity,omitempty"`
	Score  *ScoreUpdate `json:"score,omitempty"`
	Event  *GameEvent   `json:"event,omitempty"`
}

func Paddle(p PaddleState) Message { return Message{Type: TypePaddle, Paddle: &p} }
func Entity(e EntityState) Message { return Message{Type: TypeEntity, Entity: &e} }
func Score(s ScoreUpdate) Message  { return Message{Type: TypeScore, Score: &s} }
func Event(ev GameEvent) Message   { return Message{Type: TypeEvent, Event: &ev} }

// Parse decodes and validates a single message. Unknown fields and trailing
// data are rejected.
func Parse(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("unexpected trailing data")
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (m Message) Validate() error {
	payloads := 0
	for _, set := range [...]bool{m.Paddle != nil, m.Entity != nil, m.Score != nil, m.Event != nil} {
		if set {
			payloads++
		}
	}
	if payloads != 1 {
		return fmt.Errorf("%s message must carry exactly one payload (got %d)", m.Type, payloads)
	}

	switch m.Type {
	case TypePaddle:
		if m.Paddle == nil {
			return fmt.Errorf("paddle message missing paddle")
		}
		if !m.Paddle.Player.Valid() {
			return fmt.Errorf("paddle message has invalid player %d", m.Paddle.Player)
		}
		if !m.Paddle.Position.finite() || !m.Paddle.Velocity.finite() {
			return fmt.Errorf("paddle message has non-finite vector")
		}
	case TypeEntity:
		if m.Entity == nil {
			return fmt.Errorf("entity message missing entity")
		}
		if m.Entity.Timestamp <= 0 {
			return fmt.Errorf("entity message missing timestamp")
		}
		if !m.Entity.Position.finite() || !m.Entity.Velocity.finite() {
			return fmt.Errorf("entity message has non-finite vector")
		}
	case TypeScore:
		if m.Score == nil {
			return fmt.Errorf("score message missing score")
		}
		if m.Score.ScoreA < 0 || m.Score.ScoreB < 0 {
			return fmt.Errorf("score message has negative score")
		}
	case TypeEvent:
		if m.Event == nil {
			return fmt.Errorf("event message missing event")
		}
		return m.Event.validate()
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

func (ev GameEvent) validate() error {
	if ev.Round < 0 {
		return fmt.Errorf("%s event has negative round", ev.Kind)
	}
	switch ev.Kind {
	case EventReady, EventRematch, EventRematchRequest, EventResume, EventPlayerLeft:
	case EventPause:
		if !ev.ByPlayer.Valid() {
			return fmt.Errorf("pause event missing byPlayer")
		}
	case EventGameOver:
		if ev.Winner == "" {
			return fmt.Errorf("game_over event missing winner")
		}
	case EventFieldDimensions:
		if ev.Field == nil {
			return fmt.Errorf("field_dimensions event missing field")
		}
		if ev.Field.HalfX <= 0 && ev.Field.HalfY <= 0 && ev.Field.HalfZ <= 0 {
			return fmt.Errorf("field_dimensions event has no positive extent")
		}
	default:
		return fmt.Errorf("unsupported event kind %q", ev.Kind)
	}
	return nil
}

// Encoder stamps outgoing messages with increasing ids. It is not safe for
// concurrent use; a peer owns one on its event loop.
type Encoder struct {
	next uint64
}

func (e *Encoder) Encode(m Message) ([]byte, error) {
	e.next++
	m.ID = e.next
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// LastID is the id of the most recently encoded message.
func (e *Encoder) LastID() uint64 {
	return e.next
}
