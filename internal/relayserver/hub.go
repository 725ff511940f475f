package relayserver

import (
	"errors"
	"sync"
)

// RoomCapacity is the number of peers a pong room admits.
const RoomCapacity = 2

var errRoomFull = errors.New("room is full")

type hub struct {
	mu    sync.Mutex
	rooms map[string]map[string]*peerConn
}

func newHub() *hub {
	return &hub{rooms: make(map[string]map[string]*peerConn)}
}

// join registers c. A connection already holding c's peer id is returned as
// replaced: a reconnecting peer takes over its own slot instead of counting
// against the capacity.
func (h *hub) join(c *peerConn) (others []*peerConn, replaced *peerConn, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[c.roomID]
	if !ok {
		room = make(map[string]*peerConn, RoomCapacity)
		h.rooms[c.roomID] = room
	}
	replaced = room[c.id]
	if replaced == nil && len(room) >= RoomCapacity {
		return nil, nil, errRoomFull
	}
	room[c.id] = c
	for id, other := range room {
		if id != c.id {
			others = append(others, other)
		}
	}
	return others, replaced, nil
}

// leave removes c if it still owns its slot. ok is false when c was replaced
// by a newer connection for the same peer id.
func (h *hub) leave(c *peerConn) (others []*peerConn, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[c.roomID]
	if room[c.id] != c {
		return nil, false
	}
	delete(room, c.id)
	if len(room) == 0 {
		delete(h.rooms, c.roomID)
	}
	for _, other := range room {
		others = append(others, other)
	}
	return others, true
}

func (h *hub) others(c *peerConn) []*peerConn {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []*peerConn
	for id, other := range h.rooms[c.roomID] {
		if id != c.id {
			out = append(out, other)
		}
	}
	return out
}

// all returns every registered connection.
func (h *hub) all() []*peerConn {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []*peerConn
	for _, room := range h.rooms {
		for _, c := range room {
			out = append(out, c)
		}
	}
	return out
}

// stats reports the number of open rooms and connections.
func (h *hub) stats() (rooms, conns int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range h.rooms {
		conns += len(room)
	}
	return len(h.rooms), conns
}

func (h *hub) occupancy(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[roomID])
}
