package relayserver

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PASBarbari/Trascendence-sub000/internal/ratelimit"
	"github.com/PASBarbari/Trascendence-sub000/internal/signaling"
)

const (
	sendBufferSize = 64
	writeWait      = time.Second
)

// peerConn is one client socket. Reads happen on the handler goroutine,
// queued writes on writePump; writeMu serializes the two writers.
type peerConn struct {
	id      string
	roomID  string
	ws      *websocket.Conn
	log     *slog.Logger
	limiter *ratelimit.TokenBucket

	send    chan []byte
	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

func newPeerConn(ws *websocket.Conn, roomID, peerID string, limiter *ratelimit.TokenBucket, log *slog.Logger) *peerConn {
	return &peerConn{
		id:      peerID,
		roomID:  roomID,
		ws:      ws,
		log:     log.With("room_id", roomID, "peer_id", peerID),
		limiter: limiter,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
	}
}

// enqueue never blocks. A peer whose buffer is full is disconnected; its
// partner would otherwise stall behind it.
func (c *peerConn) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn("send buffer full; closing slow peer")
		c.close()
		return false
	}
}

func (c *peerConn) enqueueMessage(msg signaling.Message) bool {
	data, err := msg.Marshal()
	if err != nil {
		c.log.Error("marshal relay message", "type", msg.Type, "err", err)
		return false
	}
	return c.enqueue(data)
}

func (c *peerConn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(messageType, data)
}

func (c *peerConn) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.log.Debug("websocket write failed", "err", err)
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// sendErrorAndClose reports code to the client, then closes the socket with
// a policy-violation frame.
func (c *peerConn) sendErrorAndClose(code, message string) {
	c.writeMu.Lock()
	writeErrorAndClose(c.ws, code, message)
	c.writeMu.Unlock()
	c.close()
}

func writeErrorAndClose(ws *websocket.Conn, code, message string) {
	if data, err := signaling.Error(code, message).Marshal(); err == nil {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.WriteMessage(websocket.TextMessage, data)
	}
	_ = ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code),
		time.Now().Add(writeWait),
	)
	_ = ws.Close()
}

func (c *peerConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
