package hub

import (
	"bufio"
	"encoding/json"
	"net"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"duelcore/internal/monitoring"
)

// readFrame reads exactly one client frame and decodes its envelope.
// Used only for the handshake, before the read pump takes over.
func readFrame(conn net.Conn) (Envelope, error) {
	msg, _, err := wsutil.ReadClientData(conn)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func writeFrame(conn net.Conn, payload []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return wsutil.WriteServerMessage(conn, ws.OpText, payload)
}

// readPump decodes inbound frames for the lifetime of a session,
// dispatching each to its registered handler. Returns when the socket
// errors or closes, and then triggers Disconnect unless the session has
// already been displaced by a newer one for the same player. A frame
// over the session's rate limit gets an error reply and is dropped; the
// loop keeps reading.
//
// Trimmed of the replay/sequence-number machinery a message-queue
// backed transport would need; this is a plain WebSocket read loop.
func (h *Hub) readPump(sess *Session) {
	defer func() {
		if h.sessionOf(sess.playerID) == sess {
			h.Disconnect(sess.playerID)
		}
	}()

	sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		msg, op, err := wsutil.ReadClientData(sess.conn)
		if err != nil {
			return
		}
		sess.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch op {
		case ws.OpClose:
			return
		case ws.OpPing, ws.OpPong:
			continue
		case ws.OpText:
			monitoring.MessagesReceived.Inc()
		default:
			continue
		}

		if !h.limiter.CheckLimit(sess.id) {
			monitoring.RateLimitedMessages.Inc()
			sess.enqueue(errorEnvelope("rate limit exceeded"))
			continue
		}

		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			sess.enqueue(errorEnvelope("Invalid JSON"))
			continue
		}
		h.dispatch(sess, env)
	}
}

// writePump batches queued outbound frames onto the socket and sends
// periodic pings to keep the connection alive.
func (h *Hub) writePump(sess *Session) {
	writer := bufio.NewWriter(sess.conn)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sess.close()
	}()

	for {
		select {
		case frame, ok := <-sess.send:
			if !ok {
				wsutil.WriteServerMessage(sess.conn, ws.OpClose, []byte{})
				return
			}
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(writer, ws.OpText, frame); err != nil {
				return
			}
			monitoring.MessagesSent.Inc()

			n := len(sess.send)
			for i := 0; i < n; i++ {
				frame = <-sess.send
				if err := wsutil.WriteServerMessage(writer, ws.OpText, frame); err != nil {
					return
				}
				monitoring.MessagesSent.Inc()
			}
			if err := writer.Flush(); err != nil {
				return
			}

		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(sess.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
