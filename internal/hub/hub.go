// Package hub implements the connection and channel multiplexer that
// admits authenticated clients, dispatches inbound frames to
// registered handlers, and fans outbound frames out to channels.
//
// There is no replay or sequence-number reliability layer here —
// an interactive duel has no use for exactly-once delivery — only
// the auth handshake and handler-dispatch a live session needs.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"duelcore/internal/auth"
	"duelcore/internal/bus"
	"duelcore/internal/limits"
	"duelcore/internal/monitoring"
	"duelcore/internal/playerstore"
)

// HandlerFunc processes one dispatched inbound message. Handler panics
// are recovered by the dispatch loop and turned into an error reply.
type HandlerFunc func(playerID string, data json.RawMessage)

// BattleDisconnectNotifier is the battle coordinator's disconnect
// hook, kept as an interface (rather than a direct import) so hub has
// no compile-time dependency on battle: no component holds a
// back-pointer into another's table, and that applies to packages too.
type BattleDisconnectNotifier interface {
	OnDisconnect(playerID string)
}

type noopNotifier struct{}

func (noopNotifier) OnDisconnect(string) {}

// Hub owns every live Session, keyed by player_id, plus the channel
// membership index both SessionHub operations and BattleCoordinator
// broadcasts are built on.
type Hub struct {
	verifier   auth.Verifier
	store      playerstore.PlayerStore
	limiter    *limits.RateLimiter
	messageBus *bus.Bus
	logger     zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session // player_id -> Session

	channels *channelIndex

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc

	notifier BattleDisconnectNotifier
	nextID   atomic.Int64

	fanout *fanoutPool
}

// New wires a Hub against its collaborators.
func New(verifier auth.Verifier, store playerstore.PlayerStore, limiter *limits.RateLimiter, messageBus *bus.Bus, logger zerolog.Logger) *Hub {
	workers := runtime.GOMAXPROCS(0) * 2
	h := &Hub{
		verifier:   verifier,
		store:      store,
		limiter:    limiter,
		messageBus: messageBus,
		logger:     logger,
		sessions:   make(map[string]*Session),
		channels:   newChannelIndex(),
		handlers:   make(map[string]HandlerFunc),
		notifier:   noopNotifier{},
		fanout:     newFanoutPool(workers, workers*100, logger),
	}
	h.fanout.start(context.Background(), workers)
	if messageBus != nil {
		messageBus.SubscribeBroadcastAll(func(data []byte) {
			h.localBroadcastAllRaw(data, "")
		})
	}
	return h
}

// SetBattleNotifier installs the BattleCoordinator's disconnect hook.
// Called once during wiring in cmd/duelserver.
func (h *Hub) SetBattleNotifier(n BattleDisconnectNotifier) {
	if n == nil {
		n = noopNotifier{}
	}
	h.notifier = n
}

// RegisterHandler installs a typed dispatcher. One handler per type;
// last registration wins.
func (h *Hub) RegisterHandler(msgType string, fn HandlerFunc) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.handlers[msgType] = fn
}

func (h *Hub) handlerFor(msgType string) (HandlerFunc, bool) {
	h.handlersMu.RLock()
	defer h.handlersMu.RUnlock()
	fn, ok := h.handlers[msgType]
	return fn, ok
}

// authRequest is the payload of the first inbound frame the handshake
// expects: {"type":"auth","data":{"token":"..."}}.
type authRequest struct {
	Token string `json:"token"`
}

// Accept performs the auth handshake on a freshly upgraded connection
// and, on success, begins pumping messages for the lifetime of the
// connection. Blocks until the connection closes — callers run it in
// its own goroutine per accepted socket.
func (h *Hub) Accept(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	env, err := readFrame(conn)
	if err != nil {
		writeFrame(conn, errorEnvelope("Invalid JSON"))
		conn.Close()
		return
	}
	if env.Type != "auth" {
		writeFrame(conn, errorEnvelope("expected auth frame"))
		conn.Close()
		return
	}

	var req authRequest
	if err := json.Unmarshal(env.Data, &req); err != nil || req.Token == "" {
		writeFrame(conn, authErrorFrame("invalid", false))
		conn.Close()
		return
	}

	identity, err := h.verifier.VerifyToken(req.Token)
	if err != nil {
		writeFrame(conn, authErrorFrame("invalid", false))
		conn.Close()
		return
	}

	record, err := h.store.Get(identity.PlayerID)
	if err != nil {
		writeFrame(conn, authErrorFrame("invalid", false))
		conn.Close()
		return
	}
	if record.Banned {
		writeFrame(conn, authErrorFrame("banned", true))
		conn.Close()
		return
	}

	sess := newSession(h.nextID.Add(1), record.ID, record.Username, conn)
	h.registerSession(sess)

	ok, _ := marshalEnvelope("auth_ok", map[string]any{
		"player_id": record.ID,
		"username":  record.Username,
	})
	sess.enqueue(ok)

	monitoring.ConnectionsActive.Inc()
	monitoring.ConnectionsTotal.Inc()
	h.broadcastOnlineCount()

	var writeDone = make(chan struct{})
	go func() {
		h.writePump(sess)
		close(writeDone)
	}()
	h.readPump(sess) // blocks until the socket dies
	<-writeDone

	monitoring.ConnectionsActive.Dec()
}

// registerSession installs sess as the live Session for its player_id,
// displacing any prior one. Per the session-displacement design note:
// the outgoing session's teardown skips the disconnect broadcast and
// the BattleCoordinator hook, since the player is still present under
// a fresh connection and neither signal would be true.
func (h *Hub) registerSession(sess *Session) {
	h.mu.Lock()
	prior, existed := h.sessions[sess.playerID]
	h.sessions[sess.playerID] = sess
	h.mu.Unlock()

	if existed {
		h.channels.removeEverywhere(prior.playerID, prior.subscriptions.list())
		h.limiter.RemoveClient(prior.id)
		prior.close()
		h.logger.Info().Str("player_id", sess.playerID).Msg("session displaced by new connection")
	}
}

// Disconnect closes the live Session for playerID (if any), purges its
// channel memberships, invokes the BattleCoordinator's disconnect
// hook, and broadcasts the updated online count.
func (h *Hub) Disconnect(playerID string) {
	h.mu.Lock()
	sess, ok := h.sessions[playerID]
	if ok {
		delete(h.sessions, playerID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	h.channels.removeEverywhere(playerID, sess.subscriptions.list())
	h.limiter.RemoveClient(sess.id)
	sess.close()

	h.notifier.OnDisconnect(playerID)
	h.broadcastOnlineCount()
}

// Subscribe adds playerID's live Session as a member of channel.
// Idempotent; a no-op if the player is offline.
func (h *Hub) Subscribe(playerID, channel string) {
	sess := h.sessionOf(playerID)
	if sess == nil {
		return
	}
	sess.subscriptions.add(channel)
	h.channels.add(channel, sess)
}

// Unsubscribe removes playerID's membership in channel. Idempotent.
func (h *Hub) Unsubscribe(playerID, channel string) {
	sess := h.sessionOf(playerID)
	if sess != nil {
		sess.subscriptions.remove(channel)
	}
	h.channels.remove(channel, playerID)
}

// Send best-effort-delivers one message to playerID's current Session.
// Silent no-op if offline.
func (h *Hub) Send(playerID, msgType string, payload any) {
	sess := h.sessionOf(playerID)
	if sess == nil {
		return
	}
	frame, err := marshalEnvelope(msgType, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msgType).Msg("failed to marshal outbound envelope")
		return
	}
	if !sess.enqueue(frame) {
		monitoring.MessagesDropped.WithLabelValues(msgType).Inc()
	}
}

// Broadcast delivers to every live member of channel except exclude
// (pass "" to exclude no one).
func (h *Hub) Broadcast(channel, msgType string, payload any, exclude string) {
	frame, err := marshalEnvelope(msgType, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msgType).Msg("failed to marshal outbound envelope")
		return
	}
	h.localBroadcastRaw(channel, frame, exclude)
	if h.messageBus != nil {
		h.messageBus.PublishChannel(channel, frame)
	}
}

func (h *Hub) localBroadcastRaw(channel string, frame []byte, exclude string) {
	for _, sess := range h.channels.snapshot(channel) {
		if sess.playerID == exclude {
			continue
		}
		if !sess.enqueue(frame) {
			monitoring.MessagesDropped.WithLabelValues(channel).Inc()
		}
	}
}

// BroadcastAll delivers to every live Session except exclude.
func (h *Hub) BroadcastAll(msgType string, payload any, exclude string) {
	frame, err := marshalEnvelope(msgType, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msgType).Msg("failed to marshal outbound envelope")
		return
	}
	h.localBroadcastAllRaw(frame, exclude)
	if h.messageBus != nil {
		h.messageBus.PublishBroadcastAll(frame)
	}
}

func (h *Hub) localBroadcastAllRaw(frame []byte, exclude string) {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.mu.RUnlock()

	for _, sess := range sessions {
		if sess.playerID == exclude {
			continue
		}
		sess := sess
		h.fanout.submit(func() {
			if !sess.enqueue(frame) {
				monitoring.MessagesDropped.WithLabelValues("broadcast_all").Inc()
			}
		})
	}
}

func (h *Hub) broadcastOnlineCount() {
	h.BroadcastAll("online_count", map[string]int{"count": h.OnlineCount()}, "")
}

func (h *Hub) sessionOf(playerID string) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[playerID]
}

// IsOnline reports whether playerID currently has a live Session.
func (h *Hub) IsOnline(playerID string) bool {
	return h.sessionOf(playerID) != nil
}

// OnlineCount returns the number of live Sessions.
func (h *Hub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// OnlineRoster returns the player_ids of every live Session.
func (h *Hub) OnlineRoster() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		out = append(out, id)
	}
	return out
}

func authErrorFrame(reason string, banned bool) []byte {
	payload := map[string]any{"reason": reason}
	if banned {
		payload["banned"] = true
	}
	b, _ := marshalEnvelope("auth_error", payload)
	return b
}

// dispatch handles one decoded inbound frame on behalf of a session:
// auth frames after handshake are a no-op, unknown types get an error
// reply, and handler panics are recovered and reported rather than
// crashing the read pump.
func (h *Hub) dispatch(sess *Session, env Envelope) {
	if env.Type == "auth" {
		return
	}
	fn, ok := h.handlerFor(env.Type)
	if !ok {
		sess.enqueue(errorEnvelope(fmt.Sprintf("Unknown message type: %s", env.Type)))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Str("player_id", sess.playerID).Str("type", env.Type).Msg("handler panic recovered")
			sess.enqueue(errorEnvelope(fmt.Sprintf("%v", r)))
		}
	}()
	fn(sess.playerID, env.Data)
}
