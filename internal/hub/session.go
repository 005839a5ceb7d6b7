package hub

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// SubscriptionSet is a thread-safe set of channel names a single
// Session belongs to, so disconnect can unwind every membership
// without scanning the whole channel index.
type SubscriptionSet struct {
	mu       sync.RWMutex
	channels map[string]struct{}
}

func newSubscriptionSet() *SubscriptionSet {
	return &SubscriptionSet{channels: make(map[string]struct{})}
}

func (s *SubscriptionSet) add(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[channel] = struct{}{}
}

func (s *SubscriptionSet) remove(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, channel)
}

func (s *SubscriptionSet) has(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.channels[channel]
	return ok
}

func (s *SubscriptionSet) list() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	return out
}

// Session is one authenticated client: a player_id, a duplex
// byte-framed channel, and a mutable set of subscribed channels.
type Session struct {
	id       int64 // opaque key for the per-connection rate limiter, not the player's identity
	playerID string
	username string
	conn     net.Conn

	send      chan []byte
	closeOnce sync.Once
	closed    atomic.Bool

	subscriptions *SubscriptionSet
	connectedAt   time.Time
}

func newSession(id int64, playerID, username string, conn net.Conn) *Session {
	return &Session{
		id:            id,
		playerID:      playerID,
		username:      username,
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: newSubscriptionSet(),
		connectedAt:   time.Now(),
	}
}

// enqueue attempts a non-blocking delivery. The hub never blocks on a
// slow peer beyond a single send attempt; a full buffer means the
// message is dropped, not retried.
func (sess *Session) enqueue(payload []byte) bool {
	if sess.closed.Load() {
		return false
	}
	select {
	case sess.send <- payload:
		return true
	default:
		return false
	}
}

func (sess *Session) close() {
	sess.closeOnce.Do(func() {
		sess.closed.Store(true)
		close(sess.send)
		if sess.conn != nil {
			sess.conn.Close()
		}
	})
}
