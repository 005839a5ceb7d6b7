package hub

import (
	"encoding/json"
	"errors"
	"net"
	"testing"

	"github.com/rs/zerolog"

	"duelcore/internal/auth"
	"duelcore/internal/limits"
	"duelcore/internal/playerstore"
)

type fakeStore struct {
	records map[string]*playerstore.PlayerRecord
}

func (s *fakeStore) Get(id string) (*playerstore.PlayerRecord, error) {
	r, ok := s.records[id]
	if !ok {
		return nil, playerstore.ErrNotFound
	}
	return r, nil
}
func (s *fakeStore) FindByUsernameCI(string) (*playerstore.PlayerRecord, error) {
	return nil, playerstore.ErrNotFound
}
func (s *fakeStore) Save(r *playerstore.PlayerRecord) error {
	s.records[r.ID] = r
	return nil
}
func (s *fakeStore) ByRank(playerstore.SortKey, int) ([]playerstore.RankEntry, error) {
	return nil, nil
}

type recordingNotifier struct {
	notified []string
}

func (n *recordingNotifier) OnDisconnect(playerID string) {
	n.notified = append(n.notified, playerID)
}

func newTestHub() *Hub {
	store := &fakeStore{records: map[string]*playerstore.PlayerRecord{
		"p1": {ID: "p1", Username: "Alice"},
	}}
	return New(stubVerifier{}, store, limits.NewRateLimiter(100, 10), nil, zerolog.Nop())
}

// stubVerifier satisfies auth.Verifier without a real signing secret.
// These tests exercise hub internals directly (registerSession,
// dispatch, Broadcast) rather than the Accept handshake, so it is
// never actually called.
type stubVerifier struct{}

func (stubVerifier) VerifyToken(token string) (*auth.Identity, error) {
	return nil, errors.New("not used by these tests")
}

func pipeSession(h *Hub, playerID string) (*Session, net.Conn) {
	server, client := net.Pipe()
	sess := newSession(h.nextID.Add(1), playerID, playerID, server)
	return sess, client
}

func TestRegisterSessionDisplacesWithoutNotifying(t *testing.T) {
	h := newTestHub()
	notifier := &recordingNotifier{}
	h.SetBattleNotifier(notifier)

	s1, c1 := pipeSession(h, "p1")
	defer c1.Close()
	h.registerSession(s1)

	s2, c2 := pipeSession(h, "p1")
	defer c2.Close()
	h.registerSession(s2)

	if !h.IsOnline("p1") {
		t.Fatal("expected p1 online after displacement")
	}
	if h.sessionOf("p1") != s2 {
		t.Fatal("expected the second session to be the live one")
	}
	if len(notifier.notified) != 0 {
		t.Errorf("displacement must not invoke the disconnect notifier, got %v", notifier.notified)
	}
	if !s1.closed.Load() {
		t.Error("displaced session should be closed")
	}
}

func TestDisconnectInvokesNotifierAndClearsChannels(t *testing.T) {
	h := newTestHub()
	notifier := &recordingNotifier{}
	h.SetBattleNotifier(notifier)

	sess, c := pipeSession(h, "p1")
	defer c.Close()
	h.registerSession(sess)
	h.Subscribe("p1", "clan:1")

	h.Disconnect("p1")

	if h.IsOnline("p1") {
		t.Error("p1 should be offline after Disconnect")
	}
	if len(notifier.notified) != 1 || notifier.notified[0] != "p1" {
		t.Errorf("expected disconnect hook called with p1, got %v", notifier.notified)
	}
	if len(h.channels.snapshot("clan:1")) != 0 {
		t.Error("channel membership should be purged on disconnect")
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	h := newTestHub()

	s1, c1 := pipeSession(h, "p1")
	defer c1.Close()
	s2, c2 := pipeSession(h, "p2")
	defer c2.Close()
	h.registerSession(s1)
	h.registerSession(s2)
	h.Subscribe("p1", "battle:x")
	h.Subscribe("p2", "battle:x")

	h.Broadcast("battle:x", "action", map[string]int{"n": 1}, "p1")

	select {
	case frame := <-s1.send:
		t.Fatalf("excluded sender should not receive the broadcast, got %s", frame)
	default:
	}

	select {
	case frame := <-s2.send:
		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatal(err)
		}
		if env.Type != "action" {
			t.Errorf("Type = %q; want action", env.Type)
		}
	default:
		t.Fatal("expected p2 to receive the broadcast")
	}
}

func TestDispatchUnknownTypeRepliesError(t *testing.T) {
	h := newTestHub()
	sess, c := pipeSession(h, "p1")
	defer c.Close()

	h.dispatch(sess, Envelope{Type: "nonsense"})

	frame := <-sess.send
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "error" {
		t.Errorf("Type = %q; want error", env.Type)
	}
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	h := newTestHub()
	h.RegisterHandler("boom", func(string, json.RawMessage) {
		panic("kaboom")
	})
	sess, c := pipeSession(h, "p1")
	defer c.Close()

	h.dispatch(sess, Envelope{Type: "boom"}) // must not panic the test

	frame := <-sess.send
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "error" {
		t.Errorf("Type = %q; want error", env.Type)
	}
}
