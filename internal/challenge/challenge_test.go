package challenge

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"duelcore/internal/battle"
)

type fakePresence struct {
	online map[string]bool
}

func (p *fakePresence) IsOnline(playerID string) bool { return p.online[playerID] }

type fakeNotifier struct {
	sent     []string // "playerID:type"
	payloads map[string]any
}

func (n *fakeNotifier) Send(playerID, msgType string, payload any) {
	n.sent = append(n.sent, playerID+":"+msgType)
	if n.payloads == nil {
		n.payloads = make(map[string]any)
	}
	n.payloads[playerID+":"+msgType] = payload
}

func (n *fakeNotifier) has(want string) bool {
	for _, s := range n.sent {
		if s == want {
			return true
		}
	}
	return false
}

type fakeCreator struct {
	created []string // "p1id:p2id"
}

func (c *fakeCreator) Create(p1, p2 battle.ParticipantSnapshot, mode string) *battle.Battle {
	c.created = append(c.created, p1.PlayerID+":"+p2.PlayerID)
	b := &battle.Battle{ID: "bt1"}
	return b
}

func newTestBroker() (*Broker, *fakePresence, *fakeNotifier, *fakeCreator) {
	presence := &fakePresence{online: map[string]bool{"p1": true, "p2": true}}
	notifier := &fakeNotifier{}
	creator := &fakeCreator{}
	snapshot := func(id string) (battle.ParticipantSnapshot, error) {
		return battle.ParticipantSnapshot{PlayerID: id, Username: id, Trophies: 1000, Rating: 1000, Deck: []string{"1"}}, nil
	}
	return New(presence, notifier, creator, snapshot, zerolog.Nop()), presence, notifier, creator
}

func TestChallengeRequiresTargetOnline(t *testing.T) {
	b, presence, _, _ := newTestBroker()
	presence.online["p2"] = false

	if err := b.Challenge("p1", "Alice", 1000, "p2"); err != ErrTargetOffline {
		t.Fatalf("got %v; want ErrTargetOffline", err)
	}
}

func TestChallengeNotifiesBothSides(t *testing.T) {
	b, _, notifier, _ := newTestBroker()

	if err := b.Challenge("p1", "Alice", 1000, "p2"); err != nil {
		t.Fatal(err)
	}
	if !notifier.has("p2:challenge_received") || !notifier.has("p1:challenge_sent") {
		t.Errorf("got %v", notifier.sent)
	}
}

func TestRespondAcceptCreatesBattle(t *testing.T) {
	b, _, notifier, creator := newTestBroker()
	b.Challenge("p1", "Alice", 1000, "p2")

	b.Respond("p2", "p1", true)

	if len(creator.created) != 1 || creator.created[0] != "p1:p2" {
		t.Fatalf("got created=%v; want one battle p1:p2", creator.created)
	}
	if !notifier.has("p1:challenge_accepted") || !notifier.has("p2:challenge_accepted") {
		t.Errorf("expected challenge_accepted sent to both, got %v", notifier.sent)
	}

	p1Payload, ok := notifier.payloads["p1:challenge_accepted"].(map[string]any)
	if !ok {
		t.Fatalf("p1 challenge_accepted payload is %T, want map[string]any", notifier.payloads["p1:challenge_accepted"])
	}
	if p1Payload["you_are"] != "player1" {
		t.Errorf("p1 you_are = %v; want player1", p1Payload["you_are"])
	}
	if p1Payload["battle_id"] != "bt1" {
		t.Errorf("p1 battle_id = %v; want bt1", p1Payload["battle_id"])
	}
	p2Payload := notifier.payloads["p2:challenge_accepted"].(map[string]any)
	if p2Payload["you_are"] != "player2" {
		t.Errorf("p2 you_are = %v; want player2", p2Payload["you_are"])
	}
}

func TestRespondDeclineNotifiesChallengerOnly(t *testing.T) {
	b, _, notifier, creator := newTestBroker()
	b.Challenge("p1", "Alice", 1000, "p2")

	b.Respond("p2", "p1", false)

	if len(creator.created) != 0 {
		t.Fatalf("decline must not create a battle, got %v", creator.created)
	}
	if !notifier.has("p1:challenge_declined") {
		t.Errorf("expected challenge_declined sent to challenger, got %v", notifier.sent)
	}
}

func TestRespondIgnoresMismatchedTarget(t *testing.T) {
	b, _, notifier, creator := newTestBroker()
	b.Challenge("p1", "Alice", 1000, "p2")

	// p3 didn't receive this challenge; responding must be a no-op.
	b.Respond("p3", "p1", true)

	if len(creator.created) != 0 {
		t.Fatalf("mismatched responder must not create a battle, got %v", creator.created)
	}
	if len(notifier.sent) != 2 { // only the original challenge_sent/challenge_received
		t.Errorf("expected no additional notifications, got %v", notifier.sent)
	}
}

func TestCancelNotifiesBothSides(t *testing.T) {
	b, _, notifier, _ := newTestBroker()
	b.Challenge("p1", "Alice", 1000, "p2")

	b.Cancel("p1")

	if !notifier.has("p1:challenge_cancelled") || !notifier.has("p2:challenge_cancelled") {
		t.Errorf("got %v", notifier.sent)
	}
}

func TestReapExpiresOldChallenges(t *testing.T) {
	b, _, notifier, _ := newTestBroker()
	b.Challenge("p1", "Alice", 1000, "p2")

	b.mu.Lock()
	pc := b.pending["p1"]
	pc.CreatedAt = time.Now().Add(-reapWindow - time.Second)
	b.pending["p1"] = pc
	b.mu.Unlock()

	b.reap()

	if !notifier.has("p1:challenge_expired") {
		t.Errorf("expected challenge_expired, got %v", notifier.sent)
	}
	b.mu.Lock()
	_, stillPending := b.pending["p1"]
	b.mu.Unlock()
	if stillPending {
		t.Error("expired challenge should be removed from pending")
	}
}
