package matchmaking

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"duelcore/internal/battle"
	"duelcore/internal/playerstore"
)

// stubBroadcaster is the minimal battle.Broadcaster double needed to
// drive a Coordinator end-to-end from a matchmaking pair, mirroring
// the in-process fake-collaborator integration style used for the
// numbered end-to-end scenarios.
type stubBroadcaster struct {
	sent       []string
	broadcasts []string
}

func (s *stubBroadcaster) Subscribe(string, string)   {}
func (s *stubBroadcaster) Unsubscribe(string, string) {}
func (s *stubBroadcaster) Broadcast(channel, msgType string, _ any, _ string) {
	s.broadcasts = append(s.broadcasts, channel+":"+msgType)
}
func (s *stubBroadcaster) Send(playerID, msgType string, _ any) {
	s.sent = append(s.sent, playerID+":"+msgType)
}

func newIntegrationStore(ids ...string) *playerstore.InMemoryStore {
	store := playerstore.NewInMemoryStore()
	for _, id := range ids {
		store.Seed(&playerstore.PlayerRecord{ID: id, Username: id, Trophies: 500, Rating: 1200})
	}
	return store
}

// TestHappyMatchProducesBattleStart verifies that two players queueing
// with compatible trophies get paired on the next tick, and the
// resulting battle reaches PhaseActive once both sides ready up.
func TestHappyMatchProducesBattleStart(t *testing.T) {
	store := newIntegrationStore("a", "b")
	broadcaster := &stubBroadcaster{}
	coordinator := battle.New(broadcaster, store, 8000, zerolog.Nop())

	var createdBattle *battle.Battle
	mm := New(func(pair Pair) {
		p1, err := store.Get(pair.P1.PlayerID)
		require.NoError(t, err)
		p2, err := store.Get(pair.P2.PlayerID)
		require.NoError(t, err)
		createdBattle = coordinator.Create(
			battle.ParticipantSnapshot{PlayerID: p1.ID, Username: p1.Username, Trophies: p1.Trophies, Rating: p1.Rating, Deck: pair.P1.Deck},
			battle.ParticipantSnapshot{PlayerID: p2.ID, Username: p2.Username, Trophies: p2.Trophies, Rating: p2.Rating, Deck: pair.P2.Deck},
			pair.Mode,
		)
	}, zerolog.Nop())

	deck := []string{"1", "2", "3"}
	require.NoError(t, mm.JoinQueue("a", "normal", 500, 1200, deck))
	require.NoError(t, mm.JoinQueue("b", "normal", 520, 1190, deck))

	mm.tick()

	require.NotNil(t, createdBattle, "expected the tick to pair a and b into a battle")
	require.Contains(t, broadcaster.sent, "a:match_found")
	require.Contains(t, broadcaster.sent, "b:match_found")
	require.Equal(t, 0, mm.Size("normal"), "both entries should leave the queue once paired")

	coordinator.Ready(createdBattle.ID, "a")
	coordinator.Ready(createdBattle.ID, "b")
	require.Equal(t, battle.PhaseActive, createdBattle.Phase)
	require.Contains(t, broadcaster.broadcasts, "battle:"+createdBattle.ID+":battle_start")
}

// TestToleranceWideningEventuallyMatches verifies that a pair with an
// 800-trophy gap is ineligible at the base tolerance, but becomes
// eligible once one side's simulated wait widens its tolerance past
// the gap.
func TestToleranceWideningEventuallyMatches(t *testing.T) {
	var pairs []Pair
	mm := New(func(p Pair) { pairs = append(pairs, p) }, zerolog.Nop())

	deck := []string{"1"}
	require.NoError(t, mm.JoinQueue("lowTrophy", "normal", 100, 100, deck))
	require.NoError(t, mm.JoinQueue("highTrophy", "normal", 900, 900, deck))

	mm.tick()
	require.Empty(t, pairs, "an 800-trophy gap must be ineligible at base tolerance")

	// Simulate both entries having waited 80s, well past the 5s
	// widening window: tolerance = min(1000, 100+50*floor(80/5)) = 900.
	mm.mu.Lock()
	entries := mm.queues["normal"]
	for i := range entries {
		entries[i].JoinedAt = time.Now().Add(-80 * time.Second)
	}
	mm.queues["normal"] = entries
	mm.mu.Unlock()

	mm.tick()
	require.Len(t, pairs, 1, "widened tolerance should admit the pair on the next tick")
}
